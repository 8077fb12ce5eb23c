package session

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perfectmpc/memcore/store"
)

func newTestRegistry(t *testing.T, opts Options) (*Registry, *store.MemoryDocs) {
	t.Helper()
	docs := store.NewMemoryDocs()
	return NewRegistry(store.NewMemoryKV(), docs, opts), docs
}

func TestCreate(t *testing.T) {
	ctx := context.Background()

	t.Run("generates id when omitted", func(t *testing.T) {
		reg, _ := newTestRegistry(t, Options{})

		id, err := reg.Create(ctx, "")
		require.NoError(t, err)
		assert.NotEmpty(t, id)

		s, err := reg.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, id, s.SessionID)
		assert.True(t, s.IsActive())
		assert.Equal(t, 0, s.ContextSize)
	})

	t.Run("explicit id", func(t *testing.T) {
		reg, _ := newTestRegistry(t, Options{})

		id, err := reg.Create(ctx, "sess-1")
		require.NoError(t, err)
		assert.Equal(t, "sess-1", id)
	})

	t.Run("duplicate create is idempotent", func(t *testing.T) {
		reg, docs := newTestRegistry(t, Options{})

		_, err := reg.Create(ctx, "dup")
		require.NoError(t, err)

		id, err := reg.Create(ctx, "dup")
		require.NoError(t, err)
		assert.Equal(t, "dup", id)

		// Never two active records for one id.
		n := docs.Count("sessions", store.Document{"session_id": "dup", "state": "active"})
		assert.Equal(t, 1, n)
	})
}

func TestGetReadThrough(t *testing.T) {
	ctx := context.Background()

	t.Run("missing session", func(t *testing.T) {
		reg, _ := newTestRegistry(t, Options{})

		_, err := reg.Get(ctx, "absent")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("fast-store hit on cold local cache", func(t *testing.T) {
		mr := miniredis.RunT(t)
		kv, err := store.NewRedisKV(store.RedisOptions{URL: fmt.Sprintf("redis://%s", mr.Addr())})
		require.NoError(t, err)
		t.Cleanup(func() { _ = kv.Close() })
		docs := store.NewMemoryDocs()

		warm := NewRegistry(kv, docs, Options{})
		_, err = warm.Create(ctx, "shared")
		require.NoError(t, err)

		// A second registry over the same stores has a cold local cache
		// and must find the session in Redis.
		cold := NewRegistry(kv, docs, Options{})
		s, err := cold.Get(ctx, "shared")
		require.NoError(t, err)
		assert.Equal(t, "shared", s.SessionID)
	})

	t.Run("durable hit promotes into fast store", func(t *testing.T) {
		kv := store.NewMemoryKV()
		docs := store.NewMemoryDocs()
		reg := NewRegistry(kv, docs, Options{})

		_, err := reg.Create(ctx, "promote")
		require.NoError(t, err)

		// Evict the warm tiers so only the durable record remains.
		require.NoError(t, kv.Delete(ctx, "session:promote"))
		cold := NewRegistry(kv, docs, Options{})

		s, err := cold.Get(ctx, "promote")
		require.NoError(t, err)
		assert.Equal(t, "promote", s.SessionID)

		ok, err := kv.Exists(ctx, "session:promote")
		require.NoError(t, err)
		assert.True(t, ok, "durable hit should restore the fast-store copy")
	})

	t.Run("get refreshes last_accessed in the durable tier", func(t *testing.T) {
		reg, docs := newTestRegistry(t, Options{})

		_, err := reg.Create(ctx, "touched")
		require.NoError(t, err)

		before, err := docs.FindOne(ctx, "sessions", store.Document{"session_id": "touched"})
		require.NoError(t, err)

		time.Sleep(5 * time.Millisecond)
		_, err = reg.Get(ctx, "touched")
		require.NoError(t, err)

		after, err := docs.FindOne(ctx, "sessions", store.Document{"session_id": "touched"})
		require.NoError(t, err)
		assert.True(t, after["last_accessed"].(time.Time).After(before["last_accessed"].(time.Time)))
	})

	t.Run("deleted session is not resurrected", func(t *testing.T) {
		reg, _ := newTestRegistry(t, Options{})

		_, err := reg.Create(ctx, "gone")
		require.NoError(t, err)
		_, err = reg.Delete(ctx, "gone")
		require.NoError(t, err)

		_, err = reg.Get(ctx, "gone")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestUpdateContext(t *testing.T) {
	ctx := context.Background()

	t.Run("size invariant holds", func(t *testing.T) {
		reg, _ := newTestRegistry(t, Options{})
		_, err := reg.Create(ctx, "s1")
		require.NoError(t, err)

		require.NoError(t, reg.UpdateContext(ctx, "s1", "hello world", nil))

		s, err := reg.Get(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, "hello world", s.Context)
		assert.Equal(t, len(s.Context), s.ContextSize)
	})

	t.Run("hard truncation keeps the trailing bytes", func(t *testing.T) {
		reg, _ := newTestRegistry(t, Options{
			MaxContextSize: 10000,
			AutoSummarize:  false,
		})
		_, err := reg.Create(ctx, "s2")
		require.NoError(t, err)

		input := strings.Repeat("a", 5000) + strings.Repeat("x", 15000)
		require.NoError(t, reg.UpdateContext(ctx, "s2", input, nil))

		s, err := reg.Get(ctx, "s2")
		require.NoError(t, err)
		assert.Equal(t, 10000, s.ContextSize)
		assert.Equal(t, input[len(input)-10000:], s.Context)
		assert.Equal(t, len(s.Context), s.ContextSize)
	})

	t.Run("auto-summarize keeps marker plus trailing bytes", func(t *testing.T) {
		reg, _ := newTestRegistry(t, Options{
			MaxContextSize:   1000,
			AutoSummarize:    true,
			SummaryThreshold: 800,
		})
		_, err := reg.Create(ctx, "s3")
		require.NoError(t, err)

		input := strings.Repeat("b", 5000)
		require.NoError(t, reg.UpdateContext(ctx, "s3", input, nil))

		s, err := reg.Get(ctx, "s3")
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(s.Context, summaryMarker))
		assert.Equal(t, input[len(input)-800:], strings.TrimPrefix(s.Context, summaryMarker))
		assert.Equal(t, len(s.Context), s.ContextSize)
	})

	t.Run("metadata merges across updates", func(t *testing.T) {
		reg, _ := newTestRegistry(t, Options{})
		_, err := reg.Create(ctx, "s4")
		require.NoError(t, err)

		require.NoError(t, reg.UpdateContext(ctx, "s4", "one", map[string]any{"lang": "go", "step": 1}))
		require.NoError(t, reg.UpdateContext(ctx, "s4", "two", map[string]any{"step": 2}))

		s, err := reg.Get(ctx, "s4")
		require.NoError(t, err)
		assert.Equal(t, "go", s.Metadata["lang"])
		assert.Equal(t, 2, s.Metadata["step"])
	})

	t.Run("missing session", func(t *testing.T) {
		reg, _ := newTestRegistry(t, Options{})
		err := reg.UpdateContext(ctx, "nope", "text", nil)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestHistory(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t, Options{})

	_, err := reg.Create(ctx, "h1")
	require.NoError(t, err)

	for i := 1; i <= 3; i++ {
		require.NoError(t, reg.UpdateContext(ctx, "h1", fmt.Sprintf("revision %d", i), nil))
		time.Sleep(2 * time.Millisecond)
	}

	entries, err := reg.History(ctx, "h1", 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	// Most recent first.
	assert.Equal(t, "revision 3", entries[0].Context)
	assert.Equal(t, "revision 1", entries[2].Context)
	for _, e := range entries {
		assert.Equal(t, "h1", e.SessionID)
		assert.Equal(t, len(e.Context), e.ContextSize)
	}

	limited, err := reg.History(ctx, "h1", 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()

	t.Run("soft delete keeps the durable record", func(t *testing.T) {
		reg, docs := newTestRegistry(t, Options{})
		_, err := reg.Create(ctx, "d1")
		require.NoError(t, err)

		existed, err := reg.Delete(ctx, "d1")
		require.NoError(t, err)
		assert.True(t, existed)

		doc, err := docs.FindOne(ctx, "sessions", store.Document{"session_id": "d1"})
		require.NoError(t, err)
		assert.Equal(t, "deleted", doc["state"])
		_, hasDeletedAt := doc["deleted_at"].(time.Time)
		assert.True(t, hasDeletedAt)
	})

	t.Run("delete of absent session reports false", func(t *testing.T) {
		reg, _ := newTestRegistry(t, Options{})
		existed, err := reg.Delete(ctx, "never-created")
		require.NoError(t, err)
		assert.False(t, existed)
	})

	t.Run("recreate after delete starts fresh", func(t *testing.T) {
		reg, docs := newTestRegistry(t, Options{})
		_, err := reg.Create(ctx, "d2")
		require.NoError(t, err)
		require.NoError(t, reg.UpdateContext(ctx, "d2", "old life", nil))
		_, err = reg.Delete(ctx, "d2")
		require.NoError(t, err)

		_, err = reg.Create(ctx, "d2")
		require.NoError(t, err)

		s, err := reg.Get(ctx, "d2")
		require.NoError(t, err)
		assert.Empty(t, s.Context)

		// The audit trail retains the soft-deleted record alongside the new one.
		assert.Equal(t, 2, docs.Count("sessions", store.Document{"session_id": "d2"}))
	})
}

func TestActiveSessions(t *testing.T) {
	ctx := context.Background()

	t.Run("lists only active", func(t *testing.T) {
		reg, _ := newTestRegistry(t, Options{})
		for _, id := range []string{"a1", "a2", "a3"} {
			_, err := reg.Create(ctx, id)
			require.NoError(t, err)
		}
		_, err := reg.Delete(ctx, "a2")
		require.NoError(t, err)

		ids, err := reg.ActiveSessions(ctx)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"a1", "a3"}, ids)
	})

	t.Run("bounded by max sessions", func(t *testing.T) {
		reg, _ := newTestRegistry(t, Options{MaxSessions: 2})
		for i := 0; i < 5; i++ {
			_, err := reg.Create(ctx, fmt.Sprintf("b%d", i))
			require.NoError(t, err)
		}

		ids, err := reg.ActiveSessions(ctx)
		require.NoError(t, err)
		assert.Len(t, ids, 2)
	})
}

func TestSessionClone(t *testing.T) {
	now := time.Now()
	s := &Session{
		SessionID:    "c1",
		CreatedAt:    now,
		LastAccessed: now,
		Metadata:     map[string]any{"k": "v"},
		State:        StateActive,
	}

	clone := s.Clone()
	clone.Metadata["k"] = "mutated"
	clone.Context = "changed"

	assert.Equal(t, "v", s.Metadata["k"])
	assert.Empty(t, s.Context)
}
