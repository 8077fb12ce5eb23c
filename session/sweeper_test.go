package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perfectmpc/memcore/store"
)

func TestSweepOnce(t *testing.T) {
	ctx := context.Background()

	t.Run("expires only idle sessions", func(t *testing.T) {
		reg, docs := newTestRegistry(t, Options{Timeout: 50 * time.Millisecond})
		sweeper := NewSweeper(reg, time.Minute, nil)

		_, err := reg.Create(ctx, "stale")
		require.NoError(t, err)

		time.Sleep(80 * time.Millisecond)

		_, err = reg.Create(ctx, "fresh")
		require.NoError(t, err)

		n, err := sweeper.SweepOnce(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		_, err = reg.Get(ctx, "stale")
		assert.ErrorIs(t, err, ErrNotFound)

		s, err := reg.Get(ctx, "fresh")
		require.NoError(t, err)
		assert.True(t, s.IsActive())

		// Expiry is a soft delete.
		doc, err := docs.FindOne(ctx, "sessions", store.Document{"session_id": "stale"})
		require.NoError(t, err)
		assert.Equal(t, "deleted", doc["state"])
	})

	t.Run("never deletes within the timeout", func(t *testing.T) {
		reg, _ := newTestRegistry(t, Options{Timeout: time.Hour})
		sweeper := NewSweeper(reg, time.Minute, nil)

		_, err := reg.Create(ctx, "young")
		require.NoError(t, err)

		n, err := sweeper.SweepOnce(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)

		_, err = reg.Get(ctx, "young")
		require.NoError(t, err)
	})

	t.Run("recent access resets the clock", func(t *testing.T) {
		reg, _ := newTestRegistry(t, Options{Timeout: 60 * time.Millisecond})
		sweeper := NewSweeper(reg, time.Minute, nil)

		_, err := reg.Create(ctx, "busy")
		require.NoError(t, err)

		// Keep the session warm past its original deadline.
		time.Sleep(40 * time.Millisecond)
		_, err = reg.Get(ctx, "busy")
		require.NoError(t, err)
		time.Sleep(40 * time.Millisecond)

		n, err := sweeper.SweepOnce(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

func TestSweeperLoop(t *testing.T) {
	reg, docs := newTestRegistry(t, Options{Timeout: 30 * time.Millisecond})
	sweeper := NewSweeper(reg, 20*time.Millisecond, nil)

	ctx := context.Background()
	_, err := reg.Create(ctx, "loop-victim")
	require.NoError(t, err)

	sweeper.Start(ctx)
	defer sweeper.Stop()

	// Poll the durable record directly; a Get would refresh last_accessed
	// and keep the session alive.
	require.Eventually(t, func() bool {
		doc, err := docs.FindOne(ctx, "sessions", store.Document{"session_id": "loop-victim"})
		return err == nil && doc["state"] == "deleted"
	}, time.Second, 10*time.Millisecond, "sweeper loop should expire the idle session")
}

func TestSweeperStop(t *testing.T) {
	reg, _ := newTestRegistry(t, Options{})
	sweeper := NewSweeper(reg, 10*time.Millisecond, nil)

	sweeper.Start(context.Background())
	sweeper.Stop()

	// Stop is idempotent and safe to call again.
	sweeper.Stop()
}
