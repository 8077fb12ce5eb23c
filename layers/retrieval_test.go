package layers

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRetriever(t *testing.T) (*Retriever, *Store) {
	t.Helper()
	s, _ := newTestStore(t)
	return NewRetriever(s, nil), s
}

func TestLayeredContext(t *testing.T) {
	ctx := context.Background()

	t.Run("assembles all populated layers", func(t *testing.T) {
		r, s := newTestRetriever(t)

		_, err := s.Add(ctx, "s1", "now", LayerImmediate, PriorityHigh, nil)
		require.NoError(t, err)
		_, err = s.Add(ctx, "s1", "project notes", LayerProject, PriorityMedium, nil)
		require.NoError(t, err)

		res, err := r.LayeredContext(ctx, "s1", nil, 0)
		require.NoError(t, err)
		assert.Equal(t, "s1", res.SessionID)
		require.Len(t, res.Layers, 2)
		assert.Equal(t, "now", res.Layers["IMMEDIATE"][0].Content)
		assert.Equal(t, "project notes", res.Layers["PROJECT"][0].Content)
		assert.Equal(t, 1.0, res.Weights["IMMEDIATE"])
		assert.Equal(t, 0.6, res.Weights["PROJECT"])
		assert.InDelta(t, 2.0/7.0, res.CoherenceScore, 1e-9)
		assert.False(t, res.Timestamp.IsZero())
	})

	t.Run("visits layers in ascending order regardless of include ordering", func(t *testing.T) {
		r, s := newTestRetriever(t)

		// 20 tokens in each of two layers, budget for only one.
		_, err := s.Add(ctx, "s1", strings.Repeat("i", 80), LayerImmediate, PriorityMedium, nil)
		require.NoError(t, err)
		_, err = s.Add(ctx, "s1", strings.Repeat("m", 80), LayerMeta, PriorityMedium, nil)
		require.NoError(t, err)

		res, err := r.LayeredContext(ctx, "s1", []Layer{LayerMeta, LayerImmediate}, 20)
		require.NoError(t, err)
		require.Len(t, res.Layers, 1)
		assert.Contains(t, res.Layers, "IMMEDIATE")
		assert.Equal(t, 20, res.TotalTokens)
	})

	t.Run("remaining budget flows to later layers", func(t *testing.T) {
		r, s := newTestRetriever(t)

		_, err := s.Add(ctx, "s1", strings.Repeat("i", 40), LayerImmediate, PriorityMedium, nil)
		require.NoError(t, err)
		_, err = s.Add(ctx, "s1", strings.Repeat("s", 40), LayerSession, PriorityMedium, nil)
		require.NoError(t, err)
		_, err = s.Add(ctx, "s1", strings.Repeat("p", 40), LayerProject, PriorityMedium, nil)
		require.NoError(t, err)

		// 10 tokens each; budget admits the first two layers only.
		res, err := r.LayeredContext(ctx, "s1", nil, 25)
		require.NoError(t, err)
		assert.Contains(t, res.Layers, "IMMEDIATE")
		assert.Contains(t, res.Layers, "SESSION")
		assert.NotContains(t, res.Layers, "PROJECT")
		assert.Equal(t, 20, res.TotalTokens)
	})

	t.Run("include filter excludes other layers", func(t *testing.T) {
		r, s := newTestRetriever(t)

		_, err := s.Add(ctx, "s1", "immediate", LayerImmediate, PriorityMedium, nil)
		require.NoError(t, err)
		_, err = s.Add(ctx, "s1", "domain", LayerDomain, PriorityMedium, nil)
		require.NoError(t, err)

		res, err := r.LayeredContext(ctx, "s1", []Layer{LayerDomain}, 1000)
		require.NoError(t, err)
		require.Len(t, res.Layers, 1)
		assert.Contains(t, res.Layers, "DOMAIN")
	})

	t.Run("empty session yields zero coherence", func(t *testing.T) {
		r, _ := newTestRetriever(t)

		res, err := r.LayeredContext(ctx, "ghost", nil, 1000)
		require.NoError(t, err)
		assert.Empty(t, res.Layers)
		assert.Zero(t, res.TotalTokens)
		assert.Zero(t, res.CoherenceScore)
	})

	t.Run("coherence stays within bounds", func(t *testing.T) {
		r, s := newTestRetriever(t)

		for _, layer := range AllLayers() {
			_, err := s.Add(ctx, "s1", "x", layer, PriorityMedium, nil)
			require.NoError(t, err)
		}

		res, err := r.LayeredContext(ctx, "s1", nil, 1000)
		require.NoError(t, err)
		assert.Equal(t, 1.0, res.CoherenceScore)
	})

	t.Run("rejects invalid include layer", func(t *testing.T) {
		r, _ := newTestRetriever(t)

		_, err := r.LayeredContext(ctx, "s1", []Layer{Layer(9)}, 1000)
		assert.ErrorIs(t, err, ErrInvalidLayer)
	})
}
