package memcore

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/perfectmpc/memcore/config"
	"github.com/perfectmpc/memcore/layers"
	"github.com/perfectmpc/memcore/session"
	"github.com/perfectmpc/memcore/store"
)

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	ctx := context.Background()

	opts = append([]Option{
		WithKeyValueStore(store.NewMemoryKV()),
		WithDocumentStore(store.NewMemoryDocs()),
	}, opts...)

	engine, err := New(ctx, opts...)
	require.NoError(t, err)
	require.NoError(t, engine.Start(ctx))
	t.Cleanup(func() {
		require.NoError(t, engine.Shutdown(context.Background()))
	})
	return engine
}

func TestEngineSessionLifecycle(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t)

	id, err := engine.CreateSession(ctx, "")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	require.NoError(t, engine.UpdateContext(ctx, id, "first draft", map[string]any{"topic": "parser"}))
	require.NoError(t, engine.UpdateContext(ctx, id, "second draft", nil))

	text, err := engine.GetContext(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "second draft", text)

	s, err := engine.GetSession(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, len("second draft"), s.ContextSize)
	assert.Equal(t, "parser", s.Metadata["topic"])

	history, err := engine.GetHistory(ctx, id, 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "second draft", history[0].Context, "newest first")

	ids, err := engine.GetActiveSessions(ctx)
	require.NoError(t, err)
	assert.Contains(t, ids, id)

	existed, err := engine.DeleteSession(ctx, id)
	require.NoError(t, err)
	assert.True(t, existed)

	_, err = engine.GetSession(ctx, id)
	assert.ErrorIs(t, err, session.ErrNotFound)
	assert.ErrorIs(t, err, &Error{Kind: KindNotFound})
}

func TestEngineLayeredContext(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t)

	sid, err := engine.CreateSession(ctx, "layered")
	require.NoError(t, err)

	_, err = engine.AddContext(ctx, sid, "hello", layers.LayerImmediate, layers.PriorityHigh, nil)
	require.NoError(t, err)
	_, err = engine.AddContext(ctx, sid, "project brief", layers.LayerProject, layers.PriorityMedium, nil)
	require.NoError(t, err)

	entries, err := engine.GetLayerContext(ctx, sid, layers.LayerImmediate, 1000)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "hello", entries[0].Content)

	result, err := engine.GetLayeredContext(ctx, sid, nil, 0)
	require.NoError(t, err)
	assert.Len(t, result.Layers, 2)
	assert.InDelta(t, 2.0/7.0, result.CoherenceScore, 1e-9)

	// The configured default budget applies when none is given.
	assert.LessOrEqual(t, result.TotalTokens, engine.Config().Context.MaxTokens)
}

func TestEngineLifecycleOperations(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t)

	sid, err := engine.CreateSession(ctx, "lifecycle")
	require.NoError(t, err)

	idA, err := engine.AddContext(ctx, sid, "alpha", layers.LayerImmediate, layers.PriorityMedium, nil)
	require.NoError(t, err)
	idB, err := engine.AddContext(ctx, sid, "beta", layers.LayerSession, layers.PriorityMedium, nil)
	require.NoError(t, err)

	mergedID, err := engine.MergeContexts(ctx, sid, []string{idA, "stale-id", idB}, layers.LayerProject)
	require.NoError(t, err)

	res, err := engine.SwitchContext(ctx, sid, mergedID, true)
	require.NoError(t, err)
	assert.Equal(t, mergedID, res.NewContextID)
	assert.True(t, res.PreservedImmediate)

	_, err = engine.SwitchContext(ctx, sid, "missing", true)
	assert.ErrorIs(t, err, layers.ErrNotFound)

	stats, err := engine.AnalyzeContextPatterns(ctx, sid)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalContexts)
	assert.InDelta(t, 3.0/7.0, stats.LayerDiversity, 1e-9)
}

func TestEngineValidation(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t)

	sid, err := engine.CreateSession(ctx, "validation")
	require.NoError(t, err)

	_, err = engine.AddContext(ctx, sid, "x", layers.Layer(0), layers.PriorityMedium, nil)
	assert.ErrorIs(t, err, layers.ErrInvalidLayer)
	assert.ErrorIs(t, err, &Error{Kind: KindValidation})

	_, err = engine.MergeContexts(ctx, sid, []string{"gone"}, layers.LayerProject)
	assert.ErrorIs(t, err, &Error{Kind: KindValidation})
}

func TestEngineContextNormalization(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t, WithConfig(&config.Config{
		Session: config.SessionConfig{Timeout: "1h", SweepInterval: "5m"},
		Context: config.ContextConfig{MaxSize: 100, SummaryThreshold: 80},
	}))

	sid, err := engine.CreateSession(ctx, "")
	require.NoError(t, err)

	require.NoError(t, engine.UpdateContext(ctx, sid, strings.Repeat("z", 500), nil))

	s, err := engine.GetSession(ctx, sid)
	require.NoError(t, err)
	assert.Equal(t, 100, s.ContextSize)
	assert.Equal(t, len(s.Context), s.ContextSize)
}

func TestEngineSweep(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t, WithConfig(&config.Config{
		Session: config.SessionConfig{Timeout: "30ms", SweepInterval: "1h"},
	}))

	sid, err := engine.CreateSession(ctx, "doomed")
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)

	n, err := engine.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = engine.GetSession(ctx, sid)
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestEngineTracing(t *testing.T) {
	ctx := context.Background()

	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() {
		_ = provider.Shutdown(context.Background())
	})

	engine := newTestEngine(t, WithTracer(provider.Tracer("memcore-test")))

	sid, err := engine.CreateSession(ctx, "traced")
	require.NoError(t, err)
	_, err = engine.GetSession(ctx, sid)
	require.NoError(t, err)

	spans := recorder.Ended()
	names := make([]string, len(spans))
	for i, s := range spans {
		names[i] = s.Name()
	}
	assert.Contains(t, names, "Engine.CreateSession")
	assert.Contains(t, names, "Engine.GetSession")
}

func TestEngineConfigFile(t *testing.T) {
	ctx := context.Background()

	_, err := New(ctx, WithConfigFile("/nonexistent/memcore.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, &Error{Kind: KindValidation})
}
