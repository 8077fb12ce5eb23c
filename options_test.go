package memcore

import (
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/perfectmpc/memcore/config"
	"github.com/perfectmpc/memcore/layers"
	"github.com/perfectmpc/memcore/store"
)

func TestOptions(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	tracer := noop.NewTracerProvider().Tracer("test")
	cfg := config.Default()
	kv := store.NewMemoryKV()
	docs := store.NewMemoryDocs()
	est := layers.HeuristicEstimator{}

	ec := &engineConfig{}
	for _, opt := range []Option{
		WithConfigFile("/etc/memcore.yaml"),
		WithConfig(cfg),
		WithLogger(logger),
		WithTracer(tracer),
		WithKeyValueStore(kv),
		WithDocumentStore(docs),
		WithTokenEstimator(est),
	} {
		opt(ec)
	}

	assert.Equal(t, "/etc/memcore.yaml", ec.configPath)
	assert.Same(t, cfg, ec.cfg)
	assert.Same(t, logger, ec.logger)
	assert.Equal(t, tracer, ec.tracer)
	assert.Same(t, kv, ec.kv)
	assert.Same(t, docs, ec.docs)
	assert.Equal(t, est, ec.estimator)
}
