package memcore

import (
	"log/slog"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/perfectmpc/memcore/config"
	"github.com/perfectmpc/memcore/layers"
	"github.com/perfectmpc/memcore/store"
)

// Option configures the Engine.
type Option func(*engineConfig)

// engineConfig holds configuration for the Engine instance.
type engineConfig struct {
	configPath    string
	cfg           *config.Config
	logger        *slog.Logger
	tracer        trace.Tracer
	meterProvider metric.MeterProvider
	kv            store.KeyValueStore
	docs          store.DocumentStore
	estimator     layers.Estimator
}

// WithConfigFile sets the YAML configuration file path for the engine.
// The file carries session lifecycle settings, context size limits, and
// store endpoints.
func WithConfigFile(path string) Option {
	return func(c *engineConfig) {
		c.configPath = path
	}
}

// WithConfig sets an already-loaded configuration, bypassing file
// loading. Takes precedence over WithConfigFile.
func WithConfig(cfg *config.Config) Option {
	return func(c *engineConfig) {
		c.cfg = cfg
	}
}

// WithLogger sets a custom logger for the engine.
// If not provided, slog.Default() is used.
func WithLogger(logger *slog.Logger) Option {
	return func(c *engineConfig) {
		c.logger = logger
	}
}

// WithTracer sets an OpenTelemetry tracer for distributed tracing.
// Every public engine operation runs inside a span.
func WithTracer(tracer trace.Tracer) Option {
	return func(c *engineConfig) {
		c.tracer = tracer
	}
}

// WithMeterProvider sets the OpenTelemetry meter provider used for the
// engine's operation counters. Defaults to the global provider.
func WithMeterProvider(provider metric.MeterProvider) Option {
	return func(c *engineConfig) {
		c.meterProvider = provider
	}
}

// WithKeyValueStore injects the fast-store tier, overriding whatever the
// configuration selects. Useful for tests and for callers that manage
// their own Redis or etcd clients.
func WithKeyValueStore(kv store.KeyValueStore) Option {
	return func(c *engineConfig) {
		c.kv = kv
	}
}

// WithDocumentStore injects the durable tier, overriding whatever the
// configuration selects.
func WithDocumentStore(docs store.DocumentStore) Option {
	return func(c *engineConfig) {
		c.docs = docs
	}
}

// WithTokenEstimator sets the token estimator used for retrieval
// budgets. Defaults to the four-bytes-per-token heuristic.
func WithTokenEstimator(est layers.Estimator) Option {
	return func(c *engineConfig) {
		c.estimator = est
	}
}
