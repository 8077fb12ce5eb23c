package memcore

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/perfectmpc/memcore/config"
	"github.com/perfectmpc/memcore/layers"
	"github.com/perfectmpc/memcore/session"
	"github.com/perfectmpc/memcore/store"
)

// Engine is the session and layered-context memory engine. It wires the
// three-tier session registry, the seven-layer context store, the
// retrieval engine, the lifecycle manager, and the expiry sweeper behind
// one facade.
//
// Create an Engine with New, call Start before use, and Shutdown when
// done:
//
//	engine, err := memcore.New(ctx, memcore.WithConfigFile("memcore.yaml"))
//	if err != nil {
//		return err
//	}
//	if err := engine.Start(ctx); err != nil {
//		return err
//	}
//	defer engine.Shutdown(context.Background())
type Engine struct {
	cfg    *config.Config
	logger *slog.Logger
	tracer trace.Tracer

	kv   store.KeyValueStore
	docs store.DocumentStore

	sessions  *session.Registry
	contexts  *layers.Store
	retriever *layers.Retriever
	lifecycle *layers.Lifecycle
	sweeper   *session.Sweeper

	ops             metric.Int64Counter
	sessionsCreated metric.Int64Counter
	sessionsExpired metric.Int64Counter
	contextsAdded   metric.Int64Counter
	retrievalTokens metric.Int64Counter
}

// New creates an Engine from the given options. Stores not injected via
// WithKeyValueStore / WithDocumentStore are constructed from the
// configuration: a Redis URL selects the Redis fast store, etcd
// endpoints select etcd, a Mongo URI selects MongoDB, and in-process
// stores fill whatever remains. The context bounds store connection
// handshakes.
func New(ctx context.Context, opts ...Option) (*Engine, error) {
	ec := &engineConfig{}
	for _, opt := range opts {
		opt(ec)
	}

	cfg := ec.cfg
	if cfg == nil && ec.configPath != "" {
		loaded, err := config.Load(ec.configPath)
		if err != nil {
			return nil, NewValidationError("Engine.New", err)
		}
		cfg = loaded
	}
	if cfg == nil {
		cfg = config.Default()
	}

	logger := ec.logger
	if logger == nil {
		logger = slog.Default()
	}

	tracer := ec.tracer
	if tracer == nil {
		tracer = otel.Tracer("memcore")
	}

	meterProvider := ec.meterProvider
	if meterProvider == nil {
		meterProvider = otel.GetMeterProvider()
	}
	meter := meterProvider.Meter("memcore")
	ops, err := meter.Int64Counter("memcore.operations",
		metric.WithDescription("Engine operations by name and outcome"))
	if err != nil {
		return nil, NewInternalError("Engine.New", err)
	}
	sessionsCreated, err := meter.Int64Counter("memcore.sessions.created",
		metric.WithDescription("Sessions created"))
	if err != nil {
		return nil, NewInternalError("Engine.New", err)
	}
	sessionsExpired, err := meter.Int64Counter("memcore.sessions.expired",
		metric.WithDescription("Sessions expired by the sweeper"))
	if err != nil {
		return nil, NewInternalError("Engine.New", err)
	}
	contextsAdded, err := meter.Int64Counter("memcore.contexts.added",
		metric.WithDescription("Context entries added, by layer"))
	if err != nil {
		return nil, NewInternalError("Engine.New", err)
	}
	retrievalTokens, err := meter.Int64Counter("memcore.retrieval.tokens",
		metric.WithDescription("Estimated tokens served by layered retrieval"))
	if err != nil {
		return nil, NewInternalError("Engine.New", err)
	}

	kv, err := buildKV(ec, cfg)
	if err != nil {
		return nil, NewStorageError("Engine.New", err)
	}

	docs := ec.docs
	if docs == nil {
		docs, err = buildDocs(ctx, cfg)
		if err != nil {
			CloseWithLog(kv, logger, "fast store")
			return nil, NewStorageError("Engine.New", err)
		}
	}

	estimator := ec.estimator
	if estimator == nil {
		estimator = layers.HeuristicEstimator{}
	}

	registry := session.NewRegistry(kv, docs, session.Options{
		Timeout:          cfg.Session.GetTimeout(),
		MaxContextSize:   cfg.Context.MaxSize,
		AutoSummarize:    cfg.Context.AutoSummarize,
		SummaryThreshold: cfg.Context.SummaryThreshold,
		MaxSessions:      cfg.Session.MaxSessions,
		HistoryLimit:     cfg.Session.HistoryLimit,
		Logger:           logger,
	})
	contexts := layers.NewStore(docs, layers.Options{
		Estimator: estimator,
		Logger:    logger,
	})
	retriever := layers.NewRetriever(contexts, logger)
	lifecycle := layers.NewLifecycle(contexts, retriever, docs, layers.LifecycleOptions{
		Logger: logger,
	})

	return &Engine{
		cfg:       cfg,
		logger:    logger,
		tracer:    tracer,
		kv:        kv,
		docs:      docs,
		sessions:  registry,
		contexts:  contexts,
		retriever: retriever,
		lifecycle: lifecycle,
		sweeper:   session.NewSweeper(registry, cfg.Session.GetSweepInterval(), logger),

		ops:             ops,
		sessionsCreated: sessionsCreated,
		sessionsExpired: sessionsExpired,
		contextsAdded:   contextsAdded,
		retrievalTokens: retrievalTokens,
	}, nil
}

func buildKV(ec *engineConfig, cfg *config.Config) (store.KeyValueStore, error) {
	if ec.kv != nil {
		return ec.kv, nil
	}
	if cfg.Redis.URL != "" {
		return store.NewRedisKV(store.RedisOptions{URL: cfg.Redis.URL})
	}
	if len(cfg.Etcd.Endpoints) > 0 {
		return store.NewEtcdKV(store.EtcdOptions{Endpoints: cfg.Etcd.Endpoints})
	}
	return store.NewMemoryKV(), nil
}

func buildDocs(ctx context.Context, cfg *config.Config) (store.DocumentStore, error) {
	if cfg.Mongo.URI != "" {
		return store.NewMongoDocs(ctx, store.MongoOptions{
			URI:      cfg.Mongo.URI,
			Database: cfg.Mongo.Database,
		})
	}
	return store.NewMemoryDocs(), nil
}

// Start loads the context index from the durable store and starts the
// background expiry sweeper. Call once after New.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.contexts.Load(ctx); err != nil {
		return NewStorageError("Engine.Start", err)
	}
	e.sweeper.Start(ctx)
	e.logger.Info("memory engine started",
		"session_timeout", e.cfg.Session.GetTimeout(),
		"sweep_interval", e.cfg.Session.GetSweepInterval())
	return nil
}

// Shutdown stops the sweeper and closes the underlying stores. The
// sweeper is stopped first so no sweep races the store teardown.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.sweeper.Stop()
	CloseWithLog(e.kv, e.logger, "fast store")
	closeDocsWithLog(ctx, e.docs, e.logger, "durable store")
	e.logger.Info("memory engine stopped")
	return nil
}

// CreateSession registers a new session. An empty id generates a fresh
// UUID; creating an existing active id is idempotent and returns the
// existing id.
func (e *Engine) CreateSession(ctx context.Context, id string) (string, error) {
	ctx, span := e.tracer.Start(ctx, "Engine.CreateSession")
	defer span.End()

	sessionID, err := e.sessions.Create(ctx, id)
	e.record(ctx, span, "CreateSession", err)
	if err != nil {
		return "", wrapError("Engine.CreateSession", err)
	}
	e.sessionsCreated.Add(ctx, 1)
	span.SetAttributes(attribute.String("session_id", sessionID))
	return sessionID, nil
}

// GetSession retrieves a session, reading through the storage tiers and
// refreshing its last-accessed time.
func (e *Engine) GetSession(ctx context.Context, id string) (*session.Session, error) {
	ctx, span := e.tracer.Start(ctx, "Engine.GetSession",
		trace.WithAttributes(attribute.String("session_id", id)))
	defer span.End()

	s, err := e.sessions.Get(ctx, id)
	e.record(ctx, span, "GetSession", err)
	if err != nil {
		return nil, wrapError("Engine.GetSession", err)
	}
	return s, nil
}

// UpdateContext replaces a session's context, normalizing oversized
// input and appending the previous context to the session's history.
func (e *Engine) UpdateContext(ctx context.Context, id, text string, metadata map[string]any) error {
	ctx, span := e.tracer.Start(ctx, "Engine.UpdateContext",
		trace.WithAttributes(
			attribute.String("session_id", id),
			attribute.Int("context_bytes", len(text))))
	defer span.End()

	err := e.sessions.UpdateContext(ctx, id, text, metadata)
	e.record(ctx, span, "UpdateContext", err)
	return wrapError("Engine.UpdateContext", err)
}

// GetContext returns a session's current context string.
func (e *Engine) GetContext(ctx context.Context, id string) (string, error) {
	ctx, span := e.tracer.Start(ctx, "Engine.GetContext",
		trace.WithAttributes(attribute.String("session_id", id)))
	defer span.End()

	text, err := e.sessions.Context(ctx, id)
	e.record(ctx, span, "GetContext", err)
	if err != nil {
		return "", wrapError("Engine.GetContext", err)
	}
	return text, nil
}

// GetHistory returns a session's context-history records, newest first.
// A non-positive limit selects the configured default page size.
func (e *Engine) GetHistory(ctx context.Context, id string, limit int) ([]session.HistoryEntry, error) {
	ctx, span := e.tracer.Start(ctx, "Engine.GetHistory",
		trace.WithAttributes(attribute.String("session_id", id)))
	defer span.End()

	entries, err := e.sessions.History(ctx, id, limit)
	e.record(ctx, span, "GetHistory", err)
	if err != nil {
		return nil, wrapError("Engine.GetHistory", err)
	}
	return entries, nil
}

// DeleteSession soft-deletes a session, purging the fast tiers and
// marking the durable record. Returns whether the session existed.
func (e *Engine) DeleteSession(ctx context.Context, id string) (bool, error) {
	ctx, span := e.tracer.Start(ctx, "Engine.DeleteSession",
		trace.WithAttributes(attribute.String("session_id", id)))
	defer span.End()

	existed, err := e.sessions.Delete(ctx, id)
	e.record(ctx, span, "DeleteSession", err)
	if err != nil {
		return false, wrapError("Engine.DeleteSession", err)
	}
	return existed, nil
}

// GetActiveSessions lists the ids of active sessions, bounded by the
// configured maximum.
func (e *Engine) GetActiveSessions(ctx context.Context) ([]string, error) {
	ctx, span := e.tracer.Start(ctx, "Engine.GetActiveSessions")
	defer span.End()

	ids, err := e.sessions.ActiveSessions(ctx)
	e.record(ctx, span, "GetActiveSessions", err)
	if err != nil {
		return nil, wrapError("Engine.GetActiveSessions", err)
	}
	span.SetAttributes(attribute.Int("count", len(ids)))
	return ids, nil
}

// AddContext creates a context entry in the given layer for a session.
func (e *Engine) AddContext(ctx context.Context, sessionID, content string, layer layers.Layer, priority layers.Priority, metadata map[string]any) (string, error) {
	ctx, span := e.tracer.Start(ctx, "Engine.AddContext",
		trace.WithAttributes(
			attribute.String("session_id", sessionID),
			attribute.String("layer", layer.String())))
	defer span.End()

	id, err := e.contexts.Add(ctx, sessionID, content, layer, priority, metadata)
	e.record(ctx, span, "AddContext", err)
	if err != nil {
		return "", wrapError("Engine.AddContext", err)
	}
	e.contextsAdded.Add(ctx, 1, metric.WithAttributes(
		attribute.String("layer", layer.String())))
	return id, nil
}

// GetLayerContext returns the token-budgeted selection for one layer of
// a session. A non-positive budget selects the configured default.
func (e *Engine) GetLayerContext(ctx context.Context, sessionID string, layer layers.Layer, maxTokens int) ([]layers.Entry, error) {
	ctx, span := e.tracer.Start(ctx, "Engine.GetLayerContext",
		trace.WithAttributes(
			attribute.String("session_id", sessionID),
			attribute.String("layer", layer.String())))
	defer span.End()

	if maxTokens <= 0 {
		maxTokens = e.cfg.Context.MaxTokens
	}
	entries, err := e.contexts.LayerContext(ctx, sessionID, layer, maxTokens)
	e.record(ctx, span, "GetLayerContext", err)
	if err != nil {
		return nil, wrapError("Engine.GetLayerContext", err)
	}
	return entries, nil
}

// GetLayeredContext assembles a token-budgeted view across the layer
// hierarchy. A nil include means all seven layers; a non-positive
// budget selects the configured default.
func (e *Engine) GetLayeredContext(ctx context.Context, sessionID string, include []layers.Layer, maxTokens int) (*layers.Result, error) {
	ctx, span := e.tracer.Start(ctx, "Engine.GetLayeredContext",
		trace.WithAttributes(attribute.String("session_id", sessionID)))
	defer span.End()

	if maxTokens <= 0 {
		maxTokens = e.cfg.Context.MaxTokens
	}
	result, err := e.retriever.LayeredContext(ctx, sessionID, include, maxTokens)
	e.record(ctx, span, "GetLayeredContext", err)
	if err != nil {
		return nil, wrapError("Engine.GetLayeredContext", err)
	}
	e.retrievalTokens.Add(ctx, int64(result.TotalTokens))
	span.SetAttributes(
		attribute.Int("total_tokens", result.TotalTokens),
		attribute.Float64("coherence_score", result.CoherenceScore))
	return result, nil
}

// MergeContexts combines existing context entries into one new entry at
// the target layer, skipping ids that no longer resolve.
func (e *Engine) MergeContexts(ctx context.Context, sessionID string, contextIDs []string, target layers.Layer) (string, error) {
	ctx, span := e.tracer.Start(ctx, "Engine.MergeContexts",
		trace.WithAttributes(
			attribute.String("session_id", sessionID),
			attribute.Int("inputs", len(contextIDs))))
	defer span.End()

	id, err := e.lifecycle.Merge(ctx, sessionID, contextIDs, target)
	e.record(ctx, span, "MergeContexts", err)
	if err != nil {
		return "", wrapError("Engine.MergeContexts", err)
	}
	return id, nil
}

// SwitchContext moves a session's focus to an existing context entry,
// writing an audit record on every attempt.
func (e *Engine) SwitchContext(ctx context.Context, sessionID, newContextID string, preserveImmediate bool) (*layers.SwitchResult, error) {
	ctx, span := e.tracer.Start(ctx, "Engine.SwitchContext",
		trace.WithAttributes(
			attribute.String("session_id", sessionID),
			attribute.String("new_context_id", newContextID)))
	defer span.End()

	result, err := e.lifecycle.Switch(ctx, sessionID, newContextID, preserveImmediate)
	e.record(ctx, span, "SwitchContext", err)
	if err != nil {
		return nil, wrapError("Engine.SwitchContext", err)
	}
	return result, nil
}

// AnalyzeContextPatterns aggregates a session's context usage patterns.
func (e *Engine) AnalyzeContextPatterns(ctx context.Context, sessionID string) (*layers.PatternStats, error) {
	ctx, span := e.tracer.Start(ctx, "Engine.AnalyzeContextPatterns",
		trace.WithAttributes(attribute.String("session_id", sessionID)))
	defer span.End()

	stats, err := e.lifecycle.AnalyzePatterns(ctx, sessionID)
	e.record(ctx, span, "AnalyzeContextPatterns", err)
	if err != nil {
		return nil, wrapError("Engine.AnalyzeContextPatterns", err)
	}
	return stats, nil
}

// SweepOnce runs one synchronous expiry sweep and returns the number of
// sessions expired. The background sweeper does this on a timer; this
// entry point exists for operational tooling.
func (e *Engine) SweepOnce(ctx context.Context) (int, error) {
	ctx, span := e.tracer.Start(ctx, "Engine.SweepOnce")
	defer span.End()

	n, err := e.sweeper.SweepOnce(ctx)
	e.record(ctx, span, "SweepOnce", err)
	if err != nil {
		return 0, wrapError("Engine.SweepOnce", err)
	}
	e.sessionsExpired.Add(ctx, int64(n))
	span.SetAttributes(attribute.Int("expired", n))
	return n, nil
}

// Config returns the engine's effective configuration.
func (e *Engine) Config() *config.Config {
	return e.cfg
}

func (e *Engine) record(ctx context.Context, span trace.Span, op string, err error) {
	e.ops.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", op),
		attribute.Bool("success", err == nil)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, fmt.Sprintf("%s failed", op))
	}
}
