package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/perfectmpc/memcore/store"
)

// summaryMarker prefixes a context that was summarized on write because
// it exceeded the configured maximum size.
const summaryMarker = "...[context summarized]...\n"

// Options configures a Registry.
type Options struct {
	// Timeout is how long an idle session stays alive; it is also the
	// fast-store TTL for cached session records. Default: 1h.
	Timeout time.Duration

	// MaxContextSize is the maximum context length in bytes. Oversized
	// writes are truncated or summarized, never rejected. Default: 10000.
	MaxContextSize int

	// AutoSummarize selects summarization (marker plus the trailing
	// SummaryThreshold bytes) over hard truncation for oversized writes.
	AutoSummarize bool

	// SummaryThreshold is the number of trailing bytes kept when
	// summarizing. Default: 8000.
	SummaryThreshold int

	// MaxSessions bounds ActiveSessions listings. Default: 1000.
	MaxSessions int

	// HistoryLimit is the default History page size. Default: 50.
	HistoryLimit int

	// KeyPrefix namespaces fast-store keys. Default: "session:".
	KeyPrefix string

	// SessionCollection is the durable sessions collection. Default: "sessions".
	SessionCollection string

	// HistoryCollection is the durable context-history collection.
	// Default: "context_history".
	HistoryCollection string

	// Logger receives structured operational logs. Defaults to slog.Default().
	Logger *slog.Logger
}

func (o *Options) applyDefaults() {
	if o.Timeout <= 0 {
		o.Timeout = time.Hour
	}
	if o.MaxContextSize <= 0 {
		o.MaxContextSize = 10000
	}
	if o.SummaryThreshold <= 0 {
		o.SummaryThreshold = 8000
	}
	if o.MaxSessions <= 0 {
		o.MaxSessions = 1000
	}
	if o.HistoryLimit <= 0 {
		o.HistoryLimit = 50
	}
	if o.KeyPrefix == "" {
		o.KeyPrefix = "session:"
	}
	if o.SessionCollection == "" {
		o.SessionCollection = "sessions"
	}
	if o.HistoryCollection == "" {
		o.HistoryCollection = "context_history"
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Registry owns Session records across the three storage tiers: a
// process-local map, the KeyValueStore warm tier, and the DocumentStore
// system of record. Reads promote records into faster tiers; writes go
// through all tiers.
//
// The local map is mutex-guarded with copy-on-read semantics, so lookups
// and inserts are safe under concurrency. Note that the registry takes
// no per-session lock: two concurrent UpdateContext calls for the same
// session id may interleave across tiers and leave either write as the
// final state. Callers that need serialized writes per session must
// provide their own ordering.
type Registry struct {
	kv   store.KeyValueStore
	docs store.DocumentStore
	opts Options

	mu    sync.RWMutex
	local map[string]*Session
}

// NewRegistry creates a session registry over the given stores.
func NewRegistry(kv store.KeyValueStore, docs store.DocumentStore, opts Options) *Registry {
	opts.applyDefaults()
	return &Registry{
		kv:    kv,
		docs:  docs,
		opts:  opts,
		local: make(map[string]*Session),
	}
}

// Create registers a new session. An empty id generates a fresh UUID.
// Creating an id that already has an active session is idempotent: the
// existing id is returned with a warning rather than an error, so
// duplicate create calls are harmless.
func (r *Registry) Create(ctx context.Context, id string) (string, error) {
	if id == "" {
		id = uuid.NewString()
	}

	exists, err := r.exists(ctx, id)
	if err != nil {
		return "", fmt.Errorf("create session %s: %w", id, err)
	}
	if exists {
		r.opts.Logger.Warn("session already exists", "session_id", id)
		return id, nil
	}

	now := time.Now().UTC()
	s := &Session{
		SessionID:    id,
		CreatedAt:    now,
		LastAccessed: now,
		Metadata:     map[string]any{},
		State:        StateActive,
	}

	if err := r.writeKV(ctx, s); err != nil {
		return "", fmt.Errorf("create session %s: %w", id, err)
	}
	if err := r.docs.InsertOne(ctx, r.opts.SessionCollection, s.doc()); err != nil {
		return "", fmt.Errorf("create session %s: %w", id, err)
	}
	r.putLocal(s)

	r.opts.Logger.Info("created session", "session_id", id)
	return id, nil
}

// Get retrieves a session, reading through local cache, fast store and
// durable store in that order. A hit in a slower tier is promoted into
// the faster tiers with a renewed TTL, and every successful Get updates
// last_accessed in all tiers. Returns ErrNotFound if no active session
// exists.
func (r *Registry) Get(ctx context.Context, id string) (*Session, error) {
	r.mu.RLock()
	s, ok := r.local[id]
	if ok {
		s = s.Clone()
	}
	r.mu.RUnlock()
	if ok {
		return r.touch(ctx, s)
	}

	raw, err := r.kv.Get(ctx, r.key(id))
	switch {
	case err == nil:
		cached := &Session{}
		if jsonErr := json.Unmarshal([]byte(raw), cached); jsonErr != nil {
			// A corrupt cache entry is a miss; the durable tier rebuilds it.
			r.opts.Logger.Warn("discarding malformed cached session",
				"session_id", id, "error", jsonErr)
		} else {
			r.putLocal(cached)
			return r.touch(ctx, cached)
		}
	case !errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}

	doc, err := r.docs.FindOne(ctx, r.opts.SessionCollection, store.Document{
		"session_id": id,
		"state":      string(StateActive),
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}

	s = fromDoc(doc)
	if err := r.writeKV(ctx, s); err != nil {
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}
	r.putLocal(s)
	return r.touch(ctx, s)
}

// UpdateContext replaces the session's working context, normalizing
// oversized input so that writes are total over all string inputs: when
// the text exceeds MaxContextSize it is either summarized (marker plus
// the trailing SummaryThreshold bytes) or hard-truncated to the trailing
// MaxContextSize bytes. Every update appends an immutable history record
// before writing the session through all tiers.
func (r *Registry) UpdateContext(ctx context.Context, id, text string, metadata map[string]any) error {
	s, err := r.Get(ctx, id)
	if err != nil {
		return err
	}

	text = r.normalize(text)
	now := time.Now().UTC()

	s.Context = text
	s.ContextSize = len(text)
	s.LastAccessed = now
	if metadata != nil {
		if s.Metadata == nil {
			s.Metadata = make(map[string]any, len(metadata))
		}
		for k, v := range metadata {
			s.Metadata[k] = v
		}
	}

	history := store.Document{
		"session_id":   id,
		"context":      text,
		"context_size": len(text),
		"metadata":     metadata,
		"timestamp":    now,
	}
	if err := r.docs.InsertOne(ctx, r.opts.HistoryCollection, history); err != nil {
		return fmt.Errorf("update context for %s: %w", id, err)
	}

	r.putLocal(s)
	if err := r.writeKV(ctx, s); err != nil {
		return fmt.Errorf("update context for %s: %w", id, err)
	}
	if _, err := r.docs.UpdateOne(ctx, r.opts.SessionCollection,
		store.Document{"session_id": id, "state": string(StateActive)},
		store.Document{
			"context":       s.Context,
			"context_size":  s.ContextSize,
			"last_accessed": s.LastAccessed,
			"metadata":      s.Metadata,
		}); err != nil {
		return fmt.Errorf("update context for %s: %w", id, err)
	}

	r.opts.Logger.Debug("updated session context", "session_id", id, "size", s.ContextSize)
	return nil
}

// Context returns the session's current working context text.
func (r *Registry) Context(ctx context.Context, id string) (string, error) {
	s, err := r.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return s.Context, nil
}

// History returns the session's context-change records, most recent
// first. A non-positive limit applies the configured default.
func (r *Registry) History(ctx context.Context, id string, limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = r.opts.HistoryLimit
	}

	docs, err := r.docs.FindMany(ctx, r.opts.HistoryCollection,
		store.Document{"session_id": id},
		&store.FindOptions{
			Limit: int64(limit),
			Sort:  &store.Sort{Field: "timestamp", Desc: true},
		})
	if err != nil {
		return nil, fmt.Errorf("history for %s: %w", id, err)
	}

	entries := make([]HistoryEntry, 0, len(docs))
	for _, d := range docs {
		entries = append(entries, historyFromDoc(d))
	}
	return entries, nil
}

// Delete soft-deletes a session: the local and fast-store copies are
// purged, the durable record is tagged deleted with a timestamp, and the
// call reports whether any copy existed. Delete is idempotent, which is
// what makes the expiry sweep safe to overlap with foreground traffic.
func (r *Registry) Delete(ctx context.Context, id string) (bool, error) {
	existed := false

	r.mu.Lock()
	if _, ok := r.local[id]; ok {
		delete(r.local, id)
		existed = true
	}
	r.mu.Unlock()

	switch err := r.kv.Delete(ctx, r.key(id)); {
	case err == nil:
		existed = true
	case !errors.Is(err, store.ErrNotFound):
		return false, fmt.Errorf("delete session %s: %w", id, err)
	}

	now := time.Now().UTC()
	matched, err := r.docs.UpdateOne(ctx, r.opts.SessionCollection,
		store.Document{"session_id": id, "state": string(StateActive)},
		store.Document{"state": string(StateDeleted), "deleted_at": now})
	if err != nil {
		return false, fmt.Errorf("delete session %s: %w", id, err)
	}
	if matched {
		existed = true
	}

	if existed {
		r.opts.Logger.Info("deleted session", "session_id", id)
	}
	return existed, nil
}

// ActiveSessions lists the ids of all active sessions, bounded by the
// configured maximum.
func (r *Registry) ActiveSessions(ctx context.Context) ([]string, error) {
	docs, err := r.docs.FindMany(ctx, r.opts.SessionCollection,
		store.Document{"state": string(StateActive)},
		&store.FindOptions{Limit: int64(r.opts.MaxSessions)})
	if err != nil {
		return nil, fmt.Errorf("list active sessions: %w", err)
	}

	ids := make([]string, 0, len(docs))
	for _, d := range docs {
		if id, ok := d["session_id"].(string); ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// exists reports whether an active session exists in any tier.
func (r *Registry) exists(ctx context.Context, id string) (bool, error) {
	r.mu.RLock()
	_, ok := r.local[id]
	r.mu.RUnlock()
	if ok {
		return true, nil
	}

	ok, err := r.kv.Exists(ctx, r.key(id))
	if err != nil {
		return false, err
	}
	if ok {
		return true, nil
	}

	_, err = r.docs.FindOne(ctx, r.opts.SessionCollection, store.Document{
		"session_id": id,
		"state":      string(StateActive),
	})
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// touch updates last_accessed in every tier holding a copy. The caller
// passes an owned clone; touch returns it with the fresh timestamp.
func (r *Registry) touch(ctx context.Context, s *Session) (*Session, error) {
	s.LastAccessed = time.Now().UTC()

	r.putLocal(s)
	if err := r.writeKV(ctx, s); err != nil {
		return nil, fmt.Errorf("touch session %s: %w", s.SessionID, err)
	}
	if _, err := r.docs.UpdateOne(ctx, r.opts.SessionCollection,
		store.Document{"session_id": s.SessionID, "state": string(StateActive)},
		store.Document{"last_accessed": s.LastAccessed}); err != nil {
		return nil, fmt.Errorf("touch session %s: %w", s.SessionID, err)
	}
	return s, nil
}

// writeKV stores the session in the fast tier with a renewed TTL.
func (r *Registry) writeKV(ctx context.Context, s *Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	return r.kv.SetWithTTL(ctx, r.key(s.SessionID), string(data), r.opts.Timeout)
}

func (r *Registry) putLocal(s *Session) {
	r.mu.Lock()
	r.local[s.SessionID] = s.Clone()
	r.mu.Unlock()
}

// normalize enforces the context size invariant on write.
func (r *Registry) normalize(text string) string {
	if len(text) <= r.opts.MaxContextSize {
		return text
	}
	if r.opts.AutoSummarize {
		if len(text) <= r.opts.SummaryThreshold {
			return text
		}
		return summaryMarker + text[len(text)-r.opts.SummaryThreshold:]
	}
	return text[len(text)-r.opts.MaxContextSize:]
}

// staleSessionIDs returns active sessions whose last access precedes
// cutoff. Used by the expiry sweep.
func (r *Registry) staleSessionIDs(ctx context.Context, cutoff time.Time) ([]string, error) {
	docs, err := r.docs.FindMany(ctx, r.opts.SessionCollection,
		store.Document{
			"state":         string(StateActive),
			"last_accessed": map[string]any{"$lt": cutoff},
		}, nil)
	if err != nil {
		return nil, fmt.Errorf("query stale sessions: %w", err)
	}

	ids := make([]string, 0, len(docs))
	for _, d := range docs {
		if id, ok := d["session_id"].(string); ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// pruneLocal drops local cache entries whose last access precedes
// cutoff, independently of the durable sweep.
func (r *Registry) pruneLocal(cutoff time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for id, s := range r.local {
		if s.LastAccessed.Before(cutoff) {
			delete(r.local, id)
			n++
		}
	}
	return n
}

func (r *Registry) key(id string) string {
	return r.opts.KeyPrefix + id
}

// Timeout exposes the configured idle timeout to the sweeper.
func (r *Registry) Timeout() time.Duration {
	return r.opts.Timeout
}
