package layers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/perfectmpc/memcore/store"
)

// Options configures a Store.
type Options struct {
	// Collection is the durable collection for context entries.
	// Default: "context_entries".
	Collection string

	// Estimator converts content into token counts for budget decisions.
	// Default: HeuristicEstimator.
	Estimator Estimator

	// Logger receives structured operational logs. Defaults to slog.Default().
	Logger *slog.Logger
}

func (o *Options) applyDefaults() {
	if o.Collection == "" {
		o.Collection = "context_entries"
	}
	if o.Estimator == nil {
		o.Estimator = HeuristicEstimator{}
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Store owns context entries across the seven layers of every session.
// Entries are written to the durable store and mirrored in a
// process-local per-session per-layer index, created lazily on first
// write. The index is mutex-guarded and hands out deep copies.
type Store struct {
	docs store.DocumentStore
	opts Options

	mu    sync.RWMutex
	index map[string]map[Layer][]*Entry
}

// NewStore creates a context layer store over the durable store.
func NewStore(docs store.DocumentStore, opts Options) *Store {
	opts.applyDefaults()
	return &Store{
		docs:  docs,
		opts:  opts,
		index: make(map[string]map[Layer][]*Entry),
	}
}

// Load rebuilds the process-local index from the durable store. Called
// once at engine start so earlier sessions keep their layer history
// across restarts.
func (s *Store) Load(ctx context.Context) error {
	docs, err := s.docs.FindMany(ctx, s.opts.Collection, store.Document{}, nil)
	if err != nil {
		return fmt.Errorf("load context entries: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.index = make(map[string]map[Layer][]*Entry)
	for _, doc := range docs {
		e := entryFromDoc(doc)
		s.appendLocked(e)
	}

	s.opts.Logger.Info("loaded context entries", "count", len(docs))
	return nil
}

// Add creates a new context entry in the given layer. The layer and
// priority are validated before anything is written; the entry starts
// with relevance 1.0 and a zero access count.
func (s *Store) Add(ctx context.Context, sessionID, content string, layer Layer, priority Priority, metadata map[string]any) (string, error) {
	if err := layer.Validate(); err != nil {
		return "", err
	}
	if err := priority.Validate(); err != nil {
		return "", err
	}

	now := time.Now().UTC()
	e := &Entry{
		ID:             uuid.NewString(),
		SessionID:      sessionID,
		Content:        content,
		Layer:          layer,
		Priority:       priority,
		Metadata:       metadata,
		Timestamp:      now,
		AccessCount:    0,
		LastAccessed:   now,
		RelevanceScore: 1.0,
	}

	if err := s.docs.InsertOne(ctx, s.opts.Collection, e.doc()); err != nil {
		return "", fmt.Errorf("add context: %w", err)
	}

	s.mu.Lock()
	s.appendLocked(e)
	s.mu.Unlock()

	s.opts.Logger.Debug("added context entry",
		"session_id", sessionID, "context_id", e.ID, "layer", layer.String())
	return e.ID, nil
}

// LayerContext returns the best entries of one layer within a token
// budget. Candidates are ordered by relevance score (descending) with
// recency as the tie-break, then selected greedily while the cumulative
// token estimate stays within maxTokens; selection stops at the first
// entry that would overflow the budget. Returns nil when the session has
// no entries in the layer.
//
// Selected entries get their access count and last-accessed time bumped;
// a failure to persist that bookkeeping is logged, not surfaced, since
// the retrieval itself succeeded.
func (s *Store) LayerContext(ctx context.Context, sessionID string, layer Layer, maxTokens int) ([]Entry, error) {
	if err := layer.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	candidates := s.index[sessionID][layer]
	if len(candidates) == 0 {
		return nil, nil
	}

	ordered := make([]*Entry, len(candidates))
	copy(ordered, candidates)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].RelevanceScore != ordered[j].RelevanceScore {
			return ordered[i].RelevanceScore > ordered[j].RelevanceScore
		}
		return ordered[i].Timestamp.After(ordered[j].Timestamp)
	})

	now := time.Now().UTC()
	selected := make([]Entry, 0, len(ordered))
	used := 0
	for _, e := range ordered {
		tokens := s.opts.Estimator.Estimate(e.Content)
		if used+tokens > maxTokens {
			break
		}
		used += tokens

		e.AccessCount++
		e.LastAccessed = now
		if _, err := s.docs.UpdateOne(ctx, s.opts.Collection,
			store.Document{"id": e.ID},
			store.Document{"access_count": e.AccessCount, "last_accessed": now}); err != nil {
			s.opts.Logger.Warn("failed to persist access count",
				"context_id", e.ID, "error", err)
		}

		selected = append(selected, *e.Clone())
	}
	return selected, nil
}

// ByID fetches a single entry from the durable store.
// Returns ErrNotFound if no entry matches.
func (s *Store) ByID(ctx context.Context, sessionID, contextID string) (*Entry, error) {
	doc, err := s.docs.FindOne(ctx, s.opts.Collection, store.Document{
		"id":         contextID,
		"session_id": sessionID,
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, contextID)
	}
	if err != nil {
		return nil, fmt.Errorf("get context %s: %w", contextID, err)
	}
	return entryFromDoc(doc), nil
}

// AllForSession fetches every entry of a session from the durable store,
// across all layers.
func (s *Store) AllForSession(ctx context.Context, sessionID string) ([]Entry, error) {
	docs, err := s.docs.FindMany(ctx, s.opts.Collection,
		store.Document{"session_id": sessionID}, nil)
	if err != nil {
		return nil, fmt.Errorf("get session contexts: %w", err)
	}

	entries := make([]Entry, 0, len(docs))
	for _, d := range docs {
		entries = append(entries, *entryFromDoc(d))
	}
	return entries, nil
}

// EstimateTokens exposes the store's estimator to retrieval callers so
// budgets are computed consistently.
func (s *Store) EstimateTokens(text string) int {
	return s.opts.Estimator.Estimate(text)
}

func (s *Store) appendLocked(e *Entry) {
	byLayer, ok := s.index[e.SessionID]
	if !ok {
		byLayer = make(map[Layer][]*Entry)
		s.index[e.SessionID] = byLayer
	}
	byLayer[e.Layer] = append(byLayer[e.Layer], e.Clone())
}
