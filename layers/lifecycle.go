package layers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/perfectmpc/memcore/store"
)

// switchSnapshotBudget bounds the IMMEDIATE-layer snapshot taken before
// a context switch. The snapshot is an audit artifact, not a retrieval
// result, so it gets a small fixed budget.
const switchSnapshotBudget = 1000

// SwitchRecord is one row of the append-only context-switch audit
// trail. A record is written on every switch attempt, successful or
// not.
type SwitchRecord struct {
	ID                 string    `json:"id"`
	SessionID          string    `json:"session_id"`
	PriorImmediate     string    `json:"prior_immediate,omitempty"`
	NewContextID       string    `json:"new_context_id"`
	Succeeded          bool      `json:"succeeded"`
	PreservedImmediate bool      `json:"preserved_immediate"`
	Timestamp          time.Time `json:"timestamp"`
}

// SwitchResult reports the outcome of a successful context switch.
type SwitchResult struct {
	SessionID          string    `json:"session_id"`
	NewContextID       string    `json:"new_context_id"`
	PreservedImmediate bool      `json:"preserved_immediate"`
	SwitchedAt         time.Time `json:"switched_at"`
}

// PatternStats aggregates a session's context usage for trend analysis.
type PatternStats struct {
	SessionID string `json:"session_id"`

	// TotalContexts is the number of entries across all layers.
	TotalContexts int `json:"total_contexts"`

	// LayerDistribution counts entries per layer name.
	LayerDistribution map[string]int `json:"layer_distribution"`

	// PriorityDistribution counts entries per priority name.
	PriorityDistribution map[string]int `json:"priority_distribution"`

	// MostUsedLayer names the layer with the most entries; empty when
	// the session has none.
	MostUsedLayer string `json:"most_used_layer,omitempty"`

	// LayerDiversity is distinct layers used / 7, in [0,1].
	LayerDiversity float64 `json:"layer_diversity"`

	// Temporal is the session's entries as (timestamp, layer,
	// access_count) points in chronological order.
	Temporal []TemporalPoint `json:"temporal"`
}

// TemporalPoint is one point on a session's context timeline.
type TemporalPoint struct {
	Timestamp   time.Time `json:"timestamp"`
	Layer       string    `json:"layer"`
	AccessCount int       `json:"access_count"`
}

// LifecycleOptions configures a Lifecycle.
type LifecycleOptions struct {
	// SwitchCollection is the durable collection for switch records.
	// Default: "context_switches".
	SwitchCollection string

	// Logger receives structured operational logs. Defaults to
	// slog.Default().
	Logger *slog.Logger
}

func (o *LifecycleOptions) applyDefaults() {
	if o.SwitchCollection == "" {
		o.SwitchCollection = "context_switches"
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Lifecycle implements the merge, switch, and pattern-analysis
// operations over a context store. Merges and switches never mutate
// existing entries; they create new entries and audit records.
type Lifecycle struct {
	contexts  *Store
	retriever *Retriever
	docs      store.DocumentStore
	opts      LifecycleOptions
}

// NewLifecycle creates a lifecycle manager. The document store must be
// the same backend the context store writes to, so switch records land
// beside the entries they describe.
func NewLifecycle(contexts *Store, retriever *Retriever, docs store.DocumentStore, opts LifecycleOptions) *Lifecycle {
	opts.applyDefaults()
	return &Lifecycle{
		contexts:  contexts,
		retriever: retriever,
		docs:      docs,
		opts:      opts,
	}
}

// Merge combines the given context entries into one new entry at the
// target layer. IDs that no longer resolve are skipped with a warning;
// if none resolve the merge fails with ErrNoValidContexts. Content is
// concatenated in input order separated by blank lines, metadata is
// shallow-merged with later entries winning on key conflicts, and the
// new entry is created at PriorityHigh. The originals are untouched.
func (l *Lifecycle) Merge(ctx context.Context, sessionID string, contextIDs []string, target Layer) (string, error) {
	if err := target.Validate(); err != nil {
		return "", err
	}

	var (
		parts  []string
		merged = make(map[string]any)
		used   []string
	)
	for _, id := range contextIDs {
		entry, err := l.contexts.ByID(ctx, sessionID, id)
		if errors.Is(err, ErrNotFound) {
			l.opts.Logger.Warn("skipping stale context in merge",
				"session_id", sessionID, "context_id", id)
			continue
		}
		if err != nil {
			return "", fmt.Errorf("merge contexts: %w", err)
		}
		parts = append(parts, entry.Content)
		for k, v := range entry.Metadata {
			merged[k] = v
		}
		used = append(used, id)
	}
	if len(used) == 0 {
		return "", fmt.Errorf("%w: session %s", ErrNoValidContexts, sessionID)
	}

	merged["merged_from"] = used
	merged["merged_at"] = time.Now().UTC()

	newID, err := l.contexts.Add(ctx, sessionID, strings.Join(parts, "\n\n"),
		target, PriorityHigh, merged)
	if err != nil {
		return "", fmt.Errorf("merge contexts: %w", err)
	}

	l.opts.Logger.Info("merged contexts",
		"session_id", sessionID, "merged", len(used), "new_context_id", newID)
	return newID, nil
}

// Switch moves a session's focus to an existing context entry. When
// preserveImmediate is set, the current IMMEDIATE-layer selection is
// snapshotted into the switch record first. Returns ErrNotFound if
// newContextID does not resolve — but the switch record is appended
// regardless of outcome, so the audit trail shows failed switches too.
func (l *Lifecycle) Switch(ctx context.Context, sessionID, newContextID string, preserveImmediate bool) (*SwitchResult, error) {
	now := time.Now().UTC()
	record := SwitchRecord{
		ID:           uuid.NewString(),
		SessionID:    sessionID,
		NewContextID: newContextID,
		Timestamp:    now,
	}

	if preserveImmediate {
		entries, err := l.contexts.LayerContext(ctx, sessionID, LayerImmediate, switchSnapshotBudget)
		if err != nil {
			return nil, fmt.Errorf("switch context: %w", err)
		}
		if len(entries) > 0 {
			contents := make([]string, len(entries))
			for i := range entries {
				contents[i] = entries[i].Content
			}
			record.PriorImmediate = strings.Join(contents, "\n\n")
			record.PreservedImmediate = true
		}
	}

	_, err := l.contexts.ByID(ctx, sessionID, newContextID)
	record.Succeeded = err == nil

	if recErr := l.appendSwitchRecord(ctx, record); recErr != nil {
		l.opts.Logger.Error("failed to write switch record",
			"session_id", sessionID, "error", recErr)
	}

	if err != nil {
		return nil, fmt.Errorf("switch context: %w", err)
	}

	l.opts.Logger.Info("switched context",
		"session_id", sessionID, "new_context_id", newContextID,
		"preserved_immediate", record.PreservedImmediate)
	return &SwitchResult{
		SessionID:          sessionID,
		NewContextID:       newContextID,
		PreservedImmediate: record.PreservedImmediate,
		SwitchedAt:         now,
	}, nil
}

// AnalyzePatterns aggregates a session's context usage: counts by layer
// and priority, the most-used layer, a layer-diversity ratio, and a
// chronological timeline of (timestamp, layer, access_count) points. A
// session with no entries yields zeroed stats, not an error.
func (l *Lifecycle) AnalyzePatterns(ctx context.Context, sessionID string) (*PatternStats, error) {
	entries, err := l.contexts.AllForSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("analyze patterns: %w", err)
	}

	stats := &PatternStats{
		SessionID:            sessionID,
		TotalContexts:        len(entries),
		LayerDistribution:    make(map[string]int),
		PriorityDistribution: make(map[string]int),
	}
	if len(entries) == 0 {
		return stats, nil
	}

	byLayer := make(map[Layer]int)
	for _, e := range entries {
		byLayer[e.Layer]++
		stats.LayerDistribution[e.Layer.String()]++
		stats.PriorityDistribution[e.Priority.String()]++
		stats.Temporal = append(stats.Temporal, TemporalPoint{
			Timestamp:   e.Timestamp,
			Layer:       e.Layer.String(),
			AccessCount: e.AccessCount,
		})
	}

	var top Layer
	for layer, n := range byLayer {
		if top == 0 || n > byLayer[top] || (n == byLayer[top] && layer < top) {
			top = layer
		}
	}
	stats.MostUsedLayer = top.String()
	stats.LayerDiversity = float64(len(byLayer)) / float64(NumLayers)

	sort.Slice(stats.Temporal, func(i, j int) bool {
		return stats.Temporal[i].Timestamp.Before(stats.Temporal[j].Timestamp)
	})
	return stats, nil
}

func (l *Lifecycle) appendSwitchRecord(ctx context.Context, rec SwitchRecord) error {
	return l.docs.InsertOne(ctx, l.opts.SwitchCollection, store.Document{
		"id":                  rec.ID,
		"session_id":          rec.SessionID,
		"prior_immediate":     rec.PriorImmediate,
		"new_context_id":      rec.NewContextID,
		"succeeded":           rec.Succeeded,
		"preserved_immediate": rec.PreservedImmediate,
		"timestamp":           rec.Timestamp,
	})
}
