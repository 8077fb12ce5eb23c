package layers

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// DefaultRetrievalBudget is the token budget used when a caller does not
// supply one.
const DefaultRetrievalBudget = 4000

// Result is a token-budgeted view across the layer hierarchy for one
// session. Layers holds the selected entries keyed by layer name; layers
// that contributed nothing are absent from the map.
type Result struct {
	// SessionID is the session the view was assembled for.
	SessionID string `json:"session_id"`

	// Layers maps layer name (e.g. "IMMEDIATE") to the entries selected
	// from that layer.
	Layers map[string][]Entry `json:"layers"`

	// Weights maps layer name to its fixed relative weight, for the
	// layers present in Layers.
	Weights map[string]float64 `json:"weights"`

	// TotalTokens is the estimated token count of everything selected.
	TotalTokens int `json:"total_tokens"`

	// CoherenceScore is the fraction of the seven layers that
	// contributed content, in [0,1].
	CoherenceScore float64 `json:"coherence_score"`

	// Timestamp is when the view was assembled.
	Timestamp time.Time `json:"timestamp"`
}

// Retriever assembles layered context views from a Store.
type Retriever struct {
	contexts *Store
	logger   *slog.Logger
}

// NewRetriever creates a retrieval engine over the context store. A nil
// logger selects slog.Default().
func NewRetriever(contexts *Store, logger *slog.Logger) *Retriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{contexts: contexts, logger: logger}
}

// LayeredContext assembles a context view for sessionID across the
// requested layers within maxTokens. Layers are always visited in
// ascending order (IMMEDIATE first) no matter how include is ordered, so
// time-critical layers get first claim on the budget; each layer
// receives whatever budget its predecessors left, and assembly stops as
// soon as the budget is exhausted. A nil or empty include means all
// seven layers; maxTokens <= 0 selects DefaultRetrievalBudget.
func (r *Retriever) LayeredContext(ctx context.Context, sessionID string, include []Layer, maxTokens int) (*Result, error) {
	if maxTokens <= 0 {
		maxTokens = DefaultRetrievalBudget
	}

	wanted := make(map[Layer]bool, len(include))
	for _, l := range include {
		if err := l.Validate(); err != nil {
			return nil, err
		}
		wanted[l] = true
	}

	result := &Result{
		SessionID: sessionID,
		Layers:    make(map[string][]Entry),
		Weights:   make(map[string]float64),
		Timestamp: time.Now().UTC(),
	}

	remaining := maxTokens
	for _, layer := range AllLayers() {
		if len(include) > 0 && !wanted[layer] {
			continue
		}
		if remaining <= 0 {
			break
		}

		entries, err := r.contexts.LayerContext(ctx, sessionID, layer, remaining)
		if err != nil {
			return nil, fmt.Errorf("retrieve layer %s: %w", layer, err)
		}
		if len(entries) == 0 {
			continue
		}

		used := 0
		for i := range entries {
			used += r.contexts.EstimateTokens(entries[i].Content)
		}
		remaining -= used

		result.Layers[layer.String()] = entries
		result.Weights[layer.String()] = layer.Weight()
		result.TotalTokens += used
	}

	result.CoherenceScore = float64(len(result.Layers)) / float64(NumLayers)

	r.logger.Debug("assembled layered context",
		"session_id", sessionID,
		"layers", len(result.Layers),
		"total_tokens", result.TotalTokens)
	return result, nil
}
