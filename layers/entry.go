package layers

import (
	"time"

	"github.com/perfectmpc/memcore/store"
)

// Entry is one immutable context record in a session's layer history.
// Content never changes after creation: merges and switches create new
// entries rather than mutating old ones, so layer history is cumulative.
// Only the access-tracking fields (AccessCount, LastAccessed) and the
// relevance score move after creation.
type Entry struct {
	// ID is the unique entry identifier.
	ID string `json:"id"`

	// SessionID links the entry to its owning session.
	SessionID string `json:"session_id"`

	// Content is the context text. Immutable once created.
	Content string `json:"content"`

	// Layer places the entry in the seven-layer hierarchy.
	Layer Layer `json:"layer"`

	// Priority tags the entry's importance, independent of layer.
	Priority Priority `json:"priority"`

	// Metadata is an open key/value map supplied by callers.
	Metadata map[string]any `json:"metadata,omitempty"`

	// Timestamp is the creation time, immutable.
	Timestamp time.Time `json:"timestamp"`

	// AccessCount is incremented each time retrieval selects the entry.
	AccessCount int `json:"access_count"`

	// LastAccessed is updated each time retrieval selects the entry.
	LastAccessed time.Time `json:"last_accessed"`

	// RelevanceScore orders entries within a layer; initialized to 1.0.
	RelevanceScore float64 `json:"relevance_score"`
}

// GetMetadata retrieves a metadata value by key, returning the value and
// whether it was found.
func (e *Entry) GetMetadata(key string) (any, bool) {
	if e.Metadata == nil {
		return nil, false
	}
	val, ok := e.Metadata[key]
	return val, ok
}

// Clone creates a deep copy of the Entry.
func (e *Entry) Clone() *Entry {
	clone := *e
	if e.Metadata != nil {
		clone.Metadata = make(map[string]any, len(e.Metadata))
		for k, v := range e.Metadata {
			clone.Metadata[k] = v
		}
	}
	return &clone
}

// EstimatedTokens returns the entry's token estimate under est.
func (e *Entry) EstimatedTokens(est Estimator) int {
	return est.Estimate(e.Content)
}

// doc converts the entry to its durable-store document form.
func (e *Entry) doc() store.Document {
	return store.Document{
		"id":              e.ID,
		"session_id":      e.SessionID,
		"content":         e.Content,
		"layer":           int(e.Layer),
		"priority":        int(e.Priority),
		"metadata":        e.Metadata,
		"timestamp":       e.Timestamp,
		"access_count":    e.AccessCount,
		"last_accessed":   e.LastAccessed,
		"relevance_score": e.RelevanceScore,
	}
}

// entryFromDoc rebuilds an Entry from its durable-store document form.
func entryFromDoc(doc store.Document) *Entry {
	e := &Entry{
		ID:             asString(doc["id"]),
		SessionID:      asString(doc["session_id"]),
		Content:        asString(doc["content"]),
		Layer:          Layer(asInt(doc["layer"])),
		Priority:       Priority(asInt(doc["priority"])),
		Timestamp:      asTime(doc["timestamp"]),
		AccessCount:    asInt(doc["access_count"]),
		LastAccessed:   asTime(doc["last_accessed"]),
		RelevanceScore: asFloat(doc["relevance_score"]),
	}
	if m, ok := doc["metadata"].(map[string]any); ok {
		e.Metadata = m
	}
	return e
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asTime(v any) time.Time {
	t, _ := v.(time.Time)
	return t
}

func asInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int32:
		return int(n)
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}

func asFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	default:
		return 0
	}
}
