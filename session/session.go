package session

import (
	"errors"
	"time"

	"github.com/perfectmpc/memcore/store"
)

// Common errors returned by session operations.
var (
	// ErrNotFound is returned when no active session exists for an id.
	ErrNotFound = errors.New("session: not found")

	// ErrAlreadyExists reports a duplicate create. Registry.Create treats
	// duplicates as idempotent success; the sentinel exists for callers
	// that probe existence themselves.
	ErrAlreadyExists = errors.New("session: already exists")
)

// State is the lifecycle state of a session record. A session is either
// active or deleted; deletion is terminal and only ever soft (the durable
// record is retained for audit continuity).
type State string

const (
	// StateActive marks a live session.
	StateActive State = "active"

	// StateDeleted marks a soft-deleted session, whether expired by the
	// sweep or deleted explicitly. There is no resurrection: creating the
	// same id again produces a fresh session record.
	StateDeleted State = "deleted"
)

// IsValid returns true if the State is one of the defined constants.
func (s State) IsValid() bool {
	switch s {
	case StateActive, StateDeleted:
		return true
	default:
		return false
	}
}

// String returns the string representation of the State.
func (s State) String() string {
	return string(s)
}

// Session is a per-session working-memory record: a short free-text
// "current context" plus bookkeeping for the three-tier cache.
//
// Invariants: ContextSize == len(Context) and len(Context) never exceeds
// the registry's configured maximum (oversized writes are normalized,
// never rejected). DeletedAt is set exactly when State == StateDeleted.
type Session struct {
	// SessionID is the opaque, globally unique session identifier.
	SessionID string `json:"session_id"`

	// CreatedAt is the creation timestamp, immutable.
	CreatedAt time.Time `json:"created_at"`

	// LastAccessed is updated on every successful read or write and
	// drives TTL expiry.
	LastAccessed time.Time `json:"last_accessed"`

	// Context is the session's current working context text.
	Context string `json:"context"`

	// ContextSize is the derived byte length of Context.
	ContextSize int `json:"context_size"`

	// Metadata is an open key/value map supplied by callers.
	Metadata map[string]any `json:"metadata,omitempty"`

	// State tags the record as active or soft-deleted.
	State State `json:"state"`

	// DeletedAt records when the session was soft-deleted.
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// IsActive reports whether the session is live.
func (s *Session) IsActive() bool {
	return s.State == StateActive
}

// Clone creates a deep copy of the Session. The registry hands out and
// stores clones only, so callers can never mutate cached state through a
// returned pointer.
func (s *Session) Clone() *Session {
	clone := *s
	if s.Metadata != nil {
		clone.Metadata = make(map[string]any, len(s.Metadata))
		for k, v := range s.Metadata {
			clone.Metadata[k] = v
		}
	}
	if s.DeletedAt != nil {
		at := *s.DeletedAt
		clone.DeletedAt = &at
	}
	return &clone
}

// doc converts the session to its durable-store document form.
func (s *Session) doc() store.Document {
	doc := store.Document{
		"session_id":    s.SessionID,
		"created_at":    s.CreatedAt,
		"last_accessed": s.LastAccessed,
		"context":       s.Context,
		"context_size":  s.ContextSize,
		"metadata":      s.Metadata,
		"state":         string(s.State),
	}
	if s.DeletedAt != nil {
		doc["deleted_at"] = *s.DeletedAt
	}
	return doc
}

// fromDoc rebuilds a Session from its durable-store document form.
func fromDoc(doc store.Document) *Session {
	s := &Session{
		SessionID:    asString(doc["session_id"]),
		CreatedAt:    asTime(doc["created_at"]),
		LastAccessed: asTime(doc["last_accessed"]),
		Context:      asString(doc["context"]),
		ContextSize:  asInt(doc["context_size"]),
		State:        State(asString(doc["state"])),
	}
	if m, ok := doc["metadata"].(map[string]any); ok {
		s.Metadata = m
	}
	if at, ok := doc["deleted_at"].(time.Time); ok {
		s.DeletedAt = &at
	}
	return s
}

// HistoryEntry is one immutable context-change record, appended on every
// UpdateContext for audit and history retrieval.
type HistoryEntry struct {
	SessionID   string         `json:"session_id"`
	Context     string         `json:"context"`
	ContextSize int            `json:"context_size"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}

func historyFromDoc(doc store.Document) HistoryEntry {
	e := HistoryEntry{
		SessionID:   asString(doc["session_id"]),
		Context:     asString(doc["context"]),
		ContextSize: asInt(doc["context_size"]),
		Timestamp:   asTime(doc["timestamp"]),
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
