package store

import (
	"context"
	"errors"
	"time"
)

// Common errors returned by store operations.
var (
	// ErrNotFound is returned when a requested key or document does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrInvalidKey is returned when a key is empty or otherwise invalid.
	ErrInvalidKey = errors.New("store: invalid key")

	// ErrStorageFailed is returned when the underlying storage backend fails.
	// Callers can detect backend connectivity problems with errors.Is.
	ErrStorageFailed = errors.New("store: storage operation failed")
)

// Document is a schemaless record persisted by a DocumentStore.
// Values are restricted to JSON-compatible types plus time.Time.
type Document = map[string]any

// Sort describes an ordering on a single document field.
type Sort struct {
	// Field is the document field to order by.
	Field string

	// Desc orders descending when true, ascending otherwise.
	Desc bool
}

// FindOptions bound and order the results of DocumentStore.FindMany.
// A zero Limit means no limit; a nil Sort leaves insertion order.
type FindOptions struct {
	Limit int64
	Sort  *Sort
}

// KeyValueStore is the fast-store collaborator: a shared key/value cache
// with native per-key TTL. It sits between the process-local cache and
// the durable DocumentStore in the three-tier hierarchy.
//
// Implementations must return ErrNotFound for missing keys and wrap
// backend failures with ErrStorageFailed.
type KeyValueStore interface {
	// Get retrieves the value stored under key.
	// Returns ErrNotFound if the key does not exist or has expired.
	Get(ctx context.Context, key string) (string, error)

	// SetWithTTL stores value under key with the given time-to-live.
	// A non-positive ttl stores the key without expiry.
	// Returns ErrInvalidKey if the key is empty.
	SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error

	// Delete removes the value stored under key.
	// Returns ErrNotFound if the key does not exist.
	Delete(ctx context.Context, key string) error

	// Exists reports whether key currently holds a value.
	Exists(ctx context.Context, key string) (bool, error)

	// Close releases the underlying connection.
	Close() error
}

// DocumentStore is the durable-store collaborator: one logical collection
// per entity type (sessions, context entries, context switches, context
// history), used as the system of record.
//
// Filters are exact-match maps; a field value may itself be a map of
// comparison operators ("$lt", "$lte", "$gt", "$gte", "$ne") applied to
// the stored value, mirroring the document-database query shape.
type DocumentStore interface {
	// InsertOne appends a document to the named collection.
	InsertOne(ctx context.Context, collection string, doc Document) error

	// FindOne returns the first document matching filter.
	// Returns ErrNotFound if no document matches.
	FindOne(ctx context.Context, collection string, filter Document) (Document, error)

	// FindMany returns all documents matching filter, bounded and ordered
	// by opts. A nil opts applies no limit and no ordering.
	FindMany(ctx context.Context, collection string, filter Document, opts *FindOptions) ([]Document, error)

	// UpdateOne applies patch to the first document matching filter and
	// reports whether a document matched.
	UpdateOne(ctx context.Context, collection string, filter, patch Document) (bool, error)

	// DeleteOne removes the first document matching filter.
	// Returns ErrNotFound if no document matches.
	DeleteOne(ctx context.Context, collection string, filter Document) error

	// Close releases the underlying connection.
	Close(ctx context.Context) error
}
