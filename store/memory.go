package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryKV is an in-process KeyValueStore with per-key expiry. It backs
// tests and single-process deployments where no shared cache is wanted;
// semantics mirror RedisKV, including lazy expiry on read.
type MemoryKV struct {
	mu   sync.RWMutex
	data map[string]memoryKVEntry
}

type memoryKVEntry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

// NewMemoryKV creates an empty in-process key/value store.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{data: make(map[string]memoryKVEntry)}
}

// Get retrieves the value stored under key.
func (s *MemoryKV) Get(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.RLock()
	entry, ok := s.data[key]
	s.mu.RUnlock()

	if !ok {
		return "", ErrNotFound
	}
	if s.expired(entry) {
		s.mu.Lock()
		delete(s.data, key)
		s.mu.Unlock()
		return "", ErrNotFound
	}
	return entry.value, nil
}

// SetWithTTL stores value under key with the given time-to-live.
func (s *MemoryKV) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if key == "" {
		return ErrInvalidKey
	}

	entry := memoryKVEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}

	s.mu.Lock()
	s.data[key] = entry
	s.mu.Unlock()
	return nil
}

// Delete removes the value stored under key.
func (s *MemoryKV) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data[key]; !ok {
		return ErrNotFound
	}
	delete(s.data, key)
	return nil
}

// Exists reports whether key currently holds a live value.
func (s *MemoryKV) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.Get(ctx, key)
	if err == nil {
		return true, nil
	}
	if err == ErrNotFound {
		return false, nil
	}
	return false, err
}

// Close is a no-op for the in-process store.
func (s *MemoryKV) Close() error {
	return nil
}

func (s *MemoryKV) expired(e memoryKVEntry) bool {
	return !e.expiresAt.IsZero() && time.Now().After(e.expiresAt)
}

// MemoryDocs is an in-process DocumentStore. Collections are created
// lazily on first insert; documents are deep-copied on every read and
// write so callers can never mutate stored state through a returned map.
type MemoryDocs struct {
	mu          sync.RWMutex
	collections map[string][]Document
}

// NewMemoryDocs creates an empty in-process document store.
func NewMemoryDocs() *MemoryDocs {
	return &MemoryDocs{collections: make(map[string][]Document)}
}

// InsertOne appends a document to the named collection.
func (s *MemoryDocs) InsertOne(ctx context.Context, collection string, doc Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	s.collections[collection] = append(s.collections[collection], cloneDoc(doc))
	s.mu.Unlock()
	return nil
}

// FindOne returns the first document matching filter.
func (s *MemoryDocs) FindOne(ctx context.Context, collection string, filter Document) (Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, doc := range s.collections[collection] {
		if matchesFilter(doc, filter) {
			return cloneDoc(doc), nil
		}
	}
	return nil, ErrNotFound
}

// FindMany returns all documents matching filter, bounded and ordered by opts.
func (s *MemoryDocs) FindMany(ctx context.Context, collection string, filter Document, opts *FindOptions) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	var matched []Document
	for _, doc := range s.collections[collection] {
		if matchesFilter(doc, filter) {
			matched = append(matched, cloneDoc(doc))
		}
	}
	s.mu.RUnlock()

	if opts != nil && opts.Sort != nil {
		field, desc := opts.Sort.Field, opts.Sort.Desc
		sort.SliceStable(matched, func(i, j int) bool {
			c := compareValues(matched[i][field], matched[j][field])
			if desc {
				return c > 0
			}
			return c < 0
		})
	}
	if opts != nil && opts.Limit > 0 && int64(len(matched)) > opts.Limit {
		matched = matched[:opts.Limit]
	}
	return matched, nil
}

// UpdateOne applies patch to the first document matching filter.
func (s *MemoryDocs) UpdateOne(ctx context.Context, collection string, filter, patch Document) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, doc := range s.collections[collection] {
		if matchesFilter(doc, filter) {
			for k, v := range patch {
				doc[k] = cloneValue(v)
			}
			return true, nil
		}
	}
	return false, nil
}

// DeleteOne removes the first document matching filter.
func (s *MemoryDocs) DeleteOne(ctx context.Context, collection string, filter Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	docs := s.collections[collection]
	for i, doc := range docs {
		if matchesFilter(doc, filter) {
			s.collections[collection] = append(docs[:i:i], docs[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

// Close is a no-op for the in-process store.
func (s *MemoryDocs) Close(ctx context.Context) error {
	return nil
}

// Count returns the number of documents matching filter. Test helper.
func (s *MemoryDocs) Count(collection string, filter Document) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, doc := range s.collections[collection] {
		if matchesFilter(doc, filter) {
			n++
		}
	}
	return n
}

// matchesFilter reports whether doc satisfies every clause of filter.
// A clause value that is itself a map of operators ("$lt", "$lte",
// "$gt", "$gte", "$ne") compares against the stored value; any other
// clause value must compare equal.
func matchesFilter(doc, filter Document) bool {
	for field, want := range filter {
		got, ok := doc[field]
		if ops, isOps := operatorClause(want); isOps {
			if !ok {
				return false
			}
			for op, operand := range ops {
				if !applyOperator(op, got, operand) {
					return false
				}
			}
			continue
		}
		if !ok || compareValues(got, want) != 0 {
			return false
		}
	}
	return true
}

func operatorClause(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	if !ok || len(m) == 0 {
		return nil, false
	}
	for k := range m {
		if len(k) == 0 || k[0] != '$' {
			return nil, false
		}
	}
	return m, true
}

func applyOperator(op string, got, operand any) bool {
	cmp := compareValues(got, operand)
	switch op {
	case "$lt":
		return cmp < 0
	case "$lte":
		return cmp <= 0
	case "$gt":
		return cmp > 0
	case "$gte":
		return cmp >= 0
	case "$ne":
		return cmp != 0
	default:
		return false
	}
}

// compareValues orders two document values of the same logical type.
// Returns a negative, zero or positive result; incomparable values
// compare as unequal.
func compareValues(a, b any) int {
	switch av := a.(type) {
	case time.Time:
		if bv, ok := b.(time.Time); ok {
			switch {
			case av.Before(bv):
				return -1
			case av.After(bv):
				return 1
			default:
				return 0
			}
		}
	case string:
		if bv, ok := b.(string); ok {
			switch {
			case av < bv:
				return -1
			case av > bv:
				return 1
			default:
				return 0
			}
		}
	case bool:
		if bv, ok := b.(bool); ok {
			switch {
			case av == bv:
				return 0
			case !av:
				return -1
			default:
				return 1
			}
		}
	default:
		af, aok := toFloat(a)
		bf, bok := toFloat(b)
		if aok && bok {
			switch {
			case af < bf:
				return -1
			case af > bf:
				return 1
			default:
				return 0
			}
		}
	}
	return -1
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

// cloneDoc deep-copies a document. Maps and slices are copied
// recursively; time.Time and scalars are value types already.
func cloneDoc(doc Document) Document {
	if doc == nil {
		return nil
	}
	out := make(Document, len(doc))
	for k, v := range doc {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = cloneValue(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}
