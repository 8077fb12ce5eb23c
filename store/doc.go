// Package store defines the two storage collaborators of the memory
// engine and their production implementations.
//
// The engine persists state across three tiers: a process-local cache
// owned by the consuming component, a shared KeyValueStore with native
// per-key TTLs (warm tier), and a durable DocumentStore used as the
// system of record. This package supplies the outer two tiers:
//
//   - RedisKV: KeyValueStore backed by Redis (go-redis/v9)
//   - EtcdKV: KeyValueStore backed by etcd lease TTLs (client/v3)
//   - MongoDocs: DocumentStore backed by MongoDB (mongo-driver)
//   - MemoryKV, MemoryDocs: in-process implementations for tests and
//     single-process deployments with no external dependencies
//
// # Error Handling
//
// All implementations report missing keys and documents with ErrNotFound
// and wrap backend connectivity failures with ErrStorageFailed, so
// callers can distinguish "absent" from "broken" with errors.Is:
//
//	v, err := kv.Get(ctx, key)
//	switch {
//	case errors.Is(err, store.ErrNotFound):
//	    // cold cache, fall through to the durable tier
//	case errors.Is(err, store.ErrStorageFailed):
//	    // surface to the caller, never swallow
//	}
//
// # Connection Checks
//
// The Redis, etcd and Mongo constructors verify connectivity before
// returning, so a misconfigured endpoint fails at startup rather than on
// the first request.
package store
