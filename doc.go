// Package memcore implements a session and layered-context memory
// engine: durable conversational session state behind a three-tier
// cache, plus a seven-layer context store with token-budgeted
// retrieval.
//
// # Architecture
//
// Sessions live in three storage tiers. A process-local map serves hot
// reads, a key/value store with native TTLs (Redis or etcd) acts as a
// warm cache, and a document store (MongoDB) is the system of record.
// Reads fall through the tiers and promote what they find; writes go
// through all three. A background sweeper soft-deletes sessions whose
// last access is older than the configured timeout.
//
// Context entries are organized into seven layers ordered by time
// criticality, IMMEDIATE through META. Retrieval walks the layers in
// order under a shared token budget, so the most immediate context
// always gets first claim; within a layer, entries are selected by
// relevance with recency breaking ties. Lifecycle operations merge
// entries into consolidated ones, switch a session's focus with an
// append-only audit trail, and aggregate usage patterns.
//
// # Usage
//
//	engine, err := memcore.New(ctx,
//		memcore.WithConfigFile("memcore.yaml"),
//		memcore.WithLogger(logger),
//	)
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := engine.Start(ctx); err != nil {
//		log.Fatal(err)
//	}
//	defer engine.Shutdown(context.Background())
//
//	id, err := engine.CreateSession(ctx, "")
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := engine.UpdateContext(ctx, id, "working on the parser", nil); err != nil {
//		log.Fatal(err)
//	}
//
// # Packages
//
// The engine is a facade over four subpackages:
//
//   - store: the KeyValueStore and DocumentStore abstractions with
//     Redis, etcd, MongoDB, and in-process implementations
//   - session: the three-tier session registry and the expiry sweeper
//   - layers: the seven-layer context store, retrieval engine, and
//     lifecycle manager
//   - config: YAML configuration loading
//
// All engine operations accept a context.Context, return structured
// *Error values that wrap per-package sentinel errors (compatible with
// errors.Is), and run inside OpenTelemetry spans.
package memcore
