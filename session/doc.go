// Package session implements the session registry: per-session working
// memory cached across three tiers with TTL-based lifecycle.
//
// A Session carries a short free-text working context plus metadata. The
// Registry keeps every session in up to three places at once:
//
//   - a process-local map (fastest, volatile)
//   - a store.KeyValueStore with a TTL equal to the idle timeout (warm, shared)
//   - a store.DocumentStore as the system of record
//
// Reads promote records into the faster tiers and renew the fast-store
// TTL; writes go through all tiers. Every successful read or write
// updates last_accessed, which drives expiry.
//
// # Lifecycle
//
// Sessions are created by Create, mutated by UpdateContext, and removed
// either explicitly by Delete or by the background Sweeper once idle
// longer than the configured timeout. Removal is always a soft delete:
// the durable record is tagged deleted and kept for audit continuity.
// Deletion is terminal; creating the same id again starts a fresh record.
//
// # Oversized Context
//
// UpdateContext never rejects input. Text longer than the configured
// maximum is normalized on write: summarized to a marker plus the most
// recent bytes when auto-summarize is on, hard-truncated to the most
// recent bytes otherwise. The context_size field always equals the
// stored context length.
//
// # Concurrency
//
// The local cache is mutex-guarded and hands out deep copies, so lookups
// are safe under concurrency. The registry deliberately takes no
// per-session lock: concurrent UpdateContext calls for the same id may
// interleave across tiers, and the final state is whichever write lands
// last in each tier. See Registry for details.
package session
