// Package layers implements the seven-layer context hierarchy that sits
// beside session memory: IMMEDIATE, SESSION, PROJECT, DOMAIN,
// HISTORICAL, GLOBAL, and META, ordered from most to least
// time-critical.
//
// Store owns context entries. Every entry is written to the durable
// document store and mirrored in a process-local per-session per-layer
// index; entries are immutable after creation apart from their
// access-tracking fields, so a session's layer history is cumulative.
//
// Retriever assembles token-budgeted views across the hierarchy. Layers
// are visited in ascending order so the immediate layer gets first
// claim on a shared budget; within a layer, entries are chosen by
// relevance with recency as the tie-break, greedily, never exceeding
// the budget.
//
// Lifecycle implements the operations that evolve a session's context
// over time: merging entries into a consolidated entry at a target
// layer, switching focus to another entry (with an append-only audit
// record written on every attempt), and aggregating usage patterns.
//
// Token counts are estimates. The default HeuristicEstimator charges
// one token per four bytes; TiktokenEstimator swaps in a real BPE
// tokenizer when budgets must line up with an actual model.
package layers
