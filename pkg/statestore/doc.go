// Package statestore provides type-safe Go definitions and Redis schema patterns
// for the Vigil governance kernel's shared state.
//
// # Overview
//
// The state store is the single source of truth that every kernel component
// (ledger, heartbeat monitor, circuit breaker, admission gate, violation
// detector, reconciliation scorer, CLI) reads and writes through. No component
// talks to Redis directly; everything goes through the typed operations here.
//
// # Core Concepts
//
// Events are immutable, hash-chained governance records. Each event carries the
// content hash of its predecessor in the same chain, making any out-of-band
// mutation detectable by a chain walk.
//
// Heartbeat records track per-agent liveness. Breaker states form the severity
// ladder history. Violation records, blackout states, freshness thresholds,
// reconciliation snapshots and attestations round out the kernel's data model.
//
// # Multi-Instance Support
//
// All Redis keys and Pub/Sub channels are namespaced by instance name so that
// multiple kernel instances can safely coexist on a single Redis server. Each
// instance has complete isolation of its data and events.
//
// # Redis Schema
//
// All keys follow the pattern: vigil:{instance_name}:{entity}:{id}
//
// Events:          vigil:{instance_name}:event:{event_id}
// Chain index:     vigil:{instance_name}:chain:{chain_id}            (ZSET, score = sequence number)
// Chain head:      vigil:{instance_name}:chain:{chain_id}:head
// Heartbeats:      vigil:{instance_name}:heartbeat:{agent_id}
// Breaker current: vigil:{instance_name}:breaker:current
// Breaker history: vigil:{instance_name}:breaker:history             (ZSET, score = entered_at_ms)
// Thresholds:      vigil:{instance_name}:threshold:{asset_class}:{action_class}
// Blackout:        vigil:{instance_name}:blackout:{scope}
// Violations:      vigil:{instance_name}:violation:{violation_id}
// Violation window: vigil:{instance_name}:agent:{agent_id}:violations (ZSET, score = occurred_at_ms)
//
// Pub/Sub channel for ledger appends: vigil:{instance_name}:ledger_events
//
// # Design Principles
//
//   - Type Safety: all records have strong typing with validation methods
//   - Immutability: events and violation records are never mutated once written
//   - Auditability: every governance-relevant occurrence lands in the event ledger
//   - Isolation: instance namespacing prevents cross-instance interference
package statestore
