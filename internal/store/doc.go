// Package store provides SQLite-backed durable storage for mason execution
// records. It is the single mutation surface for identity, hold, and
// completion state: every multi-field transition (hold + status, new key +
// alias, checkpoint + cursor) is applied in one transaction, so partial
// visibility of a transition is impossible by construction.
//
// The record set:
//   - Executions: one mutable runtime record per goal instance
//   - Checkpoints: append-only, content-addressed progress records
//   - Op ledger: started/confirmed marks per atomic operation
//     (the crash-reconciliation source of truth)
//   - Witnesses: the per-module expected end-state, written once at plan time
//   - Stations: the capability-station registry
//   - Goal bindings + key aliases: two-phase identity with append-only aliases
//   - Holds: at most one per execution (PRIMARY KEY on execution_id)
//   - Completion state: the hysteresis counter
//   - Events: append-only lifecycle log keyed by goal instance ID
//
// # Critical patterns
//
// Append-only progress: checkpoints and events are never edited or removed;
// the module cursor is monotonically non-decreasing within one lineage and
// the store rejects regressions.
//
// Idempotent writes: ledger marks use ON CONFLICT so replaying a crashed
// sequence of writes converges to the same state.
//
// Derived terminal mirror: goal_bindings.terminal mirrors the execution
// status (canonical owner) so a partial UNIQUE index can enforce "at most
// one non-terminal execution per (goal_type, goal_key)". The mirror is
// updated in the same transaction as every status change and validated by
// CheckIllegalStates.
//
// # Database configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON: enforce referential integrity
//
// The full execution record is reconstructable from this store alone after
// a process restart; there is no other source of truth.
package store
