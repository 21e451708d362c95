// Package store provides the SQLite-backed Local Store of the sync engine.
//
// One database file holds:
//   - Collections: one table per registered entity type (students, grades, ...)
//   - outbox_events: the write-ahead log of pending mutations
//   - sync_state: per-tenant sync progress
//   - client_info: the persisted client identifier
//
// # Critical Patterns
//
// Atomic local write + outbox append:
//   - Store.Update runs a function inside one SQLite transaction
//   - A mutation writes its record and appends its outbox event through the
//     same Tx, so a crash can never leave one without the other
//
// Deterministic ordering:
//   - Outbox order uses seq INTEGER PRIMARY KEY AUTOINCREMENT, never timestamps
//   - Collection queries use ORDER BY created_at ASC, id ASC COLLATE BINARY
//
// Terminal statuses:
//   - Event status transitions are guarded by their source status, so SYNCED
//     and FAILED rows cannot be moved by any store operation
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON
//   - a single open connection; callers are not serialized beyond that,
//     ordering per entity is the Mutation Facade's job
package store
