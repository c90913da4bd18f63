// Package store provides the SQLite-backed rename journal.
//
// Every rename run is recorded before any file is touched:
//   - runs: one row per `dropcam rename` invocation, keyed by a UUIDv7
//   - renames: the ordered operations of a run, keyed by (run_id, seq)
//
// # Ordering
//
// Renames are always read ORDER BY seq ASC so undo can walk them in reverse.
// Runs are listed by id, which sorts by creation time because UUIDv7 embeds
// a millisecond timestamp prefix.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON: renames cannot outlive their run
package store
