// Package store provides SQLite-backed durable storage for exported
// schedule traces.
//
// The store holds two tables:
//   - sessions: one row per scheduling run (workload, target, rules)
//   - traces: the canonical JSON of every trace a session produced
//
// Trace rows are content-addressed by trace.TraceID, so writing the same
// trace twice for a session is a no-op. Reads verify the stored body still
// hashes to its ID.
//
// All list queries order by seq ASC, id COLLATE BINARY ASC so results are
// identical across runs.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
