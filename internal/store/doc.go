// Package store provides persistent storage for the console gateway using SQLite.
//
// # Data Models
//
//   - Turn: One persisted message unit (user, assistant, or tool) within a session
//   - SessionSummary: Listing view of a session (name, display label, turn count, last update)
//   - Job: Scheduled job definition mirrored into the external scheduler
//
// Sessions are append-only turn sequences identified by a channel-prefixed
// name ("ws:device-1", "api:batch", "cron:daily-report"). They are created
// implicitly on first append and removed only by explicit deletion. Turn
// timestamps within a session are non-decreasing; AppendTurn clamps a
// backwards timestamp to the previous turn's value rather than rejecting it.
//
// Appends to the same session are serialized with a per-session lock.
// Appends to different sessions proceed independently.
//
// # SQLite Configuration
//
// The store uses SQLite with WAL mode for concurrent reads:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// Use NewSQLiteStore(":memory:") for tests with real SQLite.
//
// # Error Handling
//
// ErrNotFound is returned when a requested session or job does not exist.
// DeleteSession and DeleteJob are idempotent: deleting an absent entity
// succeeds. All methods accept context.Context for cancellation support.
package store
