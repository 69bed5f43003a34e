// Package store provides the SQLite sink for flattened player and event rows
// and the run history table.
//
// # Tables
//
//   - fixture_player_stats: one row per (fixture_id, player_id). Loads are
//     idempotent upserts on that key, so re-loading a round replaces rows
//     instead of duplicating them.
//   - fixture_events: one row per (fixture_id, seq), seq being the event's
//     1-based position in the fixture's event list.
//   - runs: one row per pipeline run with its dataset and summary counts.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Timestamps are stored as RFC 3339 UTC text.
package store
