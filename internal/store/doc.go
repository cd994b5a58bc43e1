// Package store provides persistence for microbe-gateway.
//
// # Architecture
//
// The message log is the only source of truth. There is no threads table:
// conversation summaries are derived from messages on every read by the
// conversation package, so nothing here can drift out of sync with it.
//
// Interfaces:
//
//   - MessageStore: the query shapes the conversation core needs
//   - UserStore: existence checks and login lookups
//   - Store: both, plus Ping and Close
//
// # Backends
//
// SQLStore implements Store over database/sql with a small dialect table:
//
//   - NewSQLiteStore(path): modernc.org/sqlite, WAL mode, ":memory:" supported
//   - NewPostgresStore(ctx, dsn): github.com/jackc/pgx/v5 via its stdlib driver
//
// Timestamps are stored in UTC at microsecond precision. SQLite keeps them in
// a fixed-width TEXT column so ORDER BY created_at is chronological.
//
// MockStore is an in-memory implementation with per-method error injection
// and call counting, used by the conversation and gateway tests.
//
// # Ordering
//
// Message ordering is created_at with ties broken by id. Both SQL backends
// assign ids in insertion order, so id is a stable tie-breaker.
package store
