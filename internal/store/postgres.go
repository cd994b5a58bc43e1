// ABOUTME: Postgres backend for SQLStore using the pgx stdlib driver
// ABOUTME: Same queries as SQLite with $n placeholders and TIMESTAMPTZ columns

package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// pgUniqueViolation is the SQLSTATE for unique_violation
const pgUniqueViolation = "23505"

var postgresDialect = dialect{
	name:   "postgres",
	driver: "pgx",
	schema: `
		CREATE TABLE IF NOT EXISTS users (
			id            BIGSERIAL PRIMARY KEY,
			username      TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			created_at    TIMESTAMPTZ NOT NULL
		);

		CREATE TABLE IF NOT EXISTS messages (
			id         BIGSERIAL PRIMARY KEY,
			content    TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			is_read    BOOLEAN NOT NULL DEFAULT FALSE,
			sent_by_id BIGINT NOT NULL REFERENCES users(id),
			sent_to_id BIGINT NOT NULL REFERENCES users(id),

			CHECK (sent_by_id <> sent_to_id)
		);

		CREATE INDEX IF NOT EXISTS idx_messages_sent_by ON messages(sent_by_id, created_at);
		CREATE INDEX IF NOT EXISTS idx_messages_sent_to ON messages(sent_to_id, created_at);
		CREATE INDEX IF NOT EXISTS idx_messages_unread ON messages(sent_to_id, sent_by_id) WHERE NOT is_read;
	`,
	bind:       bindDollar,
	formatTime: func(t time.Time) any { return t.UTC() },
	isUniqueViolation: func(err error) bool {
		var pgErr *pgconn.PgError
		return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
	},
}

// NewPostgresStore connects to Postgres with the given DSN, verifies the
// connection and creates the schema if needed.
func NewPostgresStore(ctx context.Context, dsn string) (*SQLStore, error) {
	logger := slog.Default().With("component", "store", "driver", "postgres")

	s, err := openSQLStore(postgresDialect, dsn, logger)
	if err != nil {
		return nil, err
	}

	if err := s.db.PingContext(ctx); err != nil {
		_ = s.db.Close()
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}

	if err := s.createSchema(); err != nil {
		_ = s.db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("Postgres store initialized")
	return s, nil
}
