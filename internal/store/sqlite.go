// ABOUTME: SQLite backend for SQLStore using modernc.org/sqlite
// ABOUTME: Opens the database file, enables WAL and foreign keys, and creates the schema

package store

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// sqliteTimeLayout is fixed width so lexical order of the TEXT column equals
// chronological order. Times are always written in UTC.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000Z07:00"

var sqliteDialect = dialect{
	name:   "sqlite",
	driver: "sqlite",
	schema: `
		CREATE TABLE IF NOT EXISTS users (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			username      TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			created_at    TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS messages (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			content    TEXT NOT NULL,
			created_at TEXT NOT NULL,
			is_read    INTEGER NOT NULL DEFAULT 0,
			sent_by_id INTEGER NOT NULL REFERENCES users(id),
			sent_to_id INTEGER NOT NULL REFERENCES users(id),

			CHECK (sent_by_id <> sent_to_id)
		);

		CREATE INDEX IF NOT EXISTS idx_messages_sent_by ON messages(sent_by_id, created_at);
		CREATE INDEX IF NOT EXISTS idx_messages_sent_to ON messages(sent_to_id, created_at);
		CREATE INDEX IF NOT EXISTS idx_messages_unread ON messages(sent_to_id, sent_by_id, is_read);
	`,
	bind:       func(query string) string { return query },
	formatTime: func(t time.Time) any { return t.UTC().Format(sqliteTimeLayout) },
	isUniqueViolation: func(err error) bool {
		return strings.Contains(err.Error(), "UNIQUE constraint failed")
	},
}

// NewSQLiteStore creates a new SQLite-backed store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed. ":memory:" opens a private
// in-memory database.
func NewSQLiteStore(path string) (*SQLStore, error) {
	logger := slog.Default().With("component", "store", "driver", "sqlite")

	// foreign_keys and busy_timeout are per connection, so they go in the DSN
	// where the driver applies them to every pooled connection.
	dsn := path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	if path == ":memory:" {
		dsn = path
	} else {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	s, err := openSQLStore(sqliteDialect, dsn, logger)
	if err != nil {
		return nil, err
	}

	if path == ":memory:" {
		// Every pooled connection would otherwise open its own empty database
		s.db.SetMaxOpenConns(1)
		if _, err := s.db.Exec("PRAGMA foreign_keys=ON"); err != nil {
			s.db.Close()
			return nil, fmt.Errorf("enabling foreign keys: %w", err)
		}
	} else {
		// Enable WAL mode for better concurrent performance
		if _, err := s.db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			s.db.Close()
			return nil, fmt.Errorf("enabling WAL mode: %w", err)
		}
	}

	if err := s.createSchema(); err != nil {
		s.db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}
