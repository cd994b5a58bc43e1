// ABOUTME: database/sql implementation of the Store interface shared by SQLite and Postgres
// ABOUTME: Dialect hooks cover placeholders, timestamp encoding and unique-violation detection

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// dialect captures the few places where SQLite and Postgres disagree.
type dialect struct {
	name              string
	driver            string
	schema            string
	bind              func(query string) string
	formatTime        func(t time.Time) any
	isUniqueViolation func(err error) bool
}

// SQLStore implements Store on top of database/sql
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	logger  *slog.Logger
}

var _ Store = (*SQLStore)(nil)

func openSQLStore(d dialect, dsn string, logger *slog.Logger) (*SQLStore, error) {
	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return &SQLStore{db: db, dialect: d, logger: logger}, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLStore) createSchema() error {
	_, err := s.db.Exec(s.dialect.schema)
	return err
}

// bindDollar rewrites ? placeholders into $1, $2, ... for Postgres.
// None of our queries contain a literal question mark.
func bindDollar(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// parseTime accepts whatever the driver hands back for a timestamp column.
func parseTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case string:
		return time.Parse(sqliteTimeLayout, t)
	case []byte:
		return time.Parse(sqliteTimeLayout, string(t))
	default:
		return time.Time{}, fmt.Errorf("unexpected timestamp type %T", v)
	}
}

// Ping checks the database is reachable
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *SQLStore) Close() error {
	s.logger.Info("closing store")
	return s.db.Close()
}

const messageColumns = `
	SELECT m.id, m.content, m.created_at, m.is_read, m.sent_by_id, m.sent_to_id,
	       sb.username, st.username
	FROM messages m
	JOIN users sb ON sb.id = m.sent_by_id
	JOIN users st ON st.id = m.sent_to_id
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*Message, error) {
	var msg Message
	var createdAt any
	if err := row.Scan(
		&msg.ID,
		&msg.Content,
		&createdAt,
		&msg.Read,
		&msg.SentByID,
		&msg.SentToID,
		&msg.SentBy.Username,
		&msg.SentTo.Username,
	); err != nil {
		return nil, err
	}
	ts, err := parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	msg.CreatedAt = ts
	msg.SentBy.ID = msg.SentByID
	msg.SentTo.ID = msg.SentToID
	return &msg, nil
}

func (s *SQLStore) queryMessages(ctx context.Context, query string, args ...any) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.bind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	messages := make([]*Message, 0)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}
	return messages, nil
}

// ListMessagesForUser returns every message touching userID, newest first.
func (s *SQLStore) ListMessagesForUser(ctx context.Context, userID int64) ([]*Message, error) {
	query := messageColumns + `
		WHERE m.sent_by_id = ? OR m.sent_to_id = ?
		ORDER BY m.created_at DESC, m.id DESC
	`
	return s.queryMessages(ctx, query, userID, userID)
}

// ListConversation returns the full history between a and b, oldest first.
func (s *SQLStore) ListConversation(ctx context.Context, a, b int64) ([]*Message, error) {
	query := messageColumns + `
		WHERE (m.sent_by_id = ? AND m.sent_to_id = ?)
		   OR (m.sent_by_id = ? AND m.sent_to_id = ?)
		ORDER BY m.created_at ASC, m.id ASC
	`
	return s.queryMessages(ctx, query, a, b, b, a)
}

// MarkRead flips unread messages from sentByID to sentToID in a single UPDATE.
func (s *SQLStore) MarkRead(ctx context.Context, sentByID, sentToID int64) (int64, error) {
	query := `
		UPDATE messages SET is_read = TRUE
		WHERE sent_by_id = ? AND sent_to_id = ? AND is_read = FALSE
	`
	res, err := s.db.ExecContext(ctx, s.dialect.bind(query), sentByID, sentToID)
	if err != nil {
		return 0, fmt.Errorf("marking messages read: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reading rows affected: %w", err)
	}
	return n, nil
}

// CreateMessage inserts the message and reads it back with projections
// inside one transaction.
func (s *SQLStore) CreateMessage(ctx context.Context, msg *NewMessage) (*Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	insert := `
		INSERT INTO messages (content, created_at, is_read, sent_by_id, sent_to_id)
		VALUES (?, ?, FALSE, ?, ?)
		RETURNING id
	`
	var id int64
	err = tx.QueryRowContext(ctx, s.dialect.bind(insert),
		msg.Content,
		s.dialect.formatTime(msg.CreatedAt),
		msg.SentByID,
		msg.SentToID,
	).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("inserting message: %w", err)
	}

	stored, err := scanMessage(tx.QueryRowContext(ctx, s.dialect.bind(messageColumns+` WHERE m.id = ?`), id))
	if err != nil {
		return nil, fmt.Errorf("reading inserted message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing message: %w", err)
	}

	s.logger.Debug("created message", "id", stored.ID, "sent_by", stored.SentByID, "sent_to", stored.SentToID)
	return stored, nil
}

// UserExists reports whether a user with the given id exists.
func (s *SQLStore) UserExists(ctx context.Context, id int64) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, s.dialect.bind(`SELECT 1 FROM users WHERE id = ?`), id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking user: %w", err)
	}
	return true, nil
}

func (s *SQLStore) getUser(ctx context.Context, where string, arg any) (*User, error) {
	query := `SELECT id, username, password_hash, created_at FROM users WHERE ` + where
	var user User
	var createdAt any
	err := s.db.QueryRowContext(ctx, s.dialect.bind(query), arg).Scan(
		&user.ID,
		&user.Username,
		&user.PasswordHash,
		&createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}
	user.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &user, nil
}

// GetUser retrieves a user by id. Returns ErrNotFound if missing.
func (s *SQLStore) GetUser(ctx context.Context, id int64) (*User, error) {
	return s.getUser(ctx, "id = ?", id)
}

// GetUserByUsername retrieves a user by username. Returns ErrNotFound if missing.
func (s *SQLStore) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	return s.getUser(ctx, "username = ?", username)
}

// CreateUser inserts a user and sets user.ID. Returns ErrDuplicateUser if the
// username is taken.
func (s *SQLStore) CreateUser(ctx context.Context, user *User) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC().Truncate(time.Microsecond)
	}
	query := `
		INSERT INTO users (username, password_hash, created_at)
		VALUES (?, ?, ?)
		RETURNING id
	`
	err := s.db.QueryRowContext(ctx, s.dialect.bind(query),
		user.Username,
		user.PasswordHash,
		s.dialect.formatTime(user.CreatedAt),
	).Scan(&user.ID)
	if err != nil {
		if s.dialect.isUniqueViolation(err) {
			return ErrDuplicateUser
		}
		return fmt.Errorf("inserting user: %w", err)
	}

	s.logger.Debug("created user", "id", user.ID, "username", user.Username)
	return nil
}
