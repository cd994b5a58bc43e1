// ABOUTME: Store interface and data types for microbe-gateway persistence
// ABOUTME: Defines User, Message and the query shapes the conversation core relies on

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateUser is returned when creating a user whose username is taken
var ErrDuplicateUser = errors.New("username already taken")

// UserRef is the public projection of a user attached to messages and threads.
type UserRef struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

// User is a stored account. Only the login path ever reads PasswordHash.
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// Ref returns the public projection of the user.
func (u *User) Ref() UserRef {
	return UserRef{ID: u.ID, Username: u.Username}
}

// Message is one row of the append-only message log, denormalized with
// sender and recipient projections for display.
type Message struct {
	ID        int64     `json:"id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
	Read      bool      `json:"read"`
	SentByID  int64     `json:"sentById"`
	SentToID  int64     `json:"sentToId"`
	SentBy    UserRef   `json:"sentBy"`
	SentTo    UserRef   `json:"sentTo"`
}

// NewMessage holds the fields supplied when appending to the message log.
// The row is always created unread.
type NewMessage struct {
	Content   string
	SentByID  int64
	SentToID  int64
	CreatedAt time.Time
}

// MessageStore is the message log as seen by the conversation core.
type MessageStore interface {
	// ListMessagesForUser returns every message the user sent or received,
	// newest first (created_at DESC, id DESC).
	ListMessagesForUser(ctx context.Context, userID int64) ([]*Message, error)

	// ListConversation returns the messages exchanged between a and b in either
	// direction, oldest first (created_at ASC, id ASC).
	ListConversation(ctx context.Context, a, b int64) ([]*Message, error)

	// MarkRead flips every unread message from sentByID to sentToID to read in
	// one statement and reports how many rows changed.
	MarkRead(ctx context.Context, sentByID, sentToID int64) (int64, error)

	// CreateMessage appends a message and returns the stored row with projections.
	CreateMessage(ctx context.Context, msg *NewMessage) (*Message, error)
}

// UserStore covers the user lookups the gateway needs.
type UserStore interface {
	UserExists(ctx context.Context, id int64) (bool, error)
	GetUser(ctx context.Context, id int64) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	CreateUser(ctx context.Context, user *User) error
}

// Store defines the full persistence surface
type Store interface {
	MessageStore
	UserStore

	// Ping checks the backing database is reachable
	Ping(ctx context.Context) error

	// Close releases any resources held by the store
	Close() error
}
