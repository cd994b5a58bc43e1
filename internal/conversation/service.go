// ABOUTME: Conversation service: message mutation pipeline, read-state tracking and data bundles
// ABOUTME: Every view is derived from the message log on request; nothing is cached here

package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/NightFury20/microbe-messaging/internal/store"
)

// MaxContentLength is the longest message accepted, in runes.
const MaxContentLength = 4000

// ConversationStore defines what the service needs from storage
type ConversationStore interface {
	store.MessageStore

	UserExists(ctx context.Context, id int64) (bool, error)
	GetUserByUsername(ctx context.Context, username string) (*store.User, error)
}

// Service is the conversation layer. Sends are recorded before anything
// else can observe them; reads are always recomputed from the log.
type Service struct {
	store  ConversationStore
	logger *slog.Logger
	now    func() time.Time
}

// New creates a new conversation Service
func New(store ConversationStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  store,
		logger: logger.With("component", "conversation"),
		now:    time.Now,
	}
}

// SetClock replaces the time source used to stamp new messages.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Bundle is everything a client needs to render its current view.
// CurrentChat is nil when no conversation is open.
type Bundle struct {
	Username    string           `json:"username"`
	Threads     []Thread         `json:"threads"`
	CurrentChat []*store.Message `json:"currentChat"`
}

// SendMessage validates and appends a message from sentByID to sentToID.
//
// Self-messages and malformed content are rejected before any store access.
// A missing recipient is rejected without writing. Duplicate calls create
// duplicate messages; exactly-once delivery is the caller's concern.
func (s *Service) SendMessage(ctx context.Context, content string, sentByID, sentToID int64) (*store.Message, error) {
	if sentByID == sentToID {
		return nil, invalid(ErrSelfMessage)
	}
	if strings.TrimSpace(content) == "" {
		return nil, invalid(ErrEmptyContent)
	}
	if utf8.RuneCountInString(content) > MaxContentLength {
		return nil, invalid(ErrContentTooLong)
	}

	exists, err := s.store.UserExists(ctx, sentToID)
	if err != nil {
		return nil, fmt.Errorf("checking recipient: %w", err)
	}
	if !exists {
		return nil, invalid(ErrUnknownRecipient)
	}

	msg, err := s.store.CreateMessage(ctx, &store.NewMessage{
		Content:   content,
		SentByID:  sentByID,
		SentToID:  sentToID,
		CreatedAt: s.now().UTC().Truncate(time.Microsecond),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record message: %w", err)
	}

	s.logger.Debug("message recorded",
		"message_id", msg.ID,
		"sent_by", sentByID,
		"sent_to", sentToID)
	return msg, nil
}

// MarkRead marks every unread message sendingUserID sent to receivingUserID
// as read. Finding nothing to mark is not an error.
func (s *Service) MarkRead(ctx context.Context, receivingUserID, sendingUserID int64) error {
	n, err := s.store.MarkRead(ctx, sendingUserID, receivingUserID)
	if err != nil {
		return fmt.Errorf("marking chat read: %w", err)
	}
	if n > 0 {
		s.logger.Debug("marked messages read",
			"receiver", receivingUserID,
			"sender", sendingUserID,
			"count", n)
	}
	return nil
}

// GetThreads returns the user's conversation summaries, most recent first.
func (s *Service) GetThreads(ctx context.Context, userID int64) ([]Thread, error) {
	messages, err := s.store.ListMessagesForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	return AggregateThreads(userID, messages), nil
}

// GetThreadMessages returns the full history between userID and otherUserID,
// oldest first.
func (s *Service) GetThreadMessages(ctx context.Context, userID, otherUserID int64) ([]*store.Message, error) {
	messages, err := s.store.ListConversation(ctx, userID, otherUserID)
	if err != nil {
		return nil, fmt.Errorf("listing conversation: %w", err)
	}
	return messages, nil
}

// OpenThread marks the thread with otherUserID read for userID and then
// returns its history. Read-marking happens first so the caller's next
// GetThreads reflects it.
func (s *Service) OpenThread(ctx context.Context, userID, otherUserID int64) ([]*store.Message, error) {
	if err := s.MarkRead(ctx, userID, otherUserID); err != nil {
		return nil, err
	}
	return s.GetThreadMessages(ctx, userID, otherUserID)
}

// GetBundle assembles the data bundle for one connection. When selected is
// non-nil that thread is opened (and marked read) before threads are
// aggregated, so the unread counts include the read just performed.
func (s *Service) GetBundle(ctx context.Context, userID int64, username string, selected *int64) (*Bundle, error) {
	bundle := &Bundle{Username: username}

	if selected != nil {
		chat, err := s.OpenThread(ctx, userID, *selected)
		if err != nil {
			return nil, err
		}
		bundle.CurrentChat = chat
	}

	threads, err := s.GetThreads(ctx, userID)
	if err != nil {
		return nil, err
	}
	bundle.Threads = threads
	return bundle, nil
}

// FindUser looks a user up by username for starting a new chat.
// Returns store.ErrNotFound when there is no such user.
func (s *Service) FindUser(ctx context.Context, username string) (store.UserRef, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return store.UserRef{}, store.ErrNotFound
	}
	user, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		return store.UserRef{}, err
	}
	return user.Ref(), nil
}
