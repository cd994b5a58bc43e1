// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without a database and to inject failures per call

package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu       sync.RWMutex
	users    map[int64]*User
	messages []*Message
	nextUser int64
	nextMsg  int64

	// Calls counts every store method invocation, keyed by method name
	Calls map[string]int

	// Err, when set, is returned by every method whose name maps to it
	Err map[string]error
}

var _ Store = (*MockStore)(nil)

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		users: make(map[int64]*User),
		Calls: make(map[string]int),
		Err:   make(map[string]error),
	}
}

// record notes a call and returns the injected error for it, if any.
// Caller must hold mu.
func (m *MockStore) record(method string) error {
	m.Calls[method]++
	return m.Err[method]
}

// CallCount returns how many times the named method was called.
func (m *MockStore) CallCount(method string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.Calls[method]
}

// TotalCalls returns the number of calls across all methods.
func (m *MockStore) TotalCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	total := 0
	for _, n := range m.Calls {
		total += n
	}
	return total
}

// SetError injects err for every subsequent call of method.
func (m *MockStore) SetError(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Err[method] = err
}

// AddUser inserts a user directly, bypassing call accounting.
func (m *MockStore) AddUser(id int64, username string) *User {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := &User{ID: id, Username: username, CreatedAt: time.Now().UTC()}
	m.users[id] = u
	if id > m.nextUser {
		m.nextUser = id
	}
	return u
}

// MessageCount returns the number of stored messages.
func (m *MockStore) MessageCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.messages)
}

func (m *MockStore) ref(id int64) UserRef {
	if u, ok := m.users[id]; ok {
		return u.Ref()
	}
	return UserRef{ID: id}
}

func copyMessage(msg *Message) *Message {
	c := *msg
	return &c
}

// ListMessagesForUser returns messages touching userID, newest first.
func (m *MockStore) ListMessagesForUser(ctx context.Context, userID int64) ([]*Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("ListMessagesForUser"); err != nil {
		return nil, err
	}

	result := make([]*Message, 0)
	for _, msg := range m.messages {
		if msg.SentByID == userID || msg.SentToID == userID {
			result = append(result, copyMessage(msg))
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})
	return result, nil
}

// ListConversation returns messages between a and b, oldest first.
func (m *MockStore) ListConversation(ctx context.Context, a, b int64) ([]*Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("ListConversation"); err != nil {
		return nil, err
	}

	result := make([]*Message, 0)
	for _, msg := range m.messages {
		if (msg.SentByID == a && msg.SentToID == b) || (msg.SentByID == b && msg.SentToID == a) {
			result = append(result, copyMessage(msg))
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// MarkRead flips unread messages from sentByID to sentToID.
func (m *MockStore) MarkRead(ctx context.Context, sentByID, sentToID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("MarkRead"); err != nil {
		return 0, err
	}

	var n int64
	for _, msg := range m.messages {
		if msg.SentByID == sentByID && msg.SentToID == sentToID && !msg.Read {
			msg.Read = true
			n++
		}
	}
	return n, nil
}

// CreateMessage appends a message.
func (m *MockStore) CreateMessage(ctx context.Context, msg *NewMessage) (*Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("CreateMessage"); err != nil {
		return nil, err
	}

	m.nextMsg++
	stored := &Message{
		ID:        m.nextMsg,
		Content:   msg.Content,
		CreatedAt: msg.CreatedAt.UTC(),
		SentByID:  msg.SentByID,
		SentToID:  msg.SentToID,
		SentBy:    m.ref(msg.SentByID),
		SentTo:    m.ref(msg.SentToID),
	}
	m.messages = append(m.messages, stored)
	return copyMessage(stored), nil
}

// UserExists reports whether the user exists.
func (m *MockStore) UserExists(ctx context.Context, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("UserExists"); err != nil {
		return false, err
	}
	_, ok := m.users[id]
	return ok, nil
}

// GetUser retrieves a user by id.
func (m *MockStore) GetUser(ctx context.Context, id int64) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("GetUser"); err != nil {
		return nil, err
	}
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *u
	return &c, nil
}

// GetUserByUsername retrieves a user by username.
func (m *MockStore) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("GetUserByUsername"); err != nil {
		return nil, err
	}
	for _, u := range m.users {
		if u.Username == username {
			c := *u
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

// CreateUser stores a new user and assigns its ID.
func (m *MockStore) CreateUser(ctx context.Context, user *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("CreateUser"); err != nil {
		return err
	}
	for _, u := range m.users {
		if u.Username == user.Username {
			return ErrDuplicateUser
		}
	}
	m.nextUser++
	user.ID = m.nextUser
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	c := *user
	m.users[user.ID] = &c
	return nil
}

// Ping always succeeds unless an error is injected.
func (m *MockStore) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.record("Ping")
}

// Close is a no-op.
func (m *MockStore) Close() error {
	return nil
}
