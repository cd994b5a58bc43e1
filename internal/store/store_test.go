// ABOUTME: Shared behavioural tests run against every Store implementation
// ABOUTME: Covers ordering, bulk read-marking, user lookups and message round-trips

package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// storeFactories lists every backend the shared suite runs against.
func storeFactories(t *testing.T) map[string]func(t *testing.T) Store {
	factories := map[string]func(t *testing.T) Store{
		"sqlite": func(t *testing.T) Store { return newTestStore(t) },
		"mock":   func(t *testing.T) Store { return NewMockStore() },
	}
	if dsn := os.Getenv("MICROBE_TEST_POSTGRES_DSN"); dsn != "" {
		factories["postgres"] = func(t *testing.T) Store {
			s, err := NewPostgresStore(context.Background(), dsn)
			require.NoError(t, err)
			_, err = s.db.Exec(`TRUNCATE messages, users RESTART IDENTITY`)
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		}
	}
	return factories
}

func createUser(t *testing.T, s Store, username string) *User {
	t.Helper()
	u := &User{Username: username, PasswordHash: "x"}
	require.NoError(t, s.CreateUser(context.Background(), u))
	require.NotZero(t, u.ID)
	return u
}

func createMessage(t *testing.T, s Store, from, to *User, content string, at time.Time) *Message {
	t.Helper()
	msg, err := s.CreateMessage(context.Background(), &NewMessage{
		Content:   content,
		SentByID:  from.ID,
		SentToID:  to.ID,
		CreatedAt: at,
	})
	require.NoError(t, err)
	return msg
}

func TestStore_Suite(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			t.Run("CreateMessageReturnsProjections", func(t *testing.T) {
				s := factory(t)
				bob := createUser(t, s, "bob")
				alice := createUser(t, s, "alice")

				at := time.Date(2026, 3, 1, 12, 0, 0, 123456000, time.UTC)
				msg := createMessage(t, s, alice, bob, "hi", at)

				assert.NotZero(t, msg.ID)
				assert.Equal(t, "hi", msg.Content)
				assert.False(t, msg.Read)
				assert.True(t, at.Equal(msg.CreatedAt))
				assert.Equal(t, UserRef{ID: alice.ID, Username: "alice"}, msg.SentBy)
				assert.Equal(t, UserRef{ID: bob.ID, Username: "bob"}, msg.SentTo)
			})

			t.Run("ListMessagesForUserNewestFirst", func(t *testing.T) {
				s := factory(t)
				bob := createUser(t, s, "bob")
				alice := createUser(t, s, "alice")
				carol := createUser(t, s, "carol")

				base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
				createMessage(t, s, alice, bob, "one", base)
				createMessage(t, s, bob, carol, "two", base.Add(time.Minute))
				createMessage(t, s, alice, carol, "not bob", base.Add(2*time.Minute))
				createMessage(t, s, bob, alice, "three", base.Add(3*time.Minute))

				msgs, err := s.ListMessagesForUser(context.Background(), bob.ID)
				require.NoError(t, err)
				require.Len(t, msgs, 3)
				assert.Equal(t, "three", msgs[0].Content)
				assert.Equal(t, "two", msgs[1].Content)
				assert.Equal(t, "one", msgs[2].Content)
			})

			t.Run("TiesBrokenByID", func(t *testing.T) {
				s := factory(t)
				bob := createUser(t, s, "bob")
				alice := createUser(t, s, "alice")

				at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
				first := createMessage(t, s, alice, bob, "first", at)
				second := createMessage(t, s, alice, bob, "second", at)

				desc, err := s.ListMessagesForUser(context.Background(), bob.ID)
				require.NoError(t, err)
				require.Len(t, desc, 2)
				assert.Equal(t, second.ID, desc[0].ID)

				asc, err := s.ListConversation(context.Background(), bob.ID, alice.ID)
				require.NoError(t, err)
				require.Len(t, asc, 2)
				assert.Equal(t, first.ID, asc[0].ID)
			})

			t.Run("ListConversationBothDirectionsOldestFirst", func(t *testing.T) {
				s := factory(t)
				bob := createUser(t, s, "bob")
				alice := createUser(t, s, "alice")
				carol := createUser(t, s, "carol")

				base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
				createMessage(t, s, bob, alice, "b->a", base.Add(2*time.Minute))
				createMessage(t, s, alice, bob, "a->b", base)
				createMessage(t, s, carol, bob, "c->b", base.Add(time.Minute))

				msgs, err := s.ListConversation(context.Background(), bob.ID, alice.ID)
				require.NoError(t, err)
				require.Len(t, msgs, 2)
				assert.Equal(t, "a->b", msgs[0].Content)
				assert.Equal(t, "b->a", msgs[1].Content)

				// Argument order does not matter
				rev, err := s.ListConversation(context.Background(), alice.ID, bob.ID)
				require.NoError(t, err)
				assert.Equal(t, msgs, rev)
			})

			t.Run("MarkReadOnlyTouchesOneDirection", func(t *testing.T) {
				s := factory(t)
				ctx := context.Background()
				bob := createUser(t, s, "bob")
				alice := createUser(t, s, "alice")

				base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
				createMessage(t, s, alice, bob, "hi", base)
				createMessage(t, s, alice, bob, "there", base.Add(time.Second))
				createMessage(t, s, bob, alice, "yo", base.Add(2*time.Second))

				n, err := s.MarkRead(ctx, alice.ID, bob.ID)
				require.NoError(t, err)
				assert.Equal(t, int64(2), n)

				msgs, err := s.ListConversation(ctx, bob.ID, alice.ID)
				require.NoError(t, err)
				for _, m := range msgs {
					if m.SentByID == alice.ID {
						assert.True(t, m.Read, "message %q should be read", m.Content)
					} else {
						assert.False(t, m.Read, "reverse direction must stay unread")
					}
				}

				// Second call is a no-op, not an error
				n, err = s.MarkRead(ctx, alice.ID, bob.ID)
				require.NoError(t, err)
				assert.Zero(t, n)
			})

			t.Run("Users", func(t *testing.T) {
				s := factory(t)
				ctx := context.Background()
				bob := createUser(t, s, "bob")

				exists, err := s.UserExists(ctx, bob.ID)
				require.NoError(t, err)
				assert.True(t, exists)

				exists, err = s.UserExists(ctx, bob.ID+1000)
				require.NoError(t, err)
				assert.False(t, exists)

				got, err := s.GetUserByUsername(ctx, "bob")
				require.NoError(t, err)
				assert.Equal(t, bob.ID, got.ID)
				assert.Equal(t, "x", got.PasswordHash)

				got, err = s.GetUser(ctx, bob.ID)
				require.NoError(t, err)
				assert.Equal(t, "bob", got.Username)

				_, err = s.GetUserByUsername(ctx, "nobody")
				assert.ErrorIs(t, err, ErrNotFound)

				_, err = s.GetUser(ctx, bob.ID+1000)
				assert.ErrorIs(t, err, ErrNotFound)

				err = s.CreateUser(ctx, &User{Username: "bob", PasswordHash: "y"})
				assert.ErrorIs(t, err, ErrDuplicateUser)
			})

			t.Run("Ping", func(t *testing.T) {
				s := factory(t)
				assert.NoError(t, s.Ping(context.Background()))
			})
		})
	}
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "subdir", "nested", "test.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(dbPath)
	assert.NoError(t, err, "database file was not created in nested directory")
}

func TestNewSQLiteStore_InMemory(t *testing.T) {
	s, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer s.Close()

	bob := createUser(t, s, "bob")
	alice := createUser(t, s, "alice")
	createMessage(t, s, alice, bob, "hi", time.Now().UTC())

	msgs, err := s.ListMessagesForUser(context.Background(), bob.ID)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	bob := createUser(t, s, "bob")
	alice := createUser(t, s, "alice")
	at := time.Date(2026, 3, 1, 12, 0, 0, 999999000, time.UTC)
	sent := createMessage(t, s, alice, bob, "survives restart", at)
	require.NoError(t, s.Close())

	s, err = NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer s.Close()

	msgs, err := s.ListConversation(context.Background(), alice.ID, bob.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, sent, msgs[0])
}

func TestSQLiteStore_RejectsSelfMessage(t *testing.T) {
	s := newTestStore(t)
	bob := createUser(t, s, "bob")

	_, err := s.CreateMessage(context.Background(), &NewMessage{
		Content:   "me",
		SentByID:  bob.ID,
		SentToID:  bob.ID,
		CreatedAt: time.Now().UTC(),
	})
	assert.Error(t, err, "CHECK constraint should reject self-messages")
}

func TestSQLiteStore_RejectsUnknownUser(t *testing.T) {
	s := newTestStore(t)
	bob := createUser(t, s, "bob")

	_, err := s.CreateMessage(context.Background(), &NewMessage{
		Content:   "ghost",
		SentByID:  bob.ID,
		SentToID:  bob.ID + 99,
		CreatedAt: time.Now().UTC(),
	})
	assert.Error(t, err, "foreign key should reject unknown recipient")
}

func TestBindDollar(t *testing.T) {
	got := bindDollar("SELECT * FROM t WHERE a = ? AND (b = ? OR c = ?)")
	assert.Equal(t, "SELECT * FROM t WHERE a = $1 AND (b = $2 OR c = $3)", got)
}

func TestParseTime(t *testing.T) {
	want := time.Date(2026, 1, 2, 3, 4, 5, 6000, time.UTC)

	got, err := parseTime(want.Format(sqliteTimeLayout))
	require.NoError(t, err)
	assert.True(t, want.Equal(got))

	got, err = parseTime([]byte(want.Format(sqliteTimeLayout)))
	require.NoError(t, err)
	assert.True(t, want.Equal(got))

	got, err = parseTime(want.In(time.FixedZone("x", 3600)))
	require.NoError(t, err)
	assert.Equal(t, time.UTC, got.Location())

	_, err = parseTime(42)
	assert.Error(t, err)
}
