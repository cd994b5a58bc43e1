// ABOUTME: Tests for the conversation Service
// ABOUTME: Verifies validation, read-marking order and bundle assembly against mock and SQLite stores

package conversation

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NightFury20/microbe-messaging/internal/store"
)

func createTestStore(t *testing.T) *store.SQLStore {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")
	s, err := store.NewSQLiteStore(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func createUser(t *testing.T, s store.Store, username string) int64 {
	u := &store.User{Username: username, PasswordHash: "x"}
	require.NoError(t, s.CreateUser(t.Context(), u))
	return u.ID
}

// fixedClock returns a clock that advances one second per call.
func fixedClock(start time.Time) func() time.Time {
	now := start
	return func() time.Time {
		now = now.Add(time.Second)
		return now
	}
}

func newMockService(t *testing.T) (*Service, *store.MockStore) {
	ms := store.NewMockStore()
	ms.AddUser(1, "bob")
	ms.AddUser(2, "alice")
	svc := New(ms, nil)
	svc.SetClock(fixedClock(base))
	return svc, ms
}

func TestService_SendMessage_SelfMessageNeverTouchesStore(t *testing.T) {
	svc, ms := newMockService(t)

	msg, err := svc.SendMessage(t.Context(), "hello me", 1, 1)

	assert.Nil(t, msg)
	require.Error(t, err)
	assert.True(t, IsValidation(err))
	assert.ErrorIs(t, err, ErrSelfMessage)
	assert.Equal(t, 0, ms.TotalCalls())
	assert.Equal(t, 0, ms.MessageCount())
}

func TestService_SendMessage_UnknownRecipientDoesNotInsert(t *testing.T) {
	svc, ms := newMockService(t)

	_, err := svc.SendMessage(t.Context(), "anyone there?", 1, 99)

	require.Error(t, err)
	assert.True(t, IsValidation(err))
	assert.ErrorIs(t, err, ErrUnknownRecipient)
	assert.Equal(t, 1, ms.CallCount("UserExists"))
	assert.Equal(t, 0, ms.CallCount("CreateMessage"))
	assert.Equal(t, 0, ms.MessageCount())
}

func TestService_SendMessage_ContentRules(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    error
	}{
		{"empty", "", ErrEmptyContent},
		{"whitespace", " \t\n ", ErrEmptyContent},
		{"too long", strings.Repeat("é", MaxContentLength+1), ErrContentTooLong},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, ms := newMockService(t)

			_, err := svc.SendMessage(t.Context(), tt.content, 1, 2)

			require.Error(t, err)
			assert.True(t, IsValidation(err))
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, 0, ms.TotalCalls())
		})
	}
}

func TestService_SendMessage_MaxLengthAccepted(t *testing.T) {
	svc, _ := newMockService(t)

	content := strings.Repeat("é", MaxContentLength)
	msg, err := svc.SendMessage(t.Context(), content, 1, 2)

	require.NoError(t, err)
	assert.Equal(t, content, msg.Content)
}

func TestService_SendMessage_StoreFailureIsNotValidation(t *testing.T) {
	svc, ms := newMockService(t)
	ms.SetError("CreateMessage", errors.New("disk full"))

	_, err := svc.SendMessage(t.Context(), "hi", 1, 2)

	require.Error(t, err)
	assert.False(t, IsValidation(err))
	assert.Contains(t, err.Error(), "disk full")
}

func TestService_SendMessage_ReturnsProjections(t *testing.T) {
	svc, _ := newMockService(t)

	msg, err := svc.SendMessage(t.Context(), "  spaced  ", 2, 1)

	require.NoError(t, err)
	assert.Equal(t, "  spaced  ", msg.Content, "content is stored as sent")
	assert.False(t, msg.Read)
	assert.Equal(t, store.UserRef{ID: 2, Username: "alice"}, msg.SentBy)
	assert.Equal(t, store.UserRef{ID: 1, Username: "bob"}, msg.SentTo)
	assert.Equal(t, base.Add(time.Second), msg.CreatedAt)
}

func TestService_SendMessage_DuplicatesAreNotCollapsed(t *testing.T) {
	svc, ms := newMockService(t)

	_, err := svc.SendMessage(t.Context(), "hi", 2, 1)
	require.NoError(t, err)
	_, err = svc.SendMessage(t.Context(), "hi", 2, 1)
	require.NoError(t, err)

	assert.Equal(t, 2, ms.MessageCount())
}

func TestService_BobAliceScenario(t *testing.T) {
	s := createTestStore(t)
	ctx := t.Context()
	bobID := createUser(t, s, "bob")
	aliceID := createUser(t, s, "alice")

	svc := New(s, nil)
	svc.SetClock(fixedClock(base))

	_, err := svc.SendMessage(ctx, "hi", aliceID, bobID)
	require.NoError(t, err)
	_, err = svc.SendMessage(ctx, "there", aliceID, bobID)
	require.NoError(t, err)

	threads, err := svc.GetThreads(ctx, bobID)
	require.NoError(t, err)
	require.Len(t, threads, 1)
	assert.Equal(t, "alice", threads[0].OtherUser.Username)
	assert.Equal(t, aliceID, threads[0].OtherUser.ID)
	assert.Equal(t, "there", threads[0].LastMessage.Content)
	assert.Equal(t, 2, threads[0].UnreadCount)

	require.NoError(t, svc.MarkRead(ctx, bobID, aliceID))

	threads, err = svc.GetThreads(ctx, bobID)
	require.NoError(t, err)
	require.Len(t, threads, 1)
	assert.Equal(t, 0, threads[0].UnreadCount)
}

func TestService_MarkRead_OnlyOneDirection(t *testing.T) {
	svc, _ := newMockService(t)
	ctx := t.Context()

	_, err := svc.SendMessage(ctx, "to alice", 1, 2)
	require.NoError(t, err)
	_, err = svc.SendMessage(ctx, "to bob", 2, 1)
	require.NoError(t, err)

	// bob reads alice's messages; alice's unread from bob is untouched
	require.NoError(t, svc.MarkRead(ctx, 1, 2))

	aliceThreads, err := svc.GetThreads(ctx, 2)
	require.NoError(t, err)
	require.Len(t, aliceThreads, 1)
	assert.Equal(t, 1, aliceThreads[0].UnreadCount)

	// no-op second call is fine
	require.NoError(t, svc.MarkRead(ctx, 1, 2))
}

func TestService_MarkRead_PropagatesStoreError(t *testing.T) {
	svc, ms := newMockService(t)
	ms.SetError("MarkRead", errors.New("locked"))

	err := svc.MarkRead(t.Context(), 1, 2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "locked")
}

func TestService_GetThreadMessages_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := t.Context()
	bobID := createUser(t, s, "bob")
	aliceID := createUser(t, s, "alice")

	svc := New(s, nil)
	svc.SetClock(func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC) })

	sent, err := svc.SendMessage(ctx, "round trip ✓", bobID, aliceID)
	require.NoError(t, err)

	history, err := svc.GetThreadMessages(ctx, aliceID, bobID)
	require.NoError(t, err)
	require.Len(t, history, 1)

	got := history[0]
	assert.Equal(t, sent.ID, got.ID)
	assert.Equal(t, sent.Content, got.Content)
	assert.True(t, sent.CreatedAt.Equal(got.CreatedAt))
	assert.Equal(t, bobID, got.SentByID)
	assert.Equal(t, aliceID, got.SentToID)
}

func TestService_GetThreadMessages_OldestFirst(t *testing.T) {
	svc, _ := newMockService(t)
	ctx := t.Context()

	for _, c := range []string{"one", "two", "three"} {
		_, err := svc.SendMessage(ctx, c, 1, 2)
		require.NoError(t, err)
	}

	history, err := svc.GetThreadMessages(ctx, 2, 1)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "one", history[0].Content)
	assert.Equal(t, "three", history[2].Content)
}

func TestService_GetBundle_NoSelection(t *testing.T) {
	svc, ms := newMockService(t)
	ctx := t.Context()

	_, err := svc.SendMessage(ctx, "hi", 2, 1)
	require.NoError(t, err)

	bundle, err := svc.GetBundle(ctx, 1, "bob", nil)
	require.NoError(t, err)

	assert.Equal(t, "bob", bundle.Username)
	assert.Nil(t, bundle.CurrentChat)
	require.Len(t, bundle.Threads, 1)
	assert.Equal(t, 1, bundle.Threads[0].UnreadCount)
	assert.Equal(t, 0, ms.CallCount("MarkRead"))
}

func TestService_GetBundle_SelectionMarksReadBeforeAggregating(t *testing.T) {
	svc, _ := newMockService(t)
	ctx := t.Context()

	_, err := svc.SendMessage(ctx, "hi", 2, 1)
	require.NoError(t, err)
	_, err = svc.SendMessage(ctx, "there", 2, 1)
	require.NoError(t, err)

	selected := int64(2)
	bundle, err := svc.GetBundle(ctx, 1, "bob", &selected)
	require.NoError(t, err)

	require.Len(t, bundle.CurrentChat, 2)
	assert.Equal(t, "hi", bundle.CurrentChat[0].Content)
	assert.True(t, bundle.CurrentChat[1].Read)
	require.Len(t, bundle.Threads, 1)
	assert.Equal(t, 0, bundle.Threads[0].UnreadCount)
}

func TestService_GetBundle_SelectingSelfIsHarmless(t *testing.T) {
	svc, _ := newMockService(t)

	self := int64(1)
	bundle, err := svc.GetBundle(t.Context(), 1, "bob", &self)
	require.NoError(t, err)
	assert.Empty(t, bundle.CurrentChat)
	assert.Empty(t, bundle.Threads)
}

func TestService_GetBundle_StoreErrorAborts(t *testing.T) {
	svc, ms := newMockService(t)
	ms.SetError("ListMessagesForUser", errors.New("boom"))

	bundle, err := svc.GetBundle(t.Context(), 1, "bob", nil)
	assert.Nil(t, bundle)
	require.Error(t, err)
}

func TestService_GetBundle_ConcurrentDevicesSeeSameData(t *testing.T) {
	s := createTestStore(t)
	ctx := t.Context()
	bobID := createUser(t, s, "bob")
	aliceID := createUser(t, s, "alice")
	svc := New(s, nil)

	_, err := svc.SendMessage(ctx, "hello bob", aliceID, bobID)
	require.NoError(t, err)

	results := make(chan *Bundle, 2)
	for range 2 {
		go func() {
			b, err := svc.GetBundle(context.WithoutCancel(ctx), bobID, "bob", nil)
			if err != nil {
				results <- nil
				return
			}
			results <- b
		}()
	}

	first, second := <-results, <-results
	require.NotNil(t, first)
	require.NotNil(t, second)
	assert.Equal(t, first.Threads, second.Threads)
	assert.Equal(t, first.CurrentChat, second.CurrentChat)
}

func TestService_FindUser(t *testing.T) {
	svc, _ := newMockService(t)

	ref, err := svc.FindUser(t.Context(), " alice ")
	require.NoError(t, err)
	assert.Equal(t, store.UserRef{ID: 2, Username: "alice"}, ref)

	_, err = svc.FindUser(t.Context(), "mallory")
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = svc.FindUser(t.Context(), "  ")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
