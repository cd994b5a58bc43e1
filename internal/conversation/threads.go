// ABOUTME: Thread aggregation over the message log
// ABOUTME: Folds newest-first messages into one summary per counterpart with unread counts

package conversation

import (
	"slices"

	"github.com/NightFury20/microbe-messaging/internal/store"
)

// Thread is the derived summary of one conversation from the viewer's side.
type Thread struct {
	OtherUser   store.UserRef  `json:"otherUser"`
	LastMessage *store.Message `json:"lastMessage"`
	UnreadCount int            `json:"unreadCount"`
}

// AggregateThreads folds the messages touching userID into one Thread per
// counterpart. messages must be ordered newest first, as returned by
// ListMessagesForUser, so the first message seen for a counterpart is its
// latest. The result is sorted by that latest message, newest first.
func AggregateThreads(userID int64, messages []*store.Message) []Thread {
	threads := make([]Thread, 0)
	index := make(map[int64]int)

	for _, msg := range messages {
		other := msg.SentBy
		if msg.SentByID == userID {
			other = msg.SentTo
		}
		unread := !msg.Read && msg.SentToID == userID

		i, seen := index[other.ID]
		if !seen {
			index[other.ID] = len(threads)
			t := Thread{OtherUser: other, LastMessage: msg}
			if unread {
				t.UnreadCount = 1
			}
			threads = append(threads, t)
			continue
		}
		if unread {
			threads[i].UnreadCount++
		}
	}

	// Already in order when the input honoured the contract; the stable sort
	// keeps id order among equal timestamps.
	slices.SortStableFunc(threads, func(a, b Thread) int {
		return b.LastMessage.CreatedAt.Compare(a.LastMessage.CreatedAt)
	})
	return threads
}
