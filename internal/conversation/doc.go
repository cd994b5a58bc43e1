// Package conversation derives conversation views from the message log and
// records new messages.
//
// # Overview
//
// The message log in the store is the only source of truth. Nothing in this
// package keeps state between calls: thread summaries and unread counts are
// recomputed from the log on every request.
//
// # Service
//
//	svc := conversation.New(store, logger)
//
// Key operations:
//
//   - SendMessage(ctx, content, from, to): validate and append a message
//   - MarkRead(ctx, receiver, sender): bulk-mark one direction of a chat read
//   - GetThreads(ctx, user): ranked thread summaries with unread counts
//   - GetThreadMessages(ctx, user, other): full history, oldest first
//   - GetBundle(ctx, user, username, selected): the payload a client renders
//
// SendMessage does not notify anyone. The gateway signals the sender's and
// recipient's sessions only after it returns successfully.
//
// # Thread Aggregation
//
// AggregateThreads is a pure function over the newest-first message list:
//
//  1. The counterpart is whichever endpoint is not the viewer
//  2. The first message seen for a counterpart becomes its LastMessage
//  3. Unread counts only include messages sent to the viewer
//  4. Threads are sorted by LastMessage.CreatedAt, newest first
//
// # Ordering
//
// GetBundle runs read-marking before aggregation for the same request, so a
// client that opens a thread sees an unread count of zero for it in the same
// response.
package conversation
