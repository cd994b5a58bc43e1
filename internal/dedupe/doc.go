// Package dedupe makes a client's retries of a single send action
// exactly-once.
//
// Clients attach a clientMessageId to sendMessage. The gateway claims
// (user, clientMessageId) with Begin before calling the mutation pipeline,
// Completes the claim with the stored message id on success, and Aborts it on
// failure so a retry can run. A retry of a completed action is answered with
// the original message id instead of writing a second message.
package dedupe
