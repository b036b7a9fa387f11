// Package messaging provides the direct-messaging service layer.
//
// # Overview
//
// The messaging package sits between the HTTP/WebSocket handlers and the
// store, providing the operations the rest of the platform consumes:
// conversation resolution, message sending, read-state tracking and the
// conversation directory.
//
// # Conversation identity
//
// Every pair of users has at most one conversation. The pair {A,B} is
// canonicalized into an ordered (low, high) tuple, and the store enforces a
// uniqueness constraint on that tuple. Two clients racing to open the same
// conversation both land on the same row: the loser of the insert race
// catches the conflict and re-reads.
//
// # Message ordering
//
// Messages are totally ordered per conversation by (created_at, seq). The
// store assigns both inside the append transaction: created_at is nudged
// forward on collision so it is strictly increasing, and seq is a dense
// insertion sequence used as the tie-break and as the resync watermark for
// realtime consumers.
//
// # Read state
//
// MarkRead is a conversation-scoped bulk transition: every unread message
// addressed to the caller flips to read in one predicate update. It is
// idempotent, and a message appended concurrently simply misses the
// predicate and stays unread until the next call. Unread counts are always
// derived from message rows, never stored separately, so they cannot drift.
//
// # Events
//
// After a send or a read transition commits, the service notifies its
// EventSink. The realtime package fans those notifications out to
// subscribed clients; delivery is at-least-once and consumers dedup by
// message id.
package messaging
