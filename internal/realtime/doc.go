// Package realtime delivers committed messaging events to live sessions.
//
// # Server side
//
// Broadcaster is an in-memory fan-out keyed by scope: a conversation scope
// for open-conversation feeds, a user scope for directory-level feeds. The
// messaging service notifies it after each commit; it never blocks on slow
// subscribers, it drops, because every subscriber can recover through its
// resync fetch.
//
// # Client side
//
// Subscription consumes a Feed into a ConversationView. The guarantee is
// at-least-once from the moment of subscription: duplicates are dropped by
// message id, out-of-order arrivals are inserted at their (created_at, seq)
// position, and anything missed while disconnected is recovered by fetching
// messages past the view's last sequence before re-entering the Subscribed
// state. Reconnection uses a bounded backoff table; after too many
// consecutive failures the subscription surfaces the disconnected state
// instead of retrying forever.
package realtime
