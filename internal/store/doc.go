// Package store persists conversations and messages in SQLite.
//
// The schema enforces the invariants the service relies on: a uniqueness
// constraint on the canonical (participant_low, participant_high) pair so
// racing creates surface ErrDuplicateConversation, and a per-conversation
// (conversation_id, seq) constraint backing the dense insertion sequence.
// Appends run in a single transaction that takes the conversation's write
// lock first, assigns seq and a strictly increasing created_at, inserts the
// row and moves the last-message pointer.
//
// Timestamps are stored as fixed-width RFC3339 text in UTC so the created_at
// column sorts lexicographically. Pragmas (WAL, busy timeout, foreign keys)
// ride on the DSN and therefore apply to every pooled connection.
package store
