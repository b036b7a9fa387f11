// ABOUTME: Tests for message append, ordering, read state and directory summaries
// ABOUTME: Covers seq assignment, last-message pointer updates and unread counts

package store

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testMessageCounter atomic.Int64

func appendTestMessage(t *testing.T, s *SQLiteStore, convID, sender, recipient, content string) *Message {
	t.Helper()
	msg := &Message{
		ID:             fmt.Sprintf("msg-%s-%d", sender, testMessageCounter.Add(1)),
		ConversationID: convID,
		SenderID:       sender,
		RecipientID:    recipient,
		Content:        content,
		Type:           MessageTypeText,
	}
	require.NoError(t, s.AppendMessage(context.Background(), msg))
	return msg
}

func TestStore_AppendMessage(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateConversation(ctx, newTestConversation("conv-1", "alice", "bob")))

	msg := appendTestMessage(t, store, "conv-1", "alice", "bob", "hello")

	assert.Equal(t, int64(1), msg.Seq)
	assert.False(t, msg.CreatedAt.IsZero())
	assert.False(t, msg.IsRead)

	// The conversation pointer reflects the append once it returns
	conv, err := store.GetConversation(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, msg.ID, conv.LastMessageID)
	require.NotNil(t, conv.LastMessageAt)
	assert.True(t, conv.LastMessageAt.Equal(msg.CreatedAt))
}

func TestStore_AppendMessage_ConversationMissing(t *testing.T) {
	store := setupTestStore(t)

	msg := &Message{
		ID:             "msg-1",
		ConversationID: "nonexistent",
		SenderID:       "alice",
		RecipientID:    "bob",
		Content:        "hello",
		Type:           MessageTypeText,
	}
	err := store.AppendMessage(context.Background(), msg)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_AppendMessage_OrderingIsStrict(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateConversation(ctx, newTestConversation("conv-1", "alice", "bob")))

	const n = 20
	for i := 0; i < n; i++ {
		appendTestMessage(t, store, "conv-1", "alice", "bob", fmt.Sprintf("m%d", i))
	}

	messages, err := store.ListMessages(ctx, "conv-1")
	require.NoError(t, err)
	require.Len(t, messages, n)

	for i := 1; i < len(messages); i++ {
		prev, cur := messages[i-1], messages[i]
		assert.Equal(t, prev.Seq+1, cur.Seq, "seq must be dense")
		assert.True(t, cur.CreatedAt.After(prev.CreatedAt),
			"created_at must be strictly increasing within a conversation")
	}

	// Stable across repeated calls
	again, err := store.ListMessages(ctx, "conv-1")
	require.NoError(t, err)
	for i := range messages {
		assert.Equal(t, messages[i].ID, again[i].ID)
	}
}

func TestStore_AppendMessage_UnarchivesForRecipient(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateConversation(ctx, newTestConversation("conv-1", "alice", "bob")))
	require.NoError(t, store.SetArchived(ctx, "conv-1", "bob", true))
	require.NoError(t, store.SetArchived(ctx, "conv-1", "alice", true))

	appendTestMessage(t, store, "conv-1", "alice", "bob", "are you there?")

	conv, err := store.GetConversation(ctx, "conv-1")
	require.NoError(t, err)
	assert.False(t, conv.ArchivedBy("bob"), "a new message surfaces the conversation for the recipient")
	assert.True(t, conv.ArchivedBy("alice"), "the sender's own archive flag is untouched")
}

func TestStore_ListMessagesAfter(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateConversation(ctx, newTestConversation("conv-1", "alice", "bob")))

	for i := 0; i < 5; i++ {
		appendTestMessage(t, store, "conv-1", "alice", "bob", fmt.Sprintf("m%d", i))
	}

	tail, err := store.ListMessagesAfter(ctx, "conv-1", 3)
	require.NoError(t, err)
	require.Len(t, tail, 2)
	assert.Equal(t, int64(4), tail[0].Seq)
	assert.Equal(t, int64(5), tail[1].Seq)

	empty, err := store.ListMessagesAfter(ctx, "conv-1", 5)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestStore_MarkRead(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateConversation(ctx, newTestConversation("conv-1", "alice", "bob")))

	appendTestMessage(t, store, "conv-1", "alice", "bob", "one")
	appendTestMessage(t, store, "conv-1", "alice", "bob", "two")
	appendTestMessage(t, store, "conv-1", "bob", "alice", "reply")

	// Only messages addressed to bob transition
	count, err := store.MarkRead(ctx, "conv-1", "bob", time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	// Idempotent: nothing left to transition
	count, err = store.MarkRead(ctx, "conv-1", "bob", time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)

	messages, err := store.ListMessages(ctx, "conv-1")
	require.NoError(t, err)
	for _, msg := range messages {
		if msg.RecipientID == "bob" {
			assert.True(t, msg.IsRead)
			assert.NotNil(t, msg.ReadAt)
		} else {
			assert.False(t, msg.IsRead, "alice's inbound message stays unread")
		}
	}
}

func TestStore_UnreadCounts(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateConversation(ctx, newTestConversation("conv-1", "alice", "bob")))
	require.NoError(t, store.CreateConversation(ctx, newTestConversation("conv-2", "bob", "carol")))

	appendTestMessage(t, store, "conv-1", "alice", "bob", "one")
	appendTestMessage(t, store, "conv-1", "alice", "bob", "two")
	appendTestMessage(t, store, "conv-2", "carol", "bob", "three")

	count, err := store.UnreadCount(ctx, "conv-1", "bob")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	total, err := store.TotalUnread(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, 3, total)

	_, err = store.MarkRead(ctx, "conv-1", "bob", time.Now())
	require.NoError(t, err)

	count, err = store.UnreadCount(ctx, "conv-1", "bob")
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	total, err = store.TotalUnread(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestStore_ListConversationSummaries(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateConversation(ctx, newTestConversation("conv-1", "alice", "bob")))
	require.NoError(t, store.CreateConversation(ctx, newTestConversation("conv-2", "bob", "carol")))

	appendTestMessage(t, store, "conv-1", "alice", "bob", "first")
	last := appendTestMessage(t, store, "conv-2", "carol", "bob", "newer")

	summaries, err := store.ListConversationSummaries(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, summaries, 2)

	// Most recent activity first
	assert.Equal(t, "conv-2", summaries[0].Conversation.ID)
	assert.Equal(t, "carol", summaries[0].OtherParticipant)
	require.NotNil(t, summaries[0].LastMessage)
	assert.Equal(t, last.ID, summaries[0].LastMessage.ID)
	assert.Equal(t, 1, summaries[0].UnreadCount)

	assert.Equal(t, "conv-1", summaries[1].Conversation.ID)
	assert.Equal(t, "alice", summaries[1].OtherParticipant)
	assert.Equal(t, 1, summaries[1].UnreadCount)
}

func TestStore_ListConversationSummaries_SkipsArchived(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateConversation(ctx, newTestConversation("conv-1", "alice", "bob")))
	require.NoError(t, store.CreateConversation(ctx, newTestConversation("conv-2", "bob", "carol")))
	require.NoError(t, store.SetArchived(ctx, "conv-1", "bob", true))

	summaries, err := store.ListConversationSummaries(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, "conv-2", summaries[0].Conversation.ID)

	// The other side still sees the archived conversation
	aliceSummaries, err := store.ListConversationSummaries(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, aliceSummaries, 1)
	assert.Equal(t, "conv-1", aliceSummaries[0].Conversation.ID)
}

func TestStore_ListConversationSummaries_NoMessagesYet(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateConversation(ctx, newTestConversation("conv-1", "alice", "bob")))

	summaries, err := store.ListConversationSummaries(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Nil(t, summaries[0].LastMessage)
	assert.Equal(t, 0, summaries[0].UnreadCount)
}

func TestStore_ConcurrentAppendAndMarkRead(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateConversation(ctx, newTestConversation("conv-1", "alice", "bob")))
	appendTestMessage(t, store, "conv-1", "alice", "bob", "seed")

	// Writers on separate pooled connections must wait on each other, not
	// fail with a busy error.
	const rounds = 10
	errCh := make(chan error, rounds*2)
	for i := 0; i < rounds; i++ {
		go func(i int) {
			msg := &Message{
				ID:             fmt.Sprintf("race-msg-%d", i),
				ConversationID: "conv-1",
				SenderID:       "alice",
				RecipientID:    "bob",
				Content:        "hello",
				Type:           MessageTypeText,
			}
			errCh <- store.AppendMessage(ctx, msg)
		}(i)
		go func() {
			_, err := store.MarkRead(ctx, "conv-1", "bob", time.Now())
			errCh <- err
		}()
	}
	for i := 0; i < rounds*2; i++ {
		require.NoError(t, <-errCh)
	}

	messages, err := store.ListMessages(ctx, "conv-1")
	require.NoError(t, err)
	assert.Len(t, messages, rounds+1)
}

func TestStore_AppendMessage_ConcurrentAppendsGetDistinctSeqs(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateConversation(ctx, newTestConversation("conv-1", "alice", "bob")))

	const n = 10
	errCh := make(chan error, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			msg := &Message{
				ID:             fmt.Sprintf("msg-%d", i),
				ConversationID: "conv-1",
				SenderID:       "alice",
				RecipientID:    "bob",
				Content:        fmt.Sprintf("m%d", i),
				Type:           MessageTypeText,
			}
			errCh <- store.AppendMessage(ctx, msg)
		}(i)
	}
	for i := 0; i < n; i++ {
		require.NoError(t, <-errCh)
	}

	messages, err := store.ListMessages(ctx, "conv-1")
	require.NoError(t, err)
	require.Len(t, messages, n)

	seen := make(map[int64]bool)
	for _, msg := range messages {
		assert.False(t, seen[msg.Seq], "seq %d assigned twice", msg.Seq)
		seen[msg.Seq] = true
	}
}
