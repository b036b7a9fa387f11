// ABOUTME: Store interface and data types for chat-core persistence
// ABOUTME: Defines Conversation, Message structs and the Store interface for database operations

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateConversation is returned when trying to create a conversation
// for a participant pair that already has one
var ErrDuplicateConversation = errors.New("conversation already exists")

// MessageTypeText is the only message type the core handles. Other values are
// rejected at the service layer; they are reserved for future extension.
const MessageTypeText = "text"

// Conversation is the unique two-party channel between exactly two participants.
// Participants are stored in canonical (lexicographic) order so the unordered
// pair {A,B} always maps to the same row.
type Conversation struct {
	ID              string
	ParticipantLow  string
	ParticipantHigh string
	LastMessageID   string     // empty until the first message
	LastMessageAt   *time.Time // nil until the first message
	ArchivedByLow   bool
	ArchivedByHigh  bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// HasParticipant reports whether userID is one of the two participants.
func (c *Conversation) HasParticipant(userID string) bool {
	return userID == c.ParticipantLow || userID == c.ParticipantHigh
}

// OtherParticipant returns the participant that is not userID.
// Returns an empty string if userID is not a participant.
func (c *Conversation) OtherParticipant(userID string) string {
	switch userID {
	case c.ParticipantLow:
		return c.ParticipantHigh
	case c.ParticipantHigh:
		return c.ParticipantLow
	}
	return ""
}

// ArchivedBy reports whether userID has archived this conversation.
func (c *Conversation) ArchivedBy(userID string) bool {
	switch userID {
	case c.ParticipantLow:
		return c.ArchivedByLow
	case c.ParticipantHigh:
		return c.ArchivedByHigh
	}
	return false
}

// Message is a single message within a conversation. The row is immutable
// after insert except for the read-state fields (IsRead, ReadAt), which
// transition once from unread to read.
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	RecipientID    string
	Content        string
	Type           string // "text"
	Seq            int64  // per-conversation insertion sequence, assigned by the store
	CreatedAt      time.Time
	IsRead         bool
	ReadAt         *time.Time
}

// ConversationSummary is one row of a user's conversation directory.
type ConversationSummary struct {
	Conversation     *Conversation
	OtherParticipant string
	LastMessage      *Message // nil if no messages yet
	UnreadCount      int
}

// Store defines the interface for conversation and message persistence
type Store interface {
	// Conversations
	CreateConversation(ctx context.Context, conv *Conversation) error
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	GetConversationByParticipants(ctx context.Context, low, high string) (*Conversation, error)
	SetArchived(ctx context.Context, conversationID, userID string, archived bool) error

	// Messages. AppendMessage assigns Seq and CreatedAt and updates the owning
	// conversation's last-message pointer in the same transaction.
	AppendMessage(ctx context.Context, msg *Message) error
	ListMessages(ctx context.Context, conversationID string) ([]*Message, error)
	ListMessagesAfter(ctx context.Context, conversationID string, afterSeq int64) ([]*Message, error)

	// Read state
	MarkRead(ctx context.Context, conversationID, recipientID string, readAt time.Time) (int64, error)
	UnreadCount(ctx context.Context, conversationID, userID string) (int, error)
	TotalUnread(ctx context.Context, userID string) (int, error)

	// Directory
	ListConversationSummaries(ctx context.Context, userID string) ([]*ConversationSummary, error)

	// Close releases any resources held by the store
	Close() error
}
