// ABOUTME: Service is the central layer for conversation identity and message flow
// ABOUTME: Resolves canonical pairs, appends messages, tracks read state, lists directories

package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/BarangayMo/chat-core/internal/store"
)

// ConversationStore defines what the service needs from storage
type ConversationStore interface {
	CreateConversation(ctx context.Context, conv *store.Conversation) error
	GetConversation(ctx context.Context, id string) (*store.Conversation, error)
	GetConversationByParticipants(ctx context.Context, low, high string) (*store.Conversation, error)
	SetArchived(ctx context.Context, conversationID, userID string, archived bool) error

	AppendMessage(ctx context.Context, msg *store.Message) error
	ListMessages(ctx context.Context, conversationID string) ([]*store.Message, error)
	ListMessagesAfter(ctx context.Context, conversationID string, afterSeq int64) ([]*store.Message, error)

	MarkRead(ctx context.Context, conversationID, recipientID string, readAt time.Time) (int64, error)
	UnreadCount(ctx context.Context, conversationID, userID string) (int, error)
	TotalUnread(ctx context.Context, userID string) (int, error)

	ListConversationSummaries(ctx context.Context, userID string) ([]*store.ConversationSummary, error)
}

// EventSink receives notifications after state changes commit. Implemented
// by realtime.Broadcaster; a nil sink disables delivery.
type EventSink interface {
	MessageAppended(msg *store.Message)
	MessagesRead(conversationID, readerID string, readAt time.Time)
}

// Service coordinates conversation resolution, message persistence, read
// state and the directory view. All writes go through the store's atomic
// operations; the service itself holds no mutable state, so concurrent use
// from independent sessions is safe.
type Service struct {
	store  ConversationStore
	events EventSink
	logger *slog.Logger
}

// New creates a messaging Service. events may be nil.
func New(store ConversationStore, events EventSink, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  store,
		events: events,
		logger: logger.With("component", "messaging"),
	}
}

// CanonicalPair orders two participant ids so the unordered pair {A,B}
// always produces the same (low, high) tuple.
func CanonicalPair(a, b string) (low, high string) {
	if a < b {
		return a, b
	}
	return b, a
}

// GetOrCreateConversation returns the single conversation between two
// participants, creating it if absent. GetOrCreateConversation(A, B) and
// GetOrCreateConversation(B, A) always return the same conversation, even
// when called concurrently from both sides: the insert is guarded by a
// uniqueness constraint on the canonical pair, and a conflict triggers a
// re-read instead of an error.
func (s *Service) GetOrCreateConversation(ctx context.Context, userA, userB string) (*store.Conversation, error) {
	if userA == "" || userB == "" {
		return nil, ErrEmptyParticipant
	}
	if userA == userB {
		return nil, ErrSelfConversation
	}

	low, high := CanonicalPair(userA, userB)

	conv, err := s.store.GetConversationByParticipants(ctx, low, high)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("looking up conversation: %w", err)
	}

	now := time.Now()
	conv = &store.Conversation{
		ID:              uuid.New().String(),
		ParticipantLow:  low,
		ParticipantHigh: high,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.store.CreateConversation(ctx, conv); err != nil {
		// A concurrent caller created the same pair between our lookup and
		// insert. The conflict is resolved by re-reading, never surfaced.
		if errors.Is(err, store.ErrDuplicateConversation) {
			existing, lookupErr := s.store.GetConversationByParticipants(ctx, low, high)
			if lookupErr == nil {
				s.logger.Debug("found existing conversation after race",
					"conversation_id", existing.ID)
				return existing, nil
			}
			return nil, fmt.Errorf("re-reading conversation after conflict: %w", lookupErr)
		}
		return nil, fmt.Errorf("creating conversation: %w", err)
	}

	s.logger.Debug("conversation created",
		"conversation_id", conv.ID,
		"participant_low", low,
		"participant_high", high)
	return conv, nil
}

// SendMessage validates and appends a message, updating the conversation's
// last-message pointer in the same transaction. On success the message is
// published to realtime subscribers. A failed send leaves no partial state;
// resubmitting the same content is always safe.
func (s *Service) SendMessage(ctx context.Context, conversationID, senderID, recipientID, content string) (*store.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyContent
	}

	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(senderID) {
		return nil, fmt.Errorf("sender %q: %w", senderID, ErrNotParticipant)
	}
	if recipientID != conv.OtherParticipant(senderID) {
		return nil, fmt.Errorf("recipient %q: %w", recipientID, ErrRecipientMismatch)
	}

	msg := &store.Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		SenderID:       senderID,
		RecipientID:    recipientID,
		Content:        content,
		Type:           store.MessageTypeText,
	}
	if err := s.store.AppendMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("appending message: %w", err)
	}

	s.logger.Debug("message sent",
		"conversation_id", conversationID,
		"message_id", msg.ID,
		"seq", msg.Seq)

	if s.events != nil {
		s.events.MessageAppended(msg)
	}
	return msg, nil
}

// ListMessages returns all messages of a conversation in their total order
// (created_at ascending, seq tie-break). The caller must be a participant.
func (s *Service) ListMessages(ctx context.Context, conversationID, callerID string) ([]*store.Message, error) {
	if _, err := s.requireParticipant(ctx, conversationID, callerID); err != nil {
		return nil, err
	}
	return s.store.ListMessages(ctx, conversationID)
}

// ListMessagesAfter returns the conversation's messages with a sequence
// greater than afterSeq, in order. Realtime consumers use it to close the
// gap after a reconnect. The caller must be a participant.
func (s *Service) ListMessagesAfter(ctx context.Context, conversationID, callerID string, afterSeq int64) ([]*store.Message, error) {
	if _, err := s.requireParticipant(ctx, conversationID, callerID); err != nil {
		return nil, err
	}
	return s.store.ListMessagesAfter(ctx, conversationID, afterSeq)
}

// GetConversation returns the conversation if the caller participates in it.
func (s *Service) GetConversation(ctx context.Context, conversationID, callerID string) (*store.Conversation, error) {
	return s.requireParticipant(ctx, conversationID, callerID)
}

// MarkRead transitions every unread message addressed to callerID in the
// conversation to read and returns the number transitioned. Calling it
// again with no new messages returns 0; that is not an error.
func (s *Service) MarkRead(ctx context.Context, conversationID, callerID string) (int64, error) {
	if _, err := s.requireParticipant(ctx, conversationID, callerID); err != nil {
		return 0, err
	}

	readAt := time.Now()
	count, err := s.store.MarkRead(ctx, conversationID, callerID, readAt)
	if err != nil {
		return 0, err
	}

	if count > 0 && s.events != nil {
		s.events.MessagesRead(conversationID, callerID, readAt)
	}
	return count, nil
}

// UnreadCount returns the caller's unread count for one conversation.
func (s *Service) UnreadCount(ctx context.Context, conversationID, callerID string) (int, error) {
	if _, err := s.requireParticipant(ctx, conversationID, callerID); err != nil {
		return 0, err
	}
	return s.store.UnreadCount(ctx, conversationID, callerID)
}

// TotalUnread returns the user's unread count across all conversations.
func (s *Service) TotalUnread(ctx context.Context, userID string) (int, error) {
	return s.store.TotalUnread(ctx, userID)
}

// ListConversations returns the user's conversation directory: every
// conversation they participate in and have not archived, ordered by last
// activity descending, with last-message preview and unread count.
func (s *Service) ListConversations(ctx context.Context, userID string) ([]*store.ConversationSummary, error) {
	return s.store.ListConversationSummaries(ctx, userID)
}

// SetArchived archives or unarchives the conversation for callerID only.
// Archiving hides the conversation from that user's directory; it never
// deletes data and never blocks the other side from sending.
func (s *Service) SetArchived(ctx context.Context, conversationID, callerID string, archived bool) error {
	if _, err := s.requireParticipant(ctx, conversationID, callerID); err != nil {
		return err
	}
	return s.store.SetArchived(ctx, conversationID, callerID, archived)
}

// requireParticipant loads the conversation and verifies the caller is one
// of its two participants.
func (s *Service) requireParticipant(ctx context.Context, conversationID, callerID string) (*store.Conversation, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(callerID) {
		return nil, fmt.Errorf("caller %q: %w", callerID, ErrNotParticipant)
	}
	return conv, nil
}
