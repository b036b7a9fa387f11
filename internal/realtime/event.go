// ABOUTME: Delivery event types pushed to realtime subscribers
// ABOUTME: Closed tagged variant with message and read cases, plus scope keys

package realtime

import (
	"errors"
	"time"

	"github.com/BarangayMo/chat-core/internal/store"
)

// ErrUnknownEventType is returned when decoding an event with an
// unrecognized type tag. Unknown tags are rejected, not passed through.
var ErrUnknownEventType = errors.New("unknown event type")

// EventType tags the delivery event variant.
type EventType string

const (
	// EventTypeMessage carries a newly appended message.
	EventTypeMessage EventType = "message"
	// EventTypeRead signals that a participant marked a conversation read.
	EventTypeRead EventType = "read"
)

// Event is one delivery on the push channel. Exactly one variant's fields
// are set, selected by Type. Delivery is at-least-once: consumers must
// dedup message events by Message.ID.
type Event struct {
	Type           EventType
	ConversationID string

	// Message variant
	Message *store.Message

	// Read variant
	ReaderID string
	ReadAt   time.Time
}

// ConversationScope is the subscription key for a single conversation's
// events.
func ConversationScope(conversationID string) string {
	return "conv:" + conversationID
}

// UserScope is the subscription key for directory-level feeds: every event
// involving the user, across all their conversations.
func UserScope(userID string) string {
	return "user:" + userID
}
