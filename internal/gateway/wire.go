// ABOUTME: JSON wire representations of conversations, messages and delivery events
// ABOUTME: Shared by the HTTP API, the websocket feed and the websocket client

package gateway

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/BarangayMo/chat-core/internal/realtime"
	"github.com/BarangayMo/chat-core/internal/store"
)

type wireConversation struct {
	ID              string     `json:"id"`
	ParticipantLow  string     `json:"participant_low"`
	ParticipantHigh string     `json:"participant_high"`
	LastMessageID   string     `json:"last_message_id,omitempty"`
	LastMessageAt   *time.Time `json:"last_message_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func toWireConversation(c *store.Conversation) wireConversation {
	return wireConversation{
		ID:              c.ID,
		ParticipantLow:  c.ParticipantLow,
		ParticipantHigh: c.ParticipantHigh,
		LastMessageID:   c.LastMessageID,
		LastMessageAt:   c.LastMessageAt,
		CreatedAt:       c.CreatedAt,
		UpdatedAt:       c.UpdatedAt,
	}
}

type wireMessage struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversation_id"`
	SenderID       string     `json:"sender_id"`
	RecipientID    string     `json:"recipient_id"`
	Content        string     `json:"content"`
	Type           string     `json:"type"`
	Seq            int64      `json:"seq"`
	CreatedAt      time.Time  `json:"created_at"`
	IsRead         bool       `json:"is_read"`
	ReadAt         *time.Time `json:"read_at,omitempty"`
}

func toWireMessage(m *store.Message) *wireMessage {
	if m == nil {
		return nil
	}
	return &wireMessage{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		RecipientID:    m.RecipientID,
		Content:        m.Content,
		Type:           m.Type,
		Seq:            m.Seq,
		CreatedAt:      m.CreatedAt,
		IsRead:         m.IsRead,
		ReadAt:         m.ReadAt,
	}
}

func (w *wireMessage) toMessage() *store.Message {
	return &store.Message{
		ID:             w.ID,
		ConversationID: w.ConversationID,
		SenderID:       w.SenderID,
		RecipientID:    w.RecipientID,
		Content:        w.Content,
		Type:           w.Type,
		Seq:            w.Seq,
		CreatedAt:      w.CreatedAt,
		IsRead:         w.IsRead,
		ReadAt:         w.ReadAt,
	}
}

func toWireMessages(msgs []*store.Message) []*wireMessage {
	out := make([]*wireMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toWireMessage(m))
	}
	return out
}

type wireSummary struct {
	Conversation     wireConversation `json:"conversation"`
	OtherParticipant string           `json:"other_participant"`
	LastMessage      *wireMessage     `json:"last_message,omitempty"`
	UnreadCount      int              `json:"unread_count"`
}

func toWireSummaries(summaries []*store.ConversationSummary) []wireSummary {
	out := make([]wireSummary, 0, len(summaries))
	for _, s := range summaries {
		out = append(out, wireSummary{
			Conversation:     toWireConversation(s.Conversation),
			OtherParticipant: s.OtherParticipant,
			LastMessage:      toWireMessage(s.LastMessage),
			UnreadCount:      s.UnreadCount,
		})
	}
	return out
}

// wireEvent is the websocket envelope for delivery events. The type tag is
// a closed set; decoding rejects anything it does not recognize.
type wireEvent struct {
	Type           string       `json:"type"`
	ConversationID string       `json:"conversation_id"`
	Message        *wireMessage `json:"message,omitempty"`
	ReaderID       string       `json:"reader_id,omitempty"`
	ReadAt         *time.Time   `json:"read_at,omitempty"`
}

func encodeEvent(ev *realtime.Event) ([]byte, error) {
	w := wireEvent{
		Type:           string(ev.Type),
		ConversationID: ev.ConversationID,
	}
	switch ev.Type {
	case realtime.EventTypeMessage:
		w.Message = toWireMessage(ev.Message)
	case realtime.EventTypeRead:
		w.ReaderID = ev.ReaderID
		readAt := ev.ReadAt
		w.ReadAt = &readAt
	default:
		return nil, fmt.Errorf("%w: %q", realtime.ErrUnknownEventType, ev.Type)
	}
	return json.Marshal(w)
}

func decodeEvent(data []byte) (*realtime.Event, error) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decoding event: %w", err)
	}

	ev := &realtime.Event{
		Type:           realtime.EventType(w.Type),
		ConversationID: w.ConversationID,
	}
	switch ev.Type {
	case realtime.EventTypeMessage:
		if w.Message == nil {
			return nil, fmt.Errorf("message event without message payload")
		}
		ev.Message = w.Message.toMessage()
	case realtime.EventTypeRead:
		ev.ReaderID = w.ReaderID
		if w.ReadAt != nil {
			ev.ReadAt = *w.ReadAt
		}
	default:
		return nil, fmt.Errorf("%w: %q", realtime.ErrUnknownEventType, w.Type)
	}
	return ev, nil
}
