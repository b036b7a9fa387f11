// ABOUTME: ConversationView is a client-local ordered copy of one conversation
// ABOUTME: Reconciles at-least-once deliveries by id dedup and ordered insert

package realtime

import (
	"sort"
	"sync"
	"time"

	"github.com/BarangayMo/chat-core/internal/dedupe"
	"github.com/BarangayMo/chat-core/internal/store"
)

const (
	// seenTTL bounds how long delivered ids are remembered. Redeliveries
	// arrive within seconds of a reconnect, so an hour is plenty.
	seenTTL     = time.Hour
	seenMaxSize = 4096
)

// ConversationView holds a session's ordered copy of one conversation.
// It is an explicit, injectable store with its own lifecycle rather than
// ambient shared state, so independent sessions in one process never
// interfere. All methods are safe for concurrent use: a live delivery can
// race a catch-up fetch and the view stays consistent.
type ConversationView struct {
	conversationID string

	mu       sync.Mutex
	messages []*store.Message // ordered by (CreatedAt, Seq)
	seen     *dedupe.Cache
}

// NewConversationView creates an empty view for one conversation.
// Call Close when the session ends to release the dedup cache.
func NewConversationView(conversationID string) *ConversationView {
	return &ConversationView{
		conversationID: conversationID,
		seen:           dedupe.New(seenTTL, seenMaxSize),
	}
}

// ConversationID returns the conversation this view tracks.
func (v *ConversationView) ConversationID() string {
	return v.conversationID
}

// Replace resets the view from an authoritative fetch. The messages must
// already be in store order. Their ids are marked as seen so redeliveries
// of the same messages are dropped.
func (v *ConversationView) Replace(messages []*store.Message) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.messages = make([]*store.Message, len(messages))
	copy(v.messages, messages)
	for _, msg := range messages {
		v.seen.Mark(msg.ID)
	}
}

// Apply reconciles one delivered message into the view. Returns false if
// the message was already present (duplicate delivery). The message is
// inserted at the position dictated by (CreatedAt, Seq), not appended:
// a delivery can race a catch-up fetch and arrive out of order.
func (v *ConversationView) Apply(msg *store.Message) bool {
	if msg == nil || msg.ConversationID != v.conversationID {
		return false
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.seen.SeenOrMark(msg.ID) {
		return false
	}

	i := sort.Search(len(v.messages), func(i int) bool {
		m := v.messages[i]
		if m.CreatedAt.Equal(msg.CreatedAt) {
			return m.Seq > msg.Seq
		}
		return m.CreatedAt.After(msg.CreatedAt)
	})

	// The seen cache is TTL and size bounded, so a redelivered old message
	// can miss it. The view itself is still authoritative: a message with
	// the same ordering key and id is already held, not a new arrival.
	if i > 0 {
		if m := v.messages[i-1]; m.Seq == msg.Seq && m.CreatedAt.Equal(msg.CreatedAt) && m.ID == msg.ID {
			return false
		}
	}

	v.messages = append(v.messages, nil)
	copy(v.messages[i+1:], v.messages[i:])
	v.messages[i] = msg
	return true
}

// Messages returns a copy of the ordered view.
func (v *ConversationView) Messages() []*store.Message {
	v.mu.Lock()
	defer v.mu.Unlock()

	out := make([]*store.Message, len(v.messages))
	copy(out, v.messages)
	return out
}

// Len returns the number of messages in the view.
func (v *ConversationView) Len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.messages)
}

// LastSeq returns the highest sequence number in the view, or 0 if empty.
// Used as the watermark for gap re-fetch after a reconnect.
func (v *ConversationView) LastSeq() int64 {
	v.mu.Lock()
	defer v.mu.Unlock()

	var last int64
	for _, m := range v.messages {
		if m.Seq > last {
			last = m.Seq
		}
	}
	return last
}

// Close releases the view's dedup cache. Safe to call multiple times.
func (v *ConversationView) Close() {
	v.seen.Close()
}
