// ABOUTME: In-memory fan-out broadcaster for delivery events
// ABOUTME: Publishes committed message/read events to all subscribers of a scope

package realtime

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/BarangayMo/chat-core/internal/store"
)

// subscriberBufferSize is the channel buffer for each subscriber.
const subscriberBufferSize = 64

// Broadcaster provides in-memory pub/sub for delivery events. Subscribers
// register for a scope key (a conversation or a user) and receive events as
// state changes commit. It also implements messaging.EventSink, translating
// committed writes into events fanned out to every affected scope.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan *Event // scope -> subID -> ch
	logger      *slog.Logger
}

// NewBroadcaster creates a broadcaster. Pass nil logger for default.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subscribers: make(map[string]map[string]chan *Event),
		logger:      logger.With("component", "broadcaster"),
	}
}

// Subscribe registers a subscriber for events on the given scope key.
// Returns the event channel and a subscription ID for later unsubscription.
// The subscription is automatically cleaned up when ctx is cancelled.
func (b *Broadcaster) Subscribe(ctx context.Context, scope string) (<-chan *Event, string) {
	subID := uuid.New().String()
	ch := make(chan *Event, subscriberBufferSize)

	b.mu.Lock()
	if _, ok := b.subscribers[scope]; !ok {
		b.subscribers[scope] = make(map[string]chan *Event)
	}
	b.subscribers[scope][subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "scope", scope, "sub_id", subID)

	// Auto-cleanup on context cancellation
	go func() {
		<-ctx.Done()
		b.Unsubscribe(scope, subID)
	}()

	return ch, subID
}

// Publish sends an event to all subscribers of the given scope.
// Non-blocking: events are dropped for subscribers whose channels are full;
// those subscribers recover the gap through their resync fetch.
func (b *Broadcaster) Publish(scope string, event *Event) {
	b.mu.RLock()
	subs, ok := b.subscribers[scope]
	if !ok || len(subs) == 0 {
		b.mu.RUnlock()
		return
	}

	// Copy channels under read lock to avoid holding it during sends
	targets := make([]chan *Event, 0, len(subs))
	for _, ch := range subs {
		targets = append(targets, ch)
	}
	b.mu.RUnlock()

	for _, ch := range targets {
		select {
		case ch <- event:
		default:
			b.logger.Debug("dropped event for slow subscriber",
				"scope", scope,
				"event_type", event.Type)
		}
	}
}

// Unsubscribe removes a subscription and closes its channel. Unsubscribing
// an unknown or already-removed subscription is a no-op.
func (b *Broadcaster) Unsubscribe(scope, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[scope]
	if !ok {
		return
	}

	ch, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(ch)

	if len(subs) == 0 {
		delete(b.subscribers, scope)
	}

	b.logger.Debug("subscriber removed", "scope", scope, "sub_id", subID)
}

// Close shuts down the broadcaster and closes all subscriber channels.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for scope, subs := range b.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(b.subscribers, scope)
	}

	b.logger.Debug("broadcaster closed")
}

// MessageAppended implements messaging.EventSink. The event reaches the
// conversation scope plus both participants' user scopes, so directory
// feeds see it without a per-conversation subscription.
func (b *Broadcaster) MessageAppended(msg *store.Message) {
	event := &Event{
		Type:           EventTypeMessage,
		ConversationID: msg.ConversationID,
		Message:        msg,
	}
	b.Publish(ConversationScope(msg.ConversationID), event)
	b.Publish(UserScope(msg.SenderID), event)
	b.Publish(UserScope(msg.RecipientID), event)
}

// MessagesRead implements messaging.EventSink. Read transitions go to the
// conversation scope and the reader's own user scope, so the reader's other
// sessions can clear their unread badges.
func (b *Broadcaster) MessagesRead(conversationID, readerID string, readAt time.Time) {
	event := &Event{
		Type:           EventTypeRead,
		ConversationID: conversationID,
		ReaderID:       readerID,
		ReadAt:         readAt,
	}
	b.Publish(ConversationScope(conversationID), event)
	b.Publish(UserScope(readerID), event)
}
