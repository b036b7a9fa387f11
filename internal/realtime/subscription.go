// ABOUTME: Subscription is the client-side realtime state machine
// ABOUTME: Reconnects with bounded backoff and re-fetches missed messages on resubscribe

package realtime

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BarangayMo/chat-core/internal/store"
)

// State is the connection state of a subscription.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateSubscribed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateSubscribed:
		return "subscribed"
	}
	return "unknown"
}

// Feed is a connectable source of delivery events. Connect returns a
// channel that stays open until the connection drops; the subscription
// reconnects on its own. Implemented by BroadcasterFeed for in-process
// subscribers and by the gateway's WebSocket client for remote ones.
type Feed interface {
	Connect(ctx context.Context) (<-chan *Event, error)
}

// HistoryFetcher closes delivery gaps after a reconnect. The push channel
// alone is not a durability guarantee: anything appended while disconnected
// is recovered by fetching messages past the view's last known sequence.
type HistoryFetcher interface {
	MessagesAfter(ctx context.Context, conversationID string, afterSeq int64) ([]*store.Message, error)
}

// defaultBackoff is the reconnect delay table. Attempts past the end reuse
// the last entry.
var defaultBackoff = []time.Duration{
	500 * time.Millisecond,
	time.Second,
	2 * time.Second,
	4 * time.Second,
	8 * time.Second,
}

const defaultMaxAttempts = 10

// Options configures a Subscription.
type Options struct {
	// Backoff is the per-attempt reconnect delay table. Defaults to
	// defaultBackoff.
	Backoff []time.Duration
	// MaxAttempts is the number of consecutive failed connects before the
	// subscription gives up and stays disconnected. 0 means the default;
	// negative means retry forever.
	MaxAttempts int
	// OnEvent, if set, is called for every reconciled event. Message events
	// that were duplicates are not reported. Viewers use this to refresh
	// read state when a message for them arrives while the conversation is
	// open.
	OnEvent func(*Event)
	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// Subscription consumes a Feed into a ConversationView, tolerating
// duplicate delivery and connection drops. Its lifecycle:
//
//	Disconnected -> Connecting -> Subscribed -> (Disconnected on drop)
//
// On every transition into Subscribed it first re-fetches messages created
// after the view's last known sequence, so nothing pushed while the feed
// was down is lost. Close is explicit and idempotent.
type Subscription struct {
	view    *ConversationView
	feed    Feed
	fetcher HistoryFetcher
	opts    Options
	logger  *slog.Logger

	state   atomic.Int32
	changes chan State

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// Subscribe starts consuming the feed into the view. The returned
// Subscription must be Closed when the session ends.
func Subscribe(ctx context.Context, feed Feed, fetcher HistoryFetcher, view *ConversationView, opts Options) *Subscription {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if len(opts.Backoff) == 0 {
		opts.Backoff = defaultBackoff
	}
	if opts.MaxAttempts == 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}

	runCtx, cancel := context.WithCancel(ctx)
	s := &Subscription{
		view:    view,
		feed:    feed,
		fetcher: fetcher,
		opts:    opts,
		logger:  opts.Logger.With("component", "subscription", "conversation_id", view.ConversationID()),
		changes: make(chan State, 16),
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	go s.run(runCtx)
	return s
}

// State returns the current connection state.
func (s *Subscription) State() State {
	return State(s.state.Load())
}

// Changes returns a channel of state transitions. The channel is buffered;
// transitions are dropped, not blocked on, if the consumer falls behind.
func (s *Subscription) Changes() <-chan State {
	return s.changes
}

// Close cancels the subscription and waits for the consumer goroutine to
// exit. After Close returns no further events are delivered. Closing twice,
// or closing while a reconnect attempt is in flight, is safe.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
	})
	<-s.done
}

func (s *Subscription) setState(st State) {
	if State(s.state.Swap(int32(st))) == st {
		return
	}
	select {
	case s.changes <- st:
	default:
	}
}

func (s *Subscription) run(ctx context.Context) {
	defer close(s.done)
	defer s.setState(StateDisconnected)

	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}

		s.setState(StateConnecting)

		// Each attempt gets its own context so a half-established feed
		// (connected but failed resync) and a naturally dropped one both
		// release their connection and goroutines before the next attempt.
		attemptCtx, cancelAttempt := context.WithCancel(ctx)
		events, err := s.feed.Connect(attemptCtx)
		if err == nil {
			err = s.resync(attemptCtx)
		}
		if err != nil {
			cancelAttempt()
			if ctx.Err() != nil {
				return
			}
			attempt++
			if s.opts.MaxAttempts > 0 && attempt >= s.opts.MaxAttempts {
				s.logger.Warn("giving up after repeated connect failures",
					"attempts", attempt)
				return
			}
			delay := s.backoffForAttempt(attempt - 1)
			s.logger.Debug("reconnect attempt failed",
				"attempt", attempt,
				"delay", delay,
				"error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}

		attempt = 0
		s.setState(StateSubscribed)
		s.logger.Debug("subscribed")

		ok := s.consume(attemptCtx, events)
		cancelAttempt()
		if !ok {
			return
		}

		// Feed dropped; go around and reconnect.
		s.setState(StateDisconnected)
		s.logger.Debug("feed dropped, reconnecting")
	}
}

// resync fetches messages created after the last known sequence and
// reconciles them into the view. Overlap with live deliveries is harmless:
// the view dedups by id.
func (s *Subscription) resync(ctx context.Context) error {
	if s.fetcher == nil {
		return nil
	}
	messages, err := s.fetcher.MessagesAfter(ctx, s.view.ConversationID(), s.view.LastSeq())
	if err != nil {
		return err
	}
	for _, msg := range messages {
		s.view.Apply(msg)
	}
	if len(messages) > 0 {
		s.logger.Debug("resynced missed messages", "count", len(messages))
	}
	return nil
}

// consume drains the event channel until it closes (feed drop, returns
// true) or the context is cancelled (returns false).
func (s *Subscription) consume(ctx context.Context, events <-chan *Event) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case ev, ok := <-events:
			if !ok {
				return true
			}
			s.apply(ev)
		}
	}
}

func (s *Subscription) apply(ev *Event) {
	if ev == nil {
		return
	}
	switch ev.Type {
	case EventTypeMessage:
		if !s.view.Apply(ev.Message) {
			return // duplicate delivery
		}
	case EventTypeRead:
		// No local state to reconcile; forwarded for badge refresh.
	default:
		s.logger.Warn("rejecting event with unknown type", "type", ev.Type)
		return
	}
	if s.opts.OnEvent != nil {
		s.opts.OnEvent(ev)
	}
}

// backoffForAttempt returns the delay before the given 0-based attempt,
// clamped to the last table entry.
func (s *Subscription) backoffForAttempt(attempt int) time.Duration {
	if attempt < len(s.opts.Backoff) {
		return s.opts.Backoff[attempt]
	}
	return s.opts.Backoff[len(s.opts.Backoff)-1]
}

// BroadcasterFeed adapts an in-process Broadcaster to the Feed interface
// for sessions running in the same process as the gateway.
type BroadcasterFeed struct {
	broadcaster *Broadcaster
	scope       string
}

// NewBroadcasterFeed creates a Feed subscribing to the given scope.
func NewBroadcasterFeed(b *Broadcaster, scope string) *BroadcasterFeed {
	return &BroadcasterFeed{broadcaster: b, scope: scope}
}

// Connect implements Feed.
func (f *BroadcasterFeed) Connect(ctx context.Context) (<-chan *Event, error) {
	ch, _ := f.broadcaster.Subscribe(ctx, f.scope)
	return ch, nil
}
