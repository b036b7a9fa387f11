// ABOUTME: Remote client for the gateway: websocket Feed plus HTTP history fetcher
// ABOUTME: Lets out-of-process sessions drive a realtime.Subscription against a gateway

package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gorilla/websocket"

	"github.com/BarangayMo/chat-core/internal/realtime"
	"github.com/BarangayMo/chat-core/internal/store"
)

// Client talks to a chat-gateway over HTTP and WebSocket. Its Feed and
// Fetcher implementations plug into realtime.Subscribe, giving remote
// sessions the same reconnect-and-resync behavior as in-process ones.
type Client struct {
	baseURL *url.URL
	httpc   *http.Client
	logger  *slog.Logger
}

// NewClient creates a client for the gateway at baseURL (e.g.
// "http://localhost:8080"). Pass nil logger for default.
func NewClient(baseURL string, logger *slog.Logger) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: u,
		httpc:   http.DefaultClient,
		logger:  logger.With("component", "gateway-client"),
	}, nil
}

// ConversationFeed returns a Feed for one conversation's events.
func (c *Client) ConversationFeed(conversationID, callerID string) realtime.Feed {
	q := url.Values{}
	q.Set("conversation_id", conversationID)
	q.Set("caller_id", callerID)
	return &wsFeed{url: c.wsURL(q), logger: c.logger}
}

// UserFeed returns a Feed for a user's directory-level events.
func (c *Client) UserFeed(userID string) realtime.Feed {
	q := url.Values{}
	q.Set("user_id", userID)
	return &wsFeed{url: c.wsURL(q), logger: c.logger}
}

// Fetcher returns a realtime.HistoryFetcher bound to callerID.
func (c *Client) Fetcher(callerID string) realtime.HistoryFetcher {
	return &httpFetcher{client: c, callerID: callerID}
}

func (c *Client) wsURL(q url.Values) string {
	u := *c.baseURL
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/ws"
	u.RawQuery = q.Encode()
	return u.String()
}

// wsFeed dials the gateway's /ws endpoint and turns incoming frames into
// delivery events. The channel closes when the connection drops; the
// subscription layer handles reconnecting.
type wsFeed struct {
	url    string
	logger *slog.Logger
}

// Connect implements realtime.Feed.
func (f *wsFeed) Connect(ctx context.Context) (<-chan *realtime.Event, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", f.url, err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	ch := make(chan *realtime.Event, 64)

	// Unblock the read loop when the subscription is cancelled.
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	go func() {
		defer close(ch)
		defer conn.Close()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			ev, err := decodeEvent(data)
			if err != nil {
				// Unknown or malformed events are rejected, not passed on
				f.logger.Warn("dropping undecodable event", "error", err)
				continue
			}
			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch, nil
}

type httpFetcher struct {
	client   *Client
	callerID string
}

type listMessagesResponse struct {
	Messages []*wireMessage `json:"messages"`
}

// MessagesAfter implements realtime.HistoryFetcher over the gateway's
// messages endpoint.
func (f *httpFetcher) MessagesAfter(ctx context.Context, conversationID string, afterSeq int64) ([]*store.Message, error) {
	u := *f.client.baseURL
	u.Path = "/api/conversations/" + conversationID + "/messages"
	q := url.Values{}
	q.Set("caller_id", f.callerID)
	q.Set("after_seq", strconv.FormatInt(afterSeq, 10))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}

	resp, err := f.client.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching messages: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching messages: unexpected status %d", resp.StatusCode)
	}

	var body listMessagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decoding messages: %w", err)
	}

	messages := make([]*store.Message, 0, len(body.Messages))
	for _, w := range body.Messages {
		messages = append(messages, w.toMessage())
	}
	return messages, nil
}
