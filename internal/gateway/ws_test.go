// ABOUTME: WebSocket feed tests using a live httptest server and gorilla dials
// ABOUTME: Also covers the event wire codec's closed type set

package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BarangayMo/chat-core/internal/realtime"
	"github.com/BarangayMo/chat-core/internal/store"
)

func dialWS(t *testing.T, server *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?" + query
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	// Give the server a moment to register the subscription before the test
	// publishes events.
	time.Sleep(50 * time.Millisecond)
	return conn
}

func readWireEvent(t *testing.T, conn *websocket.Conn) *realtime.Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	ev, err := decodeEvent(data)
	require.NoError(t, err)
	return ev
}

func TestWebSocket_ConversationFeed(t *testing.T) {
	g := setupTestGateway(t)
	server := httptest.NewServer(g.router())
	defer server.Close()

	conv := createConversation(t, g.router(), "alice", "bob")
	conn := dialWS(t, server, "conversation_id="+conv.ID+"&caller_id=bob")

	msg, err := g.service.SendMessage(context.Background(), conv.ID, "alice", "bob", "hello")
	require.NoError(t, err)

	ev := readWireEvent(t, conn)
	assert.Equal(t, realtime.EventTypeMessage, ev.Type)
	require.NotNil(t, ev.Message)
	assert.Equal(t, msg.ID, ev.Message.ID)
	assert.Equal(t, int64(1), ev.Message.Seq)
}

func TestWebSocket_UserFeedSeesBothSides(t *testing.T) {
	g := setupTestGateway(t)
	server := httptest.NewServer(g.router())
	defer server.Close()

	convAB := createConversation(t, g.router(), "alice", "bob")
	convBC := createConversation(t, g.router(), "bob", "carol")
	conn := dialWS(t, server, "user_id=bob")

	_, err := g.service.SendMessage(context.Background(), convAB.ID, "alice", "bob", "from alice")
	require.NoError(t, err)
	_, err = g.service.SendMessage(context.Background(), convBC.ID, "carol", "bob", "from carol")
	require.NoError(t, err)

	first := readWireEvent(t, conn)
	second := readWireEvent(t, conn)
	assert.Equal(t, convAB.ID, first.ConversationID)
	assert.Equal(t, convBC.ID, second.ConversationID)
}

func TestWebSocket_ReadEvents(t *testing.T) {
	g := setupTestGateway(t)
	server := httptest.NewServer(g.router())
	defer server.Close()

	conv := createConversation(t, g.router(), "alice", "bob")
	_, err := g.service.SendMessage(context.Background(), conv.ID, "alice", "bob", "hello")
	require.NoError(t, err)

	conn := dialWS(t, server, "conversation_id="+conv.ID+"&caller_id=alice")

	count, err := g.service.MarkRead(context.Background(), conv.ID, "bob")
	require.NoError(t, err)
	require.Equal(t, int64(1), count)

	ev := readWireEvent(t, conn)
	assert.Equal(t, realtime.EventTypeRead, ev.Type)
	assert.Equal(t, "bob", ev.ReaderID)
	assert.False(t, ev.ReadAt.IsZero())
}

func TestWebSocket_RejectsBadQueries(t *testing.T) {
	g := setupTestGateway(t)
	server := httptest.NewServer(g.router())
	defer server.Close()

	tests := []struct {
		name  string
		query string
		want  int
	}{
		{"no scope", "", http.StatusBadRequest},
		{"both scopes", "conversation_id=c&user_id=u", http.StatusBadRequest},
		{"conversation feed without caller", "conversation_id=c", http.StatusBadRequest},
		{"unknown conversation", "conversation_id=nope&caller_id=alice", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Get(server.URL + "/ws?" + tt.query)
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestWebSocket_NonParticipantForbidden(t *testing.T) {
	g := setupTestGateway(t)
	server := httptest.NewServer(g.router())
	defer server.Close()

	conv := createConversation(t, g.router(), "alice", "bob")

	resp, err := http.Get(server.URL + "/ws?conversation_id=" + conv.ID + "&caller_id=mallory")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestEventCodec_RoundTrip(t *testing.T) {
	now := time.Now().UTC()
	msg := &store.Message{
		ID:             "msg-1",
		ConversationID: "conv-1",
		SenderID:       "alice",
		RecipientID:    "bob",
		Content:        "hello",
		Type:           store.MessageTypeText,
		Seq:            7,
		CreatedAt:      now,
	}

	data, err := encodeEvent(&realtime.Event{
		Type:           realtime.EventTypeMessage,
		ConversationID: "conv-1",
		Message:        msg,
	})
	require.NoError(t, err)

	ev, err := decodeEvent(data)
	require.NoError(t, err)
	assert.Equal(t, realtime.EventTypeMessage, ev.Type)
	require.NotNil(t, ev.Message)
	assert.Equal(t, "msg-1", ev.Message.ID)
	assert.Equal(t, int64(7), ev.Message.Seq)
	assert.True(t, ev.Message.CreatedAt.Equal(now))
}

func TestEventCodec_RejectsUnknownType(t *testing.T) {
	_, err := encodeEvent(&realtime.Event{Type: "presence"})
	assert.ErrorIs(t, err, realtime.ErrUnknownEventType)

	payload, err := json.Marshal(map[string]string{"type": "presence", "conversation_id": "conv-1"})
	require.NoError(t, err)
	_, err = decodeEvent(payload)
	assert.ErrorIs(t, err, realtime.ErrUnknownEventType)
}

func TestEventCodec_MessageEventNeedsPayload(t *testing.T) {
	payload, err := json.Marshal(map[string]string{"type": "message", "conversation_id": "conv-1"})
	require.NoError(t, err)
	_, err = decodeEvent(payload)
	assert.Error(t, err)
}
