// ABOUTME: WebSocket push endpoint for realtime delivery events
// ABOUTME: Upgrades, subscribes the connection to a scope and pumps events with keepalive

package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/BarangayMo/chat-core/internal/realtime"
)

const (
	defaultPingInterval = 30 * time.Second
	defaultWriteTimeout = 10 * time.Second
	wsReadLimit         = int64(4 << 10)
)

var upgrader = websocket.Upgrader{
	// Origin checks are the platform edge's job; the gateway sits behind it.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// GET /ws?conversation_id=C&caller_id=U  or  /ws?user_id=U
//
// A conversation feed requires the caller to be a participant. A user feed
// delivers every event involving that user, which is what directory views
// subscribe to.
func (g *Gateway) handleWebSocket(c *gin.Context) {
	conversationID := c.Query("conversation_id")
	userID := c.Query("user_id")

	var scope string
	switch {
	case conversationID != "" && userID == "":
		callerID := c.Query("caller_id")
		if callerID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "caller_id is required for conversation feeds"})
			return
		}
		if _, err := g.service.GetConversation(c.Request.Context(), conversationID, callerID); err != nil {
			abortWithError(c, err)
			return
		}
		scope = realtime.ConversationScope(conversationID)
	case userID != "" && conversationID == "":
		scope = realtime.UserScope(userID)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "exactly one of conversation_id or user_id is required"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		g.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	// The subscription outlives the HTTP request context; it ends when the
	// connection drops or the pumps fail.
	ctx, cancel := context.WithCancel(context.Background())
	events, subID := g.broadcaster.Subscribe(ctx, scope)

	g.logger.Debug("websocket subscriber connected", "scope", scope, "sub_id", subID)

	go g.wsReadLoop(cancel, conn)
	go g.wsWriteLoop(ctx, cancel, conn, events, scope)
}

// wsReadLoop discards client frames but keeps the read deadline fresh on
// pongs, so dead peers are detected.
func (g *Gateway) wsReadLoop(cancel context.CancelFunc, conn *websocket.Conn) {
	defer cancel()

	pingInterval := g.cfg.Realtime.PingInterval
	if pingInterval <= 0 {
		pingInterval = defaultPingInterval
	}
	pongWait := 3 * pingInterval

	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// wsWriteLoop forwards events to the peer and pings on an interval.
func (g *Gateway) wsWriteLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, events <-chan *realtime.Event, scope string) {
	defer cancel()
	defer conn.Close()

	pingInterval := g.cfg.Realtime.PingInterval
	if pingInterval <= 0 {
		pingInterval = defaultPingInterval
	}
	writeTimeout := g.cfg.Realtime.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				// Broadcaster shut down
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
					time.Now().Add(writeTimeout))
				return
			}
			payload, err := encodeEvent(ev)
			if err != nil {
				g.logger.Warn("skipping unencodable event", "scope", scope, "error", err)
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				g.logger.Debug("websocket write failed", "scope", scope, "error", err)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
