// ABOUTME: Gateway wires the store, messaging service and broadcaster behind an HTTP server
// ABOUTME: Owns startup, routing and graceful shutdown

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/BarangayMo/chat-core/internal/config"
	"github.com/BarangayMo/chat-core/internal/messaging"
	"github.com/BarangayMo/chat-core/internal/realtime"
	"github.com/BarangayMo/chat-core/internal/store"
)

const shutdownTimeout = 10 * time.Second

// Gateway is the long-running server process: SQLite store, messaging
// service, realtime broadcaster and the HTTP/WebSocket surface.
type Gateway struct {
	cfg         *config.Config
	logger      *slog.Logger
	store       *store.SQLiteStore
	service     *messaging.Service
	broadcaster *realtime.Broadcaster
	httpServer  *http.Server
}

// New creates a gateway from configuration. The store is opened (and its
// schema created) here; Run starts serving.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	broadcaster := realtime.NewBroadcaster(logger)
	service := messaging.New(st, broadcaster, logger)

	g := &Gateway{
		cfg:         cfg,
		logger:      logger.With("component", "gateway"),
		store:       st,
		service:     service,
		broadcaster: broadcaster,
	}

	g.httpServer = &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: g.router(),
	}

	return g, nil
}

// Service exposes the messaging service for in-process callers (tests, CLI).
func (g *Gateway) Service() *messaging.Service {
	return g.service
}

// router builds the gin engine with all routes registered.
func (g *Gateway) router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", g.handleHealth)

	api := r.Group("/api")
	{
		api.POST("/conversations", g.handleGetOrCreateConversation)
		api.GET("/conversations", g.handleListConversations)
		api.POST("/conversations/:id/messages", g.handleSendMessage)
		api.GET("/conversations/:id/messages", g.handleListMessages)
		api.POST("/conversations/:id/read", g.handleMarkRead)
		api.POST("/conversations/:id/archive", g.handleSetArchived)
		api.GET("/unread", g.handleTotalUnread)
	}

	r.GET("/ws", g.handleWebSocket)

	return r
}

// Run serves until ctx is cancelled or the server fails, then shuts down
// gracefully and releases the store and broadcaster.
func (g *Gateway) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", g.httpServer.Addr)
		if err := g.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("shutdown requested")
	case serverErr = <-errCh:
		g.logger.Error("HTTP server failed", "error", serverErr)
	}

	shutdownErr := g.shutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// shutdown stops the HTTP server with a fresh timeout context, then closes
// the broadcaster and the store.
func (g *Gateway) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var firstErr error
	if err := g.httpServer.Shutdown(ctx); err != nil {
		firstErr = fmt.Errorf("shutting down HTTP server: %w", err)
	}

	g.broadcaster.Close()

	if err := g.store.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("closing store: %w", err)
	}

	g.logger.Info("gateway stopped")
	return firstErr
}
