// ABOUTME: HTTP handlers for the messaging operations exposed to platform collaborators
// ABOUTME: Maps service error categories onto HTTP status codes

package gateway

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/BarangayMo/chat-core/internal/messaging"
	"github.com/BarangayMo/chat-core/internal/store"
)

// statusForError maps the service error taxonomy onto HTTP status codes.
// Validation and authorization failures are never retried by clients;
// everything else surfaces as a 500.
func statusForError(err error) int {
	switch {
	case errors.Is(err, messaging.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, messaging.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func abortWithError(c *gin.Context, err error) {
	c.JSON(statusForError(err), gin.H{"error": err.Error()})
}

func (g *Gateway) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type getOrCreateConversationRequest struct {
	UserA string `json:"user_a" binding:"required"`
	UserB string `json:"user_b" binding:"required"`
}

// POST /api/conversations
func (g *Gateway) handleGetOrCreateConversation(c *gin.Context) {
	var req getOrCreateConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	conv, err := g.service.GetOrCreateConversation(c.Request.Context(), req.UserA, req.UserB)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, toWireConversation(conv))
}

// GET /api/conversations?user_id=U
func (g *Gateway) handleListConversations(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}

	summaries, err := g.service.ListConversations(c.Request.Context(), userID)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"conversations": toWireSummaries(summaries)})
}

type sendMessageRequest struct {
	SenderID    string `json:"sender_id" binding:"required"`
	RecipientID string `json:"recipient_id" binding:"required"`
	Content     string `json:"content"`
}

// POST /api/conversations/:id/messages
func (g *Gateway) handleSendMessage(c *gin.Context) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := g.service.SendMessage(c.Request.Context(), c.Param("id"), req.SenderID, req.RecipientID, req.Content)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, toWireMessage(msg))
}

// GET /api/conversations/:id/messages?caller_id=U[&after_seq=N]
func (g *Gateway) handleListMessages(c *gin.Context) {
	callerID := c.Query("caller_id")
	if callerID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "caller_id is required"})
		return
	}

	var (
		msgs []*store.Message
		err  error
	)
	if afterSeqStr := c.Query("after_seq"); afterSeqStr != "" {
		afterSeq, parseErr := strconv.ParseInt(afterSeqStr, 10, 64)
		if parseErr != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "after_seq must be an integer"})
			return
		}
		msgs, err = g.service.ListMessagesAfter(c.Request.Context(), c.Param("id"), callerID, afterSeq)
	} else {
		msgs, err = g.service.ListMessages(c.Request.Context(), c.Param("id"), callerID)
	}
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"messages": toWireMessages(msgs)})
}

type markReadRequest struct {
	CallerID string `json:"caller_id" binding:"required"`
}

// POST /api/conversations/:id/read
func (g *Gateway) handleMarkRead(c *gin.Context) {
	var req markReadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	count, err := g.service.MarkRead(c.Request.Context(), c.Param("id"), req.CallerID)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"marked": count})
}

type setArchivedRequest struct {
	CallerID string `json:"caller_id" binding:"required"`
	Archived *bool  `json:"archived" binding:"required"`
}

// POST /api/conversations/:id/archive
func (g *Gateway) handleSetArchived(c *gin.Context) {
	var req setArchivedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := g.service.SetArchived(c.Request.Context(), c.Param("id"), req.CallerID, *req.Archived); err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"archived": *req.Archived})
}

// GET /api/unread?user_id=U
func (g *Gateway) handleTotalUnread(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}

	total, err := g.service.TotalUnread(c.Request.Context(), userID)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"total": total})
}
