package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"chat-client/internal/api"
	"chat-client/internal/conversation"
	"chat-client/internal/middleware"
	"chat-client/internal/models"
	"chat-client/internal/reconcile"
	"chat-client/internal/view"
)

// Conversation is the controller surface used by the handlers.
type Conversation interface {
	Open(ctx context.Context, friendID int64) error
	FriendID() int64
	SelfID() int64
	Messages() []models.Message
	Status() conversation.Status
	Send(ctx context.Context, content string, replyToID *int64) (models.Message, error)
	Edit(ctx context.Context, key, content string) (models.Message, error)
	Delete(ctx context.Context, key string) error
	Unsend(ctx context.Context, key string) (models.Message, error)
	MarkRead(ctx context.Context) ([]int64, error)
	Typing(active bool) (bool, error)
}

// Sessions records session changes made through the API.
type Sessions interface {
	SelectFriend(ctx context.Context, friendID int64) error
	Expire(ctx context.Context) error
}

// ConversationHandler serves the local presentation API.
type ConversationHandler struct {
	conv     Conversation
	sessions Sessions
	logger   *zap.Logger
	now      func() time.Time
}

// NewConversationHandler builds a ConversationHandler.
func NewConversationHandler(conv Conversation, sessions Sessions, logger *zap.Logger) *ConversationHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConversationHandler{conv: conv, sessions: sessions, logger: logger, now: time.Now}
}

// Status reports the conversation and connection state.
func (h *ConversationHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"user_id":      c.GetInt64(middleware.UserIDKey),
		"conversation": h.conv.Status(),
	})
}

// OpenConversation switches to the conversation with a friend.
func (h *ConversationHandler) OpenConversation(c *gin.Context) {
	var req struct {
		FriendID int64 `json:"friend_id" binding:"required,gt=0"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.FriendID == c.GetInt64(middleware.UserIDKey) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot chat with yourself"})
		return
	}

	if err := h.conv.Open(c.Request.Context(), req.FriendID); err != nil {
		h.fail(c, err)
		return
	}
	if err := h.sessions.SelectFriend(c.Request.Context(), req.FriendID); err != nil {
		h.logger.Warn("failed to remember conversation", zap.Int64("friend_id", req.FriendID), zap.Error(err))
	}
	c.JSON(http.StatusOK, h.conv.Status())
}

// GetMessages returns the rendered conversation.
func (h *ConversationHandler) GetMessages(c *gin.Context) {
	friendID := h.conv.FriendID()
	if friendID == 0 {
		h.fail(c, reconcile.ErrNoConversation)
		return
	}
	lines := view.Render(h.conv.Messages(), h.conv.SelfID(), h.now())
	c.JSON(http.StatusOK, gin.H{"friend_id": friendID, "messages": lines})
}

// PostMessage sends a message to the open conversation.
func (h *ConversationHandler) PostMessage(c *gin.Context) {
	var req struct {
		Content   string `json:"content" binding:"required"`
		ReplyToID *int64 `json:"reply_to_id" binding:"omitempty,gt=0"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := h.conv.Send(c.Request.Context(), req.Content, req.ReplyToID)
	if err != nil {
		h.fail(c, err)
		return
	}
	status := http.StatusCreated
	if msg.IsTemp {
		status = http.StatusAccepted
	}
	c.JSON(status, msg)
}

// EditMessage replaces the content of a message.
func (h *ConversationHandler) EditMessage(c *gin.Context) {
	var req struct {
		Content string `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := h.conv.Edit(c.Request.Context(), c.Param("message_id"), req.Content)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

// DeleteMessage deletes a message for the session user.
func (h *ConversationHandler) DeleteMessage(c *gin.Context) {
	if err := h.conv.Delete(c.Request.Context(), c.Param("message_id")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// UnsendMessage retracts a message for both participants.
func (h *ConversationHandler) UnsendMessage(c *gin.Context) {
	msg, err := h.conv.Unsend(c.Request.Context(), c.Param("message_id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

// MarkRead marks the friend's messages read.
func (h *ConversationHandler) MarkRead(c *gin.Context) {
	ids, err := h.conv.MarkRead(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	if ids == nil {
		ids = []int64{}
	}
	c.JSON(http.StatusOK, gin.H{"message_ids": ids})
}

// Typing toggles the local typing indicator.
func (h *ConversationHandler) Typing(c *gin.Context) {
	var req struct {
		IsTyping *bool `json:"is_typing" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sent, err := h.conv.Typing(*req.IsTyping)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sent": sent})
}

func (h *ConversationHandler) fail(c *gin.Context, err error) {
	var sendErr *conversation.SendError
	var apiErr *api.Error

	switch {
	case errors.Is(err, api.ErrUnauthorized):
		if expErr := h.sessions.Expire(c.Request.Context()); expErr != nil {
			h.logger.Warn("failed to expire session", zap.Error(expErr))
		}
		c.JSON(http.StatusUnauthorized, gin.H{"error": "session expired, please log in again"})
	case errors.Is(err, reconcile.ErrNoConversation):
		c.JSON(http.StatusConflict, gin.H{"error": "no conversation is open"})
	case errors.Is(err, reconcile.ErrPendingMessage):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, reconcile.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
	case errors.Is(err, reconcile.ErrEmptyContent):
		c.JSON(http.StatusBadRequest, gin.H{"error": "content is required"})
	case errors.As(err, &sendErr):
		body := gin.H{"error": "failed to send message", "content": sendErr.Content}
		if errors.As(err, &apiErr) && apiErr.Detail != "" {
			body["detail"] = apiErr.Detail
		}
		c.JSON(http.StatusBadGateway, body)
	case errors.As(err, &apiErr):
		status := http.StatusBadGateway
		if apiErr.Status >= 400 && apiErr.Status < 500 {
			status = apiErr.Status
		}
		c.JSON(status, gin.H{"error": apiErr.Detail, "op": apiErr.Op})
	case errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "request timed out"})
	default:
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	}
	_ = c.Error(err)
}
