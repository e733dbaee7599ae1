package api

import (
	"net/http"

	"codevibe-chat/backend/internal/store"
	apperrors "codevibe-chat/backend/pkg/errors"

	"github.com/gin-gonic/gin"
)

// KVHistoryHandler serves the key-value chat history backed by redis
type KVHistoryHandler struct {
	history *store.History
}

// NewKVHistoryHandler creates a key-value history handler
func NewKVHistoryHandler(history *store.History) *KVHistoryHandler {
	return &KVHistoryHandler{history: history}
}

// RegisterRoutes registers the key-value history routes
func (h *KVHistoryHandler) RegisterRoutes(router gin.IRoutes) {
	router.GET("/chat-history", h.List)
	router.POST("/chat-history", h.Append)
	router.DELETE("/chat-history", h.Clear)
}

func sessionIDRequired() *apperrors.AppError {
	return apperrors.NewBadRequestError("SESSION_ID_REQUIRED", "sessionId is required")
}

func (h *KVHistoryHandler) List(c *gin.Context) {
	sessionID := c.Query("sessionId")
	if sessionID == "" {
		_ = c.Error(sessionIDRequired())
		return
	}

	messages, err := h.history.List(c.Request.Context(), sessionID)
	if err != nil {
		_ = c.Error(apperrors.NewInternalServerError("HISTORY_ERROR", "Failed to fetch chat history").WithCause(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

type appendRequest struct {
	SessionID string         `json:"sessionId"`
	Message   map[string]any `json:"message"`
}

func (h *KVHistoryHandler) Append(c *gin.Context) {
	var req appendRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.SessionID == "" || len(req.Message) == 0 {
		_ = c.Error(apperrors.NewBadRequestError("INVALID_REQUEST", "sessionId and message are required"))
		return
	}

	if err := h.history.Append(c.Request.Context(), req.SessionID, req.Message); err != nil {
		_ = c.Error(apperrors.NewInternalServerError("HISTORY_ERROR", "Failed to store message").WithCause(err))
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "message": "Message stored"})
}

func (h *KVHistoryHandler) Clear(c *gin.Context) {
	sessionID := c.Query("sessionId")
	if sessionID == "" {
		_ = c.Error(sessionIDRequired())
		return
	}

	if err := h.history.Clear(c.Request.Context(), sessionID); err != nil {
		_ = c.Error(apperrors.NewInternalServerError("HISTORY_ERROR", "Failed to clear chat history").WithCause(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Chat history cleared"})
}
