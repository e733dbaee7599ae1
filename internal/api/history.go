package api

import (
	"errors"
	"net/http"
	"strconv"

	"codevibe-chat/backend/internal/models"
	"codevibe-chat/backend/internal/service"
	apperrors "codevibe-chat/backend/pkg/errors"
	"codevibe-chat/backend/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// HistoryHandler serves the relational chat history, one route multiplexed on ?action=
type HistoryHandler struct {
	sessions *service.SessionService
}

// NewHistoryHandler creates a history handler
func NewHistoryHandler(sessions *service.SessionService) *HistoryHandler {
	return &HistoryHandler{sessions: sessions}
}

// RegisterRoutes registers the history routes
func (h *HistoryHandler) RegisterRoutes(router gin.IRoutes) {
	router.GET("/db-chat-history", h.Get)
	router.POST("/db-chat-history", h.Post)
	router.PUT("/db-chat-history", h.Put)
	router.DELETE("/db-chat-history", h.Delete)
}

func invalidAction(details string) *apperrors.AppError {
	err := apperrors.NewBadRequestError("INVALID_ACTION", "Invalid action")
	if details != "" {
		err = err.WithDetails(details)
	}
	return err
}

// Get lists sessions, messages or feedback, or fetches one session or message
func (h *HistoryHandler) Get(c *gin.Context) {
	ctx := c.Request.Context()
	sessionID := c.Query("sessionId")

	switch c.Query("action") {
	case "sessions":
		userID := c.Query("userId")
		if userID == "" {
			userID = c.GetString(middleware.UserIDContextKey)
		}
		if userID == "" {
			_ = c.Error(invalidAction("userId is required"))
			return
		}
		sessions, err := h.sessions.ListSessions(ctx, userID)
		if err != nil {
			_ = c.Error(serviceError(err))
			return
		}
		if sessions == nil {
			sessions = []models.ChatSession{}
		}
		c.JSON(http.StatusOK, gin.H{"sessions": sessions})

	case "messages":
		if sessionID == "" {
			_ = c.Error(invalidAction("sessionId is required"))
			return
		}
		limit, _ := strconv.Atoi(c.Query("limit"))
		messages, err := h.sessions.Messages(ctx, sessionID, limit)
		if err != nil {
			_ = c.Error(serviceError(err))
			return
		}
		if messages == nil {
			messages = []models.ChatMessage{}
		}
		c.JSON(http.StatusOK, gin.H{"messages": messages})

	case "session":
		if sessionID == "" {
			_ = c.Error(invalidAction("sessionId is required"))
			return
		}
		session, err := h.sessions.GetSession(ctx, sessionID)
		if err != nil {
			_ = c.Error(serviceError(err))
			return
		}
		c.JSON(http.StatusOK, gin.H{"session": session})

	case "message":
		id, err := strconv.ParseUint(c.Query("id"), 10, 64)
		if err != nil {
			_ = c.Error(apperrors.NewBadRequestError("INVALID_MESSAGE_ID", "Invalid message ID"))
			return
		}
		msg, err := h.sessions.Message(ctx, uint(id))
		if err != nil {
			_ = c.Error(serviceError(err))
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": msg})

	case "feedback":
		messageID := c.Query("messageId")
		if messageID == "" {
			_ = c.Error(invalidAction("messageId is required"))
			return
		}
		feedback, err := h.sessions.Feedback(ctx, messageID)
		if err != nil {
			_ = c.Error(serviceError(err))
			return
		}
		if feedback == nil {
			feedback = []models.Feedback{}
		}
		c.JSON(http.StatusOK, gin.H{"feedback": feedback})

	case "stats":
		if sessionID == "" {
			_ = c.Error(invalidAction("sessionId is required"))
			return
		}
		stats, err := h.sessions.Stats(ctx, sessionID)
		if err != nil {
			_ = c.Error(serviceError(err))
			return
		}
		c.JSON(http.StatusOK, gin.H{"stats": stats})

	default:
		_ = c.Error(invalidAction(""))
	}
}

type historyPostRequest struct {
	Action      string              `json:"action"`
	SessionID   string              `json:"sessionId"`
	UserID      string              `json:"userId"`
	Title       string              `json:"title"`
	Role        string              `json:"role"`
	Content     string              `json:"content"`
	Attachments []models.Attachment `json:"attachments"`
	Model       string              `json:"model"`
	MessageID   string              `json:"messageId"`
	Rating      string              `json:"rating"`
	Comment     string              `json:"comment"`
}

// Post creates a session, appends a message, or records feedback
func (h *HistoryHandler) Post(c *gin.Context) {
	var req historyPostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperrors.NewBadRequestError("INVALID_REQUEST", "Invalid request body").WithDetails(err.Error()))
		return
	}
	ctx := c.Request.Context()
	if req.UserID == "" {
		req.UserID = c.GetString(middleware.UserIDContextKey)
	}

	switch {
	case req.Action == "createSession" && req.SessionID != "":
		session, err := h.sessions.CreateSession(ctx, models.CreateSessionRequest{
			SessionID: req.SessionID,
			UserID:    req.UserID,
			Title:     req.Title,
		})
		if err != nil {
			_ = c.Error(serviceError(err))
			return
		}
		c.JSON(http.StatusCreated, gin.H{"session": session})

	case req.Action == "addMessage" && req.SessionID != "" && req.Role != "" && req.Content != "":
		msg, err := h.sessions.AddMessage(ctx, models.AddMessageRequest{
			SessionID:   req.SessionID,
			Role:        req.Role,
			Content:     req.Content,
			Attachments: req.Attachments,
			Model:       req.Model,
		})
		if err != nil {
			_ = c.Error(serviceError(err))
			return
		}
		c.JSON(http.StatusCreated, gin.H{"message": msg})

	case req.Action == "feedback" && req.MessageID != "":
		fb, err := h.sessions.AddFeedback(ctx, req.MessageID, req.Rating, req.Comment)
		if err != nil {
			_ = c.Error(serviceError(err))
			return
		}
		c.JSON(http.StatusCreated, gin.H{"feedback": fb})

	default:
		_ = c.Error(apperrors.NewBadRequestError("INVALID_ACTION", "Invalid action or missing data"))
	}
}

type historyPutRequest struct {
	SessionID string `json:"sessionId"`
	Title     string `json:"title"`
}

// Put renames a session
func (h *HistoryHandler) Put(c *gin.Context) {
	var req historyPutRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.SessionID == "" {
		_ = c.Error(apperrors.NewBadRequestError("INVALID_REQUEST", "sessionId is required"))
		return
	}

	session, err := h.sessions.UpdateTitle(c.Request.Context(), req.SessionID, req.Title)
	if err != nil {
		_ = c.Error(serviceError(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": session})
}

// Delete removes a session with its messages, or a single message
func (h *HistoryHandler) Delete(c *gin.Context) {
	ctx := c.Request.Context()

	switch c.Query("action") {
	case "session":
		sessionID := c.Query("sessionId")
		if sessionID == "" {
			_ = c.Error(invalidAction("sessionId is required"))
			return
		}
		if err := h.sessions.DeleteSession(ctx, sessionID); err != nil {
			_ = c.Error(serviceError(err))
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "message": "Session deleted"})

	case "message":
		id, err := strconv.ParseUint(c.Query("id"), 10, 64)
		if err != nil {
			_ = c.Error(apperrors.NewBadRequestError("INVALID_MESSAGE_ID", "Invalid message ID"))
			return
		}
		if err := h.sessions.DeleteMessage(ctx, uint(id)); err != nil {
			_ = c.Error(serviceError(err))
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "message": "Message deleted"})

	default:
		_ = c.Error(invalidAction(""))
	}
}

func serviceError(err error) *apperrors.AppError {
	switch {
	case errors.Is(err, service.ErrSessionNotFound):
		return apperrors.NewNotFoundError("SESSION_NOT_FOUND", "Session not found")
	case errors.Is(err, service.ErrMessageNotFound):
		return apperrors.NewNotFoundError("MESSAGE_NOT_FOUND", "Message not found")
	case errors.Is(err, service.ErrSessionExists):
		return apperrors.NewError(http.StatusConflict, "SESSION_EXISTS", "Session already exists")
	case errors.Is(err, service.ErrInvalidRole),
		errors.Is(err, service.ErrEmptyContent),
		errors.Is(err, service.ErrInvalidRating):
		return apperrors.NewBadRequestError("INVALID_REQUEST", err.Error())
	default:
		return apperrors.NewInternalServerError("DATABASE_ERROR", "Failed to access chat history").WithCause(err)
	}
}
