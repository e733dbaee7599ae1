package api

import (
	"errors"
	"fmt"
	"net/http"

	"codevibe-chat/backend/internal/stream"
	apperrors "codevibe-chat/backend/pkg/errors"
	"codevibe-chat/backend/pkg/logger"
	"codevibe-chat/backend/pkg/middleware"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"
)

// ChatHandler serves the streaming chat endpoint
type ChatHandler struct {
	producer    *stream.Producer
	maxBodySize int64
}

// NewChatHandler creates a chat handler; maxBodySize <= 0 disables the cap
func NewChatHandler(producer *stream.Producer, maxBodySize int64) *ChatHandler {
	return &ChatHandler{producer: producer, maxBodySize: maxBodySize}
}

// RegisterRoutes registers the chat routes
func (h *ChatHandler) RegisterRoutes(router gin.IRoutes) {
	router.POST("/chat", h.Stream)
}

// Stream answers with a Server-Sent Events body. Failures before the first
// event produce a JSON error; later failures produce an error event.
func (h *ChatHandler) Stream(c *gin.Context) {
	if h.maxBodySize > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBodySize)
	}

	var req stream.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			_ = c.Error(apperrors.NewPayloadTooLargeError("REQUEST_TOO_LARGE",
				fmt.Sprintf("Request body exceeds %d bytes", tooLarge.Limit)))
			return
		}
		_ = c.Error(apperrors.NewBadRequestError("INVALID_REQUEST", "Invalid request body").WithDetails(err.Error()))
		return
	}
	req.UserID = c.GetString(middleware.UserIDContextKey)

	ctx := c.Request.Context()
	out := newSSEWriter(c)
	err := h.producer.Handle(ctx, req, out)

	if ctx.Err() != nil {
		// client went away; nobody is reading
		return
	}
	if err != nil {
		if !out.started {
			_ = c.Error(stream.AppError(err))
			return
		}
		logger.FromContext(c).LogError(err, "chat stream aborted after output started")
		_ = out.Emit(stream.ErrorEvent(err))
	}
	out.Done()
}

// sseWriter writes events as SSE data lines and flushes after each one
type sseWriter struct {
	c       *gin.Context
	started bool
}

func newSSEWriter(c *gin.Context) *sseWriter {
	return &sseWriter{c: c}
}

func (w *sseWriter) start() {
	if w.started {
		return
	}
	w.started = true
	h := w.c.Writer.Header()
	h.Set("Content-Type", sse.ContentType)
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.c.Status(http.StatusOK)
}

func (w *sseWriter) Emit(ev stream.Event) error {
	if err := w.c.Request.Context().Err(); err != nil {
		return err
	}
	w.start()
	if err := sse.Encode(w.c.Writer, sse.Event{Data: ev}); err != nil {
		return err
	}
	w.c.Writer.Flush()
	return nil
}

// Done writes the terminator
func (w *sseWriter) Done() {
	w.start()
	_ = sse.Encode(w.c.Writer, sse.Event{Data: stream.DoneMarker})
	w.c.Writer.Flush()
}
