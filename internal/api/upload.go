package api

import (
	"errors"
	"io"
	"net/http"

	"codevibe-chat/backend/internal/blob"
	apperrors "codevibe-chat/backend/pkg/errors"

	"github.com/gin-gonic/gin"
)

// UploadHandler accepts attachments and stores them in the blob store
type UploadHandler struct {
	store blob.Store
}

// NewUploadHandler creates an upload handler
func NewUploadHandler(store blob.Store) *UploadHandler {
	return &UploadHandler{store: store}
}

// RegisterRoutes registers the upload route
func (h *UploadHandler) RegisterRoutes(router gin.IRoutes) {
	router.POST("/upload", h.Upload)
}

func tooLarge() *apperrors.AppError {
	return apperrors.NewPayloadTooLargeError("FILE_TOO_LARGE",
		"File size exceeds 4.5MB limit for server uploads. Use client-side upload for larger files.")
}

// Upload stores the raw request body under ?filename=
func (h *UploadHandler) Upload(c *gin.Context) {
	filename := c.Query("filename")
	if filename == "" {
		_ = c.Error(apperrors.NewBadRequestError("FILENAME_REQUIRED", "filename is required"))
		return
	}
	if c.Request.ContentLength > blob.MaxUploadSize {
		_ = c.Error(tooLarge())
		return
	}

	// read one byte past the limit so chunked bodies are also caught
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, blob.MaxUploadSize+1))
	if err != nil {
		_ = c.Error(apperrors.NewBadRequestError("INVALID_BODY", "Failed to read upload").WithCause(err))
		return
	}
	if int64(len(body)) > blob.MaxUploadSize {
		_ = c.Error(tooLarge())
		return
	}

	obj, err := h.store.Upload(c.Request.Context(), filename, c.ContentType(), body)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, obj)
	case errors.Is(err, blob.ErrTooLarge):
		_ = c.Error(tooLarge())
	case errors.Is(err, blob.ErrEmptyFilename):
		_ = c.Error(apperrors.NewBadRequestError("FILENAME_REQUIRED", "filename is required"))
	case errors.Is(err, blob.ErrMissingToken):
		_ = c.Error(apperrors.NewServiceUnavailableError("UPLOAD_UNAVAILABLE", "File uploads are not configured").WithCause(err))
	default:
		_ = c.Error(apperrors.NewBadGatewayError("UPLOAD_FAILED", "Failed to upload file").WithCause(err))
	}
}
