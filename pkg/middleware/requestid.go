package middleware

import (
	"context"

	"github.com/gin-gonic/gin"
)

type contextKey string

const (
	requestIDKey contextKey = "requestID"
	userIDKey    contextKey = "userID"
)

// RequestContext copies the gin request id into the request's context.Context
// so code below the transport (producer, services) can log it.
func RequestContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		if id := c.GetString("requestID"); id != "" {
			c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), requestIDKey, id))
		}
		c.Next()
	}
}

// WithUserID stores the user id on ctx
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// GetRequestID extracts the request ID from a context
func GetRequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// GetUserID extracts the user ID from a context
func GetUserID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(userIDKey).(string)
	return id
}
