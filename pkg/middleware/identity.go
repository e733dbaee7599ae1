package middleware

import (
	"strings"

	"codevibe-chat/backend/pkg/errors"
	"codevibe-chat/backend/pkg/jwt"
	"codevibe-chat/backend/pkg/logger"

	"github.com/gin-gonic/gin"
)

// UserIDContextKey holds the authenticated user id on the gin context
const UserIDContextKey = "userId"

// Identity reads an optional bearer token. Requests without one stay anonymous;
// requests with an invalid one are rejected.
func Identity(jwtService *jwt.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.Next()
			return
		}

		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			c.Error(errors.NewUnauthorizedError("INVALID_TOKEN", "Authorization header must be a bearer token"))
			c.Abort()
			return
		}

		claims, err := jwtService.ValidateToken(token)
		if err != nil {
			logger.FromContext(c).Warn("invalid bearer token", "error", err.Error())
			c.Error(errors.NewUnauthorizedError("INVALID_TOKEN", "Invalid or expired token"))
			c.Abort()
			return
		}

		c.Set("claims", claims)
		c.Set(UserIDContextKey, claims.UserID)
		c.Request = c.Request.WithContext(WithUserID(c.Request.Context(), claims.UserID))

		c.Next()
	}
}

// RequireUser rejects anonymous requests
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString(UserIDContextKey) == "" {
			c.Error(errors.NewUnauthorizedError("AUTH_REQUIRED", "Authentication required"))
			c.Abort()
			return
		}
		c.Next()
	}
}
