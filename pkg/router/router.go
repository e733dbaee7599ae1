package router

import (
	"os"
	"time"

	"codevibe-chat/backend/internal/api"
	"codevibe-chat/backend/pkg/config"
	"codevibe-chat/backend/pkg/di"
	"codevibe-chat/backend/pkg/errors"
	"codevibe-chat/backend/pkg/logger"
	"codevibe-chat/backend/pkg/middleware"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// Track server start time for uptime calculations
var startTime = time.Now()

// Router is the main router for the application
type Router struct {
	Engine      *gin.Engine
	Container   *di.Container
	Logger      *logger.Logger
	Config      *config.Config
	rateLimiter *middleware.RateLimiter
}

// New creates a new router with the given container
func New(container *di.Container) *Router {
	// Use the container's logger
	logger.SetGlobal(container.Logger)
	cfg := container.Config

	// Configure Gin mode based on environment
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Initialize Gin router
	engine := gin.New()

	// Use the logger middleware first to capture all requests
	engine.Use(logger.Middleware(container.Logger))
	engine.Use(middleware.RequestContext())

	// Add custom error handler middleware
	engine.Use(errors.ErrorHandler())

	// Add custom recovery middleware with structured logging instead of default
	engine.Use(errors.RecoveryWithLogger())

	engine.Use(middleware.CORS(cfg.Security.AllowedOrigins))

	// Bearer tokens are optional; a valid one attributes sessions to the user
	engine.Use(middleware.Identity(container.JWTService))

	opts := middleware.DefaultRateLimiterOptions()
	opts.Limit = rate.Limit(cfg.Security.RateLimit)
	opts.Burst = cfg.Security.RateLimitBurst

	return &Router{
		Engine:      engine,
		Container:   container,
		Logger:      container.Logger,
		Config:      cfg,
		rateLimiter: middleware.NewRateLimiter(container.Logger, opts),
	}
}

// SetupRoutes registers all application routes
func (r *Router) SetupRoutes() {
	r.setupHealthRoutes()

	gates := []gin.HandlerFunc{r.rateLimiter.Middleware()}
	if r.Config.Security.RequireAuth {
		gates = append(gates, middleware.RequireUser())
	}

	apiGroup := r.Engine.Group("/api")
	apiGroup.Use(gates...)

	if schemaPath := os.Getenv("OPENAPI_SCHEMA_PATH"); schemaPath != "" {
		r.AddOpenAPIValidation(apiGroup, schemaPath)
	}

	api.NewChatHandler(r.Container.Producer, r.Config.Security.MaxBodySize).RegisterRoutes(apiGroup)
	api.NewHistoryHandler(r.Container.SessionService).RegisterRoutes(apiGroup)
	api.NewUploadHandler(r.Container.BlobStore).RegisterRoutes(apiGroup)

	if r.Container.History != nil {
		api.NewKVHistoryHandler(r.Container.History).RegisterRoutes(apiGroup)
	} else {
		r.Logger.Warn("redis is not configured, /api/chat-history is disabled")
	}

	// WebSocket route
	r.Engine.GET("/ws/chat", append(gates, r.Container.Hub.Handler())...)
}

// Close stops background work owned by the router
func (r *Router) Close() {
	r.rateLimiter.Close()
}
