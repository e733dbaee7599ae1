package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"codevibe-chat/backend/internal/blob"
	"codevibe-chat/backend/internal/generation"
	"codevibe-chat/backend/internal/repository"
	"codevibe-chat/backend/internal/sandbox"
	"codevibe-chat/backend/internal/service"
	"codevibe-chat/backend/internal/store"
	"codevibe-chat/backend/internal/stream"
	"codevibe-chat/backend/internal/ws"
	"codevibe-chat/backend/pkg/cache"
	"codevibe-chat/backend/pkg/config"
	"codevibe-chat/backend/pkg/health"
	"codevibe-chat/backend/pkg/jwt"
	"codevibe-chat/backend/pkg/logger"
	"codevibe-chat/backend/pkg/observability"
	"codevibe-chat/backend/pkg/resilience"
	"codevibe-chat/backend/pkg/secrets"

	"github.com/redis/go-redis/v9"
	"github.com/tmc/langchaingo/llms"
	"gorm.io/gorm"
)

// historyTTL bounds how long an idle key-value history is kept
const historyTTL = 30 * 24 * time.Hour

// Container holds all the dependencies for the application
type Container struct {
	Config    *config.Config
	DB        *gorm.DB
	Redis     redis.UniversalClient
	Logger    *logger.Logger
	Telemetry *observability.Telemetry
	Health    *health.Checker
	Secrets   secrets.Manager

	JWTService     *jwt.Service
	SessionCache   *cache.Cache
	SessionService *service.SessionService
	History        *store.History
	BlobStore      blob.Store
	SandboxPool    *sandbox.Pool
	Breaker        *resilience.CircuitBreaker
	Producer       *stream.Producer
	Hub            *ws.Hub
}

// Options carries what the caller has already opened. Only Config and DB are
// required; the rest fall back to defaults built from Config.
type Options struct {
	Config    *config.Config
	DB        *gorm.DB
	Redis     redis.UniversalClient
	Logger    *logger.Logger
	Telemetry *observability.Telemetry
	Secrets   secrets.Manager

	// Model replaces the OpenAI-compatible chat model
	Model llms.Model
	// SandboxProvider replaces the HTTP code-interpreter client
	SandboxProvider sandbox.Provider
	// BlobStore replaces the HTTP blob client
	BlobStore blob.Store
}

// New creates a new dependency injection container
func New(ctx context.Context, opts Options) (*Container, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, errors.New("di: config is required")
	}
	if opts.DB == nil {
		return nil, errors.New("di: database is required")
	}

	log := opts.Logger
	if log == nil {
		log = logger.New(logger.Config{Level: cfg.Logging.Level, JSON: cfg.Logging.Format != "text"})
	}

	sm := opts.Secrets
	if sm == nil {
		sm = secrets.EnvManager{}
	}

	telemetry := opts.Telemetry
	if telemetry == nil {
		var err error
		telemetry, err = observability.Setup(ctx, observability.Config{ServiceName: cfg.Observability.ServiceName})
		if err != nil {
			return nil, fmt.Errorf("failed to set up telemetry: %w", err)
		}
	}

	c := &Container{
		Config:    cfg,
		DB:        opts.DB,
		Redis:     opts.Redis,
		Logger:    log,
		Telemetry: telemetry,
		Secrets:   sm,
	}

	// Persistence
	if err := repository.Migrate(opts.DB); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	if cfg.Cache.Enabled {
		c.SessionCache = cache.New(cache.Options{
			TTL:             cfg.Cache.TTL,
			CleanupInterval: cfg.Cache.PurgeWindow,
			MaxItems:        cfg.Cache.MaxSize,
		})
	}
	c.SessionService = service.NewSessionService(
		repository.NewGormSessionRepository(opts.DB),
		repository.NewGormMessageRepository(opts.DB),
		repository.NewGormFeedbackRepository(opts.DB),
		c.SessionCache,
	)
	if opts.Redis != nil {
		c.History = store.NewHistory(opts.Redis, historyTTL)
	}

	c.JWTService = jwt.NewService(sm.GetSecretWithDefault(ctx, secrets.KeyJWTSecret, cfg.JWT.Secret), cfg.JWT.Expiry)

	c.BlobStore = opts.BlobStore
	if c.BlobStore == nil {
		c.BlobStore = blob.NewHTTPStore(blob.Config{
			BaseURL: cfg.Blob.BaseURL,
			Token:   sm.GetSecretWithDefault(ctx, secrets.KeyBlobToken, ""),
		}, log)
	}

	// Generation
	model := opts.Model
	if model == nil {
		token, err := sm.GetSecret(ctx, secrets.KeyGenerationAPIKey)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %s: %w", secrets.EnvKey(secrets.KeyGenerationAPIKey), err)
		}
		model, err = generation.NewOpenAIModel(cfg.Generation.BaseURL, token, cfg.Generation.Model)
		if err != nil {
			return nil, err
		}
	}
	c.Breaker = resilience.NewCircuitBreaker(resilience.DefaultConfig("generation"), log)
	backend := generation.NewLangChainBackend(model, generation.Options{
		MaxSteps:    cfg.Generation.MaxSteps,
		Temperature: 0.7,
	}, c.Breaker, log)

	var codeTool *generation.Tool
	if cfg.Sandbox.Enabled {
		provider := opts.SandboxProvider
		if provider == nil {
			provider = sandbox.NewClient(sandbox.ClientConfig{
				BaseURL: cfg.Sandbox.BaseURL,
				APIKey:  sm.GetSecretWithDefault(ctx, secrets.KeySandboxAPIKey, ""),
			})
		}
		c.SandboxPool = sandbox.NewPool(provider, sandbox.PoolOptions{
			Size:    cfg.Sandbox.PoolSize,
			IdleTTL: cfg.Sandbox.IdleTTL,
		}, log.With("component", "sandbox"))
		tool := sandbox.CodeExecutionTool(c.SandboxPool, cfg.Sandbox.Timeout, log)
		codeTool = &tool
	}

	producer, err := stream.NewProducer(stream.Config{
		Backend:        backend,
		CodeTool:       codeTool,
		Recorder:       c.SessionService,
		History:        c.SessionService,
		MaxPromptChars: cfg.Generation.MaxPromptChars,
		Model:          cfg.Generation.Model,
		TracerProvider: telemetry.TracerProvider,
		MeterProvider:  telemetry.MeterProvider,
		Logger:         log,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create stream producer: %w", err)
	}
	c.Producer = producer
	c.Hub = ws.NewHub(producer, log, cfg.Security.AllowedOrigins)

	// Health
	c.Health = health.NewChecker(log, cfg.Database.Timeout)
	c.Health.RegisterDatabaseCheck(opts.DB)
	if opts.Redis != nil {
		c.Health.RegisterRedisCheck(opts.Redis)
	}
	c.Health.Register("generation", false, func(context.Context) (health.Status, string, error) {
		if c.Breaker.State() == resilience.StateOpen {
			return health.StatusDegraded, "circuit open", resilience.ErrCircuitOpen
		}
		return health.StatusUp, "model " + cfg.Generation.Model, nil
	})
	c.Health.Register("websocket", false, func(context.Context) (health.Status, string, error) {
		return health.StatusUp, fmt.Sprintf("%d active connections", c.Hub.ActiveConnections()), nil
	})

	return c, nil
}

// Close releases pooled resources; the DB and redis belong to the caller
func (c *Container) Close(ctx context.Context) error {
	if c.SandboxPool != nil {
		c.SandboxPool.Close()
	}
	if c.SessionCache != nil {
		c.SessionCache.Close()
	}
	return c.Telemetry.Shutdown(ctx)
}
