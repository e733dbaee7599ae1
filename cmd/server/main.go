package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"codevibe-chat/backend/internal/store"
	"codevibe-chat/backend/pkg/config"
	"codevibe-chat/backend/pkg/di"
	"codevibe-chat/backend/pkg/grpcserver"
	"codevibe-chat/backend/pkg/logger"
	"codevibe-chat/backend/pkg/observability"
	"codevibe-chat/backend/pkg/router"
	"codevibe-chat/backend/pkg/secrets"

	"github.com/redis/go-redis/v9"
)

func main() {
	// Load configuration (reads .env when present)
	cfg := config.New()

	// Initialize structured logger
	log := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		JSON:   cfg.Logging.Format != "text",
		Output: os.Stderr,
	})
	logger.SetGlobal(log)

	log.Info("Starting application", "version", os.Getenv("APP_VERSION"), "env", cfg.Server.Env)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	telemetryCfg := observability.Config{ServiceName: cfg.Observability.ServiceName, Global: true}
	if cfg.Observability.TracingStdout {
		telemetryCfg.TraceWriter = os.Stdout
	}
	telemetry, err := observability.Setup(ctx, telemetryCfg)
	if err != nil {
		log.LogError(err, "Failed to initialize telemetry")
		os.Exit(1)
	}

	sm, err := secrets.Init(log)
	if err != nil {
		log.LogError(err, "Failed to initialize secrets manager")
		os.Exit(1)
	}

	// Initialize database
	db, err := config.NewDB(cfg)
	if err != nil {
		log.LogError(err, "Failed to initialize database")
		os.Exit(1)
	}
	if err := config.TestConnection(db); err != nil {
		log.LogError(err, "Database is not reachable")
		os.Exit(1)
	}

	rdb := openRedis(ctx, cfg, log)

	container, err := di.New(ctx, di.Options{
		Config:    cfg,
		DB:        db,
		Redis:     rdb,
		Logger:    log,
		Telemetry: telemetry,
		Secrets:   sm,
	})
	if err != nil {
		log.LogError(err, "Failed to initialize dependency container")
		os.Exit(1)
	}

	container.Health.RunChecks(ctx)
	container.Health.Start(ctx, 30*time.Second)
	go container.Hub.Run(ctx)

	// Initialize and setup router
	r := router.New(container)
	r.SetupRoutes()

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r.Engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("Server starting", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.LogError(err, "Server failed to start")
			stop()
		}
	}()

	grpcSrv := grpcserver.New(container.Health, log)
	go func() {
		if err := grpcSrv.ListenAndServe(cfg.Server.GRPCPort); err != nil {
			log.LogError(err, "gRPC server failed")
		}
	}()

	// Block until we receive a signal
	<-ctx.Done()
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	grpcSrv.Stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.LogError(err, "Server forced to shutdown")
	}
	r.Close()
	if err := container.Close(shutdownCtx); err != nil {
		log.LogError(err, "Failed to flush telemetry")
	}
	if rdb != nil {
		_ = rdb.Close()
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}

	log.Info("Server exited gracefully")
}

// openRedis connects the key-value history store; without it the service runs degraded
func openRedis(ctx context.Context, cfg *config.Config, log *logger.Logger) redis.UniversalClient {
	if !cfg.Redis.Enabled {
		return nil
	}
	client, err := store.NewRedisClient(store.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		log.LogError(err, "Invalid redis configuration, key-value history disabled")
		return nil
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Warn("Redis is not reachable yet, health will report degraded", "addr", cfg.Redis.Addr, "error", err.Error())
	}
	return client
}
