package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"go.uber.org/zap"

	"github.com/linksmith/linksmith/config"
	"github.com/linksmith/linksmith/internal/app/auth"
	appmodel "github.com/linksmith/linksmith/internal/app/model"
	"github.com/linksmith/linksmith/internal/app/ratelimit"
	apprepository "github.com/linksmith/linksmith/internal/app/repository"
	appserver "github.com/linksmith/linksmith/internal/app/server"
	appservice "github.com/linksmith/linksmith/internal/app/service"
	"github.com/linksmith/linksmith/internal/infra/logger"
	infraNATS "github.com/linksmith/linksmith/internal/infra/nats"
	infraPostgres "github.com/linksmith/linksmith/internal/infra/postgres"
	infraPrometheus "github.com/linksmith/linksmith/internal/infra/prometheus"
	infraRedis "github.com/linksmith/linksmith/internal/infra/redis"
)

// Sized for a deployment well past any realistic link count; at 1% false
// positives a miss still falls back to a store read.
const (
	slugFilterCapacity = 1_000_000
	slugFilterFPRate   = 0.01
)

func main() {
	ctx := context.Background()

	isDev := os.Getenv("APP_ENV") != "production"
	log := logger.MustInit(logger.Config{
		Development: isDev,
		Level:       os.Getenv("LOG_LEVEL"),
	})
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load config", zap.Error(err))
	}

	log.Info("Configuration loaded successfully",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("base_url", cfg.Server.BaseURL),
		zap.Bool("restricted_mode", cfg.Server.AdminKey != ""),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.String("redis_host", cfg.Redis.Host),
		zap.Int("redis_port", cfg.Redis.Port),
	)

	redisClient, err := infraRedis.NewClient(ctx, cfg.Redis)
	if err != nil {
		log.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	log.Info("Connected to Redis successfully")

	var store apprepository.KVStore
	switch cfg.Storage.Backend {
	case "", "redis":
		store = apprepository.NewRedisStore(redisClient)
	case "postgres":
		gormDB, err := infraPostgres.NewGorm(cfg.Postgres)
		if err != nil {
			log.Fatal("Failed to open GORM connection", zap.Error(err))
		}
		if err := infraPostgres.AutoMigrate(ctx, gormDB, &appmodel.KVEntry{}); err != nil {
			log.Fatal("Failed to run database migrations", zap.Error(err))
		}
		if sqlDB, err := gormDB.DB(); err == nil {
			defer sqlDB.Close()
		}

		pool, err := infraPostgres.NewPool(ctx, cfg.Postgres)
		if err != nil {
			log.Fatal("Failed to connect to Postgres", zap.Error(err))
		}
		defer pool.Close()
		log.Info("Connected to Postgres successfully")

		store = apprepository.NewPostgresStore(pool)
	default:
		log.Fatal("Unknown storage backend", zap.String("backend", cfg.Storage.Backend))
	}

	var events *appservice.EventPublisher
	if cfg.NATS.Host != "" {
		natsConn, js, err := infraNATS.Connect(cfg.NATS)
		if err != nil {
			log.Fatal("Failed to connect to NATS", zap.Error(err))
		}
		defer natsConn.Drain()

		events = appservice.NewEventPublisher(js)
		if err := events.EnsureStream(); err != nil {
			log.Fatal("Failed to ensure link event stream", zap.Error(err))
		}
		log.Info("Connected to NATS successfully")
	} else {
		log.Info("NATS not configured, link events disabled")
	}

	if !isDev {
		promServer := infraPrometheus.NewServer(cfg.Prometheus)
		go func() {
			log.Info("Starting Prometheus metrics server",
				zap.Int("port", cfg.Prometheus.Port))
			if err := promServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("Prometheus metrics server stopped unexpectedly", zap.Error(err))
			}
		}()
		defer func() {
			if err := promServer.Close(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Warn("Failed to close Prometheus server", zap.Error(err))
			}
		}()
	} else {
		log.Info("Skipping Prometheus metrics server in development mode")
	}

	guard := auth.NewGuard(cfg.Server.AdminKey, store)

	limiter := ratelimit.NewRedisLimiter(redisClient, ratelimit.Config{
		MaxRequests: cfg.RateLimit.MaxRequests,
		Window:      time.Duration(cfg.RateLimit.WindowSeconds) * time.Second,
	}, log)

	links := appservice.NewLinkService(appservice.Deps{
		Logger:     log,
		Store:      store,
		Guard:      guard,
		Limiter:    limiter,
		Events:     events,
		Origin:     cfg.Server.BaseURL,
		SlugLength: cfg.Server.SlugLength,
		Filter:     bloom.NewWithEstimates(slugFilterCapacity, slugFilterFPRate),
	})

	server := appserver.New(appserver.Dependencies{
		Logger: log,
		Links:  links,
	})

	if err := server.Listen(fmt.Sprintf(":%d", cfg.Server.Port)); err != nil {
		log.Fatal("Fiber server exited", zap.Error(err))
	}
}
