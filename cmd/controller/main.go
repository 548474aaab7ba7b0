package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/meetbot/meetbot/internal/auth"
	"github.com/meetbot/meetbot/internal/config"
	"github.com/meetbot/meetbot/internal/controller"
	"github.com/meetbot/meetbot/internal/controller/scheduler"
	"github.com/meetbot/meetbot/internal/db"
	"github.com/meetbot/meetbot/internal/health"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	dbClient, err := db.NewClient(&db.Config{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		Database:        cfg.Database.Database,
		SSLMode:         cfg.Database.SSLMode,
		MaxConnections:  cfg.Database.MaxConnections,
		IdleConnections: cfg.Database.IdleConnections,
		MaxLifetime:     cfg.Database.MaxLifetime,
	}, logger)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer dbClient.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := db.EnsureSchema(ctx, dbClient); err != nil {
		logger.Fatal("failed to ensure schema", zap.Error(err))
	}

	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		logger.Fatal("failed to parse redis url", zap.Error(err))
	}
	if cfg.Redis.Password != "" {
		redisOpts.Password = cfg.Redis.Password
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal("failed to reach redis", zap.Error(err))
	}

	dockerScheduler, err := scheduler.NewDockerScheduler(ctx, "", cfg.Controller.DockerImage, logger)
	if err != nil {
		logger.Fatal("failed to connect to docker", zap.Error(err))
	}

	tokens := auth.NewMeetingTokenManager(cfg.Auth.MeetingTokenSecret, cfg.Auth.Issuer, cfg.Auth.Audience, cfg.Controller.MeetingTokenTTL)
	accounts := auth.NewAccountAuth(dbClient.SQLX())
	authMiddleware := auth.NewMiddleware(accounts, false)

	webhooks := controller.NewWebhookQueue(logger, 4, cfg.Controller.WebhookMaxRetries, cfg.Controller.WebhookRetryBackoff)
	defer webhooks.Stop()

	svc := controller.NewService(dbClient, redisClient, cfg.Redis.URL, accounts, tokens, dockerScheduler, webhooks, cfg.Controller, logger)

	go svc.RunReconciler(ctx)

	healthManager := health.NewManager(logger)
	// The Controller only talks to Redis through pub/sub publishes
	// (PublishStatus/PublishCommand), which RedisWrapper doesn't cover, so
	// there's no real call path to route through a circuit breaker here.
	_ = healthManager.RegisterChecker(health.NewRedisHealthChecker(redisClient, nil, logger))
	_ = healthManager.RegisterChecker(health.NewDatabaseHealthChecker(dbClient.GetDB(), dbClient.Wrapper(), logger))
	_ = healthManager.RegisterChecker(health.NewSchedulerHealthChecker(dockerScheduler, logger))

	mux := http.NewServeMux()
	health.NewHTTPHandler(healthManager, logger).RegisterRoutes(mux)
	controller.NewHandlers(svc, logger).Register(mux, authMiddleware)

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	go func() {
		addr := ":" + strconv.Itoa(cfg.Observability.Metrics.Port)
		logger.Info("controller metrics listening", zap.String("addr", addr))
		if err := http.ListenAndServe(addr, metricsMux); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server stopped", zap.Error(err))
		}
	}()

	server := &http.Server{
		Addr:         ":8080",
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("controller listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("controller server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("controller shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("controller forced to shutdown", zap.Error(err))
	}
	logger.Info("controller stopped")
}
