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

	"github.com/meetbot/meetbot/internal/config"
	"github.com/meetbot/meetbot/internal/gateway"
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

	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		logger.Fatal("failed to parse redis url", zap.Error(err))
	}
	if cfg.Redis.Password != "" {
		redisOpts.Password = cfg.Redis.Password
	}
	redisClient := redis.NewClient(redisOpts)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal("failed to reach redis", zap.Error(err))
	}

	skipAuth := cfg.Gateway.SkipAuth != nil && *cfg.Gateway.SkipAuth
	srv := gateway.NewServer(cfg.Gateway, redisClient, skipAuth, logger)

	healthManager := health.NewManager(logger)
	// The Gateway only talks to Redis through Subscribe, which RedisWrapper
	// doesn't cover, so there's no real call path to route through a circuit
	// breaker here; the health checker runs its Ping directly against the
	// client instead of through a decorative wrapper.
	_ = healthManager.RegisterChecker(health.NewRedisHealthChecker(redisClient, nil, logger))

	mux := http.NewServeMux()
	health.NewHTTPHandler(healthManager, logger).RegisterRoutes(mux)
	mux.HandleFunc("GET /ws/transcripts", srv.HandleWS)

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	go func() {
		addr := ":" + strconv.Itoa(cfg.Observability.Metrics.Port)
		logger.Info("gateway metrics listening", zap.String("addr", addr))
		if err := http.ListenAndServe(addr, metricsMux); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server stopped", zap.Error(err))
		}
	}()

	server := &http.Server{
		Addr:         ":8083",
		Handler:      mux,
		ReadTimeout:  0,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("gateway listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("gateway server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("gateway shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("gateway forced to shutdown", zap.Error(err))
	}
	logger.Info("gateway stopped")
}
