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
	"github.com/meetbot/meetbot/internal/recognizer"
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

	tokens := auth.NewMeetingTokenManager(cfg.Auth.MeetingTokenSecret, cfg.Auth.Issuer, cfg.Auth.Audience, cfg.Controller.MeetingTokenTTL)
	backend := recognizer.NewHTTPBackend(cfg.Recognizer.BackendURL)
	srv := recognizer.NewServer(cfg.Recognizer, redisClient, tokens, backend, logger)

	go srv.RunJanitor(ctx)
	go srv.RunSelfMonitor(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("/", srv.HandleAudio)
	srv.RegisterHealthRoutes(mux)

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	go func() {
		addr := ":" + strconv.Itoa(cfg.Observability.Metrics.Port)
		logger.Info("recognizer metrics listening", zap.String("addr", addr))
		if err := http.ListenAndServe(addr, metricsMux); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server stopped", zap.Error(err))
		}
	}()

	server := &http.Server{
		Addr:         ":8082",
		Handler:      mux,
		ReadTimeout:  0,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("recognizer listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("recognizer server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("recognizer shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("recognizer forced to shutdown", zap.Error(err))
	}
	logger.Info("recognizer stopped")
}
