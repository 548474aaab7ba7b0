package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/meetbot/meetbot/internal/auth"
	"github.com/meetbot/meetbot/internal/circuitbreaker"
	"github.com/meetbot/meetbot/internal/collector"
	"github.com/meetbot/meetbot/internal/config"
	"github.com/meetbot/meetbot/internal/db"
	"github.com/meetbot/meetbot/internal/health"
	"github.com/meetbot/meetbot/internal/streaming"
)

const (
	transcriptionStream  = "transcription_segments"
	speakerEventsStream  = "speaker_events_relative"
	collectorGroupSuffix = "_collector_group"
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
	accounts := auth.NewAccountAuth(dbClient.SQLX())
	authMiddleware := auth.NewMiddleware(accounts, false)

	redisWrapper := circuitbreaker.NewRedisWrapper(redisClient, logger)
	svc := collector.NewService(dbClient, redisClient, redisWrapper, tokens, cfg.Collector, logger)

	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "collector-1"
	}

	transcriptionGroup, err := streaming.NewConsumerGroup(ctx, redisClient, logger,
		transcriptionStream, "transcription"+collectorGroupSuffix, hostname,
		cfg.Collector.ConsumerBatchSize, cfg.Collector.ConsumerBlockTimeout, cfg.Collector.PendingMsgTimeout,
		svc.ProcessTranscriptionMessage)
	if err != nil {
		logger.Fatal("failed to start transcription consumer group", zap.Error(err))
	}

	speakerGroup, err := streaming.NewConsumerGroup(ctx, redisClient, logger,
		speakerEventsStream, "speaker_events"+collectorGroupSuffix, hostname,
		cfg.Collector.ConsumerBatchSize, cfg.Collector.ConsumerBlockTimeout, cfg.Collector.PendingMsgTimeout,
		svc.ProcessSpeakerEventMessage)
	if err != nil {
		logger.Fatal("failed to start speaker event consumer group", zap.Error(err))
	}

	go transcriptionGroup.Run(ctx)
	go speakerGroup.Run(ctx)
	go svc.RunFlusher(ctx)

	healthManager := health.NewManager(logger)
	_ = healthManager.RegisterChecker(health.NewRedisHealthChecker(redisClient, redisWrapper, logger))
	_ = healthManager.RegisterChecker(health.NewDatabaseHealthChecker(dbClient.GetDB(), dbClient.Wrapper(), logger))

	mux := http.NewServeMux()
	health.NewHTTPHandler(healthManager, logger).RegisterRoutes(mux)
	collector.NewHandlers(svc, logger).Register(mux, authMiddleware)

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	go func() {
		addr := ":" + strconv.Itoa(cfg.Observability.Metrics.Port)
		logger.Info("collector metrics listening", zap.String("addr", addr))
		if err := http.ListenAndServe(addr, metricsMux); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server stopped", zap.Error(err))
		}
	}()

	server := &http.Server{
		Addr:         ":8081",
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("collector listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("collector server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("collector shutting down")

	transcriptionGroup.Stop()
	speakerGroup.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("collector forced to shutdown", zap.Error(err))
	}
	logger.Info("collector stopped")
}
