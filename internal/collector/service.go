package collector

import (
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/meetbot/meetbot/internal/auth"
	"github.com/meetbot/meetbot/internal/circuitbreaker"
	"github.com/meetbot/meetbot/internal/config"
	"github.com/meetbot/meetbot/internal/db"
)

// Service is the Transcription Collector's core: stream consumption, the
// durable flusher, and the REST/WS surface all operate through it.
type Service struct {
	db     *db.Client
	redis  *redis.Client
	kv     *circuitbreaker.RedisWrapper
	tokens *auth.MeetingTokenManager
	cfg    config.CollectorConfig
	logger *zap.Logger
	dedup  *dedupCache
}

// NewService constructs the Collector's Service. kv is the Redis circuit
// breaker shared with the process's health checker; the session-start cache
// (cacheSessionStart/lookupSessionStart/clearSession) is the one KV path made
// of plain GET/SET/DEL commands, so it's the one routed through it. The
// hash/set/sorted-set/pub-sub traffic elsewhere in the package still talks to
// redisClient directly since the breaker has no equivalents for those
// commands.
func NewService(dbc *db.Client, redisClient *redis.Client, kv *circuitbreaker.RedisWrapper, tokens *auth.MeetingTokenManager, cfg config.CollectorConfig, logger *zap.Logger) *Service {
	return &Service{
		db:     dbc,
		redis:  redisClient,
		kv:     kv,
		tokens: tokens,
		cfg:    cfg,
		logger: logger,
		dedup:  newDedupCache(),
	}
}
