package gateway

import (
	"net/http"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/meetbot/meetbot/internal/config"
	"github.com/meetbot/meetbot/internal/metrics"
)

// Server upgrades incoming HTTP requests to WebSocket connections and hands
// each off to a client.
type Server struct {
	hub        *Hub
	authorizer *Authorizer
	cfg        config.GatewayConfig
	skipAuth   bool
	upgrader   websocket.Upgrader
	logger     *zap.Logger
}

// NewServer constructs the Live Fan-Out Gateway.
func NewServer(cfg config.GatewayConfig, redisClient *redis.Client, skipAuth bool, logger *zap.Logger) *Server {
	return &Server{
		hub:        NewHub(redisClient, logger),
		authorizer: NewAuthorizer(cfg.CollectorBaseURL, cfg.AuthorizeTimeout),
		cfg:        cfg,
		skipAuth:   skipAuth,
		upgrader:   websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		logger:     logger,
	}
}

// HandleWS upgrades the connection and runs its client loop until
// disconnect. Authorization of API key presence happens here; per-meeting
// authorization happens on each subscribe via the Collector.
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	apiKey := r.Header.Get("X-API-Key")
	if apiKey == "" {
		apiKey = r.URL.Query().Get("api_key")
	}
	if apiKey == "" && !s.skipAuth {
		http.Error(w, `{"error":"API key is required"}`, http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := newClient(conn, apiKey, s.hub, s.authorizer, s.cfg, s.logger)
	metrics.GatewayClients.Inc()
	defer metrics.GatewayClients.Dec()
	c.run(r.Context())
}
