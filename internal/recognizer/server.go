package recognizer

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/meetbot/meetbot/internal/auth"
	"github.com/meetbot/meetbot/internal/config"
)

// Server accepts WebSocket audio connections, enforces capacity, and runs
// the self-monitoring loop that exits the process when the worker is
// persistently unhealthy or stalled.
type Server struct {
	cfg     config.RecognizerConfig
	redis   *redis.Client
	tokens  *auth.MeetingTokenManager
	backend Backend
	halluc  *hallucinationFilter
	logger  *zap.Logger

	manager  *clientManager
	breakers sync.Map // uid -> *stallBreaker
	upgrader websocket.Upgrader

	mu         sync.Mutex
	ready      bool
	unhealthy  int
	stopSignal chan struct{}
}

// NewServer constructs a Server; the hallucination filter's pattern files
// are loaded once, here at construction.
func NewServer(cfg config.RecognizerConfig, redisClient *redis.Client, tokens *auth.MeetingTokenManager, backend Backend, logger *zap.Logger) *Server {
	halluc := newHallucinationFilter()
	halluc.load(cfg.HallucinationFiles)

	return &Server{
		cfg: cfg, redis: redisClient, tokens: tokens, backend: backend, halluc: halluc, logger: logger,
		manager:    newClientManager(cfg.MaxClients, cfg.MaxConnectionTime),
		upgrader:   websocket.Upgrader{ReadBufferSize: 1 << 16, WriteBufferSize: 1 << 16, CheckOrigin: func(r *http.Request) bool { return true }},
		stopSignal: make(chan struct{}),
	}
}

// HandleAudio upgrades the connection and runs the session to completion.
func (srv *Server) HandleAudio(w http.ResponseWriter, r *http.Request) {
	conn, err := srv.upgrader.Upgrade(w, r, nil)
	if err != nil {
		srv.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	sess := newSession(r.Context(), conn, srv.cfg, srv.redis, srv.tokens, srv.backend, srv.halluc, nil, srv.logger)

	opts, err := sess.handshake()
	if err != nil {
		sess.sendStatus(serverStatusMessage{Status: statusError, Message: err.Error()})
		return
	}
	if opts.MaxConnectionTime > 0 {
		sess.maxConnTime = time.Duration(opts.MaxConnectionTime) * time.Second
	}

	breaker := srv.breakerFor(sess.uid)
	sess.breaker = breaker

	waitMinutes, full := srv.manager.admit(sess.uid, sess)
	if full {
		sess.sendStatus(serverStatusMessage{UID: sess.uid, Status: statusWait, Message: waitMinutes})
		return
	}
	defer func() {
		srv.manager.remove(sess.uid)
		srv.breakers.Delete(sess.uid)
	}()

	backendName := opts.Backend
	if backendName == "" {
		backendName = "faster_whisper"
	}
	if err := sess.sendStatus(serverStatusMessage{UID: sess.uid, Status: statusServerReady, Backend: backendName}); err != nil {
		return
	}

	sess.run(opts)
}

func (srv *Server) breakerFor(uid string) *stallBreaker {
	b := newStallBreaker(srv.cfg.BreakerEnabled,
		time.Duration(srv.cfg.ServerWarmupSeconds*float64(time.Second)),
		time.Duration(srv.cfg.SpeakerActiveWindowSec*float64(time.Second)),
		time.Duration(srv.cfg.NoTxStallSeconds*float64(time.Second)),
		srv.cfg.BreakerConsecutiveChecks)
	srv.breakers.Store(uid, b)
	return b
}

// RunJanitor starts the timed-out-session sweep; blocks until ctx is done.
func (srv *Server) RunJanitor(ctx context.Context) {
	go srv.manager.runJanitor(30*time.Second, ctx.Done())
	<-ctx.Done()
}

// RunSelfMonitor probes liveness and per-session stall breakers every
// HealthMonitorInterval; after MaxUnhealthyStreak consecutive bad checks it
// exits the process so a supervisor restarts it.
func (srv *Server) RunSelfMonitor(ctx context.Context) {
	srv.mu.Lock()
	srv.ready = true
	srv.mu.Unlock()

	ticker := time.NewTicker(srv.cfg.HealthMonitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			srv.tick()
		}
	}
}

func (srv *Server) tick() {
	healthy := true
	if err := srv.redis.Ping(context.Background()).Err(); err != nil {
		srv.logger.Warn("self-monitor: redis unhealthy", zap.Error(err))
		healthy = false
	}

	stalled := false
	srv.breakers.Range(func(_, v interface{}) bool {
		if v.(*stallBreaker).check() {
			stalled = true
			return false
		}
		return true
	})
	if stalled {
		srv.logger.Error("self-monitor: speaker-ground-truth stall detected, exiting for supervisor restart")
		os.Exit(1)
	}

	srv.mu.Lock()
	if healthy {
		srv.unhealthy = 0
	} else {
		srv.unhealthy++
	}
	streak := srv.unhealthy
	srv.mu.Unlock()

	if streak >= srv.cfg.MaxUnhealthyStreak {
		srv.logger.Error("self-monitor: unhealthy streak exceeded max, exiting for supervisor restart", zap.Int("streak", streak))
		os.Exit(1)
	}
}

// healthResponse mirrors the status+load-percentage shape probed by
// orchestrator liveness checks.
type healthResponse struct {
	Status          string  `json:"status"`
	ActiveSessions  int     `json:"active_sessions"`
	MaxClients      int     `json:"max_clients"`
	LoadPercentage  float64 `json:"load_percentage"`
}

// RegisterHealthRoutes mounts /health on mux.
func (srv *Server) RegisterHealthRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		srv.mu.Lock()
		ready := srv.ready
		srv.mu.Unlock()

		redisOK := srv.redis.Ping(r.Context()).Err() == nil
		active := srv.manager.count()
		resp := healthResponse{
			ActiveSessions: active,
			MaxClients:     srv.cfg.MaxClients,
			LoadPercentage: float64(active) / float64(srv.cfg.MaxClients) * 100,
		}
		if ready && redisOK {
			resp.Status = "ok"
			w.WriteHeader(http.StatusOK)
		} else {
			resp.Status = "unavailable"
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(resp)
	})
}
