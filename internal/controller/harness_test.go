package controller

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/meetbot/meetbot/internal/auth"
	"github.com/meetbot/meetbot/internal/config"
	"github.com/meetbot/meetbot/internal/controller/scheduler"
	"github.com/meetbot/meetbot/internal/db"
)

// fakeScheduler is a scheduler.Scheduler stand-in that records Kill calls and
// lets each test script Launch/Status outcomes.
type fakeScheduler struct {
	mu        sync.Mutex
	launchErr error
	handle    string
	killed    []string
	statusFn  func(handle string) (scheduler.WorkloadStatus, error)
}

func (f *fakeScheduler) Launch(ctx context.Context, meetingID string, cfg scheduler.BotConfig) (string, error) {
	if f.launchErr != nil {
		return "", f.launchErr
	}
	if f.handle != "" {
		return f.handle, nil
	}
	return "container-" + meetingID, nil
}

func (f *fakeScheduler) Status(ctx context.Context, handle string) (scheduler.WorkloadStatus, error) {
	if f.statusFn != nil {
		return f.statusFn(handle)
	}
	return scheduler.StatusRunning, nil
}

func (f *fakeScheduler) Kill(ctx context.Context, handle string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.killed = append(f.killed, handle)
	return nil
}

func (f *fakeScheduler) killedHandles() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.killed))
	copy(out, f.killed)
	return out
}

func (f *fakeScheduler) Ping(ctx context.Context) error { return nil }
func (f *fakeScheduler) Close() error                   { return nil }

type harness struct {
	svc   *Service
	mock  sqlmock.Sqlmock
	redis *redis.Client
	sched *fakeScheduler
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	rawDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { rawDB.Close() })

	dbClient := db.NewClientWithDB(rawDB, zap.NewNop())
	accounts := auth.NewAccountAuth(sqlx.NewDb(rawDB, "sqlmock"))
	tokens := auth.NewMeetingTokenManager("secret", "bot-manager", "transcription-collector", time.Hour)

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { redisClient.Close() })

	sched := &fakeScheduler{}
	webhooks := NewWebhookQueue(zap.NewNop(), 1, 0, time.Millisecond)
	t.Cleanup(webhooks.Stop)

	cfg := config.ControllerConfig{
		BotNamePrefix:             "meetbot",
		CallbackBaseURL:           "http://controller:8080",
		StopSafetyNetDelaySeconds: 1,
	}

	svc := NewService(dbClient, redisClient, mr.Addr(), accounts, tokens, sched, webhooks, cfg, zap.NewNop())
	return &harness{svc: svc, mock: mock, redis: redisClient, sched: sched}
}
