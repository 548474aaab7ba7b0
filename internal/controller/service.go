// Package controller implements the Bot Lifecycle Controller: launch/stop/
// reconfigure/callback operations over the Meeting FSM, orphan
// reconciliation, and workload scheduling.
package controller

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/meetbot/meetbot/internal/apierr"
	"github.com/meetbot/meetbot/internal/auth"
	"github.com/meetbot/meetbot/internal/config"
	"github.com/meetbot/meetbot/internal/controller/scheduler"
	"github.com/meetbot/meetbot/internal/db"
	"github.com/meetbot/meetbot/internal/metrics"
	"github.com/meetbot/meetbot/internal/models"
	"github.com/meetbot/meetbot/internal/streaming"
)

// Service implements the Controller's operations.
type Service struct {
	db        *db.Client
	redis     *redis.Client
	redisURL  string
	accounts  *auth.AccountAuth
	tokens    *auth.MeetingTokenManager
	scheduler scheduler.Scheduler
	webhooks  *WebhookQueue
	cfg       config.ControllerConfig
	logger    *zap.Logger
}

// NewService wires the Controller's dependencies together. redisURL is
// passed through to scheduled workloads as their KV endpoint.
func NewService(dbc *db.Client, redisClient *redis.Client, redisURL string, accounts *auth.AccountAuth, tokens *auth.MeetingTokenManager, sched scheduler.Scheduler, webhooks *WebhookQueue, cfg config.ControllerConfig, logger *zap.Logger) *Service {
	return &Service{
		db:        dbc,
		redis:     redisClient,
		redisURL:  redisURL,
		accounts:  accounts,
		tokens:    tokens,
		scheduler: sched,
		webhooks:  webhooks,
		cfg:       cfg,
		logger:    logger,
	}
}

// meetingURL constructs the join URL for a platform/native-id pair; its error
// return doubles as launch's well-formedness check of the native id.
func meetingURL(platform models.Platform, nativeID, passcode string) (string, error) {
	switch platform {
	case models.PlatformGoogleMeet:
		if !isGoogleMeetID(nativeID) {
			return "", fmt.Errorf("malformed google_meet native id %q", nativeID)
		}
		return "https://meet.google.com/" + nativeID, nil
	case models.PlatformZoom:
		if nativeID == "" {
			return "", errors.New("empty zoom native id")
		}
		u := "https://zoom.us/j/" + nativeID
		if passcode != "" {
			u += "?pwd=" + url.QueryEscape(passcode)
		}
		return u, nil
	case models.PlatformTeams:
		if nativeID == "" {
			return "", errors.New("empty teams native id")
		}
		return "https://teams.microsoft.com/l/meetup-join/" + nativeID, nil
	default:
		return "", fmt.Errorf("unsupported platform %q", platform)
	}
}

// isGoogleMeetID checks the xxx-xxxx-xxx shape Google Meet codes follow.
func isGoogleMeetID(id string) bool {
	parts := strings.Split(id, "-")
	if len(parts) != 3 {
		return false
	}
	lens := []int{3, 4, 3}
	for i, p := range parts {
		if len(p) != lens[i] || p == "" {
			return false
		}
	}
	return true
}

// LaunchRequest carries launch's caller-supplied parameters.
type LaunchRequest struct {
	Platform        models.Platform
	NativeMeetingID string
	BotName         string
	Language        string
	Task            string
	Passcode        string
}

// Launch implements the bot launch operation.
func (s *Service) Launch(ctx context.Context, accountID uuid.UUID, req LaunchRequest) (*models.Meeting, error) {
	joinURL, err := meetingURL(req.Platform, req.NativeMeetingID, req.Passcode)
	if err != nil {
		return nil, apierr.Wrap(apierr.InvalidInput, "cannot construct a meeting url", err)
	}

	account, err := s.accounts.AccountByID(ctx, accountID)
	if err != nil {
		return nil, apierr.Wrap(apierr.TransientBackend, "load account", err)
	}

	if existing, err := s.db.FindActiveMeeting(ctx, accountID, req.Platform, req.NativeMeetingID); err == nil {
		return nil, apierr.New(apierr.Conflict, fmt.Sprintf("meeting %s already active for this tuple", existing.ID))
	} else if !errors.Is(err, db.ErrNotFound) {
		return nil, apierr.Wrap(apierr.TransientBackend, "check existing meeting", err)
	}

	active, err := s.db.CountActiveBots(ctx, accountID)
	if err != nil {
		return nil, apierr.Wrap(apierr.TransientBackend, "count active bots", err)
	}
	if active >= account.MaxConcurrentBots {
		return nil, apierr.New(apierr.LimitExceeded, fmt.Sprintf("max_concurrent_bots (%d) reached", account.MaxConcurrentBots))
	}

	botName := req.BotName
	if botName == "" {
		botName = s.cfg.BotNamePrefix
	} else if !strings.HasPrefix(botName, s.cfg.BotNamePrefix) {
		botName = s.cfg.BotNamePrefix + " " + botName
	}

	meeting := &models.Meeting{
		ID:              uuid.New(),
		AccountID:       accountID,
		Platform:        req.Platform,
		NativeMeetingID: req.NativeMeetingID,
		Status:          models.StatusRequested,
		Data: models.MeetingData{
			BotName:  botName,
			Language: req.Language,
			Task:     req.Task,
			Passcode: req.Passcode,
		},
	}
	if err := s.db.CreateMeeting(ctx, meeting); err != nil {
		return nil, apierr.Wrap(apierr.TransientBackend, "create meeting", err)
	}
	_ = streaming.PublishStatus(ctx, s.redis, meeting.ID.String(), string(meeting.Platform), meeting.NativeMeetingID, string(meeting.Status))
	metrics.BotsLaunched.WithLabelValues(string(req.Platform)).Inc()

	sessionUID := uuid.New().String()
	token, err := s.tokens.Mint(meeting.ID, accountID, string(req.Platform), req.NativeMeetingID)
	if err != nil {
		s.failLaunch(ctx, meeting, "mint meeting token", err)
		return nil, apierr.Wrap(apierr.TransientBackend, "mint meeting token", err)
	}

	cfg := scheduler.BotConfig{
		Platform:        string(req.Platform),
		MeetingURL:      joinURL,
		BotName:         botName,
		MeetingToken:    token,
		NativeMeetingID: req.NativeMeetingID,
		SessionUID:      sessionUID,
		Language:        req.Language,
		Task:            req.Task,
		Passcode:        req.Passcode,
		KVEndpoint:      s.redisURL,
		CallbackURL:     BuildCallbackURL(ctx, s.cfg.CallbackBaseURL),
		WaitingRoomSec:  s.cfg.WaitingRoomTimeoutSeconds,
		NoOneJoinedSec:  s.cfg.NoOneJoinedTimeoutSeconds,
		EveryoneLeftSec: s.cfg.EveryoneLeftTimeoutSeconds,
	}

	handle, err := s.scheduler.Launch(ctx, meeting.ID.String(), cfg)
	if err != nil {
		s.failLaunch(ctx, meeting, "workload scheduling", err)
		metrics.BotLaunchRejected.WithLabelValues(string(req.Platform), "workload_scheduling").Inc()
		return nil, apierr.Wrap(apierr.WorkloadScheduling, "schedule workload", err)
	}

	updated, err := s.db.UpdateMeetingStatus(ctx, meeting.ID, models.StatusRequested, models.SourceUser, "workload scheduled", func(m *models.Meeting) {
		m.WorkloadHandle = handle
	})
	if err != nil {
		s.logger.Error("persist workload handle failed", zap.Error(err))
		return meeting, nil
	}
	return updated, nil
}

func (s *Service) failLaunch(ctx context.Context, meeting *models.Meeting, stage string, cause error) {
	_, err := s.db.UpdateMeetingStatus(ctx, meeting.ID, models.StatusFailed, models.SourceValidationError, stage, func(m *models.Meeting) {
		m.Data.FailureStage = "REQUESTED"
		m.Data.LastError = cause.Error()
		now := time.Now().UTC()
		m.EndTime = &now
	})
	if err != nil {
		s.logger.Error("failLaunch transition failed", zap.Error(err))
		return
	}
	_ = streaming.PublishStatus(ctx, s.redis, meeting.ID.String(), string(meeting.Platform), meeting.NativeMeetingID, string(models.StatusFailed))
}

// Stop implements the bot stop operation.
func (s *Service) Stop(ctx context.Context, accountID uuid.UUID, platform models.Platform, nativeID string) error {
	meeting, err := s.db.FindActiveMeeting(ctx, accountID, platform, nativeID)
	if errors.Is(err, db.ErrNotFound) {
		return nil // already terminal: idempotent 202
	}
	if err != nil {
		return apierr.Wrap(apierr.TransientBackend, "find meeting", err)
	}

	prelaunch := meeting.Status == models.StatusRequested || meeting.Status == models.StatusJoining || meeting.Status == models.StatusAwaitingAdmission
	if prelaunch && time.Since(meeting.CreatedAt) < 5*time.Second {
		if meeting.WorkloadHandle != "" {
			_ = s.scheduler.Kill(ctx, meeting.WorkloadHandle)
		}
		updated, err := s.db.UpdateMeetingStatus(ctx, meeting.ID, models.StatusCompleted, models.SourceUser, "stopped before join", func(m *models.Meeting) {
			m.Data.StopRequested = true
			m.Data.CompletionReason = "stopped"
			now := time.Now().UTC()
			m.EndTime = &now
		})
		if err != nil {
			return apierr.Wrap(apierr.TransientBackend, "finalize early stop", err)
		}
		s.onTerminal(ctx, updated)
		return nil
	}

	if err := streaming.PublishCommand(ctx, s.redis, meeting.ID.String(), map[string]interface{}{"action": "leave"}); err != nil {
		s.logger.Warn("publish leave command failed", zap.Error(err))
	}
	_, err = s.db.UpdateMeetingStatus(ctx, meeting.ID, models.StatusStopping, models.SourceUser, "stop requested", func(m *models.Meeting) {
		m.Data.StopRequested = true
	})
	if err != nil {
		return apierr.Wrap(apierr.TransientBackend, "transition to stopping", err)
	}
	_ = streaming.PublishStatus(ctx, s.redis, meeting.ID.String(), string(meeting.Platform), meeting.NativeMeetingID, string(models.StatusStopping))

	go s.safetyNetKill(meeting.ID, meeting.WorkloadHandle, time.Duration(s.cfg.StopSafetyNetDelaySeconds)*time.Second)
	return nil
}

// safetyNetKill finalizes a stop request to FAILED (a timed-out stop without
// a callback is FAILED, not COMPLETED)
// if the meeting hasn't reached a terminal state by the time the delay
// elapses.
func (s *Service) safetyNetKill(meetingID uuid.UUID, handle string, delay time.Duration) {
	time.Sleep(delay)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	m, err := s.db.MeetingByID(ctx, meetingID)
	if err != nil || m.Status.IsTerminal() {
		return
	}
	if handle != "" {
		_ = s.scheduler.Kill(ctx, handle)
	}
	updated, err := s.db.UpdateMeetingStatus(ctx, meetingID, models.StatusFailed, models.SourceReconciliation, "stop safety-net timeout", func(m *models.Meeting) {
		m.Data.FailureStage = "STOPPING"
		now := time.Now().UTC()
		m.EndTime = &now
	})
	if err != nil {
		s.logger.Error("safety-net finalize failed", zap.Error(err))
		return
	}
	s.onTerminal(ctx, updated)
}

// Reconfigure implements the bot reconfigure operation.
func (s *Service) Reconfigure(ctx context.Context, accountID uuid.UUID, platform models.Platform, nativeID, language, task string) error {
	meeting, err := s.db.FindActiveMeeting(ctx, accountID, platform, nativeID)
	if errors.Is(err, db.ErrNotFound) {
		return apierr.New(apierr.NotFound, "no meeting found for this tuple")
	}
	if err != nil {
		return apierr.Wrap(apierr.TransientBackend, "find meeting", err)
	}
	if meeting.Status != models.StatusActive {
		return apierr.New(apierr.Conflict, "meeting is not active")
	}
	return streaming.PublishCommand(ctx, s.redis, meeting.ID.String(), map[string]interface{}{
		"action": "reconfigure", "meeting_id": meeting.ID, "language": language, "task": task,
	})
}

// StatusChangeCallback carries the worker's status_change callback payload.
type StatusChangeCallback struct {
	SessionUID       string
	Status           models.MeetingStatus
	Reason           string
	ExitCode         *int
	Error            string
	CompletionReason string
	FailureStage     string
	ContainerID      string
}

// Callback implements callback.status_change. Under the failure model,
// resolution and FSM errors are swallowed (logged, 200 returned) so the
// worker is never retried into a storm.
func (s *Service) Callback(ctx context.Context, cb StatusChangeCallback) {
	meeting, err := s.resolveMeetingBySession(ctx, cb.SessionUID)
	if err != nil {
		s.logger.Warn("callback: could not resolve meeting", zap.String("session_uid", cb.SessionUID), zap.Error(err))
		return
	}

	if meeting.Data.StopRequested && cb.Status != models.StatusCompleted && cb.Status != models.StatusFailed {
		s.logger.Info("callback ignored: stop already requested", zap.String("meeting_id", meeting.ID.String()))
		return
	}

	updated, err := s.db.UpdateMeetingStatus(ctx, meeting.ID, cb.Status, models.SourceBotCallback, cb.Reason, func(m *models.Meeting) {
		if cb.ContainerID != "" {
			m.WorkloadHandle = cb.ContainerID
		}
		if cb.Status == models.StatusActive && m.StartTime == nil {
			now := time.Now().UTC()
			m.StartTime = &now
		}
		if cb.Status.IsTerminal() {
			now := time.Now().UTC()
			m.EndTime = &now
			if cb.CompletionReason != "" {
				m.Data.CompletionReason = cb.CompletionReason
			}
			if cb.FailureStage != "" {
				m.Data.FailureStage = cb.FailureStage
			}
			if cb.Error != "" {
				m.Data.LastError = cb.Error
			}
		}
	})
	if err != nil {
		if errors.Is(err, db.ErrInvalidTransition) {
			s.logger.Info("callback: invalid transition ignored", zap.Error(err))
			return
		}
		s.logger.Error("callback: update status failed", zap.Error(err))
		return
	}

	_ = streaming.PublishStatus(ctx, s.redis, updated.ID.String(), string(updated.Platform), updated.NativeMeetingID, string(updated.Status))
	metrics.MeetingTransitions.WithLabelValues(string(meeting.Status), string(updated.Status), string(models.SourceBotCallback)).Inc()

	if updated.Status.IsTerminal() {
		s.onTerminal(ctx, updated)
	} else if cb.ExitCode != nil && *cb.ExitCode != 0 {
		go s.safetyNetKill(updated.ID, updated.WorkloadHandle, time.Duration(s.cfg.StopSafetyNetDelaySeconds)*time.Second)
	}
}

func (s *Service) resolveMeetingBySession(ctx context.Context, sessionUID string) (*models.Meeting, error) {
	meetingID, err := s.db.MeetingIDBySessionUID(ctx, sessionUID)
	if err != nil {
		return nil, err
	}
	return s.db.MeetingByID(ctx, meetingID)
}

func (s *Service) onTerminal(ctx context.Context, meeting *models.Meeting) {
	account, err := s.accounts.AccountByID(ctx, meeting.AccountID)
	if err != nil {
		s.logger.Error("onTerminal: load account failed", zap.Error(err))
		return
	}
	oldStatus, source := meeting.Status, models.SourceBotCallback
	if n := len(meeting.Data.StatusTransitions); n > 0 {
		last := meeting.Data.StatusTransitions[n-1]
		oldStatus, source = last.From, last.Source
	}
	s.webhooks.EnqueueStatusChange(account, meeting, oldStatus, meeting.Data.CompletionReason, source)
	if meeting.Status == models.StatusCompleted {
		metrics.MeetingDuration.Observe(meetingDurationSeconds(meeting))
	}
}

func meetingDurationSeconds(m *models.Meeting) float64 {
	if m.StartTime == nil || m.EndTime == nil {
		return 0
	}
	return m.EndTime.Sub(*m.StartTime).Seconds()
}

// ListActiveBots returns non-terminal meetings for an account, backing
// GET /bots/status.
func (s *Service) ListActiveBots(ctx context.Context, accountID uuid.UUID) ([]models.Meeting, error) {
	meetings, err := s.db.ActiveMeetingsForAccount(ctx, accountID)
	if err != nil {
		return nil, apierr.Wrap(apierr.TransientBackend, "list active bots", err)
	}
	return meetings, nil
}
