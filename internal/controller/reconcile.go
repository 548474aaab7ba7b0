package controller

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/meetbot/meetbot/internal/controller/scheduler"
	"github.com/meetbot/meetbot/internal/metrics"
	"github.com/meetbot/meetbot/internal/models"
	"github.com/meetbot/meetbot/internal/streaming"
)

// RunReconciler runs the orphan-reconciliation background loop: every
// ReconcileIntervalSeconds (after an initial ~30s delay), scan non-terminal
// meetings stuck past OrphanGracePeriodSeconds and resolve them against the
// workload backend's actual state.
func (s *Service) RunReconciler(ctx context.Context) {
	select {
	case <-time.After(30 * time.Second):
	case <-ctx.Done():
		return
	}

	interval := time.Duration(s.cfg.ReconcileIntervalSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		s.reconcileOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Service) reconcileOnce(ctx context.Context) {
	metrics.ReconcilerRuns.Inc()

	maxAge := time.Duration(s.cfg.ReconciliationMaxAgeHours) * time.Hour
	candidates, err := s.db.NonTerminalMeetingsOlderThan(ctx, s.cfg.OrphanGracePeriodSeconds)
	if err != nil {
		s.logger.Error("reconciler: list candidates failed", zap.Error(err))
		return
	}

	for _, m := range candidates {
		if m.WorkloadHandle == "" {
			continue
		}
		if time.Since(m.CreatedAt) > maxAge {
			continue
		}
		s.reconcileOne(ctx, m)
	}
}

func (s *Service) reconcileOne(ctx context.Context, m models.Meeting) {
	status, err := s.scheduler.Status(ctx, m.WorkloadHandle)
	if err != nil {
		s.logger.Warn("reconciler: status check failed", zap.String("meeting_id", m.ID.String()), zap.Error(err))
		return
	}

	switch status {
	case scheduler.StatusRunning, scheduler.StatusUnknown:
		return

	case scheduler.StatusSucceeded, scheduler.StatusNotFound:
		reason := "normal"
		if status == scheduler.StatusNotFound {
			reason = "stopped"
		}
		updated, err := s.db.UpdateMeetingStatus(ctx, m.ID, models.StatusCompleted, models.SourceReconciliation,
			"workload "+string(status), func(mm *models.Meeting) {
				mm.Data.CompletionReason = reason
				now := time.Now().UTC()
				mm.EndTime = &now
			})
		if err != nil {
			s.logger.Error("reconciler: finalize completed failed", zap.Error(err))
			return
		}
		metrics.ReconcilerFinalized.WithLabelValues("completed").Inc()
		_ = streaming.PublishStatus(ctx, s.redis, updated.ID.String(), string(updated.Platform), updated.NativeMeetingID, string(updated.Status))
		s.onTerminal(ctx, updated)

	case scheduler.StatusFailed:
		stage := inferFailureStage(m.Status)
		updated, err := s.db.UpdateMeetingStatus(ctx, m.ID, models.StatusFailed, models.SourceReconciliation,
			"workload failed", func(mm *models.Meeting) {
				mm.Data.FailureStage = stage
				now := time.Now().UTC()
				mm.EndTime = &now
			})
		if err != nil {
			s.logger.Error("reconciler: finalize failed failed", zap.Error(err))
			return
		}
		metrics.ReconcilerFinalized.WithLabelValues("failed").Inc()
		_ = streaming.PublishStatus(ctx, s.redis, updated.ID.String(), string(updated.Platform), updated.NativeMeetingID, string(updated.Status))
		s.onTerminal(ctx, updated)
	}
}

// inferFailureStage maps the meeting's last known status onto a failure
// stage label when the workload backend reports Failed without a specific
// callback having run,'s reconciler rule.
func inferFailureStage(status models.MeetingStatus) string {
	switch status {
	case models.StatusJoining:
		return "JOINING"
	case models.StatusAwaitingAdmission:
		return "WAITING_ROOM"
	default:
		return "ACTIVE"
	}
}
