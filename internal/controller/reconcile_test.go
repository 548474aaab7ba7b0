package controller

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meetbot/meetbot/internal/controller/scheduler"
	"github.com/meetbot/meetbot/internal/models"
)

func TestInferFailureStage(t *testing.T) {
	assert.Equal(t, "JOINING", inferFailureStage(models.StatusJoining))
	assert.Equal(t, "WAITING_ROOM", inferFailureStage(models.StatusAwaitingAdmission))
	assert.Equal(t, "ACTIVE", inferFailureStage(models.StatusActive))
	assert.Equal(t, "ACTIVE", inferFailureStage(models.StatusStopping))
}

func TestReconcileOne_RunningWorkloadIsLeftAlone(t *testing.T) {
	h := newHarness(t)
	h.sched.statusFn = func(handle string) (scheduler.WorkloadStatus, error) {
		return scheduler.StatusRunning, nil
	}

	accountID := uuid.New()
	m := models.Meeting{ID: uuid.New(), AccountID: accountID, Platform: models.PlatformZoom,
		NativeMeetingID: "123-456", Status: models.StatusActive, WorkloadHandle: "container-1"}

	h.svc.reconcileOne(context.Background(), m)
	assert.NoError(t, h.mock.ExpectationsWereMet())
}

func TestReconcileOne_SucceededFinalizesAsCompletedNormal(t *testing.T) {
	h := newHarness(t)
	h.sched.statusFn = func(handle string) (scheduler.WorkloadStatus, error) {
		return scheduler.StatusSucceeded, nil
	}

	accountID := uuid.New()
	meetingID := uuid.New()
	m := models.Meeting{ID: meetingID, AccountID: accountID, Platform: models.PlatformZoom,
		NativeMeetingID: "123-456", Status: models.StatusActive, WorkloadHandle: "container-1",
		CreatedAt: time.Now().Add(-time.Hour)}

	h.mock.ExpectBegin()
	h.mock.ExpectQuery("FOR UPDATE").
		WillReturnRows(meetingRow(meetingID, accountID, models.PlatformZoom, "123-456", models.StatusActive))
	h.mock.ExpectExec("UPDATE meetings").
		WillReturnResult(sqlmock.NewResult(0, 1))
	h.mock.ExpectCommit()
	h.mock.ExpectQuery("FROM accounts WHERE id").
		WithArgs(accountID).
		WillReturnRows(accountRow(accountID, 5))

	h.svc.reconcileOne(context.Background(), m)
	assert.NoError(t, h.mock.ExpectationsWereMet())
}

func TestReconcileOne_NotFoundFinalizesAsCompletedStopped(t *testing.T) {
	h := newHarness(t)
	h.sched.statusFn = func(handle string) (scheduler.WorkloadStatus, error) {
		return scheduler.StatusNotFound, nil
	}

	accountID := uuid.New()
	meetingID := uuid.New()
	m := models.Meeting{ID: meetingID, AccountID: accountID, Platform: models.PlatformZoom,
		NativeMeetingID: "123-456", Status: models.StatusStopping, WorkloadHandle: "container-1"}

	h.mock.ExpectBegin()
	h.mock.ExpectQuery("FOR UPDATE").
		WillReturnRows(meetingRow(meetingID, accountID, models.PlatformZoom, "123-456", models.StatusStopping))
	h.mock.ExpectExec("UPDATE meetings").
		WillReturnResult(sqlmock.NewResult(0, 1))
	h.mock.ExpectCommit()
	h.mock.ExpectQuery("FROM accounts WHERE id").
		WithArgs(accountID).
		WillReturnRows(accountRow(accountID, 5))

	h.svc.reconcileOne(context.Background(), m)
	assert.NoError(t, h.mock.ExpectationsWereMet())
}

func TestReconcileOne_FailedFinalizesAsFailedWithInferredStage(t *testing.T) {
	h := newHarness(t)
	h.sched.statusFn = func(handle string) (scheduler.WorkloadStatus, error) {
		return scheduler.StatusFailed, nil
	}

	accountID := uuid.New()
	meetingID := uuid.New()
	m := models.Meeting{ID: meetingID, AccountID: accountID, Platform: models.PlatformZoom,
		NativeMeetingID: "123-456", Status: models.StatusJoining, WorkloadHandle: "container-1"}

	h.mock.ExpectBegin()
	h.mock.ExpectQuery("FOR UPDATE").
		WillReturnRows(meetingRow(meetingID, accountID, models.PlatformZoom, "123-456", models.StatusJoining))
	h.mock.ExpectExec("UPDATE meetings").
		WillReturnResult(sqlmock.NewResult(0, 1))
	h.mock.ExpectCommit()
	h.mock.ExpectQuery("FROM accounts WHERE id").
		WithArgs(accountID).
		WillReturnRows(accountRow(accountID, 5))

	h.svc.reconcileOne(context.Background(), m)
	assert.NoError(t, h.mock.ExpectationsWereMet())
}

func TestReconcileOnce_SkipsCandidatesWithoutWorkloadHandleOrTooOld(t *testing.T) {
	h := newHarness(t)
	h.svc.cfg.ReconciliationMaxAgeHours = 24
	h.sched.statusFn = func(handle string) (scheduler.WorkloadStatus, error) {
		t.Fatalf("scheduler.Status should not be called for a filtered-out candidate")
		return scheduler.StatusUnknown, nil
	}

	data, _ := models.MeetingData{}.Value()
	candidates := sqlmock.NewRows([]string{"id", "account_id", "platform", "native_meeting_id", "status",
		"workload_handle", "start_time", "end_time", "data", "created_at", "updated_at"}).
		AddRow(uuid.New().String(), uuid.New().String(), "zoom", "1-1-1", string(models.StatusActive),
			"", nil, nil, data, time.Now(), time.Now()).
		AddRow(uuid.New().String(), uuid.New().String(), "zoom", "2-2-2", string(models.StatusActive),
			"container-old", nil, nil, data, time.Now().Add(-48*time.Hour), time.Now())

	h.mock.ExpectQuery("FROM meetings").
		WithArgs(300).
		WillReturnRows(candidates)

	h.svc.cfg.OrphanGracePeriodSeconds = 300
	h.svc.reconcileOnce(context.Background())
	assert.NoError(t, h.mock.ExpectationsWereMet())
}
