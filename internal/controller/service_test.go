package controller

import (
	"context"
	"database/sql"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meetbot/meetbot/internal/apierr"
	"github.com/meetbot/meetbot/internal/models"
)

func accountRow(id uuid.UUID, maxConcurrentBots int) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "api_key_hash", "api_key_prefix", "api_secret", "webhook_url", "webhook_secret", "max_concurrent_bots", "enabled", "created_at"}).
		AddRow(id.String(), "hash", "prefix12", "", "", "", maxConcurrentBots, true, time.Now())
}

func meetingRow(id, accountID uuid.UUID, platform models.Platform, nativeID string, status models.MeetingStatus) *sqlmock.Rows {
	now := time.Now().UTC()
	data, _ := models.MeetingData{}.Value()
	return sqlmock.NewRows([]string{"id", "account_id", "platform", "native_meeting_id", "status",
		"workload_handle", "start_time", "end_time", "data", "created_at", "updated_at"}).
		AddRow(id.String(), accountID.String(), string(platform), nativeID, string(status), "", nil, nil, data, now, now)
}

func TestIsGoogleMeetID(t *testing.T) {
	assert.True(t, isGoogleMeetID("abc-defg-hij"))
	assert.False(t, isGoogleMeetID("abc-defg"))
	assert.False(t, isGoogleMeetID("ab-defg-hij"))
	assert.False(t, isGoogleMeetID(""))
}

func TestMeetingURL_UnsupportedPlatform(t *testing.T) {
	_, err := meetingURL(models.Platform("webex"), "123", "")
	assert.Error(t, err)
}

func TestMeetingURL_ZoomAppendsPasscode(t *testing.T) {
	url, err := meetingURL(models.PlatformZoom, "123456", "secret pass")
	require.NoError(t, err)
	assert.Contains(t, url, "zoom.us/j/123456")
	assert.Contains(t, url, "pwd=")
}

func TestLaunch_HappyPathSchedulesWorkload(t *testing.T) {
	h := newHarness(t)
	accountID := uuid.New()

	h.mock.ExpectQuery("FROM accounts WHERE id").
		WithArgs(accountID).
		WillReturnRows(accountRow(accountID, 5))
	h.mock.ExpectQuery("FROM meetings").
		WithArgs(accountID, string(models.PlatformZoom), "123-456").
		WillReturnError(sqlmockNoRows())
	h.mock.ExpectQuery("SELECT count\\(\\*\\) FROM meetings").
		WithArgs(accountID).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	h.mock.ExpectQuery("INSERT INTO meetings").
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(time.Now(), time.Now()))
	h.mock.ExpectBegin()
	h.mock.ExpectQuery("FOR UPDATE").
		WillReturnRows(meetingRow(uuid.New(), accountID, models.PlatformZoom, "123-456", models.StatusRequested))
	h.mock.ExpectExec("UPDATE meetings").
		WillReturnResult(sqlmock.NewResult(0, 1))
	h.mock.ExpectCommit()

	meeting, err := h.svc.Launch(context.Background(), accountID, LaunchRequest{
		Platform:        models.PlatformZoom,
		NativeMeetingID: "123-456",
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusRequested, meeting.Status)
}

func TestLaunch_RejectsDuplicateActiveMeeting(t *testing.T) {
	h := newHarness(t)
	accountID := uuid.New()
	existingID := uuid.New()

	h.mock.ExpectQuery("FROM accounts WHERE id").
		WithArgs(accountID).
		WillReturnRows(accountRow(accountID, 5))
	h.mock.ExpectQuery("FROM meetings").
		WithArgs(accountID, string(models.PlatformZoom), "123-456").
		WillReturnRows(meetingRow(existingID, accountID, models.PlatformZoom, "123-456", models.StatusActive))

	_, err := h.svc.Launch(context.Background(), accountID, LaunchRequest{
		Platform:        models.PlatformZoom,
		NativeMeetingID: "123-456",
	})
	require.Error(t, err)
	var apiErr *apierr.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, apierr.Conflict, apiErr.Code)
}

func TestLaunch_RejectsWhenConcurrencyLimitReached(t *testing.T) {
	h := newHarness(t)
	accountID := uuid.New()

	h.mock.ExpectQuery("FROM accounts WHERE id").
		WithArgs(accountID).
		WillReturnRows(accountRow(accountID, 2))
	h.mock.ExpectQuery("FROM meetings").
		WithArgs(accountID, string(models.PlatformZoom), "123-456").
		WillReturnError(sqlmockNoRows())
	h.mock.ExpectQuery("SELECT count\\(\\*\\) FROM meetings").
		WithArgs(accountID).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	_, err := h.svc.Launch(context.Background(), accountID, LaunchRequest{
		Platform:        models.PlatformZoom,
		NativeMeetingID: "123-456",
	})
	require.Error(t, err)
	var apiErr *apierr.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, apierr.LimitExceeded, apiErr.Code)
}

func TestLaunch_RejectsMalformedMeetingURLBeforeAnyQuery(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.Launch(context.Background(), uuid.New(), LaunchRequest{
		Platform:        models.PlatformGoogleMeet,
		NativeMeetingID: "not-a-valid-code",
	})
	require.Error(t, err)
	var apiErr *apierr.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, apierr.InvalidInput, apiErr.Code)
	assert.NoError(t, h.mock.ExpectationsWereMet())
}

func TestStop_EarlyStopFinalizesMeetingBeforeJoin(t *testing.T) {
	h := newHarness(t)
	accountID := uuid.New()
	meetingID := uuid.New()

	rows := meetingRow(meetingID, accountID, models.PlatformZoom, "123-456", models.StatusRequested)
	h.mock.ExpectQuery("FROM meetings").
		WithArgs(accountID, string(models.PlatformZoom), "123-456").
		WillReturnRows(rows)
	h.mock.ExpectBegin()
	h.mock.ExpectQuery("FOR UPDATE").
		WillReturnRows(meetingRow(meetingID, accountID, models.PlatformZoom, "123-456", models.StatusRequested))
	h.mock.ExpectExec("UPDATE meetings").
		WillReturnResult(sqlmock.NewResult(0, 1))
	h.mock.ExpectCommit()
	h.mock.ExpectQuery("FROM accounts WHERE id").
		WithArgs(accountID).
		WillReturnRows(accountRow(accountID, 5))

	err := h.svc.Stop(context.Background(), accountID, models.PlatformZoom, "123-456")
	require.NoError(t, err)
}

func TestStop_AlreadyTerminalIsIdempotent(t *testing.T) {
	h := newHarness(t)
	accountID := uuid.New()

	h.mock.ExpectQuery("FROM meetings").
		WithArgs(accountID, string(models.PlatformZoom), "123-456").
		WillReturnError(sqlmockNoRows())

	err := h.svc.Stop(context.Background(), accountID, models.PlatformZoom, "123-456")
	assert.NoError(t, err)
}

func TestReconfigure_RejectsWhenMeetingNotActive(t *testing.T) {
	h := newHarness(t)
	accountID := uuid.New()
	meetingID := uuid.New()

	h.mock.ExpectQuery("FROM meetings").
		WithArgs(accountID, string(models.PlatformZoom), "123-456").
		WillReturnRows(meetingRow(meetingID, accountID, models.PlatformZoom, "123-456", models.StatusJoining))

	err := h.svc.Reconfigure(context.Background(), accountID, models.PlatformZoom, "123-456", "en", "transcribe")
	require.Error(t, err)
	var apiErr *apierr.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, apierr.Conflict, apiErr.Code)
}

func TestReconfigure_NotFoundWhenNoMeeting(t *testing.T) {
	h := newHarness(t)
	accountID := uuid.New()

	h.mock.ExpectQuery("FROM meetings").
		WithArgs(accountID, string(models.PlatformZoom), "123-456").
		WillReturnError(sqlmockNoRows())

	err := h.svc.Reconfigure(context.Background(), accountID, models.PlatformZoom, "123-456", "en", "transcribe")
	require.Error(t, err)
	var apiErr *apierr.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, apierr.NotFound, apiErr.Code)
}

func TestCallback_InvalidTransitionIsSwallowed(t *testing.T) {
	h := newHarness(t)
	accountID := uuid.New()
	meetingID := uuid.New()

	h.mock.ExpectQuery("meeting_sessions WHERE session_uid").
		WithArgs("session-1").
		WillReturnRows(sqlmock.NewRows([]string{"meeting_id"}).AddRow(meetingID.String()))
	h.mock.ExpectQuery("FROM meetings WHERE id").
		WithArgs(meetingID).
		WillReturnRows(meetingRow(meetingID, accountID, models.PlatformZoom, "123-456", models.StatusCompleted))
	h.mock.ExpectBegin()
	h.mock.ExpectQuery("FOR UPDATE").
		WillReturnRows(meetingRow(meetingID, accountID, models.PlatformZoom, "123-456", models.StatusCompleted))
	h.mock.ExpectRollback()

	h.svc.Callback(context.Background(), StatusChangeCallback{
		SessionUID: "session-1",
		Status:     models.StatusActive,
	})
	assert.NoError(t, h.mock.ExpectationsWereMet())
}

// sqlmockNoRows is the sentinel an empty FindActiveMeeting result surfaces
// as, matching sqlx.GetContext's no-rows error before db.ErrNotFound wraps it.
func sqlmockNoRows() error {
	return sql.ErrNoRows
}
