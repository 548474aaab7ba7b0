package collector

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/meetbot/meetbot/internal/auth"
	"github.com/meetbot/meetbot/internal/circuitbreaker"
	"github.com/meetbot/meetbot/internal/config"
	"github.com/meetbot/meetbot/internal/db"
	"github.com/meetbot/meetbot/internal/models"
)

func newHTTPHarness(t *testing.T) (*httptest.Server, sqlmock.Sqlmock, uuid.UUID) {
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

	kv := circuitbreaker.NewRedisWrapper(redisClient, zap.NewNop())
	svc := NewService(dbClient, redisClient, kv, tokens, config.CollectorConfig{}, zap.NewNop())
	handlers := NewHandlers(svc, zap.NewNop())
	middleware := auth.NewMiddleware(accounts, true)

	mux := http.NewServeMux()
	handlers.Register(mux, middleware)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	devAccountID := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	return server, mock, devAccountID
}

func meetingRowForTuple(id, accountID uuid.UUID, status models.MeetingStatus, redacted bool) *sqlmock.Rows {
	now := time.Now().UTC()
	data, _ := models.MeetingData{Redacted: redacted}.Value()
	return sqlmock.NewRows([]string{"id", "account_id", "platform", "native_meeting_id", "status",
		"workload_handle", "start_time", "end_time", "data", "created_at", "updated_at"}).
		AddRow(id.String(), accountID.String(), "zoom", "123-456", string(status), "", nil, nil, data, now, now)
}

func TestPurgeMeeting_CompletedMeetingIsScrubbedAndReturns200(t *testing.T) {
	server, mock, accountID := newHTTPHarness(t)
	meetingID := uuid.New()

	mock.ExpectQuery("FROM meetings").
		WithArgs(accountID, "zoom", "123-456").
		WillReturnRows(meetingRowForTuple(meetingID, accountID, models.StatusCompleted, false))
	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM transcript_segments").
		WithArgs(meetingID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM meeting_sessions").
		WithArgs(meetingID).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").
		WillReturnRows(meetingRowForTuple(meetingID, accountID, models.StatusCompleted, false))
	mock.ExpectExec("UPDATE meetings").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	req, err := http.NewRequest(http.MethodDelete, server.URL+"/meetings/zoom/123-456", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPurgeMeeting_SecondCallOnAlreadyRedactedMeetingIsIdempotent(t *testing.T) {
	server, mock, accountID := newHTTPHarness(t)
	meetingID := uuid.New()

	mock.ExpectQuery("FROM meetings").
		WithArgs(accountID, "zoom", "123-456").
		WillReturnRows(meetingRowForTuple(meetingID, accountID, models.StatusCompleted, true))
	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM transcript_segments").
		WithArgs(meetingID).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DELETE FROM meeting_sessions").
		WithArgs(meetingID).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").
		WillReturnRows(meetingRowForTuple(meetingID, accountID, models.StatusCompleted, true))
	mock.ExpectExec("UPDATE meetings").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	req, err := http.NewRequest(http.MethodDelete, server.URL+"/meetings/zoom/123-456", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPurgeMeeting_ActiveMeetingRejectedWithConflict(t *testing.T) {
	server, mock, accountID := newHTTPHarness(t)
	meetingID := uuid.New()

	mock.ExpectQuery("FROM meetings").
		WithArgs(accountID, "zoom", "123-456").
		WillReturnRows(meetingRowForTuple(meetingID, accountID, models.StatusActive, false))

	req, err := http.NewRequest(http.MethodDelete, server.URL+"/meetings/zoom/123-456", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPurgeMeeting_LookupFailureReturnsServiceUnavailable(t *testing.T) {
	server, mock, accountID := newHTTPHarness(t)

	mock.ExpectQuery("FROM meetings").
		WithArgs(accountID, "zoom", "999-999").
		WillReturnError(context.DeadlineExceeded)

	req, err := http.NewRequest(http.MethodDelete, server.URL+"/meetings/zoom/999-999", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
