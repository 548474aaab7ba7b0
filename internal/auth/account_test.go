package auth

import (
	"context"
	"database/sql"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockAccountAuth(t *testing.T) (*AccountAuth, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewAccountAuth(sqlx.NewDb(db, "sqlmock")), mock
}

func TestValidateAPIKey_MatchesBcryptAgainstPrefixCandidates(t *testing.T) {
	a, mock := newMockAccountAuth(t)

	apiKey := "sk_live_abcdef123456"
	prefix := KeyPrefix(apiKey)
	hash, err := HashAPIKey(apiKey)
	require.NoError(t, err)
	accountID := uuid.New()

	rows := sqlmock.NewRows([]string{"id", "api_key_hash", "api_key_prefix", "api_secret", "webhook_url", "webhook_secret", "max_concurrent_bots", "enabled", "created_at"}).
		AddRow(accountID.String(), hash, prefix, "", "", "", 5, true, time.Now())

	mock.ExpectQuery("FROM accounts WHERE api_key_prefix").
		WithArgs(prefix).
		WillReturnRows(rows)

	acc, err := a.ValidateAPIKey(context.Background(), apiKey)
	require.NoError(t, err)
	assert.Equal(t, accountID, acc.ID)
}

func TestValidateAPIKey_RejectsHashMismatchAmongSamePrefix(t *testing.T) {
	a, mock := newMockAccountAuth(t)

	apiKey := "sk_live_abcdef123456"
	prefix := KeyPrefix(apiKey)
	accountID := uuid.New()

	otherHash, err := HashAPIKey("a-different-key-with-same-prefix")
	require.NoError(t, err)
	rows := sqlmock.NewRows([]string{"id", "api_key_hash", "api_key_prefix", "api_secret", "webhook_url", "webhook_secret", "max_concurrent_bots", "enabled", "created_at"}).
		AddRow(accountID.String(), otherHash, prefix, "", "", "", 5, true, time.Now())

	mock.ExpectQuery("FROM accounts WHERE api_key_prefix").
		WithArgs(prefix).
		WillReturnRows(rows)

	_, err = a.ValidateAPIKey(context.Background(), apiKey)
	assert.ErrorIs(t, err, ErrInvalidAPIKey)
}

func TestValidateAPIKey_EmptyKeyRejectedWithoutQuery(t *testing.T) {
	a, mock := newMockAccountAuth(t)
	_, err := a.ValidateAPIKey(context.Background(), "")
	assert.ErrorIs(t, err, ErrInvalidAPIKey)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestKeyPrefix_ShortKeyUsedWhole(t *testing.T) {
	assert.Equal(t, "short", KeyPrefix("short"))
	assert.Equal(t, "12345678", KeyPrefix("123456789012"))
}

func TestAccountByID_Found(t *testing.T) {
	a, mock := newMockAccountAuth(t)
	accountID := uuid.New()

	rows := sqlmock.NewRows([]string{"id", "api_key_hash", "api_key_prefix", "api_secret", "webhook_url", "webhook_secret", "max_concurrent_bots", "enabled", "created_at"}).
		AddRow(accountID.String(), "hash", "prefix12", "secret", "https://example.com/hook", "whsec", 3, true, time.Now())

	mock.ExpectQuery("FROM accounts WHERE id").
		WithArgs(accountID).
		WillReturnRows(rows)

	acc, err := a.AccountByID(context.Background(), accountID)
	require.NoError(t, err)
	assert.Equal(t, accountID, acc.ID)
	assert.Equal(t, 3, acc.MaxConcurrentBots)
}

func TestAccountByID_NotFound(t *testing.T) {
	a, mock := newMockAccountAuth(t)
	accountID := uuid.New()

	mock.ExpectQuery("FROM accounts WHERE id").
		WithArgs(accountID).
		WillReturnError(sql.ErrNoRows)

	_, err := a.AccountByID(context.Background(), accountID)
	assert.Error(t, err)
}
