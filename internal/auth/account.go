// Package auth implements Account API-key authentication and Meeting Token
// minting/verification, grounded on the bcrypt/JWT
// API-key validation and JWT patterns, simplified to this system's single
// credential type (no user/tenant/refresh-token model).
package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"golang.org/x/crypto/bcrypt"

	"github.com/meetbot/meetbot/internal/models"
)

// ErrInvalidAPIKey is returned when an API key does not match any enabled account.
var ErrInvalidAPIKey = errors.New("invalid api key")

// AccountAuth validates Account API keys against the Durable Store.
type AccountAuth struct {
	db *sqlx.DB
}

// NewAccountAuth constructs an AccountAuth backed by db.
func NewAccountAuth(db *sqlx.DB) *AccountAuth {
	return &AccountAuth{db: db}
}

// HashAPIKey returns the stored bcrypt hash for a plaintext API key.
func HashAPIKey(key string) (string, error) {
	sum, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash api key: %w", err)
	}
	return string(sum), nil
}

// KeyPrefix returns the short prefix used to narrow the candidate-key lookup,
// the same way ValidateAPIKey below does before the
// bcrypt comparison loop.
func KeyPrefix(key string) string {
	if len(key) <= 8 {
		return key
	}
	return key[:8]
}

// ValidateAPIKey resolves a plaintext API key to its owning, enabled Account.
func (a *AccountAuth) ValidateAPIKey(ctx context.Context, apiKey string) (*models.Account, error) {
	if apiKey == "" {
		return nil, ErrInvalidAPIKey
	}
	prefix := KeyPrefix(apiKey)

	var accounts []models.Account
	err := a.db.SelectContext(ctx, &accounts,
		`SELECT id, api_key_hash, api_key_prefix, api_secret, webhook_url, webhook_secret,
		        max_concurrent_bots, enabled, created_at
		   FROM accounts WHERE api_key_prefix = $1 AND enabled = true`, prefix)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("lookup account by key prefix: %w", err)
	}

	for i := range accounts {
		if bcrypt.CompareHashAndPassword([]byte(accounts[i].APIKeyHash), []byte(apiKey)) == nil {
			return &accounts[i], nil
		}
	}
	return nil, ErrInvalidAPIKey
}

// AccountByID fetches an Account by id, used by the Controller where it
// already holds a meeting's account id: Launch, and the terminal-status
// webhook step reached from Stop, Callback and the reconciler.
func (a *AccountAuth) AccountByID(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	var acc models.Account
	err := a.db.GetContext(ctx, &acc,
		`SELECT id, api_key_hash, api_key_prefix, api_secret, webhook_url, webhook_secret,
		        max_concurrent_bots, enabled, created_at
		   FROM accounts WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("lookup account %s: %w", id, err)
	}
	return &acc, nil
}
