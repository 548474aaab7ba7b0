package auth

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
)

// ContextKey is the key type for context values carried by the middleware.
type ContextKey string

// AccountContextKey is the context key under which the authenticated
// Account's id is stored.
const AccountContextKey ContextKey = "account_id"

// Middleware enforces Account API-key authentication on HTTP and WebSocket
// upgrade requests, "authenticated by account API key header".
type Middleware struct {
	accounts *AccountAuth
	skipAuth bool
}

// NewMiddleware constructs an authentication Middleware. skipAuth bypasses
// authentication for local development, mirroring GATEWAY_SKIP_AUTH.
func NewMiddleware(accounts *AccountAuth, skipAuth bool) *Middleware {
	return &Middleware{accounts: accounts, skipAuth: skipAuth}
}

var devAccountID = uuid.MustParse("00000000-0000-0000-0000-000000000001")

// HTTPMiddleware authenticates via the X-API-Key header, falling back to an
// api_key query parameter for WebSocket upgrade requests that cannot set
// custom headers from the browser.
func (m *Middleware) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.skipAuth {
			ctx := context.WithValue(r.Context(), AccountContextKey, devAccountID)
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		apiKey := r.Header.Get("X-API-Key")
		if apiKey == "" {
			apiKey = r.URL.Query().Get("api_key")
		}
		if apiKey == "" {
			writeUnauthorized(w, "API key is required")
			return
		}

		account, err := m.accounts.ValidateAPIKey(r.Context(), apiKey)
		if err != nil {
			writeUnauthorized(w, "invalid API key")
			return
		}

		ctx := context.WithValue(r.Context(), AccountContextKey, account.ID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// AccountFromContext extracts the authenticated account id.
func AccountFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(AccountContextKey).(uuid.UUID)
	return id, ok
}
