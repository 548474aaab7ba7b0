package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// MeetingTokenScope is the sole scope minted into Meeting Tokens.
const MeetingTokenScope = "transcribe:write"

// MeetingClaims is the custom claim set carried by a Meeting Token.
type MeetingClaims struct {
	jwt.RegisteredClaims
	MeetingID       string `json:"meeting_id"`
	AccountID       string `json:"account_id"`
	Platform        string `json:"platform"`
	NativeMeetingID string `json:"native_meeting_id"`
	Scope           string `json:"scope"`
}

// MeetingTokenManager mints and verifies Meeting Tokens.
type MeetingTokenManager struct {
	signingKey []byte
	issuer     string
	audience   string
	ttl        time.Duration
}

// NewMeetingTokenManager constructs a MeetingTokenManager.
func NewMeetingTokenManager(secret, issuer, audience string, ttl time.Duration) *MeetingTokenManager {
	return &MeetingTokenManager{signingKey: []byte(secret), issuer: issuer, audience: audience, ttl: ttl}
}

// Mint produces a signed Meeting Token for the given meeting.
func (m *MeetingTokenManager) Mint(meetingID, accountID uuid.UUID, platform, nativeMeetingID string) (string, error) {
	now := time.Now().UTC()
	claims := MeetingClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Audience:  jwt.ClaimStrings{m.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
			ID:        uuid.New().String(),
		},
		MeetingID:       meetingID.String(),
		AccountID:       accountID.String(),
		Platform:        platform,
		NativeMeetingID: nativeMeetingID,
		Scope:           MeetingTokenScope,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.signingKey)
	if err != nil {
		return "", fmt.Errorf("sign meeting token: %w", err)
	}
	return signed, nil
}

// Verify validates a Meeting Token's signature, issuer, audience, scope and
// expiry, and that a meeting_id claim is present. Signature comparison is
// constant-time (enforced by golang-jwt's HMAC verifier).
func (m *MeetingTokenManager) Verify(tokenString string) (*MeetingClaims, error) {
	claims := &MeetingClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.signingKey, nil
	}, jwt.WithIssuer(m.issuer), jwt.WithAudience(m.audience), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("verify meeting token: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("meeting token invalid")
	}
	if claims.Scope != MeetingTokenScope {
		return nil, errors.New("meeting token has wrong scope")
	}
	if claims.MeetingID == "" {
		return nil, errors.New("meeting token missing meeting_id")
	}
	return claims, nil
}
