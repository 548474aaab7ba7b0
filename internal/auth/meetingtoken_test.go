package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMeetingTokenManager_MintThenVerifyRoundTrips(t *testing.T) {
	m := NewMeetingTokenManager("secret", "bot-manager", "transcription-collector", time.Hour)
	meetingID := uuid.New()
	accountID := uuid.New()

	token, err := m.Mint(meetingID, accountID, "zoom", "123-456")
	require.NoError(t, err)

	claims, err := m.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, meetingID.String(), claims.MeetingID)
	assert.Equal(t, accountID.String(), claims.AccountID)
	assert.Equal(t, "zoom", claims.Platform)
	assert.Equal(t, MeetingTokenScope, claims.Scope)
}

func TestMeetingTokenManager_VerifyRejectsExpired(t *testing.T) {
	m := NewMeetingTokenManager("secret", "bot-manager", "transcription-collector", -time.Minute)
	token, err := m.Mint(uuid.New(), uuid.New(), "zoom", "123")
	require.NoError(t, err)

	_, err = m.Verify(token)
	assert.Error(t, err)
}

func TestMeetingTokenManager_VerifyRejectsWrongAudience(t *testing.T) {
	minter := NewMeetingTokenManager("secret", "bot-manager", "transcription-collector", time.Hour)
	verifier := NewMeetingTokenManager("secret", "bot-manager", "some-other-audience", time.Hour)

	token, err := minter.Mint(uuid.New(), uuid.New(), "zoom", "123")
	require.NoError(t, err)

	_, err = verifier.Verify(token)
	assert.Error(t, err)
}

func TestMeetingTokenManager_VerifyRejectsWrongSecret(t *testing.T) {
	minter := NewMeetingTokenManager("secret-a", "bot-manager", "transcription-collector", time.Hour)
	verifier := NewMeetingTokenManager("secret-b", "bot-manager", "transcription-collector", time.Hour)

	token, err := minter.Mint(uuid.New(), uuid.New(), "zoom", "123")
	require.NoError(t, err)

	_, err = verifier.Verify(token)
	assert.Error(t, err)
}

func TestMeetingTokenManager_VerifyRejectsWrongScope(t *testing.T) {
	m := NewMeetingTokenManager("secret", "bot-manager", "transcription-collector", time.Hour)
	now := time.Now().UTC()
	claims := MeetingClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "bot-manager",
			Audience:  jwt.ClaimStrings{"transcription-collector"},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
		MeetingID: uuid.New().String(),
		Scope:     "transcribe:read",
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = m.Verify(signed)
	assert.Error(t, err)
}
