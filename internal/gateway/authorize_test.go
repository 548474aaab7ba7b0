package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthorizeSubscribe_ForwardsAPIKeyAndDecodesResponse(t *testing.T) {
	var gotKey string
	var gotBody authorizeRequestBody

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-API-Key")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(authorizeResponseBody{
			Authorized: []AuthorizedMeeting{{Platform: "zoom", NativeID: "123", AccountID: "acc-1", MeetingID: "mtg-1"}},
			Errors:     map[string]string{"teams/456": "meeting not found"},
		})
	}))
	defer server.Close()

	a := NewAuthorizer(server.URL, 2*time.Second)
	result, err := a.AuthorizeSubscribe(context.Background(), "test-key", []meetingTuple{
		{Platform: "zoom", NativeID: "123"},
		{Platform: "teams", NativeID: "456"},
	})
	require.NoError(t, err)

	assert.Equal(t, "test-key", gotKey)
	require.Len(t, gotBody.Meetings, 2)
	assert.Equal(t, "123", gotBody.Meetings[0].NativeMeetingID)

	require.Len(t, result.Authorized, 1)
	assert.Equal(t, "mtg-1", result.Authorized[0].MeetingID)
	assert.Equal(t, "meeting not found", result.Errors["teams/456"])
}

func TestAuthorizeSubscribe_UnauthorizedAPIKey(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	a := NewAuthorizer(server.URL, 2*time.Second)
	_, err := a.AuthorizeSubscribe(context.Background(), "bad-key", []meetingTuple{{Platform: "zoom", NativeID: "123"}})
	assert.Error(t, err)
}

func TestAuthorizeSubscribe_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	a := NewAuthorizer(server.URL, 2*time.Second)
	_, err := a.AuthorizeSubscribe(context.Background(), "key", []meetingTuple{{Platform: "zoom", NativeID: "123"}})
	assert.Error(t, err)
}
