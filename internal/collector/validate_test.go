package collector

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/meetbot/meetbot/internal/models"
)

func TestValidNativeID_GoogleMeet(t *testing.T) {
	assert.True(t, validNativeID(models.PlatformGoogleMeet, "abc-defg-hij"))
	assert.False(t, validNativeID(models.PlatformGoogleMeet, "abc-defg"))
	assert.False(t, validNativeID(models.PlatformGoogleMeet, "ab-defg-hij"))
	assert.False(t, validNativeID(models.PlatformGoogleMeet, ""))
}

func TestValidNativeID_ZoomAndTeams(t *testing.T) {
	assert.True(t, validNativeID(models.PlatformZoom, "123456789"))
	assert.False(t, validNativeID(models.PlatformZoom, ""))
	assert.True(t, validNativeID(models.PlatformTeams, "meeting-xyz"))
	assert.False(t, validNativeID(models.PlatformTeams, ""))
}

func TestValidNativeID_UnknownPlatformRejected(t *testing.T) {
	assert.False(t, validNativeID(models.Platform("webex"), "anything"))
}
