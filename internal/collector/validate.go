package collector

import (
	"strings"

	"github.com/meetbot/meetbot/internal/models"
)

// validNativeID reports whether a (platform, native_meeting_id) pair is
// well-formed enough to construct a join URL, the same shape check the
// Controller applies at launch time, duplicated here in miniature since
// the Collector's authorize-subscribe endpoint needs it without depending
// on the Controller's scheduler/webhook machinery.
func validNativeID(platform models.Platform, nativeID string) bool {
	switch platform {
	case models.PlatformGoogleMeet:
		parts := strings.Split(nativeID, "-")
		if len(parts) != 3 {
			return false
		}
		lens := []int{3, 4, 3}
		for i, p := range parts {
			if len(p) != lens[i] {
				return false
			}
		}
		return true
	case models.PlatformZoom, models.PlatformTeams:
		return nativeID != ""
	default:
		return false
	}
}
