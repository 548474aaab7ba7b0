package collector

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/meetbot/meetbot/internal/models"
)

func TestRenderEqual_RoundsEndTimeToMillisecondPrecision(t *testing.T) {
	a := models.MutableSegment{Text: "hello", EndTime: 1.2344, Language: "en"}
	b := models.MutableSegment{Text: "hello", EndTime: 1.23439999, Language: "en"}
	assert.True(t, renderEqual(a, b), "sub-millisecond float noise should not count as a change")
}

func TestRenderEqual_DetectsRealEndTimeChange(t *testing.T) {
	a := models.MutableSegment{Text: "hello", EndTime: 1.200, Language: "en"}
	b := models.MutableSegment{Text: "hello", EndTime: 1.800, Language: "en"}
	assert.False(t, renderEqual(a, b))
}

func TestRenderEqual_DetectsTextChange(t *testing.T) {
	a := models.MutableSegment{Text: "hello", EndTime: 1.2, Language: "en"}
	b := models.MutableSegment{Text: "hello there", EndTime: 1.2, Language: "en"}
	assert.False(t, renderEqual(a, b))
}
