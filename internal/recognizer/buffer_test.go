package recognizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func makeFrame(seconds float64) []float32 {
	return make([]float32, int(seconds*SampleRate))
}

func TestAudioBuffer_DiscardsOldestPastMaxBuffer(t *testing.T) {
	b := newAudioBuffer(2, 1, 25, 5)
	b.add(makeFrame(1.5))
	assert.Equal(t, 0.0, b.framesOffset)

	b.add(makeFrame(1.0))
	assert.Equal(t, 1.0, b.framesOffset)
	assert.InDelta(t, 1.5, b.durationS(), 1e-6)
}

func TestAudioBuffer_ClipsWhenStalledWithoutASegment(t *testing.T) {
	b := newAudioBuffer(100, 50, 2, 1)
	b.add(makeFrame(3))
	b.clipIfStalled()
	assert.InDelta(t, 2.0, b.timestampOffset, 1e-6)
}

func TestAudioBuffer_DoesNotClipBelowThreshold(t *testing.T) {
	b := newAudioBuffer(100, 50, 5, 1)
	b.add(makeFrame(1))
	b.clipIfStalled()
	assert.Equal(t, 0.0, b.timestampOffset)
}

func TestAudioBuffer_PendingRequiresMinAudio(t *testing.T) {
	b := newAudioBuffer(100, 50, 25, 5)
	b.add(makeFrame(0.5))
	_, ok := b.pending(1.0)
	assert.False(t, ok)

	b.add(makeFrame(0.6))
	pending, ok := b.pending(1.0)
	assert.True(t, ok)
	assert.InDelta(t, 1.1, float64(len(pending))/SampleRate, 1e-6)
}

func TestAudioBuffer_AdvanceMovesTimestampOffset(t *testing.T) {
	b := newAudioBuffer(100, 50, 25, 5)
	b.add(makeFrame(2))
	b.advance(1.0)
	assert.Equal(t, 1.0, b.timestampOffset)
}
