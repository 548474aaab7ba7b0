package recognizer

import (
	"sync"
	"time"
)

// stallBreaker implements the speaker-ground-truth stall circuit breaker:
// if a speaker event arrived recently but no segment has been produced in a
// while, that's a sign the recognizer is silently stuck rather than the
// room being quiet.
type stallBreaker struct {
	mu sync.Mutex

	enabled           bool
	warmupAt          time.Time
	speakerWindow     time.Duration
	noTxStall         time.Duration
	consecutiveToTrip int

	lastSpeakerEvent time.Time
	lastSegment      time.Time
	streak           int
}

func newStallBreaker(enabled bool, warmupS, speakerWindowS, noTxStallS time.Duration, consecutiveToTrip int) *stallBreaker {
	now := time.Now()
	return &stallBreaker{
		enabled:           enabled,
		warmupAt:          now.Add(warmupS),
		speakerWindow:     speakerWindowS,
		noTxStall:         noTxStallS,
		consecutiveToTrip: consecutiveToTrip,
		lastSegment:       now,
	}
}

func (b *stallBreaker) recordSpeakerEvent() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastSpeakerEvent = time.Now()
}

// recordSegment resets the stall streak; called whenever the worker
// produces output, including filtered hallucinations, so a torrent of
// hallucinations still counts as activity.
func (b *stallBreaker) recordSegment() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastSegment = time.Now()
	b.streak = 0
}

// check evaluates one tick and reports whether the breaker has now tripped.
func (b *stallBreaker) check() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.enabled {
		return false
	}
	now := time.Now()
	if now.Before(b.warmupAt) {
		return false
	}
	if b.lastSpeakerEvent.IsZero() || now.Sub(b.lastSpeakerEvent) > b.speakerWindow {
		return false
	}
	if now.Sub(b.lastSegment) < b.noTxStall {
		return false
	}
	b.streak++
	return b.streak >= b.consecutiveToTrip
}
