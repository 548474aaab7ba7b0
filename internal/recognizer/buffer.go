package recognizer

// audioBuffer implements the growing-buffer / discard / clip-on-stall
// bookkeeping: frames accumulate in samples, and timestampOffset tracks how
// much of the buffer's start has already been consumed by a recognition
// pass, in absolute seconds from the start of the stream.
type audioBuffer struct {
	samples         []float32
	framesOffset    float64 // seconds of audio permanently discarded so far
	timestampOffset float64 // seconds already consumed, absolute (>= framesOffset)

	maxBufferS       float64
	discardBufferS   float64
	clipIfNoSegmentS float64
	clipRetainS      float64
}

func newAudioBuffer(maxBufferS, discardBufferS, clipIfNoSegmentS, clipRetainS float64) *audioBuffer {
	return &audioBuffer{
		maxBufferS:       maxBufferS,
		discardBufferS:   discardBufferS,
		clipIfNoSegmentS: clipIfNoSegmentS,
		clipRetainS:      clipRetainS,
	}
}

// add appends frame and, if the buffer has grown past maxBufferS, discards
// the oldest discardBufferS and advances framesOffset accordingly.
func (b *audioBuffer) add(frame []float32) {
	b.samples = append(b.samples, frame...)

	if b.durationS() > b.maxBufferS {
		discardSamples := int(b.discardBufferS * SampleRate)
		if discardSamples > len(b.samples) {
			discardSamples = len(b.samples)
		}
		b.samples = b.samples[discardSamples:]
		b.framesOffset += b.discardBufferS
		if b.timestampOffset < b.framesOffset {
			b.timestampOffset = b.framesOffset
		}
	}
}

func (b *audioBuffer) durationS() float64 {
	return float64(len(b.samples)) / SampleRate
}

// clipIfStalled advances timestampOffset, retaining only clipRetainS of
// already-buffered audio, when clipIfNoSegmentS of unconsumed audio has
// accumulated without a produced segment.
func (b *audioBuffer) clipIfStalled() {
	unconsumed := b.framesOffset + b.durationS() - b.timestampOffset
	if unconsumed > b.clipIfNoSegmentS {
		b.timestampOffset = b.framesOffset + b.durationS() - b.clipRetainS
	}
}

// pending returns the unconsumed tail of the buffer (from timestampOffset
// onward) and whether it has at least minAudioS seconds available.
func (b *audioBuffer) pending(minAudioS float64) ([]float32, bool) {
	startSample := int((b.timestampOffset - b.framesOffset) * SampleRate)
	if startSample < 0 {
		startSample = 0
	}
	if startSample >= len(b.samples) {
		return nil, false
	}
	available := b.samples[startSample:]
	if float64(len(available))/SampleRate < minAudioS {
		return nil, false
	}
	return available, true
}

// advance moves timestampOffset forward by durationS seconds, called after a
// successful recognition pass consumes that much audio.
func (b *audioBuffer) advance(durationS float64) {
	b.timestampOffset += durationS
}
