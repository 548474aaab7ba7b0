package recognizer

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/meetbot/meetbot/internal/auth"
	"github.com/meetbot/meetbot/internal/config"
	"github.com/meetbot/meetbot/internal/metrics"
	"github.com/meetbot/meetbot/internal/streaming"
)

// session is one client's audio connection: a single cooperative read loop
// that buffers audio, drives the recognizer, filters hallucinations, and
// relays segments to the client socket and the transcription stream.
type session struct {
	conn   *websocket.Conn
	redis  *redis.Client
	tokens *auth.MeetingTokenManager
	backend Backend
	halluc *hallucinationFilter
	breaker *stallBreaker
	cfg    config.RecognizerConfig
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	uid       string
	platform  string
	token     string
	meetingID string

	startedAt    time.Time
	maxConnTime  time.Duration
	buffer       *audioBuffer
	recentFinals []outSegment
	producedAny  bool
}

func newSession(ctx context.Context, conn *websocket.Conn, cfg config.RecognizerConfig, redisClient *redis.Client,
	tokens *auth.MeetingTokenManager, backend Backend, halluc *hallucinationFilter, breaker *stallBreaker, logger *zap.Logger) *session {
	sessCtx, cancel := context.WithCancel(ctx)
	return &session{
		conn: conn, redis: redisClient, tokens: tokens, backend: backend,
		halluc: halluc, breaker: breaker, cfg: cfg, logger: logger,
		ctx: sessCtx, cancel: cancel,
		maxConnTime: cfg.MaxConnectionTime,
		buffer:      newAudioBuffer(cfg.MaxBufferSeconds, cfg.DiscardBufferSeconds, cfg.ClipIfNoSegmentSeconds, cfg.ClipRetainSeconds),
	}
}

// handshake reads and validates the first options frame, returning the
// parsed options on success. The caller is responsible for sending the
// SERVER_READY/WAIT/ERROR reply.
func (s *session) handshake() (*optionsMessage, error) {
	_, raw, err := s.conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("read options frame: %w", err)
	}
	var opts optionsMessage
	if err := json.Unmarshal(raw, &opts); err != nil {
		return nil, fmt.Errorf("parse options frame: %w", err)
	}
	if opts.UID == "" || opts.Platform == "" || opts.MeetingURL == "" || opts.Token == "" || opts.MeetingID == "" {
		return nil, fmt.Errorf("options frame missing a required field")
	}
	claims, err := s.tokens.Verify(opts.Token)
	if err != nil {
		return nil, fmt.Errorf("verify meeting token: %w", err)
	}
	if claims.MeetingID != opts.MeetingID {
		return nil, fmt.Errorf("meeting token does not match meeting_id")
	}

	s.uid = opts.UID
	s.platform = opts.Platform
	s.token = opts.Token
	s.meetingID = opts.MeetingID
	s.startedAt = time.Now()
	return &opts, nil
}

func (s *session) sendStatus(msg serverStatusMessage) error {
	return s.conn.WriteJSON(msg)
}

// run drives the read loop until the client disconnects, END_OF_AUDIO is
// received, or the session is cancelled (timeout, shutdown).
func (s *session) run(opts *optionsMessage) {
	defer s.publishSessionEnd()

	recOpts := RecognizeOptions{Language: opts.Language, Task: opts.Task, Model: opts.Model, UseVAD: opts.UseVAD, InitialPrompt: opts.InitialPrompt}

	go func() {
		<-s.ctx.Done()
		s.conn.Close()
	}()

	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			if string(data) == endOfAudio {
				return
			}
			s.ingestAudio(data, recOpts)
		case websocket.TextMessage:
			s.handleControl(data)
		}

		select {
		case <-s.ctx.Done():
			return
		default:
		}
	}
}

func (s *session) ingestAudio(data []byte, recOpts RecognizeOptions) {
	frame := decodeFloat32LE(data)
	s.buffer.add(frame)
	s.buffer.clipIfStalled()

	pending, ok := s.buffer.pending(s.cfg.MinAudioSeconds)
	if !ok {
		return
	}

	result, err := s.backend.Recognize(s.ctx, pending, recOpts)
	if err != nil {
		s.logger.Warn("recognize failed", zap.String("uid", s.uid), zap.Error(err))
		return
	}
	if len(result.Segments) == 0 {
		return
	}

	s.breaker.recordSegment()
	s.emitSegments(result, s.buffer.timestampOffset)
}

// emitSegments treats every segment but the last as final and the last as
// partial, per the recognizer's incremental-output contract.
func (s *session) emitSegments(result RecognizeResult, offset float64) {
	var outgoing []outSegment
	for i, seg := range result.Segments {
		completed := i < len(result.Segments)-1
		text := seg.Text

		if s.halluc.isHallucination(text) {
			metrics.HallucinationsDropped.Inc()
			continue
		}

		entry := outSegment{
			Start: offset + seg.Start, End: offset + seg.End, Text: text,
			Completed: completed, Language: result.Language,
		}
		if completed {
			s.recentFinals = append(s.recentFinals, entry)
			if len(s.recentFinals) > s.cfg.RecentSegmentWindow {
				s.recentFinals = s.recentFinals[len(s.recentFinals)-s.cfg.RecentSegmentWindow:]
			}
		}
		outgoing = append(outgoing, entry)
		metrics.SegmentsEmitted.WithLabelValues(fmt.Sprintf("%t", completed)).Inc()
	}
	if len(result.Segments) > 0 {
		last := result.Segments[len(result.Segments)-1]
		s.buffer.advance(last.End)
	}
	if len(outgoing) == 0 {
		return
	}

	if !s.producedAny {
		s.producedAny = true
		s.publishSessionStart()
	}

	recent := append(append([]outSegment{}, s.recentFinals...), outgoing[len(outgoing)-1])
	s.conn.WriteJSON(clientTranscriptMessage{UID: s.uid, Segments: recent})
	s.publishTranscription(recent)
}

func (s *session) handleControl(data []byte) {
	var env controlEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return
	}
	switch env.Type {
	case "speaker_activity", "speaker_activity_update":
		var msg speakerActivityMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return
		}
		s.breaker.recordSpeakerEvent()
		s.publishSpeakerEvent(msg)
	case "audio_chunk_metadata", "session_control":
		// acknowledged but not acted on; no corresponding stream write.
	}
}

func (s *session) publishSessionStart() {
	env := streamEnvelope{Type: "session_start", Payload: sessionStartPayload{
		UID: s.uid, Token: s.token, Platform: s.platform, MeetingID: s.meetingID,
		StartTimestamp: s.startedAt.UTC().Format(time.RFC3339),
	}}
	if err := streaming.Publish(s.ctx, s.redis, transcriptionStream, env); err != nil {
		s.logger.Warn("publish session_start failed", zap.String("uid", s.uid), zap.Error(err))
	}
}

func (s *session) publishSessionEnd() {
	env := streamEnvelope{Type: "session_end", Payload: sessionEndPayload{UID: s.uid}}
	if err := streaming.Publish(context.Background(), s.redis, transcriptionStream, env); err != nil {
		s.logger.Warn("publish session_end failed", zap.String("uid", s.uid), zap.Error(err))
	}
}

func (s *session) publishTranscription(segments []outSegment) {
	env := streamEnvelope{Type: "transcription", Payload: transcriptionPayload{
		UID: s.uid, Token: s.token, Platform: s.platform, MeetingID: s.meetingID, Segments: segments,
	}}
	if err := streaming.Publish(s.ctx, s.redis, transcriptionStream, env); err != nil {
		s.logger.Warn("publish transcription failed", zap.String("uid", s.uid), zap.Error(err))
	}
}

func (s *session) publishSpeakerEvent(msg speakerActivityMessage) {
	payload := speakerEventStreamPayload{
		UID: s.uid, EventType: msg.EventType, ParticipantName: msg.ParticipantName,
		ParticipantID: msg.ParticipantID, RelativeClientTimestampMs: msg.RelativeClientTimestampMs,
	}
	if err := streaming.Publish(s.ctx, s.redis, speakerEventsStream, payload); err != nil {
		s.logger.Warn("publish speaker event failed", zap.String("uid", s.uid), zap.Error(err))
	}
}

func decodeFloat32LE(data []byte) []float32 {
	n := len(data) / 4
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		bits := binary.LittleEndian.Uint32(data[i*4:])
		out[i] = math.Float32frombits(bits)
	}
	return out
}
