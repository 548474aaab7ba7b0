package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/meetbot/meetbot/internal/metrics"
	"github.com/meetbot/meetbot/internal/models"
	"github.com/meetbot/meetbot/internal/streaming"
)

// rawSegment is one entry of a transcription message's segments array.
type rawSegment struct {
	Start    float64 `json:"start"`
	End      float64 `json:"end"`
	Text     string  `json:"text"`
	Language string  `json:"language,omitempty"`
}

type sessionStartPayload struct {
	UID            string `json:"uid"`
	Token          string `json:"token"`
	Platform       string `json:"platform"`
	MeetingID      string `json:"meeting_id"`
	StartTimestamp string `json:"start_timestamp"`
}

type transcriptionPayload struct {
	UID       string       `json:"uid"`
	Token     string       `json:"token"`
	Platform  string       `json:"platform"`
	MeetingID string       `json:"meeting_id"`
	Segments  []rawSegment `json:"segments"`
}

type sessionEndPayload struct {
	UID string `json:"uid"`
}

type streamEnvelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// ProcessTranscriptionMessage dispatches one message off the transcription
// stream to its per-type handler. A nil return means the message is
// acknowledged (dropped on unknown type or auth failure); a non-nil return
// leaves it pending for redelivery.
func (s *Service) ProcessTranscriptionMessage(ctx context.Context, id string, values map[string]interface{}) error {
	raw, _ := values["payload"].(string)
	var env streamEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		metrics.StreamMessagesProcessed.WithLabelValues("transcription", "ack_malformed").Inc()
		return nil
	}

	switch env.Type {
	case "session_start":
		return s.handleSessionStart(ctx, env.Payload)
	case "transcription":
		return s.handleTranscription(ctx, env.Payload)
	case "session_end":
		return s.handleSessionEnd(ctx, env.Payload)
	default:
		metrics.StreamMessagesProcessed.WithLabelValues("transcription", "ack_unknown_type").Inc()
		return nil
	}
}

func (s *Service) handleSessionStart(ctx context.Context, raw json.RawMessage) error {
	var p sessionStartPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		metrics.StreamMessagesProcessed.WithLabelValues("transcription", "ack_malformed").Inc()
		return nil
	}
	claims, err := s.tokens.Verify(p.Token)
	if err != nil {
		s.logger.Warn("session_start: token verification failed", zap.String("uid", p.UID), zap.Error(err))
		metrics.StreamMessagesProcessed.WithLabelValues("transcription", "ack_auth_failed").Inc()
		return nil
	}
	if claims.MeetingID != p.MeetingID {
		metrics.StreamMessagesProcessed.WithLabelValues("transcription", "ack_auth_failed").Inc()
		return nil
	}

	meetingID, err := uuid.Parse(p.MeetingID)
	if err != nil {
		metrics.StreamMessagesProcessed.WithLabelValues("transcription", "ack_malformed").Inc()
		return nil
	}
	start, err := time.Parse(time.RFC3339, p.StartTimestamp)
	if err != nil {
		start = time.Now().UTC()
	}

	if err := s.db.UpsertMeetingSession(ctx, &models.MeetingSession{
		ID: uuid.New(), MeetingID: meetingID, SessionUID: p.UID, SessionStart: start,
	}); err != nil {
		return fmt.Errorf("upsert meeting session: %w", err)
	}
	if err := cacheSessionStart(ctx, s.kv, p.UID, start, s.cfg.SessionStartCacheTTL); err != nil {
		return fmt.Errorf("cache session start: %w", err)
	}
	metrics.StreamMessagesProcessed.WithLabelValues("transcription", "ok").Inc()
	return nil
}

func (s *Service) handleSessionEnd(ctx context.Context, raw json.RawMessage) error {
	var p sessionEndPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		metrics.StreamMessagesProcessed.WithLabelValues("transcription", "ack_malformed").Inc()
		return nil
	}
	if err := clearSession(ctx, s.kv, p.UID); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	metrics.StreamMessagesProcessed.WithLabelValues("transcription", "ok").Inc()
	return nil
}

func (s *Service) handleTranscription(ctx context.Context, raw json.RawMessage) error {
	var p transcriptionPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		metrics.StreamMessagesProcessed.WithLabelValues("transcription", "ack_malformed").Inc()
		return nil
	}
	claims, err := s.tokens.Verify(p.Token)
	if err != nil || claims.MeetingID != p.MeetingID {
		metrics.StreamMessagesProcessed.WithLabelValues("transcription", "ack_auth_failed").Inc()
		return nil
	}

	sessionStart, haveStart, err := lookupSessionStart(ctx, s.kv, p.UID)
	if err != nil {
		return fmt.Errorf("lookup session start: %w", err)
	}
	if !haveStart {
		meetingID, perr := uuid.Parse(p.MeetingID)
		if perr == nil {
			if sessions, derr := s.db.MeetingSessionsForMeeting(ctx, meetingID); derr == nil {
				for _, sess := range sessions {
					if sess.SessionUID == p.UID {
						sessionStart = sess.SessionStart
						haveStart = true
						break
					}
				}
			}
		}
	}

	var changed []map[string]interface{}
	for _, raw := range p.Segments {
		start, end := raw.Start, raw.End
		if start > end {
			start, end = end, start
		}
		if end-start < 0.001 {
			continue
		}

		mapping, merr := mapSpeaker(ctx, s.redis, p.UID, int64(start*1000), int64(end*1000), s.cfg.SpeakerWindowMs)
		if merr != nil {
			mapping = mappingResult{Status: models.SpeakerErrorInMapping}
		}
		metrics.SpeakerMappingOutcomes.WithLabelValues(string(mapping.Status)).Inc()

		seg := models.MutableSegment{
			Text:                 raw.Text,
			EndTime:              end,
			Language:             raw.Language,
			UpdatedAt:            time.Now().UTC(),
			SessionUID:           p.UID,
			Speaker:              mapping.Name,
			SpeakerMappingStatus: string(mapping.Status),
		}
		if haveStart {
			absStart := sessionStart.Add(time.Duration(start * float64(time.Second))).Format(time.RFC3339Nano)
			absEnd := sessionStart.Add(time.Duration(end * float64(time.Second))).Format(time.RFC3339Nano)
			seg.AbsoluteStartTime = &absStart
			seg.AbsoluteEndTime = &absEnd
		}

		fieldKey := segmentFieldKey(start)
		changedFields, err := s.writeSegmentIfChanged(ctx, p.MeetingID, fieldKey, seg)
		if err != nil {
			return fmt.Errorf("write segment: %w", err)
		}
		if changedFields != nil {
			changedFields["start_time"] = start
			changed = append(changed, changedFields)
		}
	}

	if len(changed) > 0 {
		if err := streaming.PublishMutable(ctx, s.redis, p.MeetingID, changed); err != nil {
			s.logger.Warn("publish mutable failed", zap.String("meeting_id", p.MeetingID), zap.Error(err))
		} else {
			metrics.MutablePublishes.Inc()
		}
	}
	metrics.StreamMessagesProcessed.WithLabelValues("transcription", "ok").Inc()
	return nil
}

// writeSegmentIfChanged compares seg against the existing hash entry at
// fieldKey and, if any render-relevant field differs, pipelines the set of
// writes described above (add to active_meetings, refresh hash TTL,
// HSET). Returns the changed-field subset to publish, or nil if unchanged.
func (s *Service) writeSegmentIfChanged(ctx context.Context, meetingID, fieldKey string, seg models.MutableSegment) (map[string]interface{}, error) {
	hashKey := segmentsHashKey(meetingID)
	existingRaw, err := s.redis.HGet(ctx, hashKey, fieldKey).Result()
	if err != nil && err != redis.Nil {
		return nil, err
	}
	if existingRaw != "" {
		var existing models.MutableSegment
		if jerr := json.Unmarshal([]byte(existingRaw), &existing); jerr == nil && renderEqual(existing, seg) {
			return nil, nil
		}
	}

	encoded, err := json.Marshal(seg)
	if err != nil {
		return nil, err
	}

	_, err = s.redis.Pipelined(ctx, func(p redis.Pipeliner) error {
		p.SAdd(ctx, activeMeetingsSet, meetingID)
		p.Expire(ctx, hashKey, s.cfg.SegmentTTL)
		p.HSet(ctx, hashKey, fieldKey, encoded)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"text":                seg.Text,
		"end_time":            seg.EndTime,
		"language":            seg.Language,
		"speaker":             seg.Speaker,
		"absolute_start_time": seg.AbsoluteStartTime,
		"absolute_end_time":   seg.AbsoluteEndTime,
	}, nil
}

func renderEqual(a, b models.MutableSegment) bool {
	if a.Text != b.Text || roundMs(a.EndTime) != roundMs(b.EndTime) || a.Language != b.Language {
		return false
	}
	if !strPtrEqual(a.Speaker, b.Speaker) {
		return false
	}
	if !strPtrEqual(a.AbsoluteStartTime, b.AbsoluteStartTime) || !strPtrEqual(a.AbsoluteEndTime, b.AbsoluteEndTime) {
		return false
	}
	return true
}

// roundMs rounds a seconds value to millisecond precision so end_time
// comparisons aren't tripped up by float round-trip noise through JSON/Redis.
func roundMs(seconds float64) int64 {
	return int64(math.Round(seconds * 1000))
}

func strPtrEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
