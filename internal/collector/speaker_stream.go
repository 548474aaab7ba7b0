package collector

import (
	"context"
	"encoding/json"

	"github.com/go-redis/redis/v8"

	"github.com/meetbot/meetbot/internal/metrics"
	"github.com/meetbot/meetbot/internal/models"
)

type speakerEventPayload struct {
	UID                       string                  `json:"uid"`
	EventType                 models.SpeakerEventType `json:"event_type"`
	ParticipantName           string                  `json:"participant_name"`
	ParticipantID             string                  `json:"participant_id,omitempty"`
	RelativeClientTimestampMs int64                    `json:"relative_client_timestamp_ms"`
}

// ProcessSpeakerEventMessage stores a raw speaker event as a member of the
// session's speaker_events sorted set, scored by its client timestamp.
// Malformed messages are acked and dropped.
func (s *Service) ProcessSpeakerEventMessage(ctx context.Context, id string, values map[string]interface{}) error {
	raw, _ := values["payload"].(string)
	var p speakerEventPayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil || p.UID == "" {
		metrics.StreamMessagesProcessed.WithLabelValues("speaker_events", "ack_malformed").Inc()
		return nil
	}

	ev := models.SpeakerEvent{
		EventType:                 p.EventType,
		ParticipantName:           p.ParticipantName,
		ParticipantID:             p.ParticipantID,
		UID:                       p.UID,
		RelativeClientTimestampMs: p.RelativeClientTimestampMs,
	}
	encoded, err := json.Marshal(ev)
	if err != nil {
		metrics.StreamMessagesProcessed.WithLabelValues("speaker_events", "ack_malformed").Inc()
		return nil
	}

	key := speakerEventsKey(p.UID)
	if err := s.redis.ZAdd(ctx, key, &redis.Z{Score: float64(p.RelativeClientTimestampMs), Member: string(encoded)}).Err(); err != nil {
		return err
	}
	if err := s.redis.Expire(ctx, key, s.cfg.SpeakerEventTTL).Err(); err != nil {
		return err
	}
	metrics.StreamMessagesProcessed.WithLabelValues("speaker_events", "ok").Inc()
	return nil
}
