package collector

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/meetbot/meetbot/internal/circuitbreaker"
	"github.com/meetbot/meetbot/internal/db"
	"github.com/meetbot/meetbot/internal/metrics"
	"github.com/meetbot/meetbot/internal/models"
)

// RunFlusher runs the durable-flush background loop: every
// BackgroundTaskInterval, walk active_meetings and commit any segment whose
// last update is older than ImmutabilityThreshold.
func (s *Service) RunFlusher(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.BackgroundTaskInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.flushOnce(ctx)
		}
	}
}

func (s *Service) flushOnce(ctx context.Context) {
	meetingIDs, err := s.redis.SMembers(ctx, activeMeetingsSet).Result()
	if err != nil {
		s.logger.Warn("flush: list active meetings failed", zap.Error(err))
		return
	}

	for _, meetingID := range meetingIDs {
		s.flushMeeting(ctx, meetingID)
	}
}

func (s *Service) flushMeeting(ctx context.Context, meetingID string) {
	hashKey := segmentsHashKey(meetingID)
	fields, err := s.redis.HGetAll(ctx, hashKey).Result()
	if err != nil {
		s.logger.Warn("flush: hgetall failed", zap.String("meeting_id", meetingID), zap.Error(err))
		return
	}
	if len(fields) == 0 {
		s.redis.SRem(ctx, activeMeetingsSet, meetingID)
		s.dedup.clear(meetingID)
		return
	}

	type candidate struct {
		field string
		start float64
		seg   models.MutableSegment
	}
	var candidates []candidate
	for field, raw := range fields {
		start, perr := strconv.ParseFloat(field, 64)
		if perr != nil {
			continue
		}
		var seg models.MutableSegment
		if err := json.Unmarshal([]byte(raw), &seg); err != nil {
			continue
		}
		candidates = append(candidates, candidate{field: field, start: start, seg: seg})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].start < candidates[j].start })

	meetingUUID, err := uuid.Parse(meetingID)
	if err != nil {
		s.logger.Warn("flush: bad meeting id in active_meetings", zap.String("meeting_id", meetingID))
		return
	}

	now := time.Now().UTC()
	var toDelete []string
	var rows []models.TranscriptSegment

	for _, c := range candidates {
		if now.Sub(c.seg.UpdatedAt) < s.cfg.ImmutabilityThreshold {
			continue
		}
		toDelete = append(toDelete, c.field)

		seg := c.seg
		if seg.SpeakerMappingStatus == string(models.SpeakerUnknown) ||
			seg.SpeakerMappingStatus == string(models.SpeakerNoEvents) ||
			seg.SpeakerMappingStatus == string(models.SpeakerErrorInMapping) {
			if mapping, merr := mapSpeaker(ctx, s.redis, seg.SessionUID, int64(c.start*1000), int64(seg.EndTime*1000), s.cfg.SpeakerWindowMs); merr == nil && mapping.Status == models.SpeakerMapped {
				seg.Speaker = mapping.Name
				seg.SpeakerMappingStatus = string(mapping.Status)
				if reencoded, jerr := json.Marshal(seg); jerr == nil {
					s.redis.HSet(ctx, hashKey, c.field, reencoded)
				}
			}
		}

		text, ok := passesContentFilter(seg.Text, FilterConfig{
			MinCharacterLength: s.cfg.MinCharacterLength,
			MinRealWords:       s.cfg.MinRealWords,
		})
		if !ok {
			metrics.SegmentsFiltered.WithLabelValues("content").Inc()
			continue
		}
		if !s.dedup.admit(meetingID, text, c.start, seg.EndTime) {
			metrics.SegmentsFiltered.WithLabelValues("dedup").Inc()
			continue
		}

		rows = append(rows, models.TranscriptSegment{
			ID:         uuid.New(),
			MeetingID:  meetingUUID,
			SessionUID: seg.SessionUID,
			StartTime:  c.start,
			EndTime:    seg.EndTime,
			Text:       text,
			Language:   seg.Language,
			Speaker:    seg.Speaker,
		})
	}

	if len(toDelete) == 0 {
		return
	}

	if len(rows) > 0 {
		err := s.db.WithTransactionCB(ctx, func(tx *circuitbreaker.TxWrapper) error {
			for i := range rows {
				if err := db.UpsertSegmentTx(ctx, tx, &rows[i]); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			s.logger.Warn("flush: commit failed, retrying next tick", zap.String("meeting_id", meetingID), zap.Error(err))
			return
		}
		metrics.SegmentsFlushed.Add(float64(len(rows)))
	}

	if err := s.redis.HDel(ctx, hashKey, toDelete...).Err(); err != nil {
		s.logger.Warn("flush: hdel failed", zap.String("meeting_id", meetingID), zap.Error(err))
	}
}
