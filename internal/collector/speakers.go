package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/go-redis/redis/v8"

	"github.com/meetbot/meetbot/internal/models"
)

// mappingResult is the outcome of mapping a segment to a speaker.
type mappingResult struct {
	Status models.SpeakerMappingStatus
	Name   *string
	ID     string
}

type activityInterval struct {
	key   string
	name  string
	id    string
	start int64
	end   int64
}

// mapSpeaker implements speaker-to-segment mapping: fetch
// events within [s_ms-window, e_ms+window] from the session's speaker-events
// sorted set, pair SPEAKER_START with the earliest subsequent SPEAKER_END per
// participant, and pick the interval with the largest overlap against
// [s_ms, e_ms] (ties broken by latest start).
func mapSpeaker(ctx context.Context, rdb *redis.Client, sessionUID string, sMs, eMs int64, windowMs int64) (mappingResult, error) {
	events, err := fetchSpeakerEvents(ctx, rdb, sessionUID, sMs-windowMs, eMs+windowMs)
	if err != nil {
		return mappingResult{Status: models.SpeakerErrorInMapping}, err
	}
	if len(events) == 0 {
		return mappingResult{Status: models.SpeakerNoEvents}, nil
	}

	intervals := pairIntervals(events)
	// events exist in the fetched window but none paired into an interval
	// overlapping [sMs, eMs] is a distinct outcome from the window holding no
	// events, per the original's STATUS_UNKNOWN vs STATUS_NO_SPEAKER_EVENTS split.

	type overlap struct {
		interval activityInterval
		amount   int64
	}
	var active []overlap
	for _, iv := range intervals {
		start := max64(iv.start, sMs)
		end := min64(iv.end, eMs)
		if start < end {
			active = append(active, overlap{interval: iv, amount: end - start})
		}
	}

	switch len(active) {
	case 0:
		return mappingResult{Status: models.SpeakerUnknown}, nil
	case 1:
		name := active[0].interval.name
		return mappingResult{Status: models.SpeakerMapped, Name: &name, ID: active[0].interval.id}, nil
	default:
		sort.SliceStable(active, func(i, j int) bool {
			if active[i].amount != active[j].amount {
				return active[i].amount > active[j].amount
			}
			return active[i].interval.start > active[j].interval.start
		})
		name := active[0].interval.name
		return mappingResult{Status: models.SpeakerMultipleConcurrent, Name: &name, ID: active[0].interval.id}, nil
	}
}

// pairIntervals pairs each SPEAKER_START with the earliest subsequent
// SPEAKER_END for the same participant key, in chronological order. An
// unterminated START (no matching END in the fetched window) produces no
// interval, since an unterminated speaker cannot be distinguished from one
// who is still speaking past the fetched window.
func pairIntervals(events []models.SpeakerEvent) []activityInterval {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].RelativeClientTimestampMs < events[j].RelativeClientTimestampMs
	})

	openStarts := map[string]models.SpeakerEvent{}
	var intervals []activityInterval
	for _, ev := range events {
		key := ev.ParticipantKey()
		switch ev.EventType {
		case models.SpeakerStart:
			openStarts[key] = ev
		case models.SpeakerEnd:
			start, ok := openStarts[key]
			if !ok {
				continue
			}
			delete(openStarts, key)
			intervals = append(intervals, activityInterval{
				key:   key,
				name:  start.ParticipantName,
				id:    start.ParticipantID,
				start: start.RelativeClientTimestampMs,
				end:   ev.RelativeClientTimestampMs,
			})
		}
	}
	return intervals
}

// fetchSpeakerEvents reads a session's speaker-events sorted set filtered to
// a score range.
func fetchSpeakerEvents(ctx context.Context, rdb *redis.Client, sessionUID string, lo, hi int64) ([]models.SpeakerEvent, error) {
	members, err := rdb.ZRangeByScore(ctx, speakerEventsKey(sessionUID), &redis.ZRangeBy{
		Min: fmt.Sprintf("%d", lo),
		Max: fmt.Sprintf("%d", hi),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("zrangebyscore speaker events: %w", err)
	}
	out := make([]models.SpeakerEvent, 0, len(members))
	for _, m := range members {
		var ev models.SpeakerEvent
		if err := json.Unmarshal([]byte(m), &ev); err != nil {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
