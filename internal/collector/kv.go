// Package collector implements the Transcription Collector: it consumes the
// segment and speaker-event streams written by Recognition Workers, merges
// and deduplicates live state in Redis, flushes immutable segments to the
// Durable Store, and publishes change-only updates over per-meeting pub/sub
// channels, built on internal/streaming's consumer-group/pub-sub helpers.
package collector

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/meetbot/meetbot/internal/circuitbreaker"
)

func segmentsHashKey(meetingID string) string {
	return fmt.Sprintf("meeting:%s:segments", meetingID)
}

func sessionStartKey(uid string) string {
	return fmt.Sprintf("meeting_session:%s:start", uid)
}

func speakerEventsKey(uid string) string {
	return fmt.Sprintf("speaker_events:%s", uid)
}

const activeMeetingsSet = "active_meetings"

// segmentFieldKey renders a start_time as the field name used within the
// per-meeting segment hash, stable across float formatting.
func segmentFieldKey(startTime float64) string {
	return strconv.FormatFloat(startTime, 'f', 3, 64)
}

// cacheSessionStart caches a session's absolute start_timestamp in KV with a
// TTL.
func cacheSessionStart(ctx context.Context, kv *circuitbreaker.RedisWrapper, uid string, start time.Time, ttl time.Duration) error {
	return kv.Set(ctx, sessionStartKey(uid), start.Format(time.RFC3339Nano), ttl).Err()
}

// lookupSessionStart reads a session's start timestamp from KV, returning
// ok=false on a cache miss so the caller can fall back to the database.
func lookupSessionStart(ctx context.Context, kv *circuitbreaker.RedisWrapper, uid string) (time.Time, bool, error) {
	s, err := kv.Get(ctx, sessionStartKey(uid)).Result()
	if err == redis.Nil {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse cached session start: %w", err)
	}
	return t, true, nil
}

// clearSession removes a session's speaker-events set and start cache, per
// the session_end handler. A single multi-key DEL takes the place of the
// two-command pipeline since RedisWrapper doesn't expose Pipelined.
func clearSession(ctx context.Context, kv *circuitbreaker.RedisWrapper, uid string) error {
	return kv.Del(ctx, speakerEventsKey(uid), sessionStartKey(uid)).Err()
}
