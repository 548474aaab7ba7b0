package collector

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meetbot/meetbot/internal/models"
)

func seedSpeakerEvent(t *testing.T, client *redis.Client, sessionUID string, ev models.SpeakerEvent) {
	t.Helper()
	raw, err := json.Marshal(ev)
	require.NoError(t, err)
	err = client.ZAdd(context.Background(), speakerEventsKey(sessionUID), &redis.Z{
		Score:  float64(ev.RelativeClientTimestampMs),
		Member: raw,
	}).Err()
	require.NoError(t, err)
}

func TestMapSpeaker_NoEvents(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	defer s.Close()
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	result, err := mapSpeaker(context.Background(), client, "sess-1", 1000, 2000, 500)
	require.NoError(t, err)
	assert.Equal(t, models.SpeakerNoEvents, result.Status)
}

// TestMapSpeaker_EventsExistButNoneOverlapIsUnknown reproduces the
// original's STATUS_UNKNOWN case: speaker events exist in the fetched
// window, but none of the paired intervals overlap the segment itself,
// which is a distinct outcome from the window holding no speaker events.
func TestMapSpeaker_EventsExistButNoneOverlapIsUnknown(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	defer s.Close()
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	uid := "sess-1"
	seedSpeakerEvent(t, client, uid, models.SpeakerEvent{
		EventType: models.SpeakerStart, ParticipantName: "Alice", ParticipantID: "p1",
		RelativeClientTimestampMs: 9960,
	})
	seedSpeakerEvent(t, client, uid, models.SpeakerEvent{
		EventType: models.SpeakerEnd, ParticipantName: "Alice", ParticipantID: "p1",
		RelativeClientTimestampMs: 9990,
	})

	result, err := mapSpeaker(context.Background(), client, uid, 10000, 11000, 50)
	require.NoError(t, err)
	assert.Equal(t, models.SpeakerUnknown, result.Status)
	assert.Nil(t, result.Name)
}

func TestMapSpeaker_SingleActiveSpeaker(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	defer s.Close()
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	uid := "sess-1"
	seedSpeakerEvent(t, client, uid, models.SpeakerEvent{
		EventType: models.SpeakerStart, ParticipantName: "Alice", ParticipantID: "p1",
		RelativeClientTimestampMs: 900,
	})
	seedSpeakerEvent(t, client, uid, models.SpeakerEvent{
		EventType: models.SpeakerEnd, ParticipantName: "Alice", ParticipantID: "p1",
		RelativeClientTimestampMs: 2100,
	})

	result, err := mapSpeaker(context.Background(), client, uid, 1000, 2000, 500)
	require.NoError(t, err)
	assert.Equal(t, models.SpeakerMapped, result.Status)
	require.NotNil(t, result.Name)
	assert.Equal(t, "Alice", *result.Name)
	assert.Equal(t, "p1", result.ID)
}

func TestMapSpeaker_MultipleConcurrentPicksLargestOverlap(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	defer s.Close()
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	uid := "sess-1"
	// Alice is active for almost the whole window, Bob only briefly.
	seedSpeakerEvent(t, client, uid, models.SpeakerEvent{
		EventType: models.SpeakerStart, ParticipantName: "Alice", ParticipantID: "p1",
		RelativeClientTimestampMs: 900,
	})
	seedSpeakerEvent(t, client, uid, models.SpeakerEvent{
		EventType: models.SpeakerEnd, ParticipantName: "Alice", ParticipantID: "p1",
		RelativeClientTimestampMs: 2100,
	})
	seedSpeakerEvent(t, client, uid, models.SpeakerEvent{
		EventType: models.SpeakerStart, ParticipantName: "Bob", ParticipantID: "p2",
		RelativeClientTimestampMs: 1950,
	})
	seedSpeakerEvent(t, client, uid, models.SpeakerEvent{
		EventType: models.SpeakerEnd, ParticipantName: "Bob", ParticipantID: "p2",
		RelativeClientTimestampMs: 2050,
	})

	result, err := mapSpeaker(context.Background(), client, uid, 1000, 2000, 500)
	require.NoError(t, err)
	assert.Equal(t, models.SpeakerMultipleConcurrent, result.Status)
	require.NotNil(t, result.Name)
	assert.Equal(t, "Alice", *result.Name)
}

// TestMapSpeaker_LargerOverlapWinsOnFullyConcurrentSpeakers reproduces a
// segment overlapped by two speakers at once: Alice overlaps 200ms, Bob
// overlaps 300ms, so Bob wins despite starting later.
func TestMapSpeaker_LargerOverlapWinsOnFullyConcurrentSpeakers(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	defer s.Close()
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	uid := "sess-1"
	seedSpeakerEvent(t, client, uid, models.SpeakerEvent{
		EventType: models.SpeakerStart, ParticipantName: "Alice", ParticipantID: "p1",
		RelativeClientTimestampMs: 100,
	})
	seedSpeakerEvent(t, client, uid, models.SpeakerEvent{
		EventType: models.SpeakerEnd, ParticipantName: "Alice", ParticipantID: "p1",
		RelativeClientTimestampMs: 800,
	})
	seedSpeakerEvent(t, client, uid, models.SpeakerEvent{
		EventType: models.SpeakerStart, ParticipantName: "Bob", ParticipantID: "p2",
		RelativeClientTimestampMs: 500,
	})
	seedSpeakerEvent(t, client, uid, models.SpeakerEvent{
		EventType: models.SpeakerEnd, ParticipantName: "Bob", ParticipantID: "p2",
		RelativeClientTimestampMs: 1500,
	})

	result, err := mapSpeaker(context.Background(), client, uid, 600, 900, 1000)
	require.NoError(t, err)
	assert.Equal(t, models.SpeakerMultipleConcurrent, result.Status)
	require.NotNil(t, result.Name)
	assert.Equal(t, "Bob", *result.Name)
}

func TestPairIntervals_UnterminatedStartIsDropped(t *testing.T) {
	events := []models.SpeakerEvent{
		{EventType: models.SpeakerStart, ParticipantName: "Alice", ParticipantID: "p1", RelativeClientTimestampMs: 100},
	}
	intervals := pairIntervals(events)
	assert.Empty(t, intervals)
}

func TestPairIntervals_FallsBackToNameWhenNoID(t *testing.T) {
	events := []models.SpeakerEvent{
		{EventType: models.SpeakerStart, ParticipantName: "Alice", RelativeClientTimestampMs: 100},
		{EventType: models.SpeakerEnd, ParticipantName: "Alice", RelativeClientTimestampMs: 200},
	}
	intervals := pairIntervals(events)
	require.Len(t, intervals, 1)
	assert.Equal(t, "Alice", intervals[0].key)
	assert.Equal(t, int64(100), intervals[0].start)
	assert.Equal(t, int64(200), intervals[0].end)
}
