package collector

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/meetbot/meetbot/internal/models"
)

// mergedSegment is one entry of a transcript read's merged response.
type mergedSegment struct {
	StartTime         float64 `json:"start_time"`
	EndTime           float64 `json:"end_time"`
	Text              string  `json:"text"`
	Language          string  `json:"language,omitempty"`
	Speaker           *string `json:"speaker,omitempty"`
	AbsoluteStartTime string  `json:"absolute_start_time,omitempty"`
	AbsoluteEndTime   string  `json:"absolute_end_time,omitempty"`
	SessionUID        string  `json:"session_uid,omitempty"`
}

// buildMergedTranscript implements the REST transcript read merge:
// union durable segments with the live KV hash, compute absolute times per
// session, sort, dedupe across sources, and merge consecutive same-speaker
// runs.
func (s *Service) buildMergedTranscript(ctx context.Context, meetingID uuid.UUID) ([]mergedSegment, error) {
	sessions, err := s.db.MeetingSessionsForMeeting(ctx, meetingID)
	if err != nil {
		return nil, err
	}
	sessionStart := map[string]time.Time{}
	for _, sess := range sessions {
		sessionStart[sess.SessionUID] = sess.SessionStart
	}

	durable, err := s.db.SegmentsForMeeting(ctx, meetingID)
	if err != nil {
		return nil, err
	}

	var merged []mergedSegment
	for _, seg := range durable {
		ms := mergedSegment{
			StartTime: seg.StartTime, EndTime: seg.EndTime, Text: seg.Text,
			Language: seg.Language, Speaker: seg.Speaker, SessionUID: seg.SessionUID,
		}
		if start, ok := sessionStart[seg.SessionUID]; ok {
			ms.AbsoluteStartTime = start.Add(time.Duration(seg.StartTime * float64(time.Second))).Format(time.RFC3339Nano)
			ms.AbsoluteEndTime = start.Add(time.Duration(seg.EndTime * float64(time.Second))).Format(time.RFC3339Nano)
		} else {
			// No session-start record for this session: approximate absolute
			// times by anchoring the segment's duration to when it was
			// flushed, per spec.md §7's "degrades by approximating absolute
			// times from created_at".
			duration := time.Duration((seg.EndTime - seg.StartTime) * float64(time.Second))
			ms.AbsoluteEndTime = seg.CreatedAt.Format(time.RFC3339Nano)
			ms.AbsoluteStartTime = seg.CreatedAt.Add(-duration).Format(time.RFC3339Nano)
		}
		merged = append(merged, ms)
	}

	fields, err := s.redis.HGetAll(ctx, segmentsHashKey(meetingID.String())).Result()
	if err == nil {
		for field, raw := range fields {
			start, perr := strconv.ParseFloat(field, 64)
			if perr != nil {
				continue
			}
			var seg models.MutableSegment
			if jerr := json.Unmarshal([]byte(raw), &seg); jerr != nil {
				continue
			}
			ms := mergedSegment{
				StartTime: start, EndTime: seg.EndTime, Text: seg.Text,
				Language: seg.Language, Speaker: seg.Speaker, SessionUID: seg.SessionUID,
			}
			if seg.AbsoluteStartTime != nil {
				ms.AbsoluteStartTime = *seg.AbsoluteStartTime
			}
			if seg.AbsoluteEndTime != nil {
				ms.AbsoluteEndTime = *seg.AbsoluteEndTime
			}
			if ms.AbsoluteStartTime == "" || ms.AbsoluteEndTime == "" {
				// Same fallback as the durable branch above, anchored to the
				// last time this live segment was updated instead of a flush
				// timestamp since mutable segments have no created_at.
				duration := time.Duration((seg.EndTime - start) * float64(time.Second))
				ms.AbsoluteEndTime = seg.UpdatedAt.Format(time.RFC3339Nano)
				ms.AbsoluteStartTime = seg.UpdatedAt.Add(-duration).Format(time.RFC3339Nano)
			}
			merged = append(merged, ms)
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].AbsoluteStartTime != merged[j].AbsoluteStartTime {
			return merged[i].AbsoluteStartTime < merged[j].AbsoluteStartTime
		}
		return merged[i].StartTime < merged[j].StartTime
	})

	deduped := dedupeAcrossSources(merged)
	return mergeSameSpeakerRuns(deduped), nil
}

// dedupeAcrossSources collapses a duplicate run from the durable store and
// the live KV hash overlapping near the flush boundary into one entry,
// grounded on the original's merge-then-dedupe pass: a segment duplicates
// the one immediately before it in sorted order if their texts are equal or
// one contains the other AND they're close enough in time to plausibly be
// the same utterance recorded twice, in which case the longer/more complete
// text wins.
func dedupeAcrossSources(in []mergedSegment) []mergedSegment {
	var out []mergedSegment
	for _, cur := range in {
		if len(out) == 0 {
			out = append(out, cur)
			continue
		}
		last := out[len(out)-1]

		curText := strings.ToLower(strings.TrimSpace(cur.Text))
		lastText := strings.ToLower(strings.TrimSpace(last.Text))
		sameText := curText == lastText
		textOverlap := curText != "" && lastText != "" &&
			(strings.Contains(lastText, curText) || strings.Contains(curText, lastText))

		timeOverlaps, closeInTime := dedupeTimingMatch(cur, last)

		if (sameText || textOverlap) && (timeOverlaps || closeInTime) {
			if len(curText) > len(lastText) {
				out[len(out)-1] = cur
			}
			continue
		}
		out = append(out, cur)
	}
	return out
}

// dedupeTimingMatch reports whether cur and last overlap, or start within 2s
// of each other, preferring absolute times (accurate across sessions) and
// falling back to the segments' relative times when either lacks one.
func dedupeTimingMatch(cur, last mergedSegment) (timeOverlaps, closeInTime bool) {
	curStart, curOK1 := parseAbsTime(cur.AbsoluteStartTime)
	curEnd, curOK2 := parseAbsTime(cur.AbsoluteEndTime)
	lastStart, lastOK1 := parseAbsTime(last.AbsoluteStartTime)
	lastEnd, lastOK2 := parseAbsTime(last.AbsoluteEndTime)

	if curOK1 && curOK2 && lastOK1 && lastOK2 {
		timeOverlaps = curStart.Before(lastEnd) && curEnd.After(lastStart)
		diff := curStart.Sub(lastStart)
		if diff < 0 {
			diff = -diff
		}
		closeInTime = diff < 2*time.Second
		return
	}

	timeOverlaps = overlaps(cur.StartTime, cur.EndTime, last.StartTime, last.EndTime)
	closeInTime = absFloat(cur.StartTime-last.StartTime) < 2.0
	return
}

func parseAbsTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func absFloat(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

// mergeSameSpeakerRuns merges consecutive entries from the same speaker
// whose gap is under 5s, capping each merged group's total span at 60s.
func mergeSameSpeakerRuns(in []mergedSegment) []mergedSegment {
	if len(in) == 0 {
		return in
	}
	var out []mergedSegment
	cur := in[0]
	for _, next := range in[1:] {
		sameSpeaker := strPtrEqual(cur.Speaker, next.Speaker)
		gap := next.StartTime - cur.EndTime
		within60 := next.EndTime-cur.StartTime <= 60.0
		if sameSpeaker && gap >= 0 && gap < 5.0 && within60 {
			cur.EndTime = next.EndTime
			cur.Text = cur.Text + " " + next.Text
			cur.AbsoluteEndTime = next.AbsoluteEndTime
			continue
		}
		out = append(out, cur)
		cur = next
	}
	out = append(out, cur)
	return out
}
