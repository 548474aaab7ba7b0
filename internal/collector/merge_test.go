package collector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strp(s string) *string { return &s }

func TestDedupeAcrossSources_DropsOverlappingDuplicateText(t *testing.T) {
	in := []mergedSegment{
		{StartTime: 0, EndTime: 2, Text: "hello everyone"},
		{StartTime: 1, EndTime: 3, Text: "hello everyone"},
	}
	out := dedupeAcrossSources(in)
	require.Len(t, out, 1)
	assert.Equal(t, 0.0, out[0].StartTime)
}

func TestDedupeAcrossSources_KeepsDistinctText(t *testing.T) {
	in := []mergedSegment{
		{StartTime: 0, EndTime: 2, Text: "hello everyone"},
		{StartTime: 2, EndTime: 4, Text: "good morning"},
	}
	out := dedupeAcrossSources(in)
	assert.Len(t, out, 2)
}

func TestDedupeAcrossSources_CloseStartTimesWithoutOverlapDropped(t *testing.T) {
	in := []mergedSegment{
		{StartTime: 0, EndTime: 1, Text: "same text here"},
		{StartTime: 1.5, EndTime: 2.5, Text: "same text here"},
	}
	out := dedupeAcrossSources(in)
	// starts 1.5s apart (< 2s threshold) counts as a duplicate even without
	// temporal overlap.
	require.Len(t, out, 1)
}

func TestDedupeAcrossSources_SubstringContainmentDeduped(t *testing.T) {
	in := []mergedSegment{
		{StartTime: 0, EndTime: 2, Text: "hello every"},
		{StartTime: 0.5, EndTime: 2.5, Text: "hello everyone"},
	}
	out := dedupeAcrossSources(in)
	require.Len(t, out, 1)
	// the longer, more complete text wins over the truncated partial it contains.
	assert.Equal(t, "hello everyone", out[0].Text)
}

func TestDedupeAcrossSources_PrefersAbsoluteTimesWhenPresent(t *testing.T) {
	in := []mergedSegment{
		{StartTime: 100, EndTime: 102, Text: "same text", AbsoluteStartTime: "2026-01-01T00:00:00Z", AbsoluteEndTime: "2026-01-01T00:00:02Z"},
		{StartTime: 0, EndTime: 2, Text: "same text", AbsoluteStartTime: "2026-01-01T00:00:01.5Z", AbsoluteEndTime: "2026-01-01T00:00:03.5Z"},
	}
	out := dedupeAcrossSources(in)
	// relative times are wildly different (100 vs 0) but the absolute times
	// overlap, so absolute time must be what decides it.
	require.Len(t, out, 1)
}

func TestMergeSameSpeakerRuns_MergesWithinGapAndSpan(t *testing.T) {
	speaker := strp("alice")
	in := []mergedSegment{
		{StartTime: 0, EndTime: 10, Text: "first part", Speaker: speaker},
		{StartTime: 12, EndTime: 20, Text: "second part", Speaker: speaker},
	}
	out := mergeSameSpeakerRuns(in)
	require.Len(t, out, 1)
	assert.Equal(t, "first part second part", out[0].Text)
	assert.Equal(t, 20.0, out[0].EndTime)
}

func TestMergeSameSpeakerRuns_DoesNotMergeDifferentSpeakers(t *testing.T) {
	alice, bob := strp("alice"), strp("bob")
	in := []mergedSegment{
		{StartTime: 0, EndTime: 10, Text: "first part", Speaker: alice},
		{StartTime: 11, EndTime: 20, Text: "second part", Speaker: bob},
	}
	out := mergeSameSpeakerRuns(in)
	require.Len(t, out, 2)
}

func TestMergeSameSpeakerRuns_DoesNotMergeBeyondSpanCap(t *testing.T) {
	speaker := strp("alice")
	in := []mergedSegment{
		{StartTime: 0, EndTime: 58, Text: "long first part", Speaker: speaker},
		{StartTime: 59, EndTime: 65, Text: "tail part", Speaker: speaker},
	}
	out := mergeSameSpeakerRuns(in)
	// total span would be 65s, over the 60s cap, so the groups stay separate.
	require.Len(t, out, 2)
}
