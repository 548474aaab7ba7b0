package collector

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPassesContentFilter(t *testing.T) {
	cfg := FilterConfig{MinCharacterLength: 3, MinRealWords: 1}

	cases := []struct {
		name string
		text string
		want bool
	}{
		{"blank audio marker", "[BLANK_AUDIO]", false},
		{"silence marker", "silence", false},
		{"angle bracket noise", "<unk>", false},
		{"bare punctuation", "><><", false},
		{"too short", "ok", false},
		{"whitespace only", "   ", false},
		{"only stopwords", "the a an", false},
		{"real sentence", "let's discuss the roadmap", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, ok := passesContentFilter(tc.text, cfg)
			assert.Equal(t, tc.want, ok)
		})
	}
}

func TestRealWordCount(t *testing.T) {
	assert.Equal(t, 0, realWordCount("the a an"))
	assert.Equal(t, 3, realWordCount("let's discuss the roadmap"))
	assert.Equal(t, 0, realWordCount("<unk> [noise]"))
}

func TestDedupCache_SubRangeDroppedBothDirections(t *testing.T) {
	c := newDedupCache()

	assert.True(t, c.admit("m1", "hello there", 1.0, 3.0))
	// identical text, sub-range of the existing entry: dropped.
	assert.False(t, c.admit("m1", "hello there", 1.5, 2.5))

	c2 := newDedupCache()
	assert.True(t, c2.admit("m1", "hello there", 1.5, 2.5))
	// identical text, new entry is a superset: existing is replaced, new admitted.
	assert.True(t, c2.admit("m1", "hello there", 1.0, 3.0))
}

func TestDedupCache_OverlapDifferingTextShorterDropped(t *testing.T) {
	c := newDedupCache()
	assert.True(t, c.admit("m1", "the quarterly results look strong", 1.0, 5.0))
	// overlapping, different (shorter, contained) text: dropped.
	assert.False(t, c.admit("m1", "results look", 2.0, 3.0))
}

func TestDedupCache_DistinctSegmentsBothAdmitted(t *testing.T) {
	c := newDedupCache()
	assert.True(t, c.admit("m1", "first segment", 0.0, 1.0))
	assert.True(t, c.admit("m1", "second segment", 10.0, 11.0))
}

func TestDedupCache_Clear(t *testing.T) {
	c := newDedupCache()
	assert.True(t, c.admit("m1", "hello there", 1.0, 3.0))
	c.clear("m1")
	assert.True(t, c.admit("m1", "hello there", 1.0, 3.0))
}
