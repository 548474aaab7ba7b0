package collector

import (
	"regexp"
	"strings"
	"sync"
)

// nonInformativePatterns matches blank-audio markers and punctuation-only
// noise the underlying recognizer occasionally emits.
var nonInformativePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^\[?\s*(blank[_ ]audio|silence|no[_ ]speech)\s*\]?$`),
	regexp.MustCompile(`^\[[^\]]*\]$`),
	regexp.MustCompile(`^<[^>]*>$`),
	regexp.MustCompile(`^[><]+$`),
	regexp.MustCompile(`^\s*$`),
}

var stopwords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "but": {}, "is": {}, "are": {},
	"was": {}, "were": {}, "be": {}, "been": {}, "to": {}, "of": {}, "in": {}, "on": {},
	"at": {}, "for": {}, "with": {}, "it": {}, "this": {}, "that": {}, "you": {}, "i": {},
}

// FilterConfig carries the Collector's filter-pipeline thresholds.
type FilterConfig struct {
	MinCharacterLength int
	MinRealWords       int
}

// passesContentFilter applies the filter pipeline in stages: trim, minimum
// length, non-informative pattern rejection, and minimum real-word count.
func passesContentFilter(text string, cfg FilterConfig) (string, bool) {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) < cfg.MinCharacterLength {
		return trimmed, false
	}
	for _, p := range nonInformativePatterns {
		if p.MatchString(trimmed) {
			return trimmed, false
		}
	}
	if realWordCount(trimmed) < cfg.MinRealWords {
		return trimmed, false
	}
	return trimmed, true
}

func realWordCount(text string) int {
	n := 0
	for _, tok := range strings.Fields(text) {
		tok = strings.Trim(tok, ".,!?;:\"'")
		if len(tok) < 3 {
			continue
		}
		if strings.HasPrefix(tok, "<") || strings.HasPrefix(tok, "[") {
			continue
		}
		if _, stop := stopwords[strings.ToLower(tok)]; stop {
			continue
		}
		n++
	}
	return n
}

type recentCandidate struct {
	text  string
	start float64
	end   float64
}

// dedupCache tracks recently flushed candidates per meeting to apply
// time/text deduplication across flush ticks.
type dedupCache struct {
	mu      sync.Mutex
	entries map[string][]recentCandidate
}

func newDedupCache() *dedupCache {
	return &dedupCache{entries: map[string][]recentCandidate{}}
}

// clear drops a meeting's cache, called when it leaves active_meetings.
func (c *dedupCache) clear(meetingID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, meetingID)
}

// admit applies the dedup rules to one candidate, returning false if it
// should be dropped as a duplicate of something already cached, and
// updating the cache otherwise.
func (c *dedupCache) admit(meetingID, text string, start, end float64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	existing := c.entries[meetingID]
	kept := existing[:0]
	admit := true

	for _, e := range existing {
		switch {
		case e.text == text && isSubRange(start, end, e.start, e.end):
			// new is a sub-range of an existing identical-text entry: drop new.
			admit = false
			kept = append(kept, e)
		case e.text == text && isSubRange(e.start, e.end, start, end):
			// existing is a sub-range of the new identical-text entry: drop
			// existing, keep new (added below).
		case e.text != text && overlaps(start, end, e.start, e.end) && isSubRange(start, end, e.start, e.end):
			// new is the (temporally contained) shorter of two differing
			// texts: drop new.
			admit = false
			kept = append(kept, e)
		case e.text != text && overlaps(start, end, e.start, e.end) && isSubRange(e.start, e.end, start, end):
			// existing is the shorter, contained one: drop existing.
		default:
			kept = append(kept, e)
		}
	}

	if admit {
		kept = append(kept, recentCandidate{text: text, start: start, end: end})
	}
	c.entries[meetingID] = kept
	return admit
}

func isSubRange(s1, e1, s2, e2 float64) bool {
	return s1 >= s2 && e1 <= e2
}

func overlaps(s1, e1, s2, e2 float64) bool {
	return s1 < e2 && s2 < e1
}
