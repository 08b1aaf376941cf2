// Package transcript correlates STT hypotheses with call interactions and
// produces the masked variants of caller utterances.
//
// Finals are the unit of conversational progress: each final bumps the
// interaction index that transcripts, LLM requests, and TTS playback are keyed
// by. Partials only drive UI state, and a partial that arrives after the final
// it belongs to is stale and dropped so downstream consumers never observe
// text moving backwards.
package transcript

import (
	"strings"
	"sync"
	"time"
)

// supersedeWindow is how long after a final a matching partial is still
// considered a late duplicate of that final rather than the start of a new
// utterance.
const supersedeWindow = 1500 * time.Millisecond

// Default OTP-shaped code bounds used when no expectation narrows them.
const (
	DefaultCodeMin = 4
	DefaultCodeMax = 8
)

// maskToken replaces a digit run in the LLM and log copies of an utterance.
const maskToken = "******"

// Hypothesis is one observed STT result tagged with its interaction index.
type Hypothesis struct {
	// Text is the raw transcript text.
	Text string

	// Interaction is the 0-based index of the conversational turn this
	// hypothesis belongs to.
	Interaction int

	// Final reports whether this is an authoritative result.
	Final bool
}

// Correlator tracks interaction progression for one call. Safe for concurrent
// use, though in practice a single session loop feeds it.
type Correlator struct {
	mu          sync.Mutex
	interaction int
	lastFinal   string
	lastFinalAt time.Time
	now         func() time.Time
}

// NewCorrelator creates a Correlator starting at interaction 0.
func NewCorrelator() *Correlator {
	return &Correlator{now: time.Now}
}

// ObserveFinal records an authoritative utterance and returns its hypothesis.
// The interaction index advances after each final.
func (c *Correlator) ObserveFinal(text string) Hypothesis {
	c.mu.Lock()
	defer c.mu.Unlock()

	h := Hypothesis{Text: text, Interaction: c.interaction, Final: true}
	c.interaction++
	c.lastFinal = strings.ToLower(strings.TrimSpace(text))
	c.lastFinalAt = c.now()
	return h
}

// ObservePartial records an interim hypothesis. ok is false when the partial
// is stale — it arrived shortly after a final that already contains it, which
// happens when the STT stream flushes buffered interim results after the
// authoritative one.
func (c *Correlator) ObservePartial(text string) (Hypothesis, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	trimmed := strings.ToLower(strings.TrimSpace(text))
	if trimmed == "" {
		return Hypothesis{}, false
	}
	if c.lastFinal != "" &&
		c.now().Sub(c.lastFinalAt) < supersedeWindow &&
		strings.HasPrefix(c.lastFinal, trimmed) {
		return Hypothesis{}, false
	}
	return Hypothesis{Text: text, Interaction: c.interaction}, true
}

// Interaction returns the index the next final will be assigned.
func (c *Correlator) Interaction() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.interaction
}

// digitWords maps spoken digit words to their numeral.
var digitWords = map[string]byte{
	"zero": '0', "oh": '0',
	"one": '1', "two": '2', "three": '3', "four": '4',
	"five": '5', "six": '6', "seven": '7', "eight": '8', "nine": '9',
}

// run is a detected digit sequence inside an utterance: the covered byte span
// and the digits it spells.
type run struct {
	start, end int
	digits     string
}

// findRuns scans text for sequences of digit characters and spoken digit
// words, merging adjacent tokens (separated by spaces, dashes, or commas)
// into a single run. "press 4 8 2 9", "four eight two nine", and "4829" all
// yield the digits "4829".
func findRuns(text string) []run {
	var runs []run
	var cur *run

	i := 0
	for i < len(text) {
		if isSep(text[i]) {
			i++
			continue
		}
		start := i
		for i < len(text) && !isSep(text[i]) {
			i++
		}
		token := text[start:i]

		digits, ok := tokenDigits(token)
		if !ok {
			cur = nil
			continue
		}
		if cur != nil {
			cur.end = i
			cur.digits += digits
		} else {
			runs = append(runs, run{start: start, end: i, digits: digits})
			cur = &runs[len(runs)-1]
		}
	}
	return runs
}

// isSep reports whether b separates tokens without breaking a digit run.
func isSep(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == ',' || b == '-'
}

// tokenDigits converts one token to the digits it spells. A token of digit
// characters maps to itself; a spoken digit word maps to one numeral; a
// trailing period or punctuation on an otherwise-matching token is tolerated.
func tokenDigits(token string) (string, bool) {
	token = strings.TrimRight(token, ".!?;:")
	if token == "" {
		return "", false
	}
	allDigits := true
	for i := 0; i < len(token); i++ {
		if token[i] < '0' || token[i] > '9' {
			allDigits = false
			break
		}
	}
	if allDigits {
		return token, true
	}
	if d, ok := digitWords[strings.ToLower(token)]; ok {
		return string(d), true
	}
	return "", false
}

// MaskForLLM returns a copy of text with every digit run whose length lies in
// [minLen, maxLen] replaced by a mask token. Spoken-word digit sequences are
// masked the same way, so "my code is four eight two nine one seven" leaks
// nothing to the model.
func MaskForLLM(text string, minLen, maxLen int) string {
	if minLen <= 0 {
		minLen = DefaultCodeMin
	}
	if maxLen < minLen {
		maxLen = DefaultCodeMax
	}
	return maskRuns(text, func(r run) bool {
		return len(r.digits) >= minLen && len(r.digits) <= maxLen
	})
}

// MaskForLogs returns a copy of text with every digit run of four or more
// digits masked, regardless of any active expectation. Applied to all
// persisted and console-previewed utterances.
func MaskForLogs(text string) string {
	return maskRuns(text, func(r run) bool {
		return len(r.digits) >= 4
	})
}

// maskRuns replaces every run matching pred with the mask token.
func maskRuns(text string, pred func(run) bool) string {
	runs := findRuns(text)
	if len(runs) == 0 {
		return text
	}
	var b strings.Builder
	b.Grow(len(text))
	prev := 0
	for _, r := range runs {
		if !pred(r) {
			continue
		}
		b.WriteString(text[prev:r.start])
		b.WriteString(maskToken)
		prev = r.end
	}
	b.WriteString(text[prev:])
	return b.String()
}

// ExtractCodes returns the digit strings of every run in text whose length
// lies within [minLen, maxLen]. Zero or negative bounds fall back to the
// 4–8 digit OTP default.
func ExtractCodes(text string, minLen, maxLen int) []string {
	if minLen <= 0 {
		minLen = DefaultCodeMin
	}
	if maxLen < minLen {
		maxLen = DefaultCodeMax
	}
	var codes []string
	for _, r := range findRuns(text) {
		if len(r.digits) >= minLen && len(r.digits) <= maxLen {
			codes = append(codes, r.digits)
		}
	}
	return codes
}

// ContainsCode reports whether text carries at least one OTP-shaped digit
// sequence within the given bounds.
func ContainsCode(text string, minLen, maxLen int) bool {
	return len(ExtractCodes(text, minLen, maxLen)) > 0
}
