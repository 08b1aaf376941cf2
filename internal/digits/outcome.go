package digits

import (
	"strings"

	"github.com/calloway-ai/switchboard/internal/profile"
)

const (
	// bufferCap bounds the collected buffer against unbounded growth.
	bufferCap = 50

	// acceptConfidence is the minimum confidence an in-range, valid buffer
	// needs to finalize.
	acceptConfidence = 0.45

	// defaultASRConfidence substitutes for a missing vendor confidence.
	defaultASRConfidence = 0.55
)

// cleanDigits keeps only the characters 0–9.
func cleanDigits(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] >= '0' && s[i] <= '9' {
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

// classify appends a digit batch to the expectation's buffer and produces a
// Collection. minGapMs is the configured minimum inter-key gap. The caller
// holds the per-call lock.
func classify(exp *Expectation, digits string, meta Meta, minGapMs int) Collection {
	clean := cleanDigits(digits)
	exp.Buffer += clean
	if len(exp.Buffer) > bufferCap {
		exp.Buffer = exp.Buffer[:bufferCap]
	}

	prof, _ := profile.Lookup(exp.Profile)
	exp.LastMasked = profile.MaskDigits(exp.Buffer, prof.Mask)

	reject := func(reason string, countRetry bool) Collection {
		buffered := exp.Buffer
		conf, signals := confidence(exp, buffered, meta, reason)
		exp.History = append(exp.History, buffered)
		exp.Buffer = ""
		exp.Attempts++
		if countRetry {
			exp.Retries++
		}
		c := Collection{
			Reason:       reason,
			Digits:       buffered,
			Length:       len(buffered),
			Masked:       profile.MaskDigits(buffered, prof.Mask),
			Retries:      exp.Retries,
			AttemptCount: exp.Attempts,
		}
		c.Confidence, c.ConfidenceSignals = conf, signals
		if exp.Retries > exp.MaxRetries {
			c.Fallback = true
		}
		return c
	}

	// A single key arriving faster than the minimum gap is a pocket-dial or
	// noise artifact, not an entry.
	if meta.Channel == ChannelDTMF && meta.GapMs > 0 && meta.GapMs < minGapMs && len(clean) == 1 && len(exp.Buffer) == 1 {
		return reject(ReasonTooFast, true)
	}

	if len(exp.Buffer) > exp.MaxDigits {
		return reject(ReasonTooLong, true)
	}

	if len(exp.Buffer) < exp.MinDigits {
		// Incomplete over DTMF is a partial entry in progress, not a failed
		// attempt; over spoken or SMS channels the batch was the whole attempt.
		countRetry := meta.Channel != ChannelDTMF
		buffered := exp.Buffer
		if meta.Channel == ChannelDTMF {
			// Keep the partial buffer so further keys extend it.
			exp.Attempts++
			c := Collection{
				Reason:       ReasonIncomplete,
				Digits:       buffered,
				Length:       len(buffered),
				Masked:       exp.LastMasked,
				Retries:      exp.Retries,
				AttemptCount: exp.Attempts,
			}
			c.Confidence, c.ConfidenceSignals = confidence(exp, buffered, meta, ReasonIncomplete)
			return c
		}
		return reject(ReasonIncomplete, countRetry)
	}

	if reason := profile.Validate(prof, exp.Buffer); reason != "" {
		return reject(reason, true)
	}

	if isSpamPattern(exp.Buffer) {
		return reject(ReasonSpamPattern, true)
	}

	conf, signals := confidence(exp, exp.Buffer, meta, "")
	if conf < acceptConfidence {
		return reject(ReasonLowConfidence, true)
	}

	accepted := exp.Buffer
	exp.History = append(exp.History, accepted)
	exp.Buffer = ""
	exp.Attempts++
	return Collection{
		Accepted:          true,
		Digits:            accepted,
		Length:            len(accepted),
		Masked:            profile.MaskDigits(accepted, prof.Mask),
		Retries:           exp.Retries,
		AttemptCount:      exp.Attempts,
		Confidence:        conf,
		ConfidenceSignals: signals,
	}
}

// isSpamPattern reports whether digits is six or more of the same key, or a
// strictly ascending run of six or more.
func isSpamPattern(digits string) bool {
	if len(digits) < 6 {
		return false
	}
	repeating, ascending := true, true
	for i := 1; i < len(digits); i++ {
		if digits[i] != digits[0] {
			repeating = false
		}
		if digits[i] != digits[i-1]+1 {
			ascending = false
		}
	}
	return repeating || ascending
}

// confidence computes the weighted confidence scalar and its signals for a
// candidate buffer. Consistency compares the candidate with the previous
// attempt.
//
//	0.4·dtmf_clarity + 0.3·asr_confidence + 0.2·consistency + 0.1·context_fit
func confidence(exp *Expectation, candidate string, meta Meta, reason string) (float64, ConfidenceSignals) {
	s := ConfidenceSignals{
		DTMFClarity:   0.9,
		ASRConfidence: meta.ASRConfidence,
		Consistency:   0.5,
		ContextFit:    1.0,
	}
	if reason == ReasonTooFast {
		s.DTMFClarity = 0.2
	}
	if s.ASRConfidence == 0 {
		s.ASRConfidence = defaultASRConfidence
	}
	if n := len(exp.History); n > 0 && candidate != "" && exp.History[n-1] == candidate {
		s.Consistency = 0.9
	}
	switch reason {
	case ReasonSpamPattern, ReasonTooLong,
		profile.ReasonInvalidLuhn, profile.ReasonInvalidRouting,
		profile.ReasonInvalidLength, profile.ReasonInvalidMonth, profile.ReasonInvalidDay:
		s.ContextFit = 0.2
	}
	conf := 0.4*s.DTMFClarity + 0.3*s.ASRConfidence + 0.2*s.Consistency + 0.1*s.ContextFit
	return conf, s
}
