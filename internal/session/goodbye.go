package session

import (
	"strings"

	"github.com/antzucaro/matchr"
)

// goodbyePhrases are the closing phrases a caller uses to end the
// conversation. Matching is fuzzy so STT artifacts ("thanks by", "goodby")
// still register.
var goodbyePhrases = []string{
	"thanks",
	"thank you",
	"bye",
	"goodbye",
	"bye bye",
	"that's all",
	"that is all",
	"that's everything",
	"have a good day",
	"have a good night",
	"have a good one",
	"talk to you later",
	"i'm done",
	"we're done",
}

// goodbyeSimilarity is the Jaro-Winkler score a fuzzy phrase match needs.
const goodbyeSimilarity = 0.92

// isGoodbye reports whether the utterance reads as the caller closing the
// conversation. Long utterances only count when the goodbye is the trailing
// clause, so "thanks, one more question" does not end the call.
func isGoodbye(text string) bool {
	t := normalizeUtterance(text)
	if t == "" {
		return false
	}
	words := strings.Fields(t)

	for _, phrase := range goodbyePhrases {
		if t == phrase {
			return true
		}
		if tail := trailingWords(words, len(strings.Fields(phrase))); tail != "" {
			if tail == phrase || matchr.JaroWinkler(tail, phrase, false) >= goodbyeSimilarity {
				// A goodbye tail on a short utterance; longer sentences keep
				// the conversation going unless they end with "have a good …".
				if len(words) <= len(strings.Fields(phrase))+2 || strings.HasPrefix(phrase, "have a good") {
					return true
				}
			}
		}
	}
	return false
}

// normalizeUtterance lowercases and strips punctuation for phrase matching.
func normalizeUtterance(text string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(text)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == ' ', r == '\'':
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// trailingWords returns the last n words of words joined by spaces, or ""
// when fewer than n exist.
func trailingWords(words []string, n int) string {
	if n <= 0 || len(words) < n {
		return ""
	}
	return strings.Join(words[len(words)-n:], " ")
}
