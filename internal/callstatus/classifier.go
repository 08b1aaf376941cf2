// Package callstatus normalises telephony provider status callbacks and
// reconciles them against observed call evidence.
//
// Providers deliver status strings with inconsistent casing and separators,
// out of order, and sometimes plainly wrong (a "completed" for a call that
// rang for two seconds and was never picked up). Classification is a pure
// function of the reported status plus the evidence the orchestrator gathered
// while the call was live; the deferral check lets the session hold a terminal
// verdict briefly when media was still flowing, so late provider callbacks do
// not race the natural end-of-call path.
package callstatus

import (
	"strings"
	"time"
)

// Status is a normalised call status: lowercase with hyphens.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusInitiated  Status = "initiated"
	StatusRinging    Status = "ringing"
	StatusAnswered   Status = "answered"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
	StatusNoAnswer   Status = "no-answer"
	StatusBusy       Status = "busy"
	StatusFailed     Status = "failed"
	StatusCanceled   Status = "canceled"
	StatusVoicemail  Status = "voicemail"
)

// IsTerminal reports whether s ends the call.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusNoAnswer, StatusBusy, StatusFailed, StatusCanceled, StatusVoicemail:
		return true
	}
	return false
}

// progressRank orders statuses on the call-progress lattice. Evidence-driven
// upgrades move forward on this lattice and never revert within one stream.
var progressRank = map[Status]int{
	StatusQueued:     0,
	StatusInitiated:  1,
	StatusRinging:    2,
	StatusAnswered:   3,
	StatusInProgress: 4,
	StatusNoAnswer:   5,
	StatusBusy:       5,
	StatusCanceled:   5,
	StatusFailed:     5,
	StatusVoicemail:  5,
	StatusCompleted:  6,
}

// Rank returns the progress-lattice position of s. Unknown statuses rank 0.
func Rank(s Status) int { return progressRank[s] }

// shortCallThreshold is the duration below which a "completed" with no answer
// evidence is downgraded to no-answer.
const shortCallThreshold = 3 * time.Second

// DefaultTerminalQuiet is how long a terminal status is held when media was
// recently observed.
const DefaultTerminalQuiet = 8 * time.Second

// Normalize folds a raw provider status string onto the closed [Status] set.
// ok is false for strings outside the set.
func Normalize(raw string) (Status, bool) {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.ReplaceAll(s, "_", "-")
	s = strings.ReplaceAll(s, " ", "-")
	switch Status(s) {
	case StatusQueued, StatusInitiated, StatusRinging, StatusAnswered,
		StatusInProgress, StatusCompleted, StatusNoAnswer, StatusBusy,
		StatusFailed, StatusCanceled, StatusVoicemail:
		return Status(s), true
	}
	return "", false
}

// Evidence is what the orchestrator observed first-hand while the call ran.
type Evidence struct {
	// AnsweredAt is when the session saw the call answered; zero if never.
	AnsweredAt time.Time

	// MediaObserved reports whether any media frame arrived.
	MediaObserved bool

	// PriorProgress reports whether an answered or in-progress status was
	// previously classified for this call.
	PriorProgress bool

	// Duration is the authoritative call duration (max of the provider's
	// duration fields).
	Duration time.Duration

	// AnsweredBy is the provider's answering-machine detection verdict
	// ("human", "machine_start", "fax", …); empty when not reported.
	AnsweredBy string
}

// answered reports whether any evidence of a live answer exists.
func (e Evidence) answered() bool {
	return !e.AnsweredAt.IsZero() || e.MediaObserved || e.PriorProgress
}

// Result is the reconciled classification of one status event.
type Result struct {
	// Status is the final classified status.
	Status Status

	// VoicemailDetected is set when answering-machine detection reclassified
	// the event.
	VoicemailDetected bool

	// Reclassified is set when evidence overrode the provider's report.
	Reclassified bool
}

// Classify reconciles a normalised provider status with observed evidence.
func Classify(s Status, ev Evidence) Result {
	// Machine pickup counts as no answer regardless of the reported status.
	switch strings.ToLower(ev.AnsweredBy) {
	case "machine", "machine_start", "machine_end", "fax":
		return Result{Status: StatusNoAnswer, VoicemailDetected: true, Reclassified: s != StatusNoAnswer}
	}

	switch s {
	case StatusCompleted:
		if ev.Duration < shortCallThreshold && !ev.answered() {
			return Result{Status: StatusNoAnswer, Reclassified: true}
		}
	case StatusNoAnswer:
		if ev.answered() {
			return Result{Status: StatusCompleted, Reclassified: true}
		}
	case StatusInProgress:
		if !ev.answered() {
			return Result{Status: StatusRinging, Reclassified: true}
		}
	case StatusVoicemail:
		return Result{Status: StatusNoAnswer, VoicemailDetected: true, Reclassified: true}
	}
	return Result{Status: s}
}

// ShouldDefer reports whether a terminal status arriving at now should be
// held for the quiet window: media was observed within quiet of now, so the
// natural end-of-call path may still be running.
func ShouldDefer(s Status, lastMediaAt time.Time, now time.Time, quiet time.Duration) bool {
	if !s.IsTerminal() {
		return false
	}
	if quiet <= 0 {
		quiet = DefaultTerminalQuiet
	}
	return !lastMediaAt.IsZero() && now.Sub(lastMediaAt) < quiet
}
