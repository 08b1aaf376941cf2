package console

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/calloway-ai/switchboard/internal/callstatus"
	"github.com/calloway-ai/switchboard/internal/chat"
	"github.com/calloway-ai/switchboard/internal/session"
	"github.com/calloway-ai/switchboard/pkg/provider/telephony"
)

// previewLimit caps the transcript preview lines.
const previewLimit = 200

// signalBarCount and barSmoothing drive the 5-bar signal renderer.
const (
	signalBarCount = 5
	barSmoothing   = 0.35
)

// statusLabels maps normalised statuses to operator-facing labels.
var statusLabels = map[callstatus.Status]string{
	callstatus.StatusQueued:     "Queued",
	callstatus.StatusInitiated:  "Dialing",
	callstatus.StatusRinging:    "Ringing",
	callstatus.StatusAnswered:   "Answered",
	callstatus.StatusInProgress: "In progress",
	callstatus.StatusCompleted:  "Completed",
	callstatus.StatusNoAnswer:   "No answer",
	callstatus.StatusBusy:       "Busy",
	callstatus.StatusFailed:     "Failed",
	callstatus.StatusCanceled:   "Canceled",
	callstatus.StatusVoicemail:  "Voicemail",
}

// phaseLabels maps live phases to operator-facing labels.
var phaseLabels = map[session.Phase]string{
	session.PhaseWaiting:         "Waiting",
	session.PhaseListening:       "Listening",
	session.PhaseUserSpeaking:    "Caller speaking",
	session.PhaseThinking:        "Thinking",
	session.PhaseAgentResponding: "Responding",
	session.PhaseAgentSpeaking:   "Agent speaking",
	session.PhaseInterrupted:     "Interrupted",
	session.PhaseEnding:          "Wrapping up",
	session.PhaseEnded:           "Ended",
}

// phaseGlyphs holds the per-phase waveform glyph sets; the current audio
// level picks one.
var phaseGlyphs = map[session.Phase][]string{
	session.PhaseWaiting:         {"· · ·"},
	session.PhaseListening:       {"▁▁▁", "▁▂▁", "▂▃▂"},
	session.PhaseUserSpeaking:    {"▃▄▃", "▄▅▄", "▅▆▅", "▆▇▆"},
	session.PhaseThinking:        {"∙ ∙ ∙"},
	session.PhaseAgentResponding: {"▂▂▂"},
	session.PhaseAgentSpeaking:   {"▂▄▂", "▃▅▃", "▄▆▄"},
	session.PhaseInterrupted:     {"▇▂▇"},
	session.PhaseEnding:          {"▂▁▁"},
	session.PhaseEnded:           {"▁▁▁"},
}

var (
	digitRunPattern = regexp.MustCompile(`[0-9][0-9 \-]{2,}[0-9]`)
	longDigitRun    = regexp.MustCompile(`[0-9]{4,}`)
	emailPattern    = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+`)
	errorKeywords   = []string{"error", "failed", "failure", "retrying", "timeout"}
)

// waveGlyph picks a glyph from the phase's set by audio level.
func waveGlyph(phase session.Phase, level float64) string {
	set, ok := phaseGlyphs[phase]
	if !ok || len(set) == 0 {
		return ""
	}
	idx := int(level * float64(len(set)))
	if idx >= len(set) {
		idx = len(set) - 1
	}
	if idx < 0 {
		idx = 0
	}
	return set[idx]
}

// smoothBars folds a new level into the smoothed bar value.
func smoothBars(prev, level float64) float64 {
	return prev + barSmoothing*(level-prev)
}

// renderBars draws the 5-bar signal indicator from a smoothed level.
func renderBars(smoothed float64) string {
	n := int(smoothed*signalBarCount + 0.5)
	if n < 0 {
		n = 0
	}
	if n > signalBarCount {
		n = signalBarCount
	}
	return strings.Repeat("▮", n) + strings.Repeat("▯", signalBarCount-n)
}

// healthLabel scores connection quality into one of four labels. Each breached
// threshold adds one point.
func healthLabel(q Quality, hasQuality bool, events []string) string {
	score := 0
	if hasQuality {
		if q.JitterMs > 20 {
			score++
		}
		if q.LatencyMs > 250 {
			score++
		}
		if q.PacketLossPct > 1 {
			score++
		}
		if q.ASRConfidence > 0 && q.ASRConfidence < 0.6 {
			score++
		}
	}
	if hasErrorKeyword(events) {
		score++
	}
	switch score {
	case 0:
		return "Stable"
	case 1:
		return "Degraded"
	case 2:
		return "At risk"
	default:
		return "Critical"
	}
}

func hasErrorKeyword(events []string) bool {
	for _, line := range events {
		l := strings.ToLower(line)
		for _, kw := range errorKeywords {
			if strings.Contains(l, kw) {
				return true
			}
		}
	}
	return false
}

// redactPreview masks digit runs of four or more and email-like tokens.
func redactPreview(s string) string {
	s = emailPattern.ReplaceAllString(s, "••@••")
	s = digitRunPattern.ReplaceAllStringFunc(s, func(run string) string {
		if len(strings.Map(keepDigits, run)) >= 4 {
			return "••••"
		}
		return run
	})
	s = longDigitRun.ReplaceAllString(s, "••••")
	return s
}

func keepDigits(r rune) rune {
	if r >= '0' && r <= '9' {
		return r
	}
	return -1
}

// clipPreview truncates a preview to the display limit, rune-safe.
func clipPreview(s string) string {
	r := []rune(s)
	if len(r) <= previewLimit {
		return s
	}
	return string(r[:previewLimit-1]) + "…"
}

// phoneLast4 returns the trailing four digits of a phone number.
func phoneLast4(phone string) string {
	d := strings.Map(keepDigits, phone)
	if len(d) <= 4 {
		return d
	}
	return d[len(d)-4:]
}

// formatClock renders a duration as m:ss (or h:mm:ss past an hour).
func formatClock(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Truncate(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

// render builds the full bubble for one entry.
func render(e *entry, now time.Time, redact bool) chat.Message {
	var b strings.Builder

	label := e.info.CustomerName
	if label == "" {
		if e.revealed {
			label = e.info.Phone
		} else {
			label = "•••• " + phoneLast4(e.info.Phone)
		}
	}
	dir := "outbound"
	if e.info.Direction == telephony.DirectionInbound {
		dir = "inbound"
	}
	fmt.Fprintf(&b, "📞 %s · %s", label, dir)
	if e.info.Direction == telephony.DirectionInbound {
		if e.info.Route != "" {
			fmt.Fprintf(&b, " · %s", e.info.Route)
		}
		if e.info.Flag != FlagNone {
			fmt.Fprintf(&b, " · %s", e.info.Flag)
		}
	}
	b.WriteString("\n")

	status := e.gate.coerce(e.status)
	line := statusLabels[status]
	if line == "" {
		line = string(status)
	}
	// Pre-answer and terminal bubbles show the status; a live call shows the
	// finer-grained phase instead.
	if status == callstatus.StatusAnswered || status == callstatus.StatusInProgress {
		if pl, ok := phaseLabels[e.phase]; ok {
			line = pl
		}
		if g := waveGlyph(e.phase, e.level); g != "" {
			line += "  " + g
		}
	}
	fmt.Fprintf(&b, "%s\n", line)

	waiting, talk := e.elapsed(now)
	fmt.Fprintf(&b, "Waiting %s · Talk %s\n", formatClock(waiting), formatClock(talk))

	if e.compact {
		return chat.Message{Text: b.String(), Buttons: buttons(e, now)}
	}

	if e.hasQuality {
		fmt.Fprintf(&b, "%s · RTT %dms · %s\n",
			renderBars(e.bars), e.quality.LatencyMs, healthLabel(e.quality, true, e.events))
	} else {
		fmt.Fprintf(&b, "%s · %s\n", renderBars(e.bars), healthLabel(Quality{}, false, e.events))
	}

	for _, ev := range e.events {
		fmt.Fprintf(&b, "• %s\n", ev)
	}

	if e.userPreview != "" {
		fmt.Fprintf(&b, "Caller: %s\n", previewText(e.userPreview, redact && !e.revealed))
	}
	if e.agentPreview != "" {
		fmt.Fprintf(&b, "Agent: %s\n", previewText(e.agentPreview, redact && !e.revealed))
	}

	return chat.Message{Text: b.String(), Buttons: buttons(e, now)}
}

func previewText(s string, redact bool) string {
	if redact {
		s = redactPreview(s)
	}
	return clipPreview(s)
}

// buttons builds the action rows for an entry. A terminal entry carries none;
// an in-flight operator action replaces everything with a disabled lock.
func buttons(e *entry, now time.Time) [][]chat.Button {
	if e.closed {
		return nil
	}
	if now.Before(e.workingUntil) {
		return [][]chat.Button{{
			{Label: "Working…", ID: actionID("noop", e.callID), Style: chat.StyleSecondary, Disabled: true},
		}}
	}

	compactLabel := "Compact"
	if e.compact {
		compactLabel = "Expand"
	}
	rows := [][]chat.Button{
		{
			{Label: "Record", ID: actionID(actionRecord, e.callID), Style: chat.StyleSecondary},
			{Label: "End", ID: actionID(actionEnd, e.callID), Style: chat.StyleDanger},
			{Label: "Transfer", ID: actionID(actionTransfer, e.callID), Style: chat.StyleSecondary},
			{Label: compactLabel, ID: actionID(actionCompact, e.callID), Style: chat.StyleSecondary},
		},
	}
	if e.info.Direction != telephony.DirectionInbound {
		return rows
	}

	second := []chat.Button{}
	if e.info.AnswerURL != "" {
		second = append(second, chat.Button{Label: "Answer", URL: e.info.AnswerURL, Style: chat.StyleLink})
	}
	second = append(second,
		chat.Button{Label: "SMS", ID: actionID(actionSMS, e.callID), Style: chat.StyleSecondary},
		chat.Button{Label: "Callback", ID: actionID(actionCallback, e.callID), Style: chat.StyleSecondary},
	)
	revealLabel := "Reveal"
	if e.revealed {
		revealLabel = "Hide"
	}
	third := []chat.Button{
		{Label: "Spam", ID: actionID(actionSpam, e.callID), Style: chat.StyleDanger},
		{Label: "Allow", ID: actionID(actionAllow, e.callID), Style: chat.StylePrimary},
		{Label: "Block", ID: actionID(actionBlock, e.callID), Style: chat.StyleDanger},
		{Label: revealLabel, ID: actionID(actionReveal, e.callID), Style: chat.StyleSecondary},
	}
	return append(rows, second, third)
}

// markupSignature flattens button rows for no-op edit comparison.
func markupSignature(rows [][]chat.Button) string {
	var b strings.Builder
	for _, row := range rows {
		for _, btn := range row {
			fmt.Fprintf(&b, "%s|%s|%s|%s|%t;", btn.Label, btn.ID, btn.URL, btn.Style, btn.Disabled)
		}
		b.WriteString("/")
	}
	return b.String()
}
