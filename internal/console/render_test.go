package console

import (
	"testing"
	"time"

	"github.com/calloway-ai/switchboard/internal/session"
)

func TestHealthLabel(t *testing.T) {
	cases := []struct {
		name   string
		q      Quality
		hasQ   bool
		events []string
		want   string
	}{
		{"no data", Quality{}, false, nil, "Stable"},
		{"clean", Quality{JitterMs: 5, LatencyMs: 80, PacketLossPct: 0.1, ASRConfidence: 0.9}, true, nil, "Stable"},
		{"high jitter", Quality{JitterMs: 35, LatencyMs: 80, ASRConfidence: 0.9}, true, nil, "Degraded"},
		{"jitter and latency", Quality{JitterMs: 35, LatencyMs: 400, ASRConfidence: 0.9}, true, nil, "At risk"},
		{"three breaches", Quality{JitterMs: 35, LatencyMs: 400, PacketLossPct: 2.5, ASRConfidence: 0.9}, true, nil, "Critical"},
		{"low asr", Quality{LatencyMs: 80, ASRConfidence: 0.4}, true, nil, "Degraded"},
		{"error keyword only", Quality{}, false, []string{"Model error, retrying"}, "Degraded"},
		{"quality plus errors", Quality{JitterMs: 35, LatencyMs: 400, ASRConfidence: 0.9}, true, []string{"SMS fallback send failed"}, "Critical"},
	}
	for _, tc := range cases {
		if got := healthLabel(tc.q, tc.hasQ, tc.events); got != tc.want {
			t.Errorf("%s: healthLabel = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestRenderBars(t *testing.T) {
	cases := []struct {
		smoothed float64
		want     string
	}{
		{0, "▯▯▯▯▯"},
		{0.05, "▯▯▯▯▯"},
		{0.3, "▮▮▯▯▯"},
		{0.5, "▮▮▮▯▯"},
		{1.0, "▮▮▮▮▮"},
		{1.4, "▮▮▮▮▮"},
	}
	for _, tc := range cases {
		if got := renderBars(tc.smoothed); got != tc.want {
			t.Errorf("renderBars(%.2f) = %q, want %q", tc.smoothed, got, tc.want)
		}
	}
}

func TestSmoothBars(t *testing.T) {
	got := smoothBars(0, 1)
	if got != 0.35 {
		t.Fatalf("smoothBars(0, 1) = %v, want 0.35", got)
	}
	// Converges rather than jumping.
	got = smoothBars(got, 1)
	if got <= 0.35 || got >= 1 {
		t.Fatalf("second smoothing step = %v, want between 0.35 and 1", got)
	}
}

func TestRedactPreview(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"code is 4829", "code is ••••"},
		{"card 4111 1111 1111 1111 thanks", "card •••• thanks"},
		{"call me at 555-123-4567", "call me at ••••"},
		{"reach me at bob@example.com", "reach me at ••@••"},
		{"extension 12", "extension 12"},
		{"no digits here", "no digits here"},
	}
	for _, tc := range cases {
		if got := redactPreview(tc.in); got != tc.want {
			t.Errorf("redactPreview(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestClipPreview(t *testing.T) {
	long := ""
	for i := 0; i < 250; i++ {
		long += "a"
	}
	got := clipPreview(long)
	if r := []rune(got); len(r) != previewLimit {
		t.Fatalf("clipped preview is %d runes, want %d", len(r), previewLimit)
	}
	if got[len(got)-len("…"):] != "…" {
		t.Fatal("clipped preview missing ellipsis")
	}
	if clipPreview("short") != "short" {
		t.Fatal("short preview was modified")
	}
}

func TestWaveGlyph(t *testing.T) {
	if g := waveGlyph(session.PhaseUserSpeaking, 0); g != "▃▄▃" {
		t.Fatalf("low level glyph = %q, want first of set", g)
	}
	if g := waveGlyph(session.PhaseUserSpeaking, 0.99); g != "▆▇▆" {
		t.Fatalf("high level glyph = %q, want last of set", g)
	}
	if g := waveGlyph(session.PhaseUserSpeaking, 5); g != "▆▇▆" {
		t.Fatalf("out-of-range level glyph = %q, want clamped to last", g)
	}
	if g := waveGlyph(session.Phase("bogus"), 0.5); g != "" {
		t.Fatalf("unknown phase glyph = %q, want empty", g)
	}
}

func TestFormatClock(t *testing.T) {
	cases := []struct {
		d    time.Duration
		want string
	}{
		{0, "0:00"},
		{5 * time.Second, "0:05"},
		{83 * time.Second, "1:23"},
		{3661 * time.Second, "1:01:01"},
		{-3 * time.Second, "0:00"},
	}
	for _, tc := range cases {
		if got := formatClock(tc.d); got != tc.want {
			t.Errorf("formatClock(%v) = %q, want %q", tc.d, got, tc.want)
		}
	}
}

func TestPhoneLast4(t *testing.T) {
	if got := phoneLast4("+1 (555) 123-0042"); got != "0042" {
		t.Fatalf("phoneLast4 = %q, want 0042", got)
	}
	if got := phoneLast4("42"); got != "42" {
		t.Fatalf("short phoneLast4 = %q, want 42", got)
	}
}
