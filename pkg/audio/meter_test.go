package audio

import (
	"testing"
	"time"
)

func TestLevel_EmptyChunk(t *testing.T) {
	if got := Level(nil, EncodingMulaw); got != 0 {
		t.Errorf("Level(nil) = %v, want 0", got)
	}
}

func TestLevel_MulawSilence(t *testing.T) {
	// µ-law silence is the bias value 128 on every byte.
	chunk := make([]byte, 160)
	for i := range chunk {
		chunk[i] = 128
	}
	if got := Level(chunk, EncodingMulaw); got != 0 {
		t.Errorf("Level(silence) = %v, want 0", got)
	}
}

func TestLevel_MulawFullScale(t *testing.T) {
	// All-zero bytes are |0-128|/128 = 1.0 in the biased representation.
	chunk := make([]byte, 160)
	got := Level(chunk, EncodingMulaw)
	if got != 1.0 {
		t.Errorf("Level(full scale) = %v, want 1.0", got)
	}
}

func TestLevel_PCM16(t *testing.T) {
	// Alternating ±16384 int16 samples → level 0.5.
	chunk := make([]byte, 320)
	for i := 0; i+1 < len(chunk); i += 4 {
		chunk[i] = 0x00
		chunk[i+1] = 0x40 // +16384
		chunk[i+2] = 0x00
		chunk[i+3] = 0xC0 // -16384
	}
	got := Level(chunk, EncodingPCM16)
	if got < 0.49 || got > 0.51 {
		t.Errorf("Level(pcm ±16384) = %v, want ≈0.5", got)
	}
}

func TestLevel_LargeChunkSampled(t *testing.T) {
	// A chunk much larger than the sample target must still meter correctly.
	chunk := make([]byte, 16000)
	for i := range chunk {
		chunk[i] = 0 // full scale µ-law
	}
	if got := Level(chunk, EncodingMulaw); got != 1.0 {
		t.Errorf("Level(large full scale) = %v, want 1.0", got)
	}
}

func TestFrameLevels_Count(t *testing.T) {
	chunk := make([]byte, 1600) // 200ms of 8kHz µ-law

	tests := []struct {
		name     string
		duration time.Duration
		interval time.Duration
		want     int
	}{
		{"one frame", 20 * time.Millisecond, 20 * time.Millisecond, 1},
		{"ten frames", 200 * time.Millisecond, 20 * time.Millisecond, 10},
		{"rounds up", 30 * time.Millisecond, 20 * time.Millisecond, 2},
		{"capped at 48", 10 * time.Second, 20 * time.Millisecond, 48},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FrameLevels(chunk, EncodingMulaw, tt.duration, tt.interval)
			if len(got) != tt.want {
				t.Errorf("len(FrameLevels) = %d, want %d", len(got), tt.want)
			}
		})
	}
}

func TestFrameLevels_Empty(t *testing.T) {
	if got := FrameLevels(nil, EncodingMulaw, time.Second, 20*time.Millisecond); got != nil {
		t.Errorf("FrameLevels(nil) = %v, want nil", got)
	}
}

func TestSpeechGate_StartAndHold(t *testing.T) {
	g := NewSpeechGate(SpeechGateConfig{Threshold: 0.08, Hold: 450 * time.Millisecond})
	t0 := time.Now()

	if got := g.Observe(0.10, t0); got != SpeechStarted {
		t.Fatalf("first loud frame = %v, want SpeechStarted", got)
	}
	if !g.Speaking() {
		t.Fatal("gate should report speaking")
	}

	// Quiet for less than the hold window — still speaking.
	if got := g.Observe(0.01, t0.Add(200*time.Millisecond)); got != SpeechUnchanged {
		t.Errorf("quiet within hold = %v, want SpeechUnchanged", got)
	}
	if !g.Speaking() {
		t.Error("gate released before hold elapsed")
	}

	// Quiet past the hold window — released.
	if got := g.Observe(0.01, t0.Add(500*time.Millisecond)); got != SpeechStopped {
		t.Errorf("quiet past hold = %v, want SpeechStopped", got)
	}
	if g.Speaking() {
		t.Error("gate still speaking after release")
	}
}

func TestSpeechGate_LoudFrameResetsHold(t *testing.T) {
	g := NewSpeechGate(SpeechGateConfig{Threshold: 0.08, Hold: 450 * time.Millisecond})
	t0 := time.Now()

	g.Observe(0.20, t0)
	g.Observe(0.01, t0.Add(300*time.Millisecond))
	// Another loud frame restarts the hold clock.
	g.Observe(0.20, t0.Add(400*time.Millisecond))

	if got := g.Observe(0.01, t0.Add(700*time.Millisecond)); got != SpeechUnchanged {
		t.Errorf("quiet 300ms after loud frame = %v, want SpeechUnchanged", got)
	}
	if got := g.Observe(0.01, t0.Add(900*time.Millisecond)); got != SpeechStopped {
		t.Errorf("quiet 500ms after loud frame = %v, want SpeechStopped", got)
	}
}

func TestSpeechGate_Defaults(t *testing.T) {
	g := NewSpeechGate(SpeechGateConfig{})
	if g.threshold != 0.08 {
		t.Errorf("threshold = %v, want 0.08", g.threshold)
	}
	if g.hold != 450*time.Millisecond {
		t.Errorf("hold = %v, want 450ms", g.hold)
	}
}
