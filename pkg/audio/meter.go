// Package audio provides level metering and speech detection for telephony
// media frames.
//
// Telephony providers deliver audio either as 8-bit µ-law (the G.711 default
// for 8 kHz PSTN streams) or as 16-bit little-endian PCM. The meter reduces a
// chunk of either encoding to a scalar intensity in [0, 1], optionally split
// into per-frame levels for waveform rendering, and [SpeechGate] applies
// hysteresis on top of the levels to classify the caller as speaking or not.
package audio

import (
	"sync"
	"time"
)

// Encoding identifies the sample format of a media chunk.
type Encoding string

const (
	// EncodingMulaw is 8-bit µ-law, one byte per sample (G.711).
	EncodingMulaw Encoding = "mulaw"

	// EncodingPCM16 is 16-bit little-endian signed PCM, two bytes per sample.
	EncodingPCM16 Encoding = "pcm16"
)

// IsValid reports whether e is a recognised encoding.
func (e Encoding) IsValid() bool {
	return e == EncodingMulaw || e == EncodingPCM16
}

// levelSampleTarget is the approximate number of bytes inspected per chunk.
// Sampling keeps metering O(1)-ish regardless of chunk size; at 8 kHz µ-law a
// 20 ms frame is only 160 bytes so small chunks are read in full.
const levelSampleTarget = 800

// maxWaveformFrames caps the per-frame vector length returned by
// [FrameLevels] so the console waveform stays bounded.
const maxWaveformFrames = 48

// Level computes the mean absolute amplitude of chunk, normalised to [0, 1].
//
// For µ-law input each byte is treated as an unsigned sample biased at 128;
// for PCM the chunk is decoded as little-endian int16. Bytes are sampled with
// a stride of max(1, len/800), rounded up to an even stride for PCM so the
// sample boundary is preserved. An empty chunk yields 0.
func Level(chunk []byte, enc Encoding) float64 {
	if len(chunk) == 0 {
		return 0
	}
	stride := len(chunk) / levelSampleTarget
	if stride < 1 {
		stride = 1
	}
	switch enc {
	case EncodingPCM16:
		if stride%2 != 0 {
			stride++
		}
		return pcm16Level(chunk, stride)
	default:
		return mulawLevel(chunk, stride)
	}
}

// FrameLevels splits chunk into per-frame levels for waveform rendering.
//
// The frame count is min(48, ⌈durationMs/intervalMs⌉); each frame covers
// ⌊len/frames⌋ bytes of the chunk. Returns nil for an empty chunk or
// non-positive interval.
func FrameLevels(chunk []byte, enc Encoding, duration, interval time.Duration) []float64 {
	if len(chunk) == 0 || interval <= 0 || duration <= 0 {
		return nil
	}
	frames := int((duration + interval - 1) / interval)
	if frames < 1 {
		frames = 1
	}
	if frames > maxWaveformFrames {
		frames = maxWaveformFrames
	}
	span := len(chunk) / frames
	if span == 0 {
		span = len(chunk)
		frames = 1
	}

	levels := make([]float64, 0, frames)
	for i := range frames {
		start := i * span
		end := start + span
		if end > len(chunk) {
			end = len(chunk)
		}
		levels = append(levels, Level(chunk[start:end], enc))
	}
	return levels
}

// mulawLevel averages |sample − 128| / 128 over every stride-th byte.
func mulawLevel(chunk []byte, stride int) float64 {
	var sum float64
	var n int
	for i := 0; i < len(chunk); i += stride {
		s := int(chunk[i]) - 128
		if s < 0 {
			s = -s
		}
		sum += float64(s) / 128
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// pcm16Level averages |sample| / 32768 over every stride-th sample pair.
func pcm16Level(chunk []byte, stride int) float64 {
	var sum float64
	var n int
	for i := 0; i+1 < len(chunk); i += stride {
		s := int32(int16(chunk[i]) | int16(chunk[i+1])<<8)
		if s < 0 {
			s = -s
		}
		sum += float64(s) / 32768
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// SpeechState is the outcome of feeding one level into a [SpeechGate].
type SpeechState int

const (
	// SpeechUnchanged means the speaking classification did not flip.
	SpeechUnchanged SpeechState = iota

	// SpeechStarted means the caller crossed the threshold and is now speaking.
	SpeechStarted

	// SpeechStopped means the hold window elapsed below threshold and the
	// caller is no longer classified as speaking.
	SpeechStopped
)

// SpeechGateConfig tunes the hysteresis of a [SpeechGate].
type SpeechGateConfig struct {
	// Threshold is the level at or above which the caller counts as speaking.
	// Default: 0.08.
	Threshold float64

	// Hold is how long the level must stay below Threshold before the
	// speaking state is released. Default: 450ms.
	Hold time.Duration
}

// SpeechGate classifies a stream of levels into speaking/silent with
// hysteresis: a single loud frame flips the gate on, but it only flips off
// after Hold of continuous quiet. Safe for concurrent use.
type SpeechGate struct {
	threshold float64
	hold      time.Duration

	mu          sync.Mutex
	speaking    bool
	lastAboveAt time.Time
}

// NewSpeechGate creates a SpeechGate. Zero-value config fields are replaced
// with defaults.
func NewSpeechGate(cfg SpeechGateConfig) *SpeechGate {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 0.08
	}
	if cfg.Hold <= 0 {
		cfg.Hold = 450 * time.Millisecond
	}
	return &SpeechGate{threshold: cfg.Threshold, hold: cfg.Hold}
}

// Observe feeds one measured level into the gate at time now and returns the
// resulting transition, if any.
func (g *SpeechGate) Observe(level float64, now time.Time) SpeechState {
	g.mu.Lock()
	defer g.mu.Unlock()

	if level >= g.threshold {
		g.lastAboveAt = now
		if !g.speaking {
			g.speaking = true
			return SpeechStarted
		}
		return SpeechUnchanged
	}

	if g.speaking && now.Sub(g.lastAboveAt) >= g.hold {
		g.speaking = false
		return SpeechStopped
	}
	return SpeechUnchanged
}

// Speaking reports the current classification.
func (g *SpeechGate) Speaking() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.speaking
}

// Reset clears the gate back to silent.
func (g *SpeechGate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.speaking = false
	g.lastAboveAt = time.Time{}
}
