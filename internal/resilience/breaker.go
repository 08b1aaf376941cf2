// Package resilience provides the failure-isolation primitives used around
// external adapters and the digit-collection engine.
//
// Two breakers live here. [Breaker] is a consecutive-failure breaker wrapped
// around individual vendor adapters (LLM, TTS): a run of failures short-circuits
// further calls until a reset timeout elapses. [Window] is the process-global
// rolling error-rate window that governs whether the digit engine accepts new
// expectations at all; it opens on sustained error rate rather than on a
// consecutive run, because digit failures are usually caller behaviour, not
// vendor outage, and only a broad pattern indicates a systemic fault.
//
// [FallbackGroup] composes multiple instances of one provider type with a
// breaker per entry, so a failing primary vendor is bypassed in favour of
// healthy fallbacks. The LLM, TTS, and STT provider slots are wrapped in
// these groups at startup.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [Breaker.Do] while the breaker rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerConfig tunes a [Breaker].
type BreakerConfig struct {
	// Name labels the breaker in log lines.
	Name string

	// MaxFailures is the consecutive-failure count that opens the breaker.
	// Default: 3.
	MaxFailures int

	// ResetTimeout is how long the breaker rejects calls before allowing a
	// probe. Default: 30s.
	ResetTimeout time.Duration
}

// Breaker is a consecutive-failure circuit breaker for adapter calls. After
// MaxFailures failures in a row it rejects calls with [ErrCircuitOpen]; once
// ResetTimeout elapses a single probe call is let through, and its outcome
// decides whether the breaker closes or re-opens.
type Breaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration

	mu          sync.Mutex
	failures    int
	openedAt    time.Time
	open        bool
	probeInFlight bool
}

// NewBreaker creates a [Breaker], substituting defaults for zero-value config.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	return &Breaker{
		name:         cfg.Name,
		maxFailures:  cfg.MaxFailures,
		resetTimeout: cfg.ResetTimeout,
	}
}

// Do runs fn unless the breaker is open. While open and past the reset
// timeout, exactly one caller at a time is admitted as a probe.
func (b *Breaker) Do(fn func() error) error {
	b.mu.Lock()
	if b.open {
		if time.Since(b.openedAt) < b.resetTimeout || b.probeInFlight {
			b.mu.Unlock()
			return ErrCircuitOpen
		}
		b.probeInFlight = true
	}
	probe := b.probeInFlight
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if probe {
		b.probeInFlight = false
	}

	if err != nil {
		b.failures++
		if probe || (!b.open && b.failures >= b.maxFailures) {
			b.open = true
			b.openedAt = time.Now()
			slog.Warn("circuit breaker opened",
				"name", b.name, "consecutive_failures", b.failures)
		}
		return err
	}

	if b.open {
		slog.Info("circuit breaker closed after successful probe", "name", b.name)
	}
	b.open = false
	b.failures = 0
	return nil
}

// IsOpen reports whether calls would currently be rejected.
func (b *Breaker) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open && time.Since(b.openedAt) < b.resetTimeout
}

// Reset forces the breaker closed and clears its failure count.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.open = false
	b.failures = 0
	b.probeInFlight = false
	slog.Info("circuit breaker manually reset", "name", b.name)
}
