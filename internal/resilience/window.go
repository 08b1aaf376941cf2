package resilience

import (
	"log/slog"
	"sync"
	"time"
)

// WindowConfig tunes a rolling error-rate [Window].
type WindowConfig struct {
	// Name labels the window in log lines.
	Name string

	// Span is the rolling window length. Default: 60s.
	Span time.Duration

	// MinSamples is the attempt count below which the error rate is not
	// evaluated. Default: 8.
	MinSamples int

	// ErrorRate is the error fraction at or above which the window opens.
	// Default: 0.30.
	ErrorRate float64

	// Cooldown is how long the window stays open once tripped. Default: 60s.
	Cooldown time.Duration

	// Now overrides the clock, for tests. Default: time.Now.
	Now func() time.Time
}

// WindowStats is a snapshot of a [Window]'s current accounting.
type WindowStats struct {
	Total    int
	Errors   int
	Open     bool
	OpenedAt time.Time
}

// Window is a rolling error-rate circuit. Attempts recorded within Span are
// counted; when at least MinSamples have been seen and the error fraction
// reaches ErrorRate, the window opens for Cooldown. While open, recording
// continues but [Window.Open] reports true until the cooldown elapses, at
// which point the counters reset and the circuit closes.
type Window struct {
	name       string
	span       time.Duration
	minSamples int
	errorRate  float64
	cooldown   time.Duration
	now        func() time.Time

	mu          sync.Mutex
	windowStart time.Time
	total       int
	errors      int
	open        bool
	openedAt    time.Time
}

// NewWindow creates a [Window], substituting defaults for zero-value config.
func NewWindow(cfg WindowConfig) *Window {
	if cfg.Span <= 0 {
		cfg.Span = 60 * time.Second
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = 8
	}
	if cfg.ErrorRate <= 0 {
		cfg.ErrorRate = 0.30
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 60 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Window{
		name:       cfg.Name,
		span:       cfg.Span,
		minSamples: cfg.MinSamples,
		errorRate:  cfg.ErrorRate,
		cooldown:   cfg.Cooldown,
		now:        cfg.Now,
	}
}

// Record adds one attempt to the window and evaluates the trip condition.
func (w *Window) Record(failed bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	w.roll(now)

	w.total++
	if failed {
		w.errors++
	}

	if w.open || w.total < w.minSamples {
		return
	}
	rate := float64(w.errors) / float64(w.total)
	if rate >= w.errorRate {
		w.open = true
		w.openedAt = now
		slog.Warn("rolling window circuit opened",
			"name", w.name,
			"total", w.total,
			"errors", w.errors,
			"rate", rate,
		)
	}
}

// Open reports whether the circuit is currently open. An open circuit whose
// cooldown has elapsed is closed (and its counters reset) as a side effect.
func (w *Window) Open() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	if w.open && now.Sub(w.openedAt) >= w.cooldown {
		w.open = false
		w.total = 0
		w.errors = 0
		w.windowStart = now
		slog.Info("rolling window circuit closed after cooldown", "name", w.name)
	}
	w.roll(now)
	return w.open
}

// Stats returns a snapshot of the window's accounting.
func (w *Window) Stats() WindowStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return WindowStats{Total: w.total, Errors: w.errors, Open: w.open, OpenedAt: w.openedAt}
}

// roll restarts the counting window once Span has elapsed. The open flag is
// deliberately untouched: an open circuit survives window rotation and only
// the cooldown closes it. Must be called with w.mu held.
func (w *Window) roll(now time.Time) {
	if w.windowStart.IsZero() {
		w.windowStart = now
		return
	}
	if now.Sub(w.windowStart) >= w.span {
		w.windowStart = now
		w.total = 0
		w.errors = 0
	}
}
