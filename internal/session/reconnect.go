package session

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Default reconnection parameters.
const (
	defaultMaxRetries = 10
	defaultBackoff    = 1 * time.Second
	defaultMaxBackoff = 30 * time.Second
)

// Reconnector re-establishes a dropped recogniser stream with exponential
// backoff. The session signals a drop via [Reconnector.NotifyDisconnect];
// only one reconnection cycle runs at a time, and on success the OnReconnect
// callback replays whatever accumulated during the gap (pending digit
// actions, parked speech).
//
// All methods are safe for concurrent use.
type Reconnector struct {
	open        func(ctx context.Context) error
	onReconnect func()
	maxRetries  int
	backoff     time.Duration
	maxBackoff  time.Duration

	mu      sync.Mutex
	running bool
}

// ReconnectorConfig configures a [Reconnector].
type ReconnectorConfig struct {
	// Open establishes a fresh stream. Must not be nil.
	Open func(ctx context.Context) error

	// OnReconnect is called after a successful reconnection. May be nil.
	OnReconnect func()

	// MaxRetries caps reconnection attempts per cycle. Defaults to 10.
	MaxRetries int

	// Backoff is the initial delay between attempts, doubling up to
	// MaxBackoff. Defaults to 1s and 30s.
	Backoff    time.Duration
	MaxBackoff time.Duration
}

// NewReconnector creates a [Reconnector] with the given configuration.
func NewReconnector(cfg ReconnectorConfig) *Reconnector {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = defaultBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = defaultMaxBackoff
	}
	return &Reconnector{
		open:        cfg.Open,
		onReconnect: cfg.OnReconnect,
		maxRetries:  cfg.MaxRetries,
		backoff:     cfg.Backoff,
		maxBackoff:  cfg.MaxBackoff,
	}
}

// NotifyDisconnect signals that the stream dropped and starts a background
// reconnection cycle. Safe to call repeatedly; signals arriving while a cycle
// is already running are absorbed by it.
func (r *Reconnector) NotifyDisconnect(ctx context.Context) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return
	}
	r.running = true
	r.mu.Unlock()

	go r.cycle(ctx)
}

// Running reports whether a reconnection cycle is in progress.
func (r *Reconnector) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

func (r *Reconnector) cycle(ctx context.Context) {
	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	backoff := r.backoff
	for attempt := 1; attempt <= r.maxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		if err := r.open(ctx); err != nil {
			slog.Warn("stt reconnect attempt failed",
				"attempt", attempt,
				"max", r.maxRetries,
				"err", err,
			)
			backoff *= 2
			if backoff > r.maxBackoff {
				backoff = r.maxBackoff
			}
			continue
		}

		slog.Info("stt stream reconnected", "attempt", attempt)
		if r.onReconnect != nil {
			r.onReconnect()
		}
		return
	}
	slog.Error("stt reconnect gave up", "attempts", r.maxRetries)
}
