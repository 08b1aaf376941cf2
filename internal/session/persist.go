package session

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/calloway-ai/switchboard/internal/store"
)

// StoreGuard wraps a [store.Store] and makes write operations non-fatal. If
// the database fails, writes are logged and swallowed so the live call keeps
// running; reads propagate their errors unchanged. IsDegraded reports whether
// the most recent write failed, which feeds the readiness checker.
//
// All methods are safe for concurrent use.
type StoreGuard struct {
	store    store.Store
	degraded atomic.Bool
}

// NewStoreGuard creates a StoreGuard wrapping the given store.
func NewStoreGuard(st store.Store) *StoreGuard {
	return &StoreGuard{store: st}
}

// AppendTranscript writes a transcript row, swallowing failures.
func (g *StoreGuard) AppendTranscript(ctx context.Context, entry store.TranscriptEntry) {
	if err := g.store.AppendTranscript(ctx, entry); err != nil {
		g.degraded.Store(true)
		slog.Warn("store guard: transcript write failed", "call_id", entry.CallID, "err", err)
		return
	}
	g.degraded.Store(false)
}

// AppendEvent writes a call event row, swallowing failures.
func (g *StoreGuard) AppendEvent(ctx context.Context, ev store.CallEvent) {
	if err := g.store.AppendEvent(ctx, ev); err != nil {
		g.degraded.Store(true)
		slog.Warn("store guard: event write failed", "call_id", ev.CallID, "kind", ev.Kind, "err", err)
		return
	}
	g.degraded.Store(false)
}

// SetCallSummary writes the end-of-call summary fields, swallowing failures.
func (g *StoreGuard) SetCallSummary(ctx context.Context, callID, summary, lastOTPMasked, digitSummary string) {
	if err := g.store.SetCallSummary(ctx, callID, summary, lastOTPMasked, digitSummary); err != nil {
		g.degraded.Store(true)
		slog.Warn("store guard: summary write failed", "call_id", callID, "err", err)
		return
	}
	g.degraded.Store(false)
}

// UpdateCallStatus writes a status transition, swallowing failures.
func (g *StoreGuard) UpdateCallStatus(ctx context.Context, rec store.CallRecord) {
	if err := g.store.UpdateCallStatus(ctx, rec); err != nil {
		g.degraded.Store(true)
		slog.Warn("store guard: status write failed", "call_id", rec.ID, "status", rec.Status, "err", err)
		return
	}
	g.degraded.Store(false)
}

// Store returns the wrapped store for read paths that need real errors.
func (g *StoreGuard) Store() store.Store { return g.store }

// IsDegraded reports whether the most recent guarded write failed.
func (g *StoreGuard) IsDegraded() bool { return g.degraded.Load() }
