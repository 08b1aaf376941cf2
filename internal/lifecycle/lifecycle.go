// Package lifecycle reconciles provider status callbacks with first-hand call
// evidence and fans the classified result out: the call row is updated, the
// live console follows, terminal statuses queue operator notifications and
// tear down any session still attached to the call.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/calloway-ai/switchboard/internal/callstatus"
	"github.com/calloway-ai/switchboard/internal/notify"
	"github.com/calloway-ai/switchboard/internal/session"
	"github.com/calloway-ai/switchboard/internal/store"
	"github.com/calloway-ai/switchboard/internal/timers"
	"github.com/calloway-ai/switchboard/pkg/provider/telephony"
)

// ErrUnknownStatus is returned for raw status strings outside the known set.
var ErrUnknownStatus = errors.New("lifecycle: unknown status")

// Consoler is the slice of the live console the manager drives.
type Consoler interface {
	SetStatus(callID string, status callstatus.Status)
	Close(ctx context.Context, callID string, status callstatus.Status)
}

// CallRecorder counts ended calls with their terminal status and duration.
// The observe metrics recorder satisfies it.
type CallRecorder interface {
	RecordCallEnded(ctx context.Context, status, direction string, duration time.Duration)
}

// Config assembles a Manager. Store is required; everything else is optional
// and skipped when nil.
type Config struct {
	Store store.CallStore

	// Console mirrors status transitions into the operator chat.
	Console Consoler

	// Notify queues the terminal status and transcript notifications.
	Notify *notify.Dispatcher

	// Registry lets a terminal callback end a session the natural hangup
	// path missed.
	Registry *session.Registry

	// Metrics receives one record per terminal status. Optional.
	Metrics CallRecorder

	// TerminalQuiet is how long a terminal status is held while media is
	// still flowing. Default: callstatus.DefaultTerminalQuiet.
	TerminalQuiet time.Duration

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// callState is the evidence gathered for one tracked call.
type callState struct {
	chatID    string
	phone     string
	direction telephony.Direction

	answeredAt    time.Time
	lastMediaAt   time.Time
	mediaObserved bool
	priorProgress bool

	rank int
	done bool
}

// Manager tracks per-call evidence and applies classified status updates.
// All methods are safe for concurrent use.
type Manager struct {
	store    store.CallStore
	console  Consoler
	notify   *notify.Dispatcher
	registry *session.Registry
	metrics  CallRecorder
	quiet    time.Duration
	now      func() time.Time

	timers *timers.Manager

	mu    sync.Mutex
	calls map[string]*callState
}

// NewManager creates a Manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Store == nil {
		return nil, errors.New("lifecycle: Store must not be nil")
	}
	if cfg.TerminalQuiet <= 0 {
		cfg.TerminalQuiet = callstatus.DefaultTerminalQuiet
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Manager{
		store:    cfg.Store,
		console:  cfg.Console,
		notify:   cfg.Notify,
		registry: cfg.Registry,
		metrics:  cfg.Metrics,
		quiet:    cfg.TerminalQuiet,
		now:      cfg.Now,
		timers:   timers.NewManager(),
		calls:    make(map[string]*callState),
	}, nil
}

// Register starts tracking a call. Callbacks for unregistered calls are
// treated as stale and dropped.
func (m *Manager) Register(callID, chatID, phone string, direction telephony.Direction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.calls[callID]; ok {
		return
	}
	m.calls[callID] = &callState{chatID: chatID, phone: phone, direction: direction}
}

// ObserveMedia records that a media frame arrived for the call.
func (m *Manager) ObserveMedia(callID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.calls[callID]; ok {
		st.mediaObserved = true
		st.lastMediaAt = m.now()
	}
}

// ObserveAnswered records first-hand evidence that the call was picked up.
func (m *Manager) ObserveAnswered(callID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.calls[callID]; ok && st.answeredAt.IsZero() {
		st.answeredAt = m.now()
	}
}

// Update is one provider status callback, already extracted from the wire.
type Update struct {
	CallID    string
	RawStatus string

	// Duration is the authoritative call duration, the max of the
	// provider's duration fields.
	Duration time.Duration

	AnsweredBy   string
	ErrorCode    string
	ErrorMessage string
}

// Report classifies and applies one status callback. Unknown calls are
// logged and dropped; unknown status strings return ErrUnknownStatus.
func (m *Manager) Report(ctx context.Context, u Update) error {
	status, ok := callstatus.Normalize(u.RawStatus)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownStatus, u.RawStatus)
	}
	return m.apply(ctx, u, status, false)
}

func (m *Manager) apply(ctx context.Context, u Update, status callstatus.Status, afterQuiet bool) error {
	now := m.now()

	m.mu.Lock()
	st, ok := m.calls[u.CallID]
	if !ok {
		m.mu.Unlock()
		slog.Warn("lifecycle: status for unknown call", "call_id", u.CallID, "status", status)
		return nil
	}
	if st.done {
		m.mu.Unlock()
		return nil
	}

	res := callstatus.Classify(status, callstatus.Evidence{
		AnsweredAt:    st.answeredAt,
		MediaObserved: st.mediaObserved,
		PriorProgress: st.priorProgress,
		Duration:      u.Duration,
		AnsweredBy:    u.AnsweredBy,
	})

	// Hold a terminal verdict while media is still flowing so the natural
	// end-of-call path wins the race. The deferred re-apply skips this check.
	if !afterQuiet && callstatus.ShouldDefer(res.Status, st.lastMediaAt, now, m.quiet) {
		m.mu.Unlock()
		m.timers.Set(timers.PendingTerminal+":"+u.CallID, m.quiet, func() {
			if err := m.apply(context.Background(), u, status, true); err != nil {
				slog.Warn("lifecycle: deferred status apply failed", "call_id", u.CallID, "err", err)
			}
		})
		slog.Debug("lifecycle: terminal status deferred", "call_id", u.CallID, "status", res.Status)
		return nil
	}

	// Out-of-order callbacks never move a call backwards on the lattice.
	if callstatus.Rank(res.Status) < st.rank {
		m.mu.Unlock()
		slog.Debug("lifecycle: stale status dropped", "call_id", u.CallID, "status", res.Status)
		return nil
	}
	st.rank = callstatus.Rank(res.Status)
	if res.Status == callstatus.StatusAnswered || res.Status == callstatus.StatusInProgress {
		st.priorProgress = true
		if st.answeredAt.IsZero() {
			st.answeredAt = now
		}
	}
	terminal := res.Status.IsTerminal()
	if terminal {
		st.done = true
	}
	snapshot := *st
	m.mu.Unlock()

	m.persist(ctx, u, res, snapshot, terminal, now)
	m.mirror(ctx, u.CallID, res.Status, terminal)
	if terminal {
		m.finish(ctx, u, res, snapshot)
	}
	return nil
}

func (m *Manager) persist(ctx context.Context, u Update, res callstatus.Result, st callState, terminal bool, now time.Time) {
	rec := store.CallRecord{
		ID:                u.CallID,
		Status:            string(res.Status),
		Duration:          u.Duration,
		VoicemailDetected: res.VoicemailDetected,
		ErrorCode:         u.ErrorCode,
		ErrorMessage:      u.ErrorMessage,
	}
	if !st.answeredAt.IsZero() {
		at := st.answeredAt
		rec.AnsweredAt = &at
	}
	if terminal {
		ended := now
		rec.EndedAt = &ended
	}
	if err := m.store.UpdateCallStatus(ctx, rec); err != nil {
		slog.Warn("lifecycle: call status write failed", "call_id", u.CallID, "err", err)
	}
}

func (m *Manager) mirror(ctx context.Context, callID string, status callstatus.Status, terminal bool) {
	if m.console == nil {
		return
	}
	if terminal {
		m.console.Close(ctx, callID, status)
		return
	}
	m.console.SetStatus(callID, status)
}

// finish queues the terminal notifications and ends any session still live.
func (m *Manager) finish(ctx context.Context, u Update, res callstatus.Result, st callState) {
	m.timers.Clear(timers.PendingTerminal + ":" + u.CallID)

	if m.registry != nil {
		if sess, ok := m.registry.Get(u.CallID); ok {
			sess.End("provider_"+string(res.Status), "")
		}
	}

	if m.metrics != nil {
		m.metrics.RecordCallEnded(ctx, string(res.Status), string(st.direction), u.Duration)
	}

	if m.notify == nil {
		return
	}
	payload := map[string]any{
		"status":     string(res.Status),
		"phone":      st.phone,
		"duration_s": int(u.Duration / time.Second),
	}
	if res.VoicemailDetected {
		payload["voicemail"] = true
	}
	if u.ErrorMessage != "" {
		payload["error"] = u.ErrorMessage
	}
	if err := m.notify.EnqueueStatus(ctx, u.CallID, st.chatID, payload); err != nil {
		slog.Warn("lifecycle: status notification enqueue failed", "call_id", u.CallID, "err", err)
	}
	// A transcript bubble only makes sense for a conversation that happened.
	if res.Status == callstatus.StatusCompleted {
		if err := m.notify.EnqueueTranscript(ctx, u.CallID, st.chatID); err != nil {
			slog.Warn("lifecycle: transcript notification enqueue failed", "call_id", u.CallID, "err", err)
		}
	}
}

// Forget drops a call's tracked state. Late callbacks for it are treated as
// stale.
func (m *Manager) Forget(callID string) {
	m.timers.Clear(timers.PendingTerminal + ":" + callID)
	m.mu.Lock()
	delete(m.calls, callID)
	m.mu.Unlock()
}

// Close stops all pending deferral timers.
func (m *Manager) Close() {
	m.timers.Close()
}
