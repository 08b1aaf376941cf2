// Package timers provides named, cancellable timers scoped to one call
// session.
//
// Each session owns a [Manager]; subsystems arm timers by well-known name
// (silence, digit timeout, console-edit debounce, …) and the session tears the
// whole set down in one call. The contract that matters is cancellation: once
// [Manager.Clear] (or [Manager.ClearAll]) returns, the cleared timer's handler
// is guaranteed not to run, even if the underlying timer already expired and
// its firing goroutine is waiting on the manager lock.
package timers

import (
	"sync"
	"time"
)

// Well-known timer names used across the orchestrator.
const (
	Silence         = "silence"
	DigitTimeout    = "digit_timeout"
	ConsoleEdit     = "console_edit"
	PendingTerminal = "pending_terminal"
	NoResponseInfer = "no_response_infer"
)

// entry tracks one armed timer. gen disambiguates a firing goroutine from a
// newer timer armed under the same name.
type entry struct {
	timer *time.Timer
	gen   uint64
}

// Manager owns the named timers of a single call session. The zero value is
// not usable; create one with [NewManager]. Safe for concurrent use.
type Manager struct {
	mu     sync.Mutex
	timers map[string]*entry
	gen    uint64
	closed bool
}

// NewManager creates an empty timer Manager.
func NewManager() *Manager {
	return &Manager{timers: make(map[string]*entry)}
}

// Set arms (or re-arms) the named timer to invoke fn after d. A previously
// armed timer under the same name is cancelled first, so Set doubles as reset.
// Setting a timer on a closed manager is a no-op.
func (m *Manager) Set(name string, d time.Duration, fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	if prev, ok := m.timers[name]; ok {
		prev.timer.Stop()
	}

	m.gen++
	gen := m.gen
	e := &entry{gen: gen}
	e.timer = time.AfterFunc(d, func() {
		m.fire(name, gen, fn)
	})
	m.timers[name] = e
}

// fire runs when the underlying timer expires. The handler is only invoked if
// the entry is still registered under the same generation — a Clear or a
// newer Set makes the expiry a no-op.
func (m *Manager) fire(name string, gen uint64, fn func()) {
	m.mu.Lock()
	e, ok := m.timers[name]
	if !ok || e.gen != gen || m.closed {
		m.mu.Unlock()
		return
	}
	delete(m.timers, name)
	m.mu.Unlock()

	fn()
}

// Clear cancels the named timer. After Clear returns, the timer's handler
// will not run. Clearing an unknown name is a no-op.
func (m *Manager) Clear(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.timers[name]; ok {
		e.timer.Stop()
		delete(m.timers, name)
	}
}

// Active reports whether the named timer is currently armed.
func (m *Manager) Active(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.timers[name]
	return ok
}

// ClearAll cancels every armed timer. Used on session teardown paths that
// keep the manager alive (e.g. STT reconnect).
func (m *Manager) ClearAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for name, e := range m.timers {
		e.timer.Stop()
		delete(m.timers, name)
	}
}

// Close cancels every timer and marks the manager unusable. Subsequent Set
// calls are silently dropped; this is the terminal teardown path.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	for name, e := range m.timers {
		e.timer.Stop()
		delete(m.timers, name)
	}
}
