package session

import (
	"fmt"
	"sync"
)

// Registry owns every live session, keyed by call id. It is the single place
// sessions are created and destroyed; other components receive session
// handles, never the map itself.
//
// All methods are safe for concurrent use.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Create builds a session from cfg and registers it. Exactly one session may
// exist per call id; a second Create for the same id fails. The registry
// installs its own OnEnded hook so an ended session drops out automatically,
// chaining to any hook already present in cfg.
func (r *Registry) Create(cfg Config) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[cfg.CallID]; ok {
		return nil, fmt.Errorf("session: call %s already has a session", cfg.CallID)
	}

	inner := cfg.OnEnded
	cfg.OnEnded = func(callID string) {
		r.mu.Lock()
		delete(r.sessions, callID)
		r.mu.Unlock()
		if inner != nil {
			inner(callID)
		}
	}

	s, err := New(cfg)
	if err != nil {
		return nil, err
	}
	r.sessions[cfg.CallID] = s
	return s, nil
}

// Get returns the live session for a call id.
func (r *Registry) Get(callID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[callID]
	return s, ok
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// CallIDs returns a snapshot of the live call ids.
func (r *Registry) CallIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Shutdown ends every live session with the given closing message. Used on
// process termination so callers hear a goodbye instead of a dead line.
func (r *Registry) Shutdown(closing string) {
	r.mu.Lock()
	live := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		live = append(live, s)
	}
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range live {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			s.End("shutdown", closing)
		}(s)
	}
	wg.Wait()
}
