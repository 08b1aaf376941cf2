// Package mock provides an in-memory test double for the store.Store
// interface.
package mock

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/calloway-ai/switchboard/internal/store"
)

// Store is an in-memory implementation of store.Store. The zero value is
// ready to use. All methods are safe for concurrent use.
type Store struct {
	mu sync.Mutex

	// Err, if non-nil, is returned from every method. Used to simulate a
	// database outage.
	Err error

	calls         map[string]store.CallRecord
	transcripts   map[string][]store.TranscriptEntry
	events        []store.CallEvent
	digitEvents   []store.DigitEvent
	notifications []*store.Notification
	nextID        int64
}

// CreateCall implements [store.CallStore].
func (s *Store) CreateCall(_ context.Context, rec store.CallRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	if s.calls == nil {
		s.calls = make(map[string]store.CallRecord)
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now()
	}
	if rec.Status == "" {
		rec.Status = "initiated"
	}
	s.calls[rec.ID] = rec
	return nil
}

// GetCall implements [store.CallStore].
func (s *Store) GetCall(_ context.Context, callID string) (store.CallRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return store.CallRecord{}, s.Err
	}
	rec, ok := s.calls[callID]
	if !ok {
		return store.CallRecord{}, store.ErrNotFound
	}
	return rec, nil
}

// UpdateCallStatus implements [store.CallStore].
func (s *Store) UpdateCallStatus(_ context.Context, rec store.CallRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	cur, ok := s.calls[rec.ID]
	if !ok {
		return store.ErrNotFound
	}
	cur.Status = rec.Status
	cur.VoicemailDetected = rec.VoicemailDetected
	if cur.AnsweredAt == nil && rec.AnsweredAt != nil {
		cur.AnsweredAt = rec.AnsweredAt
	}
	if cur.EndedAt == nil && rec.EndedAt != nil {
		cur.EndedAt = rec.EndedAt
	}
	if rec.Duration > cur.Duration {
		cur.Duration = rec.Duration
	}
	if rec.ErrorCode != "" {
		cur.ErrorCode = rec.ErrorCode
	}
	if rec.ErrorMessage != "" {
		cur.ErrorMessage = rec.ErrorMessage
	}
	s.calls[rec.ID] = cur
	return nil
}

// SetCallSummary implements [store.CallStore].
func (s *Store) SetCallSummary(_ context.Context, callID, summary, lastOTPMasked, digitSummary string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	cur, ok := s.calls[callID]
	if !ok {
		return store.ErrNotFound
	}
	cur.Summary = summary
	cur.LastOTPMasked = lastOTPMasked
	cur.DigitSummary = digitSummary
	s.calls[callID] = cur
	return nil
}

// AppendTranscript implements [store.TranscriptStore].
func (s *Store) AppendTranscript(_ context.Context, entry store.TranscriptEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	if s.transcripts == nil {
		s.transcripts = make(map[string][]store.TranscriptEntry)
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	s.transcripts[entry.CallID] = append(s.transcripts[entry.CallID], entry)
	return nil
}

// ListTranscripts implements [store.TranscriptStore].
func (s *Store) ListTranscripts(_ context.Context, callID string) ([]store.TranscriptEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	entries := append([]store.TranscriptEntry(nil), s.transcripts[callID]...)
	return entries, nil
}

// AppendEvent implements [store.EventStore].
func (s *Store) AppendEvent(_ context.Context, ev store.CallEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	s.events = append(s.events, ev)
	return nil
}

// AppendDigitEvent implements [store.EventStore].
func (s *Store) AppendDigitEvent(_ context.Context, ev store.DigitEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	s.digitEvents = append(s.digitEvents, ev)
	return nil
}

// EnqueueNotification implements [store.NotificationStore].
func (s *Store) EnqueueNotification(_ context.Context, n store.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	for _, existing := range s.notifications {
		if existing.CallID == n.CallID && existing.Kind == n.Kind &&
			(existing.State == store.NotificationPending || existing.State == store.NotificationRetrying) {
			return nil
		}
	}
	s.nextID++
	n.ID = s.nextID
	n.State = store.NotificationPending
	if n.NextAttemptAt.IsZero() {
		n.NextAttemptAt = time.Now()
	}
	n.CreatedAt = time.Now()
	n.UpdatedAt = n.CreatedAt
	s.notifications = append(s.notifications, &n)
	return nil
}

// DueNotifications implements [store.NotificationStore].
func (s *Store) DueNotifications(_ context.Context, now time.Time, limit int) ([]store.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	var due []store.Notification
	for _, n := range s.notifications {
		if (n.State == store.NotificationPending || n.State == store.NotificationRetrying) &&
			!n.NextAttemptAt.After(now) {
			due = append(due, *n)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].CreatedAt.Equal(due[j].CreatedAt) {
			return due[i].ID < due[j].ID
		}
		return due[i].CreatedAt.Before(due[j].CreatedAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// MarkNotificationSent implements [store.NotificationStore].
func (s *Store) MarkNotificationSent(_ context.Context, id int64) error {
	return s.setNotificationState(id, func(n *store.Notification) {
		n.State = store.NotificationSent
		n.ErrorMessage = ""
	})
}

// MarkNotificationRetry implements [store.NotificationStore].
func (s *Store) MarkNotificationRetry(_ context.Context, id int64, nextAttempt time.Time, errMsg string) error {
	return s.setNotificationState(id, func(n *store.Notification) {
		n.State = store.NotificationRetrying
		n.RetryCount++
		n.NextAttemptAt = nextAttempt
		n.ErrorMessage = errMsg
	})
}

// MarkNotificationFailed implements [store.NotificationStore].
func (s *Store) MarkNotificationFailed(_ context.Context, id int64, errMsg string) error {
	return s.setNotificationState(id, func(n *store.Notification) {
		n.State = store.NotificationFailed
		n.ErrorMessage = errMsg
	})
}

func (s *Store) setNotificationState(id int64, apply func(*store.Notification)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	for _, n := range s.notifications {
		if n.ID == id {
			apply(n)
			n.UpdatedAt = time.Now()
			return nil
		}
	}
	return store.ErrNotFound
}

// --- Test inspection helpers ---

// Events returns a copy of all recorded call events.
func (s *Store) Events() []store.CallEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]store.CallEvent(nil), s.events...)
}

// DigitEvents returns a copy of all recorded digit events.
func (s *Store) DigitEvents() []store.DigitEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]store.DigitEvent(nil), s.digitEvents...)
}

// Notifications returns a copy of every notification row, any state.
func (s *Store) Notifications() []store.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.Notification, 0, len(s.notifications))
	for _, n := range s.notifications {
		out = append(out, *n)
	}
	return out
}

// Ensure Store implements store.Store at compile time.
var _ store.Store = (*Store)(nil)
