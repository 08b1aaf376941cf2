// Package store defines the persistence interfaces and record types for call
// history: call rows, transcripts, typed call-state events, digit-collection
// audit events, and the durable notification queue.
//
// The concrete PostgreSQL implementation lives in the postgres subpackage; a
// mock for tests lives in the mock subpackage.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// Speaker identifies who produced a transcript line.
type Speaker string

const (
	SpeakerUser  Speaker = "user"
	SpeakerAgent Speaker = "ai"
)

// NotificationState is the lifecycle state of a queued notification.
type NotificationState string

const (
	NotificationPending  NotificationState = "pending"
	NotificationSent     NotificationState = "sent"
	NotificationRetrying NotificationState = "retrying"
	NotificationFailed   NotificationState = "failed"
)

// CallRecord is one persisted call.
type CallRecord struct {
	ID           string
	Phone        string
	Direction    string
	Prompt       string
	FirstMessage string

	// ChatID is the operator chat channel that owns this call's console
	// bubble and notifications.
	ChatID string

	StartedAt  time.Time
	AnsweredAt *time.Time
	EndedAt    *time.Time
	Duration   time.Duration

	Status            string
	VoicemailDetected bool
	ErrorCode         string
	ErrorMessage      string

	Summary string

	// LastOTPMasked holds at most the last digits of a collected OTP in
	// masked form (e.g. "****17"). Raw codes are never stored.
	LastOTPMasked string

	// DigitSummary is a short human-readable digest of digit collection
	// during the call.
	DigitSummary string
}

// TranscriptEntry is one persisted transcript line.
type TranscriptEntry struct {
	CallID           string
	Speaker          Speaker
	Message          string
	InteractionCount int
	Personality      string

	// Adaptation is an opaque JSON snapshot of the agent's adaptation
	// history at the time of the line.
	Adaptation []byte

	Timestamp time.Time
}

// CallEvent is one typed call-state transition with a free-form payload.
type CallEvent struct {
	CallID    string
	Kind      string
	Payload   map[string]any
	Timestamp time.Time
}

// DigitEvent is one digit-collection audit row. Raw digits never appear
// here; Masked carries the display-safe form when compliance allows it.
type DigitEvent struct {
	CallID     string
	Source     string
	Profile    string
	Length     int
	Accepted   bool
	Reason     string
	Masked     string
	Confidence float64
	Timestamp  time.Time
}

// Notification is one row of the durable operator-notification queue.
type Notification struct {
	ID            int64
	CallID        string
	Kind          string
	ChatID        string
	State         NotificationState
	RetryCount    int
	NextAttemptAt time.Time
	ErrorMessage  string

	// Payload is the template data the dispatcher renders the bubble from.
	Payload map[string]any

	CreatedAt time.Time
	UpdatedAt time.Time
}

// CallStore persists call rows.
type CallStore interface {
	// CreateCall inserts a new call row. The record's ID must be set.
	CreateCall(ctx context.Context, rec CallRecord) error

	// GetCall returns a call row, or ErrNotFound.
	GetCall(ctx context.Context, callID string) (CallRecord, error)

	// UpdateCallStatus records a status transition and any answer/end
	// timestamps, duration, and error fields carried with it.
	UpdateCallStatus(ctx context.Context, rec CallRecord) error

	// SetCallSummary stores the post-call summary, masked OTP, and digit
	// digest.
	SetCallSummary(ctx context.Context, callID, summary, lastOTPMasked, digitSummary string) error
}

// TranscriptStore persists transcript lines.
type TranscriptStore interface {
	AppendTranscript(ctx context.Context, entry TranscriptEntry) error

	// ListTranscripts returns all lines for a call ordered chronologically.
	ListTranscripts(ctx context.Context, callID string) ([]TranscriptEntry, error)
}

// EventStore persists call-state and digit audit events.
type EventStore interface {
	AppendEvent(ctx context.Context, ev CallEvent) error
	AppendDigitEvent(ctx context.Context, ev DigitEvent) error
}

// NotificationStore is the durable FIFO behind the notification dispatcher.
type NotificationStore interface {
	// EnqueueNotification inserts a pending notification. At most one live
	// (non-failed, non-sent) notification exists per (call, kind); enqueueing
	// a duplicate is a no-op.
	EnqueueNotification(ctx context.Context, n Notification) error

	// DueNotifications returns pending or retrying notifications whose
	// next-attempt time is not after now, oldest first, up to limit.
	DueNotifications(ctx context.Context, now time.Time, limit int) ([]Notification, error)

	// MarkNotificationSent transitions a notification to sent.
	MarkNotificationSent(ctx context.Context, id int64) error

	// MarkNotificationRetry transitions a notification to retrying with an
	// incremented retry count and the given next attempt time.
	MarkNotificationRetry(ctx context.Context, id int64, nextAttempt time.Time, errMsg string) error

	// MarkNotificationFailed transitions a notification to failed.
	MarkNotificationFailed(ctx context.Context, id int64, errMsg string) error
}

// Store is the full persistence surface used by the orchestrator.
type Store interface {
	CallStore
	TranscriptStore
	EventStore
	NotificationStore
}
