// Package sms defines the Provider interface for outbound text messaging.
//
// SMS is the fallback channel when in-call digit collection keeps failing:
// the orchestrator texts the caller a secure entry link instead of retrying
// on the keypad. Implementations must be safe for concurrent use.
package sms

import "context"

// Message describes one outbound text message.
type Message struct {
	// To is the destination number in E.164 format.
	To string

	// From is the sending number. Empty uses the provider's configured
	// default.
	From string

	// Body is the message text.
	Body string

	// IdempotencyKey lets the caller correlate delivery callbacks and guard
	// against duplicate sends. Providers that cannot forward it may ignore it.
	IdempotencyKey string
}

// SendResult reports the provider's acceptance of a message.
type SendResult struct {
	// ID is the provider-assigned message identifier.
	ID string

	// Status is the provider's initial raw status string (e.g., "queued").
	Status string
}

// Provider is the abstraction over any SMS backend.
type Provider interface {
	// Send submits one message for delivery. A nil error means the provider
	// accepted the message, not that it was delivered.
	Send(ctx context.Context, msg Message) (SendResult, error)
}
