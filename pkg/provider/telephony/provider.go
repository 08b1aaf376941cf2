// Package telephony defines the Provider interface for telephony backends.
//
// A telephony provider wraps a programmable-voice vendor (e.g., Twilio) and
// exposes call control: placing outbound calls, hanging up, and redirecting a
// live call into the vendor's keypad-gather flow. Live call audio does not
// flow through this interface; the vendor pushes it to the orchestrator's
// media-stream WebSocket endpoint, whose wire messages are modelled by
// [StreamEvent] and the outbound frame builders in this package.
//
// Implementations must be safe for concurrent use.
package telephony

import (
	"context"
	"time"
)

// Direction distinguishes who initiated a call.
type Direction string

const (
	DirectionOutbound Direction = "outbound"
	DirectionInbound  Direction = "inbound"
)

// CallRequest describes an outbound call to place.
type CallRequest struct {
	// To is the destination number in E.164 format.
	To string

	// From is the caller id, in E.164 format. Empty uses the provider's
	// configured default.
	From string

	// StatusCallbackURL receives call status webhooks. Required.
	StatusCallbackURL string

	// StreamURL is the wss:// endpoint the vendor connects its media stream
	// to once the call is answered. Required.
	StreamURL string

	// MachineDetection asks the vendor to run answering-machine detection
	// and report the verdict in status callbacks.
	MachineDetection bool

	// Timeout is how long to let the call ring before giving up.
	// Zero uses the vendor default.
	Timeout time.Duration
}

// CallInfo identifies a placed or in-progress call.
type CallInfo struct {
	// ID is the vendor-assigned call identifier (e.g., a Twilio Call SID).
	ID string

	// To and From echo the request.
	To   string
	From string

	// Status is the vendor's initial raw status string (e.g., "queued").
	Status string
}

// GatherRequest redirects a live call into the vendor's DTMF gather flow.
// Used as the degraded-mode fallback when the in-stream digit collector's
// circuit is open.
type GatherRequest struct {
	// Prompt is spoken to the caller before gathering.
	Prompt string

	// NumDigits is the expected digit count. Zero accepts any length up to
	// the vendor limit.
	NumDigits int

	// Timeout is the inter-digit timeout.
	Timeout time.Duration

	// ActionURL receives the gather result webhook. Required.
	ActionURL string
}

// Provider is the abstraction over any programmable-voice backend.
//
// Implementations must be safe for concurrent use; many calls may be live at
// once.
type Provider interface {
	// PlaceCall initiates an outbound call and returns its identity. The call
	// proceeds asynchronously; progress arrives via status webhooks and the
	// media stream.
	PlaceCall(ctx context.Context, req CallRequest) (CallInfo, error)

	// Hangup terminates a live call. Terminating an already-ended call is not
	// an error.
	Hangup(ctx context.Context, callID string) error

	// RedirectToGather moves a live call out of the media stream and into the
	// vendor's own DTMF gather flow.
	RedirectToGather(ctx context.Context, callID string, req GatherRequest) error
}
