package console

import "github.com/calloway-ai/switchboard/internal/callstatus"

// GateState is the inbound answer gate: an inbound call stays pending until
// the operator answers, declines, or the offer expires.
type GateState string

const (
	GatePending  GateState = "pending"
	GateAnswered GateState = "answered"
	GateDeclined GateState = "declined"
	GateExpired  GateState = "expired"
)

// inboundGate coerces displayed statuses while the operator has not yet acted
// on an inbound call. Provider callbacks can claim the call is answered before
// anyone picked it up in the mini-app; the gate downgrades those.
type inboundGate struct {
	state GateState
}

func newInboundGate() *inboundGate {
	return &inboundGate{state: GatePending}
}

// resolve moves the gate out of pending. Later resolutions are ignored.
func (g *inboundGate) resolve(to GateState) {
	if g == nil || g.state != GatePending {
		return
	}
	switch to {
	case GateAnswered, GateDeclined, GateExpired:
		g.state = to
	}
}

// coerce maps a status onto what the operator should see given the gate. A
// nil gate (outbound call) passes everything through.
func (g *inboundGate) coerce(s callstatus.Status) callstatus.Status {
	if g == nil || g.state != GatePending {
		return s
	}
	switch s {
	case callstatus.StatusAnswered, callstatus.StatusInProgress:
		return callstatus.StatusRinging
	case callstatus.StatusCompleted, callstatus.StatusCanceled:
		return callstatus.StatusNoAnswer
	}
	return s
}
