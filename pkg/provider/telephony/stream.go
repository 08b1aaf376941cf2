package telephony

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// EventKind identifies a media-stream wire message.
type EventKind string

const (
	EventConnected EventKind = "connected"
	EventStart     EventKind = "start"
	EventMedia     EventKind = "media"
	EventDTMF      EventKind = "dtmf"
	EventMark      EventKind = "mark"
	EventStop      EventKind = "stop"
)

// StreamEvent is one decoded message from the vendor's media-stream
// WebSocket. Exactly one of the pointer fields matching Kind is set.
type StreamEvent struct {
	Kind EventKind

	// Start is set for EventStart.
	Start *StartEvent

	// Media is set for EventMedia.
	Media *MediaEvent

	// DTMF is set for EventDTMF.
	DTMF *DTMFEvent

	// Mark is set for EventMark.
	Mark *MarkEvent

	// Stop is set for EventStop.
	Stop *StopEvent
}

// StartEvent announces the stream and binds it to a call.
type StartEvent struct {
	// StreamSID identifies this media stream; outbound frames echo it.
	StreamSID string

	// CallSID is the vendor call identifier the stream belongs to.
	CallSID string

	// CustomParameters carries values the orchestrator attached when
	// requesting the stream (e.g., an internal call id).
	CustomParameters map[string]string

	// Encoding and SampleRate describe the media format. Telephony streams
	// are 8 kHz µ-law.
	Encoding   string
	SampleRate int
}

// MediaEvent carries one frame of caller audio, already base64-decoded.
type MediaEvent struct {
	// Track is "inbound" or "outbound".
	Track string

	// Payload is the raw µ-law audio frame.
	Payload []byte
}

// DTMFEvent reports a single keypad press.
type DTMFEvent struct {
	// Digit is the pressed key: 0-9, *, or #.
	Digit string
}

// MarkEvent confirms that previously sent outbound audio up to the named mark
// has finished playing on the call.
type MarkEvent struct {
	Name string
}

// StopEvent announces the end of the media stream.
type StopEvent struct {
	CallSID string
}

// wireMessage is the vendor's JSON envelope, used for both directions.
type wireMessage struct {
	Event     string `json:"event"`
	StreamSID string `json:"streamSid,omitempty"`
	Start     *struct {
		StreamSID        string            `json:"streamSid"`
		CallSID          string            `json:"callSid"`
		CustomParameters map[string]string `json:"customParameters"`
		MediaFormat      struct {
			Encoding   string `json:"encoding"`
			SampleRate int    `json:"sampleRate"`
		} `json:"mediaFormat"`
	} `json:"start,omitempty"`
	Media *struct {
		Track   string `json:"track,omitempty"`
		Payload string `json:"payload"`
	} `json:"media,omitempty"`
	DTMF *struct {
		Digit string `json:"digit"`
	} `json:"dtmf,omitempty"`
	Mark *struct {
		Name string `json:"name"`
	} `json:"mark,omitempty"`
	Stop *struct {
		CallSID string `json:"callSid"`
	} `json:"stop,omitempty"`
}

// ParseEvent decodes one raw media-stream WebSocket message.
func ParseEvent(data []byte) (StreamEvent, error) {
	var msg wireMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return StreamEvent{}, fmt.Errorf("telephony: decode stream message: %w", err)
	}

	switch EventKind(msg.Event) {
	case EventConnected:
		return StreamEvent{Kind: EventConnected}, nil

	case EventStart:
		if msg.Start == nil {
			return StreamEvent{}, fmt.Errorf("telephony: start event without start body")
		}
		return StreamEvent{Kind: EventStart, Start: &StartEvent{
			StreamSID:        msg.Start.StreamSID,
			CallSID:          msg.Start.CallSID,
			CustomParameters: msg.Start.CustomParameters,
			Encoding:         msg.Start.MediaFormat.Encoding,
			SampleRate:       msg.Start.MediaFormat.SampleRate,
		}}, nil

	case EventMedia:
		if msg.Media == nil {
			return StreamEvent{}, fmt.Errorf("telephony: media event without media body")
		}
		payload, err := base64.StdEncoding.DecodeString(msg.Media.Payload)
		if err != nil {
			return StreamEvent{}, fmt.Errorf("telephony: decode media payload: %w", err)
		}
		return StreamEvent{Kind: EventMedia, Media: &MediaEvent{
			Track:   msg.Media.Track,
			Payload: payload,
		}}, nil

	case EventDTMF:
		if msg.DTMF == nil {
			return StreamEvent{}, fmt.Errorf("telephony: dtmf event without dtmf body")
		}
		return StreamEvent{Kind: EventDTMF, DTMF: &DTMFEvent{Digit: msg.DTMF.Digit}}, nil

	case EventMark:
		if msg.Mark == nil {
			return StreamEvent{}, fmt.Errorf("telephony: mark event without mark body")
		}
		return StreamEvent{Kind: EventMark, Mark: &MarkEvent{Name: msg.Mark.Name}}, nil

	case EventStop:
		ev := StreamEvent{Kind: EventStop, Stop: &StopEvent{}}
		if msg.Stop != nil {
			ev.Stop.CallSID = msg.Stop.CallSID
		}
		return ev, nil

	default:
		return StreamEvent{}, fmt.Errorf("telephony: unknown stream event %q", msg.Event)
	}
}

// outboundMedia is the envelope for audio sent back to the call.
type outboundMedia struct {
	Event     string `json:"event"`
	StreamSID string `json:"streamSid"`
	Media     struct {
		Payload string `json:"payload"`
	} `json:"media"`
}

// outboundMark asks the vendor to report back when queued audio has played.
type outboundMark struct {
	Event     string `json:"event"`
	StreamSID string `json:"streamSid"`
	Mark      struct {
		Name string `json:"name"`
	} `json:"mark"`
}

// outboundClear flushes the vendor's queued outbound audio (barge-in).
type outboundClear struct {
	Event     string `json:"event"`
	StreamSID string `json:"streamSid"`
}

// MediaMessage encodes one outbound audio frame for the stream.
func MediaMessage(streamSID string, payload []byte) ([]byte, error) {
	msg := outboundMedia{Event: string(EventMedia), StreamSID: streamSID}
	msg.Media.Payload = base64.StdEncoding.EncodeToString(payload)
	return json.Marshal(msg)
}

// MarkMessage encodes a playback mark for the stream.
func MarkMessage(streamSID, name string) ([]byte, error) {
	msg := outboundMark{Event: string(EventMark), StreamSID: streamSID}
	msg.Mark.Name = name
	return json.Marshal(msg)
}

// ClearMessage encodes a clear command, dropping queued outbound audio.
func ClearMessage(streamSID string) ([]byte, error) {
	return json.Marshal(outboundClear{Event: "clear", StreamSID: streamSID})
}
