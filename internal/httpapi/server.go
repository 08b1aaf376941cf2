// Package httpapi is the orchestrator's inbound HTTP surface: the provider's
// call-status and incoming-voice webhooks, the DTMF gather-fallback action,
// and the media-stream WebSocket endpoint. Handlers stay thin; classification
// lives in the lifecycle manager and digit semantics in the digit engine.
package httpapi

import (
	"context"
	"encoding/xml"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/calloway-ai/switchboard/internal/digits"
	"github.com/calloway-ai/switchboard/internal/lifecycle"
	"github.com/calloway-ai/switchboard/internal/session"
)

// Route paths served by [Server.Handler].
const (
	StatusPath = "/webhooks/status"
	VoicePath  = "/webhooks/voice"
	GatherPath = "/webhooks/gather"
	MediaPath  = "/media"
)

// InboundCall describes an incoming call offered by the provider's voice
// webhook.
type InboundCall struct {
	CallSID string
	From    string
	To      string
}

// Config assembles a Server.
type Config struct {
	Registry  *session.Registry
	Lifecycle *lifecycle.Manager

	// Engine receives gather-fallback digits. Optional; without it the
	// gather action only acknowledges.
	Engine *digits.Engine

	// StreamURL is the wss:// media endpoint incoming calls and gather
	// responses connect to. Optional.
	StreamURL string

	// Inbound prepares a session for an incoming call before the voice
	// webhook connects the caller to the media stream. Optional; without it
	// incoming calls are declined.
	Inbound func(ctx context.Context, call InboundCall) error
}

// Server holds the webhook and media-stream handlers.
type Server struct {
	registry  *session.Registry
	lifecycle *lifecycle.Manager
	engine    *digits.Engine
	streamURL string
	inbound   func(ctx context.Context, call InboundCall) error
}

// NewServer creates a Server.
func NewServer(cfg Config) (*Server, error) {
	var errs []error
	if cfg.Registry == nil {
		errs = append(errs, errors.New("httpapi: Registry must not be nil"))
	}
	if cfg.Lifecycle == nil {
		errs = append(errs, errors.New("httpapi: Lifecycle must not be nil"))
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return &Server{
		registry:  cfg.Registry,
		lifecycle: cfg.Lifecycle,
		engine:    cfg.Engine,
		streamURL: cfg.StreamURL,
		inbound:   cfg.Inbound,
	}, nil
}

// Handler returns the route mux for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+StatusPath, s.handleStatus)
	mux.HandleFunc("POST "+GatherPath, s.handleGather)
	mux.HandleFunc("POST "+VoicePath, s.handleVoice)
	mux.HandleFunc(MediaPath, s.handleMedia)
	return mux
}

// handleVoice answers an incoming call. When the app accepts it, the caller
// is connected straight to the media stream; otherwise the call is declined
// with a short apology.
func (s *Server) handleVoice(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	callID := r.FormValue("CallSid")
	if callID == "" {
		http.Error(w, "missing CallSid", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "text/xml")

	if s.inbound == nil || s.streamURL == "" {
		_, _ = w.Write([]byte(declineTwiML))
		return
	}
	call := InboundCall{
		CallSID: callID,
		From:    r.FormValue("From"),
		To:      r.FormValue("To"),
	}
	if err := s.inbound(r.Context(), call); err != nil {
		slog.Warn("httpapi: incoming call declined",
			"call_id", callID, "from", call.From, "err", err)
		_, _ = w.Write([]byte(declineTwiML))
		return
	}
	_, _ = w.Write([]byte(connectStreamTwiML(s.streamURL)))
}

// declineTwiML is the response for incoming calls the app will not take.
const declineTwiML = `<Response><Say>We are unable to take your call right now. Goodbye.</Say><Hangup/></Response>`

// connectStreamTwiML bridges a live call into the media-stream WebSocket.
func connectStreamTwiML(streamURL string) string {
	var b strings.Builder
	b.WriteString(`<Response><Connect><Stream url="`)
	_ = xml.EscapeText(&b, []byte(streamURL))
	b.WriteString(`"/></Connect></Response>`)
	return b.String()
}

// handleStatus consumes one provider call-status callback. The response is
// always 200 OK; classification failures are the orchestrator's problem, not
// the provider's.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	callID := r.FormValue("CallSid")
	if callID == "" {
		http.Error(w, "missing CallSid", http.StatusBadRequest)
		return
	}

	u := lifecycle.Update{
		CallID:       callID,
		RawStatus:    r.FormValue("CallStatus"),
		Duration:     authoritativeDuration(r),
		AnsweredBy:   r.FormValue("AnsweredBy"),
		ErrorCode:    r.FormValue("ErrorCode"),
		ErrorMessage: r.FormValue("ErrorMessage"),
	}
	if err := s.lifecycle.Report(r.Context(), u); err != nil {
		slog.Warn("httpapi: status callback rejected",
			"call_id", callID, "status", u.RawStatus, "err", err)
	}

	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte("OK"))
}

// authoritativeDuration takes the max of the provider's three duration
// fields, in whole seconds.
func authoritativeDuration(r *http.Request) time.Duration {
	best := 0
	for _, field := range []string{"Duration", "CallDuration", "DialCallDuration"} {
		if v, err := strconv.Atoi(r.FormValue(field)); err == nil && v > best {
			best = v
		}
	}
	return time.Duration(best) * time.Second
}

// handleGather consumes the gather-fallback action callback. Empty Digits
// counts as a timeout attempt. The TwiML response reconnects the call to the
// media stream while a collection is still active.
func (s *Server) handleGather(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	callID := r.FormValue("CallSid")
	entered := r.FormValue("Digits")

	if s.engine != nil && callID != "" {
		if entered == "" {
			s.engine.HandleTimeout(r.Context(), callID)
		} else {
			c, err := s.engine.RecordDigits(r.Context(), callID, entered, digits.Meta{Channel: digits.ChannelDTMF})
			if err != nil {
				slog.Warn("httpapi: gather digits for idle call", "call_id", callID, "err", err)
			} else {
				s.engine.HandleCollection(r.Context(), callID, c, digits.ChannelDTMF)
			}
		}
	}

	w.Header().Set("Content-Type", "text/xml")
	_, _ = w.Write([]byte(s.gatherResponse(callID)))
}

// gatherResponse builds the TwiML answer to a gather action: reconnect to the
// stream while more input is expected, otherwise an empty response.
func (s *Server) gatherResponse(callID string) string {
	if s.engine == nil || s.streamURL == "" {
		return "<Response/>"
	}
	if _, active := s.engine.Expectation(callID); !active {
		return "<Response/>"
	}
	return connectStreamTwiML(s.streamURL)
}
