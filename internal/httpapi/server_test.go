package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/calloway-ai/switchboard/internal/callstatus"
	"github.com/calloway-ai/switchboard/internal/digits"
	"github.com/calloway-ai/switchboard/internal/lifecycle"
	"github.com/calloway-ai/switchboard/internal/session"
	"github.com/calloway-ai/switchboard/internal/store"
	storemock "github.com/calloway-ai/switchboard/internal/store/mock"
	"github.com/calloway-ai/switchboard/pkg/provider/telephony"
)

// nullEffects satisfies digits.Effects for tests that only care about the
// engine's classification path.
type nullEffects struct {
	mu     sync.Mutex
	spoken []string
}

func (n *nullEffects) Speak(_ context.Context, _ string, text string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.spoken = append(n.spoken, text)
}

func (n *nullEffects) SendSMS(context.Context, string, string, string, string) error { return nil }
func (n *nullEffects) EndCall(context.Context, string, string, string)               {}
func (n *nullEffects) RouteToAgent(context.Context, string)                          {}

func (n *nullEffects) spokenCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.spoken)
}

type serverFixture struct {
	srv     *Server
	handler http.Handler
	st      *storemock.Store
	lc      *lifecycle.Manager
	engine  *digits.Engine
	effects *nullEffects
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()
	st := &storemock.Store{}
	lc, err := lifecycle.NewManager(lifecycle.Config{Store: st})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(lc.Close)

	effects := &nullEffects{}
	engine, err := digits.NewEngine(digits.Config{Effects: effects, Events: st})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	srv, err := NewServer(Config{
		Registry:  session.NewRegistry(),
		Lifecycle: lc,
		Engine:    engine,
		StreamURL: "wss://example.test/media",
	})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return &serverFixture{
		srv: srv, handler: srv.Handler(),
		st: st, lc: lc, engine: engine, effects: effects,
	}
}

func (f *serverFixture) trackCall(t *testing.T, callID string) {
	t.Helper()
	err := f.st.CreateCall(context.Background(), store.CallRecord{
		ID: callID, Phone: "+15550001111", ChatID: "chat-1",
	})
	if err != nil {
		t.Fatalf("CreateCall: %v", err)
	}
	f.lc.Register(callID, "chat-1", "+15550001111", telephony.DirectionOutbound)
}

func (f *serverFixture) post(t *testing.T, path string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	return w
}

func TestStatusWebhook_StoresAuthoritativeDuration(t *testing.T) {
	f := newServerFixture(t)
	f.trackCall(t, "CA-1")
	f.lc.ObserveAnswered("CA-1")

	w := f.post(t, StatusPath, url.Values{
		"CallSid":          {"CA-1"},
		"CallStatus":       {"completed"},
		"Duration":         {"5"},
		"CallDuration":     {"42"},
		"DialCallDuration": {"12"},
	})
	if w.Code != http.StatusOK || w.Body.String() != "OK" {
		t.Fatalf("status webhook = %d %q, want 200 OK", w.Code, w.Body.String())
	}

	rec, err := f.st.GetCall(context.Background(), "CA-1")
	if err != nil {
		t.Fatalf("GetCall: %v", err)
	}
	if rec.Status != string(callstatus.StatusCompleted) {
		t.Fatalf("stored status = %q, want completed", rec.Status)
	}
	if rec.Duration != 42*time.Second {
		t.Fatalf("stored duration = %v, want the max of the three fields (42s)", rec.Duration)
	}
}

func TestStatusWebhook_MissingCallSid(t *testing.T) {
	f := newServerFixture(t)
	w := f.post(t, StatusPath, url.Values{"CallStatus": {"ringing"}})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status webhook without CallSid = %d, want 400", w.Code)
	}
}

func TestStatusWebhook_UnknownStatusStillAcknowledged(t *testing.T) {
	f := newServerFixture(t)
	f.trackCall(t, "CA-1")
	w := f.post(t, StatusPath, url.Values{
		"CallSid": {"CA-1"}, "CallStatus": {"exploded"},
	})
	if w.Code != http.StatusOK || w.Body.String() != "OK" {
		t.Fatalf("unknown status = %d %q, want 200 OK", w.Code, w.Body.String())
	}
}

func TestVoiceWebhook_AcceptedCallConnectsStream(t *testing.T) {
	f := newServerFixture(t)

	var accepted []InboundCall
	srv, err := NewServer(Config{
		Registry:  session.NewRegistry(),
		Lifecycle: f.lc,
		StreamURL: "wss://example.test/media",
		Inbound: func(_ context.Context, call InboundCall) error {
			accepted = append(accepted, call)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	f.handler = srv.Handler()

	w := f.post(t, VoicePath, url.Values{
		"CallSid": {"CA-in"}, "From": {"+15550002222"}, "To": {"+15550009999"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("voice webhook = %d, want 200", w.Code)
	}
	if body := w.Body.String(); !strings.Contains(body, "wss://example.test/media") {
		t.Fatalf("voice response = %q, want stream connect", body)
	}
	if len(accepted) != 1 || accepted[0].CallSID != "CA-in" || accepted[0].From != "+15550002222" {
		t.Fatalf("inbound hook saw %+v, want one call CA-in from +15550002222", accepted)
	}
}

func TestVoiceWebhook_NoInboundHookDeclines(t *testing.T) {
	f := newServerFixture(t)
	w := f.post(t, VoicePath, url.Values{"CallSid": {"CA-in"}})
	if w.Code != http.StatusOK {
		t.Fatalf("voice webhook = %d, want 200", w.Code)
	}
	if body := w.Body.String(); !strings.Contains(body, "<Hangup/>") {
		t.Fatalf("voice response = %q, want decline", body)
	}
}

func TestVoiceWebhook_MissingCallSid(t *testing.T) {
	f := newServerFixture(t)
	w := f.post(t, VoicePath, url.Values{"From": {"+15550002222"}})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("voice webhook without CallSid = %d, want 400", w.Code)
	}
}

func TestGather_EmptyDigitsCountsAsTimeout(t *testing.T) {
	f := newServerFixture(t)
	err := f.engine.RequestCollection(context.Background(), "CA-1", digits.Params{
		Profile: "verification", ForceExactLength: 6, MaxRetries: 2,
		Prompt: "Enter your code.",
	}, false, "")
	if err != nil {
		t.Fatalf("RequestCollection: %v", err)
	}
	before := f.effects.spokenCount()

	w := f.post(t, GatherPath, url.Values{"CallSid": {"CA-1"}, "Digits": {""}})
	if w.Code != http.StatusOK {
		t.Fatalf("gather action = %d, want 200", w.Code)
	}
	if got := f.effects.spokenCount(); got <= before {
		t.Fatal("gather timeout did not reprompt")
	}
	// Collection still open: the call reconnects to the stream.
	if body := w.Body.String(); !strings.Contains(body, "wss://example.test/media") {
		t.Fatalf("gather response = %q, want stream reconnect", body)
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/xml" {
		t.Fatalf("gather content type = %q, want text/xml", ct)
	}
}

func TestGather_AcceptedDigitsCloseCollection(t *testing.T) {
	f := newServerFixture(t)
	err := f.engine.RequestCollection(context.Background(), "CA-1", digits.Params{
		Profile: "verification", ForceExactLength: 6, MaxRetries: 2,
		Prompt: "Enter your code.",
	}, false, "")
	if err != nil {
		t.Fatalf("RequestCollection: %v", err)
	}

	w := f.post(t, GatherPath, url.Values{"CallSid": {"CA-1"}, "Digits": {"482917"}})
	if w.Code != http.StatusOK {
		t.Fatalf("gather action = %d, want 200", w.Code)
	}
	if _, active := f.engine.Expectation("CA-1"); active {
		t.Fatal("accepted digits left the expectation active")
	}
	if body := w.Body.String(); body != "<Response/>" {
		t.Fatalf("gather response = %q, want empty response", body)
	}
}
