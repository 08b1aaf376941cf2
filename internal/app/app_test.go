package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	chatmock "github.com/calloway-ai/switchboard/internal/chat/mock"
	"github.com/calloway-ai/switchboard/internal/config"
	"github.com/calloway-ai/switchboard/internal/httpapi"
	"github.com/calloway-ai/switchboard/internal/observe"
	storemock "github.com/calloway-ai/switchboard/internal/store/mock"
	"github.com/calloway-ai/switchboard/pkg/provider/llm"
	llmmock "github.com/calloway-ai/switchboard/pkg/provider/llm/mock"
	smsmock "github.com/calloway-ai/switchboard/pkg/provider/sms/mock"
	"github.com/calloway-ai/switchboard/pkg/provider/stt"
	sttmock "github.com/calloway-ai/switchboard/pkg/provider/stt/mock"
	"github.com/calloway-ai/switchboard/pkg/provider/telephony"
	telmock "github.com/calloway-ai/switchboard/pkg/provider/telephony/mock"
	ttsmock "github.com/calloway-ai/switchboard/pkg/provider/tts/mock"
)

type appFixture struct {
	app  *App
	st   *storemock.Store
	tel  *telmock.Provider
	chat *chatmock.Adapter
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Server.ListenAddr = ":0"
	cfg.Server.PublicURL = "https://calls.example.test"
	cfg.Session.Greeting = "Hello from the assistant."
	cfg.Console.ChannelID = "chat-ops"
	config.ApplyDefaults(cfg)
	return cfg
}

func newAppFixture(t *testing.T) *appFixture {
	t.Helper()

	metrics, err := observe.NewMetrics(sdkmetric.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	f := &appFixture{
		st:   &storemock.Store{},
		tel:  &telmock.Provider{},
		chat: &chatmock.Adapter{},
	}
	providers := &Providers{
		Telephony: f.tel,
		STT: &sttmock.Provider{Session: &sttmock.Session{
			PartialsCh: make(chan stt.Transcript, 16),
			FinalsCh:   make(chan stt.Transcript, 16),
		}},
		LLM: &llmmock.Provider{
			CompleteResponse:  &llm.CompletionResponse{Content: "How can I help?"},
			ModelCapabilities: llm.ModelCapabilities{ContextWindow: 8000},
		},
		TTS:  &ttsmock.Provider{SynthesizeChunks: [][]byte{{0x7f, 0x7f}}},
		SMS:  &smsmock.Provider{},
		Chat: f.chat,
	}

	a, err := New(context.Background(), testConfig(), providers,
		WithStore(f.st), WithMetrics(metrics))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	f.app = a
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Shutdown(ctx)
	})
	return f
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestNew_RequiresStoreOrDSN(t *testing.T) {
	cfg := testConfig()
	_, err := New(context.Background(), cfg, &Providers{})
	if err == nil {
		t.Fatal("New without store or DSN succeeded, want error")
	}
}

func TestPlaceCall_WiresCallbacksStoreConsoleSession(t *testing.T) {
	f := newAppFixture(t)

	callID, err := f.app.PlaceCall(context.Background(), CallRequest{
		Phone:        "+15550001111",
		CustomerName: "Dana",
	})
	if err != nil {
		t.Fatalf("PlaceCall: %v", err)
	}
	if callID != "CA-mock" {
		t.Fatalf("callID = %q, want CA-mock", callID)
	}

	if len(f.tel.PlaceCallCalls) != 1 {
		t.Fatalf("%d PlaceCall invocations, want 1", len(f.tel.PlaceCallCalls))
	}
	req := f.tel.PlaceCallCalls[0].Req
	if req.StreamURL != "wss://calls.example.test/media" {
		t.Errorf("StreamURL = %q, want wss://calls.example.test/media", req.StreamURL)
	}
	if req.StatusCallbackURL != "https://calls.example.test"+httpapi.StatusPath {
		t.Errorf("StatusCallbackURL = %q", req.StatusCallbackURL)
	}
	if !req.MachineDetection {
		t.Error("MachineDetection not requested")
	}

	rec, err := f.st.GetCall(context.Background(), callID)
	if err != nil {
		t.Fatalf("GetCall: %v", err)
	}
	if rec.Direction != string(telephony.DirectionOutbound) {
		t.Errorf("direction = %q, want outbound", rec.Direction)
	}
	if rec.ChatID != "chat-ops" {
		t.Errorf("chat id = %q, want the configured channel", rec.ChatID)
	}

	if f.app.Registry().Len() != 1 {
		t.Errorf("live sessions = %d, want 1", f.app.Registry().Len())
	}
	// The opening console bubble posts synchronously.
	if len(f.chat.SendMessageCalls) == 0 {
		t.Error("no console bubble posted")
	}
}

func TestPlaceCall_SessionFailureHangsUp(t *testing.T) {
	f := newAppFixture(t)

	if _, err := f.app.PlaceCall(context.Background(), CallRequest{Phone: "+15550001111"}); err != nil {
		t.Fatalf("first PlaceCall: %v", err)
	}
	// The mock assigns the same call id again, which collides with the live
	// session.
	_, err := f.app.PlaceCall(context.Background(), CallRequest{Phone: "+15550002222"})
	if err == nil {
		t.Fatal("second PlaceCall with duplicate id succeeded, want error")
	}
	if len(f.tel.HangupCalls) != 1 {
		t.Fatalf("%d hangups, want the orphaned vendor call torn down", len(f.tel.HangupCalls))
	}
}

func TestAcceptInbound_CreatesSession(t *testing.T) {
	f := newAppFixture(t)

	err := f.app.acceptInbound(context.Background(), httpapi.InboundCall{
		CallSID: "CA-in", From: "+15550002222", To: "+15550009999",
	})
	if err != nil {
		t.Fatalf("acceptInbound: %v", err)
	}
	if f.app.Registry().Len() != 1 {
		t.Fatalf("live sessions = %d, want 1", f.app.Registry().Len())
	}
	rec, err := f.st.GetCall(context.Background(), "CA-in")
	if err != nil {
		t.Fatalf("GetCall: %v", err)
	}
	if rec.Direction != string(telephony.DirectionInbound) {
		t.Errorf("direction = %q, want inbound", rec.Direction)
	}
}

func TestHandler_ServesHealthMetricsAndWebhooks(t *testing.T) {
	f := newAppFixture(t)
	h := f.app.Handler()

	get := func(path string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		return w
	}

	if w := get("/healthz"); w.Code != http.StatusOK {
		t.Errorf("GET /healthz = %d, want 200", w.Code)
	}
	if w := get("/metrics"); w.Code != http.StatusOK {
		t.Errorf("GET /metrics = %d, want 200", w.Code)
	}

	form := url.Values{"CallSid": {"CA-x"}, "CallStatus": {"ringing"}}
	req := httptest.NewRequest(http.MethodPost, httpapi.StatusPath, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK || w.Body.String() != "OK" {
		t.Errorf("status webhook = %d %q, want 200 OK", w.Code, w.Body.String())
	}
}

func TestShutdown_EndsLiveCalls(t *testing.T) {
	f := newAppFixture(t)

	if _, err := f.app.PlaceCall(context.Background(), CallRequest{Phone: "+15550001111"}); err != nil {
		t.Fatalf("PlaceCall: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := f.app.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	waitUntil(t, 2*time.Second, func() bool { return f.app.Registry().Len() == 0 })
}
