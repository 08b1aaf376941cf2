package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/calloway-ai/switchboard/internal/callstatus"
	chatmock "github.com/calloway-ai/switchboard/internal/chat/mock"
	"github.com/calloway-ai/switchboard/internal/notify"
	"github.com/calloway-ai/switchboard/internal/store"
	storemock "github.com/calloway-ai/switchboard/internal/store/mock"
	"github.com/calloway-ai/switchboard/pkg/provider/telephony"
)

// consoleRecorder records the status transitions the manager mirrors out.
type consoleRecorder struct {
	mu       sync.Mutex
	statuses []callstatus.Status
	closed   []callstatus.Status
}

func (c *consoleRecorder) SetStatus(_ string, status callstatus.Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statuses = append(c.statuses, status)
}

func (c *consoleRecorder) Close(_ context.Context, _ string, status callstatus.Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = append(c.closed, status)
}

func (c *consoleRecorder) lastStatus() (callstatus.Status, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.statuses) == 0 {
		return "", false
	}
	return c.statuses[len(c.statuses)-1], true
}

func (c *consoleRecorder) closedWith() (callstatus.Status, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.closed) == 0 {
		return "", false
	}
	return c.closed[len(c.closed)-1], true
}

type managerFixture struct {
	m  *Manager
	st *storemock.Store
	cr *consoleRecorder
}

func newManagerFixture(t *testing.T, quiet time.Duration) *managerFixture {
	t.Helper()
	st := &storemock.Store{}
	d, err := notify.NewDispatcher(notify.Config{
		Store:       st,
		Adapter:     &chatmock.Adapter{},
		Transcripts: st,
	})
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}
	cr := &consoleRecorder{}
	m, err := NewManager(Config{
		Store:         st,
		Console:       cr,
		Notify:        d,
		TerminalQuiet: quiet,
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(m.Close)
	return &managerFixture{m: m, st: st, cr: cr}
}

func (f *managerFixture) track(t *testing.T, callID string) {
	t.Helper()
	err := f.st.CreateCall(context.Background(), store.CallRecord{
		ID: callID, Phone: "+15550001111", ChatID: "chat-1",
	})
	if err != nil {
		t.Fatalf("CreateCall: %v", err)
	}
	f.m.Register(callID, "chat-1", "+15550001111", telephony.DirectionOutbound)
}

func (f *managerFixture) notificationKinds() []string {
	var kinds []string
	for _, n := range f.st.Notifications() {
		kinds = append(kinds, n.Kind)
	}
	return kinds
}

func TestReport_UnknownStatus(t *testing.T) {
	f := newManagerFixture(t, 0)
	f.track(t, "CA-1")
	err := f.m.Report(context.Background(), Update{CallID: "CA-1", RawStatus: "exploded"})
	if !errors.Is(err, ErrUnknownStatus) {
		t.Fatalf("Report(exploded) = %v, want ErrUnknownStatus", err)
	}
}

func TestReport_UnknownCallDropped(t *testing.T) {
	f := newManagerFixture(t, 0)
	err := f.m.Report(context.Background(), Update{CallID: "CA-ghost", RawStatus: "completed"})
	if err != nil {
		t.Fatalf("Report for unknown call = %v, want nil", err)
	}
	if _, ok := f.cr.closedWith(); ok {
		t.Fatal("unknown call reached the console")
	}
}

func TestReport_ProgressIsMonotonic(t *testing.T) {
	f := newManagerFixture(t, 0)
	f.track(t, "CA-1")
	ctx := context.Background()

	if err := f.m.Report(ctx, Update{CallID: "CA-1", RawStatus: "ringing"}); err != nil {
		t.Fatalf("Report(ringing): %v", err)
	}
	// No answer evidence yet: in-progress is downgraded to ringing.
	if err := f.m.Report(ctx, Update{CallID: "CA-1", RawStatus: "in-progress"}); err != nil {
		t.Fatalf("Report(in-progress): %v", err)
	}
	if got, _ := f.cr.lastStatus(); got != callstatus.StatusRinging {
		t.Fatalf("console status = %q, want ringing before answer evidence", got)
	}

	f.m.ObserveAnswered("CA-1")
	if err := f.m.Report(ctx, Update{CallID: "CA-1", RawStatus: "in-progress"}); err != nil {
		t.Fatalf("Report(in-progress) after answer: %v", err)
	}
	if got, _ := f.cr.lastStatus(); got != callstatus.StatusInProgress {
		t.Fatalf("console status = %q, want in-progress", got)
	}

	// A late, lower-ranked callback never moves the call backwards.
	if err := f.m.Report(ctx, Update{CallID: "CA-1", RawStatus: "ringing"}); err != nil {
		t.Fatalf("late Report(ringing): %v", err)
	}
	if got, _ := f.cr.lastStatus(); got != callstatus.StatusInProgress {
		t.Fatalf("console status = %q after stale callback, want in-progress", got)
	}
}

func TestReport_ShortCompletedDowngraded(t *testing.T) {
	f := newManagerFixture(t, 0)
	f.track(t, "CA-1")

	err := f.m.Report(context.Background(), Update{
		CallID: "CA-1", RawStatus: "completed", Duration: time.Second,
	})
	if err != nil {
		t.Fatalf("Report: %v", err)
	}

	rec, err := f.st.GetCall(context.Background(), "CA-1")
	if err != nil {
		t.Fatalf("GetCall: %v", err)
	}
	if rec.Status != string(callstatus.StatusNoAnswer) {
		t.Fatalf("stored status = %q, want no-answer", rec.Status)
	}
	if got, _ := f.cr.closedWith(); got != callstatus.StatusNoAnswer {
		t.Fatalf("console closed with %q, want no-answer", got)
	}
	if kinds := f.notificationKinds(); len(kinds) != 1 || kinds[0] != notify.KindStatus {
		t.Fatalf("notifications = %v, want only a status bubble", kinds)
	}
}

func TestReport_VoicemailReclassified(t *testing.T) {
	f := newManagerFixture(t, 0)
	f.track(t, "CA-1")

	err := f.m.Report(context.Background(), Update{
		CallID: "CA-1", RawStatus: "completed", AnsweredBy: "machine_start",
	})
	if err != nil {
		t.Fatalf("Report: %v", err)
	}

	rec, _ := f.st.GetCall(context.Background(), "CA-1")
	if rec.Status != string(callstatus.StatusNoAnswer) || !rec.VoicemailDetected {
		t.Fatalf("stored status = %q voicemail=%t, want no-answer with voicemail", rec.Status, rec.VoicemailDetected)
	}
	for _, n := range f.st.Notifications() {
		if n.Kind == notify.KindStatus {
			if vm, _ := n.Payload["voicemail"].(bool); !vm {
				t.Fatal("status notification payload missing voicemail flag")
			}
		}
		if n.Kind == notify.KindTranscript {
			t.Fatal("voicemail call queued a transcript notification")
		}
	}
}

func TestReport_CompletedQueuesTranscript(t *testing.T) {
	f := newManagerFixture(t, 0)
	f.track(t, "CA-1")
	f.m.ObserveAnswered("CA-1")

	err := f.m.Report(context.Background(), Update{
		CallID: "CA-1", RawStatus: "completed", Duration: 42 * time.Second,
	})
	if err != nil {
		t.Fatalf("Report: %v", err)
	}

	kinds := f.notificationKinds()
	if len(kinds) != 2 {
		t.Fatalf("notifications = %v, want status and transcript", kinds)
	}
	rec, _ := f.st.GetCall(context.Background(), "CA-1")
	if rec.Status != string(callstatus.StatusCompleted) {
		t.Fatalf("stored status = %q, want completed", rec.Status)
	}
	if rec.EndedAt == nil {
		t.Fatal("terminal status did not set the end timestamp")
	}
}

func TestReport_TerminalDeferredWhileMediaFlows(t *testing.T) {
	f := newManagerFixture(t, 40*time.Millisecond)
	f.track(t, "CA-1")
	f.m.ObserveAnswered("CA-1")
	f.m.ObserveMedia("CA-1")

	err := f.m.Report(context.Background(), Update{
		CallID: "CA-1", RawStatus: "completed", Duration: 30 * time.Second,
	})
	if err != nil {
		t.Fatalf("Report: %v", err)
	}
	if _, closed := f.cr.closedWith(); closed {
		t.Fatal("terminal status applied while media was still flowing")
	}

	deadline := time.Now().Add(time.Second)
	for {
		if _, closed := f.cr.closedWith(); closed {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("deferred terminal status never applied")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got, _ := f.cr.closedWith(); got != callstatus.StatusCompleted {
		t.Fatalf("console closed with %q, want completed", got)
	}
}

func TestReport_DuplicateTerminalIgnored(t *testing.T) {
	f := newManagerFixture(t, 0)
	f.track(t, "CA-1")
	f.m.ObserveAnswered("CA-1")
	ctx := context.Background()

	if err := f.m.Report(ctx, Update{CallID: "CA-1", RawStatus: "completed", Duration: 30 * time.Second}); err != nil {
		t.Fatalf("Report: %v", err)
	}
	if err := f.m.Report(ctx, Update{CallID: "CA-1", RawStatus: "completed", Duration: 30 * time.Second}); err != nil {
		t.Fatalf("duplicate Report: %v", err)
	}

	statuses := 0
	for _, n := range f.st.Notifications() {
		if n.Kind == notify.KindStatus {
			statuses++
		}
	}
	if statuses != 1 {
		t.Fatalf("%d status notifications, want 1", statuses)
	}
}

// callRecorder records terminal statuses handed to the metrics hook.
type callRecorder struct {
	mu        sync.Mutex
	status    string
	direction string
	duration  time.Duration
	count     int
}

func (r *callRecorder) RecordCallEnded(_ context.Context, status, direction string, duration time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status, r.direction, r.duration = status, direction, duration
	r.count++
}

func TestTerminalStatusRecordsCallMetrics(t *testing.T) {
	st := &storemock.Store{}
	rec := &callRecorder{}
	m, err := NewManager(Config{Store: st, Metrics: rec})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	defer m.Close()

	m.Register("CA-m1", "chat-1", "+15550001111", telephony.DirectionOutbound)
	m.ObserveAnswered("CA-m1")
	if err := m.Report(context.Background(), Update{
		CallID: "CA-m1", RawStatus: "completed", Duration: 42 * time.Second,
	}); err != nil {
		t.Fatalf("Report: %v", err)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.count != 1 {
		t.Fatalf("recorded %d ended calls, want 1", rec.count)
	}
	if rec.status != string(callstatus.StatusCompleted) {
		t.Errorf("status = %q, want completed", rec.status)
	}
	if rec.direction != string(telephony.DirectionOutbound) {
		t.Errorf("direction = %q, want outbound", rec.direction)
	}
	if rec.duration != 42*time.Second {
		t.Errorf("duration = %v, want 42s", rec.duration)
	}
}
