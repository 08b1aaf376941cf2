// Package notify delivers durable operator notifications: terminal call
// status bubbles and post-call transcripts, queued in the store and drained by
// a polling worker with exponential retry.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/calloway-ai/switchboard/internal/callstatus"
	"github.com/calloway-ai/switchboard/internal/chat"
	"github.com/calloway-ai/switchboard/internal/store"
)

// Notification kinds.
const (
	KindStatus     = "status"
	KindTranscript = "transcript"
)

// Worker tuning defaults.
const (
	defaultProcessInterval   = 3 * time.Second
	defaultRetryBase         = 2 * time.Second
	defaultRetryMax          = 60 * time.Second
	defaultRetryMaxAttempts  = 5
	defaultTranscriptWaitMax = 10 * time.Minute
	defaultBatchLimit        = 16
	maxJitter                = time.Second
)

// DeliveryRecorder counts delivery outcomes. The observe metrics recorder
// satisfies it.
type DeliveryRecorder interface {
	RecordNotification(ctx context.Context, kind, result string)
}

// Config assembles a Dispatcher.
type Config struct {
	Store   store.NotificationStore
	Adapter chat.Adapter

	// Transcripts supplies the lines rendered into transcript notifications.
	Transcripts store.TranscriptStore

	// Metrics receives sent/failed counts per notification kind. Optional.
	Metrics DeliveryRecorder

	// ProcessInterval is the poll cadence. Default: 3s.
	ProcessInterval time.Duration

	// RetryBase and RetryMax bound the exponential send-failure backoff.
	// Defaults: 2s and 60s.
	RetryBase time.Duration
	RetryMax  time.Duration

	// RetryMaxAttempts fails a notification permanently. Default: 5.
	RetryMaxAttempts int

	// TranscriptWaitMax is the longest a transcript notification waits for
	// the call's terminal status bubble to go out first. Default: 10m.
	TranscriptWaitMax time.Duration

	// BatchLimit caps notifications processed per poll. Default: 16.
	BatchLimit int

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Dispatcher is the notification worker. Start it once; Stop is idempotent.
//
// All methods are safe for concurrent use.
type Dispatcher struct {
	store       store.NotificationStore
	adapter     chat.Adapter
	transcripts store.TranscriptStore
	metrics     DeliveryRecorder

	interval time.Duration
	batch    int
	now      func() time.Time

	mu           sync.Mutex
	terminalSent map[string]bool

	// retry knobs, guarded by mu so a config reload can adjust them; the
	// poll interval is fixed at construction
	retryBase   time.Duration
	retryMax    time.Duration
	maxAttempts int
	waitMax     time.Duration

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewDispatcher creates a Dispatcher, substituting defaults for zero-value
// config.
func NewDispatcher(cfg Config) (*Dispatcher, error) {
	var errs []error
	if cfg.Store == nil {
		errs = append(errs, errors.New("notify: Store must not be nil"))
	}
	if cfg.Adapter == nil {
		errs = append(errs, errors.New("notify: Adapter must not be nil"))
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	if cfg.ProcessInterval <= 0 {
		cfg.ProcessInterval = defaultProcessInterval
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = defaultRetryBase
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = defaultRetryMax
	}
	if cfg.RetryMaxAttempts <= 0 {
		cfg.RetryMaxAttempts = defaultRetryMaxAttempts
	}
	if cfg.TranscriptWaitMax <= 0 {
		cfg.TranscriptWaitMax = defaultTranscriptWaitMax
	}
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = defaultBatchLimit
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Dispatcher{
		store:        cfg.Store,
		adapter:      cfg.Adapter,
		transcripts:  cfg.Transcripts,
		metrics:      cfg.Metrics,
		interval:     cfg.ProcessInterval,
		retryBase:    cfg.RetryBase,
		retryMax:     cfg.RetryMax,
		maxAttempts:  cfg.RetryMaxAttempts,
		waitMax:      cfg.TranscriptWaitMax,
		batch:        cfg.BatchLimit,
		now:          cfg.Now,
		terminalSent: make(map[string]bool),
		done:         make(chan struct{}),
	}, nil
}

// SetRetryPolicy applies hot-reloaded retry tuning. Non-positive values keep
// the current setting. The poll interval is fixed at construction.
func (d *Dispatcher) SetRetryPolicy(base, max time.Duration, maxAttempts int, transcriptWaitMax time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if base > 0 {
		d.retryBase = base
	}
	if max > 0 {
		d.retryMax = max
	}
	if maxAttempts > 0 {
		d.maxAttempts = maxAttempts
	}
	if transcriptWaitMax > 0 {
		d.waitMax = transcriptWaitMax
	}
}

// EnqueueStatus queues a status notification for a call. Payload keys used by
// the renderer: status, phone, duration_s, error.
func (d *Dispatcher) EnqueueStatus(ctx context.Context, callID, chatID string, payload map[string]any) error {
	return d.store.EnqueueNotification(ctx, store.Notification{
		CallID:  callID,
		Kind:    KindStatus,
		ChatID:  chatID,
		Payload: payload,
	})
}

// EnqueueTranscript queues the post-call transcript for a call. It is held
// back until the call's terminal status notification has been delivered.
func (d *Dispatcher) EnqueueTranscript(ctx context.Context, callID, chatID string) error {
	return d.store.EnqueueNotification(ctx, store.Notification{
		CallID: callID,
		Kind:   KindTranscript,
		ChatID: chatID,
	})
}

// Start launches the polling worker.
func (d *Dispatcher) Start(ctx context.Context) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ticker := time.NewTicker(d.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-d.done:
				return
			case <-ticker.C:
				d.processOnce(ctx)
			}
		}
	}()
}

// Stop halts the worker and waits for the in-flight poll to finish.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() { close(d.done) })
	d.wg.Wait()
}

// processOnce drains one batch of due notifications.
func (d *Dispatcher) processOnce(ctx context.Context) {
	now := d.now()
	due, err := d.store.DueNotifications(ctx, now, d.batch)
	if err != nil {
		slog.Warn("notify: failed to list due notifications", "err", err)
		return
	}
	for _, n := range due {
		d.deliver(ctx, n, now)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, n store.Notification, now time.Time) {
	switch n.Kind {
	case KindStatus:
		d.deliverStatus(ctx, n, now)
	case KindTranscript:
		d.deliverTranscript(ctx, n, now)
	default:
		slog.Warn("notify: unknown notification kind", "kind", n.Kind, "id", n.ID)
		if err := d.store.MarkNotificationFailed(ctx, n.ID, "unknown kind"); err != nil {
			slog.Warn("notify: failed to mark notification", "id", n.ID, "err", err)
		}
	}
}

func (d *Dispatcher) deliverStatus(ctx context.Context, n store.Notification, now time.Time) {
	text := renderStatus(n)
	if _, err := d.adapter.SendMessage(ctx, n.ChatID, chat.Message{Text: text}); err != nil {
		d.retry(ctx, n, now, err)
		return
	}
	if err := d.store.MarkNotificationSent(ctx, n.ID); err != nil {
		slog.Warn("notify: failed to mark notification sent", "id", n.ID, "err", err)
	}
	if s, _ := n.Payload["status"].(string); callstatus.Status(s).IsTerminal() {
		d.mu.Lock()
		d.terminalSent[n.CallID] = true
		d.mu.Unlock()
	}
	d.recordDelivery(ctx, n.Kind, "sent")
	slog.Info("notify: status delivered", "call_id", n.CallID, "id", n.ID)
}

func (d *Dispatcher) deliverTranscript(ctx context.Context, n store.Notification, now time.Time) {
	d.mu.Lock()
	ready := d.terminalSent[n.CallID]
	waitMax := d.waitMax
	d.mu.Unlock()
	if !ready {
		// Wait for the terminal status bubble; the next poll picks this row
		// up again. Waiting does not consume retry attempts.
		if now.Sub(n.CreatedAt) > waitMax {
			if err := d.store.MarkNotificationFailed(ctx, n.ID, "terminal status never delivered"); err != nil {
				slog.Warn("notify: failed to mark notification", "id", n.ID, "err", err)
			}
			d.recordDelivery(ctx, n.Kind, "failed")
			slog.Warn("notify: transcript wait expired", "call_id", n.CallID, "id", n.ID)
		}
		return
	}

	text, err := d.renderTranscript(ctx, n.CallID)
	if err != nil {
		d.retry(ctx, n, now, err)
		return
	}
	if _, err := d.adapter.SendMessage(ctx, n.ChatID, chat.Message{Text: text}); err != nil {
		d.retry(ctx, n, now, err)
		return
	}
	if err := d.store.MarkNotificationSent(ctx, n.ID); err != nil {
		slog.Warn("notify: failed to mark notification sent", "id", n.ID, "err", err)
	}
	d.recordDelivery(ctx, n.Kind, "sent")
	slog.Info("notify: transcript delivered", "call_id", n.CallID, "id", n.ID)
}

// retry reschedules a failed delivery with exponential backoff, or fails the
// notification once attempts are exhausted.
func (d *Dispatcher) retry(ctx context.Context, n store.Notification, now time.Time, cause error) {
	d.mu.Lock()
	maxAttempts := d.maxAttempts
	base, max := d.retryBase, d.retryMax
	d.mu.Unlock()

	attempt := n.RetryCount + 1
	if attempt >= maxAttempts {
		if err := d.store.MarkNotificationFailed(ctx, n.ID, cause.Error()); err != nil {
			slog.Warn("notify: failed to mark notification", "id", n.ID, "err", err)
		}
		d.recordDelivery(ctx, n.Kind, "failed")
		slog.Warn("notify: notification failed permanently",
			"call_id", n.CallID, "kind", n.Kind, "attempts", attempt, "err", cause)
		return
	}
	next := now.Add(backoff(n.RetryCount, base, max))
	if err := d.store.MarkNotificationRetry(ctx, n.ID, next, cause.Error()); err != nil {
		slog.Warn("notify: failed to mark notification", "id", n.ID, "err", err)
	}
	slog.Debug("notify: delivery rescheduled", "call_id", n.CallID, "kind", n.Kind, "attempt", attempt)
}

func (d *Dispatcher) recordDelivery(ctx context.Context, kind, result string) {
	if d.metrics != nil {
		d.metrics.RecordNotification(ctx, kind, result)
	}
}

// backoff computes min(max, base * 2^attempt) plus jitter.
func backoff(attempt int, base, max time.Duration) time.Duration {
	b := base
	for i := 0; i < attempt && b < max; i++ {
		b *= 2
	}
	if b > max {
		b = max
	}
	return b + time.Duration(rand.Int63n(int64(maxJitter)))
}

// renderStatus builds the status bubble text from the notification payload.
func renderStatus(n store.Notification) string {
	status, _ := n.Payload["status"].(string)
	label := strings.ReplaceAll(status, "-", " ")
	if label == "" {
		label = "updated"
	}

	var b strings.Builder
	who, _ := n.Payload["phone"].(string)
	if who == "" {
		who = n.CallID
	}
	fmt.Fprintf(&b, "Call %s: %s", who, label)
	if secs, ok := asInt(n.Payload["duration_s"]); ok && secs > 0 {
		fmt.Fprintf(&b, " · %ds", secs)
	}
	if vm, _ := n.Payload["voicemail"].(bool); vm {
		b.WriteString(" · voicemail detected")
	}
	if errMsg, _ := n.Payload["error"].(string); errMsg != "" {
		fmt.Fprintf(&b, "\n⚠ %s", errMsg)
	}
	return b.String()
}

// renderTranscript builds the transcript bubble from stored lines.
func (d *Dispatcher) renderTranscript(ctx context.Context, callID string) (string, error) {
	if d.transcripts == nil {
		return "", errors.New("notify: no transcript store configured")
	}
	lines, err := d.transcripts.ListTranscripts(ctx, callID)
	if err != nil {
		return "", fmt.Errorf("notify: load transcript: %w", err)
	}
	if len(lines) == 0 {
		return "Transcript: (empty)", nil
	}
	var b strings.Builder
	b.WriteString("Transcript:\n")
	for _, l := range lines {
		speaker := "Agent"
		if l.Speaker == store.SpeakerUser {
			speaker = "Caller"
		}
		fmt.Fprintf(&b, "%s: %s\n", speaker, l.Message)
	}
	return b.String(), nil
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}
