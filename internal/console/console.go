// Package console renders the operator's live view of each call: one chat
// message per call, created when the call starts and edited in place until it
// ends. Edits are debounced and suppressed when nothing visible changed, so a
// noisy call collapses into one edit per window.
package console

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/calloway-ai/switchboard/internal/callstatus"
	"github.com/calloway-ai/switchboard/internal/chat"
	"github.com/calloway-ai/switchboard/internal/session"
	"github.com/calloway-ai/switchboard/internal/timers"
	"github.com/calloway-ai/switchboard/pkg/provider/telephony"
)

// defaultDebounce coalesces edits arriving within the window; the edit fires
// at window end with the latest content.
const defaultDebounce = 700 * time.Millisecond

// workingLock is how long all buttons stay replaced by a disabled "Working…"
// placeholder after an operator action.
const workingLock = 1500 * time.Millisecond

// Highlight ring sizes. Inbound bubbles carry extra button rows, so they get
// one fewer event line.
const (
	highlightLinesOutbound = 4
	highlightLinesInbound  = 3
)

// workingTimer names the per-entry unlock timer.
const workingTimer = "console_working"

// Action button identifiers.
const (
	actionRecord   = "record"
	actionEnd      = "end"
	actionTransfer = "transfer"
	actionCompact  = "compact"
	actionSMS      = "sms"
	actionCallback = "callback"
	actionSpam     = "spam"
	actionAllow    = "allow"
	actionBlock    = "block"
	actionReveal   = "reveal"
)

// Flag is the operator-assigned caller disposition on inbound calls.
type Flag string

const (
	FlagNone    Flag = ""
	FlagBlocked Flag = "blocked"
	FlagAllowed Flag = "allowed"
	FlagSpam    Flag = "spam"
)

// Quality is one connection-quality sample for a call.
type Quality struct {
	JitterMs      float64
	LatencyMs     int
	PacketLossPct float64
	ASRConfidence float64
}

// CallInfo is the immutable identity of a bubble.
type CallInfo struct {
	CustomerName string
	Phone        string
	Direction    telephony.Direction

	// Route and Flag only render on inbound calls.
	Route string
	Flag  Flag

	// AnswerURL, when set, renders the inbound Answer link button.
	AnswerURL string
}

// Actions receives operator button presses. Implementations must return
// quickly; the console dispatches each action on its own goroutine.
type Actions interface {
	Record(ctx context.Context, callID string)
	End(ctx context.Context, callID string)
	Transfer(ctx context.Context, callID string)
	SendSMS(ctx context.Context, callID string)
	Callback(ctx context.Context, callID string)
	SetCallerFlag(ctx context.Context, callID string, flag Flag)
}

// Config assembles a Console.
type Config struct {
	Adapter chat.Adapter
	Actions Actions

	// EditDebounce coalesces edits. Default: 700ms.
	EditDebounce time.Duration

	// HighlightLines overrides the event-ring size for all calls. Zero keeps
	// the per-direction defaults.
	HighlightLines int

	// RedactPreview masks digit runs and emails in transcript previews.
	// Nil means true.
	RedactPreview *bool

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// entry is the per-call bubble state.
type entry struct {
	callID    string
	chatID    string
	messageID string
	info      CallInfo
	gate      *inboundGate
	timers    *timers.Manager

	status callstatus.Status
	phase  session.Phase
	level  float64
	bars   float64

	quality    Quality
	hasQuality bool

	events       []string
	userPreview  string
	agentPreview string

	compact      bool
	revealed     bool
	closed       bool
	workingUntil time.Time

	createdAt  time.Time
	answeredAt time.Time

	lastText   string
	lastMarkup string
}

func (e *entry) elapsed(now time.Time) (waiting, talk time.Duration) {
	if e.answeredAt.IsZero() {
		return now.Sub(e.createdAt), 0
	}
	return e.answeredAt.Sub(e.createdAt), now.Sub(e.answeredAt)
}

func (e *entry) highlightLimit(override int) int {
	if override > 0 {
		return override
	}
	if e.info.Direction == telephony.DirectionInbound {
		return highlightLinesInbound
	}
	return highlightLinesOutbound
}

// Console owns all live bubbles. It implements [session.Notifier] so sessions
// publish phase and event updates straight into it.
//
// All methods are safe for concurrent use.
type Console struct {
	adapter chat.Adapter
	actions Actions
	now     func() time.Time

	mu      sync.Mutex
	entries map[string]*entry

	// tuning knobs, guarded by mu so a config reload can adjust them
	debounce time.Duration
	lines    int
	redact   bool
}

// New creates a Console and registers its button-press handler on the
// adapter. Call before the adapter is opened.
func New(cfg Config) *Console {
	if cfg.EditDebounce <= 0 {
		cfg.EditDebounce = defaultDebounce
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	redact := true
	if cfg.RedactPreview != nil {
		redact = *cfg.RedactPreview
	}
	c := &Console{
		adapter:  cfg.Adapter,
		actions:  cfg.Actions,
		debounce: cfg.EditDebounce,
		lines:    cfg.HighlightLines,
		redact:   redact,
		now:      cfg.Now,
		entries:  make(map[string]*entry),
	}
	if c.adapter != nil {
		c.adapter.SetPressHandler(c.handlePress)
	}
	return c
}

// SetTunables applies hot-reloaded console tuning. Zero values keep the
// current setting; redact always applies. Takes effect on the next render.
func (c *Console) SetTunables(debounce time.Duration, lines int, redact bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if debounce > 0 {
		c.debounce = debounce
	}
	if lines > 0 {
		c.lines = lines
	}
	c.redact = redact
}

// Open creates the bubble for a call and posts its first message.
func (c *Console) Open(ctx context.Context, callID, chatID string, info CallInfo) error {
	c.mu.Lock()
	if _, ok := c.entries[callID]; ok {
		c.mu.Unlock()
		return fmt.Errorf("console: call %s already has an entry", callID)
	}
	e := &entry{
		callID:    callID,
		chatID:    chatID,
		info:      info,
		timers:    timers.NewManager(),
		status:    callstatus.StatusInitiated,
		phase:     session.PhaseWaiting,
		createdAt: c.now(),
	}
	if info.Direction == telephony.DirectionInbound {
		e.gate = newInboundGate()
		e.status = callstatus.StatusRinging
	}
	c.entries[callID] = e
	c.sendLocked(ctx, e)
	c.mu.Unlock()
	return nil
}

// Event implements [session.Notifier]: appends a line to the highlight ring,
// deduplicating consecutive repeats.
func (c *Console) Event(callID, line string) {
	c.mu.Lock()
	e, ok := c.entries[callID]
	if !ok || e.closed {
		c.mu.Unlock()
		return
	}
	if n := len(e.events); n > 0 && e.events[n-1] == line {
		c.mu.Unlock()
		return
	}
	e.events = append(e.events, line)
	if limit := e.highlightLimit(c.lines); len(e.events) > limit {
		e.events = e.events[len(e.events)-limit:]
	}
	c.mu.Unlock()
	c.requestEdit(callID, false)
}

// PhaseChanged implements [session.Notifier].
func (c *Console) PhaseChanged(callID string, phase session.Phase, level float64) {
	c.mu.Lock()
	e, ok := c.entries[callID]
	if !ok || e.closed {
		c.mu.Unlock()
		return
	}
	e.phase = phase
	e.level = level
	e.bars = smoothBars(e.bars, level)
	c.mu.Unlock()
	c.requestEdit(callID, false)
}

// SetStatus records a classified provider status. Terminal statuses force an
// immediate edit.
func (c *Console) SetStatus(callID string, status callstatus.Status) {
	c.mu.Lock()
	e, ok := c.entries[callID]
	if !ok {
		c.mu.Unlock()
		return
	}
	e.status = status
	if e.answeredAt.IsZero() &&
		(status == callstatus.StatusAnswered || status == callstatus.StatusInProgress) {
		e.answeredAt = c.now()
	}
	c.mu.Unlock()
	c.requestEdit(callID, status.IsTerminal())
}

// SetQuality records a connection-quality sample.
func (c *Console) SetQuality(callID string, q Quality) {
	c.mu.Lock()
	if e, ok := c.entries[callID]; ok {
		e.quality = q
		e.hasQuality = true
	}
	c.mu.Unlock()
	c.requestEdit(callID, false)
}

// SetPreview records the latest caller and agent utterances for the preview
// block. Empty strings keep the previous value.
func (c *Console) SetPreview(callID, user, agent string) {
	c.mu.Lock()
	if e, ok := c.entries[callID]; ok {
		if user != "" {
			e.userPreview = user
		}
		if agent != "" {
			e.agentPreview = agent
		}
	}
	c.mu.Unlock()
	c.requestEdit(callID, false)
}

// ResolveInbound moves an inbound call's answer gate out of pending.
func (c *Console) ResolveInbound(callID string, to GateState) {
	c.mu.Lock()
	if e, ok := c.entries[callID]; ok {
		e.gate.resolve(to)
	}
	c.mu.Unlock()
	c.requestEdit(callID, true)
}

// Close posts the final edit for a call and drops the entry. The final status
// bypasses the debounce.
func (c *Console) Close(ctx context.Context, callID string, status callstatus.Status) {
	c.mu.Lock()
	e, ok := c.entries[callID]
	if !ok {
		c.mu.Unlock()
		return
	}
	e.closed = true
	e.status = status
	e.phase = session.PhaseEnded
	e.timers.Close()
	c.editLocked(ctx, e)
	delete(c.entries, callID)
	c.mu.Unlock()
}

// Len returns the number of live bubbles.
func (c *Console) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// requestEdit schedules a debounced edit, or flushes immediately when forced.
// The first request in a window arms the timer; later requests coalesce into
// the same firing, which renders the latest state.
func (c *Console) requestEdit(callID string, force bool) {
	if force {
		c.flush(context.Background(), callID)
		return
	}
	c.mu.Lock()
	e, ok := c.entries[callID]
	if !ok || e.closed {
		c.mu.Unlock()
		return
	}
	if e.timers.Active(timers.ConsoleEdit) {
		c.mu.Unlock()
		return
	}
	e.timers.Set(timers.ConsoleEdit, c.debounce, func() {
		c.flush(context.Background(), callID)
	})
	c.mu.Unlock()
}

// flush renders and sends one edit now.
func (c *Console) flush(ctx context.Context, callID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[callID]
	if !ok {
		return
	}
	e.timers.Clear(timers.ConsoleEdit)
	c.editLocked(ctx, e)
}

// sendLocked posts the first message for an entry. Caller holds c.mu.
func (c *Console) sendLocked(ctx context.Context, e *entry) {
	msg := render(e, c.now(), c.redact)
	id, err := c.adapter.SendMessage(ctx, e.chatID, msg)
	if err != nil {
		slog.Warn("console: failed to post bubble", "call_id", e.callID, "err", err)
		return
	}
	e.messageID = id
	e.lastText = msg.Text
	e.lastMarkup = markupSignature(msg.Buttons)
}

// editLocked renders the entry and edits its message, skipping no-op edits.
// Caller holds c.mu.
func (c *Console) editLocked(ctx context.Context, e *entry) {
	if e.messageID == "" {
		c.sendLocked(ctx, e)
		return
	}
	msg := render(e, c.now(), c.redact)
	markup := markupSignature(msg.Buttons)
	if msg.Text == e.lastText && markup == e.lastMarkup {
		return
	}
	if err := c.adapter.EditMessage(ctx, e.chatID, e.messageID, msg); err != nil {
		slog.Warn("console: failed to edit bubble", "call_id", e.callID, "err", err)
		return
	}
	e.lastText = msg.Text
	e.lastMarkup = markup
}

// handlePress routes one operator button press.
func (c *Console) handlePress(ctx context.Context, press chat.ButtonPress) {
	if press.CallbackID != "" {
		if err := c.adapter.AnswerCallback(ctx, press.CallbackID); err != nil {
			slog.Debug("console: answer callback failed", "err", err)
		}
	}
	action, callID, ok := parseActionID(press.ButtonID)
	if !ok {
		return
	}

	c.mu.Lock()
	e, exists := c.entries[callID]
	if !exists || e.closed || e.messageID != press.MessageID {
		c.mu.Unlock()
		return
	}

	switch action {
	case actionCompact:
		e.compact = !e.compact
		c.mu.Unlock()
		c.requestEdit(callID, true)
		return
	case actionReveal:
		e.revealed = !e.revealed
		c.mu.Unlock()
		c.requestEdit(callID, true)
		return
	case "noop":
		c.mu.Unlock()
		return
	}

	// A real action: lock the buttons, dispatch, unlock after the window.
	e.workingUntil = c.now().Add(workingLock)
	e.timers.Set(workingTimer, workingLock, func() {
		c.requestEdit(callID, true)
	})
	c.mu.Unlock()
	c.requestEdit(callID, true)

	go c.dispatch(ctx, action, callID)
}

func (c *Console) dispatch(ctx context.Context, action, callID string) {
	if c.actions == nil {
		return
	}
	switch action {
	case actionRecord:
		c.actions.Record(ctx, callID)
	case actionEnd:
		c.actions.End(ctx, callID)
	case actionTransfer:
		c.actions.Transfer(ctx, callID)
	case actionSMS:
		c.actions.SendSMS(ctx, callID)
	case actionCallback:
		c.actions.Callback(ctx, callID)
	case actionSpam:
		c.setFlag(ctx, callID, FlagSpam)
	case actionAllow:
		c.setFlag(ctx, callID, FlagAllowed)
	case actionBlock:
		c.setFlag(ctx, callID, FlagBlocked)
	default:
		slog.Debug("console: unknown action", "action", action, "call_id", callID)
	}
}

func (c *Console) setFlag(ctx context.Context, callID string, flag Flag) {
	c.mu.Lock()
	if e, ok := c.entries[callID]; ok {
		e.info.Flag = flag
	}
	c.mu.Unlock()
	c.actions.SetCallerFlag(ctx, callID, flag)
}

func actionID(action, callID string) string {
	return action + ":" + callID
}

func parseActionID(id string) (action, callID string, ok bool) {
	action, callID, ok = strings.Cut(id, ":")
	return action, callID, ok && callID != ""
}

var _ session.Notifier = (*Console)(nil)
