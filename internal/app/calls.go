package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/calloway-ai/switchboard/internal/console"
	"github.com/calloway-ai/switchboard/internal/digits"
	"github.com/calloway-ai/switchboard/internal/httpapi"
	"github.com/calloway-ai/switchboard/internal/session"
	"github.com/calloway-ai/switchboard/internal/store"
	"github.com/calloway-ai/switchboard/pkg/provider/sms"
	"github.com/calloway-ai/switchboard/pkg/provider/telephony"
)

// callbackSMSBody is the operator-triggered follow-up text.
const callbackSMSBody = "We just tried to reach you. Reply to this message or call us back when convenient."

// CallRequest describes one outbound call to place.
type CallRequest struct {
	// Phone is the destination number in E.164 format.
	Phone string

	// CustomerName labels the console bubble. Optional.
	CustomerName string

	// SystemPrompt and FirstMessage override the configured persona and
	// greeting for this call. Empty uses the config values.
	SystemPrompt string
	FirstMessage string

	// ChatID overrides the configured console channel.
	ChatID string

	// DigitIntent, when set, opens the call in digit-collection mode: the
	// expectation is installed as soon as the media stream attaches.
	DigitIntent *digits.Params
}

// PlaceCall places an outbound call and prepares everything that receives its
// callbacks: the call record, the lifecycle tracking, the console bubble, and
// the session. Returns the provider-assigned call id.
func (a *App) PlaceCall(ctx context.Context, req CallRequest) (string, error) {
	if a.providers.Telephony == nil {
		return "", errors.New("app: no telephony provider configured")
	}
	if req.Phone == "" {
		return "", errors.New("app: place call: Phone must not be empty")
	}

	info, err := a.providers.Telephony.PlaceCall(ctx, telephony.CallRequest{
		To:                req.Phone,
		StatusCallbackURL: a.cfg.Server.PublicURL + httpapi.StatusPath,
		StreamURL:         a.streamURL(),
		MachineDetection:  true,
	})
	if err != nil {
		return "", fmt.Errorf("app: place call: %w", err)
	}

	if err := a.bindCall(ctx, boundCall{
		callID:       info.ID,
		phone:        req.Phone,
		direction:    telephony.DirectionOutbound,
		chatID:       req.ChatID,
		customerName: req.CustomerName,
		systemPrompt: req.SystemPrompt,
		firstMessage: req.FirstMessage,
		digitIntent:  req.DigitIntent,
	}); err != nil {
		// The vendor call is already live; tear it down rather than leave a
		// caller talking to nothing.
		if herr := a.providers.Telephony.Hangup(ctx, info.ID); herr != nil {
			slog.Warn("hangup after failed call setup", "call_id", info.ID, "err", herr)
		}
		return "", err
	}

	slog.Info("outbound call placed", "call_id", info.ID, "to", req.Phone)
	return info.ID, nil
}

// acceptInbound is the voice-webhook hook: it prepares a session for an
// incoming call so the media stream that follows finds it.
func (a *App) acceptInbound(ctx context.Context, call httpapi.InboundCall) error {
	err := a.bindCall(ctx, boundCall{
		callID:    call.CallSID,
		phone:     call.From,
		direction: telephony.DirectionInbound,
		route:     call.To,
	})
	if err != nil {
		return err
	}
	slog.Info("inbound call accepted", "call_id", call.CallSID, "from", call.From)
	return nil
}

// boundCall is the per-call identity bindCall wires through the subsystems.
type boundCall struct {
	callID       string
	phone        string
	direction    telephony.Direction
	chatID       string
	customerName string
	systemPrompt string
	firstMessage string
	route        string
	digitIntent  *digits.Params
}

// bindCall creates the call record, lifecycle tracking, console bubble, and
// session for one call.
func (a *App) bindCall(ctx context.Context, b boundCall) error {
	chatID := b.chatID
	if chatID == "" {
		chatID = a.cfg.Console.ChannelID
	}
	defaults := a.callDefaults()
	systemPrompt := b.systemPrompt
	if systemPrompt == "" {
		systemPrompt = defaults.personality
	}
	firstMessage := b.firstMessage
	if firstMessage == "" {
		firstMessage = defaults.greeting
	}

	if err := a.store.CreateCall(ctx, store.CallRecord{
		ID:           b.callID,
		Phone:        b.phone,
		Direction:    string(b.direction),
		Prompt:       systemPrompt,
		FirstMessage: firstMessage,
		ChatID:       chatID,
		StartedAt:    time.Now(),
	}); err != nil {
		return fmt.Errorf("app: create call record: %w", err)
	}

	a.lifecycle.Register(b.callID, chatID, b.phone, b.direction)

	if err := a.console.Open(ctx, b.callID, chatID, console.CallInfo{
		CustomerName: b.customerName,
		Phone:        b.phone,
		Direction:    b.direction,
		Route:        b.route,
	}); err != nil {
		slog.Warn("console bubble failed", "call_id", b.callID, "err", err)
	}

	a.metrics.ActiveCalls.Add(ctx, 1)
	_, err := a.registry.Create(session.Config{
		CallID:         b.callID,
		ChatID:         chatID,
		Phone:          b.phone,
		Direction:      b.direction,
		SystemPrompt:   systemPrompt,
		FirstMessage:   firstMessage,
		CustomerName:   b.customerName,
		DigitIntent:    b.digitIntent,
		SilenceTimeout: time.Duration(a.cfg.Session.SilenceTimeoutS) * time.Second,
		LLM:            a.providers.LLM,
		STT:            a.providers.STT,
		TTS:            a.providers.TTS,
		SMS:            a.providers.SMS,
		Telephony:      a.providers.Telephony,
		Engine:         a.engine,
		Store:          a.guard,
		Notifier:       a.console,
		Corrector:      a.corrector,
		Vocabulary:     defaults.vocabulary,
		OnEnded: func(string) {
			a.metrics.ActiveCalls.Add(context.Background(), -1)
		},
	})
	if err != nil {
		a.metrics.ActiveCalls.Add(ctx, -1)
		a.lifecycle.Forget(b.callID)
		return fmt.Errorf("app: create session: %w", err)
	}
	return nil
}

// streamURL derives the wss:// media endpoint from the public base URL.
func (a *App) streamURL() string {
	base := a.cfg.Server.PublicURL
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + httpapi.MediaPath
}

// registryEffects routes digit-engine effects to the live session for each
// call, breaking the engine/session creation cycle.
type registryEffects struct {
	registry *session.Registry
}

var _ digits.Effects = (*registryEffects)(nil)

func (r *registryEffects) Speak(ctx context.Context, callID, text string) {
	if s, ok := r.registry.Get(callID); ok {
		s.Speak(ctx, callID, text)
	}
}

func (r *registryEffects) SendSMS(ctx context.Context, callID, phone, body, correlationID string) error {
	s, ok := r.registry.Get(callID)
	if !ok {
		return fmt.Errorf("app: no live session for call %s", callID)
	}
	return s.SendSMS(ctx, callID, phone, body, correlationID)
}

func (r *registryEffects) EndCall(ctx context.Context, callID, reason, closingMessage string) {
	if s, ok := r.registry.Get(callID); ok {
		s.EndCall(ctx, callID, reason, closingMessage)
	}
}

func (r *registryEffects) RouteToAgent(ctx context.Context, callID string) {
	if s, ok := r.registry.Get(callID); ok {
		s.RouteToAgent(ctx, callID)
	}
}

// operatorActions receives console button presses and turns them into call
// operations.
type operatorActions struct {
	app *App
}

var _ console.Actions = (*operatorActions)(nil)

func (o *operatorActions) Record(ctx context.Context, callID string) {
	o.app.guard.AppendEvent(ctx, store.CallEvent{
		CallID: callID, Kind: "recording_requested", Timestamp: time.Now(),
	})
	o.app.console.Event(callID, "recording requested")
}

func (o *operatorActions) End(ctx context.Context, callID string) {
	if s, ok := o.app.registry.Get(callID); ok {
		s.End("operator_hangup", "")
		return
	}
	if tp := o.app.providers.Telephony; tp != nil {
		if err := tp.Hangup(ctx, callID); err != nil {
			slog.Warn("operator hangup failed", "call_id", callID, "err", err)
		}
	}
}

func (o *operatorActions) Transfer(ctx context.Context, callID string) {
	if s, ok := o.app.registry.Get(callID); ok {
		s.RouteToAgent(ctx, callID)
	}
}

func (o *operatorActions) SendSMS(ctx context.Context, callID string) {
	if o.app.providers.SMS == nil {
		o.app.console.Event(callID, "SMS failed: no provider")
		return
	}
	rec, err := o.app.store.GetCall(ctx, callID)
	if err != nil {
		slog.Warn("operator sms: unknown call", "call_id", callID, "err", err)
		return
	}
	_, err = o.app.providers.SMS.Send(ctx, sms.Message{
		To:             rec.Phone,
		Body:           callbackSMSBody,
		IdempotencyKey: uuid.NewString(),
	})
	if err != nil {
		o.app.console.Event(callID, "SMS failed")
		slog.Warn("operator sms failed", "call_id", callID, "err", err)
		return
	}
	o.app.console.Event(callID, "SMS sent")
}

func (o *operatorActions) Callback(ctx context.Context, callID string) {
	rec, err := o.app.store.GetCall(ctx, callID)
	if err != nil {
		slog.Warn("operator callback: unknown call", "call_id", callID, "err", err)
		return
	}
	newID, err := o.app.PlaceCall(ctx, CallRequest{Phone: rec.Phone, ChatID: rec.ChatID})
	if err != nil {
		o.app.console.Event(callID, "callback failed")
		slog.Warn("operator callback failed", "call_id", callID, "err", err)
		return
	}
	o.app.console.Event(callID, "calling back")
	slog.Info("callback placed", "call_id", callID, "new_call_id", newID)
}

func (o *operatorActions) SetCallerFlag(ctx context.Context, callID string, flag console.Flag) {
	o.app.guard.AppendEvent(ctx, store.CallEvent{
		CallID:    callID,
		Kind:      "caller_flagged",
		Payload:   map[string]any{"flag": string(flag)},
		Timestamp: time.Now(),
	})
}
