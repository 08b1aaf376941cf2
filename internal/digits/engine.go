package digits

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/calloway-ai/switchboard/internal/resilience"
	"github.com/calloway-ai/switchboard/internal/store"
)

// ErrNoExpectation is returned when digits arrive for a call with no active
// expectation.
var ErrNoExpectation = errors.New("digits: no active expectation")

// Audit event kinds emitted by the engine.
const (
	EventExpectationSet     = "expectation_set"
	EventCaptureStarted     = "DigitCaptureStarted"
	EventCaptureAborted     = "DigitCaptureAborted"
	EventCaptureCompleted   = "DigitCaptureCompleted"
	EventPlanCompleted      = "digit_plan_completed"
	EventSMSFallbackStarted = "sms_fallback_started"
	EventSMSFallbackMatched = "sms_fallback_matched"
)

// Effects receives the engine's outward side effects. The session layer
// implements it; tests use a recording fake.
type Effects interface {
	// Speak queues a line of agent speech on the call.
	Speak(ctx context.Context, callID, text string)

	// SendSMS sends the fallback text to the caller's phone.
	SendSMS(ctx context.Context, callID, phone, body, correlationID string) error

	// EndCall speaks closingMessage and tears the call down.
	EndCall(ctx context.Context, callID, reason, closingMessage string)

	// RouteToAgent hands the call to a human agent.
	RouteToAgent(ctx context.Context, callID string)
}

// OutcomeRecorder counts classified collection attempts, one record per
// completed attempt. The observe metrics recorder satisfies it.
type OutcomeRecorder interface {
	RecordDigitOutcome(ctx context.Context, profile, reason string)
}

// Config assembles an Engine.
type Config struct {
	Effects Effects

	// Events receives audit and digit events. Optional.
	Events store.EventStore

	// Metrics receives per-attempt outcome counts. Optional.
	Metrics OutcomeRecorder

	// Window is the process-global rolling error-rate circuit. Optional;
	// a default window is created when nil.
	Window *resilience.Window

	// Health and Risk are the pluggable policies. Optional.
	Health HealthProvider
	Risk   RiskEvaluator

	// SMSFallbackMinRetries is the qualifying retry count before the SMS
	// path activates. Default: 2.
	SMSFallbackMinRetries int

	// MinDTMFGapMs is the minimum credible inter-key gap. Default: 200.
	MinDTMFGapMs int

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// callState is the engine's per-call mutable state.
type callState struct {
	exp    *Expectation
	plan   *Plan
	early  earlyBuffer
	sms    *smsSession
	phone  string
	locked bool // operator pinned spoken confirmation
}

// Engine is the digit-collection engine. One instance serves all calls; the
// circuit window is process-global while expectations, plans, and buffers
// are per-call.
type Engine struct {
	effects Effects
	events  store.EventStore
	metrics OutcomeRecorder
	window  *resilience.Window
	health  HealthProvider
	risk    RiskEvaluator

	now func() time.Time

	// tuning knobs, guarded by mu so a config reload can adjust them
	smsMinRetries int
	minGapMs      int

	mu    sync.Mutex
	calls map[string]*callState
}

// NewEngine creates an Engine, substituting defaults for zero-value config.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Effects == nil {
		return nil, errors.New("digits: Effects must not be nil")
	}
	if cfg.Window == nil {
		cfg.Window = resilience.NewWindow(resilience.WindowConfig{Name: "digit-engine"})
	}
	if cfg.SMSFallbackMinRetries <= 0 {
		cfg.SMSFallbackMinRetries = 2
	}
	if cfg.MinDTMFGapMs <= 0 {
		cfg.MinDTMFGapMs = 200
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Engine{
		effects:       cfg.Effects,
		events:        cfg.Events,
		metrics:       cfg.Metrics,
		window:        cfg.Window,
		health:        cfg.Health,
		risk:          cfg.Risk,
		smsMinRetries: cfg.SMSFallbackMinRetries,
		minGapMs:      cfg.MinDTMFGapMs,
		now:           cfg.Now,
		calls:         make(map[string]*callState),
	}, nil
}

// SetTuning applies hot-reloaded collection tuning. Non-positive values keep
// the current setting. Circuit-window parameters are fixed at construction.
func (e *Engine) SetTuning(smsFallbackMinRetries, minDTMFGapMs int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if smsFallbackMinRetries > 0 {
		e.smsMinRetries = smsFallbackMinRetries
	}
	if minDTMFGapMs > 0 {
		e.minGapMs = minDTMFGapMs
	}
}

// SetPhone records the caller's phone number for SMS fallback.
func (e *Engine) SetPhone(callID, phone string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state(callID).phone = phone
}

// SetExpectation normalizes params, applies the health and risk policies,
// and installs the expectation. While the circuit is open the expectation is
// immediately diverted to the fallback path instead.
func (e *Engine) SetExpectation(ctx context.Context, callID string, params Params) error {
	exp, err := NormalizeParams(params)
	if err != nil {
		return err
	}

	e.mu.Lock()
	st := e.state(callID)
	if e.health != nil {
		applyHealthPolicy(&exp, e.health.Status(), st.locked)
	}
	if e.risk != nil {
		applyRiskPolicy(&exp, e.risk.Score(callID, &exp))
	}
	exp.PromptedAt = e.now()

	if e.window.Open() {
		e.mu.Unlock()
		e.emit(ctx, callID, EventCaptureAborted, map[string]any{"reason": "circuit_open", "profile": exp.Profile})
		e.handleCircuitFallback(ctx, callID, &exp)
		return nil
	}

	st.exp = &exp
	e.mu.Unlock()

	e.emit(ctx, callID, EventExpectationSet, map[string]any{
		"profile": exp.Profile,
		"min":     exp.MinDigits,
		"max":     exp.MaxDigits,
	})
	e.emit(ctx, callID, EventCaptureStarted, map[string]any{"profile": exp.Profile})

	e.FlushBuffered(ctx, callID)
	return nil
}

// Expectation returns a snapshot of the call's active expectation.
func (e *Engine) Expectation(callID string) (Expectation, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.calls[callID]
	if !ok || st.exp == nil {
		return Expectation{}, false
	}
	return *st.exp, true
}

// PlanActive reports whether the call has an active plan.
func (e *Engine) PlanActive(callID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.calls[callID]
	return ok && st.plan != nil && st.plan.Active
}

// RecordDigits appends a digit batch to the active expectation's buffer and
// classifies the outcome. The caller is expected to pass the Collection on
// to HandleCollection.
func (e *Engine) RecordDigits(ctx context.Context, callID, digits string, meta Meta) (Collection, error) {
	e.mu.Lock()
	st, ok := e.calls[callID]
	if !ok || st.exp == nil {
		e.mu.Unlock()
		return Collection{}, ErrNoExpectation
	}
	exp := st.exp
	c := classify(exp, digits, meta, e.minGapMs)
	c.Profile = exp.Profile
	c.StepIndex = exp.StepIndex
	profileID := exp.Profile
	e.mu.Unlock()

	// Partial DTMF entries are still in progress; everything else is a
	// completed attempt and feeds the circuit accounting.
	if c.Accepted || c.Reason != ReasonIncomplete || meta.Channel != ChannelDTMF {
		e.window.Record(!c.Accepted)
		e.recordOutcome(ctx, profileID, c)
	}

	e.emitDigit(ctx, store.DigitEvent{
		CallID:     callID,
		Source:     string(meta.Channel),
		Profile:    profileID,
		Length:     c.Length,
		Accepted:   c.Accepted,
		Reason:     c.Reason,
		Masked:     c.Masked,
		Confidence: c.Confidence,
	})
	return c, nil
}

// HandleCollection consumes a classified Collection and drives the
// side effects: confirmation, plan advance, reprompt, fallback, or call end.
func (e *Engine) HandleCollection(ctx context.Context, callID string, c Collection, source Channel) {
	e.mu.Lock()
	st, ok := e.calls[callID]
	if !ok || st.exp == nil {
		e.mu.Unlock()
		return
	}
	exp := st.exp
	plan := st.plan
	e.mu.Unlock()

	switch {
	case c.Accepted:
		e.handleAccepted(ctx, callID, st, exp, plan, c)

	case c.Fallback:
		e.handleExhausted(ctx, callID, st, exp, c)

	case c.Reason == ReasonIncomplete && source == ChannelDTMF:
		// Partial entry in progress; the digit-timeout timer covers stalls.

	default:
		e.effects.Speak(ctx, callID, exp.RepromptFor(c.Reason, c.AttemptCount))
	}
}

// HandleTimeout classifies a digit-timeout expiry as an attempt and either
// reprompts or exhausts the expectation.
func (e *Engine) HandleTimeout(ctx context.Context, callID string) {
	e.mu.Lock()
	st, ok := e.calls[callID]
	if !ok || st.exp == nil {
		e.mu.Unlock()
		return
	}
	exp := st.exp
	exp.Buffer = ""
	exp.Attempts++
	exp.Retries++
	exhausted := exp.Retries > exp.MaxRetries
	attempt := exp.Attempts
	e.mu.Unlock()

	e.window.Record(true)
	e.recordOutcome(ctx, exp.Profile, Collection{Reason: ReasonTimeout})
	e.emitDigit(ctx, store.DigitEvent{
		CallID:  callID,
		Source:  string(ChannelDTMF),
		Profile: exp.Profile,
		Reason:  ReasonTimeout,
	})

	if exhausted {
		if e.trySMSFallback(ctx, callID, st, exp, ReasonTimeout) {
			return
		}
		e.clearExpectation(callID)
		e.effects.EndCall(ctx, callID, "digits_timeout", exp.TimeoutFailure)
		return
	}
	e.effects.Speak(ctx, callID, exp.RepromptFor(ReasonTimeout, attempt))
}

// BufferDigits accepts input that arrived before any expectation exists.
func (e *Engine) BufferDigits(callID, digits string, meta Meta) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := e.state(callID)
	if st.exp != nil {
		return false
	}
	ok := st.early.push(digits, meta)
	if !ok {
		slog.Warn("digits: early buffer full, dropping input", "call_id", callID)
	}
	return ok
}

// FlushBuffered replays early-buffered digits through the active
// expectation. The loop is strict: it stops the moment the expectation
// disappears, and a failed item goes back to the head of the queue.
func (e *Engine) FlushBuffered(ctx context.Context, callID string) {
	for {
		e.mu.Lock()
		st, ok := e.calls[callID]
		if !ok || st.exp == nil || st.early.empty() {
			e.mu.Unlock()
			return
		}
		item, _ := st.early.pop()
		e.mu.Unlock()

		c, err := e.RecordDigits(ctx, callID, item.Digits, item.Meta)
		if err != nil {
			e.mu.Lock()
			if st2, ok := e.calls[callID]; ok {
				st2.early.requeueHead(item)
			}
			e.mu.Unlock()
			return
		}
		e.HandleCollection(ctx, callID, c, item.Meta.Channel)
	}
}

// RequestCollection creates a single-step plan or, when the profile or
// prompt names a group, the corresponding grouped plan.
func (e *Engine) RequestCollection(ctx context.Context, callID string, params Params, endCallOnSuccess bool, completionMessage string) error {
	group := Group(params.Profile)
	if _, ok := groupSteps[group]; !ok {
		group = ResolveGroup(params.Prompt)
	}
	if group != GroupNone {
		plan, err := NewGroupPlan(group, params, endCallOnSuccess, completionMessage)
		if err != nil {
			return err
		}
		return e.installPlan(ctx, callID, plan)
	}

	plan, err := NewPlan([]Params{params}, endCallOnSuccess, completionMessage)
	if err != nil {
		return err
	}
	return e.installPlan(ctx, callID, plan)
}

// RequestPlan creates a multi-step plan from explicit steps.
func (e *Engine) RequestPlan(ctx context.Context, callID string, steps []Params, endCallOnSuccess bool, completionMessage string) error {
	plan, err := NewPlan(steps, endCallOnSuccess, completionMessage)
	if err != nil {
		return err
	}
	return e.installPlan(ctx, callID, plan)
}

// HandleIncomingSMS matches an inbound text by sender phone and feeds its
// digits through the active expectation. Returns false when no fallback
// session matches.
func (e *Engine) HandleIncomingSMS(ctx context.Context, fromPhone, body string) bool {
	e.mu.Lock()
	var callID string
	for id, st := range e.calls {
		if st.sms != nil && st.sms.Phone == fromPhone {
			callID = id
			break
		}
	}
	e.mu.Unlock()
	if callID == "" {
		return false
	}

	digits := parseSMSDigits(body)
	if digits == "" {
		return false
	}
	e.emit(ctx, callID, EventSMSFallbackMatched, map[string]any{"from": fromPhone})

	c, err := e.RecordDigits(ctx, callID, digits, Meta{Channel: ChannelSMS})
	if err != nil {
		return false
	}
	e.HandleCollection(ctx, callID, c, ChannelSMS)
	return true
}

// ClearCall tears down all per-call digit state. Idempotent.
func (e *Engine) ClearCall(callID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.calls, callID)
}

// ---- internals ----

// state returns (creating if needed) the per-call state. Caller holds e.mu.
func (e *Engine) state(callID string) *callState {
	st, ok := e.calls[callID]
	if !ok {
		st = &callState{}
		e.calls[callID] = st
	}
	return st
}

func (e *Engine) installPlan(ctx context.Context, callID string, plan *Plan) error {
	e.mu.Lock()
	st := e.state(callID)
	st.plan = plan
	plan.State = PlanPlayFirstMessage
	step, ok := plan.currentStep()
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("digits: plan %s has no steps", plan.ID)
	}

	if err := e.setStepExpectation(ctx, callID, plan, step); err != nil {
		return err
	}
	e.mu.Lock()
	if st.plan == plan {
		plan.State = PlanCollectStep
	}
	e.mu.Unlock()
	return nil
}

// setStepExpectation installs a plan step's expectation with plan linkage.
func (e *Engine) setStepExpectation(ctx context.Context, callID string, plan *Plan, step Params) error {
	if err := e.SetExpectation(ctx, callID, step); err != nil {
		return err
	}
	e.mu.Lock()
	st, ok := e.calls[callID]
	if ok && st.exp != nil {
		st.exp.PlanID = plan.ID
		st.exp.StepIndex = plan.Index + 1
		st.exp.StepTotal = len(plan.Steps)
	}
	e.mu.Unlock()
	return nil
}

func (e *Engine) handleAccepted(ctx context.Context, callID string, st *callState, exp *Expectation, plan *Plan, c Collection) {
	if exp.RiskAction == RiskActionRouteToAgent {
		e.emit(ctx, callID, EventCaptureCompleted, map[string]any{"profile": exp.Profile, "risk_action": string(exp.RiskAction)})
		e.clearExpectation(callID)
		e.effects.RouteToAgent(ctx, callID)
		return
	}

	if plan != nil && plan.Active {
		e.advancePlan(ctx, callID, st, exp, plan, c)
		return
	}

	e.emit(ctx, callID, EventCaptureCompleted, map[string]any{"profile": exp.Profile, "masked": c.Masked})
	if exp.SpeakConfirmation {
		e.effects.Speak(ctx, callID, confirmationLine(exp, c))
	}
	e.clearExpectation(callID)
}

func (e *Engine) advancePlan(ctx context.Context, callID string, st *callState, exp *Expectation, plan *Plan, c Collection) {
	e.mu.Lock()
	if !plan.acceptStep(c.Digits, c.Profile, c.StepIndex, e.now()) {
		e.mu.Unlock()
		slog.Debug("digits: duplicate step delivery dropped", "call_id", callID, "plan", plan.ID)
		return
	}
	plan.State = PlanAdvance
	plan.Index++
	done := plan.done()
	var next Params
	if !done {
		next, _ = plan.currentStep()
	} else {
		plan.Active = false
		plan.State = PlanComplete
		st.plan = nil
		st.sms = nil
	}
	st.exp = nil
	e.mu.Unlock()

	if exp.SpeakConfirmation {
		e.effects.Speak(ctx, callID, confirmationLine(exp, c))
	}

	if !done {
		e.mu.Lock()
		plan.State = PlanCollectStep
		e.mu.Unlock()
		if err := e.setStepExpectation(ctx, callID, plan, next); err != nil {
			slog.Warn("digits: failed to install next plan step", "call_id", callID, "err", err)
		}
		return
	}

	e.emit(ctx, callID, EventPlanCompleted, map[string]any{"plan": plan.ID, "group": string(plan.Group)})
	if plan.EndCallOnSuccess {
		msg := plan.CompletionMessage
		if msg == "" {
			msg = "Thank you, that's everything I needed. Goodbye."
		}
		e.effects.EndCall(ctx, callID, "plan_complete", msg)
		return
	}
	if plan.CompletionMessage != "" {
		e.effects.Speak(ctx, callID, plan.CompletionMessage)
	}
}

func (e *Engine) handleExhausted(ctx context.Context, callID string, st *callState, exp *Expectation, c Collection) {
	if e.trySMSFallback(ctx, callID, st, exp, c.Reason) {
		return
	}
	e.clearExpectation(callID)
	if exp.AllowSpokenFallback {
		e.effects.Speak(ctx, callID, "No problem, let's continue and we can come back to that.")
		return
	}
	e.effects.EndCall(ctx, callID, "digits_exhausted", exp.FailureMessage)
}

// trySMSFallback switches the expectation to the SMS channel when permitted.
func (e *Engine) trySMSFallback(ctx context.Context, callID string, st *callState, exp *Expectation, reason string) bool {
	e.mu.Lock()
	minRetries := e.smsMinRetries
	phone := st.phone
	e.mu.Unlock()
	if !qualifiesForSMSFallback(exp, reason, minRetries) {
		return false
	}
	if phone == "" {
		return false
	}

	correlationID := newCorrelationID(callID)
	if err := e.effects.SendSMS(ctx, callID, phone, smsFallbackBody(exp, correlationID), correlationID); err != nil {
		slog.Warn("digits: sms fallback send failed", "call_id", callID, "err", err)
		return false
	}

	e.mu.Lock()
	st.sms = &smsSession{CorrelationID: correlationID, Phone: phone}
	if st.exp != nil {
		st.exp.Buffer = ""
		st.exp.Retries = 0
	}
	e.mu.Unlock()

	e.emit(ctx, callID, EventSMSFallbackStarted, map[string]any{"correlation_id": correlationID})
	e.effects.EndCall(ctx, callID, "digits_sms_fallback",
		"I've sent you a text message instead. Please reply there. Goodbye.")
	return true
}

// handleCircuitFallback diverts a new expectation while the circuit is open.
func (e *Engine) handleCircuitFallback(ctx context.Context, callID string, exp *Expectation) {
	e.mu.Lock()
	st := e.state(callID)
	phone := st.phone
	e.mu.Unlock()

	if exp.AllowSMSFallback && phone != "" {
		correlationID := newCorrelationID(callID)
		if err := e.effects.SendSMS(ctx, callID, phone, smsFallbackBody(exp, correlationID), correlationID); err == nil {
			e.mu.Lock()
			st.sms = &smsSession{CorrelationID: correlationID, Phone: phone}
			e.mu.Unlock()
			e.emit(ctx, callID, EventSMSFallbackStarted, map[string]any{"correlation_id": correlationID})
			e.effects.EndCall(ctx, callID, "digits_sms_fallback",
				"I've sent you a text message instead. Please reply there. Goodbye.")
			return
		}
	}
	e.effects.EndCall(ctx, callID, "digits_circuit_open", exp.FailureMessage)
}

func (e *Engine) clearExpectation(callID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if st, ok := e.calls[callID]; ok {
		st.exp = nil
	}
}

// confirmationLine renders the spoken read-back for an accepted value.
func confirmationLine(exp *Expectation, c Collection) string {
	switch exp.Confirmation {
	case ConfirmLast4:
		digits := c.Digits
		if len(digits) > 4 {
			digits = digits[len(digits)-4:]
		}
		return fmt.Sprintf("Got it, ending in %s.", spaced(digits))
	case ConfirmSpokenAmount:
		return fmt.Sprintf("I have an amount of %s dollars.", c.Digits)
	default:
		return "Got it, thank you."
	}
}

// spaced renders digits with spaces for clearer TTS read-back.
func spaced(digits string) string {
	out := make([]byte, 0, len(digits)*2)
	for i := 0; i < len(digits); i++ {
		if i > 0 {
			out = append(out, ' ')
		}
		out = append(out, digits[i])
	}
	return string(out)
}

// recordOutcome counts one completed attempt. Accepted collections count
// under the "accepted" reason.
func (e *Engine) recordOutcome(ctx context.Context, profileID string, c Collection) {
	if e.metrics == nil {
		return
	}
	reason := c.Reason
	if c.Accepted {
		reason = "accepted"
	}
	e.metrics.RecordDigitOutcome(ctx, profileID, reason)
}

func (e *Engine) emit(ctx context.Context, callID, kind string, payload map[string]any) {
	if e.events == nil {
		return
	}
	if err := e.events.AppendEvent(ctx, store.CallEvent{CallID: callID, Kind: kind, Payload: payload}); err != nil {
		slog.Warn("digits: failed to persist audit event", "call_id", callID, "kind", kind, "err", err)
	}
}

func (e *Engine) emitDigit(ctx context.Context, ev store.DigitEvent) {
	if e.events == nil {
		return
	}
	if err := e.events.AppendDigitEvent(ctx, ev); err != nil {
		slog.Warn("digits: failed to persist digit event", "call_id", ev.CallID, "err", err)
	}
}
