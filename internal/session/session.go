// Package session implements the per-call orchestrator: the state machine
// binding telephony audio, speech recognition, the conversation model, speech
// synthesis, digit collection, and timers for one live call.
//
// A [Session] is created by the [Registry] when a call is placed or accepted
// and torn down exactly once, from [Session.End]. Within a call the ordering
// guarantees are strict: model completions run one at a time through the
// [TaskQueue], digit results are handled in arrival order, and timers never
// fire after teardown.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/calloway-ai/switchboard/internal/digits"
	"github.com/calloway-ai/switchboard/internal/profile"
	"github.com/calloway-ai/switchboard/internal/store"
	"github.com/calloway-ai/switchboard/internal/timers"
	"github.com/calloway-ai/switchboard/internal/transcript"
	"github.com/calloway-ai/switchboard/pkg/audio"
	"github.com/calloway-ai/switchboard/pkg/provider/llm"
	"github.com/calloway-ai/switchboard/pkg/provider/sms"
	"github.com/calloway-ai/switchboard/pkg/provider/stt"
	"github.com/calloway-ai/switchboard/pkg/provider/telephony"
	"github.com/calloway-ai/switchboard/pkg/provider/tts"
)

// ErrSessionEnded is returned by operations on a session that has entered its
// closing sequence.
var ErrSessionEnded = errors.New("session: session ended")

// Phase is the fine-grained live state used for display and timer gating.
type Phase string

const (
	PhaseWaiting         Phase = "waiting"
	PhaseListening       Phase = "listening"
	PhaseUserSpeaking    Phase = "user_speaking"
	PhaseThinking        Phase = "thinking"
	PhaseAgentResponding Phase = "agent_responding"
	PhaseAgentSpeaking   Phase = "agent_speaking"
	PhaseInterrupted     Phase = "interrupted"
	PhaseEnding          Phase = "ending"
	PhaseEnded           Phase = "ended"
)

// Closing-speech pacing. The hangup waits for the estimated duration of the
// closing line so the caller hears it in full.
const (
	closingWordsPerMinute = 140
	closingFloor          = 1600 * time.Millisecond
	closingCeil           = 12 * time.Second
)

// defaultSilenceTimeout ends the call when the caller says nothing and no
// digit capture is in progress.
const defaultSilenceTimeout = 30 * time.Second

// consoleLevelInterval rate-limits audio-level publishes to the notifier.
const consoleLevelInterval = 160 * time.Millisecond

// Stock voice lines.
const (
	fillerLine       = "One moment."
	ttsFallbackLine  = "One moment please."
	ttsFailureLine   = "I'm having trouble with my voice right now. I'll follow up another way. Goodbye."
	llmFailureLine   = "I'm having trouble on my end. I'll follow up another way. Goodbye."
	noResponseLine   = "I haven't heard anything, so I'll let you go. Goodbye."
	goodbyeLine      = "Thanks for your time. Goodbye."
	agentHandoffLine = "Let me connect you with a colleague who can help. One moment."
)

// AudioSink sends synthesized audio back onto the call's media stream. The
// HTTP layer binds one per stream when the provider's start event arrives.
type AudioSink interface {
	// SendAudio frames and transmits a clip of call-encoded audio.
	SendAudio(payload []byte) error

	// SendMark asks the provider to echo a mark once queued audio has played.
	SendMark(name string) error

	// Clear drops any audio the provider has buffered but not yet played.
	Clear() error
}

// Notifier receives display-level updates. The live console implements it;
// a nil Notifier is valid and drops everything.
type Notifier interface {
	// Event appends a line to the call's recent-events ring.
	Event(callID, line string)

	// PhaseChanged reports a phase transition with the current audio level.
	PhaseChanged(callID string, phase Phase, level float64)
}

// Config assembles a Session.
type Config struct {
	CallID    string
	ChatID    string
	Phone     string
	Direction telephony.Direction

	// SystemPrompt, FirstMessage, CustomerName, and Voice are the call's
	// conversation settings, snapshotted at creation.
	SystemPrompt string
	FirstMessage string
	CustomerName string
	Voice        tts.VoiceProfile

	// DigitIntent, when set, replaces the first message with a digit prompt:
	// the expectation is installed as soon as the stream is ready.
	DigitIntent *digits.Params

	SilenceTimeout time.Duration

	LLM       llm.Provider
	STT       stt.Provider
	TTS       tts.Provider
	SMS       sms.Provider
	Telephony telephony.Provider
	Engine    *digits.Engine
	Store     *StoreGuard
	Notifier  Notifier

	// Corrector, when set, fixes vocabulary mishearings in final utterances
	// before goodbye detection, persistence, and the model turn. Vocabulary
	// is the known-term list; the customer's name is added automatically.
	Corrector  transcript.Corrector
	Vocabulary []string

	// STTConfig describes the stream opened on attach. Zero value uses µ-law
	// at 8 kHz with numerals enabled.
	STTConfig stt.StreamConfig

	// OnEnded is called exactly once after teardown completes. The registry
	// uses it to drop its handle.
	OnEnded func(callID string)

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Session is the per-call orchestrator. All exported methods are safe for
// concurrent use; event sources (media websocket, STT channels, timers,
// operator actions) may call in from their own goroutines.
type Session struct {
	cfg    Config
	ctx    context.Context
	cancel context.CancelFunc

	queue      *TaskQueue
	timers     *timers.Manager
	correlator *transcript.Correlator
	gate       *audio.SpeechGate
	history    *History
	reconn     *Reconnector
	now        func() time.Time
	terms      []string

	mu            sync.Mutex
	phase         Phase
	ending        bool
	greetingDone  bool
	interactions  int
	speaking      int // outstanding TTS playbacks
	llmErrStreak  int
	ttsErrStreak  int
	sink          AudioSink
	sttSession    stt.SessionHandle
	pendingSpeech []string // digit-engine lines queued before the stream was ready
	lastLevelAt   time.Time
	lastOTPMasked string
	digitLines    []string

	endOnce  sync.Once
	doneOnce sync.Once
}

// New creates a Session. The session is idle until the media stream attaches.
func New(cfg Config) (*Session, error) {
	var errs []error
	if cfg.CallID == "" {
		errs = append(errs, errors.New("session: CallID must not be empty"))
	}
	if cfg.LLM == nil {
		errs = append(errs, errors.New("session: LLM provider must not be nil"))
	}
	if cfg.TTS == nil {
		errs = append(errs, errors.New("session: TTS provider must not be nil"))
	}
	if cfg.Engine == nil {
		errs = append(errs, errors.New("session: digit engine must not be nil"))
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	if cfg.SilenceTimeout <= 0 {
		cfg.SilenceTimeout = defaultSilenceTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		cfg:        cfg,
		ctx:        ctx,
		cancel:     cancel,
		queue:      NewTaskQueue(ctx),
		timers:     timers.NewManager(),
		correlator: transcript.NewCorrelator(),
		gate:       audio.NewSpeechGate(audio.SpeechGateConfig{}),
		now:        cfg.Now,
		phase:      PhaseWaiting,
	}
	window := cfg.LLM.Capabilities().ContextWindow
	if window <= 0 {
		window = 32000
	}
	s.history = NewHistory(window, CallRecap(cfg.LLM))
	s.reconn = NewReconnector(ReconnectorConfig{
		Open:        s.openSTT,
		OnReconnect: s.drainPendingSpeech,
	})
	if cfg.Phone != "" {
		cfg.Engine.SetPhone(cfg.CallID, cfg.Phone)
	}
	s.terms = append(s.terms, cfg.Vocabulary...)
	if cfg.CustomerName != "" {
		s.terms = append(s.terms, cfg.CustomerName)
	}
	return s, nil
}

// CallID returns the session's call identifier.
func (s *Session) CallID() string { return s.cfg.CallID }

// ChatID returns the operator chat that owns this call.
func (s *Session) ChatID() string { return s.cfg.ChatID }

// Phase returns the current display phase.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Interactions returns the number of completed model turns.
func (s *Session) Interactions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interactions
}

// Ending reports whether the closing sequence has started.
func (s *Session) Ending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ending
}

// AttachStream binds the provider media stream to the session: the STT stream
// is opened, the greeting (or the digit prompt) is played once, and speech
// lines the digit engine queued before the stream existed are drained in
// order. Re-attachment after a stream flap skips the greeting.
func (s *Session) AttachStream(ctx context.Context, sink AudioSink) error {
	s.mu.Lock()
	if s.ending {
		s.mu.Unlock()
		return ErrSessionEnded
	}
	s.sink = sink
	replay := s.greetingDone
	s.mu.Unlock()

	if err := s.openSTT(ctx); err != nil {
		slog.Warn("session: stt stream failed to open", "call_id", s.cfg.CallID, "err", err)
		s.notifyEvent("Transcription unavailable")
	}

	if replay {
		// Stream flap: no re-greeting, just replay whatever the digit engine
		// queued during the gap and keep the original timeout clock.
		s.drainPendingSpeech()
		return nil
	}

	s.mu.Lock()
	s.greetingDone = true
	s.mu.Unlock()

	s.playGreeting(ctx)
	s.drainPendingSpeech()
	s.armSilenceTimer()
	return nil
}

// playGreeting speaks the configured opening exactly once per call.
func (s *Session) playGreeting(ctx context.Context) {
	if s.cfg.DigitIntent != nil {
		if err := s.cfg.Engine.RequestCollection(ctx, s.cfg.CallID, *s.cfg.DigitIntent, true, ""); err != nil {
			slog.Warn("session: digit intent rejected", "call_id", s.cfg.CallID, "err", err)
		} else {
			s.armDigitTimeout()
			if prompt := s.cfg.DigitIntent.Prompt; prompt != "" {
				s.Say(prompt)
			}
			return
		}
	}
	if s.cfg.FirstMessage != "" {
		s.Say(s.cfg.FirstMessage)
		return
	}
	// No configured opener: ask the model for one.
	s.enqueueCompletion("", "call answered")
}

// openSTT starts the transcription stream and its consumer goroutine.
func (s *Session) openSTT(ctx context.Context) error {
	if s.cfg.STT == nil {
		return nil
	}
	cfg := s.cfg.STTConfig
	if cfg.Encoding == "" {
		cfg.Encoding = stt.EncodingMulaw
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 8000
	}
	if cfg.Channels == 0 {
		cfg.Channels = 1
	}
	cfg.Numerals = true

	handle, err := s.cfg.STT.StartStream(ctx, cfg)
	if err != nil {
		return fmt.Errorf("session: start stt stream: %w", err)
	}

	s.mu.Lock()
	old := s.sttSession
	s.sttSession = handle
	s.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}

	go s.consumeTranscripts(handle)
	return nil
}

// consumeTranscripts drains one STT session's partial and final channels.
func (s *Session) consumeTranscripts(handle stt.SessionHandle) {
	partials := handle.Partials()
	finals := handle.Finals()
	for partials != nil || finals != nil {
		select {
		case <-s.ctx.Done():
			return
		case t, ok := <-partials:
			if !ok {
				partials = nil
				continue
			}
			s.handlePartial(t)
		case t, ok := <-finals:
			if !ok {
				finals = nil
				continue
			}
			s.handleFinal(t)
		}
	}
}

// HandleMedia processes one inbound audio frame: level metering drives the
// speech gate and display phase, and the raw audio feeds the recogniser.
func (s *Session) HandleMedia(payload []byte) {
	if s.Ending() {
		return
	}
	level := audio.Level(payload, s.meterEncoding())
	state := s.gate.Observe(level, s.now())

	s.mu.Lock()
	publish := s.now().Sub(s.lastLevelAt) >= consoleLevelInterval
	if publish {
		s.lastLevelAt = s.now()
	}
	agentSpeaking := s.speaking > 0
	var next Phase
	switch {
	case state == audio.SpeechStarted && agentSpeaking:
		next = PhaseInterrupted
	case state == audio.SpeechStarted:
		next = PhaseUserSpeaking
	case state == audio.SpeechStopped:
		next = PhaseListening
	}
	if next != "" && !s.ending {
		s.phase = next
	}
	phase := s.phase
	handle := s.sttSession
	s.mu.Unlock()

	if next != "" || publish {
		s.notifyPhase(phase, level)
	}
	if next == PhaseListening {
		s.armSilenceTimer()
	}

	if handle != nil {
		if err := handle.SendAudio(payload); err != nil {
			slog.Debug("session: stt send failed", "call_id", s.cfg.CallID, "err", err)
			s.reconn.NotifyDisconnect(s.ctx)
		}
	}
}

// HandleDTMF routes keypad input. Keys never reach the model: with an active
// expectation they are classified immediately, otherwise they are buffered
// until one is installed.
func (s *Session) HandleDTMF(keys string, gapMs int) {
	if s.Ending() {
		return
	}
	s.timers.Clear(timers.Silence)

	meta := digits.Meta{Channel: digits.ChannelDTMF, GapMs: gapMs}
	c, err := s.cfg.Engine.RecordDigits(s.ctx, s.cfg.CallID, keys, meta)
	if errors.Is(err, digits.ErrNoExpectation) {
		s.cfg.Engine.BufferDigits(s.cfg.CallID, keys, meta)
		return
	}
	if err != nil {
		slog.Warn("session: dtmf rejected", "call_id", s.cfg.CallID, "err", err)
		return
	}
	s.cfg.Engine.HandleCollection(s.ctx, s.cfg.CallID, c, digits.ChannelDTMF)
	s.afterCollection(c)
}

// afterCollection updates session bookkeeping for a classified entry.
func (s *Session) afterCollection(c digits.Collection) {
	if c.Accepted {
		s.timers.Clear(timers.DigitTimeout)
		s.mu.Lock()
		s.lastOTPMasked = c.Masked
		s.digitLines = append(s.digitLines, "accepted "+c.Masked)
		s.mu.Unlock()
		// The engine may have installed the next plan step.
		if _, active := s.cfg.Engine.Expectation(s.cfg.CallID); active {
			s.armDigitTimeout()
		} else {
			s.armSilenceTimer()
		}
		return
	}
	if c.Fallback {
		s.mu.Lock()
		s.digitLines = append(s.digitLines, "exhausted after "+c.Reason)
		s.mu.Unlock()
		return
	}
	if c.Reason != digits.ReasonIncomplete {
		s.armDigitTimeout()
	}
}

// handlePartial forwards non-stale interim hypotheses to the display.
func (s *Session) handlePartial(t stt.Transcript) {
	if _, ok := s.correlator.ObservePartial(t.Text); !ok {
		return
	}
	s.mu.Lock()
	if !s.ending && s.phase != PhaseUserSpeaking && s.phase != PhaseInterrupted {
		s.phase = PhaseUserSpeaking
	}
	s.mu.Unlock()
}

// handleFinal is the consumer of authoritative utterances: goodbye detection,
// spoken digit capture, and the model pipeline.
func (s *Session) handleFinal(t stt.Transcript) {
	text := strings.TrimSpace(t.Text)
	if text == "" || s.Ending() {
		return
	}
	s.timers.Clear(timers.Silence)
	hyp := s.correlator.ObserveFinal(text)

	corrected := s.correctFinal(t, text)
	s.persistUserUtterance(corrected, hyp.Interaction)

	if s.Interactions() >= 1 && isGoodbye(corrected) {
		s.End("user_goodbye", goodbyeLine)
		return
	}

	// Digit extraction works on the raw text so the corrector can never
	// touch a spoken code.
	if exp, active := s.cfg.Engine.Expectation(s.cfg.CallID); active {
		s.handleSpokenDuringCapture(text, t.Confidence, exp)
		return
	}

	s.enqueueCompletion(corrected, corrected)
}

// correctFinal runs the vocabulary corrector over one final utterance.
// Failures degrade to the raw text.
func (s *Session) correctFinal(t stt.Transcript, text string) string {
	if s.cfg.Corrector == nil || len(s.terms) == 0 {
		return text
	}
	t.Text = text
	res, err := s.cfg.Corrector.Correct(s.ctx, t, s.terms)
	if err != nil || res == nil {
		slog.Debug("session: transcript correction failed", "call_id", s.cfg.CallID, "err", err)
		return text
	}
	if len(res.Corrections) > 0 {
		slog.Debug("session: utterance corrected",
			"call_id", s.cfg.CallID, "corrections", len(res.Corrections))
	}
	return res.Corrected
}

// handleSpokenDuringCapture extracts OTP-shaped codes from speech while an
// expectation is active. Anything else said during capture is dropped from
// the model path.
func (s *Session) handleSpokenDuringCapture(text string, confidence float64, exp digits.Expectation) {
	prof, ok := profile.Lookup(exp.Profile)
	if !ok || !prof.Allowed.Voice {
		return
	}
	codes := transcript.ExtractCodes(text, exp.MinDigits, exp.MaxDigits)
	if len(codes) == 0 {
		return
	}
	meta := digits.Meta{Channel: digits.ChannelSpoken, ASRConfidence: confidence}
	c, err := s.cfg.Engine.RecordDigits(s.ctx, s.cfg.CallID, codes[0], meta)
	if err != nil {
		return
	}
	s.cfg.Engine.HandleCollection(s.ctx, s.cfg.CallID, c, digits.ChannelSpoken)
	s.afterCollection(c)
}

// enqueueCompletion schedules one model turn. key deduplicates identical
// utterances arriving within the duplicate window.
func (s *Session) enqueueCompletion(userText, key string) {
	s.mu.Lock()
	if s.ending {
		s.mu.Unlock()
		return
	}
	s.phase = PhaseThinking
	s.mu.Unlock()
	s.notifyPhase(PhaseThinking, 0)

	ok, err := s.queue.EnqueueKeyed(key, func(ctx context.Context) {
		s.runCompletion(ctx, userText)
	})
	if err != nil {
		slog.Warn("session: completion enqueue failed", "call_id", s.cfg.CallID, "err", err)
	}
	if !ok {
		slog.Debug("session: duplicate utterance suppressed", "call_id", s.cfg.CallID)
	}
}

// runCompletion executes one model turn on the queue worker. A transient
// failure speaks a filler and retries once inside the same turn; the second
// consecutive failing turn closes the call.
func (s *Session) runCompletion(ctx context.Context, userText string) {
	if s.Ending() {
		return
	}
	if userText != "" {
		masked := s.maskForModel(userText)
		if err := s.history.Append(ctx, llm.Message{Role: "user", Content: masked}); err != nil {
			slog.Warn("session: history append failed", "call_id", s.cfg.CallID, "err", err)
		}
	}

	req := llm.CompletionRequest{
		SystemPrompt: s.cfg.SystemPrompt,
		Messages:     s.history.Messages(),
		Tools:        llm.CallTools(),
	}

	resp, err := s.cfg.LLM.Complete(ctx, req)
	if err != nil {
		s.notifyEvent("Model error, retrying")
		s.Say(fillerLine)
		resp, err = s.cfg.LLM.Complete(ctx, req)
	}
	if err != nil {
		s.mu.Lock()
		s.llmErrStreak++
		streak := s.llmErrStreak
		s.mu.Unlock()
		slog.Warn("session: completion failed", "call_id", s.cfg.CallID, "streak", streak, "err", err)
		if streak >= 2 {
			s.End("llm_error", llmFailureLine)
		}
		return
	}

	// Result discarded if the call entered its closing sequence meanwhile.
	if s.Ending() {
		return
	}

	s.mu.Lock()
	s.llmErrStreak = 0
	s.interactions++
	interaction := s.interactions
	s.phase = PhaseAgentResponding
	s.mu.Unlock()
	s.notifyPhase(PhaseAgentResponding, 0)

	reply := resp.Content
	if reply == "" && len(resp.ToolCalls) == 0 {
		return
	}
	if err := s.history.Append(ctx, llm.Message{
		Role:      "assistant",
		Content:   reply,
		ToolCalls: resp.ToolCalls,
	}); err != nil {
		slog.Warn("session: history append failed", "call_id", s.cfg.CallID, "err", err)
	}
	if reply != "" {
		s.persistAgentUtterance(reply, interaction)
		s.Say(reply)
	}
	if len(resp.ToolCalls) > 0 {
		s.handleToolCalls(ctx, resp.ToolCalls)
	}
}

// maskForModel applies the active expectation's masking policy to the copy of
// an utterance handed to the model.
func (s *Session) maskForModel(text string) string {
	exp, active := s.cfg.Engine.Expectation(s.cfg.CallID)
	if active && exp.MaskForLLM {
		return transcript.MaskForLLM(text, exp.MinDigits, exp.MaxDigits)
	}
	return text
}

// Say queues one line of agent speech. Before the media stream is attached
// the line is parked and drained right after the greeting.
func (s *Session) Say(text string) {
	if text == "" || s.Ending() {
		return
	}
	s.mu.Lock()
	if s.sink == nil {
		s.pendingSpeech = append(s.pendingSpeech, text)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	go s.playback(text)
}

// drainPendingSpeech plays lines parked while no stream was attached.
func (s *Session) drainPendingSpeech() {
	s.mu.Lock()
	pending := s.pendingSpeech
	s.pendingSpeech = nil
	s.mu.Unlock()
	for _, line := range pending {
		s.playback(line)
	}
}

// playback synthesizes and transmits one utterance, blocking for its
// estimated duration. TTS gets one retry with a fallback line; a second
// failure closes the call.
func (s *Session) playback(text string) {
	s.mu.Lock()
	sink := s.sink
	if sink == nil || s.phase == PhaseEnded {
		s.mu.Unlock()
		return
	}
	s.speaking++
	if !s.ending {
		s.phase = PhaseAgentSpeaking
	}
	s.mu.Unlock()
	s.timers.Clear(timers.Silence)
	s.notifyPhase(PhaseAgentSpeaking, 0)

	defer func() {
		s.mu.Lock()
		s.speaking--
		idle := s.speaking == 0 && !s.ending
		if idle {
			s.phase = PhaseListening
		}
		s.mu.Unlock()
		if idle {
			s.notifyPhase(PhaseListening, 0)
			s.armSilenceTimer()
		}
	}()

	clip, err := s.cfg.TTS.Synthesize(s.ctx, text, s.cfg.Voice)
	if err != nil {
		slog.Warn("session: tts failed, retrying with fallback line", "call_id", s.cfg.CallID, "err", err)
		clip, err = s.cfg.TTS.Synthesize(s.ctx, ttsFallbackLine, s.cfg.Voice)
	}
	if err != nil {
		s.mu.Lock()
		s.ttsErrStreak++
		streak := s.ttsErrStreak
		s.mu.Unlock()
		if streak >= 2 {
			s.End("tts_error", ttsFailureLine)
		}
		return
	}
	s.mu.Lock()
	s.ttsErrStreak = 0
	s.mu.Unlock()

	if err := sink.SendAudio(clip); err != nil {
		slog.Warn("session: media send failed", "call_id", s.cfg.CallID, "err", err)
		return
	}
	_ = sink.SendMark("utterance")

	select {
	case <-time.After(estimateSpeechDuration(text)):
	case <-s.ctx.Done():
	}
}

// armSilenceTimer arms the no-response timer unless a digit capture or agent
// speech is outstanding.
func (s *Session) armSilenceTimer() {
	s.mu.Lock()
	suspended := s.ending || s.speaking > 0
	s.mu.Unlock()
	if suspended {
		return
	}
	if _, active := s.cfg.Engine.Expectation(s.cfg.CallID); active {
		return
	}
	s.timers.Set(timers.Silence, s.cfg.SilenceTimeout, func() {
		s.End("no_response", noResponseLine)
	})
}

// armDigitTimeout arms the collection timer for the active expectation. The
// clock starts after the prompt delay so a slow synthesis does not eat into
// the caller's entry window.
func (s *Session) armDigitTimeout() {
	exp, active := s.cfg.Engine.Expectation(s.cfg.CallID)
	if !active {
		return
	}
	delay := promptDelay(exp)
	total := delay + time.Duration(exp.TimeoutSeconds)*time.Second
	s.timers.Set(timers.DigitTimeout, total, func() {
		s.cfg.Engine.HandleTimeout(s.ctx, s.cfg.CallID)
		if _, still := s.cfg.Engine.Expectation(s.cfg.CallID); still {
			s.armDigitTimeout()
		}
	})
}

// promptDelay is the wait before the digit-entry window opens.
func promptDelay(exp digits.Expectation) time.Duration {
	d := time.Second
	if m := time.Duration(exp.MinCollectDelayMs) * time.Millisecond; m > d {
		d = m
	}
	if est := estimateSpeechDuration(exp.Prompt); est > d {
		d = est
	}
	return d
}

// estimateSpeechDuration approximates how long a line takes to speak at the
// closing rate, clamped to the floor and ceiling.
func estimateSpeechDuration(text string) time.Duration {
	words := len(strings.Fields(text))
	d := time.Duration(words) * time.Minute / closingWordsPerMinute
	if d < closingFloor {
		d = closingFloor
	}
	if d > closingCeil {
		d = closingCeil
	}
	return d
}

// End runs the closing sequence exactly once: persist the ending transcript,
// speak the closing line, wait out its estimated duration, hang up, and tear
// everything down.
func (s *Session) End(reason, closing string) {
	s.endOnce.Do(func() {
		s.mu.Lock()
		s.ending = true
		s.phase = PhaseEnding
		s.mu.Unlock()
		s.notifyPhase(PhaseEnding, 0)
		s.notifyEvent("Call ending: " + reason)

		s.timers.ClearAll()
		if s.cfg.Store != nil {
			s.cfg.Store.AppendTranscript(s.ctx, store.TranscriptEntry{
				CallID:           s.cfg.CallID,
				Speaker:          store.SpeakerAgent,
				Message:          "call_ending: " + reason,
				InteractionCount: s.Interactions(),
			})
			s.cfg.Store.AppendEvent(s.ctx, store.CallEvent{
				CallID:  s.cfg.CallID,
				Kind:    "call_ending",
				Payload: map[string]any{"reason": reason},
			})
		}

		if closing != "" {
			s.playback(closing)
		}

		if s.cfg.Telephony != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := s.cfg.Telephony.Hangup(ctx, s.cfg.CallID); err != nil {
				slog.Warn("session: hangup failed", "call_id", s.cfg.CallID, "err", err)
			}
			cancel()
		}
		s.teardown(reason)
	})
}

// teardown releases every per-call resource. Runs once, from End.
func (s *Session) teardown(reason string) {
	s.doneOnce.Do(func() {
		s.mu.Lock()
		s.phase = PhaseEnded
		handle := s.sttSession
		s.sttSession = nil
		s.mu.Unlock()

		s.queue.Close()
		s.timers.Close()
		s.cfg.Engine.ClearCall(s.cfg.CallID)
		if handle != nil {
			_ = handle.Close()
		}
		s.cancel()

		slog.Info("session ended", "call_id", s.cfg.CallID, "reason", reason, "interactions", s.Interactions())
		s.summarize()
		if s.cfg.OnEnded != nil {
			s.cfg.OnEnded(s.cfg.CallID)
		}
	})
}

// summarize writes the end-of-call summary fields in the background.
func (s *Session) summarize() {
	if s.cfg.Store == nil {
		return
	}
	msgs := s.history.Messages()
	s.mu.Lock()
	otp := s.lastOTPMasked
	digitSummary := strings.Join(s.digitLines, "; ")
	s.mu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		summary := ""
		if len(msgs) > 0 {
			var err error
			summary, err = CallRecap(s.cfg.LLM)(ctx, msgs)
			if err != nil {
				slog.Warn("session: summary generation failed", "call_id", s.cfg.CallID, "err", err)
			}
		}
		s.cfg.Store.SetCallSummary(ctx, s.cfg.CallID, summary, otp, digitSummary)
	}()
}

// persistUserUtterance stores the caller's utterance, masked for logs.
func (s *Session) persistUserUtterance(text string, interaction int) {
	if s.cfg.Store == nil {
		return
	}
	s.cfg.Store.AppendTranscript(s.ctx, store.TranscriptEntry{
		CallID:           s.cfg.CallID,
		Speaker:          store.SpeakerUser,
		Message:          transcript.MaskForLogs(text),
		InteractionCount: interaction,
	})
	s.cfg.Store.AppendEvent(s.ctx, store.CallEvent{
		CallID:  s.cfg.CallID,
		Kind:    "user_spoke",
		Payload: map[string]any{"interaction": interaction},
	})
}

// persistAgentUtterance stores the agent's reply.
func (s *Session) persistAgentUtterance(text string, interaction int) {
	if s.cfg.Store == nil {
		return
	}
	s.cfg.Store.AppendTranscript(s.ctx, store.TranscriptEntry{
		CallID:           s.cfg.CallID,
		Speaker:          store.SpeakerAgent,
		Message:          transcript.MaskForLogs(text),
		InteractionCount: interaction,
	})
	s.cfg.Store.AppendEvent(s.ctx, store.CallEvent{
		CallID:  s.cfg.CallID,
		Kind:    "ai_responded",
		Payload: map[string]any{"interaction": interaction},
	})
}

func (s *Session) meterEncoding() audio.Encoding {
	if s.cfg.STTConfig.Encoding == stt.EncodingLinear16 {
		return audio.EncodingPCM16
	}
	return audio.EncodingMulaw
}

func (s *Session) notifyEvent(line string) {
	if s.cfg.Notifier != nil {
		s.cfg.Notifier.Event(s.cfg.CallID, line)
	}
}

func (s *Session) notifyPhase(phase Phase, level float64) {
	if s.cfg.Notifier != nil {
		s.cfg.Notifier.PhaseChanged(s.cfg.CallID, phase, level)
	}
}

// ---- digit engine effects ----

// Speak implements [digits.Effects].
func (s *Session) Speak(_ context.Context, _ string, text string) {
	s.Say(text)
}

// SendSMS implements [digits.Effects].
func (s *Session) SendSMS(ctx context.Context, _ string, phone, body, correlationID string) error {
	if s.cfg.SMS == nil {
		return errors.New("session: no sms provider configured")
	}
	_, err := s.cfg.SMS.Send(ctx, sms.Message{
		To:             phone,
		Body:           body,
		IdempotencyKey: correlationID,
	})
	if err != nil {
		s.notifyEvent("SMS fallback send failed")
		return fmt.Errorf("session: sms fallback: %w", err)
	}
	s.notifyEvent("SMS fallback sent")
	return nil
}

// EndCall implements [digits.Effects].
func (s *Session) EndCall(_ context.Context, _ string, reason, closingMessage string) {
	s.End(reason, closingMessage)
}

// RouteToAgent implements [digits.Effects].
func (s *Session) RouteToAgent(_ context.Context, _ string) {
	s.End("risk_escalation", agentHandoffLine)
}

var _ digits.Effects = (*Session)(nil)
