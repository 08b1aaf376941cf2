// Package digits implements the digit-collection engine: expectations,
// multi-step plans, outcome classification, early-DTMF buffering, SMS
// fallback, and the process-global circuit that guards against sustained
// collection failure.
package digits

import "time"

// Channel identifies where a digit string arrived from.
type Channel string

const (
	ChannelDTMF   Channel = "dtmf"
	ChannelSMS    Channel = "sms"
	ChannelSpoken Channel = "spoken"
)

// ConfirmationStyle selects how an accepted value is read back to the caller.
type ConfirmationStyle string

const (
	ConfirmNone         ConfirmationStyle = "none"
	ConfirmLast4        ConfirmationStyle = "last4"
	ConfirmSpokenAmount ConfirmationStyle = "spoken_amount"
)

// Rejection reasons produced by outcome classification, in addition to the
// validator reasons exported by the profile package.
const (
	ReasonTooFast       = "too_fast"
	ReasonTooLong       = "too_long"
	ReasonIncomplete    = "incomplete"
	ReasonSpamPattern   = "spam_pattern"
	ReasonLowConfidence = "low_confidence"
	ReasonTimeout       = "timeout"
)

// RiskAction is the action tag attached by the risk policy at high scores.
type RiskAction string

const (
	RiskActionNone         RiskAction = ""
	RiskActionRouteToAgent RiskAction = "route_to_agent"
)

// Params is the operator- or tool-supplied request for a digit expectation,
// before normalization.
type Params struct {
	// Profile is the requested profile identifier; empty means infer from
	// the prompt.
	Profile string

	// Prompt is the first message spoken to the caller.
	Prompt string

	MinDigits int
	MaxDigits int

	// ForceExactLength pins min and max to this value when > 0.
	ForceExactLength int

	TimeoutSeconds int

	// MaxRetries < 0 means "use the profile default".
	MaxRetries int

	MaskForLLM        bool
	SpeakConfirmation bool
	Confirmation      ConfirmationStyle

	// AllowTerminator accepts Terminator as an early end-of-entry key.
	AllowTerminator bool
	Terminator      byte

	// AllowSMSFallback permits the SMS fallback path for this expectation.
	AllowSMSFallback bool

	// AllowSpokenFallback permits falling back to voice conversation on
	// exhaustion instead of ending the call.
	AllowSpokenFallback bool

	// Reprompt bags, chosen by attempt index. Empty bags get generated
	// defaults.
	InvalidReprompts    []string
	IncompleteReprompts []string
	TimeoutReprompts    []string
	FailureMessage      string
	TimeoutFailure      string
}

// RepromptBags holds the per-reason reprompt lines for an expectation.
type RepromptBags struct {
	Invalid    []string
	Incomplete []string
	Timeout    []string
}

// Expectation is the normalized, active digit-collection state for one call.
type Expectation struct {
	Profile   string
	Prompt    string
	MinDigits int
	MaxDigits int

	TimeoutSeconds    int
	MinCollectDelayMs int
	PromptedAt        time.Time

	MaxRetries int
	Retries    int
	Attempts   int

	MaskForLLM        bool
	SpeakConfirmation bool
	Confirmation      ConfirmationStyle

	AllowTerminator bool
	Terminator      byte

	AllowSMSFallback    bool
	AllowSpokenFallback bool

	// Buffer is the short-lived raw digit buffer. It never outlives the
	// expectation.
	Buffer string

	// LastMasked is the masked render of the most recent buffer state.
	LastMasked string

	// History holds the digit strings of completed attempts, used by the
	// consistency confidence signal.
	History []string

	// lastKeyAt and lastGapMs track inter-key timing for the too-fast check.
	lastKeyAt time.Time
	lastGapMs int

	// Plan linkage, zero when the expectation is standalone.
	PlanID    string
	StepIndex int
	StepTotal int

	RiskScore  float64
	RiskAction RiskAction

	Reprompts      RepromptBags
	FailureMessage string
	TimeoutFailure string
}

// Collection is the classified result of one recorded digit batch.
type Collection struct {
	Accepted bool
	Reason   string

	// Digits is the raw buffer at classification time. Callers must not
	// persist it when compliance mode is safe.
	Digits string

	Length       int
	Masked       string
	Retries      int
	AttemptCount int

	// Fallback is set once the retry budget is exhausted.
	Fallback bool

	Confidence        float64
	ConfidenceSignals ConfidenceSignals

	// Profile and StepIndex identify the expectation this collection was
	// classified against. They key plan duplicate suppression: a provider
	// re-delivery carries the completed step's identity, a fresh entry on
	// the next step carries the new one.
	Profile   string
	StepIndex int
}

// ConfidenceSignals are the weighted inputs behind a Collection's confidence.
type ConfidenceSignals struct {
	DTMFClarity   float64
	ASRConfidence float64
	Consistency   float64
	ContextFit    float64
}

// Meta carries per-batch input metadata into RecordDigits.
type Meta struct {
	Channel Channel

	// ASRConfidence is the vendor-reported confidence for spoken digits.
	// Zero means unknown (a default is substituted).
	ASRConfidence float64

	// GapMs is the observed inter-key gap for DTMF input. Zero means
	// unmeasured.
	GapMs int
}

// PlanState is the lifecycle state of a digit plan.
type PlanState string

const (
	PlanInit             PlanState = "INIT"
	PlanPlayFirstMessage PlanState = "PLAY_FIRST_MESSAGE"
	PlanCollectStep      PlanState = "COLLECT_STEP"
	PlanAdvance          PlanState = "ADVANCE"
	PlanComplete         PlanState = "COMPLETE"
	PlanFail             PlanState = "FAIL"
)

// CaptureMode selects how a plan collects its digits.
type CaptureMode string

const (
	CaptureStream    CaptureMode = "stream"
	CaptureIVRGather CaptureMode = "ivr_gather"
)

// Group identifies a predefined multi-step plan.
type Group string

const (
	GroupNone    Group = ""
	GroupBanking Group = "banking"
	GroupCard    Group = "card"
)

// PlanStep is one step template of a plan.
type PlanStep struct {
	Params Params
}

// Plan is the multi-step collection state for one call.
type Plan struct {
	ID    string
	Steps []PlanStep

	// Index is the 0-based index of the current step.
	Index int

	Active bool
	Group  Group
	Mode   CaptureMode

	EndCallOnSuccess  bool
	CompletionMessage string

	State PlanState

	// lastFingerprint and lastAcceptedAt dedupe provider re-deliveries of an
	// accepted step.
	lastFingerprint string
	lastAcceptedAt  time.Time
}
