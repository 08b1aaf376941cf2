package digits

import (
	"fmt"
	"strings"

	"github.com/calloway-ai/switchboard/internal/profile"
)

const (
	minTimeoutSeconds = 3
	maxTimeoutSeconds = 60
	maxRetryCap       = 5

	// minCollectDelayFloorMs is the absolute lower bound on the delay between
	// prompting and accepting input; minCollectDelayBaseMs is the practical
	// floor for any spoken prompt.
	minCollectDelayFloorMs = 800
	minCollectDelayBaseMs  = 3000

	// speechWordsPerMinute drives the spoken-prompt duration estimate.
	speechWordsPerMinute = 150
)

// otpActionVerbs are the verbs that, combined with a keyword or an explicit
// length, mark a prompt as requesting an OTP-style entry.
var otpActionVerbs = []string{"press", "enter", "dial", "type", "key in", "input", "punch"}

// profileKeywords score prompt words toward a profile during inference.
var profileKeywords = map[string][]string{
	profile.Verification:  {"code", "verification", "one-time", "one time", "otp", "passcode", "security code"},
	profile.PIN:           {"pin"},
	profile.SSN:           {"social security", "ssn"},
	profile.DOB:           {"date of birth", "birthday", "birth date"},
	profile.RoutingNumber: {"routing", "aba"},
	profile.AccountNumber: {"account number", "checking", "savings"},
	profile.CardNumber:    {"card number", "credit card", "debit card"},
	profile.CVV:           {"cvv", "cvc", "security code on", "back of"},
	profile.CardExpiry:    {"expiration", "expiry", "expires"},
	profile.Zip:           {"zip", "postal"},
	profile.Phone:         {"phone number", "callback number"},
	profile.Amount:        {"amount", "dollars", "payment of"},
	profile.Extension:     {"extension"},
}

// NormalizeParams resolves operator-supplied params into a ready Expectation.
// Profile resolution prefers explicit over inferred over generic; bounds,
// timeout, and retries are clamped to the registry row and the global caps.
func NormalizeParams(p Params) (Expectation, error) {
	prof, err := resolveProfile(p)
	if err != nil {
		return Expectation{}, err
	}

	minD, maxD := resolveBounds(p, prof)
	timeout := clampInt(orDefault(p.TimeoutSeconds, prof.TimeoutSeconds), minTimeoutSeconds, maxTimeoutSeconds)

	retries := p.MaxRetries
	if retries < 0 {
		retries = prof.MaxRetries
	}
	retries = clampInt(retries, 0, maxRetryCap)

	confirmation := p.Confirmation
	if confirmation == "" {
		confirmation = ConfirmNone
	}

	exp := Expectation{
		Profile:             prof.ID,
		Prompt:              p.Prompt,
		MinDigits:           minD,
		MaxDigits:           maxD,
		TimeoutSeconds:      timeout,
		MinCollectDelayMs:   minCollectDelay(p.Prompt),
		MaxRetries:          retries,
		MaskForLLM:          p.MaskForLLM,
		SpeakConfirmation:   p.SpeakConfirmation,
		Confirmation:        confirmation,
		AllowTerminator:     p.AllowTerminator,
		Terminator:          p.Terminator,
		AllowSMSFallback:    p.AllowSMSFallback && prof.Allowed.SMS,
		AllowSpokenFallback: p.AllowSpokenFallback,
		Reprompts:           resolveReprompts(p, prof),
		FailureMessage:      p.FailureMessage,
		TimeoutFailure:      p.TimeoutFailure,
	}
	if exp.FailureMessage == "" {
		exp.FailureMessage = "I wasn't able to capture that. We'll follow up another way. Goodbye."
	}
	if exp.TimeoutFailure == "" {
		exp.TimeoutFailure = "I didn't receive an entry. We'll follow up another way. Goodbye."
	}
	return exp, nil
}

// resolveProfile prefers explicit profile, then prompt inference, then
// generic.
func resolveProfile(p Params) (profile.Profile, error) {
	if p.Profile != "" {
		canon, ok := profile.Normalize(p.Profile)
		if !ok {
			return profile.Profile{}, fmt.Errorf("digits: unknown profile %q", p.Profile)
		}
		prof, _ := profile.Lookup(canon)
		return prof, nil
	}
	if inferred := InferProfile(p.Prompt, p.ForceExactLength > 0 || p.MinDigits > 0); inferred != "" {
		prof, _ := profile.Lookup(inferred)
		return prof, nil
	}
	prof, _ := profile.Lookup(profile.Generic)
	return prof, nil
}

// InferProfile scores the prompt against per-profile keyword lists and
// returns the best match, or "" when nothing scores. An OTP (verification)
// inference additionally requires an action verb AND either a keyword hit or
// an explicit length hint.
func InferProfile(prompt string, hasExplicitLength bool) string {
	lower := strings.ToLower(prompt)
	if lower == "" {
		return ""
	}

	best := ""
	bestScore := 0
	for id, keywords := range profileKeywords {
		score := 0
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = id, score
		}
	}

	if best == profile.Verification {
		if !containsAny(lower, otpActionVerbs) {
			return ""
		}
		if bestScore == 0 && !hasExplicitLength {
			return ""
		}
	}
	return best
}

// resolveBounds clamps requested bounds into the registry row, with the
// OTP band forced to 4–8.
func resolveBounds(p Params, prof profile.Profile) (minD, maxD int) {
	minD, maxD = p.MinDigits, p.MaxDigits
	if p.ForceExactLength > 0 {
		return p.ForceExactLength, p.ForceExactLength
	}
	if minD < prof.MinDigits {
		minD = prof.MinDigits
	}
	if maxD <= 0 || maxD > prof.MaxDigits {
		maxD = prof.MaxDigits
	}
	if prof.Validator == profile.ValidatorOTP {
		minD = clampInt(minD, 4, 8)
		maxD = clampInt(maxD, minD, 8)
	}
	if maxD < minD {
		maxD = minD
	}
	return minD, maxD
}

// minCollectDelay returns the milliseconds the engine must wait after
// prompting before treating input as intentional: at least 800 ms, at least
// the estimated spoken duration of the prompt, and at least 3 s in practice.
func minCollectDelay(prompt string) int {
	words := len(strings.Fields(prompt))
	spoken := (words*60000 + speechWordsPerMinute - 1) / speechWordsPerMinute
	delay := minCollectDelayFloorMs
	if spoken > delay {
		delay = spoken
	}
	if minCollectDelayBaseMs > delay {
		delay = minCollectDelayBaseMs
	}
	return delay
}

// resolveReprompts fills any empty reprompt bag with generated defaults.
func resolveReprompts(p Params, prof profile.Profile) RepromptBags {
	bags := RepromptBags{
		Invalid:    p.InvalidReprompts,
		Incomplete: p.IncompleteReprompts,
		Timeout:    p.TimeoutReprompts,
	}
	label := strings.ReplaceAll(prof.ID, "_", " ")
	if len(bags.Invalid) == 0 {
		bags.Invalid = []string{
			fmt.Sprintf("That %s doesn't look right. Please try again.", label),
			fmt.Sprintf("Sorry, that's still not a valid %s. One more time, please.", label),
		}
	}
	if len(bags.Incomplete) == 0 {
		bags.Incomplete = []string{
			"I need a few more digits. Please continue.",
			"That entry is too short. Please enter the full number.",
		}
	}
	if len(bags.Timeout) == 0 {
		bags.Timeout = []string{
			fmt.Sprintf("Whenever you're ready, please enter your %s.", label),
			fmt.Sprintf("I'm still waiting for your %s. Please enter it now.", label),
		}
	}
	return bags
}

// RepromptFor picks the reprompt line for a reason and attempt index. The
// final attempt gets a "last attempt" suffix.
func (e *Expectation) RepromptFor(reason string, attempt int) string {
	var bag []string
	switch reason {
	case ReasonTimeout:
		bag = e.Reprompts.Timeout
	case ReasonIncomplete:
		bag = e.Reprompts.Incomplete
	default:
		bag = e.Reprompts.Invalid
	}
	if len(bag) == 0 {
		return "Please try again."
	}
	idx := attempt
	if idx >= len(bag) {
		idx = len(bag) - 1
	}
	line := bag[idx]
	if e.MaxRetries > 0 && attempt >= e.MaxRetries {
		line += " This is the last attempt."
	}
	return line
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
