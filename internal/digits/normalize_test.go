package digits

import (
	"strings"
	"testing"

	"github.com/calloway-ai/switchboard/internal/profile"
)

func TestNormalizeParams_ExplicitProfile(t *testing.T) {
	exp, err := NormalizeParams(Params{Profile: "routing", Prompt: "Enter your routing number"})
	if err != nil {
		t.Fatalf("NormalizeParams: %v", err)
	}
	if exp.Profile != profile.RoutingNumber {
		t.Errorf("expected routing_number, got %q", exp.Profile)
	}
	if exp.MinDigits != 9 || exp.MaxDigits != 9 {
		t.Errorf("expected 9/9 bounds, got %d/%d", exp.MinDigits, exp.MaxDigits)
	}
}

func TestNormalizeParams_UnknownProfile(t *testing.T) {
	if _, err := NormalizeParams(Params{Profile: "favorite_color"}); err == nil {
		t.Error("expected error for unknown profile")
	}
}

func TestNormalizeParams_InfersFromPrompt(t *testing.T) {
	exp, err := NormalizeParams(Params{Prompt: "Please enter the 6 digit verification code we sent you", ForceExactLength: 6})
	if err != nil {
		t.Fatalf("NormalizeParams: %v", err)
	}
	if exp.Profile != profile.Verification {
		t.Errorf("expected verification, got %q", exp.Profile)
	}
	if exp.MinDigits != 6 || exp.MaxDigits != 6 {
		t.Errorf("force_exact_length should pin bounds, got %d/%d", exp.MinDigits, exp.MaxDigits)
	}
}

func TestNormalizeParams_FallsBackToGeneric(t *testing.T) {
	exp, err := NormalizeParams(Params{Prompt: "Tell me about your day"})
	if err != nil {
		t.Fatalf("NormalizeParams: %v", err)
	}
	if exp.Profile != profile.Generic {
		t.Errorf("expected generic, got %q", exp.Profile)
	}
}

func TestInferProfile_OTPNeedsActionVerb(t *testing.T) {
	// Keyword alone, no action verb: no OTP inference.
	if got := InferProfile("your verification code is important to us", false); got == profile.Verification {
		t.Error("OTP inferred without action verb")
	}
	// Verb plus keyword: inferred.
	if got := InferProfile("please enter the verification code", false); got != profile.Verification {
		t.Errorf("expected verification, got %q", got)
	}
	// Verb plus explicit length, no keyword hit on OTP terms: stays empty
	// because the scorer never picked verification.
	if got := InferProfile("please press the digits now", true); got == profile.Verification {
		t.Errorf("unexpected verification inference, got %q", got)
	}
}

func TestInferProfile_OtherProfiles(t *testing.T) {
	cases := []struct {
		prompt string
		want   string
	}{
		{"enter your routing number", profile.RoutingNumber},
		{"what is your zip code", profile.Zip},
		{"enter your social security number", profile.SSN},
		{"key in your pin", profile.PIN},
	}
	for _, c := range cases {
		if got := InferProfile(c.prompt, false); got != c.want {
			t.Errorf("InferProfile(%q) = %q, want %q", c.prompt, got, c.want)
		}
	}
}

func TestResolveBounds_OTPBand(t *testing.T) {
	exp, err := NormalizeParams(Params{Profile: "verification", MinDigits: 2, MaxDigits: 12})
	if err != nil {
		t.Fatalf("NormalizeParams: %v", err)
	}
	if exp.MinDigits < 4 || exp.MaxDigits > 8 {
		t.Errorf("OTP bounds must stay in 4..8, got %d/%d", exp.MinDigits, exp.MaxDigits)
	}
}

func TestNormalizeParams_TimeoutAndRetryClamps(t *testing.T) {
	exp, err := NormalizeParams(Params{Profile: "generic", TimeoutSeconds: 500, MaxRetries: 99})
	if err != nil {
		t.Fatalf("NormalizeParams: %v", err)
	}
	if exp.TimeoutSeconds != 60 {
		t.Errorf("expected timeout clamped to 60, got %d", exp.TimeoutSeconds)
	}
	if exp.MaxRetries != 5 {
		t.Errorf("expected retries clamped to 5, got %d", exp.MaxRetries)
	}

	exp, err = NormalizeParams(Params{Profile: "generic", TimeoutSeconds: 1})
	if err != nil {
		t.Fatalf("NormalizeParams: %v", err)
	}
	if exp.TimeoutSeconds != 3 {
		t.Errorf("expected timeout floor 3, got %d", exp.TimeoutSeconds)
	}
}

func TestMinCollectDelay(t *testing.T) {
	// Short prompt: the practical floor of 3000 ms wins.
	if got := minCollectDelay("enter your code"); got != 3000 {
		t.Errorf("expected 3000 for short prompt, got %d", got)
	}
	// Long prompt: the spoken estimate wins. 20 words at 150 wpm = 8000 ms.
	prompt := strings.Repeat("word ", 20)
	if got := minCollectDelay(prompt); got != 8000 {
		t.Errorf("expected 8000 for 20-word prompt, got %d", got)
	}
}

func TestRepromptFor(t *testing.T) {
	exp, err := NormalizeParams(Params{Profile: "routing", MaxRetries: 2})
	if err != nil {
		t.Fatalf("NormalizeParams: %v", err)
	}

	first := exp.RepromptFor("invalid_routing", 0)
	if first == "" {
		t.Fatal("expected a reprompt line")
	}
	last := exp.RepromptFor("invalid_routing", 2)
	if !strings.Contains(last, "last attempt") {
		t.Errorf("final attempt should carry the last-attempt suffix, got %q", last)
	}

	timeout := exp.RepromptFor(ReasonTimeout, 0)
	if timeout == first {
		t.Error("timeout reprompt should come from a different bag")
	}
}

func TestNormalizeParams_SMSRequiresProfileChannel(t *testing.T) {
	// card_number does not permit the SMS channel, so the flag is dropped.
	exp, err := NormalizeParams(Params{Profile: "card_number", AllowSMSFallback: true})
	if err != nil {
		t.Fatalf("NormalizeParams: %v", err)
	}
	if exp.AllowSMSFallback {
		t.Error("sms fallback should be disabled for a dtmf-only profile")
	}

	exp, err = NormalizeParams(Params{Profile: "verification", AllowSMSFallback: true})
	if err != nil {
		t.Fatalf("NormalizeParams: %v", err)
	}
	if !exp.AllowSMSFallback {
		t.Error("sms fallback should survive for an sms-capable profile")
	}
}
