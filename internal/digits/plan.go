package digits

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/calloway-ai/switchboard/internal/profile"
)

// fingerprintWindow is how long a duplicate step acceptance is suppressed.
const fingerprintWindow = 3 * time.Second

// groupSteps are the fixed ordered step profiles per group.
var groupSteps = map[Group][]string{
	GroupBanking: {profile.RoutingNumber, profile.AccountNumber},
	GroupCard:    {profile.CardNumber, profile.CardExpiry, profile.Zip, profile.CVV},
}

// Group keyword scoring. Negatives veto the opposite group so that a prompt
// mentioning both stays in normal mode.
var (
	bankingPositives = []string{"routing", "aba", "checking", "savings"}
	cardPositives    = []string{"card number", "cvv", "expiry", "expiration", "zip"}
)

// ResolveGroup scores the prompt toward a predefined group. A tie (both
// groups scoring equally, including zero) resolves to GroupNone.
func ResolveGroup(prompt string) Group {
	lower := strings.ToLower(prompt)
	banking, card := 0, 0
	for _, kw := range bankingPositives {
		if strings.Contains(lower, kw) {
			banking++
		}
	}
	for _, kw := range cardPositives {
		if strings.Contains(lower, kw) {
			card++
		}
	}
	switch {
	case banking > card:
		return GroupBanking
	case card > banking:
		return GroupCard
	default:
		return GroupNone
	}
}

// NewGroupPlan builds the fixed ordered plan for a group. The base params
// contribute prompt, masking, and fallback flags to every step; each step's
// profile comes from the group definition.
func NewGroupPlan(group Group, base Params, endCallOnSuccess bool, completionMessage string) (*Plan, error) {
	profiles, ok := groupSteps[group]
	if !ok {
		return nil, fmt.Errorf("digits: unknown group %q", group)
	}

	steps := make([]PlanStep, 0, len(profiles))
	for _, id := range profiles {
		step := base
		step.Profile = id
		step.MinDigits = 0
		step.MaxDigits = 0
		step.ForceExactLength = 0
		steps = append(steps, PlanStep{Params: step})
	}

	return &Plan{
		ID:                uuid.NewString(),
		Steps:             steps,
		Active:            true,
		Group:             group,
		Mode:              CaptureStream,
		EndCallOnSuccess:  endCallOnSuccess,
		CompletionMessage: completionMessage,
		State:             PlanInit,
	}, nil
}

// NewPlan builds a multi-step plan from explicit step params.
func NewPlan(steps []Params, endCallOnSuccess bool, completionMessage string) (*Plan, error) {
	if len(steps) == 0 {
		return nil, fmt.Errorf("digits: plan needs at least one step")
	}
	planSteps := make([]PlanStep, 0, len(steps))
	for _, s := range steps {
		planSteps = append(planSteps, PlanStep{Params: s})
	}
	return &Plan{
		ID:                uuid.NewString(),
		Steps:             planSteps,
		Active:            true,
		Mode:              CaptureStream,
		EndCallOnSuccess:  endCallOnSuccess,
		CompletionMessage: completionMessage,
		State:             PlanInit,
	}, nil
}

// stepFingerprint identifies one accepted step for duplicate suppression.
// The key is the digit hash plus the step's profile and index: a provider
// re-delivery of a completed step carries the same identity and is dropped,
// while a legitimate identical value entered on the next step carries a new
// index and passes.
func stepFingerprint(digits, profileID string, stepIndex int) string {
	sum := sha256.Sum256([]byte(digits))
	return fmt.Sprintf("%s|%s|%d", hex.EncodeToString(sum[:]), profileID, stepIndex)
}

// acceptStep records a step acceptance against the plan's duplicate filter.
// It returns false when the same fingerprint was accepted within the window
// (a provider re-delivery), in which case the caller drops the event.
func (p *Plan) acceptStep(digits, profileID string, stepIndex int, now time.Time) bool {
	fp := stepFingerprint(digits, profileID, stepIndex)
	if p.lastFingerprint == fp && now.Sub(p.lastAcceptedAt) < fingerprintWindow {
		return false
	}
	p.lastFingerprint = fp
	p.lastAcceptedAt = now
	return true
}

// done reports whether the plan has consumed all its steps.
func (p *Plan) done() bool {
	return p.Index >= len(p.Steps)
}

// currentStep returns the params of the step at the plan's index.
func (p *Plan) currentStep() (Params, bool) {
	if p.Index < 0 || p.Index >= len(p.Steps) {
		return Params{}, false
	}
	return p.Steps[p.Index].Params, true
}
