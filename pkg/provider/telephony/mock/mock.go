// Package mock provides a test double for the telephony.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/calloway-ai/switchboard/pkg/provider/telephony"
)

// PlaceCallCall records a single invocation of PlaceCall.
type PlaceCallCall struct {
	Ctx context.Context
	Req telephony.CallRequest
}

// HangupCall records a single invocation of Hangup.
type HangupCall struct {
	Ctx    context.Context
	CallID string
}

// RedirectToGatherCall records a single invocation of RedirectToGather.
type RedirectToGatherCall struct {
	Ctx    context.Context
	CallID string
	Req    telephony.GatherRequest
}

// Provider is a mock implementation of telephony.Provider.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// PlaceCallResult is returned by PlaceCall when PlaceCallErr is nil. A
	// zero ID is replaced with "CA-mock".
	PlaceCallResult telephony.CallInfo

	// PlaceCallErr, if non-nil, is returned as the error from PlaceCall.
	PlaceCallErr error

	// HangupErr, if non-nil, is returned as the error from Hangup.
	HangupErr error

	// RedirectErr, if non-nil, is returned as the error from RedirectToGather.
	RedirectErr error

	// --- Call records ---

	PlaceCallCalls        []PlaceCallCall
	HangupCalls           []HangupCall
	RedirectToGatherCalls []RedirectToGatherCall
}

// PlaceCall records the call and returns PlaceCallResult, PlaceCallErr.
func (p *Provider) PlaceCall(ctx context.Context, req telephony.CallRequest) (telephony.CallInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.PlaceCallCalls = append(p.PlaceCallCalls, PlaceCallCall{Ctx: ctx, Req: req})
	if p.PlaceCallErr != nil {
		return telephony.CallInfo{}, p.PlaceCallErr
	}
	res := p.PlaceCallResult
	if res.ID == "" {
		res.ID = "CA-mock"
	}
	if res.To == "" {
		res.To = req.To
	}
	if res.From == "" {
		res.From = req.From
	}
	return res, nil
}

// Hangup records the call and returns HangupErr.
func (p *Provider) Hangup(ctx context.Context, callID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.HangupCalls = append(p.HangupCalls, HangupCall{Ctx: ctx, CallID: callID})
	return p.HangupErr
}

// RedirectToGather records the call and returns RedirectErr.
func (p *Provider) RedirectToGather(ctx context.Context, callID string, req telephony.GatherRequest) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.RedirectToGatherCalls = append(p.RedirectToGatherCalls, RedirectToGatherCall{Ctx: ctx, CallID: callID, Req: req})
	return p.RedirectErr
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.PlaceCallCalls = nil
	p.HangupCalls = nil
	p.RedirectToGatherCalls = nil
}

// Ensure Provider implements telephony.Provider at compile time.
var _ telephony.Provider = (*Provider)(nil)
