// Package mock provides a test double for the sms.Provider interface.
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/calloway-ai/switchboard/pkg/provider/sms"
)

// SendCall records a single invocation of Send.
type SendCall struct {
	Ctx context.Context
	Msg sms.Message
}

// Provider is a mock implementation of sms.Provider.
type Provider struct {
	mu sync.Mutex

	// SendResult is returned by Send when SendErr is nil. A zero ID is
	// replaced with a generated one.
	SendResult sms.SendResult

	// SendErr, if non-nil, is returned as the error from Send.
	SendErr error

	// SendCalls records every call to Send in order.
	SendCalls []SendCall
}

// Send records the call and returns SendResult, SendErr.
func (p *Provider) Send(ctx context.Context, msg sms.Message) (sms.SendResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SendCalls = append(p.SendCalls, SendCall{Ctx: ctx, Msg: msg})
	if p.SendErr != nil {
		return sms.SendResult{}, p.SendErr
	}
	res := p.SendResult
	if res.ID == "" {
		res.ID = fmt.Sprintf("SM-mock-%d", len(p.SendCalls))
	}
	if res.Status == "" {
		res.Status = "queued"
	}
	return res, nil
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SendCalls = nil
}

// Ensure Provider implements sms.Provider at compile time.
var _ sms.Provider = (*Provider)(nil)
