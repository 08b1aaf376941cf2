// Package twilio provides a Twilio-backed SMS provider using the Messaging
// REST API. It implements the sms.Provider interface.
package twilio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/calloway-ai/switchboard/pkg/provider/sms"
)

const defaultBaseURL = "https://api.twilio.com"

// Option is a functional option for configuring the Twilio Provider.
type Option func(*Provider)

// WithBaseURL overrides the Twilio API base URL. Used in tests.
func WithBaseURL(baseURL string) Option {
	return func(p *Provider) {
		p.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// WithDefaultFrom sets the sending number used when a message leaves From empty.
func WithDefaultFrom(from string) Option {
	return func(p *Provider) {
		p.defaultFrom = from
	}
}

// Provider implements sms.Provider backed by the Twilio REST API.
type Provider struct {
	accountSID  string
	authToken   string
	baseURL     string
	defaultFrom string
	httpClient  *http.Client
}

// New creates a new Twilio Provider. accountSID and authToken must be non-empty.
func New(accountSID, authToken string, opts ...Option) (*Provider, error) {
	if accountSID == "" {
		return nil, errors.New("twilio: accountSID must not be empty")
	}
	if authToken == "" {
		return nil, errors.New("twilio: authToken must not be empty")
	}
	p := &Provider{
		accountSID: accountSID,
		authToken:  authToken,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// messageResource is the subset of Twilio's message resource we read back.
type messageResource struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
}

// apiError is Twilio's JSON error body.
type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
}

func (e *apiError) Error() string {
	return fmt.Sprintf("twilio API error %d (HTTP %d): %s", e.Code, e.Status, e.Message)
}

// Send submits one message via POST Messages.json.
func (p *Provider) Send(ctx context.Context, msg sms.Message) (sms.SendResult, error) {
	if msg.To == "" {
		return sms.SendResult{}, errors.New("twilio: send: To must not be empty")
	}
	if msg.Body == "" {
		return sms.SendResult{}, errors.New("twilio: send: Body must not be empty")
	}
	from := msg.From
	if from == "" {
		from = p.defaultFrom
	}
	if from == "" {
		return sms.SendResult{}, errors.New("twilio: send: no From number configured")
	}

	form := url.Values{}
	form.Set("To", msg.To)
	form.Set("From", from)
	form.Set("Body", msg.Body)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", p.baseURL, p.accountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return sms.SendResult{}, fmt.Errorf("twilio: send: %w", err)
	}
	req.SetBasicAuth(p.accountSID, p.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if msg.IdempotencyKey != "" {
		req.Header.Set("Idempotency-Key", msg.IdempotencyKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return sms.SendResult{}, fmt.Errorf("twilio: send: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return sms.SendResult{}, fmt.Errorf("twilio: send: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr apiError
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Message != "" {
			if apiErr.Status == 0 {
				apiErr.Status = resp.StatusCode
			}
			return sms.SendResult{}, fmt.Errorf("twilio: send: %w", &apiErr)
		}
		return sms.SendResult{}, fmt.Errorf("twilio: send: unexpected status %d", resp.StatusCode)
	}

	var res messageResource
	if err := json.Unmarshal(body, &res); err != nil {
		return sms.SendResult{}, fmt.Errorf("twilio: send: decode response: %w", err)
	}
	return sms.SendResult{ID: res.SID, Status: res.Status}, nil
}

// Ensure Provider implements sms.Provider at compile time.
var _ sms.Provider = (*Provider)(nil)
