// Package twilio provides a Twilio-backed telephony provider using the
// Programmable Voice REST API. It implements the telephony.Provider interface.
package twilio

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/calloway-ai/switchboard/pkg/provider/telephony"
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

// WithDefaultFrom sets the caller id used when a request leaves From empty.
func WithDefaultFrom(from string) Option {
	return func(p *Provider) {
		p.defaultFrom = from
	}
}

// Provider implements telephony.Provider backed by the Twilio REST API.
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

// callResource is the subset of Twilio's call resource we read back.
type callResource struct {
	SID    string `json:"sid"`
	To     string `json:"to"`
	From   string `json:"from"`
	Status string `json:"status"`
}

// PlaceCall creates an outbound call whose answered leg opens a media stream
// to req.StreamURL.
func (p *Provider) PlaceCall(ctx context.Context, req telephony.CallRequest) (telephony.CallInfo, error) {
	if req.To == "" {
		return telephony.CallInfo{}, errors.New("twilio: place call: To must not be empty")
	}
	if req.StreamURL == "" {
		return telephony.CallInfo{}, errors.New("twilio: place call: StreamURL must not be empty")
	}
	from := req.From
	if from == "" {
		from = p.defaultFrom
	}
	if from == "" {
		return telephony.CallInfo{}, errors.New("twilio: place call: no From number configured")
	}

	form := url.Values{}
	form.Set("To", req.To)
	form.Set("From", from)
	form.Set("Twiml", streamTwiML(req.StreamURL))
	if req.StatusCallbackURL != "" {
		form.Set("StatusCallback", req.StatusCallbackURL)
		form.Set("StatusCallbackMethod", "POST")
		for _, ev := range []string{"initiated", "ringing", "answered", "completed"} {
			form.Add("StatusCallbackEvent", ev)
		}
	}
	if req.MachineDetection {
		form.Set("MachineDetection", "Enable")
	}
	if req.Timeout > 0 {
		form.Set("Timeout", strconv.Itoa(int(req.Timeout.Seconds())))
	}

	var res callResource
	if err := p.post(ctx, p.callsURL(), form, &res); err != nil {
		return telephony.CallInfo{}, fmt.Errorf("twilio: place call: %w", err)
	}
	return telephony.CallInfo{ID: res.SID, To: res.To, From: res.From, Status: res.Status}, nil
}

// Hangup completes a live call. A call that already ended is not an error.
func (p *Provider) Hangup(ctx context.Context, callID string) error {
	if callID == "" {
		return errors.New("twilio: hangup: callID must not be empty")
	}
	form := url.Values{}
	form.Set("Status", "completed")

	err := p.post(ctx, p.callURL(callID), form, nil)
	if err != nil {
		// Twilio rejects status updates on calls that already reached a
		// terminal state; treat that as success.
		var apiErr *apiError
		if errors.As(err, &apiErr) && apiErr.Code == 21220 {
			return nil
		}
		return fmt.Errorf("twilio: hangup %s: %w", callID, err)
	}
	return nil
}

// RedirectToGather moves a live call into a <Gather> flow. The gather result
// posts to req.ActionURL; an empty Digits field there means the caller timed
// out without pressing anything.
func (p *Provider) RedirectToGather(ctx context.Context, callID string, req telephony.GatherRequest) error {
	if callID == "" {
		return errors.New("twilio: redirect to gather: callID must not be empty")
	}
	if req.ActionURL == "" {
		return errors.New("twilio: redirect to gather: ActionURL must not be empty")
	}

	form := url.Values{}
	form.Set("Twiml", gatherTwiML(req))
	if err := p.post(ctx, p.callURL(callID), form, nil); err != nil {
		return fmt.Errorf("twilio: redirect to gather %s: %w", callID, err)
	}
	return nil
}

// ---- TwiML construction ----

// streamTwiML builds the instruction that connects the answered call to our
// media-stream WebSocket endpoint.
func streamTwiML(streamURL string) string {
	var b strings.Builder
	b.WriteString(`<Response><Connect><Stream url="`)
	xml.EscapeText(&b, []byte(streamURL))
	b.WriteString(`"/></Connect></Response>`)
	return b.String()
}

// gatherTwiML builds the keypad-gather instruction used as the degraded-mode
// digit collection path.
func gatherTwiML(req telephony.GatherRequest) string {
	var b strings.Builder
	b.WriteString(`<Response><Gather input="dtmf" action="`)
	xml.EscapeText(&b, []byte(req.ActionURL))
	b.WriteString(`" method="POST"`)
	if req.NumDigits > 0 {
		fmt.Fprintf(&b, ` numDigits="%d"`, req.NumDigits)
	}
	if req.Timeout > 0 {
		fmt.Fprintf(&b, ` timeout="%d"`, int(req.Timeout.Seconds()))
	}
	b.WriteString(`>`)
	if req.Prompt != "" {
		b.WriteString(`<Say>`)
		xml.EscapeText(&b, []byte(req.Prompt))
		b.WriteString(`</Say>`)
	}
	b.WriteString(`</Gather>`)
	// Without this the call would drop silently on gather timeout; the action
	// webhook still fires with empty Digits.
	b.WriteString(`<Redirect method="POST">`)
	xml.EscapeText(&b, []byte(req.ActionURL))
	b.WriteString(`</Redirect></Response>`)
	return b.String()
}

// ---- HTTP plumbing ----

// apiError is Twilio's JSON error body.
type apiError struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	Status   int    `json:"status"`
	MoreInfo string `json:"more_info"`
}

func (e *apiError) Error() string {
	return fmt.Sprintf("twilio API error %d (HTTP %d): %s", e.Code, e.Status, e.Message)
}

func (p *Provider) callsURL() string {
	return fmt.Sprintf("%s/2010-04-01/Accounts/%s/Calls.json", p.baseURL, p.accountSID)
}

func (p *Provider) callURL(callID string) string {
	return fmt.Sprintf("%s/2010-04-01/Accounts/%s/Calls/%s.json", p.baseURL, p.accountSID, url.PathEscape(callID))
}

// post sends a form-encoded request with basic auth and decodes the JSON
// response into out when out is non-nil.
func (p *Provider) post(ctx context.Context, endpoint string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.SetBasicAuth(p.accountSID, p.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr apiError
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Message != "" {
			if apiErr.Status == 0 {
				apiErr.Status = resp.StatusCode
			}
			return &apiErr
		}
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// Ensure Provider implements telephony.Provider at compile time.
var _ telephony.Provider = (*Provider)(nil)
