package telephony

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultRESTBaseURL = "https://api.twilio.com"

// Caller places outbound calls through the telephony provider's REST API.
// The scheduler uses it to dial reminder calls; when the callee answers the
// provider fetches TwiML from the answer URL and the call proceeds exactly
// like an inbound one.
type Caller struct {
	accountSID string
	authToken  string
	from       string
	baseURL    string
	httpc      *http.Client
}

// CallerOption configures a Caller.
type CallerOption func(*Caller)

// WithHTTPClient overrides the HTTP client used for REST requests.
func WithHTTPClient(c *http.Client) CallerOption {
	return func(o *Caller) {
		if c != nil {
			o.httpc = c
		}
	}
}

// WithBaseURL overrides the REST API base URL.
func WithBaseURL(u string) CallerOption {
	return func(o *Caller) {
		if u != "" {
			o.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// NewCaller builds a Caller for the given provider account. fromNumber is
// the E.164 caller ID shown to the callee.
func NewCaller(accountSID, authToken, fromNumber string, opts ...CallerOption) *Caller {
	c := &Caller{
		accountSID: accountSID,
		authToken:  authToken,
		from:       fromNumber,
		baseURL:    defaultRESTBaseURL,
		httpc:      &http.Client{Timeout: 15 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Place dials an outbound call to the given E.164 number. The provider
// fetches call instructions from answerURL once the callee picks up.
// Returns the provider's call SID.
func (c *Caller) Place(ctx context.Context, to, answerURL string) (string, error) {
	form := url.Values{}
	form.Set("To", to)
	form.Set("From", c.from)
	form.Set("Url", answerURL)
	form.Set("Method", http.MethodPost)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Calls.json", c.baseURL, c.accountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("telephony: build call request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(c.accountSID, c.authToken)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("telephony: place call to %s: %w", to, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("telephony: read call response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("telephony: place call to %s: status %d: %s", to, resp.StatusCode, bodySnippet(body))
	}

	var out struct {
		SID string `json:"sid"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("telephony: decode call response: %w", err)
	}
	if out.SID == "" {
		return "", fmt.Errorf("telephony: call response missing sid")
	}
	return out.SID, nil
}

func bodySnippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200] + "…"
	}
	return s
}
