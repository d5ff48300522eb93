package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

type PesapalOptions struct {
	BaseURL         string
	ConsumerKey     string
	ConsumerSecret  string
	Timeout         time.Duration // per outbound call
	TokenAttempts   int
	TokenRetryDelay time.Duration
	ReferencePrefix string
	HTTPClient      *http.Client
}

// Pesapal implements Processor against the Pesapal v3 REST API.
// Tokens are fetched fresh for every workflow run and never cached.
type Pesapal struct {
	BaseURL         string
	ConsumerKey     string
	ConsumerSecret  string
	TokenAttempts   int
	TokenRetryDelay time.Duration
	References      *ReferenceGenerator
	client          *http.Client
	wait            func(ctx context.Context, d time.Duration) error
}

func NewPesapal(opts PesapalOptions) *Pesapal {
	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	attempts := opts.TokenAttempts
	if attempts < 1 {
		attempts = 3
	}
	return &Pesapal{
		BaseURL:         strings.TrimRight(opts.BaseURL, "/"),
		ConsumerKey:     opts.ConsumerKey,
		ConsumerSecret:  opts.ConsumerSecret,
		TokenAttempts:   attempts,
		TokenRetryDelay: opts.TokenRetryDelay,
		References:      NewReferenceGenerator(opts.ReferencePrefix),
		client:          client,
		wait:            sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// call performs one JSON request. A non-nil error means no response was received.
func (p *Pesapal) call(ctx context.Context, method, path string, query url.Values, token *oauth2.Token, payload any) (int, []byte, error) {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, err
		}
		body = bytes.NewReader(b)
	}
	endpoint := p.BaseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	if token != nil {
		token.SetAuthHeader(req)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, respBody, nil
}

type tokenRequest struct {
	ConsumerKey    string `json:"consumer_key"`
	ConsumerSecret string `json:"consumer_secret"`
}

type tokenResponse struct {
	Token      string `json:"token"`
	ExpiryDate string `json:"expiryDate"`
}

// Token exchanges the consumer key/secret for a bearer token, retrying transport failures,
// non-200 responses and empty tokens up to TokenAttempts times with a fixed delay.
func (p *Pesapal) Token(ctx context.Context) (*oauth2.Token, error) {
	var lastErr error
	for attempt := 1; attempt <= p.TokenAttempts; attempt++ {
		tok, err := p.requestToken(ctx)
		if err == nil {
			return tok, nil
		}
		lastErr = err
		log.Printf("[PESAPAL] token attempt %d/%d failed: %v", attempt, p.TokenAttempts, err)
		if attempt == p.TokenAttempts {
			break
		}
		if err := p.wait(ctx, p.TokenRetryDelay); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrAuth, err)
		}
	}
	return nil, fmt.Errorf("%w after %d attempts: %w", ErrAuth, p.TokenAttempts, lastErr)
}

func (p *Pesapal) requestToken(ctx context.Context) (*oauth2.Token, error) {
	status, body, err := p.call(ctx, http.MethodPost, "/Auth/RequestToken", nil, nil,
		tokenRequest{ConsumerKey: p.ConsumerKey, ConsumerSecret: p.ConsumerSecret})
	if err != nil {
		return nil, fmt.Errorf("token request: %w", err)
	}
	log.Printf("[PESAPAL] POST /Auth/RequestToken status=%d", status)
	if status != http.StatusOK {
		return nil, &UpstreamError{Kind: ErrAuth, StatusCode: status, Body: string(body)}
	}
	var out tokenResponse
	if err := json.Unmarshal(body, &out); err != nil || out.Token == "" {
		// Pesapal reports bad credentials as 200 with an error object and a null token.
		return nil, &UpstreamError{Kind: ErrAuth, StatusCode: status, Body: string(body)}
	}
	tok := &oauth2.Token{AccessToken: out.Token, TokenType: "Bearer"}
	if exp, err := time.Parse(time.RFC3339Nano, out.ExpiryDate); err == nil {
		tok.Expiry = exp
	}
	return tok, nil
}

var _ Processor = (*Pesapal)(nil)
