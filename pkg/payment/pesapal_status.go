package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"

	"golang.org/x/oauth2"
)

type statusResponse struct {
	Status                   any    `json:"status"`
	PaymentStatusDescription string `json:"payment_status_description"`
}

// status prefers a status word in "status"; live Pesapal puts an HTTP-like code there
// and the outcome in payment_status_description.
func (r statusResponse) status() Status {
	if s, ok := r.Status.(string); ok {
		if st := ParseStatus(s); st != "" {
			return st
		}
	}
	return ParseStatus(r.PaymentStatusDescription)
}

// GetTransactionStatus performs a single status query and returns the raw payload untouched.
func (p *Pesapal) GetTransactionStatus(ctx context.Context, token *oauth2.Token, trackingID string) (*StatusResult, error) {
	q := url.Values{"orderTrackingId": {trackingID}}
	status, body, err := p.call(ctx, http.MethodGet, "/Transactions/GetTransactionStatus", q, token, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStatusLookup, err)
	}
	log.Printf("[PESAPAL] GetTransactionStatus order_tracking_id=%s status=%d body=%s", trackingID, status, string(body))
	if status != http.StatusOK {
		return nil, &UpstreamError{Kind: ErrStatusLookup, StatusCode: status, Body: string(body)}
	}
	var out statusResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, &UpstreamError{Kind: ErrStatusLookup, StatusCode: status, Body: string(body)}
	}
	return &StatusResult{Status: out.status(), Raw: json.RawMessage(body)}, nil
}
