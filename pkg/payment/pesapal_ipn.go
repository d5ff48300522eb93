package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"golang.org/x/oauth2"
)

type ipnRequest struct {
	URL              string `json:"url"`
	NotificationType string `json:"ipn_notification_type"`
}

type ipnResponse struct {
	IPNID string `json:"ipn_id"`
	URL   string `json:"url"`
}

// RegisterIPN registers url as a notification endpoint. Single attempt.
// A 200 response without ipn_id is returned as a registration with an empty IPNID.
func (p *Pesapal) RegisterIPN(ctx context.Context, token *oauth2.Token, url, notificationType string) (*IPNRegistration, error) {
	if notificationType == "" {
		notificationType = http.MethodPost
	}
	status, body, err := p.call(ctx, http.MethodPost, "/URLSetup/RegisterIPN", nil, token,
		ipnRequest{URL: url, NotificationType: notificationType})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRegistration, err)
	}
	log.Printf("[PESAPAL] POST /URLSetup/RegisterIPN url=%s status=%d body=%s", url, status, string(body))
	if status != http.StatusOK {
		return nil, &UpstreamError{Kind: ErrRegistration, StatusCode: status, Body: string(body)}
	}
	var out ipnResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, &UpstreamError{Kind: ErrRegistration, StatusCode: status, Body: string(body)}
	}
	if out.IPNID == "" {
		log.Printf("[PESAPAL] RegisterIPN returned no ipn_id for url=%s", url)
	}
	return &IPNRegistration{IPNID: out.IPNID, URL: out.URL, NotificationType: notificationType}, nil
}
