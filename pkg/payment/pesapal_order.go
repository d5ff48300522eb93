package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"golang.org/x/oauth2"
)

// Field names are Pesapal's SubmitOrderRequest schema.
type orderRequest struct {
	ID             string         `json:"id"`
	Currency       string         `json:"currency"`
	Amount         float64        `json:"amount"`
	Description    string         `json:"description"`
	CallbackURL    string         `json:"callback_url"`
	NotificationID string         `json:"notification_id"`
	Branch         string         `json:"branch"`
	BillingAddress billingRequest `json:"billing_address"`
}

type billingRequest struct {
	EmailAddress string `json:"email_address"`
	PhoneNumber  string `json:"phone_number"`
	CountryCode  string `json:"country_code"`
	FirstName    string `json:"first_name"`
	MiddleName   string `json:"middle_name"`
	LastName     string `json:"last_name"`
	Line1        string `json:"line_1"`
	Line2        string `json:"line_2"`
	City         string `json:"city"`
	State        string `json:"state"`
	PostalCode   string `json:"postal_code"`
	ZipCode      string `json:"zip_code"`
}

type orderResponse struct {
	OrderTrackingID   string `json:"order_tracking_id"`
	MerchantReference string `json:"merchant_reference"`
	RedirectURL       string `json:"redirect_url"`
}

func newOrderRequest(o PaymentOrder) orderRequest {
	b := o.Billing
	return orderRequest{
		ID:             o.MerchantReference,
		Currency:       o.Currency,
		Amount:         o.Amount,
		Description:    o.Description,
		CallbackURL:    o.CallbackURL,
		NotificationID: o.NotificationID,
		Branch:         o.Branch,
		BillingAddress: billingRequest{
			EmailAddress: b.Email,
			PhoneNumber:  b.Phone,
			CountryCode:  b.CountryCode,
			FirstName:    b.FirstName,
			MiddleName:   b.MiddleName,
			LastName:     b.LastName,
			Line1:        b.Line1,
			Line2:        b.Line2,
			City:         b.City,
			State:        b.State,
			PostalCode:   b.PostalCode,
			ZipCode:      b.ZipCode,
		},
	}
}

// SubmitOrder submits the order and returns the processor's tracking id.
// A 200 response without order_tracking_id is a submission failure.
func (p *Pesapal) SubmitOrder(ctx context.Context, token *oauth2.Token, order PaymentOrder) (*SubmitResult, error) {
	if err := order.Validate(); err != nil {
		return nil, err
	}
	if order.MerchantReference == "" {
		order.MerchantReference = p.References.Next()
	}
	log.Printf("[PESAPAL] SubmitOrderRequest merchant_reference=%s amount=%.2f %s notification_id=%s",
		order.MerchantReference, order.Amount, order.Currency, order.NotificationID)
	status, body, err := p.call(ctx, http.MethodPost, "/Transactions/SubmitOrderRequest", nil, token, newOrderRequest(order))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSubmission, err)
	}
	log.Printf("[PESAPAL] SubmitOrderRequest status=%d body=%s", status, string(body))
	if status != http.StatusOK {
		return nil, &UpstreamError{Kind: ErrSubmission, StatusCode: status, Body: string(body)}
	}
	var out orderResponse
	if err := json.Unmarshal(body, &out); err != nil {
		log.Printf("[PESAPAL] SubmitOrderRequest decode response: %v", err)
		return nil, &UpstreamError{
			Kind:       ErrSubmission,
			StatusCode: status,
			Body:       string(body),
			Reason:     "No order tracking ID received (response is not valid JSON). Response: " + string(body),
		}
	}
	if out.OrderTrackingID == "" {
		return nil, &UpstreamError{
			Kind:       ErrSubmission,
			StatusCode: status,
			Body:       string(body),
			Reason:     "No order tracking ID received. Response: " + string(body),
		}
	}
	return &SubmitResult{
		TrackingID:        out.OrderTrackingID,
		MerchantReference: order.MerchantReference,
		Raw:               json.RawMessage(body),
	}, nil
}
