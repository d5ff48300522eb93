package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

// StubProcessor is an in-process processor for local development.
// Orders report PENDING on their first status query and COMPLETED afterwards.
type StubProcessor struct {
	References *ReferenceGenerator
	mu         sync.Mutex
	orders     map[string]*stubOrder
}

type stubOrder struct {
	order   PaymentOrder
	queries int
}

func NewStubProcessor(referencePrefix string) *StubProcessor {
	return &StubProcessor{
		References: NewReferenceGenerator(referencePrefix),
		orders:     make(map[string]*stubOrder),
	}
}

func (s *StubProcessor) Token(ctx context.Context) (*oauth2.Token, error) {
	return &oauth2.Token{
		AccessToken: fmt.Sprintf("stub_%d", time.Now().UnixNano()),
		TokenType:   "Bearer",
		Expiry:      time.Now().Add(5 * time.Minute),
	}, nil
}

func (s *StubProcessor) RegisterIPN(ctx context.Context, token *oauth2.Token, url, notificationType string) (*IPNRegistration, error) {
	if notificationType == "" {
		notificationType = http.MethodPost
	}
	return &IPNRegistration{IPNID: uuid.NewString(), URL: url, NotificationType: notificationType}, nil
}

func (s *StubProcessor) SubmitOrder(ctx context.Context, token *oauth2.Token, order PaymentOrder) (*SubmitResult, error) {
	if err := order.Validate(); err != nil {
		return nil, err
	}
	if order.MerchantReference == "" {
		order.MerchantReference = s.References.Next()
	}
	trackingID := uuid.NewString()
	s.mu.Lock()
	s.orders[trackingID] = &stubOrder{order: order}
	s.mu.Unlock()
	raw, _ := json.Marshal(map[string]string{
		"order_tracking_id":  trackingID,
		"merchant_reference": order.MerchantReference,
		"redirect_url":       "https://stub.invalid/pay/" + trackingID,
		"status":             "200",
	})
	return &SubmitResult{TrackingID: trackingID, MerchantReference: order.MerchantReference, Raw: raw}, nil
}

func (s *StubProcessor) GetTransactionStatus(ctx context.Context, token *oauth2.Token, trackingID string) (*StatusResult, error) {
	s.mu.Lock()
	o, ok := s.orders[trackingID]
	var queries int
	var order PaymentOrder
	if ok {
		o.queries++
		queries = o.queries
		order = o.order
	}
	s.mu.Unlock()
	if !ok {
		return nil, &UpstreamError{Kind: ErrStatusLookup, StatusCode: http.StatusNotFound, Body: `{"error":"order not found"}`}
	}
	st := StatusPending
	if queries > 1 {
		st = StatusCompleted
	}
	raw, _ := json.Marshal(map[string]any{
		"status":             string(st),
		"amount":             order.Amount,
		"currency":           order.Currency,
		"merchant_reference": order.MerchantReference,
	})
	return &StatusResult{Status: st, Raw: raw}, nil
}

var _ Processor = (*StubProcessor)(nil)
