package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/oauth2"
)

// Status is a processor transaction status. Only COMPLETED and FAILED are terminal.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusInvalid   Status = "INVALID"
	StatusReversed  Status = "REVERSED"
)

func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

func (s Status) known() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusFailed, StatusInvalid, StatusReversed:
		return true
	}
	return false
}

// ParseStatus normalises a processor status word ("Completed", "completed", "COMPLETED").
// Anything that is not a status word yields "".
func ParseStatus(v string) Status {
	s := Status(strings.ToUpper(strings.TrimSpace(v)))
	if s.known() {
		return s
	}
	return ""
}

type BillingAddress struct {
	Email       string
	Phone       string
	CountryCode string
	FirstName   string
	MiddleName  string
	LastName    string
	Line1       string
	Line2       string
	City        string
	State       string
	PostalCode  string
	ZipCode     string
}

// PaymentOrder is one submission to the processor. MerchantReference is generated on submit when empty.
type PaymentOrder struct {
	MerchantReference string
	Currency          string
	Amount            float64
	Description       string
	CallbackURL       string
	NotificationID    string
	Branch            string
	Billing           BillingAddress
}

func (o PaymentOrder) Validate() error {
	if o.Amount <= 0 {
		return fmt.Errorf("%w: amount must be greater than zero", ErrSubmission)
	}
	if o.Currency == "" {
		return fmt.Errorf("%w: currency required", ErrSubmission)
	}
	return nil
}

type IPNRegistration struct {
	IPNID            string
	URL              string
	NotificationType string
}

type SubmitResult struct {
	TrackingID        string
	MerchantReference string
	Raw               json.RawMessage
}

type StatusResult struct {
	Status Status
	Raw    json.RawMessage
}

// Processor is the upstream payment API as seen by the workflow.
type Processor interface {
	Token(ctx context.Context) (*oauth2.Token, error)
	RegisterIPN(ctx context.Context, token *oauth2.Token, url, notificationType string) (*IPNRegistration, error)
	SubmitOrder(ctx context.Context, token *oauth2.Token, order PaymentOrder) (*SubmitResult, error)
	GetTransactionStatus(ctx context.Context, token *oauth2.Token, trackingID string) (*StatusResult, error)
}
