package payment

import (
	"errors"
	"fmt"
)

var (
	ErrAuth         = errors.New("pesapal: token request failed")
	ErrRegistration = errors.New("pesapal: ipn registration failed")
	ErrSubmission   = errors.New("pesapal: order submission failed")
	ErrStatusLookup = errors.New("pesapal: transaction status lookup failed")
)

var upstreamPrefix = map[error]string{
	ErrAuth:         "Failed to fetch token",
	ErrRegistration: "IPN Registration failed",
	ErrSubmission:   "Failed to submit order",
	ErrStatusLookup: "Failed to fetch transaction status",
}

// UpstreamError is a processor response that was received but rejected.
// It unwraps to one of the Err* sentinels.
type UpstreamError struct {
	Kind       error
	StatusCode int
	Body       string
	Reason     string // replaces the default message when set
}

func (e *UpstreamError) Error() string {
	if e.Reason != "" {
		return e.Reason
	}
	return fmt.Sprintf("%s. Response: %s", upstreamPrefix[e.Kind], e.Body)
}

func (e *UpstreamError) Unwrap() error { return e.Kind }
