package payment

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"golang.org/x/oauth2"
)

type StatusQuerier interface {
	GetTransactionStatus(ctx context.Context, token *oauth2.Token, trackingID string) (*StatusResult, error)
}

// PollOutcome is the result of a poll run. Status is PENDING unless a terminal status was seen.
type PollOutcome struct {
	Status   Status
	Calls    int
	Raw      json.RawMessage // last payload received, nil if none
	TimedOut bool
}

// StatusPoller queries a transaction until it is terminal, the attempts run out or ctx ends.
// Query failures are logged and retried; they never surface as errors.
type StatusPoller struct {
	Querier  StatusQuerier
	Attempts int
	Interval time.Duration
	wait     func(ctx context.Context, d time.Duration) error
}

func NewStatusPoller(q StatusQuerier, attempts int, interval time.Duration) *StatusPoller {
	if attempts < 1 {
		attempts = 10
	}
	return &StatusPoller{Querier: q, Attempts: attempts, Interval: interval, wait: sleepContext}
}

func (p *StatusPoller) Poll(ctx context.Context, token *oauth2.Token, trackingID string) PollOutcome {
	out := PollOutcome{Status: StatusPending}
	for out.Calls < p.Attempts {
		out.Calls++
		res, err := p.Querier.GetTransactionStatus(ctx, token, trackingID)
		switch {
		case err != nil:
			log.Printf("[POLL] order_tracking_id=%s attempt=%d/%d: %v", trackingID, out.Calls, p.Attempts, err)
		case res.Status.IsTerminal():
			out.Status = res.Status
			out.Raw = res.Raw
			log.Printf("[POLL] order_tracking_id=%s terminal status=%s after %d calls", trackingID, res.Status, out.Calls)
			return out
		default:
			out.Raw = res.Raw
		}
		if out.Calls == p.Attempts {
			break
		}
		if err := p.wait(ctx, p.Interval); err != nil {
			log.Printf("[POLL] order_tracking_id=%s stopped after %d calls: %v", trackingID, out.Calls, err)
			break
		}
	}
	out.TimedOut = true
	log.Printf("[POLL] order_tracking_id=%s no terminal status after %d calls, reporting %s", trackingID, out.Calls, out.Status)
	return out
}
