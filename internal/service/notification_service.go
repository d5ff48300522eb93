package service

import (
	"context"
	"log"

	"pesagate/internal/domain"
)

// StatusSink receives observed order statuses (websocket hub, FCM, Kafka).
type StatusSink interface {
	Publish(ctx context.Context, u domain.StatusUpdate) error
}

// StatusNotifier fans a status update out to every sink. Sink failures are logged, never returned.
type StatusNotifier struct {
	sinks []StatusSink
}

func NewStatusNotifier(sinks ...StatusSink) *StatusNotifier {
	n := &StatusNotifier{}
	for _, s := range sinks {
		if s != nil {
			n.sinks = append(n.sinks, s)
		}
	}
	return n
}

func (n *StatusNotifier) Notify(ctx context.Context, u domain.StatusUpdate) {
	if n == nil {
		return
	}
	for _, s := range n.sinks {
		if err := s.Publish(ctx, u); err != nil {
			log.Printf("[NOTIFY] order_tracking_id=%s status=%s sink %T: %v", u.TrackingID, u.Status, s, err)
		}
	}
}
