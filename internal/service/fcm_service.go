package service

import (
	"context"
	"fmt"
	"log"

	"pesagate/internal/domain"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

// Messenger is the subset of the FCM client used for topic pushes.
type Messenger interface {
	Send(ctx context.Context, msg *messaging.Message) (string, error)
}

// FCMService pushes terminal order statuses to the FCM topic order-<trackingID>.
// Client apps subscribe to that topic after submitting.
type FCMService struct {
	client Messenger
}

// NewFCMService creates an FCM service. Returns nil if Firebase is not configured.
func NewFCMService(serviceAccountPath string) *FCMService {
	if serviceAccountPath == "" {
		return nil
	}
	ctx := context.Background()
	opt := option.WithCredentialsFile(serviceAccountPath)
	app, err := firebase.NewApp(ctx, nil, opt)
	if err != nil {
		log.Printf("[FCM] Failed to init Firebase app: %v", err)
		return nil
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		log.Printf("[FCM] Failed to get Messaging client: %v", err)
		return nil
	}
	return &FCMService{client: client}
}

func OrderTopic(trackingID string) string {
	return "order-" + trackingID
}

func (s *FCMService) Publish(ctx context.Context, u domain.StatusUpdate) error {
	if s == nil || !u.Terminal {
		return nil
	}
	title, body := "Payment failed", "Your payment could not be completed."
	if u.Status == "COMPLETED" {
		title, body = "Payment completed", "Your payment was successful."
	}
	msg := &messaging.Message{
		Notification: &messaging.Notification{
			Title: title,
			Body:  body,
		},
		Data: map[string]string{
			"type":               "PAYMENT_STATUS",
			"order_tracking_id":  u.TrackingID,
			"merchant_reference": u.MerchantReference,
			"status":             u.Status,
		},
		Topic: OrderTopic(u.TrackingID),
		Android: &messaging.AndroidConfig{
			Priority: "high",
			Notification: &messaging.AndroidNotification{
				Sound: "default",
			},
		},
		APNS: &messaging.APNSConfig{
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{
					Sound: "default",
				},
			},
		},
	}
	if _, err := s.client.Send(ctx, msg); err != nil {
		return fmt.Errorf("fcm send %s: %w", msg.Topic, err)
	}
	return nil
}
