package models

import "time"

// IPNEvent records each notification the processor pushed to us.
type IPNEvent struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	TrackingID        string    `gorm:"size:64;not null;index" json:"order_tracking_id"`
	MerchantReference string    `gorm:"size:64;index" json:"merchant_reference"`
	NotificationType  string    `gorm:"size:32" json:"notification_type"`
	Status            string    `gorm:"size:20" json:"status"`
	Duplicate         bool      `json:"duplicate"`
	CreatedAt         time.Time `json:"created_at"`
}

func (IPNEvent) TableName() string {
	return "ipn_events"
}
