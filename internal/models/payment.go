package models

import (
	"time"

	"gorm.io/gorm"
)

// PaymentOrder is the ledger row for one submitted order. Status follows the processor
// (PENDING, COMPLETED, FAILED, INVALID, REVERSED).
type PaymentOrder struct {
	ID                uint           `gorm:"primaryKey" json:"id"`
	MerchantReference string         `gorm:"size:64;uniqueIndex;not null" json:"merchant_reference"`
	TrackingID        string         `gorm:"size:64;uniqueIndex;not null" json:"order_tracking_id"`
	Amount            float64        `gorm:"not null" json:"amount"`
	Currency          string         `gorm:"size:3;not null" json:"currency"`
	Email             string         `gorm:"size:255" json:"email_address"`
	Phone             string         `gorm:"size:32" json:"phone"`
	Branch            string         `gorm:"size:100" json:"branch"`
	NotificationID    string         `gorm:"size:64" json:"notification_id"`
	Status            string         `gorm:"size:20;not null;index" json:"status"`
	SubmitResponse    string         `gorm:"type:text" json:"-"` // raw JSON
	LastStatusPayload string         `gorm:"type:text" json:"-"` // raw JSON
	CompletedAt       *time.Time     `json:"completed_at"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
	DeletedAt         gorm.DeletedAt `gorm:"index" json:"-"`
}

func (PaymentOrder) TableName() string {
	return "payment_orders"
}
