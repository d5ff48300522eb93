package repository

import (
	"errors"
	"time"

	"pesagate/internal/models"

	"gorm.io/gorm"
)

// ErrStatusFinal is returned when an order already holds a terminal status.
var ErrStatusFinal = errors.New("order status is final")

var terminalStatuses = []string{"COMPLETED", "FAILED"}

type PaymentRepository struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func (r *PaymentRepository) Create(o *models.PaymentOrder) error {
	return r.db.Create(o).Error
}

func (r *PaymentRepository) GetByTrackingID(trackingID string) (*models.PaymentOrder, error) {
	var o models.PaymentOrder
	err := r.db.Where("tracking_id = ?", trackingID).First(&o).Error
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *PaymentRepository) GetByMerchantReference(ref string) (*models.PaymentOrder, error) {
	var o models.PaymentOrder
	err := r.db.Where("merchant_reference = ?", ref).First(&o).Error
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// UpdateStatus stores the latest observed status. A COMPLETED or FAILED order is never
// rewritten: ErrStatusFinal is returned instead. Unknown orders give gorm.ErrRecordNotFound.
func (r *PaymentRepository) UpdateStatus(trackingID, status, payload string) error {
	updates := map[string]interface{}{
		"status":              status,
		"last_status_payload": payload,
	}
	if status == "COMPLETED" {
		updates["completed_at"] = time.Now()
	}
	res := r.db.Model(&models.PaymentOrder{}).
		Where("tracking_id = ? AND status NOT IN ?", trackingID, terminalStatuses).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}
	var o models.PaymentOrder
	if err := r.db.Select("status").Where("tracking_id = ?", trackingID).First(&o).Error; err != nil {
		return err
	}
	for _, st := range terminalStatuses {
		if o.Status == st {
			return ErrStatusFinal
		}
	}
	// some drivers report zero affected rows when nothing changed
	return nil
}

func (r *PaymentRepository) List(status string, limit, offset int) ([]models.PaymentOrder, error) {
	var list []models.PaymentOrder
	q := r.db.Order("id DESC").Limit(limit).Offset(offset)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	err := q.Find(&list).Error
	return list, err
}
