package repository

import (
	"pesagate/internal/models"

	"gorm.io/gorm"
)

type IPNEventRepository struct {
	db *gorm.DB
}

func NewIPNEventRepository(db *gorm.DB) *IPNEventRepository {
	return &IPNEventRepository{db: db}
}

func (r *IPNEventRepository) Create(e *models.IPNEvent) error {
	return r.db.Create(e).Error
}

func (r *IPNEventRepository) ListByTrackingID(trackingID string) ([]models.IPNEvent, error) {
	var list []models.IPNEvent
	err := r.db.Where("tracking_id = ?", trackingID).Order("id ASC").Find(&list).Error
	return list, err
}
