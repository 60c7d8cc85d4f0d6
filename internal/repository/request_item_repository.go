package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/straye-as/purchase-api/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type RequestItemRepository struct {
	db *gorm.DB
}

func NewRequestItemRepository(db *gorm.DB) *RequestItemRepository {
	return &RequestItemRepository{db: db}
}

func (r *RequestItemRepository) ListByRequest(ctx context.Context, requestID uuid.UUID) ([]domain.RequestItem, error) {
	var items []domain.RequestItem
	err := GetDB(ctx, r.db).
		Where("request_id = ?", requestID).
		Order("position ASC").
		Find(&items).Error
	return items, err
}

// ReplaceForRequest deletes every item of the request and inserts the given set.
// Items are never diffed.
func (r *RequestItemRepository) ReplaceForRequest(ctx context.Context, requestID uuid.UUID, items []domain.RequestItem) error {
	db := GetDB(ctx, r.db)
	if err := db.Where("request_id = ?", requestID).Delete(&domain.RequestItem{}).Error; err != nil {
		return err
	}
	return r.insert(db, requestID, items)
}

// CreateForRequest inserts the items of a new request
func (r *RequestItemRepository) CreateForRequest(ctx context.Context, requestID uuid.UUID, items []domain.RequestItem) error {
	return r.insert(GetDB(ctx, r.db), requestID, items)
}

func (r *RequestItemRepository) insert(db *gorm.DB, requestID uuid.UUID, items []domain.RequestItem) error {
	if len(items) == 0 {
		return nil
	}
	for i := range items {
		items[i].RequestID = requestID
		items[i].Position = i
	}
	return db.Omit(clause.Associations).Create(&items).Error
}

// SetDeliveryDates writes the estimated delivery date of each listed item
func (r *RequestItemRepository) SetDeliveryDates(ctx context.Context, requestID uuid.UUID, dates map[uuid.UUID]time.Time) error {
	db := GetDB(ctx, r.db)
	for itemID, date := range dates {
		result := db.Model(&domain.RequestItem{}).
			Where("id = ? AND request_id = ?", itemID, requestID).
			Update("estimated_delivery_date", date)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
	}
	return nil
}
