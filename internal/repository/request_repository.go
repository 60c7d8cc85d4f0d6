package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/straye-as/purchase-api/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RequestFilter narrows request listings. Zero values mean no restriction.
type RequestFilter struct {
	Status  *domain.RequestStatus
	OwnerID *uuid.UUID
	From    *time.Time
	To      *time.Time
}

type RequestRepository struct {
	db *gorm.DB
}

func NewRequestRepository(db *gorm.DB) *RequestRepository {
	return &RequestRepository{db: db}
}

// withDetails eager-loads items (in entry order) and history (newest first) with their authors
func withDetails(db *gorm.DB) *gorm.DB {
	return db.
		Preload("User").
		Preload("Items", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC")
		}).
		Preload("Items.Vendor").
		Preload("History", func(db *gorm.DB) *gorm.DB {
			return db.Order(historyOrder)
		}).
		Preload("History.User")
}

// Create inserts the request row only; items and history are written by their own repositories
func (r *RequestRepository) Create(ctx context.Context, req *domain.PurchaseRequest) error {
	return GetDB(ctx, r.db).Omit(clause.Associations).Create(req).Error
}

// GetByID returns the request without its children
func (r *RequestRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.PurchaseRequest, error) {
	var req domain.PurchaseRequest
	err := GetDB(ctx, r.db).First(&req, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &req, nil
}

// GetWithDetails returns the request with items, history and authoring users
func (r *RequestRepository) GetWithDetails(ctx context.Context, id uuid.UUID) (*domain.PurchaseRequest, error) {
	var req domain.PurchaseRequest
	err := withDetails(GetDB(ctx, r.db)).First(&req, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &req, nil
}

// List returns requests matching the filter, newest first, with details loaded
func (r *RequestRepository) List(ctx context.Context, filter RequestFilter) ([]domain.PurchaseRequest, error) {
	query := withDetails(GetDB(ctx, r.db))

	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if filter.OwnerID != nil {
		query = query.Where("user_id = ?", *filter.OwnerID)
	}
	if filter.From != nil {
		query = query.Where("created_at >= ?", *filter.From)
	}
	if filter.To != nil {
		query = query.Where("created_at <= ?", *filter.To)
	}

	var requests []domain.PurchaseRequest
	err := query.Order("created_at DESC, id DESC").Find(&requests).Error
	return requests, err
}

// UpdateStatus sets the status field. The last writer wins; there is no version check.
func (r *RequestRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.RequestStatus) error {
	result := GetDB(ctx, r.db).
		Model(&domain.PurchaseRequest{}).
		Where("id = ?", id).
		Update("status", status)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// UpdateContent replaces description and amount, and optionally the status in the same statement
func (r *RequestRepository) UpdateContent(ctx context.Context, id uuid.UUID, description string, amount decimal.Decimal, status *domain.RequestStatus) error {
	updates := map[string]interface{}{
		"description": description,
		"amount":      amount,
	}
	if status != nil {
		updates["status"] = *status
	}
	result := GetDB(ctx, r.db).
		Model(&domain.PurchaseRequest{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
