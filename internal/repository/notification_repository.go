package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/straye-as/purchase-api/internal/domain"
	"gorm.io/gorm"
)

type NotificationRepository struct {
	db *gorm.DB
}

func NewNotificationRepository(db *gorm.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// CreateMany inserts one record per recipient in a single statement
func (r *NotificationRepository) CreateMany(ctx context.Context, notifications []domain.Notification) error {
	if len(notifications) == 0 {
		return nil
	}
	return GetDB(ctx, r.db).Create(&notifications).Error
}

func (r *NotificationRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Notification, error) {
	var notification domain.Notification
	err := GetDB(ctx, r.db).First(&notification, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &notification, nil
}

func (r *NotificationRepository) ListByRecipient(ctx context.Context, recipientID uuid.UUID, page, pageSize int, unreadOnly bool) ([]domain.Notification, int64, error) {
	var notifications []domain.Notification
	var total int64

	query := GetDB(ctx, r.db).Model(&domain.Notification{}).Where("recipient_id = ?", recipientID)

	if unreadOnly {
		query = query.Where("read = ?", false)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	err := query.Offset(offset).Limit(pageSize).Order("created_at DESC, id DESC").Find(&notifications).Error

	return notifications, total, err
}

func (r *NotificationRepository) ListByRequest(ctx context.Context, requestID uuid.UUID) ([]domain.Notification, error) {
	var notifications []domain.Notification
	err := GetDB(ctx, r.db).
		Where("request_id = ?", requestID).
		Order("created_at ASC").
		Find(&notifications).Error
	return notifications, err
}

func (r *NotificationRepository) MarkAsRead(ctx context.Context, id uuid.UUID) error {
	now := time.Now()
	return GetDB(ctx, r.db).
		Model(&domain.Notification{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"read":    true,
			"read_at": now,
		}).Error
}

func (r *NotificationRepository) MarkAllAsRead(ctx context.Context, recipientID uuid.UUID) error {
	now := time.Now()
	return GetDB(ctx, r.db).
		Model(&domain.Notification{}).
		Where("recipient_id = ? AND read = ?", recipientID, false).
		Updates(map[string]interface{}{
			"read":    true,
			"read_at": now,
		}).Error
}

func (r *NotificationRepository) CountUnread(ctx context.Context, recipientID uuid.UUID) (int, error) {
	var count int64
	err := GetDB(ctx, r.db).
		Model(&domain.Notification{}).
		Where("recipient_id = ? AND read = ?", recipientID, false).
		Count(&count).Error
	return int(count), err
}
