package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/straye-as/purchase-api/internal/domain"
	"gorm.io/gorm"
)

type PasswordResetRepository struct {
	db *gorm.DB
}

func NewPasswordResetRepository(db *gorm.DB) *PasswordResetRepository {
	return &PasswordResetRepository{db: db}
}

func (r *PasswordResetRepository) Create(ctx context.Context, reset *domain.PasswordReset) error {
	return GetDB(ctx, r.db).Create(reset).Error
}

func (r *PasswordResetRepository) GetByToken(ctx context.Context, token string) (*domain.PasswordReset, error) {
	var reset domain.PasswordReset
	err := GetDB(ctx, r.db).First(&reset, "token = ?", token).Error
	if err != nil {
		return nil, err
	}
	return &reset, nil
}

// MarkUsed consumes a reset. It reports false when the reset was already used, so two
// concurrent resets with one token cannot both succeed.
func (r *PasswordResetRepository) MarkUsed(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	result := GetDB(ctx, r.db).
		Model(&domain.PasswordReset{}).
		Where("id = ? AND used_at IS NULL", id).
		Updates(map[string]interface{}{"used_at": at, "updated_at": at})
	return result.RowsAffected == 1, result.Error
}

// InvalidateForUser marks every open reset of the user used
func (r *PasswordResetRepository) InvalidateForUser(ctx context.Context, userID uuid.UUID, at time.Time) error {
	return GetDB(ctx, r.db).
		Model(&domain.PasswordReset{}).
		Where("user_id = ? AND used_at IS NULL", userID).
		Updates(map[string]interface{}{"used_at": at, "updated_at": at}).Error
}
