package repository

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/straye-as/purchase-api/internal/domain"
	"gorm.io/gorm"
)

type InvitationRepository struct {
	db *gorm.DB
}

func NewInvitationRepository(db *gorm.DB) *InvitationRepository {
	return &InvitationRepository{db: db}
}

func (r *InvitationRepository) Create(ctx context.Context, inv *domain.Invitation) error {
	inv.Email = strings.ToLower(strings.TrimSpace(inv.Email))
	return GetDB(ctx, r.db).Create(inv).Error
}

func (r *InvitationRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Invitation, error) {
	var inv domain.Invitation
	err := GetDB(ctx, r.db).First(&inv, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func (r *InvitationRepository) GetByToken(ctx context.Context, token string) (*domain.Invitation, error) {
	var inv domain.Invitation
	err := GetDB(ctx, r.db).First(&inv, "token = ?", token).Error
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

// HasPending reports whether a pending invitation exists for the email
func (r *InvitationRepository) HasPending(ctx context.Context, email string) (bool, error) {
	var count int64
	err := GetDB(ctx, r.db).
		Model(&domain.Invitation{}).
		Where("email = ? AND status = ?", strings.ToLower(strings.TrimSpace(email)), domain.InvitationPending).
		Count(&count).Error
	return count > 0, err
}

// List returns invitations newest first, optionally filtered by status
func (r *InvitationRepository) List(ctx context.Context, status *domain.InvitationStatus) ([]domain.Invitation, error) {
	query := GetDB(ctx, r.db)
	if status != nil {
		query = query.Where("status = ?", *status)
	}
	var invitations []domain.Invitation
	err := query.Order("created_at DESC, id DESC").Find(&invitations).Error
	return invitations, err
}

func (r *InvitationRepository) SetStatus(ctx context.Context, id uuid.UUID, status domain.InvitationStatus) error {
	return GetDB(ctx, r.db).
		Model(&domain.Invitation{}).
		Where("id = ?", id).
		Update("status", status).Error
}

// MarkAccepted records who used the invitation and when
func (r *InvitationRepository) MarkAccepted(ctx context.Context, id, userID uuid.UUID, at time.Time) error {
	return GetDB(ctx, r.db).
		Model(&domain.Invitation{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":  domain.InvitationAccepted,
			"used_at": at,
			"used_by": userID,
		}).Error
}

// ExpireStale moves pending invitations past their expiry to expired and returns how many changed
func (r *InvitationRepository) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	result := GetDB(ctx, r.db).
		Model(&domain.Invitation{}).
		Where("status = ? AND expires_at IS NOT NULL AND expires_at < ?", domain.InvitationPending, now).
		Update("status", domain.InvitationExpired)
	return result.RowsAffected, result.Error
}
