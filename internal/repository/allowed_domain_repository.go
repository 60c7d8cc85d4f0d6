package repository

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/straye-as/purchase-api/internal/domain"
	"gorm.io/gorm"
)

type AllowedDomainRepository struct {
	db *gorm.DB
}

func NewAllowedDomainRepository(db *gorm.DB) *AllowedDomainRepository {
	return &AllowedDomainRepository{db: db}
}

func (r *AllowedDomainRepository) Create(ctx context.Context, d *domain.AllowedDomain) error {
	d.Domain = strings.ToLower(strings.TrimSpace(d.Domain))
	return GetDB(ctx, r.db).Create(d).Error
}

func (r *AllowedDomainRepository) List(ctx context.Context) ([]domain.AllowedDomain, error) {
	var domains []domain.AllowedDomain
	err := GetDB(ctx, r.db).Order("domain ASC").Find(&domains).Error
	return domains, err
}

func (r *AllowedDomainRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result := GetDB(ctx, r.db).Delete(&domain.AllowedDomain{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// Exists reports whether the exact (lower-cased) domain is registered
func (r *AllowedDomainRepository) Exists(ctx context.Context, name string) (bool, error) {
	var count int64
	err := GetDB(ctx, r.db).
		Model(&domain.AllowedDomain{}).
		Where("domain = ?", strings.ToLower(strings.TrimSpace(name))).
		Count(&count).Error
	return count > 0, err
}
