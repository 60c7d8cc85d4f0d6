package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/straye-as/purchase-api/internal/domain"
	"gorm.io/gorm"
)

type VendorRepository struct {
	db *gorm.DB
}

func NewVendorRepository(db *gorm.DB) *VendorRepository {
	return &VendorRepository{db: db}
}

func (r *VendorRepository) Create(ctx context.Context, vendor *domain.Vendor) error {
	return GetDB(ctx, r.db).Create(vendor).Error
}

func (r *VendorRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Vendor, error) {
	var vendor domain.Vendor
	err := GetDB(ctx, r.db).First(&vendor, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &vendor, nil
}

// List returns all vendors ordered by name
func (r *VendorRepository) List(ctx context.Context) ([]domain.Vendor, error) {
	var vendors []domain.Vendor
	err := GetDB(ctx, r.db).Order("name ASC").Find(&vendors).Error
	return vendors, err
}

// CountByIDs returns how many of the given ids exist
func (r *VendorRepository) CountByIDs(ctx context.Context, ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	var count int64
	err := GetDB(ctx, r.db).Model(&domain.Vendor{}).Where("id IN ?", ids).Count(&count).Error
	return count, err
}
