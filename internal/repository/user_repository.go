package repository

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/straye-as/purchase-api/internal/domain"
	"gorm.io/gorm"
)

type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) Create(ctx context.Context, user *domain.User) error {
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	return GetDB(ctx, r.db).Create(user).Error
}

func (r *UserRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	var user domain.User
	err := GetDB(ctx, r.db).First(&user, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	var user domain.User
	err := GetDB(ctx, r.db).First(&user, "email = ?", strings.ToLower(strings.TrimSpace(email))).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// List returns all users ordered by name
func (r *UserRepository) List(ctx context.Context) ([]domain.User, error) {
	var users []domain.User
	err := GetDB(ctx, r.db).Order("name ASC").Find(&users).Error
	return users, err
}

// ListActiveByRoles returns active users holding any of the given roles, ordered by name
func (r *UserRepository) ListActiveByRoles(ctx context.Context, roles ...domain.UserRole) ([]domain.User, error) {
	var users []domain.User
	err := GetDB(ctx, r.db).
		Where("role IN ? AND is_active = ?", roles, true).
		Order("name ASC").
		Find(&users).Error
	return users, err
}

// UpdateProfile writes name, role and department. The password hash is never touched.
func (r *UserRepository) UpdateProfile(ctx context.Context, user *domain.User) error {
	return GetDB(ctx, r.db).
		Model(&domain.User{}).
		Where("id = ?", user.ID).
		Updates(map[string]interface{}{
			"name":       user.Name,
			"role":       user.Role,
			"department": user.Department,
		}).Error
}

// SetPasswordHash replaces the stored password hash
func (r *UserRepository) SetPasswordHash(ctx context.Context, id uuid.UUID, hash string) error {
	return GetDB(ctx, r.db).
		Model(&domain.User{}).
		Where("id = ?", id).
		Update("password_hash", hash).Error
}

func (r *UserRepository) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	return GetDB(ctx, r.db).
		Model(&domain.User{}).
		Where("id = ?", id).
		Update("is_active", active).Error
}

// Delete removes the user permanently. Requests and ledger entries keep the id.
func (r *UserRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return GetDB(ctx, r.db).Delete(&domain.User{}, "id = ?", id).Error
}

func (r *UserRepository) EmailExists(ctx context.Context, email string) (bool, error) {
	var count int64
	err := GetDB(ctx, r.db).
		Model(&domain.User{}).
		Where("email = ?", strings.ToLower(strings.TrimSpace(email))).
		Count(&count).Error
	return count > 0, err
}
