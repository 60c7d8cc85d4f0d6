// Package testutil provides an in-memory store and fixtures for package tests.
package testutil

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/straye-as/purchase-api/internal/database"
	"github.com/straye-as/purchase-api/internal/domain"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// SetupTestDB opens a fresh in-memory SQLite database with the full schema.
// A single connection is kept so that every query sees the same memory database.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, database.AutoMigrate(db))

	t.Cleanup(func() {
		_ = sqlDB.Close()
	})
	return db
}

// CreateTestUser inserts an active user with the given role
func CreateTestUser(t *testing.T, db *gorm.DB, name string, role domain.UserRole) *domain.User {
	t.Helper()

	user := &domain.User{
		Name:       name,
		Email:      fmt.Sprintf("%s.%s@example.com", name, uuid.NewString()[:8]),
		Role:       role,
		Department: "Operations",
		Active:     true,
	}
	require.NoError(t, db.Create(user).Error)
	return user
}

// CreateInactiveUser inserts a deactivated user with the given role
func CreateInactiveUser(t *testing.T, db *gorm.DB, name string, role domain.UserRole) *domain.User {
	t.Helper()

	user := CreateTestUser(t, db, name, role)
	require.NoError(t, db.Model(user).Update("is_active", false).Error)
	user.Active = false
	return user
}

// CreateTestVendor inserts a vendor
func CreateTestVendor(t *testing.T, db *gorm.DB, name string) *domain.Vendor {
	t.Helper()

	vendor := &domain.Vendor{Name: name, ContactEmail: "sales@" + name + ".example.com"}
	require.NoError(t, db.Create(vendor).Error)
	return vendor
}

// Item builds a line item input
func Item(description string, qty int, price string) domain.ItemInput {
	return domain.ItemInput{
		Description: description,
		Category:    domain.CategoryOffice,
		Quantity:    qty,
		UnitPrice:   decimal.RequireFromString(price),
	}
}
