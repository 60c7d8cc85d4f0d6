package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/straye-as/purchase-api/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// historyOrder lists a ledger newest first. Sequence breaks ties between entries
// recorded within the precision of the created_at column.
const historyOrder = "sequence DESC, created_at DESC"

// HistoryRepository stores ledger entries. It exposes no update or delete.
type HistoryRepository struct {
	db *gorm.DB
}

func NewHistoryRepository(db *gorm.DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

// Append inserts a new ledger entry
func (r *HistoryRepository) Append(ctx context.Context, entry *domain.HistoryEntry) error {
	if !entry.Type.IsValid() {
		return fmt.Errorf("unknown history entry type: %q", entry.Type)
	}
	return GetDB(ctx, r.db).Omit(clause.Associations).Create(entry).Error
}

// ListByRequest returns the request's entries newest first with their authors
func (r *HistoryRepository) ListByRequest(ctx context.Context, requestID uuid.UUID) ([]domain.HistoryEntry, error) {
	var entries []domain.HistoryEntry
	err := GetDB(ctx, r.db).
		Preload("User").
		Where("request_id = ?", requestID).
		Order(historyOrder).
		Find(&entries).Error
	return entries, err
}

// LastSequence returns the highest sequence recorded for a request, 0 for an empty ledger
func (r *HistoryRepository) LastSequence(ctx context.Context, requestID uuid.UUID) (int64, error) {
	var last int64
	err := GetDB(ctx, r.db).
		Model(&domain.HistoryEntry{}).
		Where("request_id = ?", requestID).
		Select("COALESCE(MAX(sequence), 0)").
		Scan(&last).Error
	return last, err
}
