package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/straye-as/purchase-api/internal/domain"
	"github.com/straye-as/purchase-api/internal/repository"
)

// Ledger is the append-only interaction history of purchase requests.
// Entries are only ever inserted; reads return them newest first.
type Ledger struct {
	historyRepo *repository.HistoryRepository
	now         func() time.Time
}

func NewLedger(historyRepo *repository.HistoryRepository) *Ledger {
	return &Ledger{historyRepo: historyRepo, now: time.Now}
}

// RecordTransition appends the status_change entry for one transition. Entries are
// numbered per request so that the newest-first order holds even when two entries
// carry the same timestamp.
func (l *Ledger) RecordTransition(ctx context.Context, requestID, actorID uuid.UUID, from, to domain.RequestStatus, comment string) (*domain.HistoryEntry, error) {
	last, err := l.historyRepo.LastSequence(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger position: %w", err)
	}

	oldStatus, newStatus := from, to
	entry := &domain.HistoryEntry{
		RequestID: requestID,
		UserID:    actorID,
		Type:      domain.HistoryStatusChange,
		OldStatus: &oldStatus,
		NewStatus: &newStatus,
		Comment:   comment,
		Sequence:  last + 1,
		CreatedAt: l.now().UTC(),
	}
	if err := l.historyRepo.Append(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to append history entry: %w", err)
	}
	return entry, nil
}

// Entries returns the ledger of a request, newest first
func (l *Ledger) Entries(ctx context.Context, requestID uuid.UUID) ([]domain.HistoryEntry, error) {
	entries, err := l.historyRepo.ListByRequest(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	return entries, nil
}
