package repository

import (
	"context"

	"gorm.io/gorm"
)

type contextKey string

const txKey contextKey = "gorm_tx"

// TransactionManager runs a group of repository writes. Repositories pick up the
// active transaction from the context through GetDB.
type TransactionManager interface {
	RunInTx(ctx context.Context, fn func(txCtx context.Context) error) error
	// Atomic reports whether a failure inside RunInTx rolls back earlier writes
	Atomic() bool
}

type transactionManager struct {
	db *gorm.DB
}

// NewTransactionManager returns a manager that commits every RunInTx as one database transaction
func NewTransactionManager(db *gorm.DB) TransactionManager {
	return &transactionManager{db: db}
}

func (t *transactionManager) RunInTx(ctx context.Context, fn func(txCtx context.Context) error) error {
	return t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txCtx := context.WithValue(ctx, txKey, tx)
		return fn(txCtx)
	})
}

func (t *transactionManager) Atomic() bool { return true }

type sequentialRunner struct{}

// NewSequentialRunner returns a manager for stores without multi-statement atomicity.
// Each write commits on its own, so a failing step leaves the earlier steps in place.
func NewSequentialRunner() TransactionManager {
	return sequentialRunner{}
}

func (sequentialRunner) RunInTx(ctx context.Context, fn func(txCtx context.Context) error) error {
	return fn(ctx)
}

func (sequentialRunner) Atomic() bool { return false }

// GetDB extracts the transaction DB from context if present, otherwise returns root DB.
func GetDB(ctx context.Context, rootDB *gorm.DB) *gorm.DB {
	if tx, ok := ctx.Value(txKey).(*gorm.DB); ok {
		return tx.WithContext(ctx)
	}
	return rootDB.WithContext(ctx)
}
