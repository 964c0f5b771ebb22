// internal/storage/storage.go
package storage

import (
	"cashledger/internal/domain"
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when an update or void targets a missing row.
	// Point lookups return (nil, nil) for absent rows instead.
	ErrNotFound = errors.New("storage: not found")
	// ErrConflict is returned when an insert violates a unique constraint
	// (a concurrent creator won the race).
	ErrConflict = errors.New("storage: unique constraint conflict")
)

type AccountStorage interface {
	CreateAccount(ctx context.Context, acc domain.Account) error
	GetAccount(ctx context.Context, id string) (*domain.Account, error)
	ListAccounts(ctx context.Context) ([]domain.Account, error)
}

type TransactionStorage interface {
	UpsertTransaction(ctx context.Context, txn domain.Transaction) error
	GetTransaction(ctx context.Context, id string) (*domain.Transaction, error)
	// ListCycleTransactions returns non-void transactions of the given types
	// for one (account, cycle tag) pair.
	ListCycleTransactions(ctx context.Context, accountID, cycleTag string, types []domain.TransactionType) ([]domain.Transaction, error)
	VoidTransaction(ctx context.Context, id string) error
}

type CycleStorage interface {
	// CreateCycle returns ErrConflict when a row for (AccountID, CycleTag)
	// already exists.
	CreateCycle(ctx context.Context, c domain.Cycle) error
	GetCycle(ctx context.Context, id string) (*domain.Cycle, error)
	GetCycleByTag(ctx context.Context, accountID, tag string) (*domain.Cycle, error)
	ListCycles(ctx context.Context, accountID string) ([]domain.Cycle, error)
	// UpdateCycleAggregates writes the recomputed totals; the only mutation
	// a cycle row ever receives after creation.
	UpdateCycleAggregates(ctx context.Context, c domain.Cycle) error
}

type EntryStorage interface {
	// UpsertEntry inserts or replaces the entry keyed by
	// (AccountID, TransactionID).
	UpsertEntry(ctx context.Context, e domain.CashbackEntry) error
	ListEntriesByCycle(ctx context.Context, cycleID string) ([]domain.CashbackEntry, error)
	GetEntryByTransaction(ctx context.Context, transactionID string) (*domain.CashbackEntry, error)
	// DeleteEntriesByTransaction removes the transaction's entries and
	// returns the IDs of the cycles they belonged to.
	DeleteEntriesByTransaction(ctx context.Context, transactionID string) ([]string, error)
}

// Store is the full capability set the engine receives. Which concrete
// implementation backs it (postgres or memory) is decided once at process
// start; the engine never branches on it.
type Store interface {
	AccountStorage
	TransactionStorage
	CycleStorage
	EntryStorage
}
