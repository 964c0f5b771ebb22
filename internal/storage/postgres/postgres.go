// internal/storage/postgres/postgres.go
package postgres

import (
	"cashledger/internal/domain"
	"cashledger/internal/storage"
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

type Storage struct {
	db *pgxpool.Pool
}

func NewStorage(db *pgxpool.Pool) *Storage {
	return &Storage{db: db}
}

// === AccountStorage ===

func (s *Storage) CreateAccount(ctx context.Context, acc domain.Account) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO accounts (id, name, type, cashback_config, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, acc.ID, acc.Name, acc.Type, acc.CashbackConfig, acc.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("create account: %w", err)
	}
	return nil
}

func (s *Storage) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	var acc domain.Account
	err := s.db.QueryRow(ctx, `
		SELECT id, name, type, cashback_config, created_at
		FROM accounts WHERE id = $1
	`, id).Scan(&acc.ID, &acc.Name, &acc.Type, &acc.CashbackConfig, &acc.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find account: %w", err)
	}
	return &acc, nil
}

func (s *Storage) ListAccounts(ctx context.Context) ([]domain.Account, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, name, type, cashback_config, created_at
		FROM accounts ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []domain.Account
	for rows.Next() {
		var acc domain.Account
		if err := rows.Scan(&acc.ID, &acc.Name, &acc.Type, &acc.CashbackConfig, &acc.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, acc)
	}
	return accounts, rows.Err()
}

// === TransactionStorage ===

func (s *Storage) UpsertTransaction(ctx context.Context, txn domain.Transaction) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO transactions (id, account_id, type, amount, category_id, note, occurred_at, cycle_tag, voided)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			account_id = EXCLUDED.account_id,
			type = EXCLUDED.type,
			amount = EXCLUDED.amount,
			category_id = EXCLUDED.category_id,
			note = EXCLUDED.note,
			occurred_at = EXCLUDED.occurred_at,
			cycle_tag = EXCLUDED.cycle_tag,
			voided = EXCLUDED.voided
	`, txn.ID, txn.AccountID, txn.Type, txn.Amount, txn.CategoryID, txn.Note, txn.OccurredAt, txn.CycleTag, txn.Voided)
	if err != nil {
		return fmt.Errorf("upsert transaction: %w", err)
	}
	return nil
}

func (s *Storage) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	var txn domain.Transaction
	err := s.db.QueryRow(ctx, `
		SELECT id, account_id, type, amount, category_id, note, occurred_at, cycle_tag, voided
		FROM transactions WHERE id = $1
	`, id).Scan(&txn.ID, &txn.AccountID, &txn.Type, &txn.Amount, &txn.CategoryID,
		&txn.Note, &txn.OccurredAt, &txn.CycleTag, &txn.Voided)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find transaction: %w", err)
	}
	return &txn, nil
}

func (s *Storage) ListCycleTransactions(ctx context.Context, accountID, cycleTag string, types []domain.TransactionType) ([]domain.Transaction, error) {
	typeStrs := make([]string, len(types))
	for i, t := range types {
		typeStrs[i] = string(t)
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, account_id, type, amount, category_id, note, occurred_at, cycle_tag, voided
		FROM transactions
		WHERE account_id = $1 AND cycle_tag = $2 AND voided = FALSE AND type = ANY($3)
		ORDER BY occurred_at, id
	`, accountID, cycleTag, typeStrs)
	if err != nil {
		return nil, fmt.Errorf("list cycle transactions: %w", err)
	}
	defer rows.Close()

	var txns []domain.Transaction
	for rows.Next() {
		var txn domain.Transaction
		if err := rows.Scan(&txn.ID, &txn.AccountID, &txn.Type, &txn.Amount, &txn.CategoryID,
			&txn.Note, &txn.OccurredAt, &txn.CycleTag, &txn.Voided); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		txns = append(txns, txn)
	}
	return txns, rows.Err()
}

func (s *Storage) VoidTransaction(ctx context.Context, id string) error {
	result, err := s.db.Exec(ctx, "UPDATE transactions SET voided = TRUE WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("void transaction: %w", err)
	}
	if result.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// === CycleStorage ===

func (s *Storage) CreateCycle(ctx context.Context, c domain.Cycle) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO cashback_cycles
			(id, account_id, cycle_tag, max_budget, min_spend_target,
			 spent_amount, real_awarded, virtual_profit, overflow_loss,
			 is_exhausted, met_min_spend, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, c.ID, c.AccountID, c.CycleTag, c.MaxBudget, c.MinSpendTarget,
		c.SpentAmount, c.RealAwarded, c.VirtualProfit, c.OverflowLoss,
		c.IsExhausted, c.MetMinSpend, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("create cycle: %w", err)
	}
	return nil
}

func (s *Storage) GetCycle(ctx context.Context, id string) (*domain.Cycle, error) {
	return s.scanCycle(s.db.QueryRow(ctx, selectCycle+" WHERE id = $1", id))
}

func (s *Storage) GetCycleByTag(ctx context.Context, accountID, tag string) (*domain.Cycle, error) {
	return s.scanCycle(s.db.QueryRow(ctx, selectCycle+" WHERE account_id = $1 AND cycle_tag = $2", accountID, tag))
}

const selectCycle = `
	SELECT id, account_id, cycle_tag, max_budget, min_spend_target,
	       spent_amount, real_awarded, virtual_profit, overflow_loss,
	       is_exhausted, met_min_spend, created_at, updated_at
	FROM cashback_cycles`

func (s *Storage) scanCycle(row pgx.Row) (*domain.Cycle, error) {
	var c domain.Cycle
	err := row.Scan(&c.ID, &c.AccountID, &c.CycleTag, &c.MaxBudget, &c.MinSpendTarget,
		&c.SpentAmount, &c.RealAwarded, &c.VirtualProfit, &c.OverflowLoss,
		&c.IsExhausted, &c.MetMinSpend, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find cycle: %w", err)
	}
	return &c, nil
}

func (s *Storage) ListCycles(ctx context.Context, accountID string) ([]domain.Cycle, error) {
	rows, err := s.db.Query(ctx, selectCycle+" WHERE account_id = $1 ORDER BY cycle_tag DESC", accountID)
	if err != nil {
		return nil, fmt.Errorf("list cycles: %w", err)
	}
	defer rows.Close()

	var cycles []domain.Cycle
	for rows.Next() {
		var c domain.Cycle
		if err := rows.Scan(&c.ID, &c.AccountID, &c.CycleTag, &c.MaxBudget, &c.MinSpendTarget,
			&c.SpentAmount, &c.RealAwarded, &c.VirtualProfit, &c.OverflowLoss,
			&c.IsExhausted, &c.MetMinSpend, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan cycle: %w", err)
		}
		cycles = append(cycles, c)
	}
	return cycles, rows.Err()
}

func (s *Storage) UpdateCycleAggregates(ctx context.Context, c domain.Cycle) error {
	result, err := s.db.Exec(ctx, `
		UPDATE cashback_cycles SET
			spent_amount = $2,
			real_awarded = $3,
			virtual_profit = $4,
			overflow_loss = $5,
			is_exhausted = $6,
			met_min_spend = $7,
			updated_at = NOW()
		WHERE id = $1
	`, c.ID, c.SpentAmount, c.RealAwarded, c.VirtualProfit, c.OverflowLoss, c.IsExhausted, c.MetMinSpend)
	if err != nil {
		return fmt.Errorf("update cycle aggregates: %w", err)
	}
	if result.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// === EntryStorage ===

func (s *Storage) UpsertEntry(ctx context.Context, e domain.CashbackEntry) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO cashback_entries
			(id, cycle_id, account_id, transaction_id, mode, amount, counts_to_budget, metadata, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (account_id, transaction_id) DO UPDATE SET
			cycle_id = EXCLUDED.cycle_id,
			mode = EXCLUDED.mode,
			amount = EXCLUDED.amount,
			counts_to_budget = EXCLUDED.counts_to_budget,
			metadata = EXCLUDED.metadata,
			updated_at = NOW()
	`, e.ID, e.CycleID, e.AccountID, e.TransactionID, e.Mode, e.Amount, e.CountsToBudget, e.Metadata)
	if err != nil {
		return fmt.Errorf("upsert cashback entry: %w", err)
	}
	return nil
}

func (s *Storage) ListEntriesByCycle(ctx context.Context, cycleID string) ([]domain.CashbackEntry, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, cycle_id, account_id, transaction_id, mode, amount, counts_to_budget, metadata, updated_at
		FROM cashback_entries WHERE cycle_id = $1
		ORDER BY transaction_id
	`, cycleID)
	if err != nil {
		return nil, fmt.Errorf("list cycle entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.CashbackEntry
	for rows.Next() {
		var e domain.CashbackEntry
		if err := rows.Scan(&e.ID, &e.CycleID, &e.AccountID, &e.TransactionID,
			&e.Mode, &e.Amount, &e.CountsToBudget, &e.Metadata, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan cashback entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *Storage) GetEntryByTransaction(ctx context.Context, transactionID string) (*domain.CashbackEntry, error) {
	var e domain.CashbackEntry
	err := s.db.QueryRow(ctx, `
		SELECT id, cycle_id, account_id, transaction_id, mode, amount, counts_to_budget, metadata, updated_at
		FROM cashback_entries WHERE transaction_id = $1
	`, transactionID).Scan(&e.ID, &e.CycleID, &e.AccountID, &e.TransactionID,
		&e.Mode, &e.Amount, &e.CountsToBudget, &e.Metadata, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find cashback entry: %w", err)
	}
	return &e, nil
}

func (s *Storage) DeleteEntriesByTransaction(ctx context.Context, transactionID string) ([]string, error) {
	rows, err := s.db.Query(ctx, `
		DELETE FROM cashback_entries WHERE transaction_id = $1 RETURNING cycle_id
	`, transactionID)
	if err != nil {
		return nil, fmt.Errorf("delete cashback entries: %w", err)
	}
	defer rows.Close()

	var cycleIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan deleted entry cycle: %w", err)
		}
		cycleIDs = append(cycleIDs, id)
	}
	return cycleIDs, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
