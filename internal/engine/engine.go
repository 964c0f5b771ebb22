// internal/engine/engine.go
package engine

import (
	"cashledger/internal/cashback"
	"cashledger/internal/domain"
	"cashledger/internal/storage"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
)

// Engine drives cashback accounting for ledger mutations: it owns cycle
// registration, policy resolution, entry upserts and cycle recomputes. It is
// handle-agnostic: the store capability is injected once and never inspected.
type Engine struct {
	store storage.Store
}

func New(store storage.Store) *Engine {
	return &Engine{store: store}
}

// ApplyResult reports what a ledger mutation did to cashback state.
type ApplyResult struct {
	Qualified  bool                  `json:"qualified"`
	CycleID    string                `json:"cycleId,omitempty"`
	CycleTag   string                `json:"cycleTag,omitempty"`
	Entry      *domain.CashbackEntry `json:"entry,omitempty"`
	Resolution *cashback.Resolution  `json:"resolution,omitempty"`
}

// ApplyTransaction is the create/update trigger. It persists the transaction
// with its cycle tag, ensures the cycle row, resolves this entry's rate
// against cycle-to-date spend, upserts the cashback entry and finally
// recomputes the cycle from scratch. A transaction that stops qualifying
// (voided, re-typed, note-excluded, non-card account) loses its entry and
// the affected cycles are recomputed.
func (e *Engine) ApplyTransaction(ctx context.Context, txn domain.Transaction) (*ApplyResult, error) {
	account, err := e.store.GetAccount(ctx, txn.AccountID)
	if err != nil {
		return nil, fmt.Errorf("load account %s: %w", txn.AccountID, err)
	}
	if account == nil {
		return nil, domain.ErrAccountNotFound
	}

	program := cashback.ParseProgram(account.CashbackConfig)
	tag, legacyTag, hasCycle := cashback.TagForDate(program, txn.OccurredAt)

	qualifies := account.IsCreditCard() &&
		hasCycle &&
		!txn.Voided &&
		(txn.Type == domain.TxnExpense || txn.Type == domain.TxnDebt) &&
		!NoteExcluded(txn.Note)

	if account.IsCreditCard() && hasCycle {
		txn.CycleTag = tag
	} else {
		txn.CycleTag = ""
	}
	if err := e.store.UpsertTransaction(ctx, txn); err != nil {
		return nil, fmt.Errorf("persist transaction %s: %w", txn.ID, err)
	}

	if !qualifies {
		if err := e.dropEntries(ctx, txn.ID); err != nil {
			return nil, err
		}
		return &ApplyResult{Qualified: false}, nil
	}

	cycle, err := e.ensureCycle(ctx, txn.AccountID, tag, program, legacyTag)
	if err != nil {
		return nil, err
	}

	// A date edit can move the transaction to another cycle; the old one
	// must be recomputed as well once the entry has been relocated.
	prev, err := e.store.GetEntryByTransaction(ctx, txn.ID)
	if err != nil {
		return nil, fmt.Errorf("lookup prior entry for %s: %w", txn.ID, err)
	}

	amount := math.Abs(txn.Amount)
	res := cashback.Resolve(program, txn.CategoryID, amount, cycle.SpentAmount)
	md, err := json.Marshal(res.Metadata)
	if err != nil {
		return nil, fmt.Errorf("encode resolution metadata: %w", err)
	}
	entry := domain.CashbackEntry{
		ID:            uuid.NewString(),
		CycleID:       cycle.ID,
		AccountID:     txn.AccountID,
		TransactionID: txn.ID,
		Mode:          domain.EntryVirtual,
		Amount:        amount * res.Rate,
		Metadata:      md,
	}
	// A missing entry is user-visible; unlike the recompute batch loop this
	// upsert fails hard.
	if err := e.store.UpsertEntry(ctx, entry); err != nil {
		return nil, fmt.Errorf("persist cashback entry for %s: %w", txn.ID, err)
	}

	if prev != nil && prev.CycleID != cycle.ID {
		if err := e.Recompute(ctx, prev.CycleID); err != nil {
			return nil, err
		}
	}
	if err := e.Recompute(ctx, cycle.ID); err != nil {
		return nil, err
	}

	slog.Info("transaction applied to cashback cycle",
		"transaction_id", txn.ID, "account_id", txn.AccountID,
		"cycle_tag", tag, "rate", res.Rate, "policy_source", res.Metadata.PolicySource)
	return &ApplyResult{
		Qualified:  true,
		CycleID:    cycle.ID,
		CycleTag:   tag,
		Entry:      &entry,
		Resolution: &res,
	}, nil
}

// RemoveTransaction is the void/delete trigger: the transaction is voided,
// its entries dropped and every affected cycle recomputed.
func (e *Engine) RemoveTransaction(ctx context.Context, transactionID string) error {
	if err := e.store.VoidTransaction(ctx, transactionID); err != nil {
		return fmt.Errorf("void transaction %s: %w", transactionID, err)
	}
	return e.dropEntries(ctx, transactionID)
}

func (e *Engine) dropEntries(ctx context.Context, transactionID string) error {
	cycleIDs, err := e.store.DeleteEntriesByTransaction(ctx, transactionID)
	if err != nil {
		return fmt.Errorf("drop entries for %s: %w", transactionID, err)
	}
	seen := make(map[string]struct{}, len(cycleIDs))
	for _, id := range cycleIDs {
		if _, done := seen[id]; done {
			continue
		}
		seen[id] = struct{}{}
		if err := e.Recompute(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// CycleStats is a cycle row plus fields derived for reporting.
type CycleStats struct {
	domain.Cycle
	RemainingBudget   *float64 `json:"remainingBudget,omitempty"`
	MinSpendRemaining *float64 `json:"minSpendRemaining,omitempty"`
}

// GetCycleStats resolves refOrTag — either a canonical "YYYY-MM" tag or a
// date ("2006-01-02" or RFC 3339) inside the wanted cycle — and returns that
// cycle with derived budget fields. Legacy-tagged rows are found through the
// fallback lookup.
func (e *Engine) GetCycleStats(ctx context.Context, accountID, refOrTag string) (*CycleStats, error) {
	account, err := e.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("load account %s: %w", accountID, err)
	}
	if account == nil {
		return nil, domain.ErrAccountNotFound
	}
	program := cashback.ParseProgram(account.CashbackConfig)

	var tag, legacyTag string
	if t, ok := cashback.ParseTag(refOrTag); ok {
		tag = refOrTag
		legacyTag = cashback.LegacyTag(t)
	} else {
		ref, err := parseRefDate(refOrTag)
		if err != nil {
			return nil, err
		}
		var hasCycle bool
		tag, legacyTag, hasCycle = cashback.TagForDate(program, ref)
		if !hasCycle {
			return nil, domain.ErrCycleNotFound
		}
	}

	cycle, err := e.store.GetCycleByTag(ctx, accountID, tag)
	if err != nil {
		return nil, fmt.Errorf("lookup cycle %s/%s: %w", accountID, tag, err)
	}
	if cycle == nil && legacyTag != "" {
		cycle, err = e.store.GetCycleByTag(ctx, accountID, legacyTag)
		if err != nil {
			return nil, fmt.Errorf("lookup cycle %s/%s: %w", accountID, legacyTag, err)
		}
	}
	if cycle == nil {
		return nil, domain.ErrCycleNotFound
	}
	return deriveStats(*cycle), nil
}

func (e *Engine) ListCycles(ctx context.Context, accountID string) ([]CycleStats, error) {
	cycles, err := e.store.ListCycles(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("list cycles for %s: %w", accountID, err)
	}
	stats := make([]CycleStats, 0, len(cycles))
	for _, c := range cycles {
		stats = append(stats, *deriveStats(c))
	}
	return stats, nil
}

// Simulate resolves the rate a hypothetical spend would earn right now.
// Read-only: nothing is persisted.
func (e *Engine) Simulate(ctx context.Context, accountID string, amount float64, categoryID string) (*cashback.Resolution, error) {
	account, err := e.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("load account %s: %w", accountID, err)
	}
	if account == nil {
		return nil, domain.ErrAccountNotFound
	}
	if !account.IsCreditCard() {
		return nil, domain.ErrNotCreditCard
	}
	program := cashback.ParseProgram(account.CashbackConfig)

	var spent float64
	if tag, _, ok := cashback.TagForDate(program, time.Now()); ok {
		cycle, err := e.store.GetCycleByTag(ctx, accountID, tag)
		if err != nil {
			return nil, fmt.Errorf("lookup current cycle: %w", err)
		}
		if cycle != nil {
			spent = cycle.SpentAmount
		}
	}
	res := cashback.Resolve(program, categoryID, math.Abs(amount), spent)
	return &res, nil
}

func deriveStats(c domain.Cycle) *CycleStats {
	stats := &CycleStats{Cycle: c}
	if c.MaxBudget != nil {
		remaining := math.Max(0, *c.MaxBudget-c.RealAwarded-c.VirtualProfit)
		stats.RemainingBudget = &remaining
	}
	if c.MinSpendTarget != nil {
		remaining := math.Max(0, *c.MinSpendTarget-c.SpentAmount)
		stats.MinSpendRemaining = &remaining
	}
	return stats
}

func parseRefDate(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("ref %q is neither a YYYY-MM tag nor a date", s)
}
