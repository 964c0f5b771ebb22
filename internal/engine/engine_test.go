// internal/engine/engine_test.go
package engine

import (
	"cashledger/internal/domain"
	"cashledger/internal/storage/memory"
	"context"
	"encoding/json"
	"testing"
	"time"
)

const flatMonthlyConfig = `{"program": {"default_rate": 0.01, "cycle_type": "calendar_month"}}`

func newTestEngine(t *testing.T, accountType domain.AccountType, config string) (*Engine, *memory.Store, domain.Account) {
	t.Helper()
	store := memory.NewStore()
	acc := domain.Account{
		ID:        "acc-1",
		Name:      "Test Card",
		Type:      accountType,
		CreatedAt: time.Now(),
	}
	if config != "" {
		acc.CashbackConfig = json.RawMessage(config)
	}
	if err := store.CreateAccount(context.Background(), acc); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	return New(store), store, acc
}

func expense(id string, amount float64, day int) domain.Transaction {
	return domain.Transaction{
		ID:         id,
		AccountID:  "acc-1",
		Type:       domain.TxnExpense,
		Amount:     amount,
		OccurredAt: time.Date(2024, time.November, day, 10, 0, 0, 0, time.UTC),
	}
}

func TestApplyTransactionCreatesCycleAndEntry(t *testing.T) {
	eng, store, _ := newTestEngine(t, domain.AccountCreditCard, flatMonthlyConfig)
	ctx := context.Background()

	result, err := eng.ApplyTransaction(ctx, expense("t1", 100000, 5))
	if err != nil {
		t.Fatalf("ApplyTransaction: %v", err)
	}
	if !result.Qualified {
		t.Fatal("expected transaction to qualify")
	}
	if result.CycleTag != "2024-11" {
		t.Errorf("CycleTag = %q, want 2024-11", result.CycleTag)
	}
	if result.Entry == nil || result.Entry.Amount != 1000 {
		t.Fatalf("entry = %+v, want virtual amount 1000", result.Entry)
	}

	cycle, err := store.GetCycle(ctx, result.CycleID)
	if err != nil || cycle == nil {
		t.Fatalf("GetCycle: %v, %v", cycle, err)
	}
	if cycle.SpentAmount != 100000 {
		t.Errorf("SpentAmount = %v, want 100000", cycle.SpentAmount)
	}
	if cycle.VirtualProfit != 1000 {
		t.Errorf("VirtualProfit = %v, want 1000", cycle.VirtualProfit)
	}
	if cycle.OverflowLoss != 0 {
		t.Errorf("OverflowLoss = %v, want 0", cycle.OverflowLoss)
	}
}

func TestApplyTransactionNonQualifying(t *testing.T) {
	tests := []struct {
		name        string
		accountType domain.AccountType
		config      string
		txn         domain.Transaction
	}{
		{"income on credit card", domain.AccountCreditCard, flatMonthlyConfig,
			domain.Transaction{ID: "t1", AccountID: "acc-1", Type: domain.TxnIncome, Amount: 500, OccurredAt: time.Now()}},
		{"expense on cash account", domain.AccountCash, "",
			domain.Transaction{ID: "t1", AccountID: "acc-1", Type: domain.TxnExpense, Amount: 500, OccurredAt: time.Now()}},
		{"card without cycle config", domain.AccountCreditCard, `{"rate": 0.01}`,
			domain.Transaction{ID: "t1", AccountID: "acc-1", Type: domain.TxnExpense, Amount: 500, OccurredAt: time.Now()}},
		{"excluded note", domain.AccountCreditCard, flatMonthlyConfig,
			domain.Transaction{ID: "t1", AccountID: "acc-1", Type: domain.TxnExpense, Amount: 500, Note: "Opening balance import", OccurredAt: time.Now()}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng, store, _ := newTestEngine(t, tt.accountType, tt.config)
			result, err := eng.ApplyTransaction(context.Background(), tt.txn)
			if err != nil {
				t.Fatalf("ApplyTransaction: %v", err)
			}
			if result.Qualified {
				t.Error("expected transaction not to qualify")
			}
			entry, err := store.GetEntryByTransaction(context.Background(), tt.txn.ID)
			if err != nil || entry != nil {
				t.Errorf("entry = %v (err %v), want none", entry, err)
			}
		})
	}
}

func TestApplyTransactionUnknownAccount(t *testing.T) {
	eng, _, _ := newTestEngine(t, domain.AccountCreditCard, flatMonthlyConfig)
	txn := expense("t1", 100, 5)
	txn.AccountID = "missing"
	if _, err := eng.ApplyTransaction(context.Background(), txn); err != domain.ErrAccountNotFound {
		t.Errorf("err = %v, want ErrAccountNotFound", err)
	}
}

func TestApplyTransactionRequalification(t *testing.T) {
	eng, store, _ := newTestEngine(t, domain.AccountCreditCard, flatMonthlyConfig)
	ctx := context.Background()

	result, err := eng.ApplyTransaction(ctx, expense("t1", 100000, 5))
	if err != nil {
		t.Fatalf("ApplyTransaction: %v", err)
	}
	cycleID := result.CycleID

	// Edited into an income: the entry goes away and the cycle deflates.
	edited := expense("t1", 100000, 5)
	edited.Type = domain.TxnIncome
	if _, err := eng.ApplyTransaction(ctx, edited); err != nil {
		t.Fatalf("re-apply: %v", err)
	}

	entry, _ := store.GetEntryByTransaction(ctx, "t1")
	if entry != nil {
		t.Error("entry should be removed when the transaction stops qualifying")
	}
	cycle, _ := store.GetCycle(ctx, cycleID)
	if cycle.SpentAmount != 0 || cycle.VirtualProfit != 0 {
		t.Errorf("cycle = spent %v / virtual %v, want both 0", cycle.SpentAmount, cycle.VirtualProfit)
	}
}

func TestApplyTransactionMovesBetweenCycles(t *testing.T) {
	eng, store, _ := newTestEngine(t, domain.AccountCreditCard, flatMonthlyConfig)
	ctx := context.Background()

	first, err := eng.ApplyTransaction(ctx, expense("t1", 100000, 5))
	if err != nil {
		t.Fatalf("ApplyTransaction: %v", err)
	}

	// Date edit pushes the transaction into December.
	moved := expense("t1", 100000, 5)
	moved.OccurredAt = time.Date(2024, time.December, 3, 10, 0, 0, 0, time.UTC)
	second, err := eng.ApplyTransaction(ctx, moved)
	if err != nil {
		t.Fatalf("re-apply: %v", err)
	}
	if second.CycleTag != "2024-12" {
		t.Errorf("CycleTag = %q, want 2024-12", second.CycleTag)
	}

	old, _ := store.GetCycle(ctx, first.CycleID)
	if old.SpentAmount != 0 || old.VirtualProfit != 0 {
		t.Errorf("old cycle = spent %v / virtual %v, want both 0 after move", old.SpentAmount, old.VirtualProfit)
	}
	fresh, _ := store.GetCycle(ctx, second.CycleID)
	if fresh.SpentAmount != 100000 {
		t.Errorf("new cycle spent = %v, want 100000", fresh.SpentAmount)
	}
}

func TestRemoveTransaction(t *testing.T) {
	eng, store, _ := newTestEngine(t, domain.AccountCreditCard, flatMonthlyConfig)
	ctx := context.Background()

	result, err := eng.ApplyTransaction(ctx, expense("t1", 100000, 5))
	if err != nil {
		t.Fatalf("ApplyTransaction: %v", err)
	}

	if err := eng.RemoveTransaction(ctx, "t1"); err != nil {
		t.Fatalf("RemoveTransaction: %v", err)
	}

	txn, _ := store.GetTransaction(ctx, "t1")
	if txn == nil || !txn.Voided {
		t.Error("transaction should be voided")
	}
	entry, _ := store.GetEntryByTransaction(ctx, "t1")
	if entry != nil {
		t.Error("entry should be deleted")
	}
	cycle, _ := store.GetCycle(ctx, result.CycleID)
	if cycle.SpentAmount != 0 || cycle.VirtualProfit != 0 {
		t.Errorf("cycle = spent %v / virtual %v, want both 0", cycle.SpentAmount, cycle.VirtualProfit)
	}
}

func TestGetCycleStats(t *testing.T) {
	eng, _, _ := newTestEngine(t, domain.AccountCreditCard,
		`{"program": {"default_rate": 0.01, "cycle_type": "calendar_month", "max_budget": 500000, "min_spend_target": 300000}}`)
	ctx := context.Background()

	if _, err := eng.ApplyTransaction(ctx, expense("t1", 100000, 5)); err != nil {
		t.Fatalf("ApplyTransaction: %v", err)
	}

	// By tag and by a date inside the cycle.
	for _, ref := range []string{"2024-11", "2024-11-20"} {
		stats, err := eng.GetCycleStats(ctx, "acc-1", ref)
		if err != nil {
			t.Fatalf("GetCycleStats(%q): %v", ref, err)
		}
		if stats.SpentAmount != 100000 {
			t.Errorf("ref %q: SpentAmount = %v, want 100000", ref, stats.SpentAmount)
		}
		if stats.RemainingBudget == nil || *stats.RemainingBudget != 499000 {
			t.Errorf("ref %q: RemainingBudget = %v, want 499000", ref, stats.RemainingBudget)
		}
		if stats.MinSpendRemaining == nil || *stats.MinSpendRemaining != 200000 {
			t.Errorf("ref %q: MinSpendRemaining = %v, want 200000", ref, stats.MinSpendRemaining)
		}
	}

	if _, err := eng.GetCycleStats(ctx, "acc-1", "2030-01"); err != domain.ErrCycleNotFound {
		t.Errorf("missing period err = %v, want ErrCycleNotFound", err)
	}
}

func TestListCycles(t *testing.T) {
	eng, _, _ := newTestEngine(t, domain.AccountCreditCard, flatMonthlyConfig)
	ctx := context.Background()

	if _, err := eng.ApplyTransaction(ctx, expense("t1", 100, 5)); err != nil {
		t.Fatal(err)
	}
	dec := expense("t2", 200, 5)
	dec.OccurredAt = time.Date(2024, time.December, 5, 0, 0, 0, 0, time.UTC)
	if _, err := eng.ApplyTransaction(ctx, dec); err != nil {
		t.Fatal(err)
	}

	cycles, err := eng.ListCycles(ctx, "acc-1")
	if err != nil {
		t.Fatalf("ListCycles: %v", err)
	}
	if len(cycles) != 2 {
		t.Fatalf("len(cycles) = %d, want 2", len(cycles))
	}
	if cycles[0].CycleTag != "2024-12" || cycles[1].CycleTag != "2024-11" {
		t.Errorf("cycle order = %s, %s; want 2024-12, 2024-11", cycles[0].CycleTag, cycles[1].CycleTag)
	}
}

func TestSimulate(t *testing.T) {
	eng, _, _ := newTestEngine(t, domain.AccountCreditCard, flatMonthlyConfig)
	ctx := context.Background()

	res, err := eng.Simulate(ctx, "acc-1", 250000, "")
	if err != nil {
		t.Fatalf("Simulate: %v", err)
	}
	if res.Rate != 0.01 {
		t.Errorf("Rate = %v, want 0.01", res.Rate)
	}
}

func TestSimulateRejectsNonCard(t *testing.T) {
	eng, _, _ := newTestEngine(t, domain.AccountCash, "")
	if _, err := eng.Simulate(context.Background(), "acc-1", 100, ""); err != domain.ErrNotCreditCard {
		t.Errorf("err = %v, want ErrNotCreditCard", err)
	}
}
