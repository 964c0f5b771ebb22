// internal/engine/recompute.go
package engine

import (
	"cashledger/internal/cashback"
	"cashledger/internal/domain"
	"cashledger/internal/metrics"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"regexp"

	"github.com/google/uuid"
	"go.uber.org/multierr"
)

// excludedNotePattern marks transactions that never count toward spend or
// rewards: opening-balance rows and cycle rollover markers.
var excludedNotePattern = regexp.MustCompile(`(?i)opening\s*balance|roll[-\s]?over|carr(?:y|ied)[-\s]?over`)

// NoteExcluded reports whether a transaction note disqualifies it from
// cashback accounting.
func NoteExcluded(note string) bool {
	return excludedNotePattern.MatchString(note)
}

// qualifyingTypes are the transaction types that accrue cashback.
var qualifyingTypes = []domain.TransactionType{domain.TxnExpense, domain.TxnDebt}

// Recompute rebuilds one cycle's aggregates from the full set of
// contributing ledger rows. It is the deterministic source of truth: calling
// it twice against an unchanged ledger yields identical aggregates, and the
// cycle row receives exactly one write at the end, so a failure mid-way
// leaves the previous aggregates intact.
//
// Per-entry upsert failures inside the batch loop are logged and skipped;
// one bad entry must not block the other forty-nine. Callers may simply
// retry Recompute.
func (e *Engine) Recompute(ctx context.Context, cycleID string) error {
	if err := e.recompute(ctx, cycleID); err != nil {
		metrics.RecomputeTotal.WithLabelValues("error").Inc()
		return err
	}
	metrics.RecomputeTotal.WithLabelValues("ok").Inc()
	return nil
}

func (e *Engine) recompute(ctx context.Context, cycleID string) error {
	cycle, err := e.store.GetCycle(ctx, cycleID)
	if err != nil {
		return fmt.Errorf("load cycle %s: %w", cycleID, err)
	}
	if cycle == nil {
		return domain.ErrCycleNotFound
	}
	account, err := e.store.GetAccount(ctx, cycle.AccountID)
	if err != nil {
		return fmt.Errorf("load account %s: %w", cycle.AccountID, err)
	}
	if account == nil {
		return domain.ErrAccountNotFound
	}
	program := cashback.ParseProgram(account.CashbackConfig)

	txns, err := e.store.ListCycleTransactions(ctx, cycle.AccountID, cycle.CycleTag, qualifyingTypes)
	if err != nil {
		return fmt.Errorf("list cycle transactions: %w", err)
	}
	qualifying := txns[:0]
	for _, txn := range txns {
		if !NoteExcluded(txn.Note) {
			qualifying = append(qualifying, txn)
		}
	}

	var spent float64
	for _, txn := range qualifying {
		spent += math.Abs(txn.Amount)
	}
	metMinSpend := cycle.MinSpendTarget == nil || spent >= *cycle.MinSpendTarget

	// Every transaction is re-resolved against the settled cycle total, not
	// a running sum: recompute is a batch pass over a closed set, so all
	// rows share the same tier context.
	var upsertErrs error
	for _, txn := range qualifying {
		amount := math.Abs(txn.Amount)
		res := cashback.Resolve(program, txn.CategoryID, amount, spent)
		if res.Metadata.PolicySource == "" {
			return fmt.Errorf("policy resolution for transaction %s produced no metadata", txn.ID)
		}
		md, err := json.Marshal(res.Metadata)
		if err != nil {
			return fmt.Errorf("encode resolution metadata for %s: %w", txn.ID, err)
		}
		entry := domain.CashbackEntry{
			ID:            uuid.NewString(),
			CycleID:       cycle.ID,
			AccountID:     cycle.AccountID,
			TransactionID: txn.ID,
			Mode:          domain.EntryVirtual,
			Amount:        amount * res.Rate,
			Metadata:      md,
		}
		if err := e.store.UpsertEntry(ctx, entry); err != nil {
			metrics.EntryUpsertFailures.Inc()
			slog.Error("entry upsert failed during recompute, continuing",
				"cycle_id", cycle.ID, "transaction_id", txn.ID, "error", err)
			upsertErrs = multierr.Append(upsertErrs, err)
		}
	}
	if upsertErrs != nil {
		slog.Warn("cycle recomputed with partial entry failures",
			"cycle_id", cycle.ID, "failures", len(multierr.Errors(upsertErrs)))
	}

	entries, err := e.store.ListEntriesByCycle(ctx, cycle.ID)
	if err != nil {
		return fmt.Errorf("list cycle entries: %w", err)
	}

	totals, err := aggregateEntries(program, entries)
	if err != nil {
		return err
	}

	real, virtual, overflow, exhausted := applyBudget(cycle.MaxBudget, totals)

	cycle.SpentAmount = spent
	cycle.MetMinSpend = metMinSpend
	cycle.RealAwarded = real
	cycle.VirtualProfit = virtual
	cycle.OverflowLoss = overflow
	cycle.IsExhausted = exhausted
	if err := e.store.UpdateCycleAggregates(ctx, *cycle); err != nil {
		return fmt.Errorf("persist cycle aggregates: %w", err)
	}
	return nil
}

type entryTotals struct {
	real      float64 // mode=real entries that count toward budget
	virtual   float64 // virtual total after rule-level capping
	voluntary float64 // knowingly forfeited rewards
	ruleLoss  float64 // virtual reward evaporated by rule caps
}

// aggregateEntries partitions the cycle's entries and applies rule-level
// caps. Virtual entries attached to a rule are grouped by rule ID; each
// group contributes min(total, cap), the remainder is loss.
func aggregateEntries(program cashback.Program, entries []domain.CashbackEntry) (entryTotals, error) {
	caps := ruleCaps(program)

	var t entryTotals
	ruleGroups := make(map[string]float64)
	for _, e := range entries {
		switch e.Mode {
		case domain.EntryReal:
			if e.CountsToBudget {
				t.real += e.Amount
			}
		case domain.EntryVoluntary:
			t.voluntary += e.Amount
		case domain.EntryVirtual:
			md, err := decodeMetadata(e)
			if err != nil {
				return entryTotals{}, err
			}
			if md.RuleID != "" {
				ruleGroups[md.RuleID] += e.Amount
			} else {
				t.virtual += e.Amount
			}
		}
	}

	for ruleID, total := range ruleGroups {
		capped := total
		if limit, ok := caps[ruleID]; ok && limit != nil && total > *limit {
			capped = *limit
		}
		t.virtual += capped
		t.ruleLoss += total - capped
	}
	return t, nil
}

// applyBudget performs budget-level capping: real rewards consume the budget
// first, virtual profit only fits into what remains. A nil budget means
// unlimited, nothing is capped.
func applyBudget(maxBudget *float64, t entryTotals) (real, virtual, overflow float64, exhausted bool) {
	if maxBudget == nil {
		return t.real, t.virtual, t.voluntary + t.ruleLoss, false
	}
	budget := *maxBudget
	capForVirtual := budget - t.real
	if capForVirtual < 0 {
		capForVirtual = 0
	}
	virtual = math.Min(t.virtual, capForVirtual)
	virtualOverflow := t.virtual - virtual
	realOverflow := math.Max(0, t.real-budget)
	real = math.Min(t.real, budget)
	overflow = t.voluntary + t.ruleLoss + virtualOverflow + realOverflow
	exhausted = t.real >= budget || t.real+virtual >= budget
	return real, virtual, overflow, exhausted
}

func ruleCaps(program cashback.Program) map[string]*float64 {
	caps := make(map[string]*float64)
	for _, level := range program.Levels {
		for _, rule := range level.Rules {
			caps[rule.ID] = rule.MaxReward
		}
	}
	return caps
}

// decodeMetadata enforces the metadata invariant: a virtual entry without
// readable resolution metadata is a programming defect, not bad data.
func decodeMetadata(e domain.CashbackEntry) (cashback.Metadata, error) {
	var md cashback.Metadata
	if len(e.Metadata) == 0 {
		return md, fmt.Errorf("virtual entry %s has no resolution metadata", e.ID)
	}
	if err := json.Unmarshal(e.Metadata, &md); err != nil {
		return md, fmt.Errorf("decode resolution metadata for entry %s: %w", e.ID, err)
	}
	if md.PolicySource == "" {
		return md, fmt.Errorf("virtual entry %s has no policy source in metadata", e.ID)
	}
	return md, nil
}
