// internal/engine/registry.go
package engine

import (
	"cashledger/internal/cashback"
	"cashledger/internal/domain"
	"cashledger/internal/metrics"
	"cashledger/internal/storage"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
)

// ensureCycle is the idempotent get-or-create for the (accountID, tag) cycle
// row. Lookup order: canonical tag, then the legacy fallback tag (rows
// created before the tag migration resolve without touching them), then a
// fresh row seeded from the parsed program. A unique-constraint conflict
// means a concurrent creator won; the winner's row is re-fetched and
// returned, so two simultaneous calls both land on the same cycle.
func (e *Engine) ensureCycle(ctx context.Context, accountID, tag string, program cashback.Program, fallbackTag string) (*domain.Cycle, error) {
	cycle, err := e.store.GetCycleByTag(ctx, accountID, tag)
	if err != nil {
		return nil, fmt.Errorf("lookup cycle %s/%s: %w", accountID, tag, err)
	}
	if cycle != nil {
		return cycle, nil
	}

	if fallbackTag != "" && fallbackTag != tag {
		cycle, err = e.store.GetCycleByTag(ctx, accountID, fallbackTag)
		if err != nil {
			return nil, fmt.Errorf("lookup cycle by legacy tag %s/%s: %w", accountID, fallbackTag, err)
		}
		if cycle != nil {
			slog.Debug("cycle resolved via legacy tag", "account_id", accountID, "tag", tag, "legacy_tag", fallbackTag)
			return cycle, nil
		}
	}

	now := time.Now()
	fresh := domain.Cycle{
		ID:             uuid.NewString(),
		AccountID:      accountID,
		CycleTag:       tag,
		MaxBudget:      program.MaxBudget,
		MinSpendTarget: program.MinSpendTarget,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	err = e.store.CreateCycle(ctx, fresh)
	if err == nil {
		return &fresh, nil
	}
	if !errors.Is(err, storage.ErrConflict) {
		return nil, fmt.Errorf("create cycle %s/%s: %w", accountID, tag, err)
	}

	// Lost the creation race; the winner's row must exist, so only transient
	// store failures should make the re-fetch come up empty.
	metrics.CycleCreateConflicts.Inc()
	slog.Debug("cycle creation conflicted, fetching winner", "account_id", accountID, "tag", tag)

	backoff := retry.WithMaxRetries(3, retry.NewConstant(50*time.Millisecond))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		cycle, err = e.store.GetCycleByTag(ctx, accountID, tag)
		if err != nil {
			return retry.RetryableError(err)
		}
		if cycle == nil {
			return retry.RetryableError(fmt.Errorf("cycle %s/%s missing after conflict", accountID, tag))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("re-fetch cycle %s/%s after conflict: %w", accountID, tag, err)
	}
	return cycle, nil
}
