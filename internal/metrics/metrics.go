// internal/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RecomputeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cashledger_cycle_recompute_total",
		Help: "Cycle recompute runs by result.",
	}, []string{"result"})

	CycleCreateConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cashledger_cycle_create_conflicts_total",
		Help: "Cycle creations lost to a concurrent creator and resolved by re-fetch.",
	})

	EntryUpsertFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cashledger_entry_upsert_failures_total",
		Help: "Cashback entry upserts that failed inside the recompute batch loop.",
	})
)
