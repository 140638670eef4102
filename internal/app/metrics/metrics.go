// Package metrics exposes Prometheus collectors for the settlement layer.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	settlementRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "settlement_layer",
			Subsystem: "runs",
			Name:      "total",
			Help:      "Total number of settlement runs by terminal status.",
		},
		[]string{"status"},
	)

	runDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "settlement_layer",
			Subsystem: "runs",
			Name:      "duration_seconds",
			Help:      "Duration of settlement runs.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~3.5m
		},
	)

	accountsProcessed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "settlement_layer",
			Subsystem: "runs",
			Name:      "accounts_processed_total",
			Help:      "Total number of accounts converted across all runs.",
		},
	)

	goldDistributed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "settlement_layer",
			Subsystem: "runs",
			Name:      "gold_grams_distributed_total",
			Help:      "Total gold grams credited by conversions.",
		},
	)

	bonusDistributed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "settlement_layer",
			Subsystem: "runs",
			Name:      "bonus_grams_distributed_total",
			Help:      "Total gold grams credited as referral bonuses.",
		},
	)

	snapshotRestores = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "settlement_layer",
			Subsystem: "snapshots",
			Name:      "restores_total",
			Help:      "Total number of snapshot restores (rollbacks).",
		},
	)

	ledgerSubmissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "settlement_layer",
			Subsystem: "ledger",
			Name:      "submissions_total",
			Help:      "Total number of ledger proof submissions by outcome.",
		},
		[]string{"outcome"},
	)

	ledgerCircuitState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "settlement_layer",
			Subsystem: "ledger",
			Name:      "circuit_state",
			Help:      "Ledger circuit breaker state (0=closed, 1=open, 2=half-open).",
		},
	)
)

func init() {
	Registry.MustRegister(
		settlementRuns,
		runDuration,
		accountsProcessed,
		goldDistributed,
		bonusDistributed,
		snapshotRestores,
		ledgerSubmissions,
		ledgerCircuitState,
	)
}

// ObserveRun records a finished settlement run.
func ObserveRun(status string, seconds float64, accounts int, gold, bonus float64) {
	settlementRuns.WithLabelValues(status).Inc()
	runDuration.Observe(seconds)
	accountsProcessed.Add(float64(accounts))
	goldDistributed.Add(gold)
	bonusDistributed.Add(bonus)
}

// ObserveRollback records a snapshot restore.
func ObserveRollback() {
	snapshotRestores.Inc()
}

// ObserveLedgerSubmission records a ledger submission outcome
// ("submitted" or "failed").
func ObserveLedgerSubmission(outcome string) {
	ledgerSubmissions.WithLabelValues(outcome).Inc()
}

// SetLedgerCircuitState records the current breaker state.
func SetLedgerCircuitState(state int) {
	ledgerCircuitState.Set(float64(state))
}

// Handler returns an HTTP handler serving the registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
