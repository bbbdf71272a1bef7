package ledger

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	prometheusLedgerOps        *prometheus.CounterVec
	prometheusLedgerErrors     *prometheus.CounterVec
	prometheusLedgerAuditFails prometheus.Counter
	prometheusLedgerCleaned    prometheus.Counter
	prometheusSweepReleased    prometheus.Counter
	prometheusSweepSpent       prometheus.Counter

	// only init the metrics once
	prometheusMetricsInitOnce sync.Once
)

func initPrometheusMetrics() {
	prometheusMetricsInitOnce.Do(_initPrometheusMetrics)
}

func _initPrometheusMetrics() {
	prometheusLedgerOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ledger",
			Name:      "operations",
			Help:      "Number of ledger mutations by operation",
		},
		[]string{"op"},
	)
	prometheusLedgerErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ledger",
			Name:      "errors",
			Help:      "Number of failed ledger mutations",
		},
		[]string{
			"op",    // operation raising the error
			"error", // error class
		},
	)
	prometheusLedgerAuditFails = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ledger",
			Name:      "audit_failures",
			Help:      "Number of audit entries the auditor failed to record",
		},
	)
	prometheusLedgerCleaned = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ledger",
			Name:      "cleaned_outputs",
			Help:      "Number of confirmed-spent outputs removed by retention cleanup",
		},
	)
	prometheusSweepReleased = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ledger",
			Name:      "sweep_released",
			Help:      "Number of stale reservations released by the sweeper",
		},
	)
	prometheusSweepSpent = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ledger",
			Name:      "sweep_marked_spent",
			Help:      "Number of stale reservations marked spent by the sweeper",
		},
	)
}
