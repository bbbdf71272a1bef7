package network

import (
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	prometheusChainRequests *prometheus.CounterVec
	prometheusChainDuration *prometheus.HistogramVec
	prometheusChainRetries  *prometheus.CounterVec

	// only init the metrics once
	prometheusMetricsInitOnce sync.Once
)

func initPrometheusMetrics() {
	prometheusMetricsInitOnce.Do(_initPrometheusMetrics)
}

func _initPrometheusMetrics() {
	prometheusChainRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ledger",
			Subsystem: "chain",
			Name:      "requests",
			Help:      "Number of chain backend requests",
		},
		[]string{
			"backend", // rest or rpc
			"op",      // list_unspent, submit, tx_status
			"outcome", // ok, transport, rejected, invalid
		},
	)
	prometheusChainDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ledger",
			Subsystem: "chain",
			Name:      "request_seconds",
			Help:      "Latency of chain backend requests",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"backend", "op"},
	)
	prometheusChainRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ledger",
			Subsystem: "chain",
			Name:      "read_retries",
			Help:      "Number of chain reads retried after a transport failure",
		},
		[]string{"op"},
	)
}

// outcomeLabel classifies err for the requests counter.
func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrRejectedByNetwork):
		return "rejected"
	case errors.Is(err, ErrTransport):
		return "transport"
	default:
		return "invalid"
	}
}
