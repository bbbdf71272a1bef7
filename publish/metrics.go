package publish

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	prometheusPublishRuns          *prometheus.CounterVec
	prometheusPublishStageDuration *prometheus.HistogramVec
	prometheusPublishReleased      prometheus.Counter
	prometheusPublishFees          prometheus.Counter

	// only init the metrics once
	prometheusMetricsInitOnce sync.Once
)

func initPrometheusMetrics() {
	prometheusMetricsInitOnce.Do(_initPrometheusMetrics)
}

func _initPrometheusMetrics() {
	prometheusPublishRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "publish",
			Name:      "runs",
			Help:      "Number of finished pipeline runs",
		},
		[]string{
			"kind",  // data or split
			"stage", // terminal stage: done, or the stage that failed
		},
	)
	prometheusPublishStageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "publish",
			Name:      "stage_duration_seconds",
			Help:      "Time spent in each pipeline stage",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		},
		[]string{"stage"},
	)
	prometheusPublishReleased = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "publish",
			Name:      "released_inputs",
			Help:      "Number of reserved inputs released by compensation",
		},
	)
	prometheusPublishFees = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "publish",
			Name:      "fees_satoshis",
			Help:      "Total fees paid by broadcast transactions",
		},
	)
}
