package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the engine's Prometheus collectors
type Metrics struct {
	RunsStarted      prometheus.Counter
	RunsFinished     *prometheus.CounterVec
	RecordsProcessed prometheus.Counter
	RecordsFailed    prometheus.Counter
	RunDuration      *prometheus.HistogramVec
	StageDuration    *prometheus.HistogramVec
	InFlight         prometheus.Gauge
	StoreRetries     prometheus.Counter
}

// NewMetrics registers the engine collectors with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RunsStarted: f.NewCounter(prometheus.CounterOpts{
			Namespace: "plumb",
			Subsystem: "engine",
			Name:      "runs_started_total",
			Help:      "Pipeline executions accepted by the engine",
		}),
		RunsFinished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "plumb",
			Subsystem: "engine",
			Name:      "runs_finished_total",
			Help:      "Pipeline executions that reached a terminal status",
		}, []string{"status"}),
		RecordsProcessed: f.NewCounter(prometheus.CounterOpts{
			Namespace: "plumb",
			Subsystem: "engine",
			Name:      "records_processed_total",
			Help:      "Records delivered to the final stage output",
		}),
		RecordsFailed: f.NewCounter(prometheus.CounterOpts{
			Namespace: "plumb",
			Subsystem: "engine",
			Name:      "records_failed_total",
			Help:      "Records dropped by source schema validation",
		}),
		RunDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "plumb",
			Subsystem: "engine",
			Name:      "run_duration_seconds",
			Help:      "Wall time of pipeline executions",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		}, []string{"status"}),
		StageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "plumb",
			Subsystem: "engine",
			Name:      "stage_duration_seconds",
			Help:      "Wall time of individual transformation stages",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}, []string{"kind"}),
		InFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "plumb",
			Subsystem: "engine",
			Name:      "runs_in_flight",
			Help:      "Executions currently running",
		}),
		StoreRetries: f.NewCounter(prometheus.CounterOpts{
			Namespace: "plumb",
			Subsystem: "engine",
			Name:      "store_write_retries_total",
			Help:      "Execution store writes that needed another attempt",
		}),
	}
}
