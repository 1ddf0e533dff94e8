package perf

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace for all engine metrics.
const Namespace = "refinery"

// Metrics exports transformation performance to Prometheus.
type Metrics struct {
	RecordsProcessed   *prometheus.CounterVec
	RecordsFailed      *prometheus.CounterVec
	ProcessingDuration *prometheus.HistogramVec
	SessionsClosed     *prometheus.CounterVec
	PeakMemoryBytes    *prometheus.GaugeVec
}

// NewMetrics registers the metric family with the given registerer. A nil
// registerer falls back to the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		RecordsProcessed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "transform",
				Name:      "records_processed_total",
				Help:      "Total number of records processed per transformation",
			},
			[]string{"transformation"},
		),
		RecordsFailed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "transform",
				Name:      "records_failed_total",
				Help:      "Total number of records that failed per transformation",
			},
			[]string{"transformation"},
		),
		ProcessingDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Subsystem: "transform",
				Name:      "processing_duration_seconds",
				Help:      "Per-record processing time",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
			},
			[]string{"transformation"},
		),
		SessionsClosed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "transform",
				Name:      "sessions_closed_total",
				Help:      "Monitoring sessions merged into aggregate statistics",
			},
			[]string{"transformation"},
		),
		PeakMemoryBytes: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "transform",
				Name:      "peak_memory_bytes",
				Help:      "Peak observed memory per transformation",
			},
			[]string{"transformation"},
		),
	}
}

func (m *Metrics) observeRecord(transformationID string, d time.Duration, success bool) {
	if m == nil {
		return
	}
	m.RecordsProcessed.WithLabelValues(transformationID).Inc()
	if !success {
		m.RecordsFailed.WithLabelValues(transformationID).Inc()
	}
	m.ProcessingDuration.WithLabelValues(transformationID).Observe(d.Seconds())
}

func (m *Metrics) observeClose(transformationID string, peakMemory int64) {
	if m == nil {
		return
	}
	m.SessionsClosed.WithLabelValues(transformationID).Inc()
	if peakMemory > 0 {
		m.PeakMemoryBytes.WithLabelValues(transformationID).Set(float64(peakMemory))
	}
}
