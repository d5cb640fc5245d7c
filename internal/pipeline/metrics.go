package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/linnemanlabs/sift/internal/notify/webhook"
)

// Metrics holds Prometheus metrics for the pipeline subsystem.
type Metrics struct {
	SignalsIngested  *prometheus.CounterVec
	SignalsDuplicate *prometheus.CounterVec
	StageTransitions *prometheus.CounterVec
	BatchDuration    *prometheus.HistogramVec
	AlertsTotal      *prometheus.CounterVec
	AlertDuration    prometheus.Histogram
	AlertAttempts    prometheus.Histogram
}

// NewMetrics registers and returns pipeline metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SignalsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sift_signals_ingested_total",
			Help: "Total signals accepted for processing by namespace.",
		}, []string{"namespace"}),
		SignalsDuplicate: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sift_signals_duplicate_total",
			Help: "Total signals rejected by the dedup gate by namespace.",
		}, []string{"namespace"}),
		StageTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sift_stage_transitions_total",
			Help: "Total stage transitions by resulting stage.",
		}, []string{"stage"}),
		BatchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sift_batch_duration_seconds",
			Help:    "Duration of batch runs in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms .. ~20s
		}, []string{"namespace"}),
		AlertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sift_alert_deliveries_total",
			Help: "Total alert delivery attempts by outcome.",
		}, []string{"outcome"}),
		AlertDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sift_alert_delivery_duration_seconds",
			Help:    "Duration of alert deliveries including retries.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms .. ~25s
		}),
		AlertAttempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sift_alert_delivery_attempts",
			Help:    "HTTP attempts per alert delivery.",
			Buckets: prometheus.LinearBuckets(0, 1, 6), // 0 .. 5
		}),
	}

	reg.MustRegister(
		m.SignalsIngested,
		m.SignalsDuplicate,
		m.StageTransitions,
		m.BatchDuration,
		m.AlertsTotal,
		m.AlertDuration,
		m.AlertAttempts,
	)

	return m
}

// WebhookHooks returns delivery hooks that feed the alert metrics.
func (m *Metrics) WebhookHooks() webhook.Hooks {
	return webhook.Hooks{
		OnDelivery: func(outcome string, attempts int, seconds float64) {
			m.AlertsTotal.WithLabelValues(outcome).Inc()
			m.AlertDuration.Observe(seconds)
			m.AlertAttempts.Observe(float64(attempts))
		},
	}
}
