package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for a campaign run.
// All methods are safe to call on a nil *Metrics.
type Metrics struct {
	// Recipient outcomes
	RecipientsTotal *prometheus.CounterVec

	// Letter generation
	GenerationTotal       *prometheus.CounterVec
	GenerationErrorsTotal prometheus.Counter

	// Delivery
	SendDurationSeconds prometheus.Histogram
	LedgerErrorsTotal   prometheus.Counter
	QuotaDeferredTotal  *prometheus.CounterVec

	// Workers
	WorkersActive prometheus.Gauge

	// System
	StorageUsedBytes prometheus.Gauge

	registry *prometheus.Registry
}

// New creates a new Metrics instance with all metrics registered
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		RecipientsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "outreach_recipients_total",
				Help: "Recipients processed, by final status",
			},
			[]string{"status"},
		),
		GenerationTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "outreach_generation_total",
				Help: "Letters resolved, by source (cache, backend, fallback)",
			},
			[]string{"source"},
		),
		GenerationErrorsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "outreach_generation_errors_total",
				Help: "Letter generations that failed",
			},
		),
		SendDurationSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "outreach_send_duration_seconds",
				Help:    "Time spent handing a message to the transport",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
		),
		LedgerErrorsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "outreach_ledger_errors_total",
				Help: "Ledger writes that failed",
			},
		),
		QuotaDeferredTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "outreach_quota_deferred_total",
				Help: "Recipients deferred by the sending quota",
			},
			[]string{"level"},
		),
		WorkersActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "outreach_workers_active",
				Help: "Dispatch workers currently running",
			},
		),
		StorageUsedBytes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "outreach_storage_used_bytes",
				Help: "BoltDB file size in bytes",
			},
		),

		registry: reg,
	}

	reg.MustRegister(
		m.RecipientsTotal,
		m.GenerationTotal,
		m.GenerationErrorsTotal,
		m.SendDurationSeconds,
		m.LedgerErrorsTotal,
		m.QuotaDeferredTotal,
		m.WorkersActive,
		m.StorageUsedBytes,
	)

	return m
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// IncRecipient counts one recipient outcome
func (m *Metrics) IncRecipient(status string) {
	if m != nil {
		m.RecipientsTotal.WithLabelValues(status).Inc()
	}
}

// IncGeneration counts one resolved letter
func (m *Metrics) IncGeneration(source string) {
	if m != nil {
		m.GenerationTotal.WithLabelValues(source).Inc()
	}
}

// IncGenerationErrors counts one failed generation
func (m *Metrics) IncGenerationErrors() {
	if m != nil {
		m.GenerationErrorsTotal.Inc()
	}
}

// ObserveSend records how long a transport call took
func (m *Metrics) ObserveSend(d time.Duration) {
	if m != nil {
		m.SendDurationSeconds.Observe(d.Seconds())
	}
}

// IncLedgerErrors counts one failed ledger write
func (m *Metrics) IncLedgerErrors() {
	if m != nil {
		m.LedgerErrorsTotal.Inc()
	}
}

// IncQuotaDeferred counts one recipient deferred at the given quota level
func (m *Metrics) IncQuotaDeferred(level string) {
	if m != nil {
		m.QuotaDeferredTotal.WithLabelValues(level).Inc()
	}
}

// WorkerStarted increments the active worker gauge
func (m *Metrics) WorkerStarted() {
	if m != nil {
		m.WorkersActive.Inc()
	}
}

// WorkerStopped decrements the active worker gauge
func (m *Metrics) WorkerStopped() {
	if m != nil {
		m.WorkersActive.Dec()
	}
}

// SetStorageUsed records the BoltDB file size
func (m *Metrics) SetStorageUsed(bytes int64) {
	if m != nil {
		m.StorageUsedBytes.Set(float64(bytes))
	}
}
