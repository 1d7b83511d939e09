package prommetrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics implements quota.Metrics and completion.Metrics using Prometheus.
type Metrics struct {
	decisionsTotal             *prometheus.CounterVec
	dailyUsage                 prometheus.Gauge
	incrementsTotal            prometheus.Counter
	storageOpsDuration         *prometheus.HistogramVec
	storageOpsErrors           *prometheus.CounterVec
	circuitBreakerStateChanges *prometheus.CounterVec
	completionAttemptsTotal    *prometheus.CounterVec
	completionsTotal           *prometheus.CounterVec
	completionAttempts         prometheus.Histogram
	completionDuration         *prometheus.HistogramVec
}

// NewMetrics creates a new Prometheus metrics implementation.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		decisionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quota_decisions_total",
			Help:      "Total number of daily quota decisions.",
		}, []string{"permitted"}),

		dailyUsage: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "quota_daily_usage",
			Help:      "Last observed value of the daily usage counter.",
		}),

		incrementsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quota_increments_total",
			Help:      "Total number of daily usage increments.",
		}),

		storageOpsDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "storage_operation_duration_seconds",
			Help:      "Latency of storage operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),

		storageOpsErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_operation_errors_total",
			Help:      "Total number of storage operation errors.",
		}, []string{"operation"}),

		circuitBreakerStateChanges: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state_changes_total",
			Help:      "Total number of circuit breaker state changes.",
		}, []string{"state"}),

		completionAttemptsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "completion_attempts_total",
			Help:      "Total number of requests sent to the completion provider.",
		}, []string{"status"}),

		completionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "completions_total",
			Help:      "Total number of completions by outcome.",
		}, []string{"outcome"}),

		completionAttempts: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "completion_attempts",
			Help:      "Distribution of provider attempts per completion.",
			Buckets:   []float64{1, 2, 3, 4, 5},
		}),

		completionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "completion_duration_seconds",
			Help:      "Latency of completions including backoff.",
			Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 20, 40, 80},
		}, []string{"outcome"}),
	}
}

func (m *Metrics) RecordDecision(permitted bool, count int) {
	m.decisionsTotal.WithLabelValues(strconv.FormatBool(permitted)).Inc()
	m.dailyUsage.Set(float64(count))
}

func (m *Metrics) RecordIncrement(count int) {
	m.incrementsTotal.Inc()
	m.dailyUsage.Set(float64(count))
}

func (m *Metrics) RecordStorageOperation(operation string, duration time.Duration, err error) {
	m.storageOpsDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if err != nil {
		m.storageOpsErrors.WithLabelValues(operation).Inc()
	}
}

func (m *Metrics) RecordCircuitBreakerStateChange(state string) {
	m.circuitBreakerStateChanges.WithLabelValues(state).Inc()
}

func (m *Metrics) RecordAttempt(status string) {
	m.completionAttemptsTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) RecordCompletion(outcome string, attempts int, duration time.Duration) {
	m.completionsTotal.WithLabelValues(outcome).Inc()
	m.completionAttempts.Observe(float64(attempts))
	m.completionDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// DefaultMetrics returns a Metrics implementation using the default Prometheus registerer.
func DefaultMetrics(namespace string) *Metrics {
	return NewMetrics(prometheus.DefaultRegisterer, namespace)
}
