package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/trademon/trademon-backend/pkg/enums"
)

// ReconciliationMetrics tracks payment reconciliation outcomes.
type ReconciliationMetrics struct {
	outcomes *prometheus.CounterVec
	duration prometheus.Histogram
	retries  prometheus.Counter
	failures prometheus.Counter
}

// NewReconciliationMetrics registers the reconciliation collectors. Every
// outcome label is pre-created so dashboards see zeros instead of gaps.
func NewReconciliationMetrics(reg prometheus.Registerer) *ReconciliationMetrics {
	if reg == nil {
		return &ReconciliationMetrics{}
	}
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reconciliation_outcomes_total",
		Help: "Payment notifications reconciled, by outcome.",
	}, []string{"outcome"})
	duration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "reconciliation_duration_seconds",
		Help:    "Time spent reconciling one payment notification, retries included.",
		Buckets: prometheus.DefBuckets,
	})
	retries := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "reconciliation_retries_total",
		Help: "Reconciliation units retried after a transient store failure.",
	})
	failures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "reconciliation_failures_total",
		Help: "Reconciliation units that ended in an error, timeouts included.",
	})
	reg.MustRegister(outcomes, duration, retries, failures)
	for _, outcome := range enums.ReconciliationOutcomes() {
		outcomes.WithLabelValues(outcome.String())
	}
	return &ReconciliationMetrics{outcomes: outcomes, duration: duration, retries: retries, failures: failures}
}

// Observe records one finished reconciliation.
func (m *ReconciliationMetrics) Observe(outcome enums.ReconciliationOutcome, elapsed time.Duration) {
	if m == nil || m.outcomes == nil {
		return
	}
	m.outcomes.WithLabelValues(outcome.String()).Inc()
	m.duration.Observe(elapsed.Seconds())
}

func (m *ReconciliationMetrics) IncRetry() {
	if m == nil || m.retries == nil {
		return
	}
	m.retries.Inc()
}

// ObserveFailure records a unit that returned an error. Its duration lands in
// the same histogram as finished units.
func (m *ReconciliationMetrics) ObserveFailure(elapsed time.Duration) {
	if m == nil || m.failures == nil {
		return
	}
	m.failures.Inc()
	m.duration.Observe(elapsed.Seconds())
}
