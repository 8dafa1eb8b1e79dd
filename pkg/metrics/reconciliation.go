package metrics

import "github.com/prometheus/client_golang/prometheus"

// ReconciliationMetrics counts provider notifications by outcome.
type ReconciliationMetrics struct {
	events *prometheus.CounterVec
}

// NewReconciliationMetrics registers the reconciliation counters.
func NewReconciliationMetrics(reg prometheus.Registerer) *ReconciliationMetrics {
	if reg == nil {
		return &ReconciliationMetrics{}
	}
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reconciliation_events_total",
		Help:      "Payment provider notifications by outcome.",
	}, []string{"outcome"})
	reg.MustRegister(events)
	return &ReconciliationMetrics{events: events}
}

// Inc counts one notification with the given outcome.
func (r *ReconciliationMetrics) Inc(outcome string) {
	if r == nil || r.events == nil {
		return
	}
	r.events.WithLabelValues(normalizeLabel(outcome)).Inc()
}
