// Package payment provides Prometheus metrics for the checkout workflow.
package payment

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names as constants for consistency.
const (
	MetricCheckoutsCreated         = "checkouts_created_total"
	MetricReconciliations          = "payment_reconciliations_total"
	MetricWebhookSignatureFailures = "webhook_signature_failures_total"
	MetricAnomalies                = "payment_anomalies_total"
)

// Metrics contains Prometheus metrics for the payment domain.
// All operations are thread-safe.
type Metrics struct {
	checkoutsCreated         prometheus.Counter
	reconciliations          *prometheus.CounterVec
	webhookSignatureFailures prometheus.Counter
	anomalies                *prometheus.CounterVec
}

// NewMetrics creates a Metrics instance with all collectors initialized.
// The metrics are not registered; call Register to register them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		checkoutsCreated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: MetricCheckoutsCreated,
				Help: "Total number of hosted checkout sessions created",
			},
		),
		reconciliations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricReconciliations,
				Help: "Total number of applied terminal transitions by source and outcome",
			},
			[]string{"source", "outcome"},
		),
		webhookSignatureFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: MetricWebhookSignatureFailures,
				Help: "Total number of webhook deliveries rejected for a missing or invalid signature",
			},
		),
		anomalies: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricAnomalies,
				Help: "Total number of recorded reconciliation anomalies by kind",
			},
			[]string{"kind"},
		),
	}
}

// Register registers all metrics with the given registry.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.checkoutsCreated,
		m.reconciliations,
		m.webhookSignatureFailures,
		m.anomalies,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// CheckoutCreated increments the created-sessions counter.
func (m *Metrics) CheckoutCreated() {
	m.checkoutsCreated.Inc()
}

// ReconciliationApplied records an applied terminal transition.
func (m *Metrics) ReconciliationApplied(source Source, outcome Status) {
	m.reconciliations.WithLabelValues(string(source), string(outcome)).Inc()
}

// WebhookSignatureFailure records a rejected webhook delivery.
func (m *Metrics) WebhookSignatureFailure() {
	m.webhookSignatureFailures.Inc()
}

// AnomalyRecorded records a reconciliation anomaly.
func (m *Metrics) AnomalyRecorded(kind AnomalyKind) {
	m.anomalies.WithLabelValues(string(kind)).Inc()
}
