package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SettlementMetrics tracks settlement outcomes, operator alerts, provider
// latency and the reconciliation backlog.
type SettlementMetrics struct {
	outcomes     *prometheus.CounterVec
	alerts       *prometheus.CounterVec
	providerCall *prometheus.HistogramVec
	queueDepth   *prometheus.GaugeVec
}

// NewSettlementMetrics registers the settlement metrics. A nil registerer
// yields a no-op recorder.
func NewSettlementMetrics(reg prometheus.Registerer) *SettlementMetrics {
	if reg == nil {
		return &SettlementMetrics{}
	}
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bazaar_settlement_outcomes_total",
		Help: "Settlement attempts by recorded outcome.",
	}, []string{"outcome"})
	alerts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bazaar_settlement_alerts_total",
		Help: "Operator alerts raised for settlements needing manual attention.",
	}, []string{"reason"})
	providerCall := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bazaar_payment_provider_call_seconds",
		Help:    "Latency of payment collector and payout calls.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20},
	}, []string{"provider", "operation", "result"})
	queueDepth := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "bazaar_reconciliation_open_items",
		Help: "Open reconciliation items by reason.",
	}, []string{"reason"})
	reg.MustRegister(outcomes, alerts, providerCall, queueDepth)
	return &SettlementMetrics{
		outcomes:     outcomes,
		alerts:       alerts,
		providerCall: providerCall,
		queueDepth:   queueDepth,
	}
}

// IncOutcome counts a settlement attempt reaching the given outcome.
func (m *SettlementMetrics) IncOutcome(outcome string) {
	if m == nil || m.outcomes == nil {
		return
	}
	m.outcomes.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// IncAlert counts an operator alert.
func (m *SettlementMetrics) IncAlert(reason string) {
	if m == nil || m.alerts == nil {
		return
	}
	m.alerts.WithLabelValues(normalizeLabel(reason)).Inc()
}

// ObserveProviderCall records how long a charge or transfer call took.
func (m *SettlementMetrics) ObserveProviderCall(provider, operation, result string, d time.Duration) {
	if m == nil || m.providerCall == nil {
		return
	}
	m.providerCall.WithLabelValues(normalizeLabel(provider), normalizeLabel(operation), normalizeLabel(result)).Observe(d.Seconds())
}

// SetQueueDepth publishes the number of open reconciliation items per reason.
func (m *SettlementMetrics) SetQueueDepth(reason string, open int64) {
	if m == nil || m.queueDepth == nil {
		return
	}
	m.queueDepth.WithLabelValues(normalizeLabel(reason)).Set(float64(open))
}
