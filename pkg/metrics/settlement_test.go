package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettlementMetricsExport(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewSettlementMetrics(reg)

	m.IncOutcome("completed")
	m.IncOutcome("completed")
	m.IncAlert("transfer_failed")
	m.ObserveProviderCall("stripe", "charge", "ok", 120*time.Millisecond)
	m.SetQueueDepth("transfer_pending", 4)

	mfs, err := reg.Gather()
	require.NoError(t, err)

	got, err := counterValue(mfs, "bazaar_settlement_outcomes_total", map[string]string{"outcome": "completed"})
	require.NoError(t, err)
	assert.Equal(t, 2.0, got)

	got, err = counterValue(mfs, "bazaar_settlement_alerts_total", map[string]string{"reason": "transfer_failed"})
	require.NoError(t, err)
	assert.Equal(t, 1.0, got)

	sum, err := histogramSum(mfs, "bazaar_payment_provider_call_seconds", map[string]string{"operation": "charge"})
	require.NoError(t, err)
	assert.InDelta(t, 0.12, sum, 0.0001)

	gauge := findMetricFamily(mfs, "bazaar_reconciliation_open_items")
	require.NotNil(t, gauge)
	assert.Equal(t, 4.0, gauge.GetMetric()[0].GetGauge().GetValue())
}

func TestNilSettlementMetricsAreNoops(t *testing.T) {
	var m *SettlementMetrics
	m.IncOutcome("completed")
	m.IncAlert("transfer_failed")
	m.ObserveProviderCall("stripe", "transfer", "error", time.Second)
	m.SetQueueDepth("charge_unknown", 1)

	NewSettlementMetrics(nil).IncOutcome("completed")
}
