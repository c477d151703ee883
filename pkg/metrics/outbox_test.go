package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestOutboxMetricsExport(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewOutboxMetrics(reg)
	m.IncPublished("settlement_completed")
	m.IncPublished("settlement_completed")
	m.IncRetried("order_created")
	m.IncDeadLettered("settlement_alert", "max_attempts")
	m.ObservePublish("bz-settlement-events", 40*time.Millisecond)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if got, err := counterValue(mfs, "bazaar_outbox_published_total", map[string]string{"event_type": "settlement_completed"}); err != nil || got != 2 {
		t.Fatalf("expected published=2, got %f (%v)", got, err)
	}
	if got, err := counterValue(mfs, "bazaar_outbox_retried_total", map[string]string{"event_type": "order_created"}); err != nil || got != 1 {
		t.Fatalf("expected retried=1, got %f (%v)", got, err)
	}
	if got, err := counterValue(mfs, "bazaar_outbox_dead_lettered_total", map[string]string{"reason": "max_attempts"}); err != nil || got != 1 {
		t.Fatalf("expected dead_lettered=1, got %f (%v)", got, err)
	}
	if got, err := histogramSum(mfs, "bazaar_outbox_publish_duration_seconds", map[string]string{"topic": "bz-settlement-events"}); err != nil || got <= 0 {
		t.Fatalf("expected publish latency recorded, got %f (%v)", got, err)
	}
}

func TestNilOutboxMetricsAreNoops(t *testing.T) {
	var m *OutboxMetrics
	m.IncPublished("x")
	m.IncRetried("x")
	m.IncDeadLettered("x", "y")
	m.ObservePublish("t", time.Second)

	unregistered := NewOutboxMetrics(nil)
	unregistered.IncPublished("x")
}
