package settlement

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/bazaarhq/bazaar-backend/pkg/db/models"
	"github.com/bazaarhq/bazaar-backend/pkg/enums"
	"github.com/bazaarhq/bazaar-backend/pkg/logger"
	"github.com/bazaarhq/bazaar-backend/pkg/metrics"
	"github.com/bazaarhq/bazaar-backend/pkg/outbox"
	"github.com/bazaarhq/bazaar-backend/pkg/outbox/payloads"
)

// Alerter makes a stuck payout visible to operators three ways: an error log
// line, the alerts counter, and a settlement_alert event that the outbox
// publisher fans out to the alerts topic.
type Alerter struct {
	outbox  outbox.Emitter
	metrics *metrics.SettlementMetrics
	logg    *logger.Logger
	now     func() time.Time
}

func NewAlerter(emitter outbox.Emitter, m *metrics.SettlementMetrics, logg *logger.Logger) *Alerter {
	if logg == nil {
		logg = logger.Nop()
	}
	return &Alerter{outbox: emitter, metrics: m, logg: logg, now: time.Now}
}

// Alert is a queued alert whose log line and counter wait for the
// enclosing transaction to commit.
type Alert struct {
	event         payloads.SettlementAlertEvent
	attemptNumber int
}

// RaiseTx queues the alert event inside tx. abandoned marks alerts raised
// when reconciliation gives up on an item. Call Notify once tx commits.
func (a *Alerter) RaiseTx(ctx context.Context, tx *gorm.DB, record *models.SettlementRecord, reason enums.ReconciliationReason, attempts int, abandoned bool) (*Alert, error) {
	if a == nil || a.outbox == nil {
		return nil, errors.New("alerter not configured")
	}
	event := payloads.SettlementAlertEvent{
		SettlementID: record.ID,
		OrderID:      record.OrderID,
		SellerID:     record.SellerID,
		Reason:       reason,
		Outcome:      record.Outcome,
		SellerPayout: record.SellerPayout,
		Currency:     record.Currency,
		Attempts:     attempts,
		RaisedAt:     a.now().UTC(),
		Abandoned:    abandoned,
	}
	if record.LastError != nil {
		event.LastError = *record.LastError
	}
	if err := a.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventSettlementAlert,
		AggregateType: enums.AggregateSettlement,
		AggregateID:   record.ID,
		Data:          event,
	}); err != nil {
		return nil, err
	}
	return &Alert{event: event, attemptNumber: record.AttemptNumber}, nil
}

// Notify counts and logs a committed alert. A nil alert is ignored.
func (a *Alerter) Notify(ctx context.Context, alert *Alert) {
	if a == nil || alert == nil {
		return
	}
	ev := alert.event
	a.metrics.IncAlert(ev.Reason.String())
	logCtx := a.logg.WithSettlement(a.logg.WithOrderID(ctx, ev.OrderID.String()), ev.SettlementID.String(), alert.attemptNumber)
	logCtx = a.logg.WithFields(logCtx, map[string]any{
		"reason":        ev.Reason,
		"seller_id":     ev.SellerID.String(),
		"seller_payout": ev.SellerPayout.StringFixed(2),
		"abandoned":     ev.Abandoned,
	})
	a.logg.Error(logCtx, "settlement needs operator attention", errors.New(ev.LastError))
}
