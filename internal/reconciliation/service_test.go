package reconciliation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/bazaarhq/bazaar-backend/internal/commission"
	"github.com/bazaarhq/bazaar-backend/internal/ledger"
	"github.com/bazaarhq/bazaar-backend/internal/orders"
	"github.com/bazaarhq/bazaar-backend/internal/sellers"
	"github.com/bazaarhq/bazaar-backend/internal/settlement"
	"github.com/bazaarhq/bazaar-backend/pkg/config"
	"github.com/bazaarhq/bazaar-backend/pkg/db"
	"github.com/bazaarhq/bazaar-backend/pkg/db/dbtest"
	"github.com/bazaarhq/bazaar-backend/pkg/db/models"
	"github.com/bazaarhq/bazaar-backend/pkg/enums"
	pkgerrors "github.com/bazaarhq/bazaar-backend/pkg/errors"
	"github.com/bazaarhq/bazaar-backend/pkg/logger"
	"github.com/bazaarhq/bazaar-backend/pkg/metrics"
	"github.com/bazaarhq/bazaar-backend/pkg/outbox"
	"github.com/bazaarhq/bazaar-backend/pkg/payments"
	"github.com/bazaarhq/bazaar-backend/pkg/types"
)

type stubCollector struct {
	mu   sync.Mutex
	keys []string
	err  error
}

func (c *stubCollector) Provider() enums.PaymentProvider { return enums.PaymentProviderStripe }

func (c *stubCollector) Charge(_ context.Context, req payments.ChargeRequest) (*payments.ChargeResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keys = append(c.keys, req.IdempotencyKey)
	if c.err != nil {
		return nil, c.err
	}
	return &payments.ChargeResult{Ref: "pi_test", Status: "succeeded"}, nil
}

type stubTransferer struct {
	calls int
	err   error
}

func (t *stubTransferer) Transfer(_ context.Context, req payments.TransferRequest) (*payments.TransferResult, error) {
	t.calls++
	if t.err != nil {
		return nil, t.err
	}
	return &payments.TransferResult{Ref: "tr_test", Status: "paid"}, nil
}

type openLocker struct{}

func (openLocker) Acquire(context.Context, uuid.UUID) (func(), error) { return func() {}, nil }

type fixture struct {
	conn       *gorm.DB
	svc        *service
	repo       Repository
	exec       *settlement.Executor
	orders     orders.Service
	sellers    sellers.Service
	collector  *stubCollector
	transferer *stubTransferer
	registry   *prometheus.Registry
	clock      time.Time
}

func newFixture(t *testing.T, cfg config.ReconciliationConfig) *fixture {
	t.Helper()
	conn := dbtest.Open(t)
	client := db.Wrap(conn)
	emitter := outbox.NewService(outbox.NewRepository(conn), logger.Nop())
	registry := prometheus.NewRegistry()
	m := metrics.NewSettlementMetrics(registry)

	orderSvc, err := orders.NewService(orders.NewRepository(conn), client, emitter, logger.Nop())
	require.NoError(t, err)
	sellerSvc, err := sellers.NewService(sellers.NewRepository(conn), nil, logger.Nop())
	require.NoError(t, err)
	calc, err := commission.NewCalculator(decimal.RequireFromString("0.10"))
	require.NoError(t, err)

	f := &fixture{
		conn:       conn,
		repo:       NewRepository(conn),
		orders:     orderSvc,
		sellers:    sellerSvc,
		collector:  &stubCollector{},
		transferer: &stubTransferer{},
		registry:   registry,
		clock:      time.Now().UTC().Add(time.Second),
	}
	alerter := settlement.NewAlerter(emitter, m, logger.Nop())
	payoutLedger, err := ledger.NewService(ledger.NewRepository(conn))
	require.NoError(t, err)
	exec, err := settlement.NewExecutor(settlement.Deps{
		Repo:         settlement.NewRepository(conn),
		Orders:       orderSvc,
		Destinations: sellerSvc,
		Calculator:   calc,
		Collector:    f.collector,
		Transferer:   f.transferer,
		Queue:        f.repo,
		Ledger:       payoutLedger,
		Tx:           client,
		Locker:       openLocker{},
		Alerter:      alerter,
		Outbox:       emitter,
		Metrics:      m,
		Logger:       logger.Nop(),
		Config:       config.SettlementConfig{CallTimeout: time.Second, TransferMaxAttempts: 1},
	})
	require.NoError(t, err)
	f.exec = exec

	svc, err := NewService(ServiceParams{
		Repo:    f.repo,
		Driver:  exec,
		Tx:      client,
		Alerter: alerter,
		Metrics: m,
		Logger:  logger.Nop(),
		Config:  cfg,
	})
	require.NoError(t, err)
	f.svc = svc.(*service)
	f.svc.now = func() time.Time { return f.clock }
	return f
}

func (f *fixture) advance(d time.Duration) { f.clock = f.clock.Add(d) }

func (f *fixture) order(t *testing.T) *models.Order {
	t.Helper()
	order, err := f.orders.CreateOrder(context.Background(), orders.CreateOrderInput{
		BuyerID:     uuid.New(),
		SellerID:    uuid.New(),
		TotalAmount: decimal.RequireFromString("19.99"),
		Currency:    "usd",
		ShippingAddress: types.ShippingAddress{
			Name:       "Katherine Johnson",
			Line1:      "1 NASA Dr",
			City:       "Hampton",
			State:      "VA",
			PostalCode: "23666",
			Country:    "US",
		},
		PaymentMethod: "pm_card_visa",
	})
	require.NoError(t, err)
	return order
}

func (f *fixture) settle(t *testing.T, order *models.Order) *settlement.Result {
	t.Helper()
	ref, err := f.sellers.Resolve(context.Background(), order.SellerID)
	require.NoError(t, err)
	res, err := f.exec.Settle(context.Background(), settlement.SettleInput{OrderID: order.ID, Seller: ref})
	require.NoError(t, err)
	return res
}

func (f *fixture) items(t *testing.T) []models.ReconciliationItem {
	t.Helper()
	var items []models.ReconciliationItem
	require.NoError(t, f.conn.Order("created_at ASC").Find(&items).Error)
	return items
}

func (f *fixture) alerts(t *testing.T, reason enums.ReconciliationReason) float64 {
	t.Helper()
	families, err := f.registry.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != "bazaar_settlement_alerts_total" {
			continue
		}
		for _, metric := range family.GetMetric() {
			if hasLabel(metric, "reason", reason.String()) {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func (f *fixture) gauge(t *testing.T, reason enums.ReconciliationReason) float64 {
	t.Helper()
	families, err := f.registry.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != "bazaar_reconciliation_open_items" {
			continue
		}
		for _, metric := range family.GetMetric() {
			if hasLabel(metric, "reason", reason.String()) {
				return metric.GetGauge().GetValue()
			}
		}
	}
	return -1
}

func hasLabel(metric *dto.Metric, name, value string) bool {
	for _, label := range metric.GetLabel() {
		if label.GetName() == name && label.GetValue() == value {
			return true
		}
	}
	return false
}

func TestEnqueueKeepsOneOpenItemPerReason(t *testing.T) {
	f := newFixture(t, config.ReconciliationConfig{})
	ctx := context.Background()
	record := &models.SettlementRecord{ID: uuid.New(), OrderID: uuid.New()}

	require.NoError(t, f.repo.EnqueueTx(ctx, nil, record, enums.ReconciliationChargeUnknown, "timeout"))
	require.NoError(t, f.repo.EnqueueTx(ctx, nil, record, enums.ReconciliationChargeUnknown, "connection reset"))
	require.NoError(t, f.repo.EnqueueTx(ctx, nil, record, enums.ReconciliationTransferUnknown, ""))

	items := f.items(t)
	require.Len(t, items, 2)
	require.NotNil(t, items[0].LastError)
	assert.Equal(t, "connection reset", *items[0].LastError)

	counts, err := f.repo.CountOpenByReason(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[enums.ReconciliationChargeUnknown])
	assert.Equal(t, int64(1), counts[enums.ReconciliationTransferUnknown])
}

func TestProcessDueResolvesUnknownCharge(t *testing.T) {
	f := newFixture(t, config.ReconciliationConfig{})
	ctx := context.Background()
	order := f.order(t)
	_, err := f.sellers.RegisterPayoutAccount(ctx, order.SellerID, "acct_1SELLER")
	require.NoError(t, err)

	f.collector.err = payments.Unknown("timeout", "no response", context.DeadlineExceeded)
	res := f.settle(t, order)
	require.True(t, res.Pending)

	f.collector.err = nil
	summary, err := f.svc.ProcessDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, RunSummary{Processed: 1, Resolved: 1}, summary)

	items := f.items(t)
	require.Len(t, items, 1)
	assert.Equal(t, enums.ReconciliationStatusResolved, items[0].Status)
	require.NotNil(t, items[0].ResolutionNote)

	record, err := f.exec.Get(ctx, res.Record.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.SettlementCompleted, record.Outcome)
	assert.Equal(t, []string{record.IdempotencyKey, record.IdempotencyKey}, f.collector.keys)
	assert.Equal(t, float64(0), f.gauge(t, enums.ReconciliationChargeUnknown))
}

func TestProcessDueWaitsForPayoutDestination(t *testing.T) {
	f := newFixture(t, config.ReconciliationConfig{BaseBackoff: time.Minute})
	ctx := context.Background()
	order := f.order(t)

	res := f.settle(t, order)
	require.Equal(t, enums.SettlementChargeSucceededTransferPending, res.Outcome)

	summary, err := f.svc.ProcessDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Rescheduled)
	items := f.items(t)
	require.Len(t, items, 1)
	assert.Equal(t, 1, items[0].Attempts)
	assert.Equal(t, float64(1), f.gauge(t, enums.ReconciliationTransferPending))

	// not due yet
	summary, err = f.svc.ProcessDue(ctx)
	require.NoError(t, err)
	assert.Zero(t, summary.Processed)

	_, err = f.sellers.RegisterPayoutAccount(ctx, order.SellerID, "acct_1LATER")
	require.NoError(t, err)
	f.advance(2 * time.Minute)

	summary, err = f.svc.ProcessDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Resolved)

	items = f.items(t)
	assert.Equal(t, enums.ReconciliationStatusResolved, items[0].Status)
	require.NotNil(t, items[0].ResolvedTransferRef)
	assert.Equal(t, "tr_test", *items[0].ResolvedTransferRef)

	stored, err := f.orders.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusSettled, stored.Status)

	record, err := f.exec.Get(ctx, res.Record.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.SettlementChargeSucceededTransferPending, record.Outcome)
	assert.Nil(t, record.TransferRef)
	assert.Zero(t, record.TransferAttempts)

	var recovered int64
	require.NoError(t, f.conn.Model(&models.SettlementLedgerEntry{}).
		Where("settlement_id = ? AND entry_type = ?", record.ID, enums.LedgerPayoutRecovered).
		Count(&recovered).Error)
	assert.Equal(t, int64(1), recovered)
}

func TestProcessDueAbandonsAfterMaxAttempts(t *testing.T) {
	f := newFixture(t, config.ReconciliationConfig{MaxAttempts: 2, BaseBackoff: time.Minute})
	ctx := context.Background()
	order := f.order(t)
	_, err := f.sellers.RegisterPayoutAccount(ctx, order.SellerID, "acct_1SELLER")
	require.NoError(t, err)

	f.collector.err = payments.Unknown("api_connection_error", "connection reset", nil)
	f.settle(t, order)

	summary, err := f.svc.ProcessDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Rescheduled)

	f.advance(time.Hour)
	summary, err = f.svc.ProcessDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Abandoned)

	items := f.items(t)
	require.Len(t, items, 1)
	assert.Equal(t, enums.ReconciliationStatusAbandoned, items[0].Status)

	var alerts int64
	require.NoError(t, f.conn.Model(&models.OutboxEvent{}).Where("event_type = ?", enums.EventSettlementAlert).Count(&alerts).Error)
	assert.Equal(t, int64(1), alerts)
	assert.Equal(t, float64(1), f.alerts(t, enums.ReconciliationChargeUnknown))
}

func TestHandleChargeEventClosesOpenItem(t *testing.T) {
	f := newFixture(t, config.ReconciliationConfig{})
	ctx := context.Background()
	order := f.order(t)
	_, err := f.sellers.RegisterPayoutAccount(ctx, order.SellerID, "acct_1SELLER")
	require.NoError(t, err)

	f.collector.err = payments.Unknown("processing", "payment intent processing", nil)
	res := f.settle(t, order)

	out, err := f.svc.HandleChargeEvent(ctx, ChargeEvent{SettlementID: res.Record.ID, Succeeded: true, ChargeRef: "pi_webhook"})
	require.NoError(t, err)
	assert.Equal(t, enums.SettlementCompleted, out.Outcome)
	assert.Equal(t, 1, f.transferer.calls)

	items := f.items(t)
	require.Len(t, items, 1)
	assert.Equal(t, enums.ReconciliationStatusResolved, items[0].Status)

	// a redelivered event is harmless
	again, err := f.svc.HandleChargeEvent(ctx, ChargeEvent{SettlementID: res.Record.ID, Succeeded: true, ChargeRef: "pi_webhook"})
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	assert.Equal(t, 1, f.transferer.calls)

	_, err = f.svc.HandleChargeEvent(ctx, ChargeEvent{})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestManualResolve(t *testing.T) {
	f := newFixture(t, config.ReconciliationConfig{})
	ctx := context.Background()
	record := &models.SettlementRecord{ID: uuid.New(), OrderID: uuid.New()}
	require.NoError(t, f.repo.EnqueueTx(ctx, nil, record, enums.ReconciliationTransferFailed, "account closed"))
	item := f.items(t)[0]

	_, err := f.svc.Resolve(ctx, item.ID, "  ")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	resolved, err := f.svc.Resolve(ctx, item.ID, "paid by wire")
	require.NoError(t, err)
	assert.Equal(t, enums.ReconciliationStatusResolved, resolved.Status)
	require.NotNil(t, resolved.ResolutionNote)
	assert.Equal(t, "paid by wire", *resolved.ResolutionNote)

	_, err = f.svc.Resolve(ctx, item.ID, "again")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))

	_, err = f.svc.Resolve(ctx, uuid.New(), "missing")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestListOpenFiltersByReason(t *testing.T) {
	f := newFixture(t, config.ReconciliationConfig{})
	ctx := context.Background()
	record := &models.SettlementRecord{ID: uuid.New(), OrderID: uuid.New()}
	require.NoError(t, f.repo.EnqueueTx(ctx, nil, record, enums.ReconciliationTransferFailed, ""))
	require.NoError(t, f.repo.EnqueueTx(ctx, nil, record, enums.ReconciliationTransferUnknown, ""))

	all, err := f.svc.ListOpen(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	failed, err := f.svc.ListOpen(ctx, "transfer_failed", 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, enums.ReconciliationTransferFailed, failed[0].Reason)

	_, err = f.svc.ListOpen(ctx, "bogus", 10)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	s := &service{cfg: config.ReconciliationConfig{BaseBackoff: time.Minute}}
	assert.Equal(t, time.Minute, s.backoff(1))
	assert.Equal(t, 4*time.Minute, s.backoff(3))
	assert.Equal(t, 128*time.Minute, s.backoff(8))
	assert.Equal(t, maxBackoff, s.backoff(20))
}
