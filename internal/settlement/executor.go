package settlement

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/bazaarhq/bazaar-backend/internal/commission"
	"github.com/bazaarhq/bazaar-backend/internal/ledger"
	"github.com/bazaarhq/bazaar-backend/internal/sellers"
	"github.com/bazaarhq/bazaar-backend/pkg/config"
	"github.com/bazaarhq/bazaar-backend/pkg/db"
	"github.com/bazaarhq/bazaar-backend/pkg/db/models"
	"github.com/bazaarhq/bazaar-backend/pkg/enums"
	pkgerrors "github.com/bazaarhq/bazaar-backend/pkg/errors"
	"github.com/bazaarhq/bazaar-backend/pkg/logger"
	"github.com/bazaarhq/bazaar-backend/pkg/metrics"
	"github.com/bazaarhq/bazaar-backend/pkg/outbox"
	"github.com/bazaarhq/bazaar-backend/pkg/outbox/payloads"
	"github.com/bazaarhq/bazaar-backend/pkg/payments"
)

const (
	orderAttemptConstraint = "ux_settlement_records_order_attempt"
	maxTransferBackoff     = 30 * time.Second
	defaultCallTimeout     = 20 * time.Second
)

var errStaleRecord = errors.New("settlement record moved concurrently")

// OrderStore is the slice of the orders service the executor drives.
type OrderStore interface {
	GetOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	TransitionTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, status enums.OrderStatus, reason string) (*models.Order, error)
}

// DestinationResolver looks up where a seller can be paid today.
type DestinationResolver interface {
	Resolve(ctx context.Context, sellerID uuid.UUID) (sellers.AccountRef, error)
}

// Queue records attempts that need follow-up outside the request.
type Queue interface {
	EnqueueTx(ctx context.Context, tx *gorm.DB, record *models.SettlementRecord, reason enums.ReconciliationReason, lastErr string) error
}

// PayoutLedger remembers payouts made after an attempt went terminal.
type PayoutLedger interface {
	RecordEntry(ctx context.Context, tx *gorm.DB, input ledger.RecordEntryInput) (*models.SettlementLedgerEntry, error)
	RecoveredPayout(ctx context.Context, settlementID uuid.UUID) (*models.SettlementLedgerEntry, error)
	ListBySettlement(ctx context.Context, settlementID uuid.UUID) ([]models.SettlementLedgerEntry, error)
}

// SettleInput starts or resumes settlement of one order. Seller must come
// from sellers.Service.Resolve.
type SettleInput struct {
	OrderID       uuid.UUID
	Seller        sellers.AccountRef
	PaymentMethod string
}

// Result reports where a settlement attempt ended up. Pending means the
// provider outcome is unknown and reconciliation will finish the attempt.
// Replayed means no provider was called because the work was already done.
// PayoutRecovered means the seller was paid after the attempt ended without
// a payout; TransferRef then comes from the settlement ledger.
type Result struct {
	Record          *models.SettlementRecord
	Outcome         enums.SettlementOutcome
	Pending         bool
	Replayed        bool
	PayoutRecovered bool
	DeclineCode     string
	DeclineMessage  string
	TransferRef     string
}

// Resolution is handed to a ResolveFunc once a queued item's question has
// an answer.
type Resolution struct {
	Note        string
	TransferRef *string
}

// ResolveFunc runs inside the transaction that records the answer, so a
// reconciliation item closes atomically with the state it was waiting on.
type ResolveFunc func(tx *gorm.DB, res Resolution) error

// ChargeOutcome is an asynchronous charge result reported by the provider.
type ChargeOutcome struct {
	Succeeded bool
	ChargeRef string
	Code      string
	Message   string
}

type Deps struct {
	Repo         Repository
	Orders       OrderStore
	Destinations DestinationResolver
	Calculator   *commission.Calculator
	Collector    payments.Collector
	Transferer   payments.Transferer
	Queue        Queue
	Ledger       PayoutLedger
	Tx           db.TxRunner
	Locker       Locker
	Alerter      *Alerter
	Outbox       outbox.Emitter
	Metrics      *metrics.SettlementMetrics
	Logger       *logger.Logger
	Config       config.SettlementConfig
}

// Executor charges the buyer the full order total and pays the seller their
// share, persisting every step before and after each provider call.
type Executor struct {
	repo         Repository
	orders       OrderStore
	destinations DestinationResolver
	calc         *commission.Calculator
	collector    payments.Collector
	transferer   payments.Transferer
	queue        Queue
	ledger       PayoutLedger
	tx           db.TxRunner
	locker       Locker
	alerter      *Alerter
	outbox       outbox.Emitter
	metrics      *metrics.SettlementMetrics
	logg         *logger.Logger
	cfg          config.SettlementConfig
	now          func() time.Time
	sleep        func(ctx context.Context, d time.Duration) error
}

func NewExecutor(d Deps) (*Executor, error) {
	switch {
	case d.Repo == nil:
		return nil, fmt.Errorf("settlement repository required")
	case d.Orders == nil:
		return nil, fmt.Errorf("order store required")
	case d.Destinations == nil:
		return nil, fmt.Errorf("destination resolver required")
	case d.Calculator == nil:
		return nil, fmt.Errorf("commission calculator required")
	case d.Collector == nil:
		return nil, fmt.Errorf("payment collector required")
	case d.Transferer == nil:
		return nil, fmt.Errorf("payout transferer required")
	case d.Queue == nil:
		return nil, fmt.Errorf("reconciliation queue required")
	case d.Ledger == nil:
		return nil, fmt.Errorf("payout ledger required")
	case d.Tx == nil:
		return nil, fmt.Errorf("transaction runner required")
	case d.Locker == nil:
		return nil, fmt.Errorf("settlement locker required")
	case d.Alerter == nil:
		return nil, fmt.Errorf("alerter required")
	case d.Outbox == nil:
		return nil, fmt.Errorf("outbox emitter required")
	}
	logg := d.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	cfg := d.Config
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaultCallTimeout
	}
	if cfg.TransferMaxAttempts <= 0 {
		cfg.TransferMaxAttempts = 1
	}
	return &Executor{
		repo:         d.Repo,
		orders:       d.Orders,
		destinations: d.Destinations,
		calc:         d.Calculator,
		collector:    d.Collector,
		transferer:   d.Transferer,
		queue:        d.Queue,
		ledger:       d.Ledger,
		tx:           d.Tx,
		locker:       d.Locker,
		alerter:      d.Alerter,
		outbox:       d.Outbox,
		metrics:      d.Metrics,
		logg:         logg,
		cfg:          cfg,
		now:          time.Now,
		sleep:        sleepCtx,
	}, nil
}

// ChargeIdempotencyKey is the collector key for one attempt of one order.
func ChargeIdempotencyKey(orderID uuid.UUID, attempt int) string {
	return fmt.Sprintf("settle_%s_%d", orderID, attempt)
}

// Settle runs one settlement attempt for the order. Repeating the call
// after the charge succeeded returns the stored record untouched; a
// declined latest attempt opens a new one.
func (e *Executor) Settle(ctx context.Context, in SettleInput) (*Result, error) {
	if in.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if in.Seller.SellerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "seller account required")
	}
	ctx = e.logg.WithOrderID(ctx, in.OrderID.String())

	release, err := e.acquire(ctx, in.OrderID)
	if err != nil {
		return nil, err
	}
	defer release()

	order, err := e.orders.GetOrder(ctx, in.OrderID)
	if err != nil {
		return nil, err
	}
	if order.SellerID != in.Seller.SellerID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "seller account does not match order")
	}

	latest, err := e.repo.LatestForOrder(ctx, order.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load latest settlement")
	}
	attempt := 1
	if latest != nil {
		switch {
		case !latest.Outcome.IsTerminal():
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "settlement attempt awaiting reconciliation").
				WithDetails(map[string]any{"settlement_id": latest.ID, "outcome": latest.Outcome})
		case latest.Outcome.ChargeSucceeded():
			return e.replay(ctx, latest)
		default:
			attempt = latest.AttemptNumber + 1
		}
	}

	split, err := e.calc.Split(order.TotalAmount)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "compute commission")
	}

	paymentMethod := strings.TrimSpace(in.PaymentMethod)
	if paymentMethod == "" {
		paymentMethod = order.PaymentMethod
	}

	now := e.now().UTC()
	record := &models.SettlementRecord{
		ID:                 uuid.New(),
		OrderID:            order.ID,
		SellerID:           order.SellerID,
		AttemptNumber:      attempt,
		CommissionRate:     split.Rate,
		TotalAmount:        split.Total,
		PlatformCommission: split.PlatformCommission,
		SellerPayout:       split.SellerPayout,
		Currency:           order.Currency,
		IdempotencyKey:     ChargeIdempotencyKey(order.ID, attempt),
		PaymentProvider:    e.collector.Provider(),
		PaymentMethodRef:   paymentMethod,
		Outcome:            enums.SettlementChargePending,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if in.Seller.HasDestination() {
		dest := in.Seller.PayoutDestination
		record.PayoutDestination = &dest
	}
	if err := e.repo.Create(ctx, record); err != nil {
		if db.IsUniqueViolation(err, orderAttemptConstraint) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "settlement attempt already exists")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist settlement record")
	}

	ctx = e.logg.WithSettlement(ctx, record.ID.String(), record.AttemptNumber)
	e.logg.Info(e.logg.WithFields(ctx, map[string]any{
		"total_amount":        record.TotalAmount.StringFixed(2),
		"platform_commission": record.PlatformCommission.StringFixed(2),
		"seller_payout":       record.SellerPayout.StringFixed(2),
	}), "settlement attempt recorded")

	return e.runCharge(ctx, order, record, nil)
}

// GetLatest returns the newest attempt for the order.
func (e *Executor) GetLatest(ctx context.Context, orderID uuid.UUID) (*models.SettlementRecord, error) {
	record, err := e.repo.LatestForOrder(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load latest settlement")
	}
	if record == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order has no settlement attempts")
	}
	return record, nil
}

func (e *Executor) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.SettlementRecord, error) {
	records, err := e.repo.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list settlements")
	}
	return records, nil
}

func (e *Executor) Get(ctx context.Context, settlementID uuid.UUID) (*models.SettlementRecord, error) {
	record, err := e.repo.FindByID(ctx, settlementID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "settlement not found")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load settlement")
	}
	return record, nil
}

// ReconcileCharge re-drives a charge whose outcome was never learned. The
// original idempotency key makes the collector return the first result
// instead of charging again.
func (e *Executor) ReconcileCharge(ctx context.Context, settlementID uuid.UUID, resolve ResolveFunc) (*Result, error) {
	return e.withRecord(ctx, settlementID, resolve, func(ctx context.Context, record *models.SettlementRecord) (*Result, error) {
		order, err := e.orders.GetOrder(ctx, record.OrderID)
		if err != nil {
			return nil, err
		}
		return e.runCharge(ctx, order, record, resolve)
	})
}

// ApplyChargeOutcome records a charge result delivered out of band, for
// example by a provider webhook.
func (e *Executor) ApplyChargeOutcome(ctx context.Context, settlementID uuid.UUID, outcome ChargeOutcome, resolve ResolveFunc) (*Result, error) {
	return e.withRecord(ctx, settlementID, resolve, func(ctx context.Context, record *models.SettlementRecord) (*Result, error) {
		order, err := e.orders.GetOrder(ctx, record.OrderID)
		if err != nil {
			return nil, err
		}
		if outcome.Succeeded {
			return e.chargeSucceeded(ctx, order, record, outcome.ChargeRef, resolve)
		}
		return e.chargeDeclined(ctx, order, record, payments.Declined(outcome.Code, outcome.Message, nil), resolve)
	})
}

// ReconcileTransfer retries the payout for an attempt whose charge already
// succeeded. Records in transfer_in_progress move to a terminal outcome.
// Records already terminal (no destination, or retries exhausted) keep
// their outcome; a late payout goes to the settlement ledger, settles the
// order and closes the item.
func (e *Executor) ReconcileTransfer(ctx context.Context, settlementID uuid.UUID, resolve ResolveFunc) (*Result, error) {
	ctx = e.logg.WithField(ctx, "settlement_id", settlementID.String())
	release, err := e.acquireForRecord(ctx, settlementID)
	if err != nil {
		return nil, err
	}
	defer release()

	record, err := e.Get(ctx, settlementID)
	if err != nil {
		return nil, err
	}
	ctx = e.logg.WithSettlement(e.logg.WithOrderID(ctx, record.OrderID.String()), record.ID.String(), record.AttemptNumber)

	switch record.Outcome {
	case enums.SettlementTransferInProgress:
		ref, err := e.callTransfer(ctx, record, deref(record.PayoutDestination))
		attempts := record.TransferAttempts + 1
		switch {
		case err == nil:
			return e.transferSucceeded(ctx, record, ref, attempts, resolve)
		case errors.Is(err, payments.ErrRejected):
			return e.transferFailed(ctx, record, err, attempts, resolve)
		default:
			return e.transferUnknown(ctx, record, err, attempts, false)
		}
	case enums.SettlementChargeSucceededTransferPending, enums.SettlementChargeSucceededTransferFailed:
		return e.recoverPayout(ctx, record, resolve)
	default:
		return e.resolveOnly(ctx, record, resolve)
	}
}

func (e *Executor) withRecord(ctx context.Context, settlementID uuid.UUID, resolve ResolveFunc, fn func(context.Context, *models.SettlementRecord) (*Result, error)) (*Result, error) {
	release, err := e.acquireForRecord(ctx, settlementID)
	if err != nil {
		return nil, err
	}
	defer release()

	record, err := e.Get(ctx, settlementID)
	if err != nil {
		return nil, err
	}
	ctx = e.logg.WithSettlement(e.logg.WithOrderID(ctx, record.OrderID.String()), record.ID.String(), record.AttemptNumber)
	if record.Outcome != enums.SettlementChargePending {
		return e.resolveOnly(ctx, record, resolve)
	}
	return fn(ctx, record)
}

func (e *Executor) acquireForRecord(ctx context.Context, settlementID uuid.UUID) (func(), error) {
	record, err := e.Get(ctx, settlementID)
	if err != nil {
		return nil, err
	}
	return e.acquire(ctx, record.OrderID)
}

func (e *Executor) acquire(ctx context.Context, orderID uuid.UUID) (func(), error) {
	release, err := e.locker.Acquire(ctx, orderID)
	if errors.Is(err, ErrLocked) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "settlement already in progress")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "acquire settlement lock")
	}
	return release, nil
}

// resolveOnly closes the caller's item when the record already moved on,
// for example because a webhook answered before the reconciler ran.
func (e *Executor) resolveOnly(ctx context.Context, record *models.SettlementRecord, resolve ResolveFunc) (*Result, error) {
	result, err := e.replay(ctx, record)
	if err != nil {
		return nil, err
	}
	if resolve != nil {
		note := "settlement already " + record.Outcome.String()
		if result.PayoutRecovered {
			note = "payout already recovered"
		}
		var ref *string
		if result.TransferRef != "" {
			ref = &result.TransferRef
		}
		if err := e.tx.WithTx(ctx, func(tx *gorm.DB) error {
			return resolve(tx, Resolution{Note: note, TransferRef: ref})
		}); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resolve reconciliation item")
		}
	}
	return result, nil
}

// replay describes a record without calling any provider. A payout made
// after the record went terminal is read back from the ledger.
func (e *Executor) replay(ctx context.Context, record *models.SettlementRecord) (*Result, error) {
	result := &Result{
		Record:      record,
		Outcome:     record.Outcome,
		Replayed:    true,
		Pending:     !record.Outcome.IsTerminal(),
		TransferRef: deref(record.TransferRef),
	}
	if !awaitsPayout(record.Outcome) {
		return result, nil
	}
	entry, err := e.ledger.RecoveredPayout(ctx, record.ID)
	if err != nil {
		return nil, err
	}
	if entry != nil {
		result.PayoutRecovered = true
		result.TransferRef = deref(entry.TransferRef)
	}
	return result, nil
}

// awaitsPayout reports terminal outcomes whose seller payout may still be
// made later through the ledger.
func awaitsPayout(outcome enums.SettlementOutcome) bool {
	return outcome == enums.SettlementChargeSucceededTransferPending ||
		outcome == enums.SettlementChargeSucceededTransferFailed
}

func (e *Executor) runCharge(ctx context.Context, order *models.Order, record *models.SettlementRecord, resolve ResolveFunc) (*Result, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	started := e.now()
	res, err := e.collector.Charge(callCtx, payments.ChargeRequest{
		Amount:           record.TotalAmount,
		Currency:         record.Currency,
		PaymentMethodRef: record.PaymentMethodRef,
		IdempotencyKey:   record.IdempotencyKey,
		Description:      "Order " + order.PublicRef,
		Metadata: map[string]string{
			"order_id":      order.ID.String(),
			"settlement_id": record.ID.String(),
			"attempt":       strconv.Itoa(record.AttemptNumber),
		},
	})
	cancel()
	e.metrics.ObserveProviderCall(string(e.collector.Provider()), "charge", callResult(err), e.now().Sub(started))

	switch {
	case err == nil:
		return e.chargeSucceeded(ctx, order, record, res.Ref, resolve)
	case errors.Is(err, payments.ErrDeclined):
		return e.chargeDeclined(ctx, order, record, err, resolve)
	default:
		return e.chargeUnknown(ctx, record, err)
	}
}

func (e *Executor) chargeSucceeded(ctx context.Context, order *models.Order, record *models.SettlementRecord, chargeRef string, resolve ResolveFunc) (*Result, error) {
	now := e.now().UTC()
	next, orderStatus := enums.SettlementTransferInProgress, enums.OrderStatusPaid
	if record.PayoutDestination == nil {
		next, orderStatus = enums.SettlementChargeSucceededTransferPending, enums.OrderStatusPayoutScheduled
	}

	err := e.tx.WithTx(ctx, func(tx *gorm.DB) error {
		moved, err := e.repo.WithTx(tx).Advance(ctx, record.ID, enums.SettlementChargePending, map[string]any{
			"outcome":             next,
			"charge_ref":          chargeRef,
			"charge_completed_at": now,
			"last_error":          nil,
		})
		if err != nil {
			return err
		}
		if !moved {
			return errStaleRecord
		}
		if err := e.moveOrder(ctx, tx, order.ID, orderStatus, "charge succeeded"); err != nil {
			return err
		}
		record.Outcome = next
		record.ChargeRef = &chargeRef
		record.ChargeCompletedAt = &now
		record.LastError = nil
		if next == enums.SettlementChargeSucceededTransferPending {
			if err := e.queue.EnqueueTx(ctx, tx, record, enums.ReconciliationTransferPending, "seller has no verified payout destination"); err != nil {
				return err
			}
		}
		if resolve != nil {
			return resolve(tx, Resolution{Note: "charge succeeded: " + chargeRef})
		}
		return nil
	})
	if errors.Is(err, errStaleRecord) {
		return e.current(ctx, record.ID)
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record charge success")
	}

	ctx = e.logg.WithField(ctx, "charge_ref", chargeRef)
	if next.IsTerminal() {
		e.metrics.IncOutcome(next.String())
		e.logg.Warn(ctx, "charge succeeded; payout waiting for seller destination")
		return &Result{Record: record, Outcome: next}, nil
	}
	e.logg.Info(ctx, "charge succeeded")
	return e.runTransfer(ctx, record)
}

func (e *Executor) chargeDeclined(ctx context.Context, order *models.Order, record *models.SettlementRecord, cause error, resolve ResolveFunc) (*Result, error) {
	code, message := declineDetails(cause)
	err := e.tx.WithTx(ctx, func(tx *gorm.DB) error {
		moved, err := e.repo.WithTx(tx).Advance(ctx, record.ID, enums.SettlementChargePending, map[string]any{
			"outcome":    enums.SettlementChargeFailed,
			"last_error": cause.Error(),
		})
		if err != nil {
			return err
		}
		if !moved {
			return errStaleRecord
		}
		if err := e.moveOrder(ctx, tx, order.ID, enums.OrderStatusFailed, "charge declined"); err != nil {
			return err
		}
		if err := e.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventSettlementChargeFailed,
			AggregateType: enums.AggregateSettlement,
			AggregateID:   record.ID,
			Once:          true,
			Data: payloads.SettlementChargeFailedEvent{
				SettlementID:  record.ID,
				OrderID:       order.ID,
				BuyerID:       order.BuyerID,
				AttemptNumber: record.AttemptNumber,
				Reason:        code,
			},
		}); err != nil {
			return err
		}
		if resolve != nil {
			return resolve(tx, Resolution{Note: "charge declined: " + code})
		}
		return nil
	})
	if errors.Is(err, errStaleRecord) {
		return e.current(ctx, record.ID)
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record charge decline")
	}

	lastErr := cause.Error()
	record.Outcome = enums.SettlementChargeFailed
	record.LastError = &lastErr
	e.metrics.IncOutcome(record.Outcome.String())
	e.logg.Warn(e.logg.WithField(ctx, "decline_code", code), "charge declined")
	return &Result{Record: record, Outcome: record.Outcome, DeclineCode: code, DeclineMessage: message}, nil
}

func (e *Executor) chargeUnknown(ctx context.Context, record *models.SettlementRecord, cause error) (*Result, error) {
	lastErr := cause.Error()
	err := e.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := e.repo.WithTx(tx).Annotate(ctx, record.ID, map[string]any{"last_error": lastErr}); err != nil {
			return err
		}
		return e.queue.EnqueueTx(ctx, tx, record, enums.ReconciliationChargeUnknown, lastErr)
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "queue unknown charge")
	}
	record.LastError = &lastErr
	e.logg.Warn(e.logg.WithField(ctx, "error", lastErr), "charge outcome unknown; queued for reconciliation")
	return &Result{Record: record, Outcome: record.Outcome, Pending: true}, nil
}

// runTransfer pays the seller, retrying with exponential backoff under the
// record's stable transfer key.
func (e *Executor) runTransfer(ctx context.Context, record *models.SettlementRecord) (*Result, error) {
	dest := deref(record.PayoutDestination)
	attempts := record.TransferAttempts
	var lastErr error
	for i := 0; i < e.cfg.TransferMaxAttempts; i++ {
		if i > 0 {
			if err := e.sleep(ctx, e.backoff(i)); err != nil {
				lastErr = payments.Unknown("cancelled", err.Error(), err)
				break
			}
		}
		attempts++
		ref, err := e.callTransfer(ctx, record, dest)
		if err == nil {
			return e.transferSucceeded(ctx, record, ref, attempts, nil)
		}
		lastErr = err
		e.logg.Warn(e.logg.WithFields(ctx, map[string]any{"transfer_attempt": attempts, "error": err.Error()}), "payout transfer attempt failed")
	}

	if errors.Is(lastErr, payments.ErrRejected) {
		return e.transferFailed(ctx, record, lastErr, attempts, nil)
	}
	return e.transferUnknown(ctx, record, lastErr, attempts, true)
}

func (e *Executor) callTransfer(ctx context.Context, record *models.SettlementRecord, destination string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	defer cancel()
	started := e.now()
	res, err := e.transferer.Transfer(callCtx, payments.TransferRequest{
		Amount:         record.SellerPayout,
		Currency:       record.Currency,
		DestinationRef: destination,
		IdempotencyKey: record.TransferIdempotencyKey(),
		TransferGroup:  record.OrderID.String(),
		Metadata: map[string]string{
			"order_id":      record.OrderID.String(),
			"settlement_id": record.ID.String(),
		},
	})
	e.metrics.ObserveProviderCall(string(enums.PaymentProviderStripe), "transfer", callResult(err), e.now().Sub(started))
	if err != nil {
		return "", err
	}
	return res.Ref, nil
}

func (e *Executor) transferSucceeded(ctx context.Context, record *models.SettlementRecord, transferRef string, attempts int, resolve ResolveFunc) (*Result, error) {
	now := e.now().UTC()
	err := e.tx.WithTx(ctx, func(tx *gorm.DB) error {
		moved, err := e.repo.WithTx(tx).Advance(ctx, record.ID, enums.SettlementTransferInProgress, map[string]any{
			"outcome":               enums.SettlementCompleted,
			"transfer_ref":          transferRef,
			"transfer_completed_at": now,
			"transfer_attempts":     attempts,
			"last_error":            nil,
		})
		if err != nil {
			return err
		}
		if !moved {
			return errStaleRecord
		}
		if err := e.moveOrder(ctx, tx, record.OrderID, enums.OrderStatusSettled, "payout transferred"); err != nil {
			return err
		}
		if err := e.emitCompleted(ctx, tx, record, transferRef, now); err != nil {
			return err
		}
		if resolve != nil {
			return resolve(tx, Resolution{Note: "payout transferred", TransferRef: &transferRef})
		}
		return nil
	})
	if errors.Is(err, errStaleRecord) {
		return e.current(ctx, record.ID)
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record payout")
	}

	record.Outcome = enums.SettlementCompleted
	record.TransferRef = &transferRef
	record.TransferCompletedAt = &now
	record.TransferAttempts = attempts
	record.LastError = nil
	e.metrics.IncOutcome(record.Outcome.String())
	e.logg.Info(e.logg.WithField(ctx, "transfer_ref", transferRef), "settlement completed")
	return &Result{Record: record, Outcome: record.Outcome, TransferRef: transferRef}, nil
}

// transferFailed ends the attempt as charge_succeeded_transfer_failed. The
// buyer was charged, so the order stays paid and an operator is alerted.
func (e *Executor) transferFailed(ctx context.Context, record *models.SettlementRecord, cause error, attempts int, resolve ResolveFunc) (*Result, error) {
	lastErr := cause.Error()
	var alert *Alert
	err := e.tx.WithTx(ctx, func(tx *gorm.DB) error {
		moved, err := e.repo.WithTx(tx).Advance(ctx, record.ID, enums.SettlementTransferInProgress, map[string]any{
			"outcome":           enums.SettlementChargeSucceededTransferFailed,
			"transfer_attempts": attempts,
			"last_error":        lastErr,
		})
		if err != nil {
			return err
		}
		if !moved {
			return errStaleRecord
		}
		record.Outcome = enums.SettlementChargeSucceededTransferFailed
		record.TransferAttempts = attempts
		record.LastError = &lastErr
		if err := e.queue.EnqueueTx(ctx, tx, record, enums.ReconciliationTransferFailed, lastErr); err != nil {
			return err
		}
		if alert, err = e.alerter.RaiseTx(ctx, tx, record, enums.ReconciliationTransferFailed, attempts, false); err != nil {
			return err
		}
		if resolve != nil {
			return resolve(tx, Resolution{Note: "payout rejected; moved to transfer_failed"})
		}
		return nil
	})
	if errors.Is(err, errStaleRecord) {
		return e.current(ctx, record.ID)
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record payout failure")
	}
	e.alerter.Notify(ctx, alert)
	e.metrics.IncOutcome(record.Outcome.String())
	return &Result{Record: record, Outcome: record.Outcome}, nil
}

func (e *Executor) transferUnknown(ctx context.Context, record *models.SettlementRecord, cause error, attempts int, enqueue bool) (*Result, error) {
	lastErr := cause.Error()
	err := e.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := e.repo.WithTx(tx).Annotate(ctx, record.ID, map[string]any{
			"transfer_attempts": attempts,
			"last_error":        lastErr,
		}); err != nil {
			return err
		}
		if !enqueue {
			return nil
		}
		return e.queue.EnqueueTx(ctx, tx, record, enums.ReconciliationTransferUnknown, lastErr)
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "queue unknown payout")
	}
	record.TransferAttempts = attempts
	record.LastError = &lastErr
	e.logg.Warn(e.logg.WithField(ctx, "error", lastErr), "payout outcome unknown; queued for reconciliation")
	return &Result{Record: record, Outcome: record.Outcome, Pending: true}, nil
}

// recoverPayout pays a terminal transfer_pending or transfer_failed attempt.
// The record is never written; every try is appended to the ledger, and a
// successful one settles the order and closes the caller's item.
func (e *Executor) recoverPayout(ctx context.Context, record *models.SettlementRecord, resolve ResolveFunc) (*Result, error) {
	entries, err := e.ledger.ListBySettlement(ctx, record.ID)
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		if entry.EntryType == enums.LedgerPayoutRecovered {
			return e.resolveOnly(ctx, record, resolve)
		}
	}

	dest := deref(record.PayoutDestination)
	if record.Outcome == enums.SettlementChargeSucceededTransferPending || dest == "" {
		ref, err := e.destinations.Resolve(ctx, record.SellerID)
		if err != nil {
			return nil, err
		}
		if !ref.HasDestination() {
			return &Result{Record: record, Outcome: record.Outcome, Pending: true}, nil
		}
		dest = ref.PayoutDestination
	}

	entry := ledger.RecordEntryInput{
		SettlementID:    record.ID,
		OrderID:         record.OrderID,
		SellerID:        record.SellerID,
		Amount:          record.SellerPayout,
		Currency:        record.Currency,
		TransferAttempt: record.TransferAttempts + len(entries) + 1,
		Destination:     dest,
	}
	ctx = e.logg.WithField(ctx, "transfer_attempt", entry.TransferAttempt)

	transferRef, err := e.callTransfer(ctx, record, dest)
	if err != nil {
		entry.Type, entry.Error = enums.LedgerPayoutRetryFailed, err.Error()
		if _, ledgerErr := e.ledger.RecordEntry(ctx, nil, entry); ledgerErr != nil {
			return nil, ledgerErr
		}
		e.logg.Warn(e.logg.WithField(ctx, "error", entry.Error), "payout recovery attempt failed")
		return &Result{Record: record, Outcome: record.Outcome, Pending: true}, err
	}

	entry.Type, entry.TransferRef = enums.LedgerPayoutRecovered, transferRef
	now := e.now().UTC()
	err = e.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if _, err := e.ledger.RecordEntry(ctx, tx, entry); err != nil {
			return err
		}
		if err := e.moveOrder(ctx, tx, record.OrderID, enums.OrderStatusSettled, "payout recovered"); err != nil {
			return err
		}
		if err := e.emitCompleted(ctx, tx, record, transferRef, now); err != nil {
			return err
		}
		if resolve != nil {
			return resolve(tx, Resolution{Note: "payout transferred after reconciliation", TransferRef: &transferRef})
		}
		return nil
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record recovered payout")
	}
	e.metrics.IncOutcome(enums.LedgerPayoutRecovered.String())
	e.logg.Info(e.logg.WithField(ctx, "transfer_ref", transferRef), "payout recovered")
	return &Result{Record: record, Outcome: record.Outcome, PayoutRecovered: true, TransferRef: transferRef}, nil
}

func (e *Executor) emitCompleted(ctx context.Context, tx *gorm.DB, record *models.SettlementRecord, transferRef string, at time.Time) error {
	return e.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventSettlementCompleted,
		AggregateType: enums.AggregateSettlement,
		AggregateID:   record.ID,
		Once:          true,
		Data: payloads.SettlementCompletedEvent{
			SettlementID:       record.ID,
			OrderID:            record.OrderID,
			SellerID:           record.SellerID,
			AttemptNumber:      record.AttemptNumber,
			TotalAmount:        record.TotalAmount,
			PlatformCommission: record.PlatformCommission,
			SellerPayout:       record.SellerPayout,
			Currency:           record.Currency,
			ChargeRef:          deref(record.ChargeRef),
			TransferRef:        transferRef,
			CompletedAt:        at,
		},
	})
}

// moveOrder keeps the order in step with the settlement. A disallowed
// transition is logged and skipped; the settlement record is authoritative
// for money movement.
func (e *Executor) moveOrder(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, status enums.OrderStatus, reason string) error {
	_, err := e.orders.TransitionTx(ctx, tx, orderID, status, reason)
	if err == nil {
		return nil
	}
	if pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) {
		e.logg.Warn(e.logg.WithFields(ctx, map[string]any{"target_status": status, "error": err.Error()}), "order status left unchanged")
		return nil
	}
	return err
}

func (e *Executor) current(ctx context.Context, id uuid.UUID) (*Result, error) {
	record, err := e.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return e.replay(ctx, record)
}

func (e *Executor) backoff(retry int) time.Duration {
	d := e.cfg.TransferBaseBackoff << (retry - 1)
	if d <= 0 || d > maxTransferBackoff {
		return maxTransferBackoff
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func callResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, payments.ErrDeclined):
		return "declined"
	case errors.Is(err, payments.ErrRejected):
		return "rejected"
	default:
		return "unknown"
	}
}

func declineDetails(err error) (string, string) {
	var perr *payments.ProviderError
	if errors.As(err, &perr) {
		code := perr.Code
		if code == "" {
			code = "declined"
		}
		return code, perr.Message
	}
	return "declined", err.Error()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
