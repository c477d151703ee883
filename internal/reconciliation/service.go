package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/bazaarhq/bazaar-backend/internal/settlement"
	"github.com/bazaarhq/bazaar-backend/pkg/config"
	"github.com/bazaarhq/bazaar-backend/pkg/db"
	"github.com/bazaarhq/bazaar-backend/pkg/db/models"
	"github.com/bazaarhq/bazaar-backend/pkg/enums"
	pkgerrors "github.com/bazaarhq/bazaar-backend/pkg/errors"
	"github.com/bazaarhq/bazaar-backend/pkg/logger"
	"github.com/bazaarhq/bazaar-backend/pkg/metrics"
	"github.com/bazaarhq/bazaar-backend/pkg/payments"
)

const (
	defaultBatchSize   = 25
	defaultMaxAttempts = 8
	defaultBaseBackoff = time.Minute
	maxBackoff         = 6 * time.Hour
	defaultListLimit   = 100
	maxListLimit       = 500
)

// Driver is the settlement executor surface the reconciler re-drives.
type Driver interface {
	Get(ctx context.Context, settlementID uuid.UUID) (*models.SettlementRecord, error)
	ReconcileCharge(ctx context.Context, settlementID uuid.UUID, resolve settlement.ResolveFunc) (*settlement.Result, error)
	ReconcileTransfer(ctx context.Context, settlementID uuid.UUID, resolve settlement.ResolveFunc) (*settlement.Result, error)
	ApplyChargeOutcome(ctx context.Context, settlementID uuid.UUID, outcome settlement.ChargeOutcome, resolve settlement.ResolveFunc) (*settlement.Result, error)
}

// ChargeEvent is an asynchronous charge result delivered by a provider.
type ChargeEvent struct {
	SettlementID uuid.UUID
	Succeeded    bool
	ChargeRef    string
	Code         string
	Message      string
}

// RunSummary counts what one pass over the due items did.
type RunSummary struct {
	Processed   int
	Resolved    int
	Rescheduled int
	Abandoned   int
	Skipped     int
}

type Service interface {
	ProcessDue(ctx context.Context) (RunSummary, error)
	HandleChargeEvent(ctx context.Context, event ChargeEvent) (*settlement.Result, error)
	ListOpen(ctx context.Context, reason string, limit int) ([]models.ReconciliationItem, error)
	Resolve(ctx context.Context, itemID uuid.UUID, note string) (*models.ReconciliationItem, error)
	RefreshQueueDepth(ctx context.Context) error
}

type ServiceParams struct {
	Repo    Repository
	Driver  Driver
	Tx      db.TxRunner
	Alerter *settlement.Alerter
	Metrics *metrics.SettlementMetrics
	Logger  *logger.Logger
	Config  config.ReconciliationConfig
}

type service struct {
	repo    Repository
	driver  Driver
	tx      db.TxRunner
	alerter *settlement.Alerter
	metrics *metrics.SettlementMetrics
	logg    *logger.Logger
	cfg     config.ReconciliationConfig
	now     func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("reconciliation repository required")
	}
	if params.Driver == nil {
		return nil, fmt.Errorf("settlement driver required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Alerter == nil {
		return nil, fmt.Errorf("alerter required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	cfg := params.Config
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = defaultBaseBackoff
	}
	return &service{
		repo:    params.Repo,
		driver:  params.Driver,
		tx:      params.Tx,
		alerter: params.Alerter,
		metrics: params.Metrics,
		logg:    logg,
		cfg:     cfg,
		now:     time.Now,
	}, nil
}

// ProcessDue works one batch of due items. A failing item never stops the
// batch; the errors are returned together.
func (s *service) ProcessDue(ctx context.Context) (RunSummary, error) {
	var summary RunSummary
	items, err := s.repo.ListDue(ctx, s.now().UTC(), s.cfg.BatchSize)
	if err != nil {
		return summary, fmt.Errorf("list due reconciliation items: %w", err)
	}

	var errs error
	for i := range items {
		if ctx.Err() != nil {
			errs = multierr.Append(errs, ctx.Err())
			break
		}
		item := &items[i]
		summary.Processed++
		result, err := s.process(ctx, item)
		switch result {
		case itemResolved:
			summary.Resolved++
		case itemRescheduled:
			summary.Rescheduled++
		case itemAbandoned:
			summary.Abandoned++
		case itemSkipped:
			summary.Skipped++
		}
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("item %s: %w", item.ID, err))
		}
	}

	if err := s.RefreshQueueDepth(ctx); err != nil {
		errs = multierr.Append(errs, err)
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"processed":   summary.Processed,
		"resolved":    summary.Resolved,
		"rescheduled": summary.Rescheduled,
		"abandoned":   summary.Abandoned,
		"skipped":     summary.Skipped,
	}), "reconciliation batch complete")
	return summary, errs
}

type itemResult int

const (
	itemRescheduled itemResult = iota
	itemResolved
	itemAbandoned
	itemSkipped
)

func (s *service) process(ctx context.Context, item *models.ReconciliationItem) (itemResult, error) {
	ctx = s.logg.WithFields(ctx, map[string]any{
		"reconciliation_item_id": item.ID.String(),
		"settlement_id":          item.SettlementID.String(),
		"reason":                 item.Reason,
	})

	resolved := false
	resolve := s.resolver(ctx, item.ID, &resolved)

	var res *settlement.Result
	var err error
	switch item.Reason {
	case enums.ReconciliationChargeUnknown:
		res, err = s.driver.ReconcileCharge(ctx, item.SettlementID, resolve)
	default:
		res, err = s.driver.ReconcileTransfer(ctx, item.SettlementID, resolve)
	}

	if resolved && err == nil {
		s.logg.Info(s.logg.WithField(ctx, "outcome", res.Outcome), "reconciliation item resolved")
		return itemResolved, nil
	}
	if pkgerrors.IsCode(err, pkgerrors.CodeConflict) {
		// the order is being settled right now; retry next pass
		return itemSkipped, nil
	}

	lastErr := ""
	if err != nil {
		lastErr = err.Error()
	} else if res != nil && res.Record != nil && res.Record.LastError != nil {
		lastErr = *res.Record.LastError
	}

	attempts := item.Attempts + 1
	if attempts >= s.cfg.MaxAttempts {
		if abandonErr := s.abandon(ctx, item, attempts, lastErr); abandonErr != nil {
			return itemRescheduled, multierr.Append(err, abandonErr)
		}
		return itemAbandoned, nil
	}

	next := s.now().UTC().Add(s.backoff(attempts))
	if rescheduleErr := s.repo.Reschedule(ctx, item.ID, attempts, next, lastErr); rescheduleErr != nil {
		return itemRescheduled, multierr.Append(err, rescheduleErr)
	}
	s.logg.Warn(s.logg.WithFields(ctx, map[string]any{"attempts": attempts, "next_attempt_at": next}), "reconciliation item rescheduled")
	// provider failures are expected here and retried, not job failures
	if isProviderError(err) {
		return itemRescheduled, nil
	}
	return itemRescheduled, err
}

func isProviderError(err error) bool {
	return errors.Is(err, payments.ErrDeclined) ||
		errors.Is(err, payments.ErrRejected) ||
		errors.Is(err, payments.ErrUnknownOutcome)
}

func (s *service) resolver(ctx context.Context, itemID uuid.UUID, resolved *bool) settlement.ResolveFunc {
	return func(tx *gorm.DB, res settlement.Resolution) error {
		ok, err := s.repo.WithTx(tx).Close(ctx, itemID, enums.ReconciliationStatusResolved, res.Note, res.TransferRef, s.now().UTC())
		if err != nil {
			return err
		}
		*resolved = ok
		return nil
	}
}

// abandon stops retrying the item and alerts an operator.
func (s *service) abandon(ctx context.Context, item *models.ReconciliationItem, attempts int, lastErr string) error {
	record, err := s.driver.Get(ctx, item.SettlementID)
	if err != nil {
		return err
	}
	if lastErr != "" {
		record.LastError = &lastErr
	}
	note := fmt.Sprintf("abandoned after %d attempts", attempts)
	var alert *settlement.Alert
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		ok, err := s.repo.WithTx(tx).Close(ctx, item.ID, enums.ReconciliationStatusAbandoned, note, nil, s.now().UTC())
		if err != nil || !ok {
			return err
		}
		alert, err = s.alerter.RaiseTx(ctx, tx, record, item.Reason, attempts, true)
		return err
	})
	if err != nil {
		return fmt.Errorf("abandon reconciliation item: %w", err)
	}
	s.alerter.Notify(ctx, alert)
	return nil
}

func (s *service) backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	d := s.cfg.BaseBackoff << (attempts - 1)
	if d <= 0 || d > maxBackoff {
		return maxBackoff
	}
	return d
}

// HandleChargeEvent applies a webhook-delivered charge result and closes
// the matching charge_unknown item when one is open.
func (s *service) HandleChargeEvent(ctx context.Context, event ChargeEvent) (*settlement.Result, error) {
	if event.SettlementID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "settlement id required")
	}
	var resolve settlement.ResolveFunc
	item, err := s.repo.FindOpen(ctx, event.SettlementID, enums.ReconciliationChargeUnknown)
	switch {
	case err == nil:
		resolved := false
		resolve = s.resolver(ctx, item.ID, &resolved)
	case errors.Is(err, gorm.ErrRecordNotFound):
	default:
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load reconciliation item")
	}

	res, err := s.driver.ApplyChargeOutcome(ctx, event.SettlementID, settlement.ChargeOutcome{
		Succeeded: event.Succeeded,
		ChargeRef: event.ChargeRef,
		Code:      event.Code,
		Message:   event.Message,
	}, resolve)
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (s *service) ListOpen(ctx context.Context, reason string, limit int) ([]models.ReconciliationItem, error) {
	var filter *enums.ReconciliationReason
	if trimmed := strings.TrimSpace(reason); trimmed != "" {
		parsed, err := enums.ParseReconciliationReason(trimmed)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid reason")
		}
		filter = &parsed
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	items, err := s.repo.ListOpen(ctx, filter, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list reconciliation items")
	}
	return items, nil
}

// Resolve closes an item by hand, for example after an operator paid the
// seller outside the platform.
func (s *service) Resolve(ctx context.Context, itemID uuid.UUID, note string) (*models.ReconciliationItem, error) {
	note = strings.TrimSpace(note)
	if note == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "resolution note required")
	}
	item, err := s.repo.FindByID(ctx, itemID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "reconciliation item not found")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load reconciliation item")
	}
	ok, err := s.repo.Close(ctx, item.ID, enums.ReconciliationStatusResolved, note, nil, s.now().UTC())
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resolve reconciliation item")
	}
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "reconciliation item is not open").
			WithDetails(map[string]any{"status": item.Status})
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"reconciliation_item_id": item.ID.String(),
		"settlement_id":          item.SettlementID.String(),
	}), "reconciliation item resolved manually")
	return s.repo.FindByID(ctx, item.ID)
}

// RefreshQueueDepth publishes the open item count per reason.
func (s *service) RefreshQueueDepth(ctx context.Context) error {
	counts, err := s.repo.CountOpenByReason(ctx)
	if err != nil {
		return fmt.Errorf("count open reconciliation items: %w", err)
	}
	for _, reason := range []enums.ReconciliationReason{
		enums.ReconciliationChargeUnknown,
		enums.ReconciliationTransferUnknown,
		enums.ReconciliationTransferPending,
		enums.ReconciliationTransferFailed,
	} {
		s.metrics.SetQueueDepth(reason.String(), counts[reason])
	}
	return nil
}
