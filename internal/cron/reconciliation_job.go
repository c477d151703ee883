package cron

import (
	"context"
	"fmt"

	"github.com/bazaarhq/bazaar-backend/internal/reconciliation"
	"github.com/bazaarhq/bazaar-backend/pkg/logger"
)

type reconciler interface {
	ProcessDue(ctx context.Context) (reconciliation.RunSummary, error)
}

type ReconciliationJobParams struct {
	Logger     *logger.Logger
	Reconciler reconciler
	// MaxBatches bounds how many batches one cycle drains.
	MaxBatches int
}

const defaultReconciliationBatches = 4

// NewReconciliationJob drains due reconciliation items each cycle.
func NewReconciliationJob(params ReconciliationJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Reconciler == nil {
		return nil, fmt.Errorf("reconciler required")
	}
	batches := params.MaxBatches
	if batches <= 0 {
		batches = defaultReconciliationBatches
	}
	return &reconciliationJob{logg: params.Logger, reconciler: params.Reconciler, maxBatches: batches}, nil
}

type reconciliationJob struct {
	logg       *logger.Logger
	reconciler reconciler
	maxBatches int
}

func (j *reconciliationJob) Name() string { return "settlement-reconciliation" }

func (j *reconciliationJob) Run(ctx context.Context) error {
	var total reconciliation.RunSummary
	for i := 0; i < j.maxBatches; i++ {
		summary, err := j.reconciler.ProcessDue(ctx)
		total.Processed += summary.Processed
		total.Resolved += summary.Resolved
		total.Rescheduled += summary.Rescheduled
		total.Abandoned += summary.Abandoned
		total.Skipped += summary.Skipped
		if err != nil {
			return fmt.Errorf("reconciliation batch %d: %w", i+1, err)
		}
		// rescheduled and skipped items are not due again this cycle
		if summary.Resolved+summary.Abandoned == 0 {
			break
		}
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"processed": total.Processed,
		"resolved":  total.Resolved,
		"abandoned": total.Abandoned,
	}), "reconciliation cycle complete")
	return nil
}
