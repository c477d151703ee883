package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/bazaarhq/bazaar-backend/pkg/db"
	"github.com/bazaarhq/bazaar-backend/pkg/logger"
)

const (
	defaultOutboxRetentionDays = 30
	defaultOutboxMinAttempts   = 5
)

type OutboxRetentionJobParams struct {
	Logger        *logger.Logger
	DB            db.TxRunner
	Repository    outboxPurger
	RetentionDays int
	MinAttempts   int
}

type outboxPurger interface {
	DeletePublishedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time, minAttemptCount int) (int64, error)
}

// NewOutboxRetentionJob purges settlement and order events that were
// published longer ago than the retention window.
func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	switch {
	case params.Logger == nil:
		return nil, errors.New("logger required")
	case params.DB == nil:
		return nil, errors.New("db runner required")
	case params.Repository == nil:
		return nil, errors.New("outbox repository required")
	}
	days := positive(params.RetentionDays, defaultOutboxRetentionDays)
	return &outboxRetentionJob{
		logg:        params.Logger,
		db:          params.DB,
		repo:        params.Repository,
		window:      time.Duration(days) * 24 * time.Hour,
		minAttempts: positive(params.MinAttempts, defaultOutboxMinAttempts),
		now:         time.Now,
	}, nil
}

func positive(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

type outboxRetentionJob struct {
	logg        *logger.Logger
	db          db.TxRunner
	repo        outboxPurger
	window      time.Duration
	minAttempts int
	now         func() time.Time
}

func (j *outboxRetentionJob) Name() string { return "outbox-retention" }

func (j *outboxRetentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.window)
	var purged int64
	if err := j.db.WithTx(ctx, func(tx *gorm.DB) (err error) {
		purged, err = j.repo.DeletePublishedBefore(ctx, tx, cutoff, j.minAttempts)
		return err
	}); err != nil {
		return fmt.Errorf("outbox retention: %w", err)
	}

	ctx = j.logg.WithFields(ctx, map[string]any{
		"cutoff":       cutoff,
		"min_attempts": j.minAttempts,
		"rows_purged":  purged,
	})
	j.logg.Info(ctx, "cron.outbox_purged")
	return nil
}
