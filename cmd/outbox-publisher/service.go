package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/bazaarhq/bazaar-backend/pkg/config"
	"github.com/bazaarhq/bazaar-backend/pkg/db/models"
	"github.com/bazaarhq/bazaar-backend/pkg/logger"
	"github.com/bazaarhq/bazaar-backend/pkg/metrics"
	"github.com/bazaarhq/bazaar-backend/pkg/outbox/registry"
)

const (
	defaultBatchSize   = 50
	defaultPoll        = 500 * time.Millisecond
	defaultMaxAttempts = 10
	publishTimeout     = 15 * time.Second
	maxIdleBackoff     = 10 * time.Second
)

type txRunner interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type pubSubClient interface {
	Ping(context.Context) error
	Publisher(name string) *gcppubsub.Publisher
}

type outboxRepository interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error
}

type dlqRepository interface {
	InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error
}

type eventResolver interface {
	Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error)
	Topics() []string
}

// publisher is the slice of *pubsub.Publisher the service uses, so tests can
// swap in fakes.
type publisher interface {
	Publish(context.Context, *gcppubsub.Message) publishResult
}

type publishResult interface {
	Get(context.Context) (string, error)
}

type ServiceParams struct {
	Outbox        config.OutboxConfig
	Logger        *logger.Logger
	DB            txRunner
	PubSub        pubSubClient
	Repository    outboxRepository
	Registry      eventResolver
	DLQRepository dlqRepository
	Metrics       *metrics.OutboxMetrics

	// Publishers overrides the Pub/Sub backed publisher lookup.
	Publishers func(topic string) publisher
}

// Service moves committed outbox rows to Pub/Sub. Each batch is locked,
// published and marked inside one transaction; rows that can never be
// published end up in outbox_dlq.
type Service struct {
	logg        *logger.Logger
	db          txRunner
	pubsub      pubSubClient
	repo        outboxRepository
	resolver    eventResolver
	dlq         dlqRepository
	metrics     *metrics.OutboxMetrics
	publishers  func(topic string) publisher
	batchSize   int
	maxAttempts int
	poll        time.Duration
	now         func() time.Time
}

func NewService(p ServiceParams) (*Service, error) {
	switch {
	case p.Logger == nil:
		return nil, errors.New("logger is required")
	case p.DB == nil:
		return nil, errors.New("database client is required")
	case p.PubSub == nil:
		return nil, errors.New("pubsub client is required")
	case p.Repository == nil:
		return nil, errors.New("outbox repository is required")
	case p.Registry == nil:
		return nil, errors.New("event registry is required")
	case p.DLQRepository == nil:
		return nil, errors.New("dlq repository is required")
	}

	s := &Service{
		logg:        p.Logger,
		db:          p.DB,
		pubsub:      p.PubSub,
		repo:        p.Repository,
		resolver:    p.Registry,
		dlq:         p.DLQRepository,
		metrics:     p.Metrics,
		publishers:  p.Publishers,
		batchSize:   positiveOr(p.Outbox.BatchSize, defaultBatchSize),
		maxAttempts: positiveOr(p.Outbox.MaxAttempts, defaultMaxAttempts),
		poll:        defaultPoll,
		now:         time.Now,
	}
	if p.Outbox.PollIntervalMS > 0 {
		s.poll = time.Duration(p.Outbox.PollIntervalMS) * time.Millisecond
	}
	if s.publishers == nil {
		s.publishers = s.pubSubPublisher
	}
	return s, nil
}

func positiveOr(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

func (s *Service) pubSubPublisher(topic string) publisher {
	p := s.pubsub.Publisher(topic)
	if p == nil {
		return nil
	}
	return gcpPublisher{p}
}

// Run polls until ctx is cancelled. Empty polls and failed batches both
// sleep; failed batches back off exponentially.
func (s *Service) Run(ctx context.Context) error {
	if err := s.checkReady(ctx); err != nil {
		return err
	}

	wait := newPollBackoff(s.poll, maxIdleBackoff)
	for {
		processed, err := s.processBatch(ctx)
		if ctxErr := ctx.Err(); ctxErr != nil {
			s.logg.Info(ctx, "outbox publisher stopping")
			return ctxErr
		}

		var pause time.Duration
		switch {
		case err != nil:
			s.logg.Error(ctx, "outbox.batch_failed", err)
			pause = wait.failure()
		case processed:
			wait.reset()
			continue
		default:
			wait.reset()
			pause = wait.idle()
		}
		if err := sleepCtx(ctx, pause); err != nil {
			return err
		}
	}
}

// checkReady fails fast when a dependency is unreachable or a routed topic
// has no publisher.
func (s *Service) checkReady(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return fmt.Errorf("database ping: %w", err)
	}
	if err := s.pubsub.Ping(ctx); err != nil {
		return fmt.Errorf("pubsub ping: %w", err)
	}
	for _, topic := range s.resolver.Topics() {
		if s.publishers(topic) == nil {
			return fmt.Errorf("no publisher for topic %s", topic)
		}
	}
	return nil
}

// processBatch reports whether any rows were locked. Per-row publish
// failures are recorded on the row; only bookkeeping failures abort the
// batch.
func (s *Service) processBatch(ctx context.Context) (bool, error) {
	var locked int
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		events, err := s.repo.FetchUnpublishedForPublish(tx, s.batchSize, s.maxAttempts)
		if err != nil {
			return err
		}
		locked = len(events)
		for _, event := range events {
			if err := s.dispatch(ctx, tx, event); err != nil {
				return err
			}
		}
		return nil
	})
	return locked > 0, err
}

type gcpPublisher struct {
	p *gcppubsub.Publisher
}

func (g gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	return g.p.Publish(ctx, msg)
}
