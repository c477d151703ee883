// Package bootstrap assembles the settlement stack shared by the API and the
// cron worker.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"

	"github.com/bazaarhq/bazaar-backend/internal/commission"
	"github.com/bazaarhq/bazaar-backend/internal/ledger"
	"github.com/bazaarhq/bazaar-backend/internal/orders"
	"github.com/bazaarhq/bazaar-backend/internal/reconciliation"
	"github.com/bazaarhq/bazaar-backend/internal/revenue"
	"github.com/bazaarhq/bazaar-backend/internal/sellers"
	"github.com/bazaarhq/bazaar-backend/internal/settlement"
	"github.com/bazaarhq/bazaar-backend/pkg/config"
	"github.com/bazaarhq/bazaar-backend/pkg/db"
	"github.com/bazaarhq/bazaar-backend/pkg/logger"
	"github.com/bazaarhq/bazaar-backend/pkg/metrics"
	"github.com/bazaarhq/bazaar-backend/pkg/outbox"
	"github.com/bazaarhq/bazaar-backend/pkg/payments"
	"github.com/bazaarhq/bazaar-backend/pkg/redis"
	"github.com/bazaarhq/bazaar-backend/pkg/square"
	"github.com/bazaarhq/bazaar-backend/pkg/stripe"
)

// Providers are the money-moving clients. Stripe always handles payouts;
// the collector follows BAZAAR_PAYMENT_PROVIDER.
type Providers struct {
	Stripe    *stripe.Client
	Collector payments.Collector
}

func NewProviders(ctx context.Context, cfg *config.Config, logg *logger.Logger) (*Providers, error) {
	stripeClient, err := stripe.NewClient(ctx, cfg.Stripe, logg)
	if err != nil {
		return nil, fmt.Errorf("stripe client: %w", err)
	}
	provider, err := cfg.Payments.ProviderName()
	if err != nil {
		return nil, err
	}
	p := &Providers{Stripe: stripeClient, Collector: stripeClient}
	if provider == config.PaymentProviderSquare {
		squareClient, err := square.NewClient(ctx, cfg.Square, logg)
		if err != nil {
			return nil, fmt.Errorf("square client: %w", err)
		}
		p.Collector = squareClient
	}
	return p, nil
}

// StackParams are the process-level dependencies of the settlement stack.
type StackParams struct {
	Config     *config.Config
	Logger     *logger.Logger
	DB         *gorm.DB
	Tx         db.TxRunner
	LockStore  redis.LockStore
	Registerer prometheus.Registerer
	Collector  payments.Collector
	Transferer payments.Transferer
	Connect    sellers.ConnectClient
}

// Stack holds every settlement service wired against one database.
type Stack struct {
	Outbox         *outbox.Service
	Orders         orders.Service
	Sellers        sellers.Service
	Executor       *settlement.Executor
	Reconciliation reconciliation.Service
	Revenue        revenue.Service
	Metrics        *metrics.SettlementMetrics
}

func NewStack(p StackParams) (*Stack, error) {
	if p.Config == nil || p.Logger == nil || p.DB == nil || p.Tx == nil {
		return nil, fmt.Errorf("config, logger and database are required")
	}
	if p.LockStore == nil {
		return nil, fmt.Errorf("lock store required")
	}
	cfg := p.Config

	rate, err := cfg.Commission.DecimalRate()
	if err != nil {
		return nil, err
	}
	calc, err := commission.NewCalculator(rate)
	if err != nil {
		return nil, err
	}

	emitter := outbox.NewService(outbox.NewRepository(p.DB), p.Logger)
	settlementMetrics := metrics.NewSettlementMetrics(p.Registerer)

	orderSvc, err := orders.NewService(orders.NewRepository(p.DB), p.Tx, emitter, p.Logger)
	if err != nil {
		return nil, fmt.Errorf("orders service: %w", err)
	}
	sellersRepo := sellers.NewRepository(p.DB)
	sellerSvc, err := sellers.NewService(sellersRepo, p.Connect, p.Logger)
	if err != nil {
		return nil, fmt.Errorf("sellers service: %w", err)
	}

	payoutLedger, err := ledger.NewService(ledger.NewRepository(p.DB))
	if err != nil {
		return nil, fmt.Errorf("settlement ledger: %w", err)
	}
	queue := reconciliation.NewRepository(p.DB)
	alerter := settlement.NewAlerter(emitter, settlementMetrics, p.Logger)
	exec, err := settlement.NewExecutor(settlement.Deps{
		Repo:         settlement.NewRepository(p.DB),
		Orders:       orderSvc,
		Destinations: sellerSvc,
		Calculator:   calc,
		Collector:    p.Collector,
		Transferer:   p.Transferer,
		Queue:        queue,
		Ledger:       payoutLedger,
		Tx:           p.Tx,
		Locker:       settlement.NewRedisLocker(p.LockStore, cfg.Settlement.LockTTL, p.Logger),
		Alerter:      alerter,
		Outbox:       emitter,
		Metrics:      settlementMetrics,
		Logger:       p.Logger,
		Config:       cfg.Settlement,
	})
	if err != nil {
		return nil, fmt.Errorf("settlement executor: %w", err)
	}

	reconciler, err := reconciliation.NewService(reconciliation.ServiceParams{
		Repo:    queue,
		Driver:  exec,
		Tx:      p.Tx,
		Alerter: alerter,
		Metrics: settlementMetrics,
		Logger:  p.Logger,
		Config:  cfg.Reconciliation,
	})
	if err != nil {
		return nil, fmt.Errorf("reconciliation service: %w", err)
	}

	revenueSvc, err := revenue.NewService(revenue.NewRepository(p.DB), sellersRepo, rate, p.Logger)
	if err != nil {
		return nil, fmt.Errorf("revenue service: %w", err)
	}

	return &Stack{
		Outbox:         emitter,
		Orders:         orderSvc,
		Sellers:        sellerSvc,
		Executor:       exec,
		Reconciliation: reconciler,
		Revenue:        revenueSvc,
		Metrics:        settlementMetrics,
	}, nil
}
