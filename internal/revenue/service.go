package revenue

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bazaarhq/bazaar-backend/pkg/enums"
	pkgerrors "github.com/bazaarhq/bazaar-backend/pkg/errors"
	"github.com/bazaarhq/bazaar-backend/pkg/logger"
)

type verifiedSellerCounter interface {
	CountVerified(ctx context.Context) (int64, error)
}

// Query narrows the summary to one currency and an optional
// [From, To) window on the charge time.
type Query struct {
	Currency string
	From     *time.Time
	To       *time.Time
}

// Summary is the platform's take across settled charges.
type Summary struct {
	Currency         enums.Currency  `json:"currency"`
	TotalCommissions decimal.Decimal `json:"total_commissions"`
	TotalPayouts     decimal.Decimal `json:"total_payouts"`
	PayoutsOwed      decimal.Decimal `json:"payouts_owed"`
	TotalOrders      int64           `json:"total_orders"`
	ActiveSellers    int64           `json:"active_sellers"`
	VerifiedSellers  int64           `json:"verified_sellers"`
	CommissionRate   decimal.Decimal `json:"commission_rate"`
	From             *time.Time      `json:"from,omitempty"`
	To               *time.Time      `json:"to,omitempty"`
}

type Service interface {
	Summary(ctx context.Context, q Query) (*Summary, error)
}

type service struct {
	repo    Repository
	sellers verifiedSellerCounter
	rate    decimal.Decimal
	logg    *logger.Logger
}

func NewService(repo Repository, sellers verifiedSellerCounter, rate decimal.Decimal, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("revenue repository required")
	}
	if sellers == nil {
		return nil, fmt.Errorf("seller counter required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &service{repo: repo, sellers: sellers, rate: rate, logg: logg}, nil
}

func (s *service) Summary(ctx context.Context, q Query) (*Summary, error) {
	currency := enums.CurrencyUSD
	if raw := strings.TrimSpace(q.Currency); raw != "" {
		parsed, err := enums.ParseCurrency(raw)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid currency")
		}
		currency = parsed
	}
	if q.From != nil && q.To != nil && !q.From.Before(*q.To) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "from must be before to")
	}

	totals, err := s.repo.Totals(ctx, currency, q.From, q.To)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "aggregate settlements")
	}
	verified, err := s.sellers.CountVerified(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count verified sellers")
	}

	return &Summary{
		Currency:         currency,
		TotalCommissions: totals.Commission.Round(2),
		TotalPayouts:     totals.Payouts.Round(2),
		PayoutsOwed:      totals.PayoutsOwed.Round(2),
		TotalOrders:      totals.Orders,
		ActiveSellers:    totals.ActiveSellers,
		VerifiedSellers:  verified,
		CommissionRate:   s.rate,
		From:             q.From,
		To:               q.To,
	}, nil
}
