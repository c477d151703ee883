package revenue

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/bazaarhq/bazaar-backend/pkg/db/models"
	"github.com/bazaarhq/bazaar-backend/pkg/enums"
)

// chargedOutcomes are the outcomes whose buyer charge succeeded.
var chargedOutcomes = []enums.SettlementOutcome{
	enums.SettlementTransferInProgress,
	enums.SettlementChargeSucceededTransferPending,
	enums.SettlementChargeSucceededTransferFailed,
	enums.SettlementCompleted,
}

// owedOutcomes still owe the seller unless the settlement ledger holds a
// recovered payout for them.
var owedOutcomes = []enums.SettlementOutcome{
	enums.SettlementTransferInProgress,
	enums.SettlementChargeSucceededTransferPending,
	enums.SettlementChargeSucceededTransferFailed,
}

type Totals struct {
	Commission    decimal.Decimal
	Payouts       decimal.Decimal
	PayoutsOwed   decimal.Decimal
	Orders        int64
	ActiveSellers int64
}

type Repository interface {
	Totals(ctx context.Context, currency enums.Currency, from, to *time.Time) (Totals, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Totals(ctx context.Context, currency enums.Currency, from, to *time.Time) (Totals, error) {
	scoped := func() *gorm.DB {
		q := r.db.WithContext(ctx).
			Model(&models.SettlementRecord{}).
			Where("currency = ? AND outcome IN ?", currency, chargedOutcomes)
		if from != nil {
			q = q.Where("charge_completed_at >= ?", *from)
		}
		if to != nil {
			q = q.Where("charge_completed_at < ?", *to)
		}
		return q
	}

	var row struct {
		Commission    decimal.Decimal
		Payouts       decimal.Decimal
		Orders        int64
		ActiveSellers int64
	}
	err := scoped().
		Select(`COALESCE(SUM(platform_commission), 0) AS commission,
			COALESCE(SUM(seller_payout), 0) AS payouts,
			COUNT(DISTINCT order_id) AS orders,
			COUNT(DISTINCT seller_id) AS active_sellers`).
		Scan(&row).Error
	if err != nil {
		return Totals{}, err
	}

	var owed struct {
		Amount decimal.Decimal
	}
	recovered := r.db.WithContext(ctx).
		Model(&models.SettlementLedgerEntry{}).
		Select("1").
		Where("settlement_ledger_entries.settlement_id = settlement_records.id AND settlement_ledger_entries.entry_type = ?", enums.LedgerPayoutRecovered)
	err = scoped().
		Where("outcome IN ?", owedOutcomes).
		Where("NOT EXISTS (?)", recovered).
		Select("COALESCE(SUM(seller_payout), 0) AS amount").
		Scan(&owed).Error
	if err != nil {
		return Totals{}, err
	}

	return Totals{
		Commission:    row.Commission,
		Payouts:       row.Payouts,
		PayoutsOwed:   owed.Amount,
		Orders:        row.Orders,
		ActiveSellers: row.ActiveSellers,
	}, nil
}
