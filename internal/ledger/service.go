// Package ledger keeps the append-only history of payouts attempted after a
// settlement record reached a terminal outcome. The record itself never
// changes again, so the ledger is where a late payout is remembered.
package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/bazaarhq/bazaar-backend/pkg/db"
	"github.com/bazaarhq/bazaar-backend/pkg/db/models"
	"github.com/bazaarhq/bazaar-backend/pkg/enums"
	pkgerrors "github.com/bazaarhq/bazaar-backend/pkg/errors"
)

const recoveredConstraint = "ux_settlement_ledger_entries_recovered"

type Service interface {
	RecordEntry(ctx context.Context, tx *gorm.DB, input RecordEntryInput) (*models.SettlementLedgerEntry, error)
	RecoveredPayout(ctx context.Context, settlementID uuid.UUID) (*models.SettlementLedgerEntry, error)
	ListBySettlement(ctx context.Context, settlementID uuid.UUID) ([]models.SettlementLedgerEntry, error)
}

// RecordEntryInput is one payout attempt against a terminal settlement.
type RecordEntryInput struct {
	SettlementID    uuid.UUID
	OrderID         uuid.UUID
	SellerID        uuid.UUID
	Type            enums.LedgerEntryType
	Amount          decimal.Decimal
	Currency        enums.Currency
	TransferAttempt int
	Destination     string
	TransferRef     string
	Error           string
}

type service struct {
	repo Repository
	now  func() time.Time
}

func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	return &service{repo: repo, now: time.Now}, nil
}

func (in RecordEntryInput) validate() error {
	switch {
	case in.SettlementID == uuid.Nil:
		return fmt.Errorf("settlement id is required")
	case in.OrderID == uuid.Nil:
		return fmt.Errorf("order id is required")
	case in.SellerID == uuid.Nil:
		return fmt.Errorf("seller id is required")
	case !in.Type.IsValid():
		return fmt.Errorf("invalid ledger entry type %q", in.Type)
	case !in.Amount.IsPositive():
		return fmt.Errorf("amount must be positive")
	case !in.Currency.IsValid():
		return fmt.Errorf("invalid currency %q", in.Currency)
	case in.TransferAttempt < 1:
		return fmt.Errorf("transfer attempt must be at least 1")
	case in.Type == enums.LedgerPayoutRecovered && strings.TrimSpace(in.TransferRef) == "":
		return fmt.Errorf("recovered payout needs a transfer ref")
	}
	return nil
}

// RecordEntry appends an entry inside tx. A second recovered payout for the
// same settlement is a conflict.
func (s *service) RecordEntry(ctx context.Context, tx *gorm.DB, input RecordEntryInput) (*models.SettlementLedgerEntry, error) {
	if err := input.validate(); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid ledger entry")
	}

	entry := &models.SettlementLedgerEntry{
		ID:              uuid.New(),
		SettlementID:    input.SettlementID,
		OrderID:         input.OrderID,
		SellerID:        input.SellerID,
		EntryType:       input.Type,
		Amount:          input.Amount,
		Currency:        input.Currency,
		TransferAttempt: input.TransferAttempt,
		Destination:     optional(input.Destination),
		TransferRef:     optional(input.TransferRef),
		Error:           optional(input.Error),
		CreatedAt:       s.now().UTC(),
	}
	if err := s.repo.WithTx(tx).Create(ctx, entry); err != nil {
		if db.IsUniqueViolation(err, recoveredConstraint) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "payout already recovered")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append ledger entry")
	}
	return entry, nil
}

func (s *service) RecoveredPayout(ctx context.Context, settlementID uuid.UUID) (*models.SettlementLedgerEntry, error) {
	entry, err := s.repo.FindRecovered(ctx, settlementID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load recovered payout")
	}
	return entry, nil
}

func (s *service) ListBySettlement(ctx context.Context, settlementID uuid.UUID) ([]models.SettlementLedgerEntry, error) {
	entries, err := s.repo.ListBySettlement(ctx, settlementID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list ledger entries")
	}
	return entries, nil
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
