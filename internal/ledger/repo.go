package ledger

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/bazaarhq/bazaar-backend/pkg/db/models"
	"github.com/bazaarhq/bazaar-backend/pkg/enums"
)

// Repository persists settlement ledger entries. There is no update or
// delete; corrections are new entries.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, entry *models.SettlementLedgerEntry) error
	ListBySettlement(ctx context.Context, settlementID uuid.UUID) ([]models.SettlementLedgerEntry, error)
	FindRecovered(ctx context.Context, settlementID uuid.UUID) (*models.SettlementLedgerEntry, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, entry *models.SettlementLedgerEntry) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *repository) ListBySettlement(ctx context.Context, settlementID uuid.UUID) ([]models.SettlementLedgerEntry, error) {
	var entries []models.SettlementLedgerEntry
	if err := r.db.WithContext(ctx).
		Where("settlement_id = ?", settlementID).
		Order("created_at ASC, transfer_attempt ASC").
		Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

// FindRecovered returns nil without error when the payout was never recovered.
func (r *repository) FindRecovered(ctx context.Context, settlementID uuid.UUID) (*models.SettlementLedgerEntry, error) {
	var entries []models.SettlementLedgerEntry
	if err := r.db.WithContext(ctx).
		Where("settlement_id = ? AND entry_type = ?", settlementID, enums.LedgerPayoutRecovered).
		Limit(1).
		Find(&entries).Error; err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return &entries[0], nil
}
