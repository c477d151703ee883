package settlement

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/bazaarhq/bazaar-backend/pkg/db/models"
	"github.com/bazaarhq/bazaar-backend/pkg/enums"
)

// Repository persists settlement attempts. Outcome changes go through
// Advance so a terminal record can never be rewritten.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, record *models.SettlementRecord) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.SettlementRecord, error)
	LatestForOrder(ctx context.Context, orderID uuid.UUID) (*models.SettlementRecord, error)
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.SettlementRecord, error)
	Advance(ctx context.Context, id uuid.UUID, from enums.SettlementOutcome, updates map[string]any) (bool, error)
	Annotate(ctx context.Context, id uuid.UUID, updates map[string]any) error
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

func (r *repository) Create(ctx context.Context, record *models.SettlementRecord) error {
	return r.db.WithContext(ctx).Create(record).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.SettlementRecord, error) {
	var record models.SettlementRecord
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&record).Error; err != nil {
		return nil, err
	}
	return &record, nil
}

// LatestForOrder returns nil without error when the order was never settled.
// Callers hold the order's settlement lock; the (order_id, attempt_number)
// unique index catches anyone who does not.
func (r *repository) LatestForOrder(ctx context.Context, orderID uuid.UUID) (*models.SettlementRecord, error) {
	var record models.SettlementRecord
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("attempt_number DESC").
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *repository) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.SettlementRecord, error) {
	var records []models.SettlementRecord
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("attempt_number ASC").
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

// Advance applies updates only while the record is still in from, and from
// must be non-terminal. It reports whether the row moved.
func (r *repository) Advance(ctx context.Context, id uuid.UUID, from enums.SettlementOutcome, updates map[string]any) (bool, error) {
	if from.IsTerminal() {
		return false, nil
	}
	res := r.db.WithContext(ctx).
		Model(&models.SettlementRecord{}).
		Where("id = ? AND outcome = ? AND outcome IN ?", id, from, enums.NonTerminalSettlementOutcomes).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// Annotate updates bookkeeping columns of a non-terminal record without
// touching the outcome. Terminal records are left as they are.
func (r *repository) Annotate(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	delete(updates, "outcome")
	return r.db.WithContext(ctx).
		Model(&models.SettlementRecord{}).
		Where("id = ? AND outcome IN ?", id, enums.NonTerminalSettlementOutcomes).
		Updates(updates).Error
}
