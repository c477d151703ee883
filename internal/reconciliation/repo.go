package reconciliation

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/bazaarhq/bazaar-backend/pkg/db/models"
	"github.com/bazaarhq/bazaar-backend/pkg/enums"
)

// Repository stores reconciliation items. It also satisfies
// settlement.Queue so the executor can enqueue inside its transactions.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	EnqueueTx(ctx context.Context, tx *gorm.DB, record *models.SettlementRecord, reason enums.ReconciliationReason, lastErr string) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.ReconciliationItem, error)
	FindOpen(ctx context.Context, settlementID uuid.UUID, reason enums.ReconciliationReason) (*models.ReconciliationItem, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]models.ReconciliationItem, error)
	ListOpen(ctx context.Context, reason *enums.ReconciliationReason, limit int) ([]models.ReconciliationItem, error)
	Reschedule(ctx context.Context, id uuid.UUID, attempts int, next time.Time, lastErr string) error
	Close(ctx context.Context, id uuid.UUID, status enums.ReconciliationStatus, note string, transferRef *string, at time.Time) (bool, error)
	CountOpenByReason(ctx context.Context) (map[enums.ReconciliationReason]int64, error)
}

type repository struct {
	db  *gorm.DB
	now func() time.Time
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db, now: time.Now}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx, now: r.now}
}

// EnqueueTx opens an item due immediately. An item already open for the
// same settlement and reason is kept and only its last error refreshed.
func (r *repository) EnqueueTx(ctx context.Context, tx *gorm.DB, record *models.SettlementRecord, reason enums.ReconciliationReason, lastErr string) error {
	conn := r.db
	if tx != nil {
		conn = tx
	}
	now := r.now().UTC()
	item := &models.ReconciliationItem{
		ID:            uuid.New(),
		SettlementID:  record.ID,
		OrderID:       record.OrderID,
		Reason:        reason,
		Status:        enums.ReconciliationStatusOpen,
		NextAttemptAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if lastErr != "" {
		item.LastError = &lastErr
	}
	return conn.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:     []clause.Column{{Name: "settlement_id"}, {Name: "reason"}},
			TargetWhere: clause.Where{Exprs: []clause.Expression{clause.Expr{SQL: "status = 'open'"}}},
			DoUpdates:   clause.AssignmentColumns([]string{"last_error", "updated_at"}),
		}).
		Create(item).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.ReconciliationItem, error) {
	var item models.ReconciliationItem
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&item).Error; err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *repository) FindOpen(ctx context.Context, settlementID uuid.UUID, reason enums.ReconciliationReason) (*models.ReconciliationItem, error) {
	var item models.ReconciliationItem
	err := r.db.WithContext(ctx).
		Where("settlement_id = ? AND reason = ? AND status = ?", settlementID, reason, enums.ReconciliationStatusOpen).
		First(&item).Error
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// ListDue returns open items whose next attempt is due, oldest first.
func (r *repository) ListDue(ctx context.Context, now time.Time, limit int) ([]models.ReconciliationItem, error) {
	var items []models.ReconciliationItem
	err := r.db.WithContext(ctx).
		Where("status = ? AND next_attempt_at <= ?", enums.ReconciliationStatusOpen, now).
		Order("next_attempt_at ASC").
		Limit(limit).
		Find(&items).Error
	return items, err
}

func (r *repository) ListOpen(ctx context.Context, reason *enums.ReconciliationReason, limit int) ([]models.ReconciliationItem, error) {
	query := r.db.WithContext(ctx).
		Where("status = ?", enums.ReconciliationStatusOpen)
	if reason != nil {
		query = query.Where("reason = ?", *reason)
	}
	var items []models.ReconciliationItem
	err := query.Order("created_at ASC").Limit(limit).Find(&items).Error
	return items, err
}

func (r *repository) Reschedule(ctx context.Context, id uuid.UUID, attempts int, next time.Time, lastErr string) error {
	updates := map[string]any{
		"attempts":        attempts,
		"next_attempt_at": next,
		"updated_at":      r.now().UTC(),
	}
	if lastErr != "" {
		updates["last_error"] = lastErr
	}
	return r.db.WithContext(ctx).
		Model(&models.ReconciliationItem{}).
		Where("id = ? AND status = ?", id, enums.ReconciliationStatusOpen).
		Updates(updates).Error
}

// Close moves an open item to resolved or abandoned. It reports false when
// the item was no longer open.
func (r *repository) Close(ctx context.Context, id uuid.UUID, status enums.ReconciliationStatus, note string, transferRef *string, at time.Time) (bool, error) {
	updates := map[string]any{
		"status":      status,
		"resolved_at": at,
		"updated_at":  at,
	}
	if note != "" {
		updates["resolution_note"] = note
	}
	if transferRef != nil {
		updates["resolved_transfer_ref"] = *transferRef
	}
	res := r.db.WithContext(ctx).
		Model(&models.ReconciliationItem{}).
		Where("id = ? AND status = ?", id, enums.ReconciliationStatusOpen).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) CountOpenByReason(ctx context.Context) (map[enums.ReconciliationReason]int64, error) {
	var rows []struct {
		Reason enums.ReconciliationReason
		Total  int64
	}
	err := r.db.WithContext(ctx).
		Model(&models.ReconciliationItem{}).
		Select("reason, COUNT(*) AS total").
		Where("status = ?", enums.ReconciliationStatusOpen).
		Group("reason").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[enums.ReconciliationReason]int64, len(rows))
	for _, row := range rows {
		counts[row.Reason] = row.Total
	}
	return counts, nil
}
