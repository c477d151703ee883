package sellers

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/bazaarhq/bazaar-backend/pkg/db/models"
)

// Repository persists seller payout accounts.
type Repository interface {
	FindBySellerID(ctx context.Context, sellerID uuid.UUID) (*models.SellerAccount, error)
	Upsert(ctx context.Context, account *models.SellerAccount) error
	CountVerified(ctx context.Context) (int64, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) FindBySellerID(ctx context.Context, sellerID uuid.UUID) (*models.SellerAccount, error) {
	var account models.SellerAccount
	if err := r.db.WithContext(ctx).Where("seller_id = ?", sellerID).First(&account).Error; err != nil {
		return nil, err
	}
	return &account, nil
}

// Upsert replaces the destination and verification flag for the seller.
func (r *repository) Upsert(ctx context.Context, account *models.SellerAccount) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "seller_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"payout_destination", "verified", "updated_at"}),
		}).
		Create(account).Error
}

func (r *repository) CountVerified(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.SellerAccount{}).
		Where("verified = ? AND payout_destination IS NOT NULL", true).
		Count(&count).Error
	return count, err
}
