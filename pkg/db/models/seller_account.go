package models

import (
	"time"

	"github.com/google/uuid"
)

// SellerAccount holds where a seller's payouts land.
type SellerAccount struct {
	SellerID          uuid.UUID `gorm:"column:seller_id;type:uuid;primaryKey" json:"seller_id"`
	PayoutDestination *string   `gorm:"column:payout_destination" json:"payout_destination"`
	Verified          bool      `gorm:"column:verified;not null;default:false" json:"verified"`
	CreatedAt         time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}
