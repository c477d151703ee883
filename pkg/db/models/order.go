package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bazaarhq/bazaar-backend/pkg/enums"
	"github.com/bazaarhq/bazaar-backend/pkg/types"
)

// Order is a buyer's purchase from a single seller.
type Order struct {
	ID              uuid.UUID             `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	PublicRef       string                `gorm:"column:public_ref;not null;uniqueIndex" json:"public_ref"`
	BuyerID         uuid.UUID             `gorm:"column:buyer_id;type:uuid;not null" json:"buyer_id"`
	SellerID        uuid.UUID             `gorm:"column:seller_id;type:uuid;not null" json:"seller_id"`
	TotalAmount     decimal.Decimal       `gorm:"column:total_amount;type:numeric(12,2);not null" json:"total_amount"`
	Currency        enums.Currency        `gorm:"column:currency;type:text;not null;default:'usd'" json:"currency"`
	ShippingAddress types.ShippingAddress `gorm:"column:shipping_address;type:jsonb;serializer:json;not null" json:"shipping_address"`
	PaymentMethod   string                `gorm:"column:payment_method;not null" json:"payment_method"`
	Status          enums.OrderStatus     `gorm:"column:status;type:order_status;not null;default:'pending'" json:"status"`
	CreatedAt       time.Time             `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time             `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// OrderStatusEvent is the append-only audit trail of order transitions.
type OrderStatusEvent struct {
	ID         uuid.UUID          `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	OrderID    uuid.UUID          `gorm:"column:order_id;type:uuid;not null" json:"order_id"`
	FromStatus *enums.OrderStatus `gorm:"column:from_status;type:order_status" json:"from_status"`
	ToStatus   enums.OrderStatus  `gorm:"column:to_status;type:order_status;not null" json:"to_status"`
	Reason     *string            `gorm:"column:reason" json:"reason"`
	CreatedAt  time.Time          `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}
