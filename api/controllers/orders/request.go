package orders

import (
	"github.com/shopspring/decimal"

	"github.com/bazaarhq/bazaar-backend/pkg/types"
)

type createOrderRequest struct {
	SellerID        string                `json:"seller_id" validate:"required,uuid"`
	TotalAmount     decimal.Decimal       `json:"total_amount"`
	Currency        string                `json:"currency" validate:"omitempty,currency"`
	ShippingAddress types.ShippingAddress `json:"shipping_address"`
	PaymentMethod   string                `json:"payment_method" validate:"required,max=255"`
}

// settleRequest lets a buyer retry a declined order with another card.
type settleRequest struct {
	PaymentMethod string `json:"payment_method" validate:"omitempty,max=255"`
}
