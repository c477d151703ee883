package orders

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bazaarhq/bazaar-backend/pkg/db/models"
	"github.com/bazaarhq/bazaar-backend/pkg/types"
)

// CreateOrderInput is everything a buyer supplies when placing an order.
type CreateOrderInput struct {
	BuyerID         uuid.UUID
	SellerID        uuid.UUID
	TotalAmount     decimal.Decimal
	Currency        string
	ShippingAddress types.ShippingAddress
	PaymentMethod   string
}

// OrderList is one cursor page of orders, newest first.
type OrderList struct {
	Orders     []models.Order `json:"orders"`
	NextCursor string         `json:"next_cursor,omitempty"`
}
