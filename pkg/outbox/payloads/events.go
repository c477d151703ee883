package payloads

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bazaarhq/bazaar-backend/pkg/enums"
)

// OrderCreatedEvent announces a newly persisted order.
type OrderCreatedEvent struct {
	OrderID     uuid.UUID       `json:"order_id"`
	PublicRef   string          `json:"public_ref"`
	BuyerID     uuid.UUID       `json:"buyer_id"`
	SellerID    uuid.UUID       `json:"seller_id"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Currency    enums.Currency  `json:"currency"`
}

// SettlementCompletedEvent is emitted once the seller payout lands.
type SettlementCompletedEvent struct {
	SettlementID       uuid.UUID       `json:"settlement_id"`
	OrderID            uuid.UUID       `json:"order_id"`
	SellerID           uuid.UUID       `json:"seller_id"`
	AttemptNumber      int             `json:"attempt_number"`
	TotalAmount        decimal.Decimal `json:"total_amount"`
	PlatformCommission decimal.Decimal `json:"platform_commission"`
	SellerPayout       decimal.Decimal `json:"seller_payout"`
	Currency           enums.Currency  `json:"currency"`
	ChargeRef          string          `json:"charge_ref"`
	TransferRef        string          `json:"transfer_ref"`
	CompletedAt        time.Time       `json:"completed_at"`
}

// SettlementChargeFailedEvent is emitted when the collector declines the buyer.
type SettlementChargeFailedEvent struct {
	SettlementID  uuid.UUID `json:"settlement_id"`
	OrderID       uuid.UUID `json:"order_id"`
	BuyerID       uuid.UUID `json:"buyer_id"`
	AttemptNumber int       `json:"attempt_number"`
	Reason        string    `json:"reason"`
}

// SettlementAlertEvent asks an operator to look at a settlement that cannot
// finish on its own.
type SettlementAlertEvent struct {
	SettlementID uuid.UUID                  `json:"settlement_id"`
	OrderID      uuid.UUID                  `json:"order_id"`
	SellerID     uuid.UUID                  `json:"seller_id"`
	Reason       enums.ReconciliationReason `json:"reason"`
	Outcome      enums.SettlementOutcome    `json:"outcome"`
	SellerPayout decimal.Decimal            `json:"seller_payout"`
	Currency     enums.Currency             `json:"currency"`
	Attempts     int                        `json:"attempts"`
	LastError    string                     `json:"last_error,omitempty"`
	RaisedAt     time.Time                  `json:"raised_at"`
	Abandoned    bool                       `json:"abandoned"`
}
