package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bazaarhq/bazaar-backend/pkg/enums"
)

// SettlementLedgerEntry records a payout attempt made after its settlement
// record went terminal. Rows are only ever inserted.
type SettlementLedgerEntry struct {
	ID              uuid.UUID             `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	SettlementID    uuid.UUID             `gorm:"column:settlement_id;type:uuid;not null" json:"settlement_id"`
	OrderID         uuid.UUID             `gorm:"column:order_id;type:uuid;not null" json:"order_id"`
	SellerID        uuid.UUID             `gorm:"column:seller_id;type:uuid;not null" json:"seller_id"`
	EntryType       enums.LedgerEntryType `gorm:"column:entry_type;type:text;not null" json:"entry_type"`
	Amount          decimal.Decimal       `gorm:"column:amount;type:numeric(12,2);not null" json:"amount"`
	Currency        enums.Currency        `gorm:"column:currency;type:text;not null" json:"currency"`
	TransferAttempt int                   `gorm:"column:transfer_attempt;not null" json:"transfer_attempt"`
	Destination     *string               `gorm:"column:destination" json:"destination,omitempty"`
	TransferRef     *string               `gorm:"column:transfer_ref" json:"transfer_ref,omitempty"`
	Error           *string               `gorm:"column:error" json:"error,omitempty"`
	CreatedAt       time.Time             `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (SettlementLedgerEntry) TableName() string { return "settlement_ledger_entries" }
