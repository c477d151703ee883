package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bazaarhq/bazaar-backend/pkg/enums"
)

// SettlementRecord is one attempt to settle one order. Amounts always satisfy
// PlatformCommission + SellerPayout == TotalAmount.
type SettlementRecord struct {
	ID                  uuid.UUID               `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID             uuid.UUID               `gorm:"column:order_id;type:uuid;not null"`
	SellerID            uuid.UUID               `gorm:"column:seller_id;type:uuid;not null"`
	AttemptNumber       int                     `gorm:"column:attempt_number;not null"`
	CommissionRate      decimal.Decimal         `gorm:"column:commission_rate;type:numeric(5,4);not null"`
	TotalAmount         decimal.Decimal         `gorm:"column:total_amount;type:numeric(12,2);not null"`
	PlatformCommission  decimal.Decimal         `gorm:"column:platform_commission;type:numeric(12,2);not null"`
	SellerPayout        decimal.Decimal         `gorm:"column:seller_payout;type:numeric(12,2);not null"`
	Currency            enums.Currency          `gorm:"column:currency;type:text;not null"`
	IdempotencyKey      string                  `gorm:"column:idempotency_key;not null"`
	PaymentProvider     enums.PaymentProvider   `gorm:"column:payment_provider;type:text;not null"`
	PaymentMethodRef    string                  `gorm:"column:payment_method_ref;not null"`
	ChargeRef           *string                 `gorm:"column:charge_ref"`
	PayoutDestination   *string                 `gorm:"column:payout_destination"`
	TransferRef         *string                 `gorm:"column:transfer_ref"`
	TransferAttempts    int                     `gorm:"column:transfer_attempts;not null;default:0"`
	Outcome             enums.SettlementOutcome `gorm:"column:outcome;type:settlement_outcome;not null;default:'charge_pending'"`
	LastError           *string                 `gorm:"column:last_error"`
	ChargeCompletedAt   *time.Time              `gorm:"column:charge_completed_at"`
	TransferCompletedAt *time.Time              `gorm:"column:transfer_completed_at"`
	CreatedAt           time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt           time.Time               `gorm:"column:updated_at;autoUpdateTime"`
}

// TransferIdempotencyKey is stable across every transfer retry for this record.
func (r SettlementRecord) TransferIdempotencyKey() string {
	return "payout_" + r.ID.String()
}
