package orders

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bazaarhq/bazaar-backend/internal/settlement"
	"github.com/bazaarhq/bazaar-backend/pkg/db/models"
	"github.com/bazaarhq/bazaar-backend/pkg/enums"
)

// Buyers only learn whether their charge went through. Payout progress
// stays with sellers and admins.
const (
	buyerOutcomeProcessing = "processing"
	buyerOutcomeDeclined   = "declined"
	buyerOutcomePaid       = "paid"
)

type settlementResponse struct {
	ID                  uuid.UUID             `json:"id"`
	OrderID             uuid.UUID             `json:"order_id"`
	AttemptNumber       int                   `json:"attempt_number"`
	Outcome             string                `json:"outcome"`
	TotalAmount         decimal.Decimal       `json:"total_amount"`
	PlatformCommission  decimal.Decimal       `json:"platform_commission"`
	SellerPayout        decimal.Decimal       `json:"seller_payout"`
	CommissionRate      decimal.Decimal       `json:"commission_rate"`
	Currency            enums.Currency        `json:"currency"`
	PaymentProvider     enums.PaymentProvider `json:"payment_provider"`
	ChargeRef           *string               `json:"charge_ref,omitempty"`
	TransferRef         *string               `json:"transfer_ref,omitempty"`
	TransferAttempts    int                   `json:"transfer_attempts,omitempty"`
	ChargeCompletedAt   *time.Time            `json:"charge_completed_at,omitempty"`
	TransferCompletedAt *time.Time            `json:"transfer_completed_at,omitempty"`
	CreatedAt           time.Time             `json:"created_at"`
}

type settleResponse struct {
	Settlement      settlementResponse `json:"settlement"`
	Pending         bool               `json:"pending"`
	Replayed        bool               `json:"replayed"`
	PayoutRecovered bool               `json:"payout_recovered,omitempty"`
}

func buyerOutcome(outcome enums.SettlementOutcome) string {
	switch {
	case outcome == enums.SettlementChargePending:
		return buyerOutcomeProcessing
	case outcome == enums.SettlementChargeFailed:
		return buyerOutcomeDeclined
	default:
		return buyerOutcomePaid
	}
}

func toSettlementResponse(record models.SettlementRecord, role enums.Role) settlementResponse {
	out := settlementResponse{
		ID:                 record.ID,
		OrderID:            record.OrderID,
		AttemptNumber:      record.AttemptNumber,
		Outcome:            record.Outcome.String(),
		TotalAmount:        record.TotalAmount,
		PlatformCommission: record.PlatformCommission,
		SellerPayout:       record.SellerPayout,
		CommissionRate:     record.CommissionRate,
		Currency:           record.Currency,
		PaymentProvider:    record.PaymentProvider,
		ChargeRef:          record.ChargeRef,
		ChargeCompletedAt:  record.ChargeCompletedAt,
		CreatedAt:          record.CreatedAt,
	}
	if role == enums.RoleBuyer {
		out.Outcome = buyerOutcome(record.Outcome)
		return out
	}
	out.TransferRef = record.TransferRef
	out.TransferAttempts = record.TransferAttempts
	out.TransferCompletedAt = record.TransferCompletedAt
	return out
}

func toSettleResponse(result *settlement.Result, role enums.Role) settleResponse {
	out := settleResponse{
		Settlement: toSettlementResponse(*result.Record, role),
		Pending:    result.Pending,
		Replayed:   result.Replayed,
	}
	if role == enums.RoleBuyer {
		return out
	}
	if result.TransferRef != "" {
		ref := result.TransferRef
		out.Settlement.TransferRef = &ref
	}
	out.PayoutRecovered = result.PayoutRecovered
	return out
}
