// Package payments defines the provider-neutral contract between the
// settlement flow and the card processors that move money.
package payments

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/bazaarhq/bazaar-backend/pkg/enums"
)

var (
	// ErrDeclined means the provider definitively refused to move money.
	ErrDeclined = errors.New("payment declined")
	// ErrRejected means a payout was definitively refused.
	ErrRejected = errors.New("transfer rejected")
	// ErrUnknownOutcome means the call may or may not have taken effect.
	// Callers must reconcile with the same idempotency key.
	ErrUnknownOutcome = errors.New("payment outcome unknown")
)

// ProviderError carries the provider's own code next to one of the sentinel
// errors above.
type ProviderError struct {
	Kind    error
	Code    string
	Message string
	Cause   error
}

func (e *ProviderError) Error() string {
	msg := e.Kind.Error()
	if e.Code != "" {
		msg += " (" + e.Code + ")"
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

// Is lets errors.Is match the sentinel kind.
func (e *ProviderError) Is(target error) bool {
	return target == e.Kind
}

func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// Declined builds a ProviderError of kind ErrDeclined.
func Declined(code, message string, cause error) error {
	return &ProviderError{Kind: ErrDeclined, Code: code, Message: message, Cause: cause}
}

// Rejected builds a ProviderError of kind ErrRejected.
func Rejected(code, message string, cause error) error {
	return &ProviderError{Kind: ErrRejected, Code: code, Message: message, Cause: cause}
}

// Unknown builds a ProviderError of kind ErrUnknownOutcome.
func Unknown(code, message string, cause error) error {
	return &ProviderError{Kind: ErrUnknownOutcome, Code: code, Message: message, Cause: cause}
}

type ChargeRequest struct {
	Amount           decimal.Decimal
	Currency         enums.Currency
	PaymentMethodRef string
	IdempotencyKey   string
	Description      string
	Metadata         map[string]string
}

type ChargeResult struct {
	Ref    string
	Status string
}

type TransferRequest struct {
	Amount         decimal.Decimal
	Currency       enums.Currency
	DestinationRef string
	IdempotencyKey string
	TransferGroup  string
	Metadata       map[string]string
}

type TransferResult struct {
	Ref    string
	Status string
}

// Collector charges buyers. Repeating a call with the same idempotency key
// must never charge twice.
type Collector interface {
	Provider() enums.PaymentProvider
	Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
}

// Transferer moves the seller's share to their payout destination.
type Transferer interface {
	Transfer(ctx context.Context, req TransferRequest) (*TransferResult, error)
}

// MinorUnits converts a two-decimal amount into integer cents.
func MinorUnits(amount decimal.Decimal) (int64, error) {
	if amount.Exponent() < -2 && !amount.Equal(amount.Round(2)) {
		return 0, fmt.Errorf("amount %s has more than two decimal places", amount)
	}
	if !amount.IsPositive() {
		return 0, fmt.Errorf("amount %s must be positive", amount)
	}
	return amount.Shift(2).IntPart(), nil
}
