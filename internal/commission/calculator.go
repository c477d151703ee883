// Package commission splits an order total between the platform and the
// seller. It is pure: no I/O, no clock, no globals.
package commission

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// minorUnitPlaces is the number of fractional digits every amount carries.
const minorUnitPlaces = 2

var (
	ErrInvalidAmount = errors.New("total amount must be positive with at most two decimal places")
	ErrInvalidRate   = errors.New("commission rate must be in [0, 1)")
)

// Split is the outcome of applying the commission rate to a total.
type Split struct {
	Total              decimal.Decimal
	Rate               decimal.Decimal
	PlatformCommission decimal.Decimal
	SellerPayout       decimal.Decimal
}

// Calculator applies one deployment-wide commission rate.
type Calculator struct {
	rate decimal.Decimal
}

// NewCalculator validates the rate once so Split never has to.
func NewCalculator(rate decimal.Decimal) (*Calculator, error) {
	if err := validateRate(rate); err != nil {
		return nil, err
	}
	return &Calculator{rate: rate}, nil
}

// Rate returns the configured commission rate.
func (c *Calculator) Rate() decimal.Decimal {
	return c.rate
}

// Split computes the platform commission with banker's rounding to cents and
// gives the seller the remainder, so the two parts always sum to total.
func (c *Calculator) Split(total decimal.Decimal) (Split, error) {
	if err := validateAmount(total); err != nil {
		return Split{}, err
	}
	commission := total.Mul(c.rate).RoundBank(minorUnitPlaces)
	return Split{
		Total:              total,
		Rate:               c.rate,
		PlatformCommission: commission,
		SellerPayout:       total.Sub(commission),
	}, nil
}

// Compute is a one-shot Split for callers without a Calculator.
func Compute(total, rate decimal.Decimal) (Split, error) {
	calc, err := NewCalculator(rate)
	if err != nil {
		return Split{}, err
	}
	return calc.Split(total)
}

func validateRate(rate decimal.Decimal) error {
	if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("%w: got %s", ErrInvalidRate, rate)
	}
	return nil
}

func validateAmount(total decimal.Decimal) error {
	if !total.IsPositive() {
		return fmt.Errorf("%w: got %s", ErrInvalidAmount, total)
	}
	if !total.Equal(total.Truncate(minorUnitPlaces)) {
		return fmt.Errorf("%w: got %s", ErrInvalidAmount, total)
	}
	return nil
}
