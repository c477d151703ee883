package square

import (
	"strings"

	sq "github.com/square/square-go-sdk"
)

// paymentInput is the subset of a charge Square needs. Optional strings
// are dropped from the request when blank.
type paymentInput struct {
	Amount         int64
	Currency       string
	LocationID     string
	SourceID       string
	IdempotencyKey string
	Note           string
	ReferenceID    string
}

func (in paymentInput) request() *sq.CreatePaymentRequest {
	currency := sq.Currency(strings.ToUpper(strings.TrimSpace(in.Currency)))
	if currency == "" {
		currency = sq.Currency("USD")
	}
	autocomplete := true
	req := &sq.CreatePaymentRequest{
		IdempotencyKey: in.IdempotencyKey,
		SourceID:       in.SourceID,
		LocationID:     optional(in.LocationID),
		Autocomplete:   &autocomplete,
		Note:           optional(in.Note),
		ReferenceID:    optional(in.ReferenceID),
	}
	if in.Amount > 0 {
		amount := in.Amount
		req.AmountMoney = &sq.Money{Amount: &amount, Currency: &currency}
	}
	return req
}

func optional(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}
