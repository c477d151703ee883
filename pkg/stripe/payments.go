package stripe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/stripe/stripe-go/v84"

	"github.com/bazaarhq/bazaar-backend/pkg/enums"
	"github.com/bazaarhq/bazaar-backend/pkg/payments"
)

var errClientNotInitialized = errors.New("stripe client not initialized")

// Provider identifies Stripe as the collector that produced a charge.
func (c *Client) Provider() enums.PaymentProvider {
	return enums.PaymentProviderStripe
}

// Charge creates and confirms a PaymentIntent for the full order total. The
// buyer is off-session, so anything short of "succeeded" or "processing" is
// a decline.
func (c *Client) Charge(ctx context.Context, req payments.ChargeRequest) (*payments.ChargeResult, error) {
	if c == nil || c.newPaymentIntent == nil {
		return nil, errClientNotInitialized
	}
	amount, err := payments.MinorUnits(req.Amount)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.PaymentMethodRef) == "" {
		return nil, payments.Declined("missing_payment_method", "payment method is required", nil)
	}

	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(amount),
		Currency:      stripe.String(string(req.Currency)),
		PaymentMethod: stripe.String(req.PaymentMethodRef),
		Confirm:       stripe.Bool(true),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled:        stripe.Bool(true),
			AllowRedirects: stripe.String("never"),
		},
	}
	if req.Description != "" {
		params.Description = stripe.String(req.Description)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	params.SetIdempotencyKey(req.IdempotencyKey)
	params.Context = ctx

	intent, err := c.newPaymentIntent(params)
	if err != nil {
		return nil, classifyError(ctx, err, payments.Declined)
	}

	switch intent.Status {
	case stripe.PaymentIntentStatusSucceeded:
		return &payments.ChargeResult{Ref: intent.ID, Status: string(intent.Status)}, nil
	case stripe.PaymentIntentStatusProcessing:
		return nil, payments.Unknown(string(intent.Status), "payment intent "+intent.ID+" still processing", nil)
	default:
		code, msg := string(intent.Status), "payment intent "+intent.ID+" not completed"
		if intent.LastPaymentError != nil {
			code, msg = declineCode(intent.LastPaymentError), intent.LastPaymentError.Msg
		}
		return nil, payments.Declined(code, msg, nil)
	}
}

// Transfer moves the seller's share to their connected account.
func (c *Client) Transfer(ctx context.Context, req payments.TransferRequest) (*payments.TransferResult, error) {
	if c == nil || c.newTransfer == nil {
		return nil, errClientNotInitialized
	}
	amount, err := payments.MinorUnits(req.Amount)
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(req.DestinationRef, "acct_") {
		return nil, payments.Rejected("invalid_destination", fmt.Sprintf("destination %q is not a connected account", req.DestinationRef), nil)
	}

	params := &stripe.TransferParams{
		Amount:      stripe.Int64(amount),
		Currency:    stripe.String(string(req.Currency)),
		Destination: stripe.String(req.DestinationRef),
	}
	if req.TransferGroup != "" {
		params.TransferGroup = stripe.String(req.TransferGroup)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	params.SetIdempotencyKey(req.IdempotencyKey)
	params.Context = ctx

	tr, err := c.newTransfer(params)
	if err != nil {
		return nil, classifyError(ctx, err, payments.Rejected)
	}
	return &payments.TransferResult{Ref: tr.ID, Status: "created"}, nil
}

// classifyError sorts a Stripe failure into a definitive refusal or an
// unknown outcome. Only 4xx answers (other than rate limits, lock timeouts
// and idempotency conflicts) are definitive.
func classifyError(ctx context.Context, err error, definitive func(code, message string, cause error) error) error {
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return payments.Unknown("timeout", err.Error(), err)
	}

	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return payments.Unknown("network", err.Error(), err)
	}

	switch {
	case stripeErr.Type == stripe.ErrorTypeCard, stripeErr.HTTPStatusCode == http.StatusPaymentRequired:
		return definitive(declineCode(stripeErr), stripeErr.Msg, err)
	case stripeErr.Type == stripe.ErrorTypeIdempotency,
		stripeErr.HTTPStatusCode == http.StatusConflict,
		stripeErr.HTTPStatusCode == http.StatusTooManyRequests,
		stripeErr.HTTPStatusCode >= http.StatusInternalServerError,
		stripeErr.HTTPStatusCode == 0:
		return payments.Unknown(string(stripeErr.Code), stripeErr.Msg, err)
	default:
		return definitive(string(stripeErr.Code), stripeErr.Msg, err)
	}
}

func declineCode(e *stripe.Error) string {
	if e.DeclineCode != "" {
		return string(e.DeclineCode)
	}
	return string(e.Code)
}
