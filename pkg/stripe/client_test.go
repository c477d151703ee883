package stripe

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v84"

	"github.com/bazaarhq/bazaar-backend/pkg/config"
	"github.com/bazaarhq/bazaar-backend/pkg/enums"
	"github.com/bazaarhq/bazaar-backend/pkg/payments"
)

func TestNewClientValidatesKeys(t *testing.T) {
	ctx := context.Background()

	_, err := NewClient(ctx, config.StripeConfig{Secret: "whsec_1"}, nil)
	require.ErrorIs(t, err, errAPIKeyRequired)

	_, err = NewClient(ctx, config.StripeConfig{APIKey: "sk_test_1"}, nil)
	require.ErrorIs(t, err, errSecretRequired)

	_, err = NewClient(ctx, config.StripeConfig{APIKey: "sk_live_1", Secret: "whsec_1", Env: "test"}, nil)
	require.Error(t, err)

	_, err = NewClient(ctx, config.StripeConfig{APIKey: "sk_test_1", Secret: "whsec_1", Env: "staging"}, nil)
	require.ErrorIs(t, err, errInvalidStripeEnv)

	c, err := NewClient(ctx, config.StripeConfig{APIKey: "rk_live_1", Secret: "whsec_1", Env: "LIVE"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "live", c.Environment())
	assert.Equal(t, "whsec_1", c.SigningSecret())
	assert.Equal(t, enums.PaymentProviderStripe, c.Provider())
}

func chargeRequest() payments.ChargeRequest {
	return payments.ChargeRequest{
		Amount:           decimal.RequireFromString("19.99"),
		Currency:         enums.CurrencyUSD,
		PaymentMethodRef: "pm_card_visa",
		IdempotencyKey:   "settle_order-1_1",
		Metadata:         map[string]string{"order_id": "order-1", "attempt": "1"},
	}
}

func TestChargeSendsMinorUnitsAndIdempotencyKey(t *testing.T) {
	var got *stripe.PaymentIntentParams
	c := &Client{newPaymentIntent: func(p *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
		got = p
		return &stripe.PaymentIntent{ID: "pi_123", Status: stripe.PaymentIntentStatusSucceeded}, nil
	}}

	res, err := c.Charge(context.Background(), chargeRequest())
	require.NoError(t, err)
	assert.Equal(t, "pi_123", res.Ref)

	require.NotNil(t, got)
	assert.Equal(t, int64(1999), *got.Amount)
	assert.Equal(t, "usd", *got.Currency)
	assert.Equal(t, "pm_card_visa", *got.PaymentMethod)
	assert.True(t, *got.Confirm)
	assert.Equal(t, "settle_order-1_1", *got.IdempotencyKey)
	assert.Equal(t, "order-1", got.Metadata["order_id"])
	assert.NotNil(t, got.Context)
}

func TestChargeStatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		intent *stripe.PaymentIntent
		kind   error
	}{
		{
			name:   "processing is unknown",
			intent: &stripe.PaymentIntent{ID: "pi_1", Status: stripe.PaymentIntentStatusProcessing},
			kind:   payments.ErrUnknownOutcome,
		},
		{
			name: "requires payment method is a decline",
			intent: &stripe.PaymentIntent{
				ID:               "pi_2",
				Status:           stripe.PaymentIntentStatusRequiresPaymentMethod,
				LastPaymentError: &stripe.Error{DeclineCode: "insufficient_funds", Msg: "Your card has insufficient funds."},
			},
			kind: payments.ErrDeclined,
		},
		{
			name:   "requires action is a decline",
			intent: &stripe.PaymentIntent{ID: "pi_3", Status: stripe.PaymentIntentStatusRequiresAction},
			kind:   payments.ErrDeclined,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Client{newPaymentIntent: func(*stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
				return tt.intent, nil
			}}
			_, err := c.Charge(context.Background(), chargeRequest())
			require.ErrorIs(t, err, tt.kind)
		})
	}
}

func TestChargeRejectsBadAmountBeforeCallingStripe(t *testing.T) {
	c := &Client{newPaymentIntent: func(*stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
		t.Fatal("stripe must not be called")
		return nil, nil
	}}
	req := chargeRequest()
	req.Amount = decimal.RequireFromString("1.999")
	_, err := c.Charge(context.Background(), req)
	require.Error(t, err)
}

func TestClassifyError(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name string
		err  error
		kind error
	}{
		{"card error", &stripe.Error{Type: stripe.ErrorTypeCard, HTTPStatusCode: http.StatusPaymentRequired, DeclineCode: "generic_decline"}, payments.ErrDeclined},
		{"invalid request", &stripe.Error{Type: stripe.ErrorTypeInvalidRequest, HTTPStatusCode: http.StatusBadRequest}, payments.ErrDeclined},
		{"server error", &stripe.Error{Type: stripe.ErrorTypeAPI, HTTPStatusCode: http.StatusBadGateway}, payments.ErrUnknownOutcome},
		{"rate limited", &stripe.Error{HTTPStatusCode: http.StatusTooManyRequests}, payments.ErrUnknownOutcome},
		{"idempotency", &stripe.Error{Type: stripe.ErrorTypeIdempotency, HTTPStatusCode: http.StatusBadRequest}, payments.ErrUnknownOutcome},
		{"network", errors.New("connection reset by peer"), payments.ErrUnknownOutcome},
		{"deadline", context.DeadlineExceeded, payments.ErrUnknownOutcome},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classifyError(ctx, tt.err, payments.Declined)
			assert.ErrorIs(t, err, tt.kind)
		})
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	err := classifyError(cancelled, &stripe.Error{HTTPStatusCode: http.StatusBadRequest}, payments.Declined)
	assert.ErrorIs(t, err, payments.ErrUnknownOutcome)
}

func TestTransfer(t *testing.T) {
	var got *stripe.TransferParams
	c := &Client{newTransfer: func(p *stripe.TransferParams) (*stripe.Transfer, error) {
		got = p
		return &stripe.Transfer{ID: "tr_1"}, nil
	}}
	req := payments.TransferRequest{
		Amount:         decimal.RequireFromString("17.99"),
		Currency:       enums.CurrencyUSD,
		DestinationRef: "acct_123",
		IdempotencyKey: "payout_abc",
		TransferGroup:  "order-1",
	}
	res, err := c.Transfer(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "tr_1", res.Ref)
	assert.Equal(t, int64(1799), *got.Amount)
	assert.Equal(t, "acct_123", *got.Destination)
	assert.Equal(t, "payout_abc", *got.IdempotencyKey)

	req.DestinationRef = "ba_123"
	_, err = c.Transfer(context.Background(), req)
	assert.ErrorIs(t, err, payments.ErrRejected)

	c.newTransfer = func(*stripe.TransferParams) (*stripe.Transfer, error) {
		return nil, &stripe.Error{Type: stripe.ErrorTypeInvalidRequest, HTTPStatusCode: http.StatusBadRequest, Code: stripe.ErrorCodeBalanceInsufficient}
	}
	req.DestinationRef = "acct_123"
	_, err = c.Transfer(context.Background(), req)
	assert.ErrorIs(t, err, payments.ErrRejected)
}

func TestConnectAccountFlow(t *testing.T) {
	c := &Client{
		connectReturn:        "https://bazaar.test/sellers/return",
		connectReturnRefresh: "https://bazaar.test/sellers/refresh",
		newAccount: func(p *stripe.AccountParams) (*stripe.Account, error) {
			assert.Equal(t, "express", *p.Type)
			assert.True(t, *p.Capabilities.Transfers.Requested)
			assert.Equal(t, "US", *p.Country)
			return &stripe.Account{ID: "acct_new"}, nil
		},
		getAccount: func(id string, _ *stripe.AccountParams) (*stripe.Account, error) {
			return &stripe.Account{ID: id, PayoutsEnabled: true, DetailsSubmitted: true}, nil
		},
		newAccountLink: func(p *stripe.AccountLinkParams) (*stripe.AccountLink, error) {
			assert.Equal(t, "acct_new", *p.Account)
			assert.Equal(t, "account_onboarding", *p.Type)
			return &stripe.AccountLink{URL: "https://connect.stripe.com/setup/e/acct_new"}, nil
		},
	}

	ctx := context.Background()
	acct, err := c.CreateExpressAccount(ctx, "seller-1", "seller@example.com", "us")
	require.NoError(t, err)
	assert.Equal(t, "acct_new", acct.ID)

	url, err := c.OnboardingLink(ctx, acct.ID)
	require.NoError(t, err)
	assert.Contains(t, url, "acct_new")

	status, err := c.GetAccount(ctx, acct.ID)
	require.NoError(t, err)
	assert.True(t, status.PayoutsEnabled)

	c.connectReturn = ""
	_, err = c.OnboardingLink(ctx, acct.ID)
	require.Error(t, err)
}
