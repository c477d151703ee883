package stripe

import (
	"context"
	"errors"
	"strings"

	"github.com/stripe/stripe-go/v84"
)

// ConnectedAccount is the subset of a Stripe account the seller flow needs.
type ConnectedAccount struct {
	ID               string
	PayoutsEnabled   bool
	DetailsSubmitted bool
}

// CreateExpressAccount opens an Express connected account able to receive
// transfers. The seller finishes KYC through an onboarding link.
func (c *Client) CreateExpressAccount(ctx context.Context, sellerID, email, country string) (*ConnectedAccount, error) {
	if c == nil || c.newAccount == nil {
		return nil, errClientNotInitialized
	}
	params := &stripe.AccountParams{
		Type: stripe.String(string(stripe.AccountTypeExpress)),
		Capabilities: &stripe.AccountCapabilitiesParams{
			Transfers: &stripe.AccountCapabilitiesTransfersParams{Requested: stripe.Bool(true)},
		},
	}
	if e := strings.TrimSpace(email); e != "" {
		params.Email = stripe.String(e)
	}
	if cc := strings.TrimSpace(country); cc != "" {
		params.Country = stripe.String(strings.ToUpper(cc))
	}
	params.AddMetadata("seller_id", sellerID)
	params.SetIdempotencyKey("express_account_" + sellerID)
	params.Context = ctx

	acct, err := c.newAccount(params)
	if err != nil {
		return nil, err
	}
	return toConnectedAccount(acct), nil
}

// GetAccount reads the current onboarding state of a connected account.
func (c *Client) GetAccount(ctx context.Context, accountID string) (*ConnectedAccount, error) {
	if c == nil || c.getAccount == nil {
		return nil, errClientNotInitialized
	}
	params := &stripe.AccountParams{}
	params.Context = ctx
	acct, err := c.getAccount(accountID, params)
	if err != nil {
		return nil, err
	}
	return toConnectedAccount(acct), nil
}

// OnboardingLink returns a one-time URL for the seller to finish onboarding.
func (c *Client) OnboardingLink(ctx context.Context, accountID string) (string, error) {
	if c == nil || c.newAccountLink == nil {
		return "", errClientNotInitialized
	}
	if c.connectReturn == "" || c.connectReturnRefresh == "" {
		return "", errors.New("stripe connect return and refresh urls are required")
	}
	params := &stripe.AccountLinkParams{
		Account:    stripe.String(accountID),
		ReturnURL:  stripe.String(c.connectReturn),
		RefreshURL: stripe.String(c.connectReturnRefresh),
		Type:       stripe.String("account_onboarding"),
	}
	params.Context = ctx
	link, err := c.newAccountLink(params)
	if err != nil {
		return "", err
	}
	return link.URL, nil
}

func toConnectedAccount(acct *stripe.Account) *ConnectedAccount {
	if acct == nil {
		return nil
	}
	return &ConnectedAccount{
		ID:               acct.ID,
		PayoutsEnabled:   acct.PayoutsEnabled,
		DetailsSubmitted: acct.DetailsSubmitted,
	}
}
