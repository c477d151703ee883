package stripe

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/account"
	"github.com/stripe/stripe-go/v84/accountlink"
	"github.com/stripe/stripe-go/v84/paymentintent"
	"github.com/stripe/stripe-go/v84/transfer"

	"github.com/bazaarhq/bazaar-backend/pkg/config"
	"github.com/bazaarhq/bazaar-backend/pkg/logger"
)

// keyPrefixes lists the secret and restricted key prefixes valid in each
// Stripe environment.
var keyPrefixes = map[string][]string{
	"test": {"sk_test_", "rk_test_"},
	"live": {"sk_live_", "rk_live_"},
}

var (
	errAPIKeyRequired   = errors.New("stripe api key is required")
	errSecretRequired   = errors.New("stripe webhook secret is required")
	errInvalidStripeEnv = errors.New(`stripe environment must be "test" or "live"`)
)

// Client charges buyers through PaymentIntents and pays sellers through
// Connect transfers. The stripe calls are held as funcs so tests can swap
// them without a network.
type Client struct {
	environment          string
	signingSecret        string
	connectReturn        string
	connectReturnRefresh string

	newPaymentIntent func(*stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	newTransfer      func(*stripe.TransferParams) (*stripe.Transfer, error)
	newAccount       func(*stripe.AccountParams) (*stripe.Account, error)
	getAccount       func(string, *stripe.AccountParams) (*stripe.Account, error)
	newAccountLink   func(*stripe.AccountLinkParams) (*stripe.AccountLink, error)
}

// NewClient validates the key against the configured environment and sets
// the package level stripe.Key the resource packages read.
func NewClient(ctx context.Context, cfg config.StripeConfig, logg *logger.Logger) (*Client, error) {
	env := cfg.Environment()
	prefixes, ok := keyPrefixes[env]
	if !ok {
		return nil, errInvalidStripeEnv
	}
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errAPIKeyRequired
	}
	secret := strings.TrimSpace(cfg.Secret)
	if secret == "" {
		return nil, errSecretRequired
	}
	if !slices.ContainsFunc(prefixes, func(p string) bool { return strings.HasPrefix(apiKey, p) }) {
		return nil, fmt.Errorf("stripe %s environment needs a key starting with %s", env, strings.Join(prefixes, " or "))
	}

	stripe.Key = apiKey
	if logg != nil {
		logg.Info(logg.WithField(ctx, "stripe_env", env), "stripe client ready")
	}
	return &Client{
		environment:          env,
		signingSecret:        secret,
		connectReturn:        strings.TrimSpace(cfg.ConnectReturnURL),
		connectReturnRefresh: strings.TrimSpace(cfg.ConnectRefreshURL),
		newPaymentIntent:     paymentintent.New,
		newTransfer:          transfer.New,
		newAccount:           account.New,
		getAccount:           account.GetByID,
		newAccountLink:       accountlink.New,
	}, nil
}

// Environment is "test" or "live".
func (c *Client) Environment() string {
	if c == nil {
		return ""
	}
	return c.environment
}

// SigningSecret is the webhook endpoint secret used to verify events.
func (c *Client) SigningSecret() string {
	if c == nil {
		return ""
	}
	return c.signingSecret
}
