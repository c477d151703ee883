package square

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/google/uuid"
	sq "github.com/square/square-go-sdk"
	sqclient "github.com/square/square-go-sdk/client"
	sqcore "github.com/square/square-go-sdk/core"
	sqoption "github.com/square/square-go-sdk/option"

	"github.com/bazaarhq/bazaar-backend/pkg/config"
	"github.com/bazaarhq/bazaar-backend/pkg/enums"
	pkgerrors "github.com/bazaarhq/bazaar-backend/pkg/errors"
	"github.com/bazaarhq/bazaar-backend/pkg/logger"
	"github.com/bazaarhq/bazaar-backend/pkg/payments"
)

// Square rejects idempotency keys longer than this.
const maxIdempotencyKeyLen = 45

var (
	errAccessTokenRequired = errors.New("square access token is required")
	errLocationRequired    = errors.New("square location id is required")
	errLoggerRequired      = errors.New("square logger is required")
)

// hosts maps the accepted SQUARE_ENV values to API hosts. Blank means sandbox.
var hosts = map[string]string{
	"sandbox":    "https://connect.squareupsandbox.com",
	"production": "https://connect.squareup.com",
}

var sensitiveKeys = []string{"card", "nonce", "token", "source", "secret", "email", "phone"}

type paymentsAPI interface {
	Create(ctx context.Context, request *sq.CreatePaymentRequest, opts ...sqoption.RequestOption) (*sq.CreatePaymentResponse, error)
}

// Client collects buyer payments through Square. Payouts stay on Stripe
// Connect, so this type only satisfies payments.Collector.
type Client struct {
	payments    paymentsAPI
	environment string
	locationID  string
	logger      *logger.Logger
}

func NewClient(ctx context.Context, cfg config.SquareConfig, logg *logger.Logger) (*Client, error) {
	if logg == nil {
		return nil, errLoggerRequired
	}
	env := cmp.Or(strings.ToLower(strings.TrimSpace(cfg.Environment())), "sandbox")
	host, ok := hosts[env]
	if !ok {
		return nil, fmt.Errorf("square environment %q must be sandbox or production", env)
	}
	c := &Client{
		environment: env,
		locationID:  strings.TrimSpace(cfg.LocationID),
		logger:      logg,
	}
	token := strings.TrimSpace(cfg.AccessToken)
	switch {
	case token == "":
		return nil, errAccessTokenRequired
	case c.locationID == "":
		return nil, errLocationRequired
	}
	c.payments = sqclient.NewClient(sqoption.WithBaseURL(host), sqoption.WithToken(token)).Payments

	logg.Info(logg.WithField(ctx, "square_env", env), "square client ready")
	return c, nil
}

// Environment reports the normalized Square environment.
func (c *Client) Environment() string {
	if c == nil {
		return ""
	}
	return c.environment
}

func (c *Client) Provider() enums.PaymentProvider {
	return enums.PaymentProviderSquare
}

// Charge creates an auto-completed Square payment for the order total.
func (c *Client) Charge(ctx context.Context, req payments.ChargeRequest) (*payments.ChargeResult, error) {
	if c == nil || c.payments == nil {
		return nil, errAccessTokenRequired
	}
	amount, err := payments.MinorUnits(req.Amount)
	if err != nil {
		return nil, err
	}

	input := paymentInput{
		Amount:         amount,
		Currency:       req.Currency.Upper(),
		LocationID:     c.locationID,
		SourceID:       req.PaymentMethodRef,
		IdempotencyKey: squareIdempotencyKey(req.IdempotencyKey),
		Note:           req.Description,
		ReferenceID:    req.Metadata["order_id"],
	}
	c.log(ctx, "request", "create_payment", map[string]any{
		"location_id": input.LocationID,
		"amount":      input.Amount,
		"source_id":   input.SourceID,
	})

	resp, err := c.payments.Create(ctx, input.request())
	if err != nil {
		c.log(ctx, "error", "create_payment", map[string]any{"error": err.Error()})
		return nil, c.classifyError(ctx, err)
	}

	payment := resp.GetPayment()
	status := stringValue(payment.GetStatus())
	c.log(ctx, "response", "create_payment", map[string]any{
		"payment_id": stringValue(payment.GetID()),
		"status":     status,
	})

	switch status {
	case "COMPLETED", "APPROVED":
		return &payments.ChargeResult{Ref: stringValue(payment.GetID()), Status: strings.ToLower(status)}, nil
	case "PENDING":
		return nil, payments.Unknown(status, "square payment still pending", nil)
	default:
		return nil, payments.Declined(status, "square payment "+strings.ToLower(status), nil)
	}
}

// squareIdempotencyKey keeps keys within Square's length limit while staying
// deterministic for the same input.
func squareIdempotencyKey(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return uuid.NewString()
	}
	if len(key) <= maxIdempotencyKeyLen {
		return key
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(key)).String()
}

func (c *Client) log(ctx context.Context, phase, op string, fields map[string]any) {
	if c == nil || c.logger == nil {
		return
	}
	scrubbed := make(map[string]any, len(fields)+2)
	for k, v := range fields {
		scrubbed[k] = redact(k, v)
	}
	scrubbed["operation"], scrubbed["phase"] = op, phase
	ctx = c.logger.WithFields(ctx, scrubbed)

	if phase != "error" {
		c.logger.Info(ctx, "square "+phase)
		return
	}
	c.logger.Error(ctx, "square "+op, fmt.Errorf("%v", fields["error"]))
}

func redact(key string, value any) any {
	key = strings.ToLower(key)
	if slices.ContainsFunc(sensitiveKeys, func(s string) bool { return strings.Contains(key, s) }) {
		return "[REDACTED]"
	}
	return value
}

// classifyError maps Square failures onto the payments taxonomy. Auth and
// routing failures come back as coded dependency errors because they say
// nothing about the buyer's card.
func (c *Client) classifyError(ctx context.Context, err error) error {
	var apiErr *sqcore.APIError
	switch {
	case ctx.Err() != nil, errors.Is(err, context.DeadlineExceeded):
		return payments.Unknown("timeout", err.Error(), err)
	case !errors.As(err, &apiErr):
		return payments.Unknown("network", err.Error(), err)
	}

	var first string
	for i, detail := range extractSquareErrors(apiErr) {
		if detail == nil {
			continue
		}
		if i == 0 {
			first = string(detail.Code)
		}
		if detail.Code == sq.ErrorCodeIdempotencyKeyReused {
			return payments.Unknown(string(detail.Code), "idempotency key reused", err)
		}
		if detail.Category == sq.ErrorCategoryPaymentMethodError {
			return payments.Declined(string(detail.Code), stringValue(detail.Detail), err)
		}
	}

	status := apiErr.StatusCode
	switch {
	case status == http.StatusPaymentRequired:
		return payments.Declined(first, "square declined the payment", err)
	case status == http.StatusBadRequest:
		return payments.Declined(first, "square rejected the payment request", err)
	case status == http.StatusTooManyRequests || status >= http.StatusInternalServerError:
		return payments.Unknown(first, "square unavailable", err)
	}
	return pkgerrors.Wrap(domainCodeForStatus(status), err, "square create payment failed")
}

// extractSquareErrors decodes the errors array the SDK leaves as the API
// error's inner message.
func extractSquareErrors(apiErr *sqcore.APIError) []*sq.Error {
	if apiErr == nil || apiErr.Unwrap() == nil {
		return nil
	}
	var body struct {
		Errors []*sq.Error `json:"errors"`
	}
	if json.Unmarshal([]byte(apiErr.Unwrap().Error()), &body) != nil {
		return nil
	}
	return body.Errors
}

var statusCodes = map[int]pkgerrors.Code{
	http.StatusUnauthorized: pkgerrors.CodeUnauthorized,
	http.StatusForbidden:    pkgerrors.CodeForbidden,
	http.StatusNotFound:     pkgerrors.CodeNotFound,
	http.StatusConflict:     pkgerrors.CodeConflict,
}

func domainCodeForStatus(status int) pkgerrors.Code {
	return cmp.Or(statusCodes[status], pkgerrors.CodeDependency)
}

func stringValue(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}
