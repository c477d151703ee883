package stripewebhook

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"

	"github.com/bazaarhq/bazaar-backend/internal/reconciliation"
	"github.com/bazaarhq/bazaar-backend/internal/settlement"
	pkgerrors "github.com/bazaarhq/bazaar-backend/pkg/errors"
	"github.com/bazaarhq/bazaar-backend/pkg/logger"
)

const settlementMetadataKey = "settlement_id"

type chargeEventHandler interface {
	HandleChargeEvent(ctx context.Context, event reconciliation.ChargeEvent) (*settlement.Result, error)
}

type ServiceParams struct {
	Reconciler chargeEventHandler
	Logger     *logger.Logger
}

// Service turns payment intent webhooks into settlement charge outcomes.
type Service struct {
	reconciler chargeEventHandler
	logg       *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Reconciler == nil {
		return nil, fmt.Errorf("reconciler required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &Service{reconciler: params.Reconciler, logg: logg}, nil
}

// HandleEvent applies payment_intent.succeeded and payment_intent.payment_failed.
// Other event types, and intents not created by settlement, are acknowledged
// and ignored.
func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event) error {
	if event == nil || event.Data == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "stripe event payload missing")
	}
	switch event.Type {
	case stripe.EventTypePaymentIntentSucceeded, stripe.EventTypePaymentIntentPaymentFailed:
	default:
		return nil
	}

	var intent stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode payment intent")
	}
	ctx = s.logg.WithFields(ctx, map[string]any{
		"stripe_event_id":   event.ID,
		"payment_intent_id": intent.ID,
	})

	raw := strings.TrimSpace(intent.Metadata[settlementMetadataKey])
	if raw == "" {
		s.logg.Info(ctx, "payment intent has no settlement metadata; ignoring")
		return nil
	}
	settlementID, err := uuid.Parse(raw)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid settlement_id metadata")
	}

	charge := reconciliation.ChargeEvent{SettlementID: settlementID, ChargeRef: intent.ID}
	if event.Type == stripe.EventTypePaymentIntentSucceeded {
		charge.Succeeded = true
	} else {
		charge.Code, charge.Message = failureDetails(intent.LastPaymentError)
	}

	res, err := s.reconciler.HandleChargeEvent(ctx, charge)
	if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		s.logg.Warn(ctx, "payment intent references unknown settlement; ignoring")
		return nil
	}
	if err != nil {
		return err
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"outcome":  res.Outcome,
		"replayed": res.Replayed,
	}), "payment intent webhook applied")
	return nil
}

func failureDetails(e *stripe.Error) (string, string) {
	if e == nil {
		return "payment_failed", ""
	}
	if e.DeclineCode != "" {
		return string(e.DeclineCode), e.Msg
	}
	if e.Code != "" {
		return string(e.Code), e.Msg
	}
	return "payment_failed", e.Msg
}
