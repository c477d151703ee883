package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jaevor/go-nanoid"
	"gorm.io/gorm"

	"github.com/bazaarhq/bazaar-backend/pkg/db"
	"github.com/bazaarhq/bazaar-backend/pkg/db/models"
	"github.com/bazaarhq/bazaar-backend/pkg/enums"
	pkgerrors "github.com/bazaarhq/bazaar-backend/pkg/errors"
	"github.com/bazaarhq/bazaar-backend/pkg/logger"
	"github.com/bazaarhq/bazaar-backend/pkg/outbox"
	"github.com/bazaarhq/bazaar-backend/pkg/outbox/payloads"
	"github.com/bazaarhq/bazaar-backend/pkg/pagination"
)

const (
	publicRefPrefix   = "BZ-"
	publicRefAlphabet = "23456789ABCDEFGHJKLMNPQRSTUVWXYZ"
	publicRefLength   = 10
)

var validate = validator.New()

// Service owns order intake and order status transitions.
type Service interface {
	CreateOrder(ctx context.Context, input CreateOrderInput) (*models.Order, error)
	GetOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	UpdateOrderStatus(ctx context.Context, orderID uuid.UUID, status enums.OrderStatus) (*models.Order, error)
	TransitionTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, status enums.OrderStatus, reason string) (*models.Order, error)
	ListBuyerOrders(ctx context.Context, buyerID uuid.UUID, params pagination.Params) (*OrderList, error)
	ListSellerOrders(ctx context.Context, sellerID uuid.UUID, params pagination.Params) (*OrderList, error)
	StatusHistory(ctx context.Context, orderID uuid.UUID) ([]models.OrderStatusEvent, error)
}

type service struct {
	repo      Repository
	tx        db.TxRunner
	outbox    outbox.Emitter
	logg      *logger.Logger
	publicRef func() string
	now       func() time.Time
}

// NewService builds the order service with the required dependencies.
func NewService(repo Repository, tx db.TxRunner, emitter outbox.Emitter, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if emitter == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	gen, err := nanoid.CustomASCII(publicRefAlphabet, publicRefLength)
	if err != nil {
		return nil, fmt.Errorf("public ref generator: %w", err)
	}
	return &service{
		repo:      repo,
		tx:        tx,
		outbox:    emitter,
		logg:      logg,
		publicRef: func() string { return publicRefPrefix + gen() },
		now:       time.Now,
	}, nil
}

func (s *service) CreateOrder(ctx context.Context, input CreateOrderInput) (*models.Order, error) {
	if input.BuyerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "buyer identity missing")
	}
	if input.SellerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "seller id required")
	}
	if input.SellerID == input.BuyerID {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "buyer cannot order from themselves")
	}
	if !input.TotalAmount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "total amount must be positive")
	}
	if !input.TotalAmount.Equal(input.TotalAmount.Truncate(2)) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "total amount must have at most two decimal places")
	}
	currency := enums.CurrencyUSD
	if strings.TrimSpace(input.Currency) != "" {
		parsed, err := enums.ParseCurrency(input.Currency)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unsupported currency")
		}
		currency = parsed
	}
	paymentMethod := strings.TrimSpace(input.PaymentMethod)
	if paymentMethod == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment method required")
	}
	address := input.ShippingAddress
	address.Normalize()
	if err := validate.Struct(address); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid shipping address")
	}

	now := s.now().UTC()
	order := &models.Order{
		ID:              uuid.New(),
		PublicRef:       s.publicRef(),
		BuyerID:         input.BuyerID,
		SellerID:        input.SellerID,
		TotalAmount:     input.TotalAmount.Round(2),
		Currency:        currency,
		ShippingAddress: address,
		PaymentMethod:   paymentMethod,
		Status:          enums.OrderStatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.Create(ctx, order); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
		}
		if err := repo.AppendStatusEvent(ctx, &models.OrderStatusEvent{
			OrderID:   order.ID,
			ToStatus:  order.Status,
			CreatedAt: now,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record order status")
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderCreated,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         &outbox.ActorRef{UserID: input.BuyerID, Role: enums.RoleBuyer},
			Data: payloads.OrderCreatedEvent{
				OrderID:     order.ID,
				PublicRef:   order.PublicRef,
				BuyerID:     order.BuyerID,
				SellerID:    order.SellerID,
				TotalAmount: order.TotalAmount,
				Currency:    order.Currency,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	if s.logg != nil {
		logCtx := s.logg.WithOrderID(ctx, order.ID.String())
		s.logg.Info(s.logg.WithField(logCtx, "public_ref", order.PublicRef), "order created")
	}
	return order, nil
}

func (s *service) GetOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		return nil, mapLookupError(err)
	}
	return order, nil
}

// UpdateOrderStatus applies one transition in its own transaction.
func (s *service) UpdateOrderStatus(ctx context.Context, orderID uuid.UUID, status enums.OrderStatus) (*models.Order, error) {
	var order *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		order, err = s.TransitionTx(ctx, tx, orderID, status, "")
		return err
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// TransitionTx moves the order inside the caller's transaction and appends
// an audit row. Re-applying the current status is a no-op.
func (s *service) TransitionTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, status enums.OrderStatus, reason string) (*models.Order, error) {
	if !status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid order status")
	}
	repo := s.repo.WithTx(tx)
	order, err := repo.FindByIDForUpdate(ctx, orderID)
	if err != nil {
		return nil, mapLookupError(err)
	}
	if order.Status == status {
		return order, nil
	}
	if !order.Status.CanTransitionTo(status) {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order status transition not allowed").
			WithDetails(map[string]any{"from": order.Status, "to": status})
	}

	updated, err := repo.UpdateStatus(ctx, order.ID, order.Status, status)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order status")
	}
	if !updated {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "order changed concurrently")
	}

	from := order.Status
	event := &models.OrderStatusEvent{
		OrderID:    order.ID,
		FromStatus: &from,
		ToStatus:   status,
		CreatedAt:  s.now().UTC(),
	}
	if r := strings.TrimSpace(reason); r != "" {
		event.Reason = &r
	}
	if err := repo.AppendStatusEvent(ctx, event); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record order status")
	}

	order.Status = status
	return order, nil
}

func (s *service) ListBuyerOrders(ctx context.Context, buyerID uuid.UUID, params pagination.Params) (*OrderList, error) {
	if _, err := pagination.ParseCursor(params.Cursor); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	list, err := s.repo.ListByBuyer(ctx, buyerID, params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list buyer orders")
	}
	return list, nil
}

func (s *service) ListSellerOrders(ctx context.Context, sellerID uuid.UUID, params pagination.Params) (*OrderList, error) {
	if _, err := pagination.ParseCursor(params.Cursor); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	list, err := s.repo.ListBySeller(ctx, sellerID, params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list seller orders")
	}
	return list, nil
}

func (s *service) StatusHistory(ctx context.Context, orderID uuid.UUID) ([]models.OrderStatusEvent, error) {
	events, err := s.repo.ListStatusEvents(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list order status events")
	}
	return events, nil
}

func mapLookupError(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
}
