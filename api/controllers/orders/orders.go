package orders

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/bazaarhq/bazaar-backend/api/middleware"
	"github.com/bazaarhq/bazaar-backend/api/responses"
	"github.com/bazaarhq/bazaar-backend/api/validators"
	internalorders "github.com/bazaarhq/bazaar-backend/internal/orders"
	"github.com/bazaarhq/bazaar-backend/internal/sellers"
	"github.com/bazaarhq/bazaar-backend/internal/settlement"
	"github.com/bazaarhq/bazaar-backend/pkg/db/models"
	"github.com/bazaarhq/bazaar-backend/pkg/enums"
	pkgerrors "github.com/bazaarhq/bazaar-backend/pkg/errors"
	"github.com/bazaarhq/bazaar-backend/pkg/logger"
	"github.com/bazaarhq/bazaar-backend/pkg/pagination"
)

// Settler is the settlement executor surface the order routes use.
type Settler interface {
	Settle(ctx context.Context, in settlement.SettleInput) (*settlement.Result, error)
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.SettlementRecord, error)
}

// SellerResolver hands out the payout capability for an order's seller.
type SellerResolver interface {
	Resolve(ctx context.Context, sellerID uuid.UUID) (sellers.AccountRef, error)
}

// Create places an order for the authenticated buyer.
func Create(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}
		buyerID, ok := middleware.UserUUIDFromContext(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing"))
			return
		}

		var req createOrderRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		sellerID, err := uuid.Parse(req.SellerID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid seller id"))
			return
		}

		order, err := svc.CreateOrder(r.Context(), internalorders.CreateOrderInput{
			BuyerID:         buyerID,
			SellerID:        sellerID,
			TotalAmount:     req.TotalAmount,
			Currency:        req.Currency,
			ShippingAddress: req.ShippingAddress,
			PaymentMethod:   validators.SanitizeString(req.PaymentMethod, 255),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, order)
	}
}

// List returns the caller's orders: placed ones for buyers, received ones for sellers.
func List(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}
		userID, ok := middleware.UserUUIDFromContext(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing"))
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		params := pagination.Params{
			Limit:  limit,
			Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
		}

		var list *internalorders.OrderList
		switch middleware.RoleFromContext(r.Context()) {
		case enums.RoleBuyer:
			list, err = svc.ListBuyerOrders(r.Context(), userID, params)
		case enums.RoleSeller:
			list, err = svc.ListSellerOrders(r.Context(), userID, params)
		default:
			err = pkgerrors.New(pkgerrors.CodeForbidden, "order listing requires a buyer or seller")
		}
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, list)
	}
}

// Detail returns one order to its buyer, its seller, or an admin.
func Detail(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}
		order, err := loadVisibleOrder(r, svc)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, order)
	}
}

// Settle charges the buyer and pays the seller. Unknown provider outcomes
// answer 202 and finish through reconciliation; declines answer 402. Buyers
// see "paid" once their charge succeeds, whatever happened to the payout.
func Settle(svc internalorders.Service, resolver SellerResolver, settler Settler, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil || resolver == nil || settler == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "settlement unavailable"))
			return
		}
		order, err := loadVisibleOrder(r, svc)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if middleware.RoleFromContext(r.Context()) == enums.RoleSeller {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "sellers cannot settle orders"))
			return
		}

		var req settleRequest
		if r.ContentLength != 0 {
			if err := validators.DecodeJSONBody(r, &req); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}

		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithOrderID(ctx, order.ID.String())
		}

		seller, err := resolver.Resolve(ctx, order.SellerID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		result, err := settler.Settle(ctx, settlement.SettleInput{
			OrderID:       order.ID,
			Seller:        seller,
			PaymentMethod: validators.SanitizeString(req.PaymentMethod, 255),
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		role := middleware.RoleFromContext(ctx)
		switch {
		case result.Pending:
			responses.WriteSuccessStatus(w, http.StatusAccepted, toSettleResponse(result, role))
		case result.Outcome == enums.SettlementChargeFailed:
			msg := result.DeclineMessage
			if msg == "" {
				msg = "payment was declined"
			}
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodePaymentDeclined, msg).WithDetails(map[string]any{
				"settlement_id":  result.Record.ID.String(),
				"attempt_number": result.Record.AttemptNumber,
				"decline_code":   result.DeclineCode,
			}))
		default:
			responses.WriteSuccess(w, toSettleResponse(result, role))
		}
	}
}

// Settlements lists every settlement attempt for an order, oldest first.
func Settlements(svc internalorders.Service, settler Settler, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil || settler == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "settlement unavailable"))
			return
		}
		order, err := loadVisibleOrder(r, svc)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		records, err := settler.ListByOrder(r.Context(), order.ID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		role := middleware.RoleFromContext(r.Context())
		out := make([]settlementResponse, 0, len(records))
		for _, record := range records {
			out = append(out, toSettlementResponse(record, role))
		}
		responses.WriteSuccess(w, map[string]any{"settlements": out})
	}
}

func loadVisibleOrder(r *http.Request, svc internalorders.Service) (*models.Order, error) {
	userID, ok := middleware.UserUUIDFromContext(r.Context())
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	orderID, err := parseOrderID(r)
	if err != nil {
		return nil, err
	}
	order, err := svc.GetOrder(r.Context(), orderID)
	if err != nil {
		return nil, err
	}

	switch middleware.RoleFromContext(r.Context()) {
	case enums.RoleAdmin:
		return order, nil
	case enums.RoleBuyer:
		if order.BuyerID == userID {
			return order, nil
		}
	case enums.RoleSeller:
		if order.SellerID == userID {
			return order, nil
		}
	}
	// Hide other users' orders entirely.
	return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
}

func parseOrderID(r *http.Request) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, "orderId"))
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid order id")
	}
	return id, nil
}
