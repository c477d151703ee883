package sellers

import (
	"net/http"
	"strings"

	"github.com/bazaarhq/bazaar-backend/api/middleware"
	"github.com/bazaarhq/bazaar-backend/api/responses"
	"github.com/bazaarhq/bazaar-backend/api/validators"
	internalsellers "github.com/bazaarhq/bazaar-backend/internal/sellers"
	pkgerrors "github.com/bazaarhq/bazaar-backend/pkg/errors"
	"github.com/bazaarhq/bazaar-backend/pkg/logger"
)

type payoutAccountRequest struct {
	PayoutDestination string `json:"payout_destination" validate:"required,max=255"`
}

type onboardRequest struct {
	Email   string `json:"email" validate:"required,email"`
	Country string `json:"country" validate:"omitempty,len=2"`
}

// GetPayoutAccount shows the seller where their payouts land.
func GetPayoutAccount(svc internalsellers.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sellerID, ok := middleware.UserUUIDFromContext(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing"))
			return
		}
		account, err := svc.RefreshVerification(r.Context(), sellerID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, account)
	}
}

// PutPayoutAccount registers an existing connected account as the payout destination.
func PutPayoutAccount(svc internalsellers.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sellerID, ok := middleware.UserUUIDFromContext(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing"))
			return
		}
		var req payoutAccountRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		account, err := svc.RegisterPayoutAccount(r.Context(), sellerID, req.PayoutDestination)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, account)
	}
}

// Onboard starts Stripe Express onboarding and returns the hosted link.
func Onboard(svc internalsellers.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sellerID, ok := middleware.UserUUIDFromContext(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing"))
			return
		}
		var req onboardRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		country := strings.ToUpper(strings.TrimSpace(req.Country))
		if country == "" {
			country = "US"
		}
		onboarding, err := svc.StartOnboarding(r.Context(), sellerID, strings.TrimSpace(req.Email), country)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, onboarding)
	}
}
