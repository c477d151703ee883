package sellers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/bazaarhq/bazaar-backend/pkg/db/models"
	pkgerrors "github.com/bazaarhq/bazaar-backend/pkg/errors"
	"github.com/bazaarhq/bazaar-backend/pkg/logger"
	"github.com/bazaarhq/bazaar-backend/pkg/stripe"
)

const connectedAccountPrefix = "acct_"

// AccountRef is the capability the settlement executor needs to pay a seller.
// It only comes out of Service.Resolve, so holders know the destination
// was checked. An empty PayoutDestination means the seller cannot be paid yet.
type AccountRef struct {
	SellerID          uuid.UUID
	PayoutDestination string
	Verified          bool
}

// HasDestination reports whether transfers can be attempted.
func (r AccountRef) HasDestination() bool {
	return r.Verified && r.PayoutDestination != ""
}

// ConnectClient is the slice of Stripe Connect used for seller onboarding.
type ConnectClient interface {
	CreateExpressAccount(ctx context.Context, sellerID, email, country string) (*stripe.ConnectedAccount, error)
	GetAccount(ctx context.Context, accountID string) (*stripe.ConnectedAccount, error)
	OnboardingLink(ctx context.Context, accountID string) (string, error)
}

// Onboarding is returned when a seller starts Express onboarding.
type Onboarding struct {
	AccountID string `json:"account_id"`
	URL       string `json:"url"`
}

type Service interface {
	Resolve(ctx context.Context, sellerID uuid.UUID) (AccountRef, error)
	GetAccount(ctx context.Context, sellerID uuid.UUID) (*models.SellerAccount, error)
	RegisterPayoutAccount(ctx context.Context, sellerID uuid.UUID, destination string) (*models.SellerAccount, error)
	RefreshVerification(ctx context.Context, sellerID uuid.UUID) (*models.SellerAccount, error)
	StartOnboarding(ctx context.Context, sellerID uuid.UUID, email, country string) (*Onboarding, error)
}

type service struct {
	repo    Repository
	connect ConnectClient
	logg    *logger.Logger
	now     func() time.Time
}

// NewService wires the seller account service. connect may be nil when
// Stripe is not configured; destinations are then trusted as registered.
func NewService(repo Repository, connect ConnectClient, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("sellers repository required")
	}
	return &service{repo: repo, connect: connect, logg: logg, now: time.Now}, nil
}

func (s *service) Resolve(ctx context.Context, sellerID uuid.UUID) (AccountRef, error) {
	if sellerID == uuid.Nil {
		return AccountRef{}, pkgerrors.New(pkgerrors.CodeValidation, "seller id required")
	}
	account, err := s.repo.FindBySellerID(ctx, sellerID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return AccountRef{SellerID: sellerID}, nil
	}
	if err != nil {
		return AccountRef{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load seller account")
	}
	ref := AccountRef{SellerID: sellerID, Verified: account.Verified}
	if account.Verified && account.PayoutDestination != nil {
		ref.PayoutDestination = *account.PayoutDestination
	}
	return ref, nil
}

func (s *service) GetAccount(ctx context.Context, sellerID uuid.UUID) (*models.SellerAccount, error) {
	account, err := s.repo.FindBySellerID(ctx, sellerID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "seller account not found")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load seller account")
	}
	return account, nil
}

// RegisterPayoutAccount stores a connected account id for the seller and
// checks with Stripe whether it can receive payouts.
func (s *service) RegisterPayoutAccount(ctx context.Context, sellerID uuid.UUID, destination string) (*models.SellerAccount, error) {
	if sellerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "seller id required")
	}
	destination = strings.TrimSpace(destination)
	if !strings.HasPrefix(destination, connectedAccountPrefix) || len(destination) <= len(connectedAccountPrefix) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payout destination must be a connected account id")
	}

	verified := true
	if s.connect != nil {
		acct, err := s.connect.GetAccount(ctx, destination)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "verify connected account")
		}
		verified = acct.PayoutsEnabled
	}
	return s.save(ctx, sellerID, destination, verified)
}

// RefreshVerification re-reads the connected account after onboarding.
func (s *service) RefreshVerification(ctx context.Context, sellerID uuid.UUID) (*models.SellerAccount, error) {
	account, err := s.GetAccount(ctx, sellerID)
	if err != nil {
		return nil, err
	}
	if account.PayoutDestination == nil || s.connect == nil {
		return account, nil
	}
	acct, err := s.connect.GetAccount(ctx, *account.PayoutDestination)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "verify connected account")
	}
	if acct.PayoutsEnabled == account.Verified {
		return account, nil
	}
	return s.save(ctx, sellerID, *account.PayoutDestination, acct.PayoutsEnabled)
}

// StartOnboarding creates an Express account on first use and returns a
// fresh onboarding link. The account stays unverified until Stripe enables
// payouts.
func (s *service) StartOnboarding(ctx context.Context, sellerID uuid.UUID, email, country string) (*Onboarding, error) {
	if s.connect == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "stripe connect not configured")
	}
	if sellerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "seller id required")
	}

	accountID := ""
	existing, err := s.repo.FindBySellerID(ctx, sellerID)
	switch {
	case err == nil && existing.PayoutDestination != nil:
		accountID = *existing.PayoutDestination
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load seller account")
	}

	if accountID == "" {
		acct, err := s.connect.CreateExpressAccount(ctx, sellerID.String(), email, country)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create connected account")
		}
		accountID = acct.ID
		if _, err := s.save(ctx, sellerID, accountID, acct.PayoutsEnabled); err != nil {
			return nil, err
		}
		if s.logg != nil {
			s.logg.Info(s.logg.WithFields(ctx, map[string]any{"seller_id": sellerID.String(), "account_id": accountID}), "express account created")
		}
	}

	url, err := s.connect.OnboardingLink(ctx, accountID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create onboarding link")
	}
	return &Onboarding{AccountID: accountID, URL: url}, nil
}

func (s *service) save(ctx context.Context, sellerID uuid.UUID, destination string, verified bool) (*models.SellerAccount, error) {
	now := s.now().UTC()
	account := &models.SellerAccount{
		SellerID:          sellerID,
		PayoutDestination: &destination,
		Verified:          verified,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.repo.Upsert(ctx, account); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save seller account")
	}
	return s.GetAccount(ctx, sellerID)
}
