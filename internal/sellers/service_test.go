package sellers

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bazaarhq/bazaar-backend/pkg/db/dbtest"
	pkgerrors "github.com/bazaarhq/bazaar-backend/pkg/errors"
	"github.com/bazaarhq/bazaar-backend/pkg/logger"
	"github.com/bazaarhq/bazaar-backend/pkg/stripe"
)

type fakeConnect struct {
	created        int
	payoutsEnabled map[string]bool
	getErr         error
}

func (f *fakeConnect) CreateExpressAccount(_ context.Context, sellerID, _, _ string) (*stripe.ConnectedAccount, error) {
	f.created++
	return &stripe.ConnectedAccount{ID: "acct_" + sellerID[:8]}, nil
}

func (f *fakeConnect) GetAccount(_ context.Context, accountID string) (*stripe.ConnectedAccount, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return &stripe.ConnectedAccount{ID: accountID, PayoutsEnabled: f.payoutsEnabled[accountID]}, nil
}

func (f *fakeConnect) OnboardingLink(_ context.Context, accountID string) (string, error) {
	return "https://connect.stripe.test/" + accountID, nil
}

func newService(t *testing.T, connect ConnectClient) Service {
	t.Helper()
	svc, err := NewService(NewRepository(dbtest.Open(t)), connect, logger.Nop())
	require.NoError(t, err)
	return svc
}

func TestResolveWithoutAccountHasNoDestination(t *testing.T) {
	svc := newService(t, nil)
	sellerID := uuid.New()

	ref, err := svc.Resolve(context.Background(), sellerID)
	require.NoError(t, err)
	assert.Equal(t, sellerID, ref.SellerID)
	assert.False(t, ref.HasDestination())

	_, err = svc.Resolve(context.Background(), uuid.Nil)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestRegisterPayoutAccountVerifiesWithStripe(t *testing.T) {
	connect := &fakeConnect{payoutsEnabled: map[string]bool{"acct_ready": true}}
	svc := newService(t, connect)
	ctx := context.Background()
	sellerID := uuid.New()

	_, err := svc.RegisterPayoutAccount(ctx, sellerID, "ba_123")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	account, err := svc.RegisterPayoutAccount(ctx, sellerID, "acct_pending")
	require.NoError(t, err)
	assert.False(t, account.Verified)
	ref, err := svc.Resolve(ctx, sellerID)
	require.NoError(t, err)
	assert.False(t, ref.HasDestination())

	account, err = svc.RegisterPayoutAccount(ctx, sellerID, " acct_ready ")
	require.NoError(t, err)
	assert.True(t, account.Verified)
	assert.Equal(t, "acct_ready", *account.PayoutDestination)

	ref, err = svc.Resolve(ctx, sellerID)
	require.NoError(t, err)
	assert.True(t, ref.HasDestination())
	assert.Equal(t, "acct_ready", ref.PayoutDestination)

	connect.getErr = errors.New("stripe down")
	_, err = svc.RegisterPayoutAccount(ctx, sellerID, "acct_other")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))
}

func TestStartOnboardingReusesAccount(t *testing.T) {
	connect := &fakeConnect{payoutsEnabled: map[string]bool{}}
	svc := newService(t, connect)
	ctx := context.Background()
	sellerID := uuid.New()

	first, err := svc.StartOnboarding(ctx, sellerID, "seller@example.com", "US")
	require.NoError(t, err)
	assert.Contains(t, first.URL, first.AccountID)

	second, err := svc.StartOnboarding(ctx, sellerID, "seller@example.com", "US")
	require.NoError(t, err)
	assert.Equal(t, first.AccountID, second.AccountID)
	assert.Equal(t, 1, connect.created)

	account, err := svc.GetAccount(ctx, sellerID)
	require.NoError(t, err)
	assert.False(t, account.Verified)

	connect.payoutsEnabled[first.AccountID] = true
	account, err = svc.RefreshVerification(ctx, sellerID)
	require.NoError(t, err)
	assert.True(t, account.Verified)
}

func TestStartOnboardingRequiresConnect(t *testing.T) {
	svc := newService(t, nil)
	_, err := svc.StartOnboarding(context.Background(), uuid.New(), "", "")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))

	_, err = svc.GetAccount(context.Background(), uuid.New())
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}
