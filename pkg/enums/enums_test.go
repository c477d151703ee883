package enums

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to OrderStatus
		allowed  bool
	}{
		{OrderStatusPending, OrderStatusPaid, true},
		{OrderStatusPending, OrderStatusSettled, true},
		{OrderStatusPaid, OrderStatusPayoutScheduled, true},
		{OrderStatusPayoutScheduled, OrderStatusSettled, true},
		{OrderStatusFailed, OrderStatusSettled, true},
		{OrderStatusPaid, OrderStatusPending, false},
		{OrderStatusPaid, OrderStatusFailed, false},
		{OrderStatusSettled, OrderStatusPaid, false},
		{OrderStatusSettled, OrderStatusFailed, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.allowed, tc.from.CanTransitionTo(tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestSettlementOutcomeTerminality(t *testing.T) {
	assert.False(t, SettlementChargePending.IsTerminal())
	assert.False(t, SettlementTransferInProgress.IsTerminal())
	assert.True(t, SettlementChargeFailed.IsTerminal())
	assert.True(t, SettlementChargeSucceededTransferPending.IsTerminal())
	assert.True(t, SettlementChargeSucceededTransferFailed.IsTerminal())
	assert.True(t, SettlementCompleted.IsTerminal())
	assert.False(t, SettlementOutcome("bogus").IsTerminal())

	assert.False(t, SettlementChargeFailed.ChargeSucceeded())
	assert.True(t, SettlementCompleted.ChargeSucceeded())
}

func TestParsers(t *testing.T) {
	cur, err := ParseCurrency(" USD ")
	require.NoError(t, err)
	assert.Equal(t, CurrencyUSD, cur)
	assert.Equal(t, "USD", cur.Upper())

	_, err = ParseCurrency("doge")
	require.Error(t, err)

	role, err := ParseRole("admin")
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, role)
	_, err = ParseRole("owner")
	require.Error(t, err)

	reason, err := ParseReconciliationReason("transfer_unknown")
	require.NoError(t, err)
	assert.Equal(t, ReconciliationTransferUnknown, reason)

	_, err = ParseOutboxEventType("refund_issued")
	require.Error(t, err)
}
