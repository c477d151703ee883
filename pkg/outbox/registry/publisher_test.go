package registry

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bazaarhq/bazaar-backend/pkg/config"
	"github.com/bazaarhq/bazaar-backend/pkg/db/models"
	"github.com/bazaarhq/bazaar-backend/pkg/enums"
	"github.com/bazaarhq/bazaar-backend/pkg/outbox"
	"github.com/bazaarhq/bazaar-backend/pkg/outbox/payloads"
)

func TestEventRegistryRoutesAlertsToOperatorTopic(t *testing.T) {
	reg := newTestEventRegistry(t)
	settlementID := uuid.New()

	event := models.OutboxEvent{
		EventType:     enums.EventSettlementAlert,
		AggregateType: enums.AggregateSettlement,
		AggregateID:   settlementID,
		Payload: mustEnvelope(t, mustMarshal(t, payloads.SettlementAlertEvent{
			SettlementID: settlementID,
			OrderID:      uuid.New(),
			Reason:       enums.ReconciliationTransferFailed,
			Outcome:      enums.SettlementChargeSucceededTransferFailed,
			SellerPayout: decimal.RequireFromString("17.99"),
			Currency:     enums.CurrencyUSD,
		})),
	}

	resolved, err := reg.Resolve(event)
	require.NoError(t, err)
	assert.Equal(t, "alerts-topic", resolved.Descriptor.Topic)
	payload, ok := resolved.Payload.(*payloads.SettlementAlertEvent)
	require.True(t, ok, "unexpected payload type %T", resolved.Payload)
	assert.Equal(t, settlementID, payload.SettlementID)
	assert.True(t, payload.SellerPayout.Equal(decimal.RequireFromString("17.99")))
	assert.NotEmpty(t, resolved.Envelope.EventID)
}

func TestEventRegistryRoutesByEventType(t *testing.T) {
	reg := newTestEventRegistry(t)
	cases := map[enums.OutboxEventType]struct {
		aggregate enums.OutboxAggregateType
		topic     string
	}{
		enums.EventOrderCreated:           {enums.AggregateOrder, "orders-topic"},
		enums.EventSettlementCompleted:    {enums.AggregateSettlement, "settlements-topic"},
		enums.EventSettlementChargeFailed: {enums.AggregateSettlement, "settlements-topic"},
	}
	for eventType, want := range cases {
		resolved, err := reg.Resolve(models.OutboxEvent{
			EventType:     eventType,
			AggregateType: want.aggregate,
			AggregateID:   uuid.New(),
			Payload:       mustEnvelope(t, []byte(`{"order_id":"`+uuid.NewString()+`"}`)),
		})
		require.NoError(t, err, eventType)
		assert.Equal(t, want.topic, resolved.Descriptor.Topic, eventType)
	}
	assert.ElementsMatch(t, []string{"orders-topic", "settlements-topic", "alerts-topic"}, reg.Topics())
}

func TestEventRegistryRejectsBadRows(t *testing.T) {
	reg := newTestEventRegistry(t)
	cases := map[string]models.OutboxEvent{
		"unknown event": {
			EventType:     enums.OutboxEventType("refund_issued"),
			AggregateType: enums.AggregateOrder,
			AggregateID:   uuid.New(),
			Payload:       mustEnvelope(t, []byte(`{}`)),
		},
		"aggregate mismatch": {
			EventType:     enums.EventOrderCreated,
			AggregateType: enums.AggregateSettlement,
			AggregateID:   uuid.New(),
			Payload:       mustEnvelope(t, []byte(`{}`)),
		},
		"missing aggregate id": {
			EventType:     enums.EventOrderCreated,
			AggregateType: enums.AggregateOrder,
			AggregateID:   uuid.Nil,
			Payload:       mustEnvelope(t, []byte(`{}`)),
		},
		"null payload": {
			EventType:     enums.EventOrderCreated,
			AggregateType: enums.AggregateOrder,
			AggregateID:   uuid.New(),
			Payload:       mustEnvelope(t, []byte("null")),
		},
		"broken envelope": {
			EventType:     enums.EventOrderCreated,
			AggregateType: enums.AggregateOrder,
			AggregateID:   uuid.New(),
			Payload:       json.RawMessage(`{"data":`),
		},
	}
	for name, event := range cases {
		_, err := reg.Resolve(event)
		require.Error(t, err, name)
		var nonRetry NonRetryableError
		assert.True(t, errors.As(err, &nonRetry), name)
	}
}

func TestNewEventRegistryRequiresTopics(t *testing.T) {
	_, err := NewEventRegistry(config.PubSubConfig{OrdersTopic: "orders"})
	require.Error(t, err)
}

func newTestEventRegistry(t *testing.T) *EventRegistry {
	t.Helper()
	reg, err := NewEventRegistry(config.PubSubConfig{
		OrdersTopic:      "orders-topic",
		SettlementsTopic: "settlements-topic",
		AlertsTopic:      "alerts-topic",
	})
	require.NoError(t, err)
	return reg
}

func mustMarshal(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func mustEnvelope(t *testing.T, payload []byte) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(outbox.PayloadEnvelope{
		Version:    1,
		EventID:    uuid.NewString(),
		OccurredAt: time.Now().UTC(),
		Data:       payload,
	})
	require.NoError(t, err)
	return data
}
