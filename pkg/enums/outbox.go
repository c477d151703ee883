package enums

// OutboxAggregateType is the aggregate_type_enum column of outbox rows.
type OutboxAggregateType string

const (
	AggregateOrder      OutboxAggregateType = "order"
	AggregateSettlement OutboxAggregateType = "settlement"
)

// OutboxEventType is the event_type_enum column; each value maps to one
// registered publisher.
type OutboxEventType string

const (
	EventOrderCreated           OutboxEventType = "order_created"
	EventSettlementCompleted    OutboxEventType = "settlement_completed"
	EventSettlementChargeFailed OutboxEventType = "settlement_charge_failed"
	EventSettlementAlert        OutboxEventType = "settlement_alert"
)

// OutboxDLQErrorReason records why the publisher gave up on an event.
type OutboxDLQErrorReason string

const (
	OutboxDLQReasonMaxAttempts  OutboxDLQErrorReason = "max_attempts"
	OutboxDLQReasonNonRetryable OutboxDLQErrorReason = "non_retryable"
)

var (
	aggregateTypes  = []OutboxAggregateType{AggregateOrder, AggregateSettlement}
	outboxEvents    = []OutboxEventType{EventOrderCreated, EventSettlementCompleted, EventSettlementChargeFailed, EventSettlementAlert}
	dlqErrorReasons = []OutboxDLQErrorReason{OutboxDLQReasonMaxAttempts, OutboxDLQReasonNonRetryable}
)

func (a OutboxAggregateType) IsValid() bool  { return oneOf(a, aggregateTypes) }
func (e OutboxEventType) IsValid() bool      { return oneOf(e, outboxEvents) }
func (r OutboxDLQErrorReason) IsValid() bool { return oneOf(r, dlqErrorReasons) }

func (r OutboxDLQErrorReason) String() string { return string(r) }

func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	return parse(value, aggregateTypes, "aggregate type")
}

func ParseOutboxEventType(value string) (OutboxEventType, error) {
	return parse(value, outboxEvents, "event type")
}
