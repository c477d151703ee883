package enums

// OrderStatus tracks where an order sits in the settlement lifecycle.
type OrderStatus string

const (
	OrderStatusPending         OrderStatus = "pending"
	OrderStatusPaid            OrderStatus = "paid"
	OrderStatusPayoutScheduled OrderStatus = "payout_scheduled"
	OrderStatusSettled         OrderStatus = "settled"
	OrderStatusFailed          OrderStatus = "failed"
)

var orderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusPaid,
	OrderStatusPayoutScheduled,
	OrderStatusSettled,
	OrderStatusFailed,
}

// Settled has no entry: settled orders never move again.
var orderStatusTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:         {OrderStatusPaid, OrderStatusFailed, OrderStatusPayoutScheduled, OrderStatusSettled},
	OrderStatusPaid:            {OrderStatusPayoutScheduled, OrderStatusSettled},
	OrderStatusPayoutScheduled: {OrderStatusSettled},
	OrderStatusFailed:          {OrderStatusPaid, OrderStatusPayoutScheduled, OrderStatusSettled},
}

func (s OrderStatus) String() string { return string(s) }
func (s OrderStatus) IsValid() bool  { return oneOf(s, orderStatuses) }

// CanTransitionTo reports whether moving from s to next is allowed.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	return oneOf(next, orderStatusTransitions[s])
}

func ParseOrderStatus(value string) (OrderStatus, error) {
	return parse(value, orderStatuses, "order status")
}
