package enums

// SettlementOutcome is the state of a single settlement attempt.
type SettlementOutcome string

const (
	SettlementChargePending                  SettlementOutcome = "charge_pending"
	SettlementTransferInProgress             SettlementOutcome = "transfer_in_progress"
	SettlementChargeFailed                   SettlementOutcome = "charge_failed"
	SettlementChargeSucceededTransferPending SettlementOutcome = "charge_succeeded_transfer_pending"
	SettlementChargeSucceededTransferFailed  SettlementOutcome = "charge_succeeded_transfer_failed"
	SettlementCompleted                      SettlementOutcome = "completed"
)

var settlementOutcomes = []SettlementOutcome{
	SettlementChargePending,
	SettlementTransferInProgress,
	SettlementChargeFailed,
	SettlementChargeSucceededTransferPending,
	SettlementChargeSucceededTransferFailed,
	SettlementCompleted,
}

// NonTerminalSettlementOutcomes lists the outcomes a record may still leave.
var NonTerminalSettlementOutcomes = []SettlementOutcome{
	SettlementChargePending,
	SettlementTransferInProgress,
}

// String implements fmt.Stringer.
func (o SettlementOutcome) String() string {
	return string(o)
}

// IsValid reports whether the value is a known SettlementOutcome.
func (o SettlementOutcome) IsValid() bool {
	return oneOf(o, settlementOutcomes)
}

// IsTerminal reports whether the outcome is final.
func (o SettlementOutcome) IsTerminal() bool {
	return o.IsValid() && !oneOf(o, NonTerminalSettlementOutcomes)
}

// ChargeSucceeded reports whether the buyer was charged on this attempt.
func (o SettlementOutcome) ChargeSucceeded() bool {
	switch o {
	case SettlementTransferInProgress,
		SettlementChargeSucceededTransferPending,
		SettlementChargeSucceededTransferFailed,
		SettlementCompleted:
		return true
	default:
		return false
	}
}

// ParseSettlementOutcome converts raw input into a SettlementOutcome.
func ParseSettlementOutcome(value string) (SettlementOutcome, error) {
	return parse(value, settlementOutcomes, "settlement outcome")
}
