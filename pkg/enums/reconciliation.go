package enums

// ReconciliationReason explains why a settlement attempt needs follow-up.
type ReconciliationReason string

const (
	ReconciliationChargeUnknown   ReconciliationReason = "charge_unknown"
	ReconciliationTransferUnknown ReconciliationReason = "transfer_unknown"
	ReconciliationTransferPending ReconciliationReason = "transfer_pending"
	ReconciliationTransferFailed  ReconciliationReason = "transfer_failed"
)

// ReconciliationStatus is the queue state of a reconciliation item. Open
// items are retried by the cron worker; the other two are final.
type ReconciliationStatus string

const (
	ReconciliationStatusOpen      ReconciliationStatus = "open"
	ReconciliationStatusResolved  ReconciliationStatus = "resolved"
	ReconciliationStatusAbandoned ReconciliationStatus = "abandoned"
)

var (
	reconciliationReasons = []ReconciliationReason{
		ReconciliationChargeUnknown,
		ReconciliationTransferUnknown,
		ReconciliationTransferPending,
		ReconciliationTransferFailed,
	}
	reconciliationStatuses = []ReconciliationStatus{
		ReconciliationStatusOpen,
		ReconciliationStatusResolved,
		ReconciliationStatusAbandoned,
	}
)

func (r ReconciliationReason) String() string { return string(r) }
func (r ReconciliationReason) IsValid() bool  { return oneOf(r, reconciliationReasons) }

func (s ReconciliationStatus) String() string { return string(s) }
func (s ReconciliationStatus) IsValid() bool  { return oneOf(s, reconciliationStatuses) }

func ParseReconciliationReason(value string) (ReconciliationReason, error) {
	return parse(value, reconciliationReasons, "reconciliation reason")
}

func ParseReconciliationStatus(value string) (ReconciliationStatus, error) {
	return parse(value, reconciliationStatuses, "reconciliation status")
}
