package enums

// LedgerEntryType classifies an append-only settlement ledger entry.
type LedgerEntryType string

const (
	// LedgerPayoutRecovered records a payout made after its attempt had
	// already ended as transfer_pending or transfer_failed.
	LedgerPayoutRecovered   LedgerEntryType = "payout_recovered"
	LedgerPayoutRetryFailed LedgerEntryType = "payout_retry_failed"
)

var ledgerEntryTypes = []LedgerEntryType{
	LedgerPayoutRecovered,
	LedgerPayoutRetryFailed,
}

func (t LedgerEntryType) String() string { return string(t) }
func (t LedgerEntryType) IsValid() bool  { return oneOf(t, ledgerEntryTypes) }

func ParseLedgerEntryType(value string) (LedgerEntryType, error) {
	return parse(value, ledgerEntryTypes, "ledger entry type")
}
