package enums

// PaymentProvider names the collector that charged the buyer.
type PaymentProvider string

const (
	PaymentProviderStripe PaymentProvider = "stripe"
	PaymentProviderSquare PaymentProvider = "square"
)

var paymentProviders = []PaymentProvider{PaymentProviderStripe, PaymentProviderSquare}

func (p PaymentProvider) String() string { return string(p) }
func (p PaymentProvider) IsValid() bool  { return oneOf(p, paymentProviders) }

func ParsePaymentProvider(value string) (PaymentProvider, error) {
	return parse(value, paymentProviders, "payment provider")
}
