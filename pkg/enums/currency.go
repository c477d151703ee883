package enums

import "strings"

// Currency is a lowercase ISO 4217 code accepted by the payment collectors.
type Currency string

const (
	CurrencyUSD Currency = "usd"
	CurrencyEUR Currency = "eur"
	CurrencyGBP Currency = "gbp"
	CurrencyCAD Currency = "cad"
)

var currencies = []Currency{
	CurrencyUSD,
	CurrencyEUR,
	CurrencyGBP,
	CurrencyCAD,
}

// String implements fmt.Stringer.
func (c Currency) String() string {
	return string(c)
}

// Upper returns the code in the uppercase form Square expects.
func (c Currency) Upper() string {
	return strings.ToUpper(string(c))
}

// IsValid reports whether the currency is recognized.
func (c Currency) IsValid() bool {
	return oneOf(c, currencies)
}

// ParseCurrency converts a raw string into a Currency. Input is case-insensitive.
func ParseCurrency(value string) (Currency, error) {
	return parse(strings.ToLower(strings.TrimSpace(value)), currencies, "currency")
}
