package enums

import "fmt"

// Currency represents the ISO codes the gateway settles in.
type Currency string

const (
	CurrencyBRL Currency = "BRL"
	CurrencyARS Currency = "ARS"
	CurrencyMXN Currency = "MXN"
	CurrencyCLP Currency = "CLP"
	CurrencyUSD Currency = "USD"
)

var validCurrencies = []Currency{
	CurrencyBRL,
	CurrencyARS,
	CurrencyMXN,
	CurrencyCLP,
	CurrencyUSD,
}

// String implements fmt.Stringer.
func (c Currency) String() string {
	return string(c)
}

// IsValid reports whether the currency is recognized.
func (c Currency) IsValid() bool {
	for _, candidate := range validCurrencies {
		if candidate == c {
			return true
		}
	}
	return false
}

// MinorUnitExponent is the number of decimal places of the minor unit.
func (c Currency) MinorUnitExponent() int32 {
	if c == CurrencyCLP {
		return 0
	}
	return 2
}

// ParseCurrency converts a raw string into a Currency.
func ParseCurrency(value string) (Currency, error) {
	for _, candidate := range validCurrencies {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid currency %q", value)
}
