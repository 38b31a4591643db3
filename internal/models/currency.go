package models

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Currency is an ISO 4217 currency code
type Currency string

const (
	CurrencyKES Currency = "KES"
	CurrencyUGX Currency = "UGX"
	CurrencyTZS Currency = "TZS"
	CurrencyUSD Currency = "USD"
	CurrencyGBP Currency = "GBP"
	CurrencyEUR Currency = "EUR"
)

// currencyDecimals holds the smallest display unit for each supported currency.
// Shilling-denominated currencies are shown without decimals.
var currencyDecimals = map[Currency]int32{
	CurrencyKES: 0,
	CurrencyUGX: 0,
	CurrencyTZS: 0,
	CurrencyUSD: 2,
	CurrencyGBP: 2,
	CurrencyEUR: 2,
}

// PlatformFeeRate is the share of every ticket price retained by the platform
var PlatformFeeRate = decimal.RequireFromString("0.05")

// ParseCurrency normalizes and validates a currency code
func ParseCurrency(code string) (Currency, error) {
	c := Currency(strings.ToUpper(strings.TrimSpace(code)))
	if !c.IsSupported() {
		return "", &ValidationError{Field: "currency", Message: "unsupported currency " + code, Err: ErrUnsupportedCurrency}
	}
	return c, nil
}

// IsSupported reports whether the platform can sell tickets in this currency
func (c Currency) IsSupported() bool {
	_, ok := currencyDecimals[c]
	return ok
}

// Decimals returns the number of display decimals for the currency
func (c Currency) Decimals() int32 {
	if d, ok := currencyDecimals[c]; ok {
		return d
	}
	return 2
}

// PlatformFee computes the platform share of an amount, rounded half-up to the display unit
func PlatformFee(amount int64) int64 {
	return decimal.NewFromInt(amount).Mul(PlatformFeeRate).Round(0).IntPart()
}

// FormatAmount renders an amount in display units for a payment rail:
// integer units for 0-decimal currencies, two decimals otherwise.
func FormatAmount(amount int64, c Currency) string {
	return AmountDecimal(amount, c).StringFixed(c.Decimals())
}

// AmountDecimal returns the amount as a decimal in major units
func AmountDecimal(amount int64, c Currency) decimal.Decimal {
	return decimal.New(amount, -c.Decimals())
}

// ParseAmount converts a provider-reported major-unit amount into display units
func ParseAmount(value decimal.Decimal, c Currency) int64 {
	return value.Shift(c.Decimals()).Round(0).IntPart()
}

// PaymentMethodsFor lists the payment methods offered for a currency
func PaymentMethodsFor(c Currency) []PaymentMethod {
	switch c {
	case CurrencyKES:
		return []PaymentMethod{MethodMpesa, MethodAirtel, MethodCard, MethodPayPal}
	case CurrencyUGX, CurrencyTZS:
		return []PaymentMethod{MethodAirtel, MethodCard, MethodPayPal}
	default:
		return []PaymentMethod{MethodCard, MethodPayPal}
	}
}

// IsMethodOffered reports whether a method can pay for a grand total in a currency
func IsMethodOffered(m PaymentMethod, c Currency, grandTotal int64) bool {
	if grandTotal == 0 {
		return m == MethodFree
	}
	for _, offered := range PaymentMethodsFor(c) {
		if offered == m {
			return true
		}
	}
	return false
}
