package utils

import (
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

// NormalizeCurrency upper-cases and validates an ISO-4217 code.
func NormalizeCurrency(code string) (string, error) {
	unit, err := currency.ParseISO(strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return "", err
	}
	return unit.String(), nil
}

// CurrencyScale is the number of minor-unit digits (MXN 2, JPY 0).
// Unknown codes fall back to 2.
func CurrencyScale(code string) int32 {
	unit, err := currency.ParseISO(strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return 2
	}
	scale, _ := currency.Standard.Rounding(unit)
	return int32(scale)
}

// MinorToDecimal converts integer minor units to a major-unit decimal.
func MinorToDecimal(amountMinor int64, code string) decimal.Decimal {
	return decimal.New(amountMinor, -CurrencyScale(code))
}

// DecimalToMinor rounds half-up at the currency scale and returns minor units.
func DecimalToMinor(amount decimal.Decimal, code string) int64 {
	scale := CurrencyScale(code)
	return amount.Round(scale).Shift(scale).IntPart()
}

// RoundToCurrency rounds half away from zero at the currency scale.
func RoundToCurrency(amount decimal.Decimal, code string) decimal.Decimal {
	return amount.Round(CurrencyScale(code))
}
