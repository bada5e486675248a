package utils

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Amounts are stored in minor units (kobo, cents).

func FormatMinor(amount int64, currency string) string {
	return strings.ToUpper(currency) + " " + decimal.New(amount, -2).StringFixed(2)
}

func MinorToMajor(amount int64) decimal.Decimal {
	return decimal.New(amount, -2)
}

// PercentOf returns pct percent of amount, rounded half-up to a minor unit.
func PercentOf(amount, pct int64) int64 {
	return decimal.NewFromInt(amount).
		Mul(decimal.NewFromInt(pct)).
		Div(decimal.NewFromInt(100)).
		Round(0).
		IntPart()
}

// Rate returns part/total as a percentage with two decimals, 0 when total is 0.
func Rate(part, total int64) float64 {
	if total == 0 {
		return 0
	}
	f, _ := decimal.NewFromInt(part).
		Mul(decimal.NewFromInt(100)).
		Div(decimal.NewFromInt(total)).
		Round(2).
		Float64()
	return f
}
