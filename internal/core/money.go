package core

import (
	"strings"

	"github.com/shopspring/decimal"
)

// AmountPlaces is the number of fractional digits kept on parsed amounts.
const AmountPlaces = 2

// ParseAmount parses a positive decimal amount.
//
// It accepts both dot (12.34) and comma (12,34) decimal separators and rounds
// half-up to two fractional digits. Signs, zero and anything that is not a
// plain decimal number are rejected.
//
// Examples:
//
//	ParseAmount("12.34")  -> 12.34
//	ParseAmount("12,345") -> 12.35
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		return decimal.Zero, invalid("amount", ErrInvalidAmount)
	}
	s = strings.ReplaceAll(s, ",", ".")
	// decimal.NewFromString also takes exponents, which are not amounts.
	if strings.ContainsAny(s, "eE") {
		return decimal.Zero, invalid("amount", ErrInvalidAmount)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, invalid("amount", ErrInvalidAmount)
	}
	d = d.Round(AmountPlaces)
	if !d.IsPositive() {
		return decimal.Zero, invalid("amount", ErrInvalidAmount)
	}
	return d, nil
}

// MustAmount is like ParseAmount but panics on error.
func MustAmount(s string) decimal.Decimal {
	d, err := ParseAmount(s)
	if err != nil {
		panic(err.Error())
	}
	return d
}
