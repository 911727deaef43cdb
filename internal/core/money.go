// Package core provides the domain model for the task intake pipeline.
//
// This file contains helpers for parsing and formatting currency amounts.
// Amounts are decimal.Decimal throughout so that ledger arithmetic is exact;
// floats never touch the budget.
package core

import (
	"strings"

	"github.com/shopspring/decimal"
)

// ParseAmount converts a user-supplied decimal string into a positive
// currency amount. It accepts both dot (12.34) and comma (12,34) decimal
// separators and allows at most two fractional digits. Returns
// ErrInvalidAmount for malformed, zero, or negative input.
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	// Normalize decimal comma to dot
	s = strings.ReplaceAll(s, ",", ".")
	if strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		return decimal.Zero, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	if !d.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}
	if d.Exponent() < -2 {
		return decimal.Zero, ErrInvalidAmount
	}
	return d, nil
}

// FormatUSD renders an amount as a dollar string for display, e.g. "$12.34".
// Ledger math never goes through this representation.
func FormatUSD(d decimal.Decimal) string {
	if d.IsNegative() {
		return "-$" + d.Neg().StringFixed(2)
	}
	return "$" + d.StringFixed(2)
}
