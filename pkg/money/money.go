// Package money provides currency-safe amount handling using integer cents.
// Amounts parsed from statements are converted through shopspring/decimal so
// that no value ever passes through a float.
package money

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// Common currency codes (ISO-4217)
const (
	USD = "USD"
	EUR = "EUR"
	GBP = "GBP"
	BRL = "BRL"
)

var ErrEmptyAmount = errors.New("empty amount")

// Money represents a monetary value with currency.
type Money struct {
	m *money.Money
}

// New creates a Money value from minor units and a currency code.
func New(amountCents int64, currencyCode string) *Money {
	return &Money{m: money.New(amountCents, currencyCode)}
}

// NewFromDecimal creates Money from a decimal value, rounding half away from
// zero to the currency's minor unit.
func NewFromDecimal(amount decimal.Decimal, currencyCode string) *Money {
	currency := money.GetCurrency(currencyCode)
	if currency == nil {
		currency = money.GetCurrency(USD)
	}
	multiplier := decimal.New(1, int32(currency.Fraction))
	return New(amount.Mul(multiplier).Round(0).IntPart(), currency.Code)
}

// Amount returns the amount in minor units.
func (m *Money) Amount() int64 {
	if m == nil || m.m == nil {
		return 0
	}
	return m.m.Amount()
}

// Display returns a formatted string for display (e.g., "$1,234.56").
func (m *Money) Display() string {
	if m == nil || m.m == nil {
		return "$0.00"
	}
	return m.m.Display()
}

// Parse converts a statement amount into a decimal. It accepts currency
// symbols, thousands separators, a leading or trailing minus, accounting
// parentheses and CR/DR suffixes. When european is set, '.' groups thousands
// and ',' is the decimal separator.
func Parse(s string, european bool) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, ErrEmptyAmount
	}
	raw := s

	upper := strings.ToUpper(s)
	negative := false
	switch {
	case strings.HasSuffix(upper, "CR"):
		s = s[:len(s)-2]
	case strings.HasSuffix(upper, "DR"):
		negative = true
		s = s[:len(s)-2]
	}

	for _, sym := range []string{"R$", "$", "€", "£", "USD", "EUR", "GBP", "BRL"} {
		s = strings.ReplaceAll(s, sym, "")
	}
	s = strings.ReplaceAll(strings.TrimSpace(s), " ", "")

	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = !negative
		s = strings.Trim(s, "()")
	}
	if strings.HasPrefix(s, "-") {
		negative = !negative
		s = strings.TrimPrefix(s, "-")
	} else if strings.HasSuffix(s, "-") {
		negative = !negative
		s = strings.TrimSuffix(s, "-")
	}
	s = strings.TrimPrefix(s, "+")

	if european {
		s = strings.ReplaceAll(s, ".", "")
		s = strings.ReplaceAll(s, ",", ".")
	} else {
		s = strings.ReplaceAll(s, ",", "")
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid number %q", raw)
	}
	if negative {
		d = d.Neg()
	}
	return d, nil
}

// ParseCents parses a statement amount into minor units of a two-decimal currency.
func ParseCents(s string, european bool) (int64, error) {
	d, err := Parse(s, european)
	if err != nil {
		return 0, err
	}
	return d.Shift(2).Round(0).IntPart(), nil
}

// FormatCents renders minor units as a plain decimal string ("-42.17").
func FormatCents(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}
