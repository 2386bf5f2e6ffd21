// Package core holds the dues domain: sheets, pricing, reconciliation and
// the community types shown next to it.
//
// This file parses and formats baht amounts as they appear in the club's
// spreadsheets ("1,234", "฿ 1,234.50", "-").
package core

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

var ErrInvalidAmount = errors.New("invalid amount")

// ParseAmount converts a spreadsheet cell into a decimal. Thousands
// separators, a baht sign and surrounding spaces are ignored. A lone dash or
// an empty cell is reported as an invalid amount so callers can tell a blank
// from a zero.
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "฿")
	s = strings.TrimSuffix(s, "บาท")
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSpace(s)
	if s == "" || s == "-" {
		return decimal.Zero, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	return d, nil
}

// ParseNullAmount is ParseAmount for optional cells.
func ParseNullAmount(s string) decimal.NullDecimal {
	d, err := ParseAmount(s)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}

// FormatBaht renders an amount with thousands separators and at most two
// decimals, dropping ".00".
func FormatBaht(d decimal.Decimal) string {
	d = d.Round(2)
	neg := d.IsNegative()
	if neg {
		d = d.Neg()
	}
	s := d.StringFixed(2)
	intPart, frac, _ := strings.Cut(s, ".")
	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if frac != "00" {
		b.WriteByte('.')
		b.WriteString(frac)
	}
	return b.String()
}

// FormatBahtInt formats a whole-baht amount.
func FormatBahtInt(v int64) string {
	return FormatBaht(decimal.NewFromInt(v))
}
