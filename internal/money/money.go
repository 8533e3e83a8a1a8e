// Package money handles amounts in integer minor units (cents).
package money

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Amount is a monetary value in minor units of the operating currency.
type Amount int64

// FromDecimal converts a major-unit decimal to minor units, applying banker's
// rounding at two decimal places. Rounding happens here, once, at the final
// total rather than per multiplication step.
func FromDecimal(d decimal.Decimal) Amount {
	return Amount(d.RoundBank(2).Mul(decimal.NewFromInt(100)).IntPart())
}

// Decimal returns the major-unit decimal representation.
func (a Amount) Decimal() decimal.Decimal {
	return decimal.New(int64(a), -2)
}

// Cents returns the raw minor-unit value.
func (a Amount) Cents() int64 { return int64(a) }

// IsZero reports whether the amount is zero.
func (a Amount) IsZero() bool { return a == 0 }

// Format renders "KES 1,234.50".
func (a Amount) Format(currency string) string {
	currency = strings.TrimSpace(currency)
	major := int64(a) / 100
	minor := int64(a) % 100
	sign := ""
	if int64(a) < 0 {
		sign = "-"
		major = -major
		minor = -minor
	}
	if currency == "" {
		return fmt.Sprintf("%s%s.%02d", sign, groupThousands(major), minor)
	}
	return fmt.Sprintf("%s %s%s.%02d", currency, sign, groupThousands(major), minor)
}

// Parse accepts provider amount strings such as "1500", "1500.5" or "1,500.00".
func Parse(raw string) (Amount, error) {
	cleaned := strings.ReplaceAll(strings.TrimSpace(raw), ",", "")
	if cleaned == "" {
		return 0, fmt.Errorf("empty amount")
	}
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", raw, err)
	}
	return FromDecimal(d), nil
}

// FromFloat converts a provider float amount (e.g. JSON numbers) to minor units.
func FromFloat(value float64) Amount {
	return FromDecimal(decimal.NewFromFloat(value))
}

func groupThousands(v int64) string {
	s := fmt.Sprintf("%d", v)
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	lead := len(s) % 3
	if lead > 0 {
		b.WriteString(s[:lead])
	}
	for i := lead; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}
