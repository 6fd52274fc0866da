package settlement

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Money amounts are decimals in the domain and integer cents at rest.
// Every value that crosses into storage goes through RoundMoney first.

const moneyPlaces = 2

var (
	zero    = decimal.Zero
	hundred = decimal.NewFromInt(100)
)

// MaxAmount bounds any single amount entering the engine. Sums of many
// such amounts still fit int64 cents.
var MaxAmount = decimal.NewFromInt(1_000_000_000)

// RoundMoney rounds half away from zero to whole cents.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(moneyPlaces)
}

// ToCents converts a decimal amount to integer cents.
func ToCents(d decimal.Decimal) int64 {
	return RoundMoney(d).Mul(hundred).IntPart()
}

// FromCents converts integer cents back to a decimal amount.
func FromCents(c int64) decimal.Decimal {
	return decimal.New(c, -moneyPlaces)
}

// MustMoney parses a literal amount. Panics on malformed input, so it is
// only meant for constants and tests.
func MustMoney(s string) decimal.Decimal {
	return RoundMoney(decimal.RequireFromString(s))
}

// positiveAmount rounds d to cents and requires 0 < d <= MaxAmount.
// Checking after rounding keeps sub-cent inputs out of storage.
func positiveAmount(field string, d decimal.Decimal) (decimal.Decimal, error) {
	d = RoundMoney(d)
	if !d.IsPositive() {
		return zero, invalid(field, "must be positive")
	}
	if d.GreaterThan(MaxAmount) {
		return zero, invalid(field, fmt.Sprintf("must be at most %s", MaxAmount.StringFixed(2)))
	}
	return d, nil
}

// countAmount is positiveAmount for values where zero is meaningful.
func countAmount(field string, d decimal.Decimal) (decimal.Decimal, error) {
	d = RoundMoney(d)
	if d.IsNegative() {
		return zero, invalid(field, "must not be negative")
	}
	if d.GreaterThan(MaxAmount) {
		return zero, invalid(field, fmt.Sprintf("must be at most %s", MaxAmount.StringFixed(2)))
	}
	return d, nil
}

func maxDecimal(a, b decimal.Decimal) decimal.Decimal {
	if a.GreaterThan(b) {
		return a
	}
	return b
}
