package settlement

import "github.com/shopspring/decimal"

// Variance is the signed difference between counted cash and the
// expected balance, split so that at most one side is non-zero.
type Variance struct {
	Over  decimal.Decimal `json:"over"`
	Short decimal.Decimal `json:"short"`
}

// ComputeVariance compares counted cash against the expected balance.
// Both inputs are rounded to cents before comparing.
func ComputeVariance(expected, counted decimal.Decimal) Variance {
	diff := RoundMoney(counted).Sub(RoundMoney(expected))
	switch {
	case diff.IsPositive():
		return Variance{Over: diff, Short: zero}
	case diff.IsNegative():
		return Variance{Over: zero, Short: diff.Neg()}
	default:
		return Variance{Over: zero, Short: zero}
	}
}

// Net is over minus short.
func (v Variance) Net() decimal.Decimal {
	return v.Over.Sub(v.Short)
}

// Matches reports whether a stored over/short pair equals this variance.
func (v Variance) Matches(over, short decimal.Decimal) bool {
	return v.Over.Equal(RoundMoney(over)) && v.Short.Equal(RoundMoney(short))
}
