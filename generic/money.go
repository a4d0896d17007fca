/*
Package generic provides the domain-agnostic primitives of the commission engine.

PURPOSE:
  Money math, calendar dates, cap periods, loop-status classification and
  the error taxonomy live here so the commission, forecast and variance
  packages share one vocabulary and one rounding model.

KEY CONCEPTS IN THIS FILE (money.go):
  - Money values are decimal.Decimal, never float64
  - Percentages are decimals in the 0-100 range ("80" means 80%)
  - Tolerance: the currency-unit threshold below which a difference is noise

DESIGN PRINCIPLES:
  1. Precision: decimal.Decimal keeps splits exact and runs reproducible
  2. Percent-as-number: configuration speaks "80/20", not "0.8"
  3. Total functions: helpers never panic on zero denominators

USAGE:
  gci := generic.NewMoney(25000)
  brokerage := generic.PercentOf(gci, generic.Complement(decimal.NewFromInt(80)))
  // brokerage == 5000

SEE ALSO:
  - time.go: TimePoint and date parsing
  - period.go: cap periods
  - errors.go: error taxonomy
*/
package generic

import (
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// CONSTANTS
// =============================================================================

var (
	// Hundred is the percentage base.
	Hundred = decimal.NewFromInt(100)

	// AuditTolerance is the currency-unit difference treated as a match.
	AuditTolerance = decimal.NewFromInt(1)
)

// =============================================================================
// CONSTRUCTORS
// =============================================================================

func NewMoney(value float64) decimal.Decimal { return decimal.NewFromFloat(value) }

func NewMoneyFromInt(value int64) decimal.Decimal { return decimal.NewFromInt(value) }

func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// ParseMoney parses export-formatted currency ("$1,234.56", "1234.56",
// "(250.00)", "3%"). The second return is false for empty or non-numeric input.
func ParseMoney(s string) (decimal.Decimal, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, false
	}

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = strings.TrimSuffix(strings.TrimPrefix(s, "("), ")")
	}
	s = strings.NewReplacer("$", "", ",", "", "%", "", " ", "").Replace(s)
	if strings.HasPrefix(s, "-") {
		negative = !negative
		s = s[1:]
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	if negative {
		d = d.Neg()
	}
	return d, true
}

// =============================================================================
// ARITHMETIC HELPERS
// =============================================================================

// PercentOf returns value × pct / 100.
func PercentOf(value, pct decimal.Decimal) decimal.Decimal {
	return value.Mul(pct).Div(Hundred)
}

// Complement returns 100 - pct. An agent split of 80 leaves 20 to the brokerage.
func Complement(pct decimal.Decimal) decimal.Decimal {
	return Hundred.Sub(pct)
}

// SafeDiv returns n / d, or zero when d is zero.
func SafeDiv(n, d decimal.Decimal) decimal.Decimal {
	if d.IsZero() {
		return decimal.Zero
	}
	return n.Div(d)
}

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi decimal.Decimal) decimal.Decimal {
	if v.LessThan(lo) {
		return lo
	}
	if v.GreaterThan(hi) {
		return hi
	}
	return v
}

// MaxCount guards count denominators: max(1, n).
func MaxCount(n int) decimal.Decimal {
	if n < 1 {
		return decimal.NewFromInt(1)
	}
	return decimal.NewFromInt(int64(n))
}

// WithinTolerance reports |a - b| <= tol.
func WithinTolerance(a, b, tol decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(tol)
}

// Float returns the float64 value for display layers. Precision loss is
// acceptable there and nowhere else.
func Float(d decimal.Decimal) float64 {
	f, _ := d.Round(2).Float64()
	return f
}
