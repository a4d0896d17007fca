package generic

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMoney(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"$1,234.56", "1234.56", true},
		{"1234.56", "1234.56", true},
		{"(250.00)", "-250", true},
		{"-$75", "-75", true},
		{"3%", "3", true},
		{"  $ 10 ", "10", true},
		{"", "0", false},
		{"n/a", "0", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseMoney(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.True(t, got.Equal(MustParseDecimal(tt.want)), "got %s", got)
		})
	}
}

func TestSplitArithmetic(t *testing.T) {
	// GIVEN: A 25,000 GCI loop on an 80/20 plan
	// WHEN: Computing the brokerage side
	// THEN: The brokerage keeps exactly 5,000

	gci := NewMoneyFromInt(25000)
	brokerage := PercentOf(gci, Complement(decimal.NewFromInt(80)))
	assert.True(t, brokerage.Equal(NewMoneyFromInt(5000)), "got %s", brokerage)
}

func TestHelpersAreTotal(t *testing.T) {
	assert.True(t, SafeDiv(NewMoneyFromInt(10), decimal.Zero).IsZero())
	assert.True(t, SafeDiv(NewMoneyFromInt(10), NewMoneyFromInt(4)).Equal(MustParseDecimal("2.5")))

	assert.True(t, MaxCount(0).Equal(decimal.NewFromInt(1)))
	assert.True(t, MaxCount(-3).Equal(decimal.NewFromInt(1)))
	assert.True(t, MaxCount(7).Equal(decimal.NewFromInt(7)))

	assert.True(t, MustParseDecimal("garbage").IsZero())
}

func TestClamp(t *testing.T) {
	lo, hi := decimal.Zero, Hundred
	assert.True(t, Clamp(NewMoneyFromInt(-5), lo, hi).Equal(lo))
	assert.True(t, Clamp(NewMoneyFromInt(150), lo, hi).Equal(hi))
	assert.True(t, Clamp(NewMoneyFromInt(42), lo, hi).Equal(NewMoneyFromInt(42)))
}

func TestWithinTolerance(t *testing.T) {
	// Differences up to and including one currency unit are a match.
	assert.True(t, WithinTolerance(MustParseDecimal("100.00"), MustParseDecimal("101.00"), AuditTolerance))
	assert.True(t, WithinTolerance(MustParseDecimal("100.50"), MustParseDecimal("100.00"), AuditTolerance))
	assert.False(t, WithinTolerance(MustParseDecimal("100.00"), MustParseDecimal("101.01"), AuditTolerance))
}

func TestFloatRoundsForDisplay(t *testing.T) {
	require.Equal(t, 1234.57, Float(MustParseDecimal("1234.5678")))
	require.Equal(t, 0.0, Float(decimal.Zero))
}
