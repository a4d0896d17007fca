/*
audit.go - Expected vs. recorded company dollar

PURPOSE:
  Re-derives what the brokerage should have retained on each (record, agent)
  pair and compares it with what the export says it retained.

CLASSIFICATION (diff = actual - expected):
  |diff| ≤ 1.00   → match
  diff  > 1.00    → underpaid  (brokerage kept more than the plan allows,
                                so the agent was paid less)
  diff  < -1.00   → overpaid   (brokerage kept less, agent was paid more)

  The direction is phrased from the agent's side: company dollar is
  brokerage revenue, not agent pay.

REPRODUCIBILITY:
  Audit calls Calculate. The YTD trajectory behind every expected figure is
  exactly the one a commission report shows for the same inputs.

SEE ALSO:
  - calculator.go: the fold
  - export.go: CSV/XLSX rendering of results
  - variance/engine.go: turns non-matching results into alerts
*/
package commission

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/warp/commission-engine/generic"
)

type AuditStatus string

const (
	AuditMatch     AuditStatus = "match"
	AuditOverpaid  AuditStatus = "overpaid"
	AuditUnderpaid AuditStatus = "underpaid"
)

type AuditResult struct {
	RecordID              string // LoopID
	LoopName              string
	AgentName             string
	ActualCompanyDollar   decimal.Decimal
	ExpectedCompanyDollar decimal.Decimal
	Difference            decimal.Decimal // actual - expected
	VariancePercentage    decimal.Decimal // |difference| relative to expected
	Status                AuditStatus
	Notes                 []string
}

// HasExpectation reports whether the result was computed against a plan.
func (r AuditResult) HasExpectation() bool {
	for _, n := range r.Notes {
		if n == NoteNoPlan || n == NoteNoAgents {
			return false
		}
	}
	return true
}

// Classify applies the tolerance rule to an actual/expected pair.
func Classify(actual, expected decimal.Decimal) AuditStatus {
	diff := actual.Sub(expected)
	switch {
	case diff.Abs().LessThanOrEqual(generic.AuditTolerance):
		return AuditMatch
	case diff.IsPositive():
		return AuditUnderpaid
	default:
		return AuditOverpaid
	}
}

// VariancePercentage is |actual - expected| / expected × 100. When expected is
// zero the actual is the base, and two zeros give zero.
func VariancePercentage(actual, expected decimal.Decimal) decimal.Decimal {
	diff := actual.Sub(expected).Abs()
	switch {
	case !expected.IsZero():
		return diff.Div(expected.Abs()).Mul(generic.Hundred)
	case !actual.IsZero():
		return diff.Div(actual.Abs()).Mul(generic.Hundred)
	default:
		return decimal.Zero
	}
}

// =============================================================================
// AUDIT
// =============================================================================

// Audit runs the calculator and compares each breakdown with its recorded share.
func Audit(records []Record, snap ConfigSnapshot, opts Options) ([]AuditResult, error) {
	res, err := Calculate(records, snap, opts)
	if err != nil {
		return nil, err
	}
	return AuditBreakdowns(res.Breakdowns), nil
}

// AuditBreakdowns audits an existing calculation result.
func AuditBreakdowns(breakdowns []Breakdown) []AuditResult {
	out := make([]AuditResult, 0, len(breakdowns))
	for _, b := range breakdowns {
		actual := b.ActualCompanyDollar
		expected := b.BrokerageSplitAmount
		out = append(out, AuditResult{
			RecordID:              b.LoopID,
			LoopName:              b.LoopName,
			AgentName:             b.AgentName,
			ActualCompanyDollar:   actual,
			ExpectedCompanyDollar: expected,
			Difference:            actual.Sub(expected),
			VariancePercentage:    VariancePercentage(actual, expected),
			Status:                Classify(actual, expected),
			Notes:                 append([]string(nil), b.Notes...),
		})
	}
	return out
}

// Auditor snapshots configuration from a store and runs Audit.
type Auditor struct {
	Store ConfigStore
}

func (a *Auditor) Run(ctx context.Context, records []Record, opts Options) ([]AuditResult, ConfigSnapshot, error) {
	if a.Store == nil {
		return nil, ConfigSnapshot{}, generic.ErrStoreRequired
	}
	snap, err := a.Store.Snapshot(ctx)
	if err != nil {
		return nil, ConfigSnapshot{}, fmt.Errorf("snapshot config: %w", err)
	}
	results, err := Audit(records, snap, opts)
	if err != nil {
		return nil, ConfigSnapshot{}, err
	}
	return results, snap, nil
}

// =============================================================================
// SUMMARY
// =============================================================================

type AuditSummary struct {
	Total            int
	Matched          int
	Overpaid         int
	Underpaid        int
	TotalActual      decimal.Decimal
	TotalExpected    decimal.Decimal
	NetDifference    decimal.Decimal // Σ(actual - expected)
	AbsoluteVariance decimal.Decimal // Σ|actual - expected| over non-matching results
	MatchRatePercent decimal.Decimal
}

func Summarize(results []AuditResult) AuditSummary {
	s := AuditSummary{
		TotalActual:      decimal.Zero,
		TotalExpected:    decimal.Zero,
		NetDifference:    decimal.Zero,
		AbsoluteVariance: decimal.Zero,
		MatchRatePercent: decimal.Zero,
	}
	for _, r := range results {
		s.Total++
		s.TotalActual = s.TotalActual.Add(r.ActualCompanyDollar)
		s.TotalExpected = s.TotalExpected.Add(r.ExpectedCompanyDollar)
		s.NetDifference = s.NetDifference.Add(r.Difference)
		switch r.Status {
		case AuditMatch:
			s.Matched++
		case AuditOverpaid:
			s.Overpaid++
			s.AbsoluteVariance = s.AbsoluteVariance.Add(r.Difference.Abs())
		case AuditUnderpaid:
			s.Underpaid++
			s.AbsoluteVariance = s.AbsoluteVariance.Add(r.Difference.Abs())
		}
	}
	if s.Total > 0 {
		s.MatchRatePercent = decimal.NewFromInt(int64(s.Matched)).
			Div(generic.MaxCount(s.Total)).Mul(generic.Hundred).Round(2)
	}
	return s
}
