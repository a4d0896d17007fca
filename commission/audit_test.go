package commission_test

import (
	"bytes"
	"encoding/csv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/commission-engine/commission"
	"github.com/xuri/excelize/v2"
)

// =============================================================================
// CLASSIFICATION
// =============================================================================

func TestClassify_Tolerance(t *testing.T) {
	tests := []struct {
		name     string
		actual   string
		expected string
		want     commission.AuditStatus
	}{
		{"within tolerance", "5000", "4999.50", commission.AuditMatch},
		{"exactly one dollar over", "5001", "5000", commission.AuditMatch},
		{"exactly one dollar under", "4999", "5000", commission.AuditMatch},
		{"brokerage kept more", "5001.01", "5000", commission.AuditUnderpaid},
		{"brokerage kept less", "4998.99", "5000", commission.AuditOverpaid},
		{"identical", "1234.56", "1234.56", commission.AuditMatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, commission.Classify(dec(tt.actual), dec(tt.expected)))
		})
	}
}

func TestVariancePercentage(t *testing.T) {
	assertDec(t, "10", commission.VariancePercentage(dec("1100"), dec("1000")))
	assertDec(t, "100", commission.VariancePercentage(dec("500"), dec("0")), "actual is the base when expected is zero")
	assertDec(t, "0", commission.VariancePercentage(dec("0"), dec("0")))
}

// =============================================================================
// AUDIT
// =============================================================================

func TestAudit_ReusesCalculatorTrajectory(t *testing.T) {
	// GIVEN: An agent who crosses the cap on the second deal
	// WHEN: Auditing with recorded company dollar matching the plan except on L2
	// THEN: L1 matches, L2 is underpaid (brokerage recorded 2,000 vs 1,000 expected)

	snap := snapshot([]commission.CommissionPlan{cappedPlan("std", "80", "18000", "100")}, nil,
		assign("Alice Smith", "std"))
	records := []commission.Record{
		record("L1", "Alice Smith", "2025-02-01", "85000", "17000"),
		record("L2", "Alice Smith", "2025-06-01", "10000", "2000"),
		record("L3", "Alice Smith", "2025-07-01", "10000", "0.75"),
	}

	results, err := commission.Audit(records, snap, commission.Options{})
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, commission.AuditMatch, results[0].Status)

	assert.Equal(t, commission.AuditUnderpaid, results[1].Status)
	assertDec(t, "1000", results[1].ExpectedCompanyDollar)
	assertDec(t, "1000", results[1].Difference)
	assertDec(t, "100", results[1].VariancePercentage)

	assert.Equal(t, commission.AuditMatch, results[2].Status, "post-cap expected is 0, 0.75 is noise")

	calc, err := commission.Calculate(records, snap, commission.Options{})
	require.NoError(t, err)
	for i, b := range calc.Breakdowns {
		assert.True(t, b.BrokerageSplitAmount.Equal(results[i].ExpectedCompanyDollar))
	}
}

func TestAudit_ExactMatchIsAlwaysMatch(t *testing.T) {
	// GIVEN: Recorded company dollar equal to the computed figure on every deal
	// THEN: Every result is a match

	calc, err := commission.Calculate(propertyRecords(), propertySnapshot(), commission.Options{})
	require.NoError(t, err)

	breakdowns := make([]commission.Breakdown, len(calc.Breakdowns))
	copy(breakdowns, calc.Breakdowns)
	for i := range breakdowns {
		breakdowns[i].ActualCompanyDollar = breakdowns[i].BrokerageSplitAmount
	}

	for _, r := range commission.AuditBreakdowns(breakdowns) {
		assert.Equal(t, commission.AuditMatch, r.Status)
	}
}

func TestAudit_OverpaidWhenBrokerageRecordedLess(t *testing.T) {
	snap := snapshot([]commission.CommissionPlan{cappedPlan("p", "80", "0", "100")}, nil, assign("Bo", "p"))
	results, err := commission.Audit(
		[]commission.Record{record("L1", "Bo", "2025-01-01", "10000", "1500")}, snap, commission.Options{})
	require.NoError(t, err)

	assert.Equal(t, commission.AuditOverpaid, results[0].Status)
	assertDec(t, "-500", results[0].Difference)
	assertDec(t, "25", results[0].VariancePercentage)
}

func TestAudit_UnassignedCarriesNote(t *testing.T) {
	results, err := commission.Audit(
		[]commission.Record{record("L1", "Nobody", "2025-01-01", "10000", "2000")},
		snapshot(nil, nil), commission.Options{})
	require.NoError(t, err)

	assert.False(t, results[0].HasExpectation())
	assert.Contains(t, results[0].Notes, commission.NoteNoPlan)
}

func TestSummarize(t *testing.T) {
	results := []commission.AuditResult{
		{Status: commission.AuditMatch, ActualCompanyDollar: dec("100"), ExpectedCompanyDollar: dec("100"), Difference: dec("0")},
		{Status: commission.AuditUnderpaid, ActualCompanyDollar: dec("300"), ExpectedCompanyDollar: dec("200"), Difference: dec("100")},
		{Status: commission.AuditOverpaid, ActualCompanyDollar: dec("150"), ExpectedCompanyDollar: dec("200"), Difference: dec("-50")},
		{Status: commission.AuditMatch, ActualCompanyDollar: dec("10"), ExpectedCompanyDollar: dec("10.5"), Difference: dec("-0.5")},
	}

	s := commission.Summarize(results)
	assert.Equal(t, 4, s.Total)
	assert.Equal(t, 2, s.Matched)
	assert.Equal(t, 1, s.Underpaid)
	assert.Equal(t, 1, s.Overpaid)
	assertDec(t, "49.5", s.NetDifference)
	assertDec(t, "150", s.AbsoluteVariance)
	assertDec(t, "50", s.MatchRatePercent)
}

func TestSummarize_Empty(t *testing.T) {
	s := commission.Summarize(nil)
	assert.Equal(t, 0, s.Total)
	assertDec(t, "0", s.MatchRatePercent)
}

// =============================================================================
// EXPORT
// =============================================================================

func auditFixture() []commission.AuditResult {
	return []commission.AuditResult{
		{
			RecordID: "L1", AgentName: "Alice Smith",
			ActualCompanyDollar: dec("2000"), ExpectedCompanyDollar: dec("1000"), Difference: dec("1000"),
			Status: commission.AuditUnderpaid, Notes: []string{commission.NoteHitCap},
		},
		{
			RecordID: "L2", AgentName: "Bob",
			ActualCompanyDollar: dec("10"), ExpectedCompanyDollar: dec("10"), Difference: dec("0"),
			Status: commission.AuditMatch,
		},
	}
}

func TestWriteAuditCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, commission.WriteAuditCSV(&buf, auditFixture()))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"Loop ID", "Agent Name", "Actual", "Expected", "Difference", "Status", "Notes"}, rows[0])
	assert.Equal(t, []string{"L1", "Alice Smith", "2000.00", "1000.00", "1000.00", "underpaid", "Hit cap"}, rows[1])
	assert.Equal(t, "match", rows[2][5])
}

func TestWriteAuditXLSX(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, commission.WriteAuditXLSX(&buf, auditFixture()))

	xl, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer xl.Close()

	rows, err := xl.GetRows("Audit")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "Loop ID", rows[0][0])
	assert.Equal(t, "Alice Smith", rows[1][1])
	assert.Equal(t, "underpaid", rows[1][5])
}

func TestBreakdownTable(t *testing.T) {
	snap := snapshot([]commission.CommissionPlan{cappedPlan("p", "80", "0", "100")}, nil, assign("Alice", "p"))
	res, err := commission.Calculate(
		[]commission.Record{record("L1", "Alice", "2025-01-01", "10000", "2000")}, snap, commission.Options{})
	require.NoError(t, err)

	table := commission.BreakdownTable(res.Breakdowns)
	require.Len(t, table.Rows, 1)
	assert.Equal(t, len(commission.BreakdownHeader), len(table.Rows[0]))
	assert.Equal(t, "2025-01-01", table.Rows[0][3])
	assert.Equal(t, "2000.00", table.Rows[0][8])
}
