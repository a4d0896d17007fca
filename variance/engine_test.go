package variance_test

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/commission-engine/commission"
	"github.com/warp/commission-engine/generic"
	"github.com/warp/commission-engine/store/memory"
	"github.com/warp/commission-engine/variance"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var fixedNow = time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T) (*variance.Engine, *memory.Store) {
	t.Helper()
	store := memory.New()
	seq := 0
	engine := variance.NewEngine(store,
		variance.WithClock(func() time.Time { return fixedNow }),
		variance.WithIDGenerator(func() string {
			seq++
			return fmt.Sprintf("alert-%03d", seq)
		}),
	)
	return engine, store
}

func input(loop string, amount, pct string) variance.AlertInput {
	return variance.AlertInput{
		LoopID:             loop,
		AgentName:          "Alice Smith",
		TransactionName:    "123 Main St",
		VarianceAmount:     dec(amount),
		VariancePercentage: dec(pct),
	}
}

// =============================================================================
// CLASSIFICATION
// =============================================================================

func TestCreateAlert_SeverityTiers(t *testing.T) {
	// GIVEN: Default thresholds (major 5, minor 2)
	// WHEN: Variances of 10%, 3% and 1%
	// THEN: critical, warning, and no alert

	engine, _ := newTestEngine(t)
	ctx := context.Background()

	critical, err := engine.CreateAlert(ctx, input("L1", "100", "10"))
	require.NoError(t, err)
	require.NotNil(t, critical)
	assert.Equal(t, variance.SeverityCritical, critical.Severity)
	assert.Equal(t, fixedNow, critical.CreatedAt)
	assert.Equal(t, "alert-001", critical.ID)

	warning, err := engine.CreateAlert(ctx, input("L2", "30", "3"))
	require.NoError(t, err)
	require.NotNil(t, warning)
	assert.Equal(t, variance.SeverityWarning, warning.Severity)

	none, err := engine.CreateAlert(ctx, input("L3", "10", "1"))
	require.NoError(t, err)
	assert.Nil(t, none)

	all, err := engine.List(ctx, variance.Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestCreateAlert_NegativePercentUsesMagnitude(t *testing.T) {
	engine, _ := newTestEngine(t)
	a, err := engine.CreateAlert(context.Background(), input("L1", "-100", "-7"))
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, variance.SeverityCritical, a.Severity)
}

func TestThresholds_Monotonicity(t *testing.T) {
	// GIVEN: A fixed variance percentage
	// WHEN: Raising the major threshold past it
	// THEN: critical becomes warning (or nothing), never the reverse

	pct := dec("6")
	th := variance.DefaultThresholds()
	prev, ok := th.Classify(pct)
	require.True(t, ok)
	require.Equal(t, variance.SeverityCritical, prev)

	for major := 1; major <= 20; major++ {
		th.MajorVariancePercentage = decimal.NewFromInt(int64(major))
		if th.MinorVariancePercentage.GreaterThan(th.MajorVariancePercentage) {
			continue
		}
		sev, ok := th.Classify(pct)
		if decimal.NewFromInt(int64(major)).GreaterThan(pct) {
			assert.True(t, !ok || sev == variance.SeverityWarning, "major %d", major)
		} else {
			assert.Equal(t, variance.SeverityCritical, sev, "major %d", major)
		}
	}
}

func TestThresholds_ReadOnEveryCreate(t *testing.T) {
	// GIVEN: An alert created under default thresholds
	// WHEN: Major threshold is raised to 15 and the same variance recurs
	// THEN: The new alert is a warning; the old one stays critical

	engine, _ := newTestEngine(t)
	ctx := context.Background()

	first, err := engine.CreateAlert(ctx, input("L1", "100", "10"))
	require.NoError(t, err)

	th := variance.DefaultThresholds()
	th.MajorVariancePercentage = dec("15")
	require.NoError(t, engine.UpdateThresholds(ctx, th))

	second, err := engine.CreateAlert(ctx, input("L1", "110", "10"))
	require.NoError(t, err)
	assert.Equal(t, variance.SeverityWarning, second.Severity)

	stored, err := engine.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, variance.SeverityCritical, stored.Severity)
}

func TestUpdateThresholds_RejectsMinorAboveMajor(t *testing.T) {
	engine, _ := newTestEngine(t)
	th := variance.Thresholds{MajorVariancePercentage: dec("2"), MinorVariancePercentage: dec("5")}

	err := engine.UpdateThresholds(context.Background(), th)
	assert.ErrorIs(t, err, generic.ErrInvalidThresholds)
	assert.True(t, generic.IsClientError(err))
}

// =============================================================================
// FLAGGING
// =============================================================================

func TestAutoFlag_CriticalOnlyByDefault(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.CreateAlert(ctx, input("L-crit", "100", "10"))
	require.NoError(t, err)
	_, err = engine.CreateAlert(ctx, input("L-warn", "30", "3"))
	require.NoError(t, err)

	flagged, err := engine.IsFlagged(ctx, "L-crit")
	require.NoError(t, err)
	assert.True(t, flagged)

	flagged, err = engine.IsFlagged(ctx, "L-warn")
	require.NoError(t, err)
	assert.False(t, flagged)
}

func TestAutoFlag_Idempotent(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := engine.CreateAlert(ctx, input("L1", fmt.Sprintf("%d", 100+i), "10"))
		require.NoError(t, err)
	}

	flags, err := engine.Flagged(ctx)
	require.NoError(t, err)
	require.Len(t, flags, 1)
	assert.Equal(t, "alert-001", flags[0].AlertID, "first alert keeps the flag")
}

func TestAutoFlag_Disabled(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	th := variance.DefaultThresholds()
	th.EnableAutoFlag = false
	require.NoError(t, engine.UpdateThresholds(ctx, th))

	a, err := engine.CreateAlert(ctx, input("L1", "100", "10"))
	require.NoError(t, err)
	assert.False(t, a.AutoFlagged)

	flagged, _ := engine.IsFlagged(ctx, "L1")
	assert.False(t, flagged)
}

// =============================================================================
// DISMISSAL
// =============================================================================

func TestDismiss_PermanentAndKeepsFirstDismisser(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	a, err := engine.CreateAlert(ctx, input("L1", "100", "10"))
	require.NoError(t, err)

	n, err := engine.Dismiss(ctx, []string{a.ID}, "broker@office")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = engine.Dismiss(ctx, []string{a.ID}, "someone-else")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	stored, err := engine.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, stored.Dismissed)
	assert.Equal(t, "broker@office", stored.DismissedBy)
	require.NotNil(t, stored.DismissedAt)

	active, err := engine.List(ctx, variance.Filter{})
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestDismiss_UnknownID(t *testing.T) {
	engine, _ := newTestEngine(t)
	_, err := engine.Dismiss(context.Background(), []string{"nope"}, "me")
	assert.ErrorIs(t, err, generic.ErrAlertNotFound)
}

func TestDismissAll_ByFilter(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	_, _ = engine.CreateAlert(ctx, input("L1", "100", "10"))
	_, _ = engine.CreateAlert(ctx, input("L2", "30", "3"))
	_, _ = engine.CreateAlert(ctx, input("L3", "200", "12"))

	n, err := engine.DismissAll(ctx, variance.Filter{Severity: variance.SeverityCritical}, "me")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	s, err := engine.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, variance.Summary{Total: 1, Critical: 0, Warning: 1, Dismissed: 2, Flagged: 2}, s)
}

// =============================================================================
// QUERY
// =============================================================================

func TestList_Filters(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	_, _ = engine.CreateAlert(ctx, input("L1", "100", "10"))
	bob := input("L2", "30", "3")
	bob.AgentName = "Bob Jones"
	_, _ = engine.CreateAlert(ctx, bob)

	byLoop, err := engine.List(ctx, variance.Filter{LoopID: "L2"})
	require.NoError(t, err)
	require.Len(t, byLoop, 1)
	assert.Equal(t, "Bob Jones", byLoop[0].AgentName)

	byAgent, err := engine.List(ctx, variance.Filter{AgentName: "alice smith"})
	require.NoError(t, err)
	require.Len(t, byAgent, 1)
	assert.Equal(t, "L1", byAgent[0].LoopID)

	bySeverity, err := engine.List(ctx, variance.Filter{Severity: variance.SeverityWarning})
	require.NoError(t, err)
	require.Len(t, bySeverity, 1)
}

// =============================================================================
// AUDIT BRIDGE
// =============================================================================

func TestAlertsFromAudit(t *testing.T) {
	// GIVEN: Audit results: one match, one 10% underpaid, one unassigned
	// WHEN: Scanning twice
	// THEN: One alert, created once

	engine, _ := newTestEngine(t)
	ctx := context.Background()

	results := []commission.AuditResult{
		{RecordID: "L1", AgentName: "Alice", Status: commission.AuditMatch, Difference: dec("0.5"), VariancePercentage: dec("0.01")},
		{RecordID: "L2", LoopName: "9 Elm", AgentName: "Alice", Status: commission.AuditUnderpaid, Difference: dec("100"), VariancePercentage: dec("10")},
		{RecordID: "L3", AgentName: "Ghost", Status: commission.AuditUnderpaid, Difference: dec("500"), VariancePercentage: dec("100"),
			Notes: []string{commission.NoteNoPlan}},
	}

	created, err := engine.AlertsFromAudit(ctx, results)
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, "L2", created[0].LoopID)
	assert.Equal(t, "9 Elm", created[0].TransactionName)

	again, err := engine.AlertsFromAudit(ctx, results)
	require.NoError(t, err)
	assert.Empty(t, again)
}

// =============================================================================
// EXPORT
// =============================================================================

func TestWriteAlertsCSV(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()
	_, _ = engine.CreateAlert(ctx, input("L1", "100", "10"))

	alerts, err := engine.List(ctx, variance.Filter{IncludeDismissed: true})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, variance.WriteAlertsCSV(&buf, alerts))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Loop ID", rows[0][0])
	assert.Equal(t, "Agent Name", rows[0][1])
	assert.Equal(t, []string{"L1", "Alice Smith", "123 Main St", "100.00", "10.00", "critical", "false", "", "2025-06-01T12:00:00Z"}, rows[1])
}
