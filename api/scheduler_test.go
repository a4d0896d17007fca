package api

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/commission-engine/commission"
	"github.com/warp/commission-engine/factory"
	"github.com/warp/commission-engine/store/memory"
	"github.com/warp/commission-engine/variance"
)

func newTestRunner(t *testing.T) (*AuditRunner, *memory.Store) {
	t.Helper()
	store := memory.New()
	ctx := context.Background()

	doc := &factory.ConfigDocument{
		Plans:       []factory.PlanJSON{factory.UncappedPlan("flat", "Flat 80/20", 80)},
		Assignments: []factory.AssignmentJSON{factory.Assign("Alice Smith", "flat", "")},
	}
	_, err := factory.New().Apply(ctx, doc, store)
	require.NoError(t, err)

	// Expected 20% of 10,000 = 2,000 on both; L2 records 2,600.
	require.NoError(t, store.SaveRecords(ctx, []commission.Record{
		{LoopID: "L1", LoopName: "1 Main St", Agents: "Alice Smith", LoopStatus: "Sold", ClosingDate: "2025-01-10",
			CommissionTotal: decimal.NewFromInt(10000), CompanyDollar: decimal.NewFromInt(2000)},
		{LoopID: "L2", LoopName: "2 Oak Ave", Agents: "Alice Smith", LoopStatus: "Sold", ClosingDate: "2025-02-10",
			CommissionTotal: decimal.NewFromInt(10000), CompanyDollar: decimal.NewFromInt(2600)},
	}))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewAuditRunner(store, variance.NewEngine(store), NewMetrics(), logger), store
}

func TestAuditRunner_PersistsRunAndRaisesAlerts(t *testing.T) {
	// GIVEN: Two stored loops, one recording 30% too much company dollar
	// WHEN: Running an audit pass with alerts
	// THEN: The run is saved with plan versions and one critical alert is raised

	runner, store := newTestRunner(t)
	ctx := context.Background()

	out, err := runner.Run(ctx, TriggerAPI, AuditPass{RaiseAlerts: true})
	require.NoError(t, err)
	assert.Equal(t, 2, out.Run.RecordCount)
	assert.Equal(t, 1, out.Run.Summary.Underpaid)
	assert.Equal(t, map[string]int{"flat": 1}, out.Run.PlanVersions)

	require.Len(t, out.Alerts, 1)
	assert.Equal(t, "L2", out.Alerts[0].LoopID)
	assert.Equal(t, variance.SeverityCritical, out.Alerts[0].Severity)

	runs, err := store.ListAuditRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, out.Run.ID, runs[0].ID)
}

func TestAuditRunner_WithoutAlerts(t *testing.T) {
	runner, store := newTestRunner(t)
	ctx := context.Background()

	out, err := runner.Run(ctx, TriggerAPI, AuditPass{})
	require.NoError(t, err)
	assert.Empty(t, out.Alerts)

	alerts, err := store.ListAlerts(ctx, variance.Filter{IncludeDismissed: true})
	require.NoError(t, err)
	assert.Empty(t, alerts)
}

func TestAuditScheduler_RunOnceIsIdempotent(t *testing.T) {
	// GIVEN: A scheduler over the same stored records
	// WHEN: Two passes run back to back
	// THEN: The first raises the alert, the second only records a run

	runner, store := newTestRunner(t)
	s := NewAuditScheduler(runner, runner.Logger)
	ctx := context.Background()

	first := s.RunOnce(ctx)
	require.NotNil(t, first)
	assert.Len(t, first.Alerts, 1)

	second := s.RunOnce(ctx)
	require.NotNil(t, second)
	assert.Empty(t, second.Alerts)

	last, ok := s.LastRun()
	require.True(t, ok)
	assert.Equal(t, second.Run.ID, last.ID)

	runs, err := store.ListAuditRuns(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestAuditScheduler_StartStop(t *testing.T) {
	runner, store := newTestRunner(t)
	s := NewAuditScheduler(runner, runner.Logger)
	s.Interval = 10 * time.Millisecond
	ctx := context.Background()

	s.Start()
	require.Eventually(t, func() bool {
		runs, err := store.ListAuditRuns(ctx, 10)
		return err == nil && len(runs) >= 2
	}, 2*time.Second, 5*time.Millisecond)
	s.Stop()
	s.Stop()

	runs, err := store.ListAuditRuns(ctx, 100)
	require.NoError(t, err)
	stopped := len(runs)
	time.Sleep(30 * time.Millisecond)
	runs, err = store.ListAuditRuns(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, stopped, len(runs), "no passes after Stop")

	alerts, err := store.ListAlerts(ctx, variance.Filter{})
	require.NoError(t, err)
	assert.Len(t, alerts, 1, "repeated passes raise the alert once")
}

func TestAuditScheduler_Disabled(t *testing.T) {
	runner, store := newTestRunner(t)
	s := NewAuditScheduler(runner, runner.Logger)
	s.Enabled = false

	s.Start()
	s.Stop()

	runs, err := store.ListAuditRuns(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, runs)
	_, ok := s.LastRun()
	assert.False(t, ok)
}

func TestAuditScheduler_Restart(t *testing.T) {
	// GIVEN: A scheduler that has been started and stopped
	// WHEN: It is started again and stopped a second time
	// THEN: The second run audits on its own and both stops return cleanly

	runner, store := newTestRunner(t)
	s := NewAuditScheduler(runner, runner.Logger)
	s.Interval = 10 * time.Millisecond
	ctx := context.Background()

	s.Start()
	s.Stop()
	runs, err := store.ListAuditRuns(ctx, 100)
	require.NoError(t, err)
	afterFirst := len(runs)

	s.Start()
	require.Eventually(t, func() bool {
		runs, err := store.ListAuditRuns(ctx, 100)
		return err == nil && len(runs) >= afterFirst+2
	}, 2*time.Second, 5*time.Millisecond, "restarted scheduler keeps ticking")

	assert.NotPanics(t, s.Stop)
	assert.NotPanics(t, s.Stop)
}
