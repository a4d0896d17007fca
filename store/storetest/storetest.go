// Package storetest is a conformance suite shared by the store implementations.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/commission-engine/commission"
	"github.com/warp/commission-engine/generic"
	"github.com/warp/commission-engine/variance"
)

// Store is everything a backing store must implement.
type Store interface {
	commission.ConfigStore
	commission.RecordStore
	commission.AuditRunStore
	variance.Store
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func plan(id string) commission.CommissionPlan {
	return commission.CommissionPlan{
		ID:              id,
		Name:            "Plan " + id,
		SplitPercentage: dec("80"),
		CapAmount:       dec("16000"),
		PostCapSplit:    dec("100"),
		CapPeriod:       generic.PeriodCalendarYear,
	}
}

// Run exercises newStore against the store contract.
func Run(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("PlanVersionBumpsOnSave", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.SavePlan(ctx, plan("std")))
		p := plan("std")
		p.SplitPercentage = dec("70")
		require.NoError(t, s.SavePlan(ctx, p))

		got, err := s.GetPlan(ctx, "std")
		require.NoError(t, err)
		assert.Equal(t, 2, got.Version)
		assert.True(t, dec("70").Equal(got.SplitPercentage))
		assert.True(t, dec("16000").Equal(got.CapAmount))
		assert.Equal(t, generic.PeriodCalendarYear, got.CapPeriod)
	})

	t.Run("SavePlanValidates", func(t *testing.T) {
		s := newStore(t)
		p := plan("bad")
		p.SplitPercentage = dec("120")
		err := s.SavePlan(context.Background(), p)
		assert.ErrorIs(t, err, generic.ErrInvalidConfig)
	})

	t.Run("GetPlanNotFound", func(t *testing.T) {
		s := newStore(t)
		_, err := s.GetPlan(context.Background(), "missing")
		assert.ErrorIs(t, err, generic.ErrPlanNotFound)
	})

	t.Run("DeletePlanRefusedWhileAssigned", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.SavePlan(ctx, plan("std")))
		require.NoError(t, s.SaveAssignment(ctx, commission.AgentAssignment{AgentName: "Alice", PlanID: "std"}))

		err := s.DeletePlan(ctx, "std")
		assert.True(t, generic.IsClientError(err))

		require.NoError(t, s.DeleteAssignment(ctx, "alice"))
		require.NoError(t, s.DeletePlan(ctx, "std"))
		assert.ErrorIs(t, s.DeletePlan(ctx, "std"), generic.ErrPlanNotFound)
	})

	t.Run("AssignmentReferencesChecked", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		err := s.SaveAssignment(ctx, commission.AgentAssignment{AgentName: "Alice", PlanID: "nope"})
		assert.ErrorIs(t, err, generic.ErrPlanNotFound)

		require.NoError(t, s.SavePlan(ctx, plan("std")))
		err = s.SaveAssignment(ctx, commission.AgentAssignment{AgentName: "Alice", PlanID: "std", TeamID: "ghost"})
		assert.ErrorIs(t, err, generic.ErrTeamNotFound)
	})

	t.Run("AssignmentsMatchCaseInsensitively", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		anniversary := generic.NewTimePoint(2024, time.March, 15)

		require.NoError(t, s.SavePlan(ctx, plan("std")))
		require.NoError(t, s.SaveTeam(ctx, commission.Team{ID: "t1", Name: "Team One", TeamSplitPercentage: dec("10")}))
		require.NoError(t, s.SaveAssignment(ctx, commission.AgentAssignment{
			AgentName: "Alice  Smith", PlanID: "std", TeamID: "t1", AnniversaryDate: &anniversary,
		}))

		got, err := s.GetAssignment(ctx, "ALICE SMITH")
		require.NoError(t, err)
		assert.Equal(t, "std", got.PlanID)
		assert.Equal(t, "t1", got.TeamID)
		require.NotNil(t, got.AnniversaryDate)
		assert.True(t, anniversary.Equal(*got.AnniversaryDate))

		snap, err := s.Snapshot(ctx)
		require.NoError(t, err)
		res, ok, err := snap.Resolve("alice smith")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "std", res.Plan.ID)
		require.NotNil(t, res.Team)
		assert.True(t, dec("10").Equal(res.Team.TeamSplitPercentage))
	})

	t.Run("RecordsUpsertKeepsOrder", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.SaveRecords(ctx, []commission.Record{
			{LoopID: "L1", LoopName: "1 Main", CommissionTotal: dec("1000")},
			{LoopID: "L2", LoopName: "2 Main", CommissionTotal: dec("2000")},
		}))
		require.NoError(t, s.SaveRecords(ctx, []commission.Record{
			{LoopID: "L1", LoopName: "1 Main (amended)", CommissionTotal: dec("1500")},
			{LoopID: "L3", LoopName: "3 Main", CommissionTotal: dec("3000")},
		}))

		got, err := s.ListRecords(ctx)
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, []string{"L1", "L2", "L3"}, []string{got[0].LoopID, got[1].LoopID, got[2].LoopID})
		assert.Equal(t, "1 Main (amended)", got[0].LoopName)
		assert.True(t, dec("1500").Equal(got[0].CommissionTotal))

		require.NoError(t, s.DeleteRecords(ctx))
		got, err = s.ListRecords(ctx)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("AuditRunsNewestFirst", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		base := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)

		for i, id := range []string{"r1", "r2", "r3"} {
			require.NoError(t, s.SaveAuditRun(ctx, commission.AuditRun{
				ID:           id,
				RanAt:        base.Add(time.Duration(i) * time.Hour),
				RecordCount:  i + 1,
				Summary:      commission.AuditSummary{Total: i + 1, NetDifference: dec("12.5")},
				PlanVersions: map[string]int{"std": i + 1},
			}))
		}

		runs, err := s.ListAuditRuns(ctx, 2)
		require.NoError(t, err)
		require.Len(t, runs, 2)
		assert.Equal(t, "r3", runs[0].ID)
		assert.Equal(t, "r2", runs[1].ID)
		assert.Equal(t, 3, runs[0].Summary.Total)
		assert.True(t, dec("12.5").Equal(runs[0].Summary.NetDifference))
		assert.Equal(t, 3, runs[0].PlanVersions["std"])
	})

	t.Run("ThresholdsDefaultUntilSaved", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		th, err := s.GetThresholds(ctx)
		require.NoError(t, err)
		assert.True(t, th.MajorVariancePercentage.Equal(variance.DefaultThresholds().MajorVariancePercentage))

		th.MajorVariancePercentage = dec("15")
		th.AutoFlagMinor = true
		require.NoError(t, s.SaveThresholds(ctx, th))

		got, err := s.GetThresholds(ctx)
		require.NoError(t, err)
		assert.True(t, dec("15").Equal(got.MajorVariancePercentage))
		assert.True(t, got.AutoFlagMinor)
	})

	t.Run("AlertsFilteredAndOrdered", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		base := time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC)

		alerts := []variance.VarianceAlert{
			{ID: "a1", LoopID: "L1", AgentName: "Alice", Severity: variance.SeverityCritical, VarianceAmount: dec("100"), VariancePercentage: dec("10"), CreatedAt: base},
			{ID: "a2", LoopID: "L2", AgentName: "Bob", Severity: variance.SeverityWarning, VarianceAmount: dec("30"), VariancePercentage: dec("3"), CreatedAt: base.Add(time.Minute)},
			{ID: "a3", LoopID: "L1", AgentName: "alice", Severity: variance.SeverityWarning, VarianceAmount: dec("25"), VariancePercentage: dec("2.5"), CreatedAt: base.Add(time.Minute)},
		}
		for _, a := range alerts {
			require.NoError(t, s.SaveAlert(ctx, a))
		}

		all, err := s.ListAlerts(ctx, variance.Filter{})
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, []string{"a2", "a3", "a1"}, []string{all[0].ID, all[1].ID, all[2].ID})

		byAgent, err := s.ListAlerts(ctx, variance.Filter{AgentName: "ALICE"})
		require.NoError(t, err)
		assert.Len(t, byAgent, 2)

		dismissedAt := base.Add(time.Hour)
		a1 := alerts[0]
		a1.Dismissed, a1.DismissedBy, a1.DismissedAt = true, "broker", &dismissedAt
		require.NoError(t, s.SaveAlert(ctx, a1))

		active, err := s.ListAlerts(ctx, variance.Filter{LoopID: "L1"})
		require.NoError(t, err)
		require.Len(t, active, 1)
		assert.Equal(t, "a3", active[0].ID)

		got, err := s.GetAlert(ctx, "a1")
		require.NoError(t, err)
		assert.True(t, got.Dismissed)
		assert.Equal(t, "broker", got.DismissedBy)
		require.NotNil(t, got.DismissedAt)
		assert.True(t, dismissedAt.Equal(*got.DismissedAt))

		_, err = s.GetAlert(ctx, "zzz")
		assert.ErrorIs(t, err, generic.ErrAlertNotFound)
	})

	t.Run("FlagsAreASet", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		now := time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC)

		added, err := s.FlagLoop(ctx, variance.Flag{LoopID: "L1", AlertID: "a1", FlaggedAt: now})
		require.NoError(t, err)
		assert.True(t, added)

		added, err = s.FlagLoop(ctx, variance.Flag{LoopID: "L1", AlertID: "a2", FlaggedAt: now})
		require.NoError(t, err)
		assert.False(t, added)

		flagged, err := s.IsFlagged(ctx, "L1")
		require.NoError(t, err)
		assert.True(t, flagged)

		flags, err := s.ListFlags(ctx)
		require.NoError(t, err)
		require.Len(t, flags, 1)
		assert.Equal(t, "a1", flags[0].AlertID)
	})
}
