/*
handlers_test.go - HTTP tests for API handlers

Tests for:
- Plan, team and assignment configuration endpoints
- Commission calculation over handed-over records
- Audit, alert scan, dismissal and export
- Forecast query parameters
- Config document apply/export, metrics and health
*/
package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/commission-engine/store/sqlite"
)

var testNow = time.Date(2025, time.September, 30, 12, 0, 0, 0, time.UTC)

func newTestHandler(t *testing.T) (*Handler, http.Handler) {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	h := NewHandler(store, slog.New(slog.NewTextHandler(io.Discard, nil)), NewMetrics())
	h.now = func() time.Time { return testNow }
	return h, NewRouter(h, nil)
}

func do(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// seedCappedAgent sets up Alice on an 80/20 plan with a $5,000 cap and five
// loops. L1-L3 are recorded correctly and take her to the cap, L4 records
// company dollar after she capped, L5 is pipeline.
func seedCappedAgent(t *testing.T, router http.Handler) {
	t.Helper()
	rec := do(t, router, "POST", "/api/plans", map[string]any{
		"id": "std", "name": "Standard 80/20", "split_percentage": 80,
		"cap_amount": 5000, "cap_period": "calendar_year",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, router, "POST", "/api/assignments", map[string]any{"agent_name": "Alice Smith", "plan_id": "std"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, router, "POST", "/api/records", `{"records": [
		{"loop_id": "L1", "loop_name": "1 Main St", "agents": "Alice Smith", "loop_status": "Sold", "closing_date": "2025-01-15", "commission_total": 10000, "company_dollar": 2000, "price": 333000},
		{"loop_id": "L2", "loop_name": "2 Oak Ave", "agents": "Alice Smith", "loop_status": "Sold", "closing_date": "2025-02-15", "commission_total": 10000, "company_dollar": 2000, "price": 333000},
		{"loop_id": "L3", "loop_name": "3 Pine Ln", "agents": "Alice Smith", "loop_status": "Sold", "closing_date": "2025-03-15", "commission_total": 10000, "company_dollar": 1000, "price": 333000},
		{"loop_id": "L4", "loop_name": "4 Elm St", "agents": "Alice Smith", "loop_status": "Sold", "closing_date": "2025-04-15", "commission_total": 10000, "company_dollar": 2500, "price": 333000},
		{"loop_id": "L5", "loop_name": "5 Park Pl", "agents": "Alice Smith", "loop_status": "Under Contract", "contract_date": "2025-09-01", "closing_date": "2025-10-10", "commission_total": 15000, "company_dollar": 0, "price": 500000}
	]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 5, decode[SaveRecordsResponse](t, rec).Total)
}

// =============================================================================
// CONFIGURATION
// =============================================================================

func TestPlans_CreateVersionAndDelete(t *testing.T) {
	// GIVEN: An assigned plan saved twice
	// WHEN: Fetching and deleting it
	// THEN: Version is bumped, delete is refused while assigned, then succeeds

	_, router := newTestHandler(t)
	seedCappedAgent(t, router)

	rec := do(t, router, "POST", "/api/plans", map[string]any{
		"id": "std", "name": "Standard 80/20", "split_percentage": 80, "cap_amount": 6000,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, 2, decode[PlanDTO](t, rec).Version)

	rec = do(t, router, "GET", "/api/plans/std", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 6000.0, decode[PlanDTO](t, rec).CapAmount)

	rec = do(t, router, "DELETE", "/api/plans/std", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "plan is still assigned")

	rec = do(t, router, "DELETE", "/api/assignments/Alice%20Smith", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, router, "DELETE", "/api/plans/std", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, router, "GET", "/api/plans/std", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreatePlan_ReportsInvalidFields(t *testing.T) {
	_, router := newTestHandler(t)

	rec := do(t, router, "POST", "/api/plans", map[string]any{"id": "bad", "name": "Bad", "split_percentage": 120})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	resp := decode[ErrorResponse](t, rec)
	fields := make([]string, 0, len(resp.Fields))
	for _, f := range resp.Fields {
		fields = append(fields, f.Field)
	}
	assert.Contains(t, fields, "plans[0].split_percentage")
}

func TestCreateAssignment_UnknownPlanIsBadRequest(t *testing.T) {
	_, router := newTestHandler(t)

	rec := do(t, router, "POST", "/api/assignments", map[string]any{"agent_name": "Bob", "plan_id": "missing"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode[ErrorResponse](t, rec).Details, "missing")
}

func TestTeams_CreateAndList(t *testing.T) {
	_, router := newTestHandler(t)

	rec := do(t, router, "POST", "/api/teams", map[string]any{
		"id": "t1", "name": "Smith Team", "lead_agent": "Jane Smith", "team_split_percentage": 25,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, router, "GET", "/api/teams", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	teams := decode[[]TeamDTO](t, rec)
	require.Len(t, teams, 1)
	assert.Equal(t, 25.0, teams[0].TeamSplitPercentage)
}

func TestConfigDocument_ApplyAndExport(t *testing.T) {
	// GIVEN: A YAML configuration document
	// WHEN: Applied through the API and exported again
	// THEN: Counts are reported and the export carries the same objects

	_, router := newTestHandler(t)

	rec := do(t, router, "POST", "/api/config", `
plans:
  - id: std
    name: Standard 80/20
    split_percentage: 80
    cap_amount: 16000
teams:
  - id: t1
    name: Team One
    lead_agent: Jane
    team_split_percentage: 20
assignments:
  - agent_name: Jane
    plan_id: std
    team_id: t1
`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[struct {
		Plans       int  `json:"plans"`
		Teams       int  `json:"teams"`
		Assignments int  `json:"assignments"`
		Thresholds  bool `json:"thresholds"`
	}](t, rec)
	assert.Equal(t, 1, res.Plans)
	assert.Equal(t, 1, res.Teams)
	assert.Equal(t, 1, res.Assignments)
	assert.False(t, res.Thresholds)

	rec = do(t, router, "GET", "/api/config", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, contentTypeYAML, rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "id: std")

	rec = do(t, router, "GET", "/api/config?format=json", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"agent_name":"Jane"`)
}

func TestConfigDocument_RejectsUnknownFields(t *testing.T) {
	_, router := newTestHandler(t)
	rec := do(t, router, "POST", "/api/config", `{"plans": [{"id": "p", "name": "P", "split_pct": 80}]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSaveRecords_RequiresLoopID(t *testing.T) {
	_, router := newTestHandler(t)
	rec := do(t, router, "POST", "/api/records", `{"records": [{"loop_name": "No id"}]}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "records[0].loop_id", decode[ErrorResponse](t, rec).Fields[0].Field)
}

// =============================================================================
// CALCULATION
// =============================================================================

func TestCalculate_CapCrossing(t *testing.T) {
	// GIVEN: Alice on an 80/20 plan capped at $5,000 with four closed $10,000 loops
	// WHEN: Calculating closed loops only
	// THEN: Brokerage is 2000, 2000, then 1000 crossing the cap, then 0

	_, router := newTestHandler(t)
	seedCappedAgent(t, router)

	rec := do(t, router, "POST", "/api/commissions/calculate", map[string]any{"closed_only": true})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[CalculationResponse](t, rec)

	require.Len(t, resp.Breakdowns, 4)
	var brokerage []float64
	var splits []string
	for _, b := range resp.Breakdowns {
		brokerage = append(brokerage, b.BrokerageSplitAmount)
		splits = append(splits, b.SplitType)
	}
	assert.Equal(t, []float64{2000, 2000, 1000, 0}, brokerage)
	assert.Equal(t, []string{"pre-cap", "pre-cap", "split", "post-cap"}, splits)
	assert.True(t, resp.Breakdowns[2].HitCap)
	assert.Equal(t, 9000.0, resp.Breakdowns[2].AgentNetCommission)

	require.Len(t, resp.Agents, 1)
	alice := resp.Agents[0]
	assert.True(t, alice.IsCapped)
	assert.Equal(t, 5000.0, alice.YTDCompanyDollar)
	assert.Equal(t, 0.0, alice.RemainingCap)
	assert.Equal(t, 100.0, alice.PercentToCap)

	assert.Equal(t, 40000.0, resp.Totals.GrossCommissionIncome)
	assert.Equal(t, 5000.0, resp.Totals.CompanyDollar)
}

func TestCalculate_PeriodFilter(t *testing.T) {
	_, router := newTestHandler(t)
	seedCappedAgent(t, router)

	rec := do(t, router, "POST", "/api/commissions/calculate", map[string]any{
		"start_date": "2025-02-01", "end_date": "2025-02-28",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[CalculationResponse](t, rec)
	require.Len(t, resp.Breakdowns, 1)
	assert.Equal(t, "L2", resp.Breakdowns[0].LoopID)
	assert.Equal(t, 2000.0, resp.Breakdowns[0].BrokerageSplitAmount)
}

func TestCalculate_InvalidPeriod(t *testing.T) {
	_, router := newTestHandler(t)

	rec := do(t, router, "POST", "/api/commissions/calculate", map[string]any{
		"start_date": "2025-03-01", "end_date": "2025-02-01",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, "POST", "/api/commissions/calculate", map[string]any{"start_date": "soon"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCalculate_InlineRecordsWithoutPlan(t *testing.T) {
	// GIVEN: No configuration and one inline record
	// WHEN: Calculating
	// THEN: The agent is reported with a no-plan note and nothing to brokerage

	_, router := newTestHandler(t)

	rec := do(t, router, "POST", "/api/commissions/calculate", `{"records": [
		{"loop_id": "X1", "agents": "Nobody", "loop_status": "Sold", "closing_date": "2025-05-01", "commission_total": "1200.50", "company_dollar": "0"}
	]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[CalculationResponse](t, rec)
	require.Len(t, resp.Breakdowns, 1)
	assert.Equal(t, "none", resp.Breakdowns[0].SplitType)
	assert.Contains(t, resp.Breakdowns[0].Notes, "No Plan Assigned")
	assert.Equal(t, 1200.5, resp.Breakdowns[0].AgentTakeHome)
	assert.Empty(t, resp.Agents)
}

// =============================================================================
// AUDIT AND ALERTS
// =============================================================================

func TestAudit_RaisesAlertsOnce(t *testing.T) {
	// GIVEN: Alice's loops where L4 records $2,500 after she capped
	// WHEN: Auditing with alerts, then scanning again
	// THEN: One critical auto-flagged alert; the rescan creates nothing

	_, router := newTestHandler(t)
	seedCappedAgent(t, router)

	rec := do(t, router, "POST", "/api/audit", map[string]any{"raise_alerts": true})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[AuditResponse](t, rec)

	assert.NotEmpty(t, resp.RunID)
	assert.Equal(t, 5, resp.Summary.Total)
	assert.Equal(t, 4, resp.Summary.Matched)
	assert.Equal(t, 1, resp.Summary.Underpaid)
	assert.Equal(t, 2500.0, resp.Summary.NetDifference)

	require.Len(t, resp.Alerts, 1)
	alert := resp.Alerts[0]
	assert.Equal(t, "L4", alert.LoopID)
	assert.Equal(t, "critical", alert.Severity)
	assert.True(t, alert.AutoFlagged)
	assert.Equal(t, 2500.0, alert.VarianceAmount)

	rec = do(t, router, "POST", "/api/alerts/scan", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[ScanResponse](t, rec).Created)

	rec = do(t, router, "GET", "/api/alerts/summary", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, AlertSummaryDTO{Total: 1, Critical: 1, Flagged: 1}, decode[AlertSummaryDTO](t, rec))

	rec = do(t, router, "GET", "/api/audit/runs?limit=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	runs := decode[[]AuditRunDTO](t, rec)
	require.Len(t, runs, 2)
	assert.Equal(t, map[string]int{"std": 1}, runs[0].PlanVersions)
}

func TestAlerts_DismissAndFilter(t *testing.T) {
	_, router := newTestHandler(t)
	seedCappedAgent(t, router)
	require.Equal(t, http.StatusOK, do(t, router, "POST", "/api/alerts/scan", nil).Code)

	rec := do(t, router, "POST", "/api/alerts/dismiss", map[string]any{"all": true})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "dismissed_by is required")

	rec = do(t, router, "POST", "/api/alerts/dismiss", map[string]any{"ids": []string{"nope"}, "dismissed_by": "broker"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, router, "POST", "/api/alerts/dismiss", map[string]any{"all": true, "severity": "critical", "dismissed_by": "broker"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 1, decode[DismissResponse](t, rec).Dismissed)

	rec = do(t, router, "GET", "/api/alerts", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]AlertDTO](t, rec))

	rec = do(t, router, "GET", "/api/alerts?include_dismissed=true&loop_id=L4", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	alerts := decode[[]AlertDTO](t, rec)
	require.Len(t, alerts, 1)
	assert.True(t, alerts[0].Dismissed)
	assert.Equal(t, "broker", alerts[0].DismissedBy)
	assert.NotEmpty(t, alerts[0].DismissedAt)

	rec = do(t, router, "GET", "/api/alerts/summary", nil)
	assert.Equal(t, AlertSummaryDTO{Dismissed: 1, Flagged: 1}, decode[AlertSummaryDTO](t, rec))

	rec = do(t, router, "GET", "/api/alerts?severity=loud", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestThresholds_GetAndUpdate(t *testing.T) {
	_, router := newTestHandler(t)

	rec := do(t, router, "GET", "/api/alerts/thresholds", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, ThresholdsDTO{
		MajorVariancePercentage: 5,
		MinorVariancePercentage: 2,
		EnableAutoFlag:          true,
		AutoFlagMajor:           true,
	}, decode[ThresholdsDTO](t, rec))

	rec = do(t, router, "PUT", "/api/alerts/thresholds", ThresholdsDTO{MajorVariancePercentage: 5, MinorVariancePercentage: 10})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "minor above major")

	update := ThresholdsDTO{MajorVariancePercentage: 15, MinorVariancePercentage: 3, EnableAutoFlag: false}
	rec = do(t, router, "PUT", "/api/alerts/thresholds", update)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, router, "GET", "/api/alerts/thresholds", nil)
	assert.Equal(t, update, decode[ThresholdsDTO](t, rec))
}

func TestExports(t *testing.T) {
	_, router := newTestHandler(t)
	seedCappedAgent(t, router)
	require.Equal(t, http.StatusOK, do(t, router, "POST", "/api/alerts/scan", nil).Code)

	rec := do(t, router, "GET", "/api/audit/export", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, contentTypeCSV, rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "commission-audit.csv")
	assert.True(t, strings.HasPrefix(rec.Body.String(), "Loop ID,Agent Name"))
	assert.Contains(t, rec.Body.String(), "L4,Alice Smith,2500.00,0.00,2500.00,underpaid")

	rec = do(t, router, "GET", "/api/alerts/export?format=xlsx", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, contentTypeXLSX, rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("PK")), "xlsx is a zip archive")

	rec = do(t, router, "GET", "/api/audit/export?format=pdf", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// FORECAST
// =============================================================================

func TestForecast_UsesStoredPipeline(t *testing.T) {
	_, router := newTestHandler(t)
	seedCappedAgent(t, router)

	rec := do(t, router, "GET", "/api/forecast?horizon=30&horizons=60,90&fall_through=10", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[ForecastResponse](t, rec)

	assert.Equal(t, 4, resp.ClosingRate.ClosedCount)
	assert.Equal(t, 100, resp.ClosingRate.HistoricalCloseRate)
	assert.Equal(t, 30, resp.Projection.HorizonDays)
	assert.Equal(t, 1, resp.Projection.PipelineDeals)
	assert.Equal(t, 10.0, resp.Projection.FallThroughRate)
	require.Len(t, resp.Horizons, 2)
	assert.Equal(t, 60, resp.Horizons[0].HorizonDays)
	assert.Equal(t, 90, resp.Horizons[1].HorizonDays)
}

func TestForecast_EmptyPipeline(t *testing.T) {
	_, router := newTestHandler(t)

	rec := do(t, router, "GET", "/api/forecast", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[ForecastResponse](t, rec)
	assert.Equal(t, 0, resp.Projection.PipelineDeals)
	assert.Equal(t, 0.0, resp.Projection.ProjectedRevenue)
	assert.Equal(t, 30, resp.Projection.HorizonDays)
}

func TestForecast_InvalidParameters(t *testing.T) {
	_, router := newTestHandler(t)
	for _, q := range []string{"horizon=abc", "horizon=0", "fall_through=-1", "commission_rate=x", "as_of=someday", "horizons=30,x"} {
		rec := do(t, router, "GET", "/api/forecast?"+q, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

// =============================================================================
// OPERATIONS
// =============================================================================

func TestMetricsAndHealth(t *testing.T) {
	_, router := newTestHandler(t)
	seedCappedAgent(t, router)
	require.Equal(t, http.StatusOK, do(t, router, "POST", "/api/commissions/calculate", nil).Code)

	rec := do(t, router, "GET", "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "commission_calculations_total 1")
	assert.Contains(t, body, `http_requests_total{method="POST",route="/api/commissions/calculate",status="200"} 1`)

	rec = do(t, router, "GET", "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
