/*
handlers.go - HTTP API handlers for the commission engine

PURPOSE:
  Exposes the commission calculator, auditor, forecaster and variance alert
  engine via REST API. Handles HTTP request/response, JSON serialization,
  and delegates to domain logic.

ENDPOINTS:
  Configuration:
    GET    /api/plans                  List commission plans
    POST   /api/plans                  Create or replace a plan
    GET    /api/plans/{id}             Get plan
    DELETE /api/plans/{id}             Delete plan (refused while assigned)
    GET    /api/teams                  List teams
    POST   /api/teams                  Create or replace a team
    GET    /api/assignments            List agent assignments
    POST   /api/assignments            Assign an agent to a plan (and team)
    DELETE /api/assignments/{agent}    Remove an agent's assignment
    GET    /api/config                 Export configuration (?format=yaml|json)
    POST   /api/config                 Apply a JSON or YAML configuration document

  Records:
    GET    /api/records                List stored transaction records
    POST   /api/records                Hand over parsed records (upsert by loop id)

  Calculation and audit:
    POST   /api/commissions/calculate  Per-transaction breakdowns and agent YTD
    POST   /api/audit                  Audit company dollar, optionally raise alerts
    GET    /api/audit/runs             Recent audit runs (?limit=)
    GET    /api/audit/export           Audit as CSV or XLSX (?format=csv|xlsx)

  Forecast:
    GET    /api/forecast               Pipeline projection
                                       (?horizon=&fall_through=&commission_rate=)

  Alerts:
    GET    /api/alerts/thresholds      Current thresholds
    PUT    /api/alerts/thresholds      Replace thresholds
    GET    /api/alerts                 List alerts (?loop_id=&agent=&severity=&include_dismissed=)
    GET    /api/alerts/summary         Counts by severity, dismissed and flagged
    POST   /api/alerts/dismiss         Dismiss by id or by filter
    POST   /api/alerts/scan            Audit stored records and raise alerts
    GET    /api/alerts/export          Alerts as CSV or XLSX

ARCHITECTURE:
  Handler struct holds all dependencies:
  - Store: plans, teams, assignments, records, audit runs, alerts
  - Factory: JSON/YAML document to validated configuration
  - Alerts: variance engine over the same store
  - Audits: the shared audit pipeline (also used by the scheduler)

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input, unknown plan/team references
  - 404: Resource not found
  - 500: Internal errors (logged)

SECURITY NOTE:
  No authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"
	"github.com/warp/commission-engine/commission"
	"github.com/warp/commission-engine/factory"
	"github.com/warp/commission-engine/forecast"
	"github.com/warp/commission-engine/generic"
	"github.com/warp/commission-engine/variance"
)

// maxBodyBytes bounds request bodies; record batches are the largest.
const maxBodyBytes = 32 << 20

const (
	contentTypeCSV  = "text/csv"
	contentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	contentTypeYAML = "application/yaml"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Store is everything the API reads and writes.
type Store interface {
	commission.ConfigStore
	commission.RecordStore
	commission.AuditRunStore
	variance.Store

	// Reset clears records, audit runs, alerts and flags.
	Reset(ctx context.Context) error
}

// ForecastDefaults apply when a forecast request leaves a parameter out.
type ForecastDefaults struct {
	CommissionRate decimal.Decimal
	HorizonDays    int
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store    Store
	Factory  *factory.Factory
	Alerts   *variance.Engine
	Audits   *AuditRunner
	Metrics  *Metrics
	Logger   *slog.Logger
	Forecast ForecastDefaults

	now func() time.Time

	// Track currently loaded scenario
	mu              sync.Mutex
	currentScenario string
}

// NewHandler wires the engine over the given store. A nil logger uses
// slog.Default; nil metrics get a fresh registry.
func NewHandler(store Store, logger *slog.Logger, metrics *Metrics) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	alerts := variance.NewEngine(store)
	return &Handler{
		Store:   store,
		Factory: factory.New(),
		Alerts:  alerts,
		Audits:  NewAuditRunner(store, alerts, metrics, logger),
		Metrics: metrics,
		Logger:  logger,
		Forecast: ForecastDefaults{
			CommissionRate: forecast.DefaultCommissionRate,
			HorizonDays:    forecast.DefaultHorizonDays,
		},
		now: time.Now,
	}
}

// =============================================================================
// PLAN HANDLERS
// =============================================================================

func (h *Handler) ListPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := h.Store.ListPlans(r.Context())
	if err != nil {
		h.fail(w, r, "Failed to list plans", err)
		return
	}
	dtos := make([]PlanDTO, 0, len(plans))
	for _, p := range plans {
		dtos = append(dtos, toPlanDTO(p))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreatePlan validates the plan document and saves it. Saving an existing
// id replaces it and bumps its version.
func (h *Handler) CreatePlan(w http.ResponseWriter, r *http.Request) {
	var req factory.PlanJSON
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.Factory.Validate(&factory.ConfigDocument{Plans: []factory.PlanJSON{req}}); err != nil {
		h.fail(w, r, "Invalid plan", err)
		return
	}

	ctx := r.Context()
	plan := req.ToPlan()
	if err := h.Store.SavePlan(ctx, plan); err != nil {
		h.fail(w, r, "Failed to save plan", err)
		return
	}
	saved, err := h.Store.GetPlan(ctx, plan.ID)
	if err != nil {
		h.fail(w, r, "Failed to load plan", err)
		return
	}
	writeJSON(w, http.StatusCreated, toPlanDTO(*saved))
}

func (h *Handler) GetPlan(w http.ResponseWriter, r *http.Request) {
	plan, err := h.Store.GetPlan(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "Plan not found", err)
		return
	}
	writeJSON(w, http.StatusOK, toPlanDTO(*plan))
}

func (h *Handler) DeletePlan(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.DeletePlan(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, "Failed to delete plan", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// TEAM HANDLERS
// =============================================================================

func (h *Handler) ListTeams(w http.ResponseWriter, r *http.Request) {
	teams, err := h.Store.ListTeams(r.Context())
	if err != nil {
		h.fail(w, r, "Failed to list teams", err)
		return
	}
	dtos := make([]TeamDTO, 0, len(teams))
	for _, t := range teams {
		dtos = append(dtos, factory.TeamToJSON(t))
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreateTeam(w http.ResponseWriter, r *http.Request) {
	var req TeamDTO
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.Factory.Validate(&factory.ConfigDocument{Teams: []factory.TeamJSON{req}}); err != nil {
		h.fail(w, r, "Invalid team", err)
		return
	}
	team := req.ToTeam()
	if err := h.Store.SaveTeam(r.Context(), team); err != nil {
		h.fail(w, r, "Failed to save team", err)
		return
	}
	writeJSON(w, http.StatusCreated, factory.TeamToJSON(team))
}

// =============================================================================
// ASSIGNMENT HANDLERS
// =============================================================================

func (h *Handler) ListAssignments(w http.ResponseWriter, r *http.Request) {
	assignments, err := h.Store.ListAssignments(r.Context())
	if err != nil {
		h.fail(w, r, "Failed to list assignments", err)
		return
	}
	dtos := make([]AssignmentDTO, 0, len(assignments))
	for _, a := range assignments {
		dtos = append(dtos, factory.AssignmentToJSON(a))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateAssignment assigns an agent. Unknown plan or team ids are a 400.
func (h *Handler) CreateAssignment(w http.ResponseWriter, r *http.Request) {
	var req AssignmentDTO
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.Factory.Validate(&factory.ConfigDocument{Assignments: []factory.AssignmentJSON{req}}); err != nil {
		h.fail(w, r, "Invalid assignment", err)
		return
	}
	a := req.ToAssignment()
	if err := h.Store.SaveAssignment(r.Context(), a); err != nil {
		h.fail(w, r, "Failed to save assignment", err)
		return
	}
	writeJSON(w, http.StatusCreated, factory.AssignmentToJSON(a))
}

func (h *Handler) DeleteAssignment(w http.ResponseWriter, r *http.Request) {
	agent := chi.URLParam(r, "agent")
	if decoded, err := url.PathUnescape(agent); err == nil {
		agent = decoded
	}
	if err := h.Store.DeleteAssignment(r.Context(), agent); err != nil {
		h.fail(w, r, "Failed to delete assignment", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// CONFIG DOCUMENT HANDLERS
// =============================================================================

// ExportConfig returns plans, teams, assignments and thresholds as one
// document, YAML by default.
func (h *Handler) ExportConfig(w http.ResponseWriter, r *http.Request) {
	doc, err := h.Factory.Export(r.Context(), h.Store)
	if err != nil {
		h.fail(w, r, "Failed to export configuration", err)
		return
	}
	if strings.EqualFold(r.URL.Query().Get("format"), "json") {
		writeJSON(w, http.StatusOK, doc)
		return
	}
	out, err := factory.MarshalYAML(doc)
	if err != nil {
		h.fail(w, r, "Failed to encode configuration", err)
		return
	}
	w.Header().Set("Content-Type", contentTypeYAML)
	w.WriteHeader(http.StatusOK)
	w.Write(out)
}

// ApplyConfig applies a JSON or YAML configuration document.
func (h *Handler) ApplyConfig(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read body", err)
		return
	}
	doc, err := h.Factory.Parse(body)
	if err != nil {
		h.fail(w, r, "Invalid configuration document", err)
		return
	}
	res, err := h.Factory.Apply(r.Context(), doc, h.Store)
	if err != nil {
		h.fail(w, r, "Failed to apply configuration", err)
		return
	}
	h.Logger.Info("configuration applied",
		"plans", res.Plans, "teams", res.Teams, "assignments", res.Assignments, "thresholds", res.Thresholds)
	writeJSON(w, http.StatusOK, res)
}

// =============================================================================
// RECORD HANDLERS
// =============================================================================

func (h *Handler) ListRecords(w http.ResponseWriter, r *http.Request) {
	records, err := h.Store.ListRecords(r.Context())
	if err != nil {
		h.fail(w, r, "Failed to list records", err)
		return
	}
	dtos := make([]RecordDTO, 0, len(records))
	for _, rec := range records {
		dtos = append(dtos, toRecordDTO(rec))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// SaveRecords upserts the records by loop id. Records without a loop id
// cannot be keyed and are rejected.
func (h *Handler) SaveRecords(w http.ResponseWriter, r *http.Request) {
	var req SaveRecordsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	for i, rec := range req.Records {
		if strings.TrimSpace(rec.LoopID) == "" {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{
				Error:  "Invalid records",
				Fields: []FieldErrorDTO{{Field: fmt.Sprintf("records[%d].loop_id", i), Message: "is required"}},
			})
			return
		}
	}

	ctx := r.Context()
	if req.Replace {
		if err := h.Store.DeleteRecords(ctx); err != nil {
			h.fail(w, r, "Failed to clear records", err)
			return
		}
	}
	if err := h.Store.SaveRecords(ctx, toRecords(req.Records)); err != nil {
		h.fail(w, r, "Failed to save records", err)
		return
	}
	all, err := h.Store.ListRecords(ctx)
	if err != nil {
		h.fail(w, r, "Failed to list records", err)
		return
	}
	writeJSON(w, http.StatusOK, SaveRecordsResponse{Saved: len(req.Records), Total: len(all)})
}

// =============================================================================
// CALCULATION AND AUDIT HANDLERS
// =============================================================================

// Calculate runs the commission calculator over the request's records, or
// the stored ones when the request carries none.
func (h *Handler) Calculate(w http.ResponseWriter, r *http.Request) {
	var req PassRequest
	if !decodeOptionalJSON(w, r, &req) {
		return
	}
	opts, err := req.options()
	if err != nil {
		h.fail(w, r, "Invalid period", err)
		return
	}
	records, err := h.passRecords(r.Context(), req.Records)
	if err != nil {
		h.fail(w, r, "Failed to list records", err)
		return
	}

	calc := commission.Calculator{Store: h.Store}
	res, err := calc.Run(r.Context(), records, opts)
	if err != nil {
		h.fail(w, r, "Calculation failed", err)
		return
	}
	h.Metrics.ObserveCalculation()
	writeJSON(w, http.StatusOK, toCalculationResponse(res))
}

func (h *Handler) RunAudit(w http.ResponseWriter, r *http.Request) {
	var req AuditRequest
	if !decodeOptionalJSON(w, r, &req) {
		return
	}
	opts, err := req.options()
	if err != nil {
		h.fail(w, r, "Invalid period", err)
		return
	}
	pass := AuditPass{Options: opts, RaiseAlerts: req.RaiseAlerts}
	if len(req.Records) > 0 {
		pass.Records = toRecords(req.Records)
	}

	out, err := h.Audits.Run(r.Context(), TriggerAPI, pass)
	if err != nil {
		h.fail(w, r, "Audit failed", err)
		return
	}
	writeJSON(w, http.StatusOK, AuditResponse{
		RunID:   out.Run.ID,
		Results: toAuditResultDTOs(out.Results),
		Summary: toAuditSummaryDTO(out.Run.Summary),
		Alerts:  toAlertDTOs(out.Alerts),
	})
}

func (h *Handler) ListAuditRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 20)
	if err != nil || limit <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid limit", err)
		return
	}
	runs, err := h.Store.ListAuditRuns(r.Context(), limit)
	if err != nil {
		h.fail(w, r, "Failed to list audit runs", err)
		return
	}
	dtos := make([]AuditRunDTO, 0, len(runs))
	for _, run := range runs {
		dtos = append(dtos, toAuditRunDTO(run))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ExportAudit audits the stored records and streams the results as a file.
// It does not persist a run.
func (h *Handler) ExportAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := PassRequest{
		StartDate:  q.Get("start_date"),
		EndDate:    q.Get("end_date"),
		ClosedOnly: queryBool(r, "closed_only"),
	}
	opts, err := req.options()
	if err != nil {
		h.fail(w, r, "Invalid period", err)
		return
	}
	records, err := h.Store.ListRecords(r.Context())
	if err != nil {
		h.fail(w, r, "Failed to list records", err)
		return
	}
	auditor := commission.Auditor{Store: h.Store}
	results, _, err := auditor.Run(r.Context(), records, opts)
	if err != nil {
		h.fail(w, r, "Audit failed", err)
		return
	}

	h.writeExport(w, r, "commission-audit", func(buf *bytes.Buffer, format string) error {
		if format == "xlsx" {
			return commission.WriteAuditXLSX(buf, results)
		}
		return commission.WriteAuditCSV(buf, results)
	})
}

// =============================================================================
// FORECAST HANDLER
// =============================================================================

// GetForecast projects the stored pipeline. Query parameters:
//
//	horizon          days ahead (default from config)
//	horizons         comma separated extra horizons, e.g. 30,60,90
//	fall_through     percent of pipeline expected to fall through (0-50)
//	commission_rate  percent of price (default from config)
//	window_days      trailing window for the historical close rate
//	as_of            YYYY-MM-DD, defaults to today
func (h *Handler) GetForecast(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	horizon, err := queryInt(r, "horizon", h.Forecast.HorizonDays)
	if err != nil || horizon <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid horizon", err)
		return
	}
	fallThrough, err := queryDecimal(r, "fall_through", decimal.Zero)
	if err != nil || fallThrough.IsNegative() {
		writeError(w, http.StatusBadRequest, "Invalid fall_through", err)
		return
	}
	rate, err := queryDecimal(r, "commission_rate", h.Forecast.CommissionRate)
	if err != nil || rate.IsNegative() {
		writeError(w, http.StatusBadRequest, "Invalid commission_rate", err)
		return
	}
	window, err := queryInt(r, "window_days", 0)
	if err != nil || window < 0 {
		writeError(w, http.StatusBadRequest, "Invalid window_days", err)
		return
	}
	asOf := generic.FromTime(h.now())
	if raw := q.Get("as_of"); raw != "" {
		tp, ok := generic.ParseDate(raw)
		if !ok {
			writeError(w, http.StatusBadRequest, "Invalid as_of", nil)
			return
		}
		asOf = tp
	}
	var extra []int
	if raw := q.Get("horizons"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			n, err := strconv.Atoi(strings.TrimSpace(part))
			if err != nil || n <= 0 {
				writeError(w, http.StatusBadRequest, "Invalid horizons", err)
				return
			}
			extra = append(extra, n)
		}
	}

	records, err := h.Store.ListRecords(r.Context())
	if err != nil {
		h.fail(w, r, "Failed to list records", err)
		return
	}

	rateOpts := forecast.RateOptions{WindowDays: window, AsOf: asOf}
	closing := forecast.EstimateClosingRate(records, rateOpts)
	in := forecast.Input{
		Records:         records,
		Rate:            &closing,
		HorizonDays:     horizon,
		FallThroughRate: fallThrough,
		CommissionRate:  rate,
		AsOf:            asOf,
		RateOptions:     rateOpts,
	}

	resp := ForecastResponse{
		ClosingRate: toClosingRateDTO(closing),
		Projection:  toProjectionDTO(forecast.Forecast(in)),
	}
	for _, p := range forecast.ForecastHorizons(in, extra...) {
		resp.Horizons = append(resp.Horizons, toProjectionDTO(p))
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// ALERT HANDLERS
// =============================================================================

func (h *Handler) GetThresholds(w http.ResponseWriter, r *http.Request) {
	t, err := h.Alerts.Thresholds(r.Context())
	if err != nil {
		h.fail(w, r, "Failed to load thresholds", err)
		return
	}
	writeJSON(w, http.StatusOK, toThresholdsDTO(t))
}

func (h *Handler) UpdateThresholds(w http.ResponseWriter, r *http.Request) {
	var req ThresholdsDTO
	if !decodeJSON(w, r, &req) {
		return
	}
	t := req.toThresholds()
	if err := h.Alerts.UpdateThresholds(r.Context(), t); err != nil {
		h.fail(w, r, "Invalid thresholds", err)
		return
	}
	writeJSON(w, http.StatusOK, toThresholdsDTO(t))
}

func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	f, ok := alertFilter(w, r)
	if !ok {
		return
	}
	alerts, err := h.Alerts.List(r.Context(), f)
	if err != nil {
		h.fail(w, r, "Failed to list alerts", err)
		return
	}
	writeJSON(w, http.StatusOK, toAlertDTOs(alerts))
}

func (h *Handler) AlertSummary(w http.ResponseWriter, r *http.Request) {
	s, err := h.Alerts.Summary(r.Context())
	if err != nil {
		h.fail(w, r, "Failed to summarize alerts", err)
		return
	}
	writeJSON(w, http.StatusOK, AlertSummaryDTO{
		Total:     s.Total,
		Critical:  s.Critical,
		Warning:   s.Warning,
		Dismissed: s.Dismissed,
		Flagged:   s.Flagged,
	})
}

// DismissAlerts dismisses by id, or every active alert matching the filter
// when "all" is set. Dismissal is permanent.
func (h *Handler) DismissAlerts(w http.ResponseWriter, r *http.Request) {
	var req DismissRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.DismissedBy) == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:  "Invalid dismissal",
			Fields: []FieldErrorDTO{{Field: "dismissed_by", Message: "is required"}},
		})
		return
	}
	if !req.All && len(req.IDs) == 0 {
		writeError(w, http.StatusBadRequest, "Nothing to dismiss: give ids or set all", nil)
		return
	}

	var (
		n   int
		err error
	)
	if req.All {
		f := variance.Filter{LoopID: req.LoopID, AgentName: req.AgentName}
		if req.Severity != "" {
			sev, ok := variance.ParseSeverity(req.Severity)
			if !ok {
				writeError(w, http.StatusBadRequest, "Invalid severity", nil)
				return
			}
			f.Severity = sev
		}
		n, err = h.Alerts.DismissAll(r.Context(), f, req.DismissedBy)
	} else {
		n, err = h.Alerts.Dismiss(r.Context(), req.IDs, req.DismissedBy)
	}
	if err != nil {
		h.fail(w, r, "Failed to dismiss alerts", err)
		return
	}
	writeJSON(w, http.StatusOK, DismissResponse{Dismissed: n})
}

// ScanAlerts audits every stored record and raises alerts for new variances.
func (h *Handler) ScanAlerts(w http.ResponseWriter, r *http.Request) {
	out, err := h.Audits.Run(r.Context(), TriggerAPI, AuditPass{RaiseAlerts: true})
	if err != nil {
		h.fail(w, r, "Scan failed", err)
		return
	}
	writeJSON(w, http.StatusOK, ScanResponse{Created: toAlertDTOs(out.Alerts)})
}

func (h *Handler) ExportAlerts(w http.ResponseWriter, r *http.Request) {
	f, ok := alertFilter(w, r)
	if !ok {
		return
	}
	alerts, err := h.Alerts.List(r.Context(), f)
	if err != nil {
		h.fail(w, r, "Failed to list alerts", err)
		return
	}
	h.writeExport(w, r, "variance-alerts", func(buf *bytes.Buffer, format string) error {
		if format == "xlsx" {
			return variance.WriteAlertsXLSX(buf, alerts)
		}
		return variance.WriteAlertsCSV(buf, alerts)
	})
}

func alertFilter(w http.ResponseWriter, r *http.Request) (variance.Filter, bool) {
	q := r.URL.Query()
	f := variance.Filter{
		LoopID:           q.Get("loop_id"),
		AgentName:        q.Get("agent"),
		IncludeDismissed: queryBool(r, "include_dismissed"),
	}
	if raw := q.Get("severity"); raw != "" {
		sev, ok := variance.ParseSeverity(raw)
		if !ok {
			writeError(w, http.StatusBadRequest, "Invalid severity", nil)
			return f, false
		}
		f.Severity = sev
	}
	return f, true
}

// =============================================================================
// HEALTH
// =============================================================================

type pinger interface {
	Ping(ctx context.Context) error
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if p, ok := h.Store.(pinger); ok {
		if err := p.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "Store unavailable", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

// options converts the request's date strings into calculator options.
// Either bound may be left out.
func (req PassRequest) options() (commission.Options, error) {
	opts := commission.Options{ClosedOnly: req.ClosedOnly}
	if req.StartDate == "" && req.EndDate == "" {
		return opts, nil
	}

	start, end := generic.NewTimePoint(1900, time.January, 1), generic.NewTimePoint(9999, time.December, 31)
	if req.StartDate != "" {
		tp, ok := generic.ParseDate(req.StartDate)
		if !ok {
			return opts, fmt.Errorf("%w: start_date %q", generic.ErrInvalidPeriod, req.StartDate)
		}
		start = tp
	}
	if req.EndDate != "" {
		tp, ok := generic.ParseDate(req.EndDate)
		if !ok {
			return opts, fmt.Errorf("%w: end_date %q", generic.ErrInvalidPeriod, req.EndDate)
		}
		end = tp
	}
	opts.Period = generic.Period{Start: start, End: end}
	return opts, opts.Period.Validate()
}

func (h *Handler) passRecords(ctx context.Context, dtos []RecordDTO) ([]commission.Record, error) {
	if len(dtos) > 0 {
		return toRecords(dtos), nil
	}
	return h.Store.ListRecords(ctx)
}

// writeExport renders into a buffer first so a failure can still be a 500.
func (h *Handler) writeExport(w http.ResponseWriter, r *http.Request, name string, render func(*bytes.Buffer, string) error) {
	format := strings.ToLower(r.URL.Query().Get("format"))
	if format == "" {
		format = "csv"
	}
	contentType := contentTypeCSV
	switch format {
	case "csv":
	case "xlsx":
		contentType = contentTypeXLSX
	default:
		writeError(w, http.StatusBadRequest, "Invalid format: use csv or xlsx", nil)
		return
	}

	var buf bytes.Buffer
	if err := render(&buf, format); err != nil {
		h.fail(w, r, "Export failed", err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.%s"`, name, format))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

// fail maps a domain error to an HTTP status and writes it. Server-side
// failures are logged with the request id.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, message string, err error) {
	var ref *generic.PlanReferenceError
	var verr *generic.ValidationError
	switch {
	case errors.As(err, &ref):
		writeError(w, http.StatusBadRequest, message, err)
	case errors.As(err, &verr):
		resp := ErrorResponse{Error: message, Details: err.Error()}
		for _, f := range verr.Fields {
			resp.Fields = append(resp.Fields, FieldErrorDTO{Field: f.Field, Message: f.Message})
		}
		writeJSON(w, http.StatusBadRequest, resp)
	case generic.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case generic.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	default:
		h.Logger.Error(message,
			"error", err,
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
		)
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

// decodeOptionalJSON accepts an empty body as the zero request.
func decodeOptionalJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
	if err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

func queryInt(r *http.Request, key string, fallback int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}

func queryDecimal(r *http.Request, key string, fallback decimal.Decimal) (decimal.Decimal, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback, nil
	}
	return decimal.NewFromString(raw)
}

func queryBool(r *http.Request, key string) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get(key))
	return v
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
