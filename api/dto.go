/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

MONEY:
  Outgoing amounts are float64 rounded to cents (generic.Float). Incoming
  record amounts are decimal.Decimal, which accepts JSON numbers and strings,
  so nothing is lost on the way in.

CONFIGURATION:
  Plans, teams and assignments reuse the factory document types so the API
  and seed files share one schema.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/plan.go: PlanJSON, TeamJSON, AssignmentJSON
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/commission-engine/commission"
	"github.com/warp/commission-engine/factory"
	"github.com/warp/commission-engine/forecast"
	"github.com/warp/commission-engine/generic"
	"github.com/warp/commission-engine/variance"
)

// =============================================================================
// CONFIGURATION
// =============================================================================

// PlanDTO is a plan as returned by the API.
type PlanDTO struct {
	factory.PlanJSON
	Version int `json:"version"`
}

type TeamDTO = factory.TeamJSON

type AssignmentDTO = factory.AssignmentJSON

// ThresholdsDTO is the full set of variance thresholds.
type ThresholdsDTO struct {
	MajorVariancePercentage float64 `json:"major_variance_percentage"`
	MinorVariancePercentage float64 `json:"minor_variance_percentage"`
	EnableAutoFlag          bool    `json:"enable_auto_flag"`
	AutoFlagMajor           bool    `json:"auto_flag_major"`
	AutoFlagMinor           bool    `json:"auto_flag_minor"`
}

// =============================================================================
// RECORDS
// =============================================================================

// RecordDTO is a parsed transaction record.
type RecordDTO struct {
	LoopID          string          `json:"loop_id"`
	LoopName        string          `json:"loop_name"`
	Agents          string          `json:"agents"`
	LoopStatus      string          `json:"loop_status"`
	CreatedDate     string          `json:"created_date,omitempty"`
	ContractDate    string          `json:"contract_date,omitempty"`
	ClosingDate     string          `json:"closing_date,omitempty"`
	CommissionTotal decimal.Decimal `json:"commission_total"`
	CompanyDollar   decimal.Decimal `json:"company_dollar"`
	Price           decimal.Decimal `json:"price"`
	SalePrice       decimal.Decimal `json:"sale_price"`
}

// SaveRecordsRequest hands over records. Replace clears stored records first.
type SaveRecordsRequest struct {
	Records []RecordDTO `json:"records"`
	Replace bool        `json:"replace,omitempty"`
}

type SaveRecordsResponse struct {
	Saved int `json:"saved"`
	Total int `json:"total"`
}

// =============================================================================
// CALCULATION AND AUDIT
// =============================================================================

// PassRequest narrows a calculation or audit pass. Records, when given, are
// used instead of the stored ones.
type PassRequest struct {
	StartDate  string      `json:"start_date,omitempty"`
	EndDate    string      `json:"end_date,omitempty"`
	ClosedOnly bool        `json:"closed_only,omitempty"`
	Records    []RecordDTO `json:"records,omitempty"`
}

// AuditRequest is a PassRequest that may also raise variance alerts.
type AuditRequest struct {
	PassRequest
	RaiseAlerts bool `json:"raise_alerts,omitempty"`
}

type BreakdownDTO struct {
	LoopID                string   `json:"loop_id"`
	LoopName              string   `json:"loop_name"`
	AgentName             string   `json:"agent_name"`
	ClosingDate           string   `json:"closing_date"`
	AgentShare            float64  `json:"agent_share"`
	TeamSplitAmount       float64  `json:"team_split_amount"`
	GrossCommissionIncome float64  `json:"gross_commission_income"`
	BrokerageSplitAmount  float64  `json:"brokerage_split_amount"`
	AgentNetCommission    float64  `json:"agent_net_commission"`
	RoyaltyFee            float64  `json:"royalty_fee"`
	AgentTakeHome         float64  `json:"agent_take_home"`
	YTDAfterTransaction   float64  `json:"ytd_after_transaction"`
	SplitType             string   `json:"split_type"`
	HitCap                bool     `json:"hit_cap"`
	PlanName              string   `json:"plan_name,omitempty"`
	TeamName              string   `json:"team_name,omitempty"`
	ActualCompanyDollar   float64  `json:"actual_company_dollar"`
	Notes                 []string `json:"notes,omitempty"`
}

type AgentYTDDTO struct {
	AgentName        string  `json:"agent_name"`
	YTDCompanyDollar float64 `json:"ytd_company_dollar"`
	CapAmount        float64 `json:"cap_amount"`
	RemainingCap     float64 `json:"remaining_cap"`
	PercentToCap     float64 `json:"percent_to_cap"`
	IsCapped         bool    `json:"is_capped"`
	PlanName         string  `json:"plan_name"`
	TeamName         string  `json:"team_name,omitempty"`
	PeriodStart      string  `json:"period_start,omitempty"`
	PeriodEnd        string  `json:"period_end,omitempty"`
	YTDRoyalty       float64 `json:"ytd_royalty"`
	Transactions     int     `json:"transactions"`
}

type TotalsDTO struct {
	GrossCommissionIncome float64 `json:"gross_commission_income"`
	TeamSplits            float64 `json:"team_splits"`
	CompanyDollar         float64 `json:"company_dollar"`
	AgentNet              float64 `json:"agent_net"`
	Royalties             float64 `json:"royalties"`
	AgentTakeHome         float64 `json:"agent_take_home"`
	Unassigned            int     `json:"unassigned"`
}

type CalculationResponse struct {
	Breakdowns []BreakdownDTO `json:"breakdowns"`
	Agents     []AgentYTDDTO  `json:"agents"`
	Totals     TotalsDTO      `json:"totals"`
}

type AuditResultDTO struct {
	RecordID              string   `json:"record_id"`
	LoopName              string   `json:"loop_name"`
	AgentName             string   `json:"agent_name"`
	ActualCompanyDollar   float64  `json:"actual_company_dollar"`
	ExpectedCompanyDollar float64  `json:"expected_company_dollar"`
	Difference            float64  `json:"difference"`
	VariancePercentage    float64  `json:"variance_percentage"`
	Status                string   `json:"status"`
	Notes                 []string `json:"notes,omitempty"`
}

type AuditSummaryDTO struct {
	Total            int     `json:"total"`
	Matched          int     `json:"matched"`
	Overpaid         int     `json:"overpaid"`
	Underpaid        int     `json:"underpaid"`
	TotalActual      float64 `json:"total_actual"`
	TotalExpected    float64 `json:"total_expected"`
	NetDifference    float64 `json:"net_difference"`
	AbsoluteVariance float64 `json:"absolute_variance"`
	MatchRatePercent float64 `json:"match_rate_percent"`
}

type AuditResponse struct {
	RunID   string           `json:"run_id"`
	Results []AuditResultDTO `json:"results"`
	Summary AuditSummaryDTO  `json:"summary"`
	Alerts  []AlertDTO       `json:"alerts,omitempty"`
}

type AuditRunDTO struct {
	ID           string          `json:"id"`
	RanAt        string          `json:"ran_at"`
	RecordCount  int             `json:"record_count"`
	Summary      AuditSummaryDTO `json:"summary"`
	PlanVersions map[string]int  `json:"plan_versions"`
}

// =============================================================================
// FORECAST
// =============================================================================

type ClosingRateDTO struct {
	HistoricalCloseRate int     `json:"historical_close_rate"`
	ClosedCount         int     `json:"closed_count"`
	DeterminateCount    int     `json:"determinate_count"`
	AverageDaysToClose  float64 `json:"average_days_to_close"`
	DaysToCloseSamples  int     `json:"days_to_close_samples"`
}

type ProjectionDTO struct {
	HorizonDays            int     `json:"horizon_days"`
	PipelineDeals          int     `json:"pipeline_deals"`
	BaselineCloseRate      int     `json:"baseline_close_rate"`
	AverageDaysToClose     float64 `json:"average_days_to_close"`
	TimeWeighting          float64 `json:"time_weighting"`
	ProjectedClosedDeals   int     `json:"projected_closed_deals"`
	ProjectedRevenue       float64 `json:"projected_revenue"`
	ProjectedCommission    float64 `json:"projected_commission"`
	FallThroughRate        float64 `json:"fall_through_rate"`
	RiskAdjustedRevenue    float64 `json:"risk_adjusted_revenue"`
	RiskAdjustedCommission float64 `json:"risk_adjusted_commission"`
	ConfidenceLevel        float64 `json:"confidence_level"`
	AverageDealPrice       float64 `json:"average_deal_price"`
}

type ForecastResponse struct {
	ClosingRate ClosingRateDTO  `json:"closing_rate"`
	Projection  ProjectionDTO   `json:"projection"`
	Horizons    []ProjectionDTO `json:"horizons,omitempty"`
}

// =============================================================================
// ALERTS
// =============================================================================

type AlertDTO struct {
	ID                 string  `json:"id"`
	LoopID             string  `json:"loop_id"`
	AgentName          string  `json:"agent_name"`
	TransactionName    string  `json:"transaction_name"`
	VarianceAmount     float64 `json:"variance_amount"`
	VariancePercentage float64 `json:"variance_percentage"`
	Severity           string  `json:"severity"`
	AutoFlagged        bool    `json:"auto_flagged"`
	Dismissed          bool    `json:"dismissed"`
	DismissedBy        string  `json:"dismissed_by,omitempty"`
	DismissedAt        string  `json:"dismissed_at,omitempty"`
	CreatedAt          string  `json:"created_at"`
}

type AlertSummaryDTO struct {
	Total     int `json:"total"`
	Critical  int `json:"critical"`
	Warning   int `json:"warning"`
	Dismissed int `json:"dismissed"`
	Flagged   int `json:"flagged"`
}

// DismissRequest dismisses the listed ids, or every active alert matching
// the filter fields when All is set.
type DismissRequest struct {
	IDs         []string `json:"ids,omitempty"`
	All         bool     `json:"all,omitempty"`
	LoopID      string   `json:"loop_id,omitempty"`
	AgentName   string   `json:"agent_name,omitempty"`
	Severity    string   `json:"severity,omitempty"`
	DismissedBy string   `json:"dismissed_by"`
}

type DismissResponse struct {
	Dismissed int `json:"dismissed"`
}

type ScanResponse struct {
	Created []AlertDTO `json:"created"`
}

// =============================================================================
// SCENARIOS AND ERRORS
// =============================================================================

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

type LoadScenarioResponse struct {
	ScenarioID string               `json:"scenario_id"`
	Config     factory.ApplyResult  `json:"config"`
	Records    int                  `json:"records"`
}

type FieldErrorDTO struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string          `json:"error"`
	Details string          `json:"details,omitempty"`
	Fields  []FieldErrorDTO `json:"fields,omitempty"`
}

// =============================================================================
// CONVERTERS
// =============================================================================

func toPlanDTO(p commission.CommissionPlan) PlanDTO {
	return PlanDTO{PlanJSON: factory.PlanToJSON(p), Version: p.Version}
}

func toThresholdsDTO(t variance.Thresholds) ThresholdsDTO {
	return ThresholdsDTO{
		MajorVariancePercentage: generic.Float(t.MajorVariancePercentage),
		MinorVariancePercentage: generic.Float(t.MinorVariancePercentage),
		EnableAutoFlag:          t.EnableAutoFlag,
		AutoFlagMajor:           t.AutoFlagMajor,
		AutoFlagMinor:           t.AutoFlagMinor,
	}
}

func (t ThresholdsDTO) toThresholds() variance.Thresholds {
	return variance.Thresholds{
		MajorVariancePercentage: decimal.NewFromFloat(t.MajorVariancePercentage),
		MinorVariancePercentage: decimal.NewFromFloat(t.MinorVariancePercentage),
		EnableAutoFlag:          t.EnableAutoFlag,
		AutoFlagMajor:           t.AutoFlagMajor,
		AutoFlagMinor:           t.AutoFlagMinor,
	}
}

func (r RecordDTO) toRecord() commission.Record {
	return commission.Record{
		LoopID:          r.LoopID,
		LoopName:        r.LoopName,
		Agents:          r.Agents,
		LoopStatus:      r.LoopStatus,
		CreatedDate:     r.CreatedDate,
		ContractDate:    r.ContractDate,
		ClosingDate:     r.ClosingDate,
		CommissionTotal: r.CommissionTotal,
		CompanyDollar:   r.CompanyDollar,
		Price:           r.Price,
		SalePrice:       r.SalePrice,
	}
}

func toRecords(dtos []RecordDTO) []commission.Record {
	out := make([]commission.Record, 0, len(dtos))
	for _, d := range dtos {
		out = append(out, d.toRecord())
	}
	return out
}

func toRecordDTO(r commission.Record) RecordDTO {
	return RecordDTO{
		LoopID:          r.LoopID,
		LoopName:        r.LoopName,
		Agents:          r.Agents,
		LoopStatus:      r.LoopStatus,
		CreatedDate:     r.CreatedDate,
		ContractDate:    r.ContractDate,
		ClosingDate:     r.ClosingDate,
		CommissionTotal: r.CommissionTotal,
		CompanyDollar:   r.CompanyDollar,
		Price:           r.Price,
		SalePrice:       r.SalePrice,
	}
}

func toBreakdownDTO(b commission.Breakdown) BreakdownDTO {
	return BreakdownDTO{
		LoopID:                b.LoopID,
		LoopName:              b.LoopName,
		AgentName:             b.AgentName,
		ClosingDate:           b.ClosingDate.String(),
		AgentShare:            generic.Float(b.AgentShare),
		TeamSplitAmount:       generic.Float(b.TeamSplitAmount),
		GrossCommissionIncome: generic.Float(b.GrossCommissionIncome),
		BrokerageSplitAmount:  generic.Float(b.BrokerageSplitAmount),
		AgentNetCommission:    generic.Float(b.AgentNetCommission),
		RoyaltyFee:            generic.Float(b.RoyaltyFee),
		AgentTakeHome:         generic.Float(b.AgentTakeHome),
		YTDAfterTransaction:   generic.Float(b.YTDAfterTransaction),
		SplitType:             string(b.SplitType),
		HitCap:                b.HitCap,
		PlanName:              b.PlanName,
		TeamName:              b.TeamName,
		ActualCompanyDollar:   generic.Float(b.ActualCompanyDollar),
		Notes:                 b.Notes,
	}
}

func toAgentYTDDTO(a commission.AgentYTD) AgentYTDDTO {
	return AgentYTDDTO{
		AgentName:        a.AgentName,
		YTDCompanyDollar: generic.Float(a.YTDCompanyDollar),
		CapAmount:        generic.Float(a.CapAmount),
		RemainingCap:     generic.Float(a.RemainingCap()),
		PercentToCap:     generic.Float(a.PercentToCap),
		IsCapped:         a.IsCapped,
		PlanName:         a.PlanName,
		TeamName:         a.TeamName,
		PeriodStart:      a.Period.Start.String(),
		PeriodEnd:        a.Period.End.String(),
		YTDRoyalty:       generic.Float(a.YTDRoyalty),
		Transactions:     a.Transactions,
	}
}

func toCalculationResponse(res *commission.Result) CalculationResponse {
	out := CalculationResponse{
		Breakdowns: make([]BreakdownDTO, 0, len(res.Breakdowns)),
		Agents:     make([]AgentYTDDTO, 0, len(res.AgentYTD)),
	}
	for _, b := range res.Breakdowns {
		out.Breakdowns = append(out.Breakdowns, toBreakdownDTO(b))
	}
	for _, a := range res.AgentYTD {
		out.Agents = append(out.Agents, toAgentYTDDTO(a))
	}
	t := res.Totals()
	out.Totals = TotalsDTO{
		GrossCommissionIncome: generic.Float(t.GrossCommissionIncome),
		TeamSplits:            generic.Float(t.TeamSplits),
		CompanyDollar:         generic.Float(t.CompanyDollar),
		AgentNet:              generic.Float(t.AgentNet),
		Royalties:             generic.Float(t.Royalties),
		AgentTakeHome:         generic.Float(t.AgentTakeHome),
		Unassigned:            t.Unassigned,
	}
	return out
}

func toAuditResultDTOs(results []commission.AuditResult) []AuditResultDTO {
	out := make([]AuditResultDTO, 0, len(results))
	for _, r := range results {
		out = append(out, AuditResultDTO{
			RecordID:              r.RecordID,
			LoopName:              r.LoopName,
			AgentName:             r.AgentName,
			ActualCompanyDollar:   generic.Float(r.ActualCompanyDollar),
			ExpectedCompanyDollar: generic.Float(r.ExpectedCompanyDollar),
			Difference:            generic.Float(r.Difference),
			VariancePercentage:    generic.Float(r.VariancePercentage),
			Status:                string(r.Status),
			Notes:                 r.Notes,
		})
	}
	return out
}

func toAuditSummaryDTO(s commission.AuditSummary) AuditSummaryDTO {
	return AuditSummaryDTO{
		Total:            s.Total,
		Matched:          s.Matched,
		Overpaid:         s.Overpaid,
		Underpaid:        s.Underpaid,
		TotalActual:      generic.Float(s.TotalActual),
		TotalExpected:    generic.Float(s.TotalExpected),
		NetDifference:    generic.Float(s.NetDifference),
		AbsoluteVariance: generic.Float(s.AbsoluteVariance),
		MatchRatePercent: generic.Float(s.MatchRatePercent),
	}
}

func toAuditRunDTO(run commission.AuditRun) AuditRunDTO {
	return AuditRunDTO{
		ID:           run.ID,
		RanAt:        run.RanAt.UTC().Format(time.RFC3339),
		RecordCount:  run.RecordCount,
		Summary:      toAuditSummaryDTO(run.Summary),
		PlanVersions: run.PlanVersions,
	}
}

func toClosingRateDTO(c forecast.ClosingRate) ClosingRateDTO {
	return ClosingRateDTO{
		HistoricalCloseRate: c.HistoricalCloseRate,
		ClosedCount:         c.ClosedCount,
		DeterminateCount:    c.DeterminateCount,
		AverageDaysToClose:  generic.Float(c.AverageDaysToClose),
		DaysToCloseSamples:  c.DaysToCloseSamples,
	}
}

func toProjectionDTO(p forecast.ProjectionMetrics) ProjectionDTO {
	return ProjectionDTO{
		HorizonDays:            p.HorizonDays,
		PipelineDeals:          p.PipelineDeals,
		BaselineCloseRate:      p.BaselineCloseRate,
		AverageDaysToClose:     generic.Float(p.AverageDaysToClose),
		TimeWeighting:          generic.Float(p.TimeWeighting),
		ProjectedClosedDeals:   p.ProjectedClosedDeals,
		ProjectedRevenue:       generic.Float(p.ProjectedRevenue),
		ProjectedCommission:    generic.Float(p.ProjectedCommission),
		FallThroughRate:        generic.Float(p.FallThroughRate),
		RiskAdjustedRevenue:    generic.Float(p.RiskAdjustedRevenue),
		RiskAdjustedCommission: generic.Float(p.RiskAdjustedCommission),
		ConfidenceLevel:        generic.Float(p.ConfidenceLevel),
		AverageDealPrice:       generic.Float(p.AverageDealPrice),
	}
}

func toAlertDTO(a variance.VarianceAlert) AlertDTO {
	dto := AlertDTO{
		ID:                 a.ID,
		LoopID:             a.LoopID,
		AgentName:          a.AgentName,
		TransactionName:    a.TransactionName,
		VarianceAmount:     generic.Float(a.VarianceAmount),
		VariancePercentage: generic.Float(a.VariancePercentage),
		Severity:           string(a.Severity),
		AutoFlagged:        a.AutoFlagged,
		Dismissed:          a.Dismissed,
		DismissedBy:        a.DismissedBy,
		CreatedAt:          a.CreatedAt.UTC().Format(time.RFC3339),
	}
	if a.DismissedAt != nil {
		dto.DismissedAt = a.DismissedAt.UTC().Format(time.RFC3339)
	}
	return dto
}

func toAlertDTOs(alerts []variance.VarianceAlert) []AlertDTO {
	out := make([]AlertDTO, 0, len(alerts))
	for _, a := range alerts {
		out = append(out, toAlertDTO(a))
	}
	return out
}
