/*
Package commission turns brokerage transaction records and commission-plan
configuration into per-agent earned commission, running year-to-date cap
state, and an audit of recorded company dollar against what the plans say.

KEY CONCEPTS IN THIS FILE (types.go):
  - Record: one transaction row handed over by ingestion (immutable input)
  - Breakdown: the commission split for one (record, agent) pair
  - AgentYTD: an agent's cap position at the end of a calculation pass
  - SplitType: which side of the cap a breakdown was computed on

FLOW:
  ConfigStore.Snapshot() ──► Calculate(records, snapshot) ──► Result
                                        │
                                        └──► Audit() ──► []AuditResult

SEE ALSO:
  - plan.go: CommissionPlan, Team, AgentAssignment
  - calculator.go: the chronological fold
  - audit.go: expected vs. actual reconciliation
*/
package commission

import (
	"strings"

	"github.com/shopspring/decimal"
	"github.com/warp/commission-engine/generic"
)

// =============================================================================
// RECORD - Transaction input ("loop" in Dotloop terms)
// =============================================================================

// Record is a transaction as handed over by the ingestion collaborator.
// Dates stay strings: parsing them is part of the engine's contract, and an
// unparseable date is a data-quality note, not an ingestion failure.
type Record struct {
	LoopID          string
	LoopName        string
	Agents          string // Comma-separated display names
	LoopStatus      string
	CreatedDate     string
	ContractDate    string
	ClosingDate     string
	CommissionTotal decimal.Decimal // GCI for the whole deal
	CompanyDollar   decimal.Decimal // Recorded brokerage revenue
	Price           decimal.Decimal
	SalePrice       decimal.Decimal
}

// AgentNames splits the comma-separated agent list, trimming blanks.
func (r Record) AgentNames() []string {
	var names []string
	for _, part := range strings.Split(r.Agents, ",") {
		if name := strings.TrimSpace(part); name != "" {
			names = append(names, name)
		}
	}
	return names
}

// Closing returns the parsed closing date.
func (r Record) Closing() (generic.TimePoint, bool) { return generic.ParseDate(r.ClosingDate) }

// Created returns the parsed created date.
func (r Record) Created() (generic.TimePoint, bool) { return generic.ParseDate(r.CreatedDate) }

// DealPrice prefers the sale price and falls back to the list price.
func (r Record) DealPrice() decimal.Decimal {
	if r.SalePrice.IsPositive() {
		return r.SalePrice
	}
	return r.Price
}

// Status returns the lifecycle category of the loop.
func (r Record) Status() generic.StatusCategory { return generic.ClassifyStatus(r.LoopStatus) }

// =============================================================================
// BREAKDOWN - Commission split for one (record, agent) pair
// =============================================================================

type SplitType string

const (
	SplitPreCap  SplitType = "pre-cap"  // Entire deal below the cap
	SplitPostCap SplitType = "post-cap" // Agent was capped before the deal
	SplitCrossed SplitType = "split"    // Deal crossed the cap boundary
	SplitNone    SplitType = "none"     // No plan resolved; nothing computed
)

// Notes attached to breakdowns and audit results.
const (
	NoteNoPlan            = "No Plan Assigned"
	NoteHitCap            = "Hit cap"
	NoteInvalidDate       = "Invalid closing date"
	NoteNoAgents          = "No agents listed"
	NoteNegativeGCI       = "Negative commission"
	NoteCapPeriodReset    = "Cap period reset"
	NoteRoyaltyCapReached = "Royalty cap reached"
)

// UnassignedAgent labels the breakdown of a record with an empty agent list.
const UnassignedAgent = "Unassigned"

type Breakdown struct {
	LoopID      string
	LoopName    string
	AgentName   string
	ClosingDate generic.TimePoint // Zero when the record's date was unparseable

	// AgentShare is the agent's equal share of the deal GCI, before the team cut.
	AgentShare decimal.Decimal
	// TeamSplitAmount is the team's cut of this agent's share.
	TeamSplitAmount decimal.Decimal

	GrossCommissionIncome decimal.Decimal // Base the brokerage split is applied to
	BrokerageSplitAmount  decimal.Decimal // Expected company dollar
	AgentNetCommission    decimal.Decimal // GrossCommissionIncome - BrokerageSplitAmount
	RoyaltyFee            decimal.Decimal
	AgentTakeHome         decimal.Decimal // Net after royalty and any post-brokerage team cut

	YTDAfterTransaction decimal.Decimal
	SplitType           SplitType
	HitCap              bool

	PlanName string
	TeamName string

	// ActualCompanyDollar is the agent's equal share of the recorded company dollar.
	ActualCompanyDollar decimal.Decimal

	Notes []string
}

// HasNote reports whether the breakdown carries the given note.
func (b Breakdown) HasNote(note string) bool {
	for _, n := range b.Notes {
		if n == note {
			return true
		}
	}
	return false
}

// =============================================================================
// AGENT YTD - Cap position after a pass
// =============================================================================

type AgentYTD struct {
	AgentName        string
	YTDCompanyDollar decimal.Decimal
	CapAmount        decimal.Decimal
	PercentToCap     decimal.Decimal // Clamped to [0, 100]
	IsCapped         bool
	PlanName         string
	TeamName         string
	Period           generic.Period // Current cap period; unbounded when plans never reset
	YTDRoyalty       decimal.Decimal
	Transactions     int
}

// RemainingCap is the company dollar left before the agent caps.
// Zero for uncapped plans.
func (a AgentYTD) RemainingCap() decimal.Decimal {
	if !a.CapAmount.IsPositive() {
		return decimal.Zero
	}
	return decimal.Max(decimal.Zero, a.CapAmount.Sub(a.YTDCompanyDollar))
}
