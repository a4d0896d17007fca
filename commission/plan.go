/*
plan.go - Commission plans, teams and agent assignments

PURPOSE:
  The configuration side of the engine. A plan says how GCI is split between
  agent and brokerage before and after the cap; a team takes its cut off the
  agent's share; an assignment ties an agent name to exactly one plan and at
  most one team.

KEY CONCEPTS:
  CommissionPlan:
    SplitPercentage is the AGENT's pre-cap share ("80" in an 80/20 plan).
    CapAmount is measured in brokerage dollars; 0 means uncapped.
    PostCapSplit is the agent's share once capped (often 100).

  Team:
    TeamSplitPercentage is deducted from the agent's GCI share. SplitOrder
    decides whether it comes off before or after the brokerage split.

  AgentAssignment:
    Agent names are matched trimmed and case-insensitively, because exports
    are typed by hand.

VALIDATION:
  Validate() runs at write time (ConfigStore.Save*). The calculator trusts
  whatever a snapshot hands it.

SEE ALSO:
  - store.go: ConfigStore and ConfigSnapshot
  - factory/plan.go: JSON/YAML documents that produce these types
*/
package commission

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/commission-engine/generic"
)

// =============================================================================
// COMMISSION PLAN
// =============================================================================

type CommissionPlan struct {
	ID   string
	Name string

	SplitPercentage   decimal.Decimal // Agent's pre-cap share, 0-100
	CapAmount         decimal.Decimal // Brokerage-dollar cap, 0 = uncapped
	PostCapSplit      decimal.Decimal // Agent's share after cap, 0-100
	RoyaltyPercentage decimal.Decimal // Franchise royalty on agent GCI
	RoyaltyCap        decimal.Decimal // Per-period royalty ceiling, 0 = uncapped

	CapPeriod            generic.PeriodType
	FiscalYearStartMonth time.Month // Only for CapPeriod == fiscal_year

	// Version is bumped on every save. Calculations always use the current
	// value; it exists so audit runs can record what they saw.
	Version int
}

// IsCapped reports whether the plan has a cap at all.
func (p CommissionPlan) IsCapped() bool { return p.CapAmount.IsPositive() }

// PeriodConfig builds the cap-period calculator for an agent on this plan.
func (p CommissionPlan) PeriodConfig(anniversary *generic.TimePoint) generic.PeriodConfig {
	return generic.PeriodConfig{
		Type:                 p.CapPeriod,
		FiscalYearStartMonth: p.FiscalYearStartMonth,
		AnchorDate:           anniversary,
	}
}

func (p CommissionPlan) Validate() error {
	v := &generic.ValidationError{Object: "plan", ID: p.ID}
	if strings.TrimSpace(p.ID) == "" {
		v.Add("id", "required")
	}
	if strings.TrimSpace(p.Name) == "" {
		v.Add("name", "required")
	}
	checkPercent(v, "split_percentage", p.SplitPercentage)
	checkPercent(v, "post_cap_split", p.PostCapSplit)
	checkNonNegative(v, "cap_amount", p.CapAmount)
	checkNonNegative(v, "royalty_percentage", p.RoyaltyPercentage)
	checkNonNegative(v, "royalty_cap", p.RoyaltyCap)
	if p.RoyaltyPercentage.GreaterThan(generic.Hundred) {
		v.Add("royalty_percentage", "must be at most 100")
	}
	if _, ok := generic.ParsePeriodType(string(p.CapPeriod)); !ok {
		v.Add("cap_period", "unknown period type "+string(p.CapPeriod))
	}
	if p.CapPeriod == generic.PeriodFiscalYear && (p.FiscalYearStartMonth < time.January || p.FiscalYearStartMonth > time.December) {
		v.Add("fiscal_year_start_month", "must be 1-12")
	}
	return v.OrNil()
}

// =============================================================================
// TEAM
// =============================================================================

// SplitOrder places the team deduction relative to the brokerage split.
type SplitOrder string

const (
	TeamBeforeBrokerage SplitOrder = "before_brokerage" // Default: team cut off the top
	TeamAfterBrokerage  SplitOrder = "after_brokerage"  // Team cut from the agent's net
)

type Team struct {
	ID                  string
	Name                string
	LeadAgent           string
	TeamSplitPercentage decimal.Decimal // 0-100
	SplitOrder          SplitOrder
}

// Order returns the effective split order, defaulting to before-brokerage.
func (t Team) Order() SplitOrder {
	if t.SplitOrder == "" {
		return TeamBeforeBrokerage
	}
	return t.SplitOrder
}

func (t Team) Validate() error {
	v := &generic.ValidationError{Object: "team", ID: t.ID}
	if strings.TrimSpace(t.ID) == "" {
		v.Add("id", "required")
	}
	if strings.TrimSpace(t.Name) == "" {
		v.Add("name", "required")
	}
	checkPercent(v, "team_split_percentage", t.TeamSplitPercentage)
	switch t.SplitOrder {
	case "", TeamBeforeBrokerage, TeamAfterBrokerage:
	default:
		v.Add("split_order", "unknown split order "+string(t.SplitOrder))
	}
	return v.OrNil()
}

// =============================================================================
// AGENT ASSIGNMENT
// =============================================================================

type AgentAssignment struct {
	AgentName       string
	PlanID          string
	TeamID          string             // Optional
	AnniversaryDate *generic.TimePoint // Optional; anchors anniversary cap periods
}

func (a AgentAssignment) Validate() error {
	v := &generic.ValidationError{Object: "assignment", ID: a.AgentName}
	if NormalizeAgent(a.AgentName) == "" {
		v.Add("agent_name", "required")
	}
	if strings.TrimSpace(a.PlanID) == "" {
		v.Add("plan_id", "required")
	}
	return v.OrNil()
}

// NormalizeAgent is the lookup key for agent names.
func NormalizeAgent(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

// =============================================================================
// VALIDATION HELPERS
// =============================================================================

func checkPercent(v *generic.ValidationError, field string, d decimal.Decimal) {
	if d.IsNegative() || d.GreaterThan(generic.Hundred) {
		v.Add(field, "must be between 0 and 100")
	}
}

func checkNonNegative(v *generic.ValidationError, field string, d decimal.Decimal) {
	if d.IsNegative() {
		v.Add(field, "must not be negative")
	}
}
