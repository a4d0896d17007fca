package factory

import "strings"

// =============================================================================
// PRESET PLANS
// =============================================================================
//
// Plan shapes seen in most brokerages. Scenarios and tests build on these
// rather than spelling out every field.

// StandardCappedPlan is a split plan that goes to 100% once the agent has
// paid capAmount in brokerage dollars within a calendar year.
func StandardCappedPlan(id, name string, split, capAmount float64) PlanJSON {
	hundred := 100.0
	return PlanJSON{
		ID:              id,
		Name:            name,
		SplitPercentage: split,
		CapAmount:       capAmount,
		PostCapSplit:    &hundred,
		CapPeriod:       "calendar_year",
	}
}

// FranchisePlan is StandardCappedPlan plus a franchise royalty.
func FranchisePlan(id, name string, split, capAmount, royalty, royaltyCap float64) PlanJSON {
	p := StandardCappedPlan(id, name, split, capAmount)
	p.RoyaltyPercentage = royalty
	p.RoyaltyCap = royaltyCap
	return p
}

// UncappedPlan keeps the same split all year.
func UncappedPlan(id, name string, split float64) PlanJSON {
	return PlanJSON{
		ID:              id,
		Name:            name,
		SplitPercentage: split,
		CapPeriod:       "none",
	}
}

// TeamPlan builds a team taking teamSplit percent off the top of its
// members' GCI share.
func TeamPlan(id, name, lead string, teamSplit float64) TeamJSON {
	return TeamJSON{
		ID:                  id,
		Name:                name,
		LeadAgent:           lead,
		TeamSplitPercentage: teamSplit,
		SplitOrder:          "before_brokerage",
	}
}

// Assign builds an assignment row.
func Assign(agent, planID, teamID string) AssignmentJSON {
	return AssignmentJSON{AgentName: strings.TrimSpace(agent), PlanID: planID, TeamID: teamID}
}
