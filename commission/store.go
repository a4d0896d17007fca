/*
store.go - Persistence contracts for commission configuration and records

PURPOSE:
  Defines the interface between the commission core and whatever holds plans,
  teams, assignments and transaction records. The core never imports a
  storage technology; store/memory and store/sqlite implement these.

KEY INTERFACES:
  ConfigStore:   Plans, teams, assignments (validated at write time)
  RecordStore:   Already-parsed transaction records
  AuditRunStore: Summaries of past audit passes

SNAPSHOT CONTRACT:
  A calculation pass reads configuration once, via Snapshot(), and works on
  that immutable copy. Edits made while a pass is running are seen by the
  next pass, never half-way through one.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite
  - store/memory/memory.go: In-memory for tests and demos

SEE ALSO:
  - calculator.go: consumes ConfigSnapshot
*/
package commission

import (
	"context"
	"sort"
	"time"

	"github.com/warp/commission-engine/generic"
)

// =============================================================================
// CONFIG STORE
// =============================================================================

type ConfigStore interface {
	SavePlan(ctx context.Context, plan CommissionPlan) error
	GetPlan(ctx context.Context, id string) (*CommissionPlan, error)
	ListPlans(ctx context.Context) ([]CommissionPlan, error)
	// DeletePlan refuses while any assignment references the plan.
	DeletePlan(ctx context.Context, id string) error

	SaveTeam(ctx context.Context, team Team) error
	GetTeam(ctx context.Context, id string) (*Team, error)
	ListTeams(ctx context.Context) ([]Team, error)

	// SaveAssignment rejects unknown plan or team ids with a PlanReferenceError.
	SaveAssignment(ctx context.Context, a AgentAssignment) error
	GetAssignment(ctx context.Context, agentName string) (*AgentAssignment, error)
	ListAssignments(ctx context.Context) ([]AgentAssignment, error)
	DeleteAssignment(ctx context.Context, agentName string) error

	// Snapshot returns an immutable copy valid for one calculation pass.
	Snapshot(ctx context.Context) (ConfigSnapshot, error)
}

// RecordStore holds transaction records handed over by ingestion.
// SaveRecords upserts by LoopID.
type RecordStore interface {
	SaveRecords(ctx context.Context, records []Record) error
	ListRecords(ctx context.Context) ([]Record, error)
	DeleteRecords(ctx context.Context) error
}

// AuditRun is a persisted summary of one audit pass.
type AuditRun struct {
	ID           string
	RanAt        time.Time
	RecordCount  int
	Summary      AuditSummary
	PlanVersions map[string]int // Plan id → version seen by the pass
}

type AuditRunStore interface {
	SaveAuditRun(ctx context.Context, run AuditRun) error
	ListAuditRuns(ctx context.Context, limit int) ([]AuditRun, error)
}

// =============================================================================
// CONFIG SNAPSHOT
// =============================================================================

// ConfigSnapshot is a read-only view of configuration for one pass.
type ConfigSnapshot struct {
	plans       map[string]CommissionPlan
	teams       map[string]Team
	assignments map[string]AgentAssignment // Keyed by NormalizeAgent(name)
}

// NewSnapshot copies the given configuration into a snapshot.
// Later assignments for the same normalized agent name win.
func NewSnapshot(plans []CommissionPlan, teams []Team, assignments []AgentAssignment) ConfigSnapshot {
	s := ConfigSnapshot{
		plans:       make(map[string]CommissionPlan, len(plans)),
		teams:       make(map[string]Team, len(teams)),
		assignments: make(map[string]AgentAssignment, len(assignments)),
	}
	for _, p := range plans {
		s.plans[p.ID] = p
	}
	for _, t := range teams {
		s.teams[t.ID] = t
	}
	for _, a := range assignments {
		s.assignments[NormalizeAgent(a.AgentName)] = a
	}
	return s
}

// Resolution is what an agent's assignment points at.
type Resolution struct {
	Assignment AgentAssignment
	Plan       CommissionPlan
	Team       *Team
}

// Resolve returns the plan and team for an agent. ok is false when the agent
// has no assignment, which is a normal state. An error means the snapshot
// references ids that do not exist.
func (s ConfigSnapshot) Resolve(agentName string) (Resolution, bool, error) {
	a, ok := s.assignments[NormalizeAgent(agentName)]
	if !ok {
		return Resolution{}, false, nil
	}
	plan, ok := s.plans[a.PlanID]
	if !ok {
		return Resolution{}, false, &generic.PlanReferenceError{
			AgentName: a.AgentName, PlanID: a.PlanID, Missing: generic.ErrPlanNotFound,
		}
	}
	res := Resolution{Assignment: a, Plan: plan}
	if a.TeamID != "" {
		team, ok := s.teams[a.TeamID]
		if !ok {
			return Resolution{}, false, &generic.PlanReferenceError{
				AgentName: a.AgentName, TeamID: a.TeamID, Missing: generic.ErrTeamNotFound,
			}
		}
		res.Team = &team
	}
	return res, true, nil
}

// Plans returns the snapshot's plans sorted by id.
func (s ConfigSnapshot) Plans() []CommissionPlan {
	out := make([]CommissionPlan, 0, len(s.plans))
	for _, p := range s.plans {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// PlanVersions maps plan id to the version captured in the snapshot.
func (s ConfigSnapshot) PlanVersions() map[string]int {
	out := make(map[string]int, len(s.plans))
	for id, p := range s.plans {
		out[id] = p.Version
	}
	return out
}
