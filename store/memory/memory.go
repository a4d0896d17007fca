// Package memory provides in-memory store implementations for tests and demos.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/commission-engine/commission"
	"github.com/warp/commission-engine/generic"
	"github.com/warp/commission-engine/variance"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Store implements commission.ConfigStore, commission.RecordStore,
// commission.AuditRunStore and variance.Store.
type Store struct {
	mu sync.RWMutex

	plans       map[string]commission.CommissionPlan
	teams       map[string]commission.Team
	assignments map[string]commission.AgentAssignment // Keyed by normalized agent name

	records     map[string]commission.Record
	recordOrder []string

	auditRuns []commission.AuditRun

	thresholds *variance.Thresholds
	alerts     map[string]variance.VarianceAlert
	flags      map[string]variance.Flag
}

var (
	_ commission.ConfigStore   = (*Store)(nil)
	_ commission.RecordStore   = (*Store)(nil)
	_ commission.AuditRunStore = (*Store)(nil)
	_ variance.Store           = (*Store)(nil)
)

func New() *Store {
	return &Store{
		plans:       make(map[string]commission.CommissionPlan),
		teams:       make(map[string]commission.Team),
		assignments: make(map[string]commission.AgentAssignment),
		records:     make(map[string]commission.Record),
		alerts:      make(map[string]variance.VarianceAlert),
		flags:       make(map[string]variance.Flag),
	}
}

// =============================================================================
// PLANS
// =============================================================================

func (m *Store) SavePlan(_ context.Context, plan commission.CommissionPlan) error {
	if err := plan.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	plan.Version = m.plans[plan.ID].Version + 1
	m.plans[plan.ID] = plan
	return nil
}

func (m *Store) GetPlan(_ context.Context, id string) (*commission.CommissionPlan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.plans[id]
	if !ok {
		return nil, generic.ErrPlanNotFound
	}
	return &p, nil
}

func (m *Store) ListPlans(_ context.Context) ([]commission.CommissionPlan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]commission.CommissionPlan, 0, len(m.plans))
	for _, p := range m.plans {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Store) DeletePlan(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.plans[id]; !ok {
		return generic.ErrPlanNotFound
	}
	for _, a := range m.assignments {
		if a.PlanID == id {
			v := &generic.ValidationError{Object: "plan", ID: id}
			v.Add("id", "still assigned to "+a.AgentName)
			return v
		}
	}
	delete(m.plans, id)
	return nil
}

// =============================================================================
// TEAMS
// =============================================================================

func (m *Store) SaveTeam(_ context.Context, team commission.Team) error {
	if err := team.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.teams[team.ID] = team
	return nil
}

func (m *Store) GetTeam(_ context.Context, id string) (*commission.Team, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.teams[id]
	if !ok {
		return nil, generic.ErrTeamNotFound
	}
	return &t, nil
}

func (m *Store) ListTeams(_ context.Context) ([]commission.Team, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]commission.Team, 0, len(m.teams))
	for _, t := range m.teams {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// =============================================================================
// ASSIGNMENTS
// =============================================================================

func (m *Store) SaveAssignment(_ context.Context, a commission.AgentAssignment) error {
	if err := a.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.plans[a.PlanID]; !ok {
		return &generic.PlanReferenceError{AgentName: a.AgentName, PlanID: a.PlanID, Missing: generic.ErrPlanNotFound}
	}
	if a.TeamID != "" {
		if _, ok := m.teams[a.TeamID]; !ok {
			return &generic.PlanReferenceError{AgentName: a.AgentName, TeamID: a.TeamID, Missing: generic.ErrTeamNotFound}
		}
	}
	m.assignments[commission.NormalizeAgent(a.AgentName)] = a
	return nil
}

func (m *Store) GetAssignment(_ context.Context, agentName string) (*commission.AgentAssignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.assignments[commission.NormalizeAgent(agentName)]
	if !ok {
		return nil, generic.ErrAssignmentNotFound
	}
	return &a, nil
}

func (m *Store) ListAssignments(_ context.Context) ([]commission.AgentAssignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listAssignmentsLocked(), nil
}

func (m *Store) listAssignmentsLocked() []commission.AgentAssignment {
	out := make([]commission.AgentAssignment, 0, len(m.assignments))
	for _, a := range m.assignments {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		return commission.NormalizeAgent(out[i].AgentName) < commission.NormalizeAgent(out[j].AgentName)
	})
	return out
}

func (m *Store) DeleteAssignment(_ context.Context, agentName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := commission.NormalizeAgent(agentName)
	if _, ok := m.assignments[key]; !ok {
		return generic.ErrAssignmentNotFound
	}
	delete(m.assignments, key)
	return nil
}

// Snapshot copies the current configuration.
func (m *Store) Snapshot(_ context.Context) (commission.ConfigSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	plans := make([]commission.CommissionPlan, 0, len(m.plans))
	for _, p := range m.plans {
		plans = append(plans, p)
	}
	teams := make([]commission.Team, 0, len(m.teams))
	for _, t := range m.teams {
		teams = append(teams, t)
	}
	return commission.NewSnapshot(plans, teams, m.listAssignmentsLocked()), nil
}

// =============================================================================
// RECORDS
// =============================================================================

// SaveRecords upserts by LoopID, keeping first-insert order.
func (m *Store) SaveRecords(_ context.Context, records []commission.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		if _, ok := m.records[r.LoopID]; !ok {
			m.recordOrder = append(m.recordOrder, r.LoopID)
		}
		m.records[r.LoopID] = r
	}
	return nil
}

func (m *Store) ListRecords(_ context.Context) ([]commission.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]commission.Record, 0, len(m.recordOrder))
	for _, id := range m.recordOrder {
		out = append(out, m.records[id])
	}
	return out, nil
}

func (m *Store) DeleteRecords(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = make(map[string]commission.Record)
	m.recordOrder = nil
	return nil
}

// =============================================================================
// AUDIT RUNS
// =============================================================================

func (m *Store) SaveAuditRun(_ context.Context, run commission.AuditRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.auditRuns = append(m.auditRuns, run)
	return nil
}

// ListAuditRuns returns the most recent runs first. limit <= 0 returns all.
func (m *Store) ListAuditRuns(_ context.Context, limit int) ([]commission.AuditRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]commission.AuditRun, 0, len(m.auditRuns))
	for i := len(m.auditRuns) - 1; i >= 0; i-- {
		out = append(out, m.auditRuns[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// =============================================================================
// VARIANCE: THRESHOLDS, ALERTS, FLAGS
// =============================================================================

func (m *Store) GetThresholds(_ context.Context) (variance.Thresholds, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.thresholds == nil {
		return variance.DefaultThresholds(), nil
	}
	return *m.thresholds, nil
}

func (m *Store) SaveThresholds(_ context.Context, t variance.Thresholds) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.thresholds = &t
	return nil
}

func (m *Store) SaveAlert(_ context.Context, a variance.VarianceAlert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts[a.ID] = a
	return nil
}

func (m *Store) GetAlert(_ context.Context, id string) (*variance.VarianceAlert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.alerts[id]
	if !ok {
		return nil, generic.ErrAlertNotFound
	}
	return &a, nil
}

func (m *Store) ListAlerts(_ context.Context, f variance.Filter) ([]variance.VarianceAlert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []variance.VarianceAlert
	for _, a := range m.alerts {
		if f.Matches(a) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Store) FlagLoop(_ context.Context, f variance.Flag) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.flags[f.LoopID]; ok {
		return false, nil
	}
	m.flags[f.LoopID] = f
	return true, nil
}

func (m *Store) IsFlagged(_ context.Context, loopID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.flags[loopID]
	return ok, nil
}

func (m *Store) ListFlags(_ context.Context) ([]variance.Flag, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]variance.Flag, 0, len(m.flags))
	for _, f := range m.flags {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LoopID < out[j].LoopID })
	return out, nil
}

// Reset clears records, audit runs, alerts and flags. Configuration stays.
func (m *Store) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = make(map[string]commission.Record)
	m.recordOrder = nil
	m.auditRuns = nil
	m.alerts = make(map[string]variance.VarianceAlert)
	m.flags = make(map[string]variance.Flag)
	return nil
}
