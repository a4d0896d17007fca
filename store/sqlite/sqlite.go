/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements every persistence contract of the engine using SQLite. The same
  schema works on PostgreSQL with minor dialect changes.

INTERFACES IMPLEMENTED:
  commission.ConfigStore:   Plans, teams, agent assignments
  commission.RecordStore:   Parsed transaction records
  commission.AuditRunStore: Audit pass summaries
  variance.Store:           Thresholds, alerts, flagged loops

KEY TABLES:
  plans:        Commission plans (version bumped on every save)
  teams:        Team splits
  assignments:  Agent → plan/team, keyed by normalized agent name
  records:      Transaction records, upserted by loop id
  audit_runs:   Summary of each audit pass
  settings:     JSON configuration blobs (variance thresholds)
  alerts:       Variance alerts
  flagged_loops: Transactions flagged for review

MONEY:
  Decimal values are stored as TEXT so they round-trip exactly.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. In production with PostgreSQL,
  database-level concurrency control handles this instead.

USAGE:
  store, err := sqlite.New("./data/commission.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - commission/store.go, variance/store.go: Interface definitions
  - store/memory/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/commission-engine/commission"
	"github.com/warp/commission-engine/generic"
	"github.com/warp/commission-engine/variance"
)

// Fixed-width UTC timestamps so TEXT ordering is chronological.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const dateLayout = "2006-01-02"

const thresholdsKey = "variance_thresholds"

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var (
	_ commission.ConfigStore   = (*Store)(nil)
	_ commission.RecordStore   = (*Store)(nil)
	_ commission.AuditRunStore = (*Store)(nil)
	_ variance.Store           = (*Store)(nil)
)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Commission plans
	CREATE TABLE IF NOT EXISTS plans (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		split_percentage TEXT NOT NULL,
		cap_amount TEXT NOT NULL,
		post_cap_split TEXT NOT NULL,
		royalty_percentage TEXT NOT NULL,
		royalty_cap TEXT NOT NULL,
		cap_period TEXT NOT NULL DEFAULT '',
		fiscal_year_start_month INTEGER NOT NULL DEFAULT 0,
		version INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Teams
	CREATE TABLE IF NOT EXISTS teams (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		lead_agent TEXT NOT NULL DEFAULT '',
		team_split_percentage TEXT NOT NULL,
		split_order TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	-- Agent assignments (one per normalized agent name)
	CREATE TABLE IF NOT EXISTS assignments (
		agent_key TEXT PRIMARY KEY,
		agent_name TEXT NOT NULL,
		plan_id TEXT NOT NULL REFERENCES plans(id),
		team_id TEXT REFERENCES teams(id),
		anniversary_date TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_assignments_plan
		ON assignments(plan_id);

	-- Transaction records handed over by ingestion
	CREATE TABLE IF NOT EXISTS records (
		loop_id TEXT PRIMARY KEY,
		seq INTEGER NOT NULL,
		loop_name TEXT NOT NULL DEFAULT '',
		agents TEXT NOT NULL DEFAULT '',
		loop_status TEXT NOT NULL DEFAULT '',
		created_date TEXT NOT NULL DEFAULT '',
		contract_date TEXT NOT NULL DEFAULT '',
		closing_date TEXT NOT NULL DEFAULT '',
		commission_total TEXT NOT NULL,
		company_dollar TEXT NOT NULL,
		price TEXT NOT NULL,
		sale_price TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_records_seq
		ON records(seq);

	-- Audit runs
	CREATE TABLE IF NOT EXISTS audit_runs (
		id TEXT PRIMARY KEY,
		ran_at TEXT NOT NULL,
		record_count INTEGER NOT NULL,
		summary_json TEXT NOT NULL,
		plan_versions_json TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_runs_ran_at
		ON audit_runs(ran_at DESC);

	-- JSON configuration blobs
	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value_json TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Variance alerts
	CREATE TABLE IF NOT EXISTS alerts (
		id TEXT PRIMARY KEY,
		loop_id TEXT NOT NULL,
		agent_name TEXT NOT NULL,
		agent_key TEXT NOT NULL,
		transaction_name TEXT NOT NULL DEFAULT '',
		variance_amount TEXT NOT NULL,
		variance_percentage TEXT NOT NULL,
		severity TEXT NOT NULL,
		auto_flagged BOOLEAN NOT NULL DEFAULT FALSE,
		dismissed BOOLEAN NOT NULL DEFAULT FALSE,
		dismissed_by TEXT NOT NULL DEFAULT '',
		dismissed_at TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_alerts_loop
		ON alerts(loop_id);
	CREATE INDEX IF NOT EXISTS idx_alerts_created
		ON alerts(created_at DESC);

	-- Flagged transactions (a set: one row per loop)
	CREATE TABLE IF NOT EXISTS flagged_loops (
		loop_id TEXT PRIMARY KEY,
		alert_id TEXT NOT NULL DEFAULT '',
		flagged_at TEXT NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// PLAN STORE
// =============================================================================

// SavePlan validates and upserts a plan, bumping its version.
func (s *Store) SavePlan(ctx context.Context, plan commission.CommissionPlan) error {
	if err := plan.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO plans (id, name, split_percentage, cap_amount, post_cap_split,
			royalty_percentage, royalty_cap, cap_period, fiscal_year_start_month,
			version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			split_percentage = excluded.split_percentage,
			cap_amount = excluded.cap_amount,
			post_cap_split = excluded.post_cap_split,
			royalty_percentage = excluded.royalty_percentage,
			royalty_cap = excluded.royalty_cap,
			cap_period = excluded.cap_period,
			fiscal_year_start_month = excluded.fiscal_year_start_month,
			version = plans.version + 1,
			updated_at = excluded.updated_at
	`

	now := time.Now().UTC().Format(timeLayout)
	_, err := s.db.ExecContext(ctx, query,
		plan.ID, plan.Name,
		plan.SplitPercentage.String(), plan.CapAmount.String(), plan.PostCapSplit.String(),
		plan.RoyaltyPercentage.String(), plan.RoyaltyCap.String(),
		string(plan.CapPeriod), int(plan.FiscalYearStartMonth),
		now, now,
	)
	return err
}

const planColumns = `id, name, split_percentage, cap_amount, post_cap_split,
	royalty_percentage, royalty_cap, cap_period, fiscal_year_start_month, version`

// GetPlan retrieves a plan by ID.
func (s *Store) GetPlan(ctx context.Context, id string) (*commission.CommissionPlan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, err := scanPlan(s.db.QueryRowContext(ctx, "SELECT "+planColumns+" FROM plans WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, generic.ErrPlanNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListPlans returns all plans ordered by id.
func (s *Store) ListPlans(ctx context.Context) ([]commission.CommissionPlan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listPlans(ctx)
}

func (s *Store) listPlans(ctx context.Context) ([]commission.CommissionPlan, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+planColumns+" FROM plans ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var plans []commission.CommissionPlan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		plans = append(plans, p)
	}
	return plans, rows.Err()
}

// DeletePlan removes a plan that no assignment references.
func (s *Store) DeletePlan(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var agent string
	err := s.db.QueryRowContext(ctx, "SELECT agent_name FROM assignments WHERE plan_id = ? LIMIT 1", id).Scan(&agent)
	if err == nil {
		v := &generic.ValidationError{Object: "plan", ID: id}
		v.Add("id", "still assigned to "+agent)
		return v
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	res, err := s.db.ExecContext(ctx, "DELETE FROM plans WHERE id = ?", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return generic.ErrPlanNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPlan(row rowScanner) (commission.CommissionPlan, error) {
	var p commission.CommissionPlan
	var split, capAmt, postCap, royalty, royaltyCap, capPeriod string
	var fyMonth int
	if err := row.Scan(&p.ID, &p.Name, &split, &capAmt, &postCap, &royalty, &royaltyCap,
		&capPeriod, &fyMonth, &p.Version); err != nil {
		return p, err
	}
	p.SplitPercentage = generic.MustParseDecimal(split)
	p.CapAmount = generic.MustParseDecimal(capAmt)
	p.PostCapSplit = generic.MustParseDecimal(postCap)
	p.RoyaltyPercentage = generic.MustParseDecimal(royalty)
	p.RoyaltyCap = generic.MustParseDecimal(royaltyCap)
	p.CapPeriod = generic.PeriodType(capPeriod)
	p.FiscalYearStartMonth = time.Month(fyMonth)
	return p, nil
}

// =============================================================================
// TEAM STORE
// =============================================================================

func (s *Store) SaveTeam(ctx context.Context, team commission.Team) error {
	if err := team.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO teams (id, name, lead_agent, team_split_percentage, split_order, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			lead_agent = excluded.lead_agent,
			team_split_percentage = excluded.team_split_percentage,
			split_order = excluded.split_order
	`
	_, err := s.db.ExecContext(ctx, query,
		team.ID, team.Name, team.LeadAgent, team.TeamSplitPercentage.String(), string(team.SplitOrder),
		time.Now().UTC().Format(timeLayout),
	)
	return err
}

const teamColumns = "id, name, lead_agent, team_split_percentage, split_order"

func (s *Store) GetTeam(ctx context.Context, id string) (*commission.Team, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, err := scanTeam(s.db.QueryRowContext(ctx, "SELECT "+teamColumns+" FROM teams WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, generic.ErrTeamNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Store) ListTeams(ctx context.Context) ([]commission.Team, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listTeams(ctx)
}

func (s *Store) listTeams(ctx context.Context) ([]commission.Team, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+teamColumns+" FROM teams ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var teams []commission.Team
	for rows.Next() {
		t, err := scanTeam(rows)
		if err != nil {
			return nil, err
		}
		teams = append(teams, t)
	}
	return teams, rows.Err()
}

func scanTeam(row rowScanner) (commission.Team, error) {
	var t commission.Team
	var pct, order string
	if err := row.Scan(&t.ID, &t.Name, &t.LeadAgent, &pct, &order); err != nil {
		return t, err
	}
	t.TeamSplitPercentage = generic.MustParseDecimal(pct)
	t.SplitOrder = commission.SplitOrder(order)
	return t, nil
}

// =============================================================================
// ASSIGNMENT STORE
// =============================================================================

// SaveAssignment upserts an agent's assignment after checking its references.
func (s *Store) SaveAssignment(ctx context.Context, a commission.AgentAssignment) error {
	if err := a.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if ok, err := s.exists(ctx, "SELECT 1 FROM plans WHERE id = ?", a.PlanID); err != nil {
		return err
	} else if !ok {
		return &generic.PlanReferenceError{AgentName: a.AgentName, PlanID: a.PlanID, Missing: generic.ErrPlanNotFound}
	}
	var teamID sql.NullString
	if a.TeamID != "" {
		if ok, err := s.exists(ctx, "SELECT 1 FROM teams WHERE id = ?", a.TeamID); err != nil {
			return err
		} else if !ok {
			return &generic.PlanReferenceError{AgentName: a.AgentName, TeamID: a.TeamID, Missing: generic.ErrTeamNotFound}
		}
		teamID = sql.NullString{String: a.TeamID, Valid: true}
	}
	var anniversary sql.NullString
	if a.AnniversaryDate != nil && !a.AnniversaryDate.IsZero() {
		anniversary = sql.NullString{String: a.AnniversaryDate.Time.Format(dateLayout), Valid: true}
	}

	query := `
		INSERT INTO assignments (agent_key, agent_name, plan_id, team_id, anniversary_date, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(agent_key) DO UPDATE SET
			agent_name = excluded.agent_name,
			plan_id = excluded.plan_id,
			team_id = excluded.team_id,
			anniversary_date = excluded.anniversary_date
	`
	_, err := s.db.ExecContext(ctx, query,
		commission.NormalizeAgent(a.AgentName), strings.TrimSpace(a.AgentName), a.PlanID, teamID, anniversary,
		time.Now().UTC().Format(timeLayout),
	)
	return err
}

func (s *Store) exists(ctx context.Context, query string, args ...any) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

const assignmentColumns = "agent_name, plan_id, team_id, anniversary_date"

func (s *Store) GetAssignment(ctx context.Context, agentName string) (*commission.AgentAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, err := scanAssignment(s.db.QueryRowContext(ctx,
		"SELECT "+assignmentColumns+" FROM assignments WHERE agent_key = ?", commission.NormalizeAgent(agentName)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, generic.ErrAssignmentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Store) ListAssignments(ctx context.Context) ([]commission.AgentAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listAssignments(ctx)
}

func (s *Store) listAssignments(ctx context.Context) ([]commission.AgentAssignment, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+assignmentColumns+" FROM assignments ORDER BY agent_key")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []commission.AgentAssignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanAssignment(row rowScanner) (commission.AgentAssignment, error) {
	var a commission.AgentAssignment
	var teamID, anniversary sql.NullString
	if err := row.Scan(&a.AgentName, &a.PlanID, &teamID, &anniversary); err != nil {
		return a, err
	}
	a.TeamID = teamID.String
	if anniversary.Valid {
		if tp, ok := generic.ParseDate(anniversary.String); ok {
			a.AnniversaryDate = &tp
		}
	}
	return a, nil
}

func (s *Store) DeleteAssignment(ctx context.Context, agentName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM assignments WHERE agent_key = ?", commission.NormalizeAgent(agentName))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return generic.ErrAssignmentNotFound
	}
	return nil
}

// Snapshot reads plans, teams and assignments under one read lock.
func (s *Store) Snapshot(ctx context.Context) (commission.ConfigSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	plans, err := s.listPlans(ctx)
	if err != nil {
		return commission.ConfigSnapshot{}, fmt.Errorf("list plans: %w", err)
	}
	teams, err := s.listTeams(ctx)
	if err != nil {
		return commission.ConfigSnapshot{}, fmt.Errorf("list teams: %w", err)
	}
	assignments, err := s.listAssignments(ctx)
	if err != nil {
		return commission.ConfigSnapshot{}, fmt.Errorf("list assignments: %w", err)
	}
	return commission.NewSnapshot(plans, teams, assignments), nil
}

// =============================================================================
// RECORD STORE
// =============================================================================

// SaveRecords upserts records by loop id in one transaction. New loops are
// appended after existing ones; updated loops keep their position.
func (s *Store) SaveRecords(ctx context.Context, records []commission.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var seq int64
	if err := tx.QueryRowContext(ctx, "SELECT COALESCE(MAX(seq), 0) FROM records").Scan(&seq); err != nil {
		return err
	}

	query := `
		INSERT INTO records (loop_id, seq, loop_name, agents, loop_status, created_date,
			contract_date, closing_date, commission_total, company_dollar, price, sale_price)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(loop_id) DO UPDATE SET
			loop_name = excluded.loop_name,
			agents = excluded.agents,
			loop_status = excluded.loop_status,
			created_date = excluded.created_date,
			contract_date = excluded.contract_date,
			closing_date = excluded.closing_date,
			commission_total = excluded.commission_total,
			company_dollar = excluded.company_dollar,
			price = excluded.price,
			sale_price = excluded.sale_price
	`
	for _, r := range records {
		seq++
		if _, err := tx.ExecContext(ctx, query,
			r.LoopID, seq, r.LoopName, r.Agents, r.LoopStatus, r.CreatedDate,
			r.ContractDate, r.ClosingDate,
			r.CommissionTotal.String(), r.CompanyDollar.String(), r.Price.String(), r.SalePrice.String(),
		); err != nil {
			return fmt.Errorf("save record %s: %w", r.LoopID, err)
		}
	}
	return tx.Commit()
}

func (s *Store) ListRecords(ctx context.Context) ([]commission.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT loop_id, loop_name, agents, loop_status, created_date, contract_date, closing_date,
			commission_total, company_dollar, price, sale_price
		FROM records ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []commission.Record
	for rows.Next() {
		var r commission.Record
		var gci, cd, price, sale string
		if err := rows.Scan(&r.LoopID, &r.LoopName, &r.Agents, &r.LoopStatus, &r.CreatedDate,
			&r.ContractDate, &r.ClosingDate, &gci, &cd, &price, &sale); err != nil {
			return nil, err
		}
		r.CommissionTotal = generic.MustParseDecimal(gci)
		r.CompanyDollar = generic.MustParseDecimal(cd)
		r.Price = generic.MustParseDecimal(price)
		r.SalePrice = generic.MustParseDecimal(sale)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) DeleteRecords(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, "DELETE FROM records")
	return err
}

// =============================================================================
// AUDIT RUN STORE
// =============================================================================

func (s *Store) SaveAuditRun(ctx context.Context, run commission.AuditRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	summaryJSON, err := json.Marshal(run.Summary)
	if err != nil {
		return err
	}
	versionsJSON, err := json.Marshal(run.PlanVersions)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO audit_runs (id, ran_at, record_count, summary_json, plan_versions_json) VALUES (?, ?, ?, ?, ?)",
		run.ID, run.RanAt.UTC().Format(timeLayout), run.RecordCount, string(summaryJSON), string(versionsJSON),
	)
	return err
}

// ListAuditRuns returns the most recent runs first. limit <= 0 returns all.
func (s *Store) ListAuditRuns(ctx context.Context, limit int) ([]commission.AuditRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT id, ran_at, record_count, summary_json, plan_versions_json FROM audit_runs ORDER BY ran_at DESC, id"
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []commission.AuditRun
	for rows.Next() {
		var run commission.AuditRun
		var ranAt, summaryJSON, versionsJSON string
		if err := rows.Scan(&run.ID, &ranAt, &run.RecordCount, &summaryJSON, &versionsJSON); err != nil {
			return nil, err
		}
		run.RanAt, _ = time.Parse(timeLayout, ranAt)
		if err := json.Unmarshal([]byte(summaryJSON), &run.Summary); err != nil {
			return nil, fmt.Errorf("decode audit run %s: %w", run.ID, err)
		}
		if err := json.Unmarshal([]byte(versionsJSON), &run.PlanVersions); err != nil {
			return nil, fmt.Errorf("decode audit run %s: %w", run.ID, err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// =============================================================================
// THRESHOLD STORE
// =============================================================================

// thresholdsJSON is the persisted shape of variance thresholds.
type thresholdsJSON struct {
	MajorVariancePercentage decimal.Decimal `json:"majorVariancePercentage"`
	MinorVariancePercentage decimal.Decimal `json:"minorVariancePercentage"`
	EnableAutoFlag          bool            `json:"enableAutoFlag"`
	AutoFlagMajor           bool            `json:"autoFlagMajor"`
	AutoFlagMinor           bool            `json:"autoFlagMinor"`
}

func (s *Store) GetThresholds(ctx context.Context) (variance.Thresholds, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var raw string
	err := s.db.QueryRowContext(ctx, "SELECT value_json FROM settings WHERE key = ?", thresholdsKey).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return variance.DefaultThresholds(), nil
	}
	if err != nil {
		return variance.Thresholds{}, err
	}

	var tj thresholdsJSON
	if err := json.Unmarshal([]byte(raw), &tj); err != nil {
		return variance.Thresholds{}, fmt.Errorf("decode thresholds: %w", err)
	}
	return variance.Thresholds(tj), nil
}

func (s *Store) SaveThresholds(ctx context.Context, t variance.Thresholds) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := json.Marshal(thresholdsJSON(t))
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value_json, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value_json = excluded.value_json,
			updated_at = excluded.updated_at`,
		thresholdsKey, string(raw), time.Now().UTC().Format(timeLayout),
	)
	return err
}

// =============================================================================
// ALERT STORE
// =============================================================================

func (s *Store) SaveAlert(ctx context.Context, a variance.VarianceAlert) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var dismissedAt sql.NullString
	if a.DismissedAt != nil {
		dismissedAt = sql.NullString{String: a.DismissedAt.UTC().Format(timeLayout), Valid: true}
	}

	query := `
		INSERT INTO alerts (id, loop_id, agent_name, agent_key, transaction_name, variance_amount,
			variance_percentage, severity, auto_flagged, dismissed, dismissed_by, dismissed_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			dismissed = excluded.dismissed,
			dismissed_by = excluded.dismissed_by,
			dismissed_at = excluded.dismissed_at
	`
	_, err := s.db.ExecContext(ctx, query,
		a.ID, a.LoopID, a.AgentName, commission.NormalizeAgent(a.AgentName), a.TransactionName,
		a.VarianceAmount.String(), a.VariancePercentage.String(), string(a.Severity),
		a.AutoFlagged, a.Dismissed, a.DismissedBy, dismissedAt,
		a.CreatedAt.UTC().Format(timeLayout),
	)
	return err
}

const alertColumns = `id, loop_id, agent_name, transaction_name, variance_amount, variance_percentage,
	severity, auto_flagged, dismissed, dismissed_by, dismissed_at, created_at`

func (s *Store) GetAlert(ctx context.Context, id string) (*variance.VarianceAlert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, err := scanAlert(s.db.QueryRowContext(ctx, "SELECT "+alertColumns+" FROM alerts WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, generic.ErrAlertNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Store) ListAlerts(ctx context.Context, f variance.Filter) ([]variance.VarianceAlert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var where []string
	var args []any
	if f.LoopID != "" {
		where = append(where, "loop_id = ?")
		args = append(args, f.LoopID)
	}
	if f.AgentName != "" {
		where = append(where, "agent_key = ?")
		args = append(args, commission.NormalizeAgent(f.AgentName))
	}
	if f.Severity != "" {
		where = append(where, "severity = ?")
		args = append(args, string(f.Severity))
	}
	if !f.IncludeDismissed {
		where = append(where, "dismissed = FALSE")
	}

	query := "SELECT " + alertColumns + " FROM alerts"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []variance.VarianceAlert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanAlert(row rowScanner) (variance.VarianceAlert, error) {
	var a variance.VarianceAlert
	var amount, pct, severity, createdAt string
	var dismissedAt sql.NullString
	if err := row.Scan(&a.ID, &a.LoopID, &a.AgentName, &a.TransactionName, &amount, &pct,
		&severity, &a.AutoFlagged, &a.Dismissed, &a.DismissedBy, &dismissedAt, &createdAt); err != nil {
		return a, err
	}
	a.VarianceAmount = generic.MustParseDecimal(amount)
	a.VariancePercentage = generic.MustParseDecimal(pct)
	a.Severity = variance.Severity(severity)
	a.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	if dismissedAt.Valid {
		t, _ := time.Parse(timeLayout, dismissedAt.String)
		a.DismissedAt = &t
	}
	return a, nil
}

// =============================================================================
// FLAG STORE
// =============================================================================

// FlagLoop inserts the loop into the flagged set; a second flag is a no-op.
func (s *Store) FlagLoop(ctx context.Context, f variance.Flag) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"INSERT INTO flagged_loops (loop_id, alert_id, flagged_at) VALUES (?, ?, ?) ON CONFLICT(loop_id) DO NOTHING",
		f.LoopID, f.AlertID, f.FlaggedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *Store) IsFlagged(ctx context.Context, loopID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.exists(ctx, "SELECT 1 FROM flagged_loops WHERE loop_id = ?", loopID)
}

func (s *Store) ListFlags(ctx context.Context) ([]variance.Flag, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT loop_id, alert_id, flagged_at FROM flagged_loops ORDER BY loop_id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []variance.Flag
	for rows.Next() {
		var f variance.Flag
		var at string
		if err := rows.Scan(&f.LoopID, &f.AlertID, &at); err != nil {
			return nil, err
		}
		f.FlaggedAt, _ = time.Parse(timeLayout, at)
		out = append(out, f)
	}
	return out, rows.Err()
}

// =============================================================================
// MAINTENANCE
// =============================================================================

// Reset clears records, audit runs, alerts and flags. Configuration stays.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, table := range []string{"records", "audit_runs", "alerts", "flagged_loops"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("reset %s: %w", table, err)
		}
	}
	return nil
}
