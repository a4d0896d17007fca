/*
scenarios.go - Demo brokerage scenarios for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the store with a realistic
	brokerage: commission plans, teams, agent assignments and a Dotloop-style
	transaction export. Each scenario demonstrates one part of the engine.

AVAILABLE SCENARIOS:

	brokerage-demo:    15 agents, ~350 loops (some co-agented), flat 20%
	                   company dollar recorded for everyone, so agents on
	                   other plans show variances
	capped-agent:      One top producer crossing the cap mid-year
	team-split:        A team with a lead and three mis-recorded company
	                   dollars
	pipeline-forecast: Closed history plus a deep under-contract pipeline

HOW SCENARIOS WORK:
 1. Reset operational data (records, audit runs, alerts, flags)
 2. Remove existing assignments and plans
 3. Apply the scenario's configuration document via factory
 4. Generate records deterministically (fixed seed, dates relative to today)
 5. Save records

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "team-split"}

ADDING NEW SCENARIOS:
 1. Add an entry to 'scenarios' with ID, name, description and builder
 2. The builder returns a configuration document and records

NOTE:

	Scenarios replace data. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Handler
  - factory/presets.go: Plan, team and assignment builders
*/
package api

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/warp/commission-engine/commission"
	"github.com/warp/commission-engine/factory"
	"github.com/warp/commission-engine/generic"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

type scenario struct {
	ScenarioDTO
	build func(g *demoGenerator) (*factory.ConfigDocument, []commission.Record)
}

var scenarios = []scenario{
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "brokerage-demo",
			Name:        "Brokerage Demo",
			Description: "15 agents on standard, franchise and uncapped plans with a year of loops; company dollar recorded at a flat 20%",
		},
		build: buildBrokerageDemo,
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "capped-agent",
			Name:        "Capped Agent",
			Description: "A top producer on an 80/20 plan with a $16,000 cap who caps mid-year",
		},
		build: buildCappedAgent,
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "team-split",
			Name:        "Team Split",
			Description: "A team lead and three members with a 25% team split and three mis-recorded company dollars",
		},
		build: buildTeamSplit,
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "pipeline-forecast",
			Name:        "Pipeline Forecast",
			Description: "A year of closed history and a deep under-contract pipeline for forecasting",
		},
		build: buildPipelineForecast,
	},
}

func findScenario(id string) (scenario, bool) {
	for _, s := range scenarios {
		if s.ID == id {
			return s, true
		}
	}
	return scenario{}, false
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	dtos := make([]ScenarioDTO, 0, len(scenarios))
	for _, s := range scenarios {
		dtos = append(dtos, s.ScenarioDTO)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	if s, ok := findScenario(current); ok {
		writeJSON(w, http.StatusOK, s.ScenarioDTO)
		return
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: current, Name: current})
}

// LoadScenario replaces configuration and records with a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	s, ok := findScenario(req.ScenarioID)
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	resp, err := h.loadScenario(r.Context(), s)
	if err != nil {
		h.fail(w, r, fmt.Sprintf("Failed to load scenario %s", s.ID), err)
		return
	}
	h.Logger.Info("scenario loaded", "scenario", s.ID, "records", resp.Records)
	writeJSON(w, http.StatusOK, resp)
}

// ResetData clears records, audit runs, alerts and flags.
func (h *Handler) ResetData(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Reset(r.Context()); err != nil {
		h.fail(w, r, "Failed to reset data", err)
		return
	}
	h.mu.Lock()
	h.currentScenario = ""
	h.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (h *Handler) loadScenario(ctx context.Context, s scenario) (*LoadScenarioResponse, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.currentScenario = ""

	if err := h.Store.Reset(ctx); err != nil {
		return nil, fmt.Errorf("reset: %w", err)
	}
	if err := h.clearConfig(ctx); err != nil {
		return nil, err
	}

	doc, records := s.build(newDemoGenerator(generic.FromTime(h.now())))
	applied, err := h.Factory.Apply(ctx, doc, h.Store)
	if err != nil {
		return nil, fmt.Errorf("apply config: %w", err)
	}
	if err := h.Store.SaveRecords(ctx, records); err != nil {
		return nil, fmt.Errorf("save records: %w", err)
	}

	h.currentScenario = s.ID
	return &LoadScenarioResponse{ScenarioID: s.ID, Config: applied, Records: len(records)}, nil
}

// clearConfig removes assignments, then plans. Teams are upserted by id and
// stay.
func (h *Handler) clearConfig(ctx context.Context) error {
	assignments, err := h.Store.ListAssignments(ctx)
	if err != nil {
		return fmt.Errorf("list assignments: %w", err)
	}
	for _, a := range assignments {
		if err := h.Store.DeleteAssignment(ctx, a.AgentName); err != nil {
			return fmt.Errorf("delete assignment %s: %w", a.AgentName, err)
		}
	}
	plans, err := h.Store.ListPlans(ctx)
	if err != nil {
		return fmt.Errorf("list plans: %w", err)
	}
	for _, p := range plans {
		if err := h.Store.DeletePlan(ctx, p.ID); err != nil {
			return fmt.Errorf("delete plan %s: %w", p.ID, err)
		}
	}
	return nil
}

// =============================================================================
// SCENARIO BUILDERS
// =============================================================================

var demoAgents = []string{
	"Sarah Miller", "James Wilson", "Emily Chen", "Michael Brown", "Jessica Davis",
	"David Martinez", "Jennifer Taylor", "Robert Anderson", "Lisa Thomas", "William Jackson",
	"Elizabeth White", "Christopher Harris", "Ashley Martin", "Matthew Thompson", "Amanda Garcia",
}

func buildBrokerageDemo(g *demoGenerator) (*factory.ConfigDocument, []commission.Record) {
	doc := &factory.ConfigDocument{
		Plans: []factory.PlanJSON{
			factory.StandardCappedPlan("standard-80-20", "Standard 80/20", 80, 16000),
			factory.FranchisePlan("franchise-70-30", "Franchise 70/30", 70, 20000, 6, 3000),
			factory.UncappedPlan("uncapped-90-10", "Uncapped 90/10", 90),
		},
	}
	for i, agent := range demoAgents {
		plan := "standard-80-20"
		switch i % 5 {
		case 3:
			plan = "franchise-70-30"
		case 4:
			plan = "uncapped-90-10"
		}
		doc.Assignments = append(doc.Assignments, factory.Assign(agent, plan, ""))
	}

	records := make([]commission.Record, 0, 351)
	for i := 0; i < 350; i++ {
		agents := g.pick(demoAgents)
		if i%10 == 0 {
			if other := g.pick(demoAgents); other != agents {
				agents += ", " + other
			}
		}
		records = append(records, g.record(agents, g.status()))
	}
	// One loop for an agent nobody assigned
	records = append(records, g.record("Walk-in Referral Agent", "Sold"))
	return doc, records
}

func buildCappedAgent(g *demoGenerator) (*factory.ConfigDocument, []commission.Record) {
	const agent = "Sarah Miller"
	doc := &factory.ConfigDocument{
		Plans:       []factory.PlanJSON{factory.StandardCappedPlan("standard-80-20", "Standard 80/20", 80, 16000)},
		Assignments: []factory.AssignmentJSON{factory.Assign(agent, "standard-80-20", "")},
	}

	// Twenty closings this year at high price points: 20% of 3% on ~$700k is
	// ~$4,200 per deal, so the cap is crossed around the fourth closing.
	year := g.today.Year()
	records := make([]commission.Record, 0, 20)
	for i := 0; i < 20; i++ {
		closing := generic.NewTimePoint(year, 1, 5).AddDays(i * 9)
		if closing.After(g.today) {
			closing = g.today.AddDays(-(20 - i))
		}
		rec := g.closedOn(agent, closing, decimal.NewFromInt(int64(600+g.rng.Intn(300))*1000-100))
		records = append(records, rec)
	}
	reconcile(doc, records)
	return doc, records
}

func buildTeamSplit(g *demoGenerator) (*factory.ConfigDocument, []commission.Record) {
	team := []string{"Jennifer Taylor", "Robert Anderson", "Lisa Thomas", "William Jackson"}
	doc := &factory.ConfigDocument{
		Plans: []factory.PlanJSON{
			factory.StandardCappedPlan("team-70-30", "Team 70/30", 70, 18000),
			factory.StandardCappedPlan("lead-85-15", "Team Lead 85/15", 85, 12000),
		},
		Teams: []factory.TeamJSON{factory.TeamPlan("taylor-team", "Taylor Team", team[0], 25)},
	}
	doc.Assignments = append(doc.Assignments, factory.Assign(team[0], "lead-85-15", ""))
	for _, agent := range team[1:] {
		doc.Assignments = append(doc.Assignments, factory.Assign(agent, "team-70-30", "taylor-team"))
	}

	records := make([]commission.Record, 0, 60)
	for i := 0; i < 60; i++ {
		records = append(records, g.record(g.pick(team), "Sold"))
	}
	reconcile(doc, records)

	// Mis-record three closed loops: one overpaid, one underpaid, one minor.
	adjust := []decimal.Decimal{decimal.NewFromInt(500), decimal.NewFromInt(-750), decimal.NewFromInt(-40)}
	for i, j := 0, 0; i < len(records) && j < len(adjust); i++ {
		if records[i].Status() == generic.StatusClosed && records[i].CompanyDollar.IsPositive() {
			records[i].CompanyDollar = records[i].CompanyDollar.Add(adjust[j])
			j++
		}
	}
	return doc, records
}

func buildPipelineForecast(g *demoGenerator) (*factory.ConfigDocument, []commission.Record) {
	doc := &factory.ConfigDocument{
		Plans: []factory.PlanJSON{factory.StandardCappedPlan("standard-80-20", "Standard 80/20", 80, 16000)},
	}
	for _, agent := range demoAgents[:6] {
		doc.Assignments = append(doc.Assignments, factory.Assign(agent, "standard-80-20", ""))
	}

	statuses := []string{"Sold", "Sold", "Sold", "Under Contract", "Under Contract", "Pending", "Archived", "Active Listings"}
	records := make([]commission.Record, 0, 120)
	for i := 0; i < 120; i++ {
		records = append(records, g.record(g.pick(demoAgents[:6]), statuses[i%len(statuses)]))
	}
	reconcile(doc, records)
	return doc, records
}

// reconcile sets each loop's recorded company dollar to what the plans
// produce, so the audit matches until a builder mis-records on purpose.
func reconcile(doc *factory.ConfigDocument, records []commission.Record) {
	plans := make([]commission.CommissionPlan, 0, len(doc.Plans))
	for _, p := range doc.Plans {
		plans = append(plans, p.ToPlan())
	}
	teams := make([]commission.Team, 0, len(doc.Teams))
	for _, t := range doc.Teams {
		teams = append(teams, t.ToTeam())
	}
	assignments := make([]commission.AgentAssignment, 0, len(doc.Assignments))
	for _, a := range doc.Assignments {
		assignments = append(assignments, a.ToAssignment())
	}

	res, err := commission.Calculate(records, commission.NewSnapshot(plans, teams, assignments), commission.Options{})
	if err != nil {
		return
	}
	expected := make(map[string]decimal.Decimal, len(records))
	for _, b := range res.Breakdowns {
		expected[b.LoopID] = expected[b.LoopID].Add(b.BrokerageSplitAmount)
	}
	for i := range records {
		if d, ok := expected[records[i].LoopID]; ok && records[i].CommissionTotal.IsPositive() {
			records[i].CompanyDollar = d.Round(2)
		}
	}
}

// =============================================================================
// DEMO RECORD GENERATOR
// =============================================================================

const demoSeed = 20250101

var (
	demoCities  = []string{"Atlanta", "Marietta", "Roswell", "Alpharetta", "Sandy Springs", "Decatur", "Smyrna", "Woodstock", "Kennesaw", "Lawrenceville"}
	demoStreets = []string{"Main St", "Oak Ave", "Maple Dr", "Pine Ln", "Cedar Blvd", "Elm St", "Washington Ave", "Park Pl", "Lakeview Dr", "Hillcrest Rd"}
	// Weighted towards Sold
	demoStatuses = []string{"Sold", "Sold", "Sold", "Sold", "Active Listings", "Active Listings", "Under Contract", "Under Contract", "Archived"}

	demoPriceRanges = []struct{ min, max int }{
		{350, 1500}, // Single family
		{200, 600},  // Condo
		{300, 750},  // Townhouse
		{450, 1200}, // Multi-family
		{50, 400},   // Land
	}

	sideRate       = decimal.RequireFromString("0.03")
	flatCompanyCut = decimal.RequireFromString("0.20")
)

// demoGenerator produces Dotloop-shaped records. The same seed and day give
// the same records.
type demoGenerator struct {
	rng    *rand.Rand
	today  generic.TimePoint
	nextID int
}

func newDemoGenerator(today generic.TimePoint) *demoGenerator {
	return &demoGenerator{
		rng:    rand.New(rand.NewSource(demoSeed)),
		today:  today,
		nextID: 300000000,
	}
}

func (g *demoGenerator) pick(values []string) string {
	return values[g.rng.Intn(len(values))]
}

func (g *demoGenerator) status() string {
	return g.pick(demoStatuses)
}

func (g *demoGenerator) between(lo, hi int) int {
	return lo + g.rng.Intn(hi-lo+1)
}

func (g *demoGenerator) price() decimal.Decimal {
	r := demoPriceRanges[g.rng.Intn(len(demoPriceRanges))]
	base := int64(g.between(r.min, r.max)) * 1000
	// Psychological pricing: 499,900 rather than 500,000
	if g.rng.Float64() < 0.7 {
		base -= 100
	}
	return decimal.NewFromInt(base)
}

func (g *demoGenerator) address() string {
	return fmt.Sprintf("%d %s, %s, GA 30000", g.between(100, 9999), g.pick(demoStreets), g.pick(demoCities))
}

// record generates one loop. Dates span the trailing year plus a quarter
// ahead. A Sold loop whose closing would fall after today is downgraded to
// Under Contract with a projected closing date.
func (g *demoGenerator) record(agents, status string) commission.Record {
	end := g.today.AddDays(90)
	start := end.AddDays(-450)
	listing := start.AddDays(g.rng.Intn(generic.DaysBetween(start, end.AddDays(-60)) + 1))

	rec := commission.Record{
		LoopID:      fmt.Sprintf("%d", g.nextID),
		LoopName:    g.address(),
		Agents:      agents,
		LoopStatus:  status,
		CreatedDate: listing.String(),
		Price:       g.price(),
	}
	g.nextID++

	switch status {
	case "Sold", "Under Contract", "Pending", "Archived":
		offer := listing.AddDays(g.between(5, 90))
		rec.ContractDate = offer.String()
		if status == "Archived" {
			break
		}
		closing := offer.AddDays(g.between(30, 60))
		if status == "Sold" && closing.After(g.today) {
			rec.LoopStatus = "Under Contract"
		}
		rec.ClosingDate = closing.String()
	}

	g.setCommission(&rec)
	return rec
}

// closedOn generates a Sold loop closing on the given day.
func (g *demoGenerator) closedOn(agents string, closing generic.TimePoint, price decimal.Decimal) commission.Record {
	rec := commission.Record{
		LoopID:       fmt.Sprintf("%d", g.nextID),
		LoopName:     g.address(),
		Agents:       agents,
		LoopStatus:   "Sold",
		CreatedDate:  closing.AddDays(-g.between(40, 120)).String(),
		ContractDate: closing.AddDays(-g.between(30, 39)).String(),
		ClosingDate:  closing.String(),
		Price:        price,
	}
	g.nextID++
	g.setCommission(&rec)
	return rec
}

// setCommission applies 3% per side, double-ended 15% of the time, and
// records the company dollar at a flat 20%. Only sold and pending loops
// carry commission.
func (g *demoGenerator) setCommission(rec *commission.Record) {
	sides := decimal.NewFromInt(1)
	if g.rng.Float64() < 0.15 {
		sides = decimal.NewFromInt(2)
	}
	switch generic.ClassifyStatus(rec.LoopStatus) {
	case generic.StatusClosed, generic.StatusPipeline:
	default:
		return
	}
	if strings.EqualFold(rec.LoopStatus, "Sold") {
		rec.SalePrice = rec.Price
	}
	rec.CommissionTotal = rec.Price.Mul(sideRate).Mul(sides).Round(2)
	rec.CompanyDollar = rec.CommissionTotal.Mul(flatCompanyCut).Round(2)
}
