/*
calculator.go - Chronological commission calculation

PURPOSE:
  Walks transactions in closing-date order and, for every (record, agent)
  pair, splits the agent's GCI between team, brokerage and agent while
  tracking each agent's running company dollar against their cap.

THE ALGORITHM:
  1. Order records: closing date, then LoopID, then input order. Records
     without a parseable closing date go last, in input order.
  2. Divide GCI and recorded company dollar equally over max(1, n) agents.
  3. Resolve the agent's plan and team. No assignment is not an error: the
     breakdown carries zero brokerage and a note.
  4. Team cut comes off the top (or off the net, per team SplitOrder).
  5. Cap math against the agent's running YTD:

       remaining = max(0, cap - ytd)          cap == 0 means uncapped
       potential = gci × (100 - split) / 100

       ytd >= cap           → brokerage = gci × (100 - postCap) / 100
       potential ≤ remaining → brokerage = potential
       otherwise            → brokerage = remaining + (potential - remaining) × (100 - postCap) / 100

  6. ytd += brokerage, and emit the breakdown.

ACCUMULATOR:
  Running YTD lives in an accumulator created inside Calculate and threaded
  through the fold. Nothing survives the call, so concurrent calculations
  over different data never interfere and identical inputs give identical
  output.

CAP PERIODS:
  When a plan resets its cap (calendar, fiscal or anniversary year) and a
  record falls outside the agent's current period, YTD, capped state and
  royalty totals start over.

SEE ALSO:
  - audit.go: reuses Calculate, never a copy of it
  - generic/period.go: period boundaries
*/
package commission

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/warp/commission-engine/generic"
)

// =============================================================================
// OPTIONS AND RESULT
// =============================================================================

// Options narrows the records a pass considers.
type Options struct {
	// Period keeps records whose closing date falls inside it. Unbounded keeps all.
	// Records without a parseable closing date are dropped when Period is set.
	Period generic.Period

	// ClosedOnly keeps records whose status classifies as closed.
	ClosedOnly bool
}

type Result struct {
	Breakdowns []Breakdown
	AgentYTD   []AgentYTD // Sorted by agent name; resolved agents only
}

// YTDFor returns the final cap position of an agent.
func (r *Result) YTDFor(agentName string) (AgentYTD, bool) {
	key := NormalizeAgent(agentName)
	for _, y := range r.AgentYTD {
		if NormalizeAgent(y.AgentName) == key {
			return y, true
		}
	}
	return AgentYTD{}, false
}

// Totals aggregates a result for summary tables.
type Totals struct {
	GrossCommissionIncome decimal.Decimal
	TeamSplits            decimal.Decimal
	CompanyDollar         decimal.Decimal
	AgentNet              decimal.Decimal
	Royalties             decimal.Decimal
	AgentTakeHome         decimal.Decimal
	Unassigned            int // Breakdowns without a resolved plan
}

func (r *Result) Totals() Totals {
	t := Totals{
		GrossCommissionIncome: decimal.Zero,
		TeamSplits:            decimal.Zero,
		CompanyDollar:         decimal.Zero,
		AgentNet:              decimal.Zero,
		Royalties:             decimal.Zero,
		AgentTakeHome:         decimal.Zero,
	}
	for _, b := range r.Breakdowns {
		t.GrossCommissionIncome = t.GrossCommissionIncome.Add(b.GrossCommissionIncome)
		t.TeamSplits = t.TeamSplits.Add(b.TeamSplitAmount)
		t.CompanyDollar = t.CompanyDollar.Add(b.BrokerageSplitAmount)
		t.AgentNet = t.AgentNet.Add(b.AgentNetCommission)
		t.Royalties = t.Royalties.Add(b.RoyaltyFee)
		t.AgentTakeHome = t.AgentTakeHome.Add(b.AgentTakeHome)
		if b.SplitType == SplitNone {
			t.Unassigned++
		}
	}
	return t
}

// =============================================================================
// CALCULATOR - Store-backed entry point
// =============================================================================

// Calculator snapshots configuration from a store and runs Calculate.
type Calculator struct {
	Store ConfigStore
}

func (c *Calculator) Run(ctx context.Context, records []Record, opts Options) (*Result, error) {
	if c.Store == nil {
		return nil, generic.ErrStoreRequired
	}
	snap, err := c.Store.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot config: %w", err)
	}
	return Calculate(records, snap, opts)
}

// =============================================================================
// CALCULATE - The fold
// =============================================================================

// Calculate produces one breakdown per (record, agent) pair and the final
// AgentYTD per resolved agent. It errors only when the snapshot references a
// plan or team that does not exist.
func Calculate(records []Record, snap ConfigSnapshot, opts Options) (*Result, error) {
	acc := newAccumulator()
	for _, e := range orderRecords(filterRecords(records, opts)) {
		if err := acc.apply(e, snap); err != nil {
			return nil, fmt.Errorf("loop %s: %w", e.record.LoopID, err)
		}
	}
	return &Result{Breakdowns: acc.breakdowns, AgentYTD: acc.snapshot()}, nil
}

type orderedRecord struct {
	record Record
	index  int
	date   generic.TimePoint
	dated  bool
}

func filterRecords(records []Record, opts Options) []Record {
	if !opts.ClosedOnly && opts.Period.IsUnbounded() {
		return records
	}
	out := make([]Record, 0, len(records))
	for _, r := range records {
		if opts.ClosedOnly && r.Status() != generic.StatusClosed {
			continue
		}
		if !opts.Period.IsUnbounded() {
			d, ok := r.Closing()
			if !ok || !opts.Period.Contains(d) {
				continue
			}
		}
		out = append(out, r)
	}
	return out
}

// orderRecords sorts dated records by (closing date, LoopID, input order) and
// appends undated ones in input order.
func orderRecords(records []Record) []orderedRecord {
	dated := make([]orderedRecord, 0, len(records))
	var undated []orderedRecord
	for i, r := range records {
		d, ok := r.Closing()
		e := orderedRecord{record: r, index: i, date: d, dated: ok}
		if ok {
			dated = append(dated, e)
		} else {
			undated = append(undated, e)
		}
	}
	sort.SliceStable(dated, func(i, j int) bool {
		a, b := dated[i], dated[j]
		if !a.date.Equal(b.date) {
			return a.date.Before(b.date)
		}
		if a.record.LoopID != b.record.LoopID {
			return a.record.LoopID < b.record.LoopID
		}
		return a.index < b.index
	})
	return append(dated, undated...)
}

// =============================================================================
// ACCUMULATOR - Per-call running state
// =============================================================================

type agentState struct {
	name       string
	planName   string
	teamName   string
	cap        decimal.Decimal
	period     generic.Period
	ytd        decimal.Decimal
	capped     bool
	royaltyYTD decimal.Decimal
	count      int
}

type accumulator struct {
	agents     map[string]*agentState
	breakdowns []Breakdown
}

func newAccumulator() *accumulator {
	return &accumulator{agents: make(map[string]*agentState)}
}

func (acc *accumulator) apply(e orderedRecord, snap ConfigSnapshot) error {
	rec := e.record
	names := rec.AgentNames()
	n := generic.MaxCount(len(names))
	share := rec.CommissionTotal.Div(n)
	actualShare := rec.CompanyDollar.Div(n)

	var recordNotes []string
	if !e.dated {
		recordNotes = append(recordNotes, NoteInvalidDate)
	}

	if len(names) == 0 {
		acc.breakdowns = append(acc.breakdowns, unresolvedBreakdown(e, UnassignedAgent, share, actualShare,
			append(recordNotes, NoteNoAgents)))
		return nil
	}

	for _, name := range names {
		res, ok, err := snap.Resolve(name)
		if err != nil {
			return err
		}
		notes := append([]string(nil), recordNotes...)
		if !ok {
			acc.breakdowns = append(acc.breakdowns, unresolvedBreakdown(e, name, share, actualShare,
				append(notes, NoteNoPlan)))
			continue
		}
		acc.breakdowns = append(acc.breakdowns, acc.split(e, name, res, share, actualShare, notes))
	}
	return nil
}

func unresolvedBreakdown(e orderedRecord, name string, share, actualShare decimal.Decimal, notes []string) Breakdown {
	return Breakdown{
		LoopID:                e.record.LoopID,
		LoopName:              e.record.LoopName,
		AgentName:             name,
		ClosingDate:           e.date,
		AgentShare:            share,
		TeamSplitAmount:       decimal.Zero,
		GrossCommissionIncome: share,
		BrokerageSplitAmount:  decimal.Zero,
		AgentNetCommission:    share,
		RoyaltyFee:            decimal.Zero,
		AgentTakeHome:         share,
		YTDAfterTransaction:   decimal.Zero,
		SplitType:             SplitNone,
		ActualCompanyDollar:   actualShare,
		Notes:                 notes,
	}
}

// state returns the agent's running state, resetting it when the record
// falls outside the current cap period.
func (acc *accumulator) state(res Resolution, date generic.TimePoint, dated bool) (*agentState, bool) {
	key := NormalizeAgent(res.Assignment.AgentName)
	st, seen := acc.agents[key]
	if !seen {
		st = &agentState{
			name:       res.Assignment.AgentName,
			ytd:        decimal.Zero,
			royaltyYTD: decimal.Zero,
		}
		acc.agents[key] = st
	}
	st.planName = res.Plan.Name
	st.cap = res.Plan.CapAmount
	if res.Team != nil {
		st.teamName = res.Team.Name
	}
	if !dated {
		return st, false
	}

	period := res.Plan.PeriodConfig(res.Assignment.AnniversaryDate).PeriodFor(date)
	reset := false
	if seen && st.count > 0 && !st.period.Contains(date) {
		st.ytd = decimal.Zero
		st.capped = false
		st.royaltyYTD = decimal.Zero
		reset = true
	}
	if !seen || reset || st.period.IsUnbounded() {
		st.period = period
	}
	return st, reset
}

func (acc *accumulator) split(e orderedRecord, name string, res Resolution, share, actualShare decimal.Decimal, notes []string) Breakdown {
	plan := res.Plan
	st, reset := acc.state(res, e.date, e.dated)
	if reset {
		notes = append(notes, NoteCapPeriodReset)
	}
	st.count++

	b := Breakdown{
		LoopID:              e.record.LoopID,
		LoopName:            e.record.LoopName,
		AgentName:           name,
		ClosingDate:         e.date,
		AgentShare:          share,
		TeamSplitAmount:     decimal.Zero,
		RoyaltyFee:          decimal.Zero,
		PlanName:            plan.Name,
		ActualCompanyDollar: actualShare,
	}
	if res.Team != nil {
		b.TeamName = res.Team.Name
	}

	if share.IsNegative() {
		b.GrossCommissionIncome = share
		b.BrokerageSplitAmount = decimal.Zero
		b.AgentNetCommission = share
		b.AgentTakeHome = share
		b.YTDAfterTransaction = st.ytd
		b.SplitType = SplitPreCap
		if st.capped {
			b.SplitType = SplitPostCap
		}
		b.Notes = append(notes, NoteNegativeGCI)
		return b
	}

	// Team deduction off the top.
	gci := share
	teamBefore := res.Team != nil && res.Team.Order() == TeamBeforeBrokerage
	if teamBefore {
		b.TeamSplitAmount = generic.PercentOf(share, res.Team.TeamSplitPercentage)
		gci = share.Sub(b.TeamSplitAmount)
	}

	var brokerage decimal.Decimal
	switch {
	case !plan.IsCapped():
		brokerage = generic.PercentOf(gci, generic.Complement(plan.SplitPercentage))
		b.SplitType = SplitPreCap

	case st.ytd.GreaterThanOrEqual(plan.CapAmount):
		brokerage = generic.PercentOf(gci, generic.Complement(plan.PostCapSplit))
		b.SplitType = SplitPostCap

	default:
		remaining := decimal.Max(decimal.Zero, plan.CapAmount.Sub(st.ytd))
		potential := generic.PercentOf(gci, generic.Complement(plan.SplitPercentage))
		if potential.LessThanOrEqual(remaining) {
			brokerage = potential
			b.SplitType = SplitPreCap
		} else {
			excess := potential.Sub(remaining)
			brokerage = remaining.Add(generic.PercentOf(excess, generic.Complement(plan.PostCapSplit)))
			b.SplitType = SplitCrossed
		}
	}

	wasCapped := st.capped
	st.ytd = st.ytd.Add(brokerage)
	st.capped = plan.IsCapped() && st.ytd.GreaterThanOrEqual(plan.CapAmount)
	if st.capped && !wasCapped && b.SplitType != SplitPostCap {
		b.HitCap = true
		notes = append(notes, NoteHitCap)
	}

	b.GrossCommissionIncome = gci
	b.BrokerageSplitAmount = brokerage
	b.AgentNetCommission = gci.Sub(brokerage)
	b.YTDAfterTransaction = st.ytd

	// Royalty is informational: it reduces take-home, not company dollar.
	if plan.RoyaltyPercentage.IsPositive() && gci.IsPositive() {
		fee := generic.PercentOf(gci, plan.RoyaltyPercentage)
		if plan.RoyaltyCap.IsPositive() {
			room := decimal.Max(decimal.Zero, plan.RoyaltyCap.Sub(st.royaltyYTD))
			if fee.GreaterThanOrEqual(room) {
				fee = room
				notes = append(notes, NoteRoyaltyCapReached)
			}
		}
		st.royaltyYTD = st.royaltyYTD.Add(fee)
		b.RoyaltyFee = fee
	}

	b.AgentTakeHome = b.AgentNetCommission.Sub(b.RoyaltyFee)
	if res.Team != nil && !teamBefore {
		b.TeamSplitAmount = generic.PercentOf(b.AgentNetCommission, res.Team.TeamSplitPercentage)
		b.AgentTakeHome = b.AgentTakeHome.Sub(b.TeamSplitAmount)
	}

	b.Notes = notes
	return b
}

// snapshot renders the final per-agent state, sorted by agent name.
func (acc *accumulator) snapshot() []AgentYTD {
	out := make([]AgentYTD, 0, len(acc.agents))
	for _, st := range acc.agents {
		y := AgentYTD{
			AgentName:        st.name,
			YTDCompanyDollar: st.ytd,
			CapAmount:        st.cap,
			PercentToCap:     decimal.Zero,
			IsCapped:         st.capped,
			PlanName:         st.planName,
			TeamName:         st.teamName,
			Period:           st.period,
			YTDRoyalty:       st.royaltyYTD,
			Transactions:     st.count,
		}
		if st.cap.IsPositive() {
			pct := st.ytd.Div(st.cap).Mul(generic.Hundred)
			y.PercentToCap = generic.Clamp(pct, decimal.Zero, generic.Hundred)
		}
		out = append(out, y)
	}
	sort.Slice(out, func(i, j int) bool {
		return NormalizeAgent(out[i].AgentName) < NormalizeAgent(out[j].AgentName)
	})
	return out
}
