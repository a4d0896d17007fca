/*
Package factory converts configuration documents into commission types.

PURPOSE:
  Brokers describe their plans, teams and agent assignments in a JSON or YAML
  document. The factory parses it, validates it field by field, and writes the
  result to a store. Nothing here runs at calculation time: configuration is
  checked once, on the way in.

DOCUMENT SCHEMA (YAML shown; JSON uses the same keys):
  plans:
    - id: standard
      name: Standard 80/20
      split_percentage: 80
      cap_amount: 16000
      post_cap_split: 100      # default 100
      royalty_percentage: 6
      royalty_cap: 3000
      cap_period: calendar_year  # none | calendar_year | fiscal_year | anniversary
  teams:
    - id: smith-team
      name: Smith Team
      lead_agent: Jane Smith
      team_split_percentage: 25
      split_order: before_brokerage  # or after_brokerage
  assignments:
    - agent_name: Alice Smith
      plan_id: standard
      team_id: smith-team
      anniversary_date: 2021-03-15
  thresholds:
    major_variance_percentage: 5
    minor_variance_percentage: 2
    enable_auto_flag: true

VALIDATION:
  Struct tags are checked with go-playground/validator. Cross-references
  (assignment → plan/team) are checked by the store while Apply writes, so
  an assignment may point at a plan saved earlier. Failures come back as a
  *generic.ValidationError so the API can answer 400.

USAGE:
  f := factory.New()
  doc, err := f.LoadFile("brokerage.yaml")
  result, err := f.Apply(ctx, doc, store)

SEE ALSO:
  - commission/plan.go: Target types and their Validate methods
  - factory/presets.go: Ready-made plans for demos and tests
*/
package factory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/warp/commission-engine/commission"
	"github.com/warp/commission-engine/generic"
	"github.com/warp/commission-engine/variance"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// DOCUMENT TYPES
// =============================================================================

// ConfigDocument is the top-level configuration document.
type ConfigDocument struct {
	Plans       []PlanJSON       `json:"plans,omitempty" yaml:"plans,omitempty" validate:"dive"`
	Teams       []TeamJSON       `json:"teams,omitempty" yaml:"teams,omitempty" validate:"dive"`
	Assignments []AssignmentJSON `json:"assignments,omitempty" yaml:"assignments,omitempty" validate:"dive"`
	Thresholds  *ThresholdsJSON  `json:"thresholds,omitempty" yaml:"thresholds,omitempty"`
}

// PlanJSON is the document representation of a commission plan.
type PlanJSON struct {
	ID                string   `json:"id" yaml:"id" validate:"required"`
	Name              string   `json:"name" yaml:"name" validate:"required"`
	SplitPercentage   float64  `json:"split_percentage" yaml:"split_percentage" validate:"gte=0,lte=100"`
	CapAmount         float64  `json:"cap_amount,omitempty" yaml:"cap_amount,omitempty" validate:"gte=0"`
	PostCapSplit      *float64 `json:"post_cap_split,omitempty" yaml:"post_cap_split,omitempty" validate:"omitempty,gte=0,lte=100"`
	RoyaltyPercentage float64  `json:"royalty_percentage,omitempty" yaml:"royalty_percentage,omitempty" validate:"gte=0,lte=100"`
	RoyaltyCap        float64  `json:"royalty_cap,omitempty" yaml:"royalty_cap,omitempty" validate:"gte=0"`
	CapPeriod         string   `json:"cap_period,omitempty" yaml:"cap_period,omitempty" validate:"omitempty,oneof=none calendar_year fiscal_year anniversary"`
	FiscalYearStart   int      `json:"fiscal_year_start,omitempty" yaml:"fiscal_year_start,omitempty" validate:"omitempty,min=1,max=12"`
}

// TeamJSON is the document representation of a team.
type TeamJSON struct {
	ID                  string  `json:"id" yaml:"id" validate:"required"`
	Name                string  `json:"name" yaml:"name" validate:"required"`
	LeadAgent           string  `json:"lead_agent,omitempty" yaml:"lead_agent,omitempty"`
	TeamSplitPercentage float64 `json:"team_split_percentage" yaml:"team_split_percentage" validate:"gte=0,lte=100"`
	SplitOrder          string  `json:"split_order,omitempty" yaml:"split_order,omitempty" validate:"omitempty,oneof=before_brokerage after_brokerage"`
}

// AssignmentJSON ties an agent to a plan and optionally a team.
type AssignmentJSON struct {
	AgentName       string `json:"agent_name" yaml:"agent_name" validate:"required"`
	PlanID          string `json:"plan_id" yaml:"plan_id" validate:"required"`
	TeamID          string `json:"team_id,omitempty" yaml:"team_id,omitempty"`
	AnniversaryDate string `json:"anniversary_date,omitempty" yaml:"anniversary_date,omitempty" validate:"omitempty,agentdate"`
}

// ThresholdsJSON overrides variance thresholds. Unset fields keep the
// defaults.
type ThresholdsJSON struct {
	MajorVariancePercentage *float64 `json:"major_variance_percentage,omitempty" yaml:"major_variance_percentage,omitempty" validate:"omitempty,gte=0"`
	MinorVariancePercentage *float64 `json:"minor_variance_percentage,omitempty" yaml:"minor_variance_percentage,omitempty" validate:"omitempty,gte=0"`
	EnableAutoFlag          *bool    `json:"enable_auto_flag,omitempty" yaml:"enable_auto_flag,omitempty"`
	AutoFlagMajor           *bool    `json:"auto_flag_major,omitempty" yaml:"auto_flag_major,omitempty"`
	AutoFlagMinor           *bool    `json:"auto_flag_minor,omitempty" yaml:"auto_flag_minor,omitempty"`
}

// Config is a validated document converted to domain types.
type Config struct {
	Plans       []commission.CommissionPlan
	Teams       []commission.Team
	Assignments []commission.AgentAssignment
	Thresholds  *variance.Thresholds
}

// Store is what Apply writes to.
type Store interface {
	commission.ConfigStore
	variance.ThresholdStore
}

// ApplyResult counts what Apply wrote.
type ApplyResult struct {
	Plans       int  `json:"plans"`
	Teams       int  `json:"teams"`
	Assignments int  `json:"assignments"`
	Thresholds  bool `json:"thresholds"`
}

// =============================================================================
// FACTORY
// =============================================================================

// Factory parses and validates configuration documents.
type Factory struct {
	validate *validator.Validate
}

func New() *Factory {
	v := validator.New()
	// Report fields by their document key rather than the Go field name.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	// Registration only fails on an empty tag name.
	if err := v.RegisterValidation("agentdate", func(fl validator.FieldLevel) bool {
		_, ok := generic.ParseDate(fl.Field().String())
		return ok
	}); err != nil {
		panic(fmt.Sprintf("factory: register agentdate validation: %v", err))
	}
	return &Factory{validate: v}
}

// Parse decodes a JSON or YAML document. A leading '{' selects JSON.
func (f *Factory) Parse(data []byte) (*ConfigDocument, error) {
	trimmed := bytes.TrimSpace(data)
	var doc ConfigDocument
	if len(trimmed) > 0 && trimmed[0] == '{' {
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&doc); err != nil {
			return nil, fmt.Errorf("%w: parse JSON: %v", generic.ErrInvalidConfig, err)
		}
	} else {
		dec := yaml.NewDecoder(bytes.NewReader(trimmed))
		dec.KnownFields(true)
		// An empty document decodes to an empty ConfigDocument.
		if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: parse YAML: %v", generic.ErrInvalidConfig, err)
		}
	}
	return &doc, nil
}

// LoadFile reads and parses a document from disk.
func (f *Factory) LoadFile(path string) (*ConfigDocument, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config document: %w", err)
	}
	return f.Parse(raw)
}

// Validate runs the struct tags and the document-local uniqueness checks.
func (f *Factory) Validate(doc *ConfigDocument) error {
	v := &generic.ValidationError{Object: "config document"}

	if err := f.validate.Struct(doc); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return err
		}
		for _, fe := range fieldErrs {
			v.Add(trimNamespace(fe.Namespace()), describe(fe))
		}
	}

	seen := make(map[string]bool)
	for i, p := range doc.Plans {
		if seen[p.ID] {
			v.Add(fmt.Sprintf("plans[%d].id", i), "duplicate plan id "+p.ID)
		}
		seen[p.ID] = true
	}
	seen = make(map[string]bool)
	for i, t := range doc.Teams {
		if seen[t.ID] {
			v.Add(fmt.Sprintf("teams[%d].id", i), "duplicate team id "+t.ID)
		}
		seen[t.ID] = true
	}
	seen = make(map[string]bool)
	for i, a := range doc.Assignments {
		key := commission.NormalizeAgent(a.AgentName)
		if key != "" && seen[key] {
			v.Add(fmt.Sprintf("assignments[%d].agent_name", i), "agent assigned twice: "+a.AgentName)
		}
		seen[key] = true
	}
	return v.OrNil()
}

func trimNamespace(ns string) string {
	return strings.TrimPrefix(ns, "ConfigDocument.")
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "required"
	case "gte":
		return "must be at least " + fe.Param()
	case "lte":
		return "must be at most " + fe.Param()
	case "min", "max":
		return "must be between 1 and 12"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "agentdate":
		return "not a recognised date"
	default:
		return "failed " + fe.Tag()
	}
}

// Build validates the document and converts it to domain types. Each result
// is also checked with the domain Validate methods.
func (f *Factory) Build(doc *ConfigDocument) (*Config, error) {
	if err := f.Validate(doc); err != nil {
		return nil, err
	}

	cfg := &Config{}
	for _, pj := range doc.Plans {
		p := pj.ToPlan()
		if err := p.Validate(); err != nil {
			return nil, err
		}
		cfg.Plans = append(cfg.Plans, p)
	}
	for _, tj := range doc.Teams {
		t := tj.ToTeam()
		if err := t.Validate(); err != nil {
			return nil, err
		}
		cfg.Teams = append(cfg.Teams, t)
	}
	for _, aj := range doc.Assignments {
		a := aj.ToAssignment()
		if err := a.Validate(); err != nil {
			return nil, err
		}
		cfg.Assignments = append(cfg.Assignments, a)
	}
	if doc.Thresholds != nil {
		th := doc.Thresholds.Merge(variance.DefaultThresholds())
		if err := th.Validate(); err != nil {
			return nil, err
		}
		cfg.Thresholds = &th
	}
	return cfg, nil
}

// Apply builds the document and writes it: plans, then teams, then
// assignments, then thresholds. The store re-checks references, so an
// assignment may point at a plan that only exists in the store.
func (f *Factory) Apply(ctx context.Context, doc *ConfigDocument, store Store) (ApplyResult, error) {
	var res ApplyResult
	cfg, err := f.Build(doc)
	if err != nil {
		return res, err
	}

	for _, p := range cfg.Plans {
		if err := store.SavePlan(ctx, p); err != nil {
			return res, fmt.Errorf("save plan %s: %w", p.ID, err)
		}
		res.Plans++
	}
	for _, t := range cfg.Teams {
		if err := store.SaveTeam(ctx, t); err != nil {
			return res, fmt.Errorf("save team %s: %w", t.ID, err)
		}
		res.Teams++
	}
	for _, a := range cfg.Assignments {
		if err := store.SaveAssignment(ctx, a); err != nil {
			return res, fmt.Errorf("save assignment %s: %w", a.AgentName, err)
		}
		res.Assignments++
	}
	if cfg.Thresholds != nil {
		if err := store.SaveThresholds(ctx, *cfg.Thresholds); err != nil {
			return res, fmt.Errorf("save thresholds: %w", err)
		}
		res.Thresholds = true
	}
	return res, nil
}

// Export reads the store's configuration back into a document.
func (f *Factory) Export(ctx context.Context, store Store) (*ConfigDocument, error) {
	snap, err := store.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	teams, err := store.ListTeams(ctx)
	if err != nil {
		return nil, err
	}
	assignments, err := store.ListAssignments(ctx)
	if err != nil {
		return nil, err
	}
	th, err := store.GetThresholds(ctx)
	if err != nil {
		return nil, err
	}

	doc := &ConfigDocument{Thresholds: ThresholdsToJSON(th)}
	for _, p := range snap.Plans() {
		doc.Plans = append(doc.Plans, PlanToJSON(p))
	}
	for _, t := range teams {
		doc.Teams = append(doc.Teams, TeamToJSON(t))
	}
	for _, a := range assignments {
		doc.Assignments = append(doc.Assignments, AssignmentToJSON(a))
	}
	return doc, nil
}

// MarshalYAML renders a document as YAML.
func MarshalYAML(doc *ConfigDocument) ([]byte, error) {
	return yaml.Marshal(doc)
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func (pj PlanJSON) ToPlan() commission.CommissionPlan {
	postCap := generic.Hundred
	if pj.PostCapSplit != nil {
		postCap = decimal.NewFromFloat(*pj.PostCapSplit)
	}
	period, _ := generic.ParsePeriodType(pj.CapPeriod)
	p := commission.CommissionPlan{
		ID:                pj.ID,
		Name:              pj.Name,
		SplitPercentage:   decimal.NewFromFloat(pj.SplitPercentage),
		CapAmount:         decimal.NewFromFloat(pj.CapAmount),
		PostCapSplit:      postCap,
		RoyaltyPercentage: decimal.NewFromFloat(pj.RoyaltyPercentage),
		RoyaltyCap:        decimal.NewFromFloat(pj.RoyaltyCap),
		CapPeriod:         period,
	}
	if period == generic.PeriodFiscalYear {
		p.FiscalYearStartMonth = time.January
		if pj.FiscalYearStart >= 1 && pj.FiscalYearStart <= 12 {
			p.FiscalYearStartMonth = time.Month(pj.FiscalYearStart)
		}
	}
	return p
}

func PlanToJSON(p commission.CommissionPlan) PlanJSON {
	postCap := generic.Float(p.PostCapSplit)
	return PlanJSON{
		ID:                p.ID,
		Name:              p.Name,
		SplitPercentage:   generic.Float(p.SplitPercentage),
		CapAmount:         generic.Float(p.CapAmount),
		PostCapSplit:      &postCap,
		RoyaltyPercentage: generic.Float(p.RoyaltyPercentage),
		RoyaltyCap:        generic.Float(p.RoyaltyCap),
		CapPeriod:         string(p.CapPeriod),
		FiscalYearStart:   int(p.FiscalYearStartMonth),
	}
}

func (tj TeamJSON) ToTeam() commission.Team {
	return commission.Team{
		ID:                  tj.ID,
		Name:                tj.Name,
		LeadAgent:           tj.LeadAgent,
		TeamSplitPercentage: decimal.NewFromFloat(tj.TeamSplitPercentage),
		SplitOrder:          commission.SplitOrder(tj.SplitOrder),
	}
}

func TeamToJSON(t commission.Team) TeamJSON {
	return TeamJSON{
		ID:                  t.ID,
		Name:                t.Name,
		LeadAgent:           t.LeadAgent,
		TeamSplitPercentage: generic.Float(t.TeamSplitPercentage),
		SplitOrder:          string(t.SplitOrder),
	}
}

func (aj AssignmentJSON) ToAssignment() commission.AgentAssignment {
	a := commission.AgentAssignment{
		AgentName: strings.TrimSpace(aj.AgentName),
		PlanID:    aj.PlanID,
		TeamID:    aj.TeamID,
	}
	if tp, ok := generic.ParseDate(aj.AnniversaryDate); ok {
		a.AnniversaryDate = &tp
	}
	return a
}

func AssignmentToJSON(a commission.AgentAssignment) AssignmentJSON {
	aj := AssignmentJSON{AgentName: a.AgentName, PlanID: a.PlanID, TeamID: a.TeamID}
	if a.AnniversaryDate != nil {
		aj.AnniversaryDate = a.AnniversaryDate.String()
	}
	return aj
}

// Merge overlays the set fields onto base.
func (tj ThresholdsJSON) Merge(base variance.Thresholds) variance.Thresholds {
	if tj.MajorVariancePercentage != nil {
		base.MajorVariancePercentage = decimal.NewFromFloat(*tj.MajorVariancePercentage)
	}
	if tj.MinorVariancePercentage != nil {
		base.MinorVariancePercentage = decimal.NewFromFloat(*tj.MinorVariancePercentage)
	}
	if tj.EnableAutoFlag != nil {
		base.EnableAutoFlag = *tj.EnableAutoFlag
	}
	if tj.AutoFlagMajor != nil {
		base.AutoFlagMajor = *tj.AutoFlagMajor
	}
	if tj.AutoFlagMinor != nil {
		base.AutoFlagMinor = *tj.AutoFlagMinor
	}
	return base
}

func ThresholdsToJSON(t variance.Thresholds) *ThresholdsJSON {
	major := generic.Float(t.MajorVariancePercentage)
	minor := generic.Float(t.MinorVariancePercentage)
	return &ThresholdsJSON{
		MajorVariancePercentage: &major,
		MinorVariancePercentage: &minor,
		EnableAutoFlag:          &t.EnableAutoFlag,
		AutoFlagMajor:           &t.AutoFlagMajor,
		AutoFlagMinor:           &t.AutoFlagMinor,
	}
}
