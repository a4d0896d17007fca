/*
Package variance raises alerts when audited company dollar drifts from what
the commission plans say, and keeps the set of flagged transactions.

ALERT LIFECYCLE:
  created ──► active ──► dismissed

  Dismissal is permanent for an alert. A different variance on the same
  transaction later creates a new alert; the dismissed one stays dismissed.

SEVERITY (|variance %| against the thresholds read at creation time):
  < minor             → no alert
  ≥ major             → critical
  otherwise           → warning

  Editing thresholds affects alerts created afterwards. Existing alerts are
  never reclassified.

SEE ALSO:
  - engine.go: CreateAlert, Dismiss, Summary, AlertsFromAudit
  - store.go: persistence contracts
*/
package variance

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/commission-engine/commission"
	"github.com/warp/commission-engine/generic"
)

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
)

// ParseSeverity accepts "critical" and "warning"; anything else is ok=false.
func ParseSeverity(s string) (Severity, bool) {
	switch Severity(s) {
	case SeverityCritical, SeverityWarning:
		return Severity(s), true
	}
	return "", false
}

type VarianceAlert struct {
	ID                 string
	LoopID             string
	AgentName          string
	TransactionName    string
	VarianceAmount     decimal.Decimal
	VariancePercentage decimal.Decimal
	Severity           Severity
	AutoFlagged        bool
	Dismissed          bool
	DismissedBy        string
	DismissedAt        *time.Time
	CreatedAt          time.Time
}

// AlertInput is what CreateAlert classifies.
type AlertInput struct {
	LoopID             string
	AgentName          string
	TransactionName    string
	VarianceAmount     decimal.Decimal
	VariancePercentage decimal.Decimal
}

// =============================================================================
// THRESHOLDS
// =============================================================================

type Thresholds struct {
	MajorVariancePercentage decimal.Decimal
	MinorVariancePercentage decimal.Decimal
	EnableAutoFlag          bool
	AutoFlagMajor           bool
	AutoFlagMinor           bool
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		MajorVariancePercentage: decimal.NewFromInt(5),
		MinorVariancePercentage: decimal.NewFromInt(2),
		EnableAutoFlag:          true,
		AutoFlagMajor:           true,
		AutoFlagMinor:           false,
	}
}

// Validate requires 0 ≤ minor ≤ major.
func (t Thresholds) Validate() error {
	v := &generic.ValidationError{Object: "thresholds", Kind: generic.ErrInvalidThresholds}
	if t.MinorVariancePercentage.IsNegative() {
		v.Add("minor_variance_percentage", "must not be negative")
	}
	if t.MajorVariancePercentage.IsNegative() {
		v.Add("major_variance_percentage", "must not be negative")
	}
	if t.MinorVariancePercentage.GreaterThan(t.MajorVariancePercentage) {
		v.Add("minor_variance_percentage", "must not exceed major_variance_percentage")
	}
	return v.OrNil()
}

// Classify maps a variance percentage to a severity. ok is false below the
// minor threshold. The sign of the percentage is ignored.
func (t Thresholds) Classify(pct decimal.Decimal) (Severity, bool) {
	p := pct.Abs()
	switch {
	case p.LessThan(t.MinorVariancePercentage):
		return "", false
	case p.GreaterThanOrEqual(t.MajorVariancePercentage):
		return SeverityCritical, true
	default:
		return SeverityWarning, true
	}
}

// ShouldFlag reports whether alerts of the severity auto-flag their transaction.
func (t Thresholds) ShouldFlag(s Severity) bool {
	if !t.EnableAutoFlag {
		return false
	}
	switch s {
	case SeverityCritical:
		return t.AutoFlagMajor
	case SeverityWarning:
		return t.AutoFlagMinor
	}
	return false
}

// =============================================================================
// QUERY TYPES
// =============================================================================

// Filter selects alerts. Empty fields match everything; dismissed alerts are
// excluded unless IncludeDismissed is set.
type Filter struct {
	LoopID           string
	AgentName        string
	Severity         Severity
	IncludeDismissed bool
}

// Matches applies the filter to one alert.
func (f Filter) Matches(a VarianceAlert) bool {
	if f.LoopID != "" && a.LoopID != f.LoopID {
		return false
	}
	if f.AgentName != "" && commission.NormalizeAgent(a.AgentName) != commission.NormalizeAgent(f.AgentName) {
		return false
	}
	if f.Severity != "" && a.Severity != f.Severity {
		return false
	}
	if a.Dismissed && !f.IncludeDismissed {
		return false
	}
	return true
}

// Summary counts active alerts by severity, plus dismissed alerts and
// flagged transactions.
type Summary struct {
	Total     int
	Critical  int
	Warning   int
	Dismissed int
	Flagged   int
}

// Flag is a transaction marked for review.
type Flag struct {
	LoopID    string
	AlertID   string // Alert that raised the flag
	FlaggedAt time.Time
}
