package generic

import "time"

// =============================================================================
// PERIOD - The window a cap accumulates over
// =============================================================================

// Period is the time boundary for a running year-to-date total.
// YTD company dollar resets when a record falls into a new period.
//
// Examples:
//   - Calendar year 2025: Jan 1 - Dec 31
//   - Fiscal year 2025: Apr 1 - Mar 31
//   - Anniversary year: agent start date + 1 year
//   - Unbounded: the whole calculation pass is one period
type Period struct {
	Start TimePoint
	End   TimePoint
}

// Contains returns true if the time point is within the period [Start, End].
// An unbounded period contains everything.
func (p Period) Contains(t TimePoint) bool {
	if p.IsUnbounded() {
		return true
	}
	return t.AfterOrEqual(p.Start) && t.BeforeOrEqual(p.End)
}

// IsUnbounded reports whether the period has no dates.
func (p Period) IsUnbounded() bool {
	return p.Start.IsZero() && p.End.IsZero()
}

// Validate rejects periods that end before they start.
func (p Period) Validate() error {
	if !p.Start.IsZero() && !p.End.IsZero() && p.End.Before(p.Start) {
		return ErrInvalidPeriod
	}
	return nil
}

// String returns a string representation of the period.
func (p Period) String() string {
	if p.IsUnbounded() {
		return "[unbounded]"
	}
	return "[" + p.Start.String() + ", " + p.End.String() + "]"
}

// PeriodType defines how cap periods are calculated
type PeriodType string

const (
	PeriodNone         PeriodType = ""              // Never resets within a pass
	PeriodCalendarYear PeriodType = "calendar_year" // Jan 1 - Dec 31
	PeriodFiscalYear   PeriodType = "fiscal_year"   // Custom start (e.g., Apr 1)
	PeriodAnniversary  PeriodType = "anniversary"   // Based on agent start date
)

// ParsePeriodType maps configuration strings to a PeriodType. Unknown values
// are reported with ok=false.
func ParsePeriodType(s string) (PeriodType, bool) {
	switch PeriodType(s) {
	case PeriodNone, "none":
		return PeriodNone, true
	case PeriodCalendarYear:
		return PeriodCalendarYear, true
	case PeriodFiscalYear:
		return PeriodFiscalYear, true
	case PeriodAnniversary:
		return PeriodAnniversary, true
	default:
		return PeriodNone, false
	}
}

// PeriodConfig defines how to calculate the cap period for an agent.
type PeriodConfig struct {
	Type PeriodType

	// For fiscal year: which month starts the fiscal year (1-12)
	FiscalYearStartMonth time.Month

	// For anniversary: the anchor date (agent start / anniversary date)
	AnchorDate *TimePoint
}

// =============================================================================
// PERIOD CALCULATOR - Determines which period a date falls into
// =============================================================================

// PeriodFor returns the period that contains the given date.
// A zero date, or PeriodNone, yields the unbounded period.
func (pc PeriodConfig) PeriodFor(date TimePoint) Period {
	if date.IsZero() {
		return Period{}
	}

	switch pc.Type {
	case PeriodNone:
		return Period{}

	case PeriodCalendarYear:
		return Period{
			Start: StartOfYear(date.Year()),
			End:   EndOfYear(date.Year()),
		}

	case PeriodFiscalYear:
		return pc.fiscalYearPeriod(date)

	case PeriodAnniversary:
		if pc.AnchorDate == nil || pc.AnchorDate.IsZero() {
			// Fallback to calendar year
			return Period{Start: StartOfYear(date.Year()), End: EndOfYear(date.Year())}
		}
		return pc.anniversaryPeriod(date)

	default:
		return Period{Start: StartOfYear(date.Year()), End: EndOfYear(date.Year())}
	}
}

func (pc PeriodConfig) fiscalYearPeriod(date TimePoint) Period {
	month := pc.FiscalYearStartMonth
	if month < time.January || month > time.December {
		month = time.January
	}

	year := date.Year()
	fiscalStart := NewTimePoint(year, month, 1)

	// If date is before fiscal year start, we're in previous fiscal year
	if date.Before(fiscalStart) {
		fiscalStart = NewTimePoint(year-1, month, 1)
	}

	fiscalEnd := fiscalStart.AddYears(1).AddDays(-1)
	return Period{Start: fiscalStart, End: fiscalEnd}
}

func (pc PeriodConfig) anniversaryPeriod(date TimePoint) Period {
	anchor := *pc.AnchorDate

	yearsElapsed := date.Year() - anchor.Year()
	anniversaryThisYear := NewTimePoint(anchor.Year()+yearsElapsed, anchor.Month(), anchor.Day())

	// If date is before this year's anniversary, we're in previous period
	if date.Before(anniversaryThisYear) {
		yearsElapsed--
		anniversaryThisYear = NewTimePoint(anchor.Year()+yearsElapsed, anchor.Month(), anchor.Day())
	}

	periodEnd := anniversaryThisYear.AddYears(1).AddDays(-1)
	return Period{Start: anniversaryThisYear, End: periodEnd}
}
