/*
Package forecast projects pipeline revenue from historical closing behaviour.

KEY CONCEPTS IN THIS FILE (closing_rate.go):
  - Determinable record: its status maps to a known lifecycle category
  - Close rate: closed / determinable, as a whole percentage
  - Days to close: created → closing, over closed deals with sane spans

FLOW:
  records ──► EstimateClosingRate ──► ClosingRate ──┐
  records ──► Pipeline ─────────────────────────────┴──► Forecast ──► ProjectionMetrics

SEE ALSO:
  - forecaster.go: probability-weighted projection
  - generic/status.go: status categories
*/
package forecast

import (
	"github.com/shopspring/decimal"
	"github.com/warp/commission-engine/commission"
	"github.com/warp/commission-engine/generic"
)

// DefaultAverageDaysToClose is used when no closed deal has usable dates.
const DefaultAverageDaysToClose = 45

// maxDaysToClose excludes spans that are data errors rather than slow deals.
const maxDaysToClose = 365

// RateOptions restricts the history the rate is computed over.
type RateOptions struct {
	// WindowDays keeps records created within the trailing window ending at
	// AsOf (closing date when created is missing). Zero keeps everything.
	WindowDays int
	AsOf       generic.TimePoint // Defaults to today
}

type ClosingRate struct {
	HistoricalCloseRate int // Whole percent, 0-100
	ClosedCount         int
	DeterminateCount    int
	AverageDaysToClose  decimal.Decimal
	DaysToCloseSamples  int
}

// EstimateClosingRate computes close rate and average days to close.
// Unknown statuses are left out of both numerator and denominator.
func EstimateClosingRate(records []commission.Record, opts RateOptions) ClosingRate {
	asOf := opts.AsOf
	if asOf.IsZero() {
		asOf = generic.Today()
	}
	var window generic.Period
	if opts.WindowDays > 0 {
		window = generic.Period{Start: asOf.AddDays(-opts.WindowDays), End: asOf}
	}

	var rate ClosingRate
	totalDays := 0
	for _, r := range records {
		if !window.IsUnbounded() && !inWindow(r, window) {
			continue
		}
		status := r.Status()
		if !status.IsDeterminable() {
			continue
		}
		rate.DeterminateCount++
		if status != generic.StatusClosed {
			continue
		}
		rate.ClosedCount++

		created, okCreated := r.Created()
		closed, okClosed := r.Closing()
		if !okCreated || !okClosed {
			continue
		}
		if days := generic.DaysBetween(created, closed); days > 0 && days < maxDaysToClose {
			totalDays += days
			rate.DaysToCloseSamples++
		}
	}

	rate.HistoricalCloseRate = int(decimal.NewFromInt(int64(rate.ClosedCount)).
		Mul(generic.Hundred).
		Div(generic.MaxCount(rate.DeterminateCount)).
		Round(0).IntPart())

	rate.AverageDaysToClose = decimal.NewFromInt(DefaultAverageDaysToClose)
	if rate.DaysToCloseSamples > 0 {
		rate.AverageDaysToClose = decimal.NewFromInt(int64(totalDays)).
			Div(decimal.NewFromInt(int64(rate.DaysToCloseSamples))).Round(1)
	}
	return rate
}

func inWindow(r commission.Record, window generic.Period) bool {
	ref, ok := r.Created()
	if !ok {
		ref, ok = r.Closing()
	}
	return ok && window.Contains(ref)
}
