/*
forecaster.go - Probability-weighted pipeline projection

PURPOSE:
  Turns the deals currently under contract into projected closings, revenue
  and commission over a horizon (30/60/90 days), discounted by a caller-set
  fall-through rate.

THE MATH:
  For each pipeline deal i, w_i is the chance it closes inside the horizon:

    projected close d days out:  w = 1 if d ≤ horizon, else horizon / d
    no projected close date:     w = min(1, horizon / averageDaysToClose)

  timeWeighting          = mean(w_i)
  projectedClosedDeals   = round(n × rate/100 × timeWeighting)
  projectedRevenue       = Σ price_i × rate/100 × w_i
  projectedCommission    = projectedRevenue × commissionRate/100
  riskAdjusted*          = projected* × (1 - fallThrough/100), fallThrough ∈ [0, 50]
  confidenceLevel        = clamp(95 - horizon/3, 10, 95)

  Confidence is a reporting heuristic that shrinks with the horizon, not a
  statistical interval.

EDGE CASES:
  No pipeline deals: every projected figure is zero.
*/
package forecast

import (
	"github.com/shopspring/decimal"
	"github.com/warp/commission-engine/commission"
	"github.com/warp/commission-engine/generic"
)

const DefaultHorizonDays = 30

var (
	// DefaultCommissionRate is the GCI share of price assumed for projections.
	DefaultCommissionRate = decimal.NewFromInt(3)

	maxFallThrough = decimal.NewFromInt(50)
	maxConfidence  = decimal.NewFromInt(95)
	minConfidence  = decimal.NewFromInt(10)
)

type Input struct {
	// Records is the full transaction set. The pipeline is derived from it,
	// and so is the close rate unless Rate is set.
	Records []commission.Record
	Rate    *ClosingRate

	HorizonDays     int             // Defaults to DefaultHorizonDays
	FallThroughRate decimal.Decimal // Percent, clamped to [0, 50]
	CommissionRate  decimal.Decimal // Percent of price; zero means DefaultCommissionRate
	AsOf            generic.TimePoint
	RateOptions     RateOptions
}

type ProjectionMetrics struct {
	HorizonDays            int
	PipelineDeals          int
	BaselineCloseRate      int
	AverageDaysToClose     decimal.Decimal
	TimeWeighting          decimal.Decimal
	ProjectedClosedDeals   int
	ProjectedRevenue       decimal.Decimal
	ProjectedCommission    decimal.Decimal
	FallThroughRate        decimal.Decimal
	RiskAdjustedRevenue    decimal.Decimal
	RiskAdjustedCommission decimal.Decimal
	ConfidenceLevel        decimal.Decimal
	AverageDealPrice       decimal.Decimal
}

// Pipeline returns the deals that are under contract or pending.
func Pipeline(records []commission.Record) []commission.Record {
	var out []commission.Record
	for _, r := range records {
		if r.Status() == generic.StatusPipeline {
			out = append(out, r)
		}
	}
	return out
}

// ConfidenceLevel is the monotone-decreasing confidence heuristic.
func ConfidenceLevel(horizonDays int) decimal.Decimal {
	c := maxConfidence.Sub(decimal.NewFromInt(int64(horizonDays)).Div(decimal.NewFromInt(3)))
	return generic.Clamp(c, minConfidence, maxConfidence).Round(1)
}

// Forecast projects the pipeline over in.HorizonDays.
func Forecast(in Input) ProjectionMetrics {
	horizon := in.HorizonDays
	if horizon <= 0 {
		horizon = DefaultHorizonDays
	}
	asOf := in.AsOf
	if asOf.IsZero() {
		asOf = generic.Today()
	}
	commissionRate := in.CommissionRate
	if !commissionRate.IsPositive() {
		commissionRate = DefaultCommissionRate
	}
	fallThrough := generic.Clamp(in.FallThroughRate, decimal.Zero, maxFallThrough)

	rate := in.Rate
	if rate == nil {
		opts := in.RateOptions
		if opts.AsOf.IsZero() {
			opts.AsOf = asOf
		}
		r := EstimateClosingRate(in.Records, opts)
		rate = &r
	}

	pipeline := Pipeline(in.Records)
	m := ProjectionMetrics{
		HorizonDays:            horizon,
		PipelineDeals:          len(pipeline),
		BaselineCloseRate:      rate.HistoricalCloseRate,
		AverageDaysToClose:     rate.AverageDaysToClose,
		TimeWeighting:          decimal.Zero,
		ProjectedRevenue:       decimal.Zero,
		ProjectedCommission:    decimal.Zero,
		FallThroughRate:        fallThrough,
		RiskAdjustedRevenue:    decimal.Zero,
		RiskAdjustedCommission: decimal.Zero,
		ConfidenceLevel:        ConfidenceLevel(horizon),
		AverageDealPrice:       decimal.Zero,
	}
	if len(pipeline) == 0 {
		return m
	}

	closeProb := decimal.NewFromInt(int64(rate.HistoricalCloseRate)).Div(generic.Hundred)
	h := decimal.NewFromInt(int64(horizon))
	avgDays := rate.AverageDaysToClose
	if !avgDays.IsPositive() {
		avgDays = decimal.NewFromInt(DefaultAverageDaysToClose)
	}

	weightSum := decimal.Zero
	priceSum := decimal.Zero
	revenue := decimal.Zero
	for _, r := range pipeline {
		w := closingWeight(r, asOf, horizon, h, avgDays)
		price := r.DealPrice()
		weightSum = weightSum.Add(w)
		priceSum = priceSum.Add(price)
		revenue = revenue.Add(price.Mul(closeProb).Mul(w))
	}

	n := generic.MaxCount(len(pipeline))
	m.TimeWeighting = weightSum.Div(n)
	m.ProjectedClosedDeals = int(n.Mul(closeProb).Mul(m.TimeWeighting).Round(0).IntPart())
	m.ProjectedRevenue = revenue
	m.ProjectedCommission = generic.PercentOf(revenue, commissionRate)

	keep := generic.Complement(fallThrough)
	m.RiskAdjustedRevenue = generic.PercentOf(m.ProjectedRevenue, keep)
	m.RiskAdjustedCommission = generic.PercentOf(m.ProjectedCommission, keep)
	m.AverageDealPrice = priceSum.Div(n)
	return m
}

func closingWeight(r commission.Record, asOf generic.TimePoint, horizon int, h, avgDays decimal.Decimal) decimal.Decimal {
	one := decimal.NewFromInt(1)
	closing, ok := r.Closing()
	if !ok {
		return decimal.Min(one, h.Div(avgDays))
	}
	d := generic.DaysBetween(asOf, closing)
	if d <= horizon {
		return one
	}
	return h.Div(decimal.NewFromInt(int64(d)))
}

// ForecastHorizons runs Forecast once per horizon, sharing one close-rate estimate.
func ForecastHorizons(in Input, horizons ...int) []ProjectionMetrics {
	if in.Rate == nil {
		opts := in.RateOptions
		if opts.AsOf.IsZero() {
			opts.AsOf = in.AsOf
		}
		r := EstimateClosingRate(in.Records, opts)
		in.Rate = &r
	}
	out := make([]ProjectionMetrics, 0, len(horizons))
	for _, h := range horizons {
		in.HorizonDays = h
		out = append(out, Forecast(in))
	}
	return out
}
