package forecast_test

import (
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/commission-engine/commission"
	"github.com/warp/commission-engine/forecast"
	"github.com/warp/commission-engine/generic"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var asOf = generic.NewTimePoint(2025, 6, 1)

func loop(id, status, created, closing, price string) commission.Record {
	return commission.Record{
		LoopID:      id,
		LoopStatus:  status,
		CreatedDate: created,
		ClosingDate: closing,
		Price:       dec(price),
	}
}

// =============================================================================
// CLOSING RATE
// =============================================================================

func TestEstimateClosingRate(t *testing.T) {
	// GIVEN: 3 sold, 1 archived, 1 under contract, 1 unknown status
	// THEN: Close rate 3/5 = 60%, unknown excluded; days to close averaged

	records := []commission.Record{
		loop("1", "Sold", "2025-01-01", "2025-01-31", "300000"),    // 30 days
		loop("2", "Sold", "2025-02-01", "2025-03-03", "300000"),    // 30 days
		loop("3", "Closed", "2025-03-01", "2025-03-01", "300000"),  // 0 days, excluded from average
		loop("4", "Archived", "2025-01-01", "", "300000"),
		loop("5", "Under Contract", "2025-05-01", "2025-06-20", "300000"),
		loop("6", "Mystery", "2025-01-01", "2025-02-01", "300000"),
	}

	rate := forecast.EstimateClosingRate(records, forecast.RateOptions{AsOf: asOf})
	assert.Equal(t, 3, rate.ClosedCount)
	assert.Equal(t, 5, rate.DeterminateCount)
	assert.Equal(t, 60, rate.HistoricalCloseRate)
	assert.Equal(t, 2, rate.DaysToCloseSamples)
	assert.True(t, rate.AverageDaysToClose.Equal(dec("30")))
}

func TestEstimateClosingRate_EmptyUsesDefaults(t *testing.T) {
	rate := forecast.EstimateClosingRate(nil, forecast.RateOptions{})
	assert.Equal(t, 0, rate.HistoricalCloseRate)
	assert.True(t, rate.AverageDaysToClose.Equal(decimal.NewFromInt(forecast.DefaultAverageDaysToClose)))
}

func TestEstimateClosingRate_TrailingWindow(t *testing.T) {
	// GIVEN: An old archived deal and a recent sold deal
	// WHEN: Window of 90 days
	// THEN: Only the recent deal counts

	records := []commission.Record{
		loop("old", "Archived", "2024-01-01", "", "1"),
		loop("new", "Sold", "2025-04-01", "2025-05-01", "1"),
	}
	rate := forecast.EstimateClosingRate(records, forecast.RateOptions{AsOf: asOf, WindowDays: 90})
	assert.Equal(t, 1, rate.DeterminateCount)
	assert.Equal(t, 100, rate.HistoricalCloseRate)
}

// =============================================================================
// FORECAST
// =============================================================================

func TestForecast_ZeroPipeline(t *testing.T) {
	// GIVEN: No deals under contract
	// THEN: All projected figures are zero for any horizon

	records := []commission.Record{loop("1", "Sold", "2025-01-01", "2025-02-01", "500000")}
	for _, horizon := range []int{30, 60, 90} {
		m := forecast.Forecast(forecast.Input{Records: records, HorizonDays: horizon, AsOf: asOf})
		assert.Equal(t, 0, m.ProjectedClosedDeals)
		assert.True(t, m.ProjectedRevenue.IsZero())
		assert.True(t, m.ProjectedCommission.IsZero())
		assert.True(t, m.AverageDealPrice.IsZero())
	}
}

func TestForecast_TenDealsSeventyPercent(t *testing.T) {
	// GIVEN: 10 under-contract deals all projected to close inside 30 days,
	//        a 70% close rate and a 10% fall-through
	// THEN: 7 projected closings; risk-adjusted commission is 90% of raw

	var records []commission.Record
	for i := 0; i < 10; i++ {
		records = append(records, loop(fmt.Sprintf("P%d", i), "Under Contract", "2025-05-01", "2025-06-15", "400000"))
	}
	rate := forecast.ClosingRate{HistoricalCloseRate: 70, AverageDaysToClose: dec("45")}

	m := forecast.Forecast(forecast.Input{
		Records:         records,
		Rate:            &rate,
		HorizonDays:     30,
		FallThroughRate: dec("10"),
		AsOf:            asOf,
	})

	require.Equal(t, 10, m.PipelineDeals)
	assert.True(t, m.TimeWeighting.Equal(dec("1")))
	assert.Equal(t, 7, m.ProjectedClosedDeals)
	assert.True(t, m.ProjectedRevenue.Equal(dec("2800000")))
	assert.True(t, m.ProjectedCommission.Equal(dec("84000")))
	assert.True(t, m.RiskAdjustedCommission.Equal(m.ProjectedCommission.Mul(dec("0.9"))))
	assert.True(t, m.AverageDealPrice.Equal(dec("400000")))
	assert.True(t, m.ConfidenceLevel.Equal(dec("85")))
}

func TestForecast_DealsBeyondHorizonAreDiscounted(t *testing.T) {
	// GIVEN: One deal closing in 60 days, one without a closing date (45-day average)
	// WHEN: Horizon 30 days, 100% close rate
	// THEN: Weights 0.5 and 30/45; revenue scaled accordingly

	records := []commission.Record{
		loop("far", "Pending", "2025-05-01", "2025-07-31", "300000"),
		loop("undated", "Pending", "2025-05-01", "", "300000"),
	}
	rate := forecast.ClosingRate{HistoricalCloseRate: 100, AverageDaysToClose: dec("45")}

	m := forecast.Forecast(forecast.Input{Records: records, Rate: &rate, HorizonDays: 30, AsOf: asOf})

	// far: 60 days out → 0.5 → 150,000; undated: 30/45 → 200,000
	assert.True(t, m.ProjectedRevenue.Round(2).Equal(dec("350000")), m.ProjectedRevenue.String())
	assert.Equal(t, 1, m.ProjectedClosedDeals)
}

func TestForecast_FallThroughIsClamped(t *testing.T) {
	records := []commission.Record{loop("p", "Under Contract", "", "2025-06-10", "100000")}
	rate := forecast.ClosingRate{HistoricalCloseRate: 100, AverageDaysToClose: dec("45")}

	m := forecast.Forecast(forecast.Input{Records: records, Rate: &rate, FallThroughRate: dec("80"), AsOf: asOf})
	assert.True(t, m.FallThroughRate.Equal(dec("50")))
	assert.True(t, m.RiskAdjustedRevenue.Equal(dec("50000")))
}

func TestConfidenceLevel_DecreasesWithHorizon(t *testing.T) {
	prev := forecast.ConfidenceLevel(0)
	for h := 1; h <= 400; h++ {
		c := forecast.ConfidenceLevel(h)
		assert.True(t, c.LessThanOrEqual(prev), "horizon %d", h)
		prev = c
	}
	assert.True(t, forecast.ConfidenceLevel(1000).Equal(dec("10")))
}

func TestForecastHorizons(t *testing.T) {
	records := []commission.Record{
		loop("s", "Sold", "2025-01-01", "2025-02-01", "100000"),
		loop("p", "Under Contract", "2025-05-01", "2025-07-15", "100000"),
	}
	out := forecast.ForecastHorizons(forecast.Input{Records: records, AsOf: asOf}, 30, 60, 90)
	require.Len(t, out, 3)
	assert.Equal(t, []int{30, 60, 90}, []int{out[0].HorizonDays, out[1].HorizonDays, out[2].HorizonDays})
	assert.True(t, out[0].ProjectedRevenue.LessThanOrEqual(out[2].ProjectedRevenue))
	assert.True(t, out[0].ConfidenceLevel.GreaterThan(out[2].ConfidenceLevel))
}
