package analytics

import (
	"math"

	"github.com/montanaflynn/stats"
	"github.com/yourorg/treasury-functions/internal/model"
)

// aprWindow is the number of most recent yield days the rolling APR covers
const aprWindow = 4

// RollingAPR annualizes the yield of the last four yield days as a percentage
// of treasury value. It is 0 with fewer than four days, a non-positive
// treasury value, or a non-positive day span.
func RollingAPR(series []model.YieldData, treasuryValue float64) float64 {
	if len(series) < aprWindow || treasuryValue <= 0 {
		return 0
	}

	window := series[len(series)-aprWindow:]
	span, err := daysBetween(window[0].Date, window[aprWindow-1].Date)
	if err != nil || span <= 0 {
		return 0
	}

	averageDaily := sum(totals(window)) / span
	return (averageDaily * 365 / treasuryValue) * 100
}

// YieldConsistencyScore is 100 minus the coefficient of variation of the daily
// totals, floored at 0. Fewer than two days score 100; a zero mean scores 0.
func YieldConsistencyScore(series []model.YieldData) float64 {
	if len(series) < 2 {
		return 100
	}

	values := totals(series)
	lo, _ := stats.Min(values)
	hi, _ := stats.Max(values)
	if lo == hi && lo != 0 {
		return 100
	}

	mean, err := stats.Mean(values)
	if err != nil || mean == 0 {
		return 0
	}
	sd, err := stats.StandardDeviationPopulation(values)
	if err != nil {
		return 0
	}

	return math.Max(0, 100-(sd/mean)*100)
}

// YieldFrequency reports the mean, min and max gap in days between consecutive yield days
func YieldFrequency(series []model.YieldData) model.YieldFrequency {
	if len(series) < 2 {
		return model.YieldFrequency{}
	}

	gaps := make([]float64, 0, len(series)-1)
	for i := 1; i < len(series); i++ {
		d, err := daysBetween(series[i-1].Date, series[i].Date)
		if err != nil {
			return model.YieldFrequency{}
		}
		gaps = append(gaps, d)
	}

	avg, _ := stats.Mean(gaps)
	lo, _ := stats.Min(gaps)
	hi, _ := stats.Max(gaps)
	return model.YieldFrequency{AverageDays: avg, MinDays: lo, MaxDays: hi}
}

// LatestRelativePerformance is how far, in percent, the latest day sits above
// or below the average day. 0 with fewer than two days or a zero mean.
func LatestRelativePerformance(series []model.YieldData) float64 {
	if len(series) < 2 {
		return 0
	}

	mean, err := stats.Mean(totals(series))
	if err != nil || mean == 0 {
		return 0
	}
	latest := series[len(series)-1].TotalUSD
	return (latest/mean)*100 - 100
}

// YieldToTreasuryRatio is total yield as a percentage of treasury value
func YieldToTreasuryRatio(series []model.YieldData, treasuryValue float64) float64 {
	if treasuryValue <= 0 {
		return 0
	}
	return (sum(totals(series)) / treasuryValue) * 100
}
