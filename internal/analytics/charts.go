package analytics

import (
	"time"

	"github.com/yourorg/treasury-functions/internal/model"
)

// ChartLabelLayout renders chart labels as day/month/year
const ChartLabelLayout = "02/01/2006"

// chartLabel reformats a series day for display, falling back to the raw key
func chartLabel(day string) string {
	t, err := time.Parse(DayLayout, day)
	if err != nil {
		return day
	}
	return t.Format(ChartLabelLayout)
}

// percentOfTreasury returns each day's yield as a percentage of treasury value.
// A non-positive treasury value yields zeros.
func percentOfTreasury(series []model.YieldData, treasuryValue float64) []float64 {
	out := make([]float64, len(series))
	if treasuryValue <= 0 {
		return out
	}
	for i, d := range series {
		out[i] = (d.TotalUSD / treasuryValue) * 100
	}
	return out
}

func labels(series []model.YieldData) []string {
	out := make([]string, len(series))
	for i, d := range series {
		out[i] = chartLabel(d.Date)
	}
	return out
}

// YieldChart plots each day's yield as a percentage of treasury value
func YieldChart(series []model.YieldData, treasuryValue float64) model.ChartSeries {
	return model.ChartSeries{
		Labels: labels(series),
		Data:   percentOfTreasury(series, treasuryValue),
	}
}

// CumulativeYieldChart plots the running sum of the daily percentages
func CumulativeYieldChart(series []model.YieldData, treasuryValue float64) model.ChartSeries {
	data := percentOfTreasury(series, treasuryValue)
	var running float64
	for i, v := range data {
		running += v
		data[i] = running
	}
	return model.ChartSeries{
		Labels: labels(series),
		Data:   data,
	}
}
