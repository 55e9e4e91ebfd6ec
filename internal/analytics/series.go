// Package analytics derives the portfolio metrics from treasury holdings, harvest
// records and a point-in-time price snapshot. Every function here is pure.
package analytics

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yourorg/treasury-functions/internal/model"
)

// DayLayout is the format of YieldData.Date
const DayLayout = "2006-01-02"

// TotalTreasuryValue sums quantity x USD price over the holdings.
// Every asset id must be present in prices.
func TotalTreasuryValue(assets []model.TreasuryAsset, prices model.Prices) (float64, error) {
	total := decimal.Zero
	for _, a := range assets {
		usd, err := prices.USD(a.ID)
		if err != nil {
			return 0, fmt.Errorf("treasury asset %s: %w", a.Symbol, err)
		}
		total = total.Add(decimal.NewFromFloat(usd).Mul(decimal.NewFromFloat(a.Quantity)))
	}
	return total.InexactFloat64(), nil
}

// BuildYieldSeries groups harvests by UTC calendar day and returns one point
// per day, sorted ascending. Input order does not affect the result.
func BuildYieldSeries(harvests []model.Harvest, prices model.Prices) ([]model.YieldData, error) {
	byDay := make(map[string]decimal.Decimal)
	for _, h := range harvests {
		usd, err := prices.USD(h.ID)
		if err != nil {
			return nil, fmt.Errorf("harvest of %s: %w", h.AssetSymbol, err)
		}
		day := h.Date.UTC().Format(DayLayout)
		byDay[day] = byDay[day].Add(decimal.NewFromFloat(usd).Mul(decimal.NewFromFloat(h.Quantity)))
	}

	series := make([]model.YieldData, 0, len(byDay))
	for day, total := range byDay {
		series = append(series, model.YieldData{Date: day, TotalUSD: total.InexactFloat64()})
	}
	sort.Slice(series, func(i, j int) bool { return series[i].Date < series[j].Date })
	return series, nil
}

// daysBetween returns the fractional number of days from a to b
func daysBetween(a, b string) (float64, error) {
	start, err := time.Parse(DayLayout, a)
	if err != nil {
		return 0, err
	}
	end, err := time.Parse(DayLayout, b)
	if err != nil {
		return 0, err
	}
	return end.Sub(start).Hours() / 24, nil
}

// totals extracts the USD totals of a series
func totals(series []model.YieldData) []float64 {
	out := make([]float64, len(series))
	for i, d := range series {
		out[i] = d.TotalUSD
	}
	return out
}

func sum(values []float64) float64 {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(decimal.NewFromFloat(v))
	}
	return total.InexactFloat64()
}
