package analytics

import (
	"math"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/yourorg/treasury-functions/internal/model"
)

var pbtPrices = model.Prices{
	"ethereum": {USD: 2000},
	"bitcoin":  {USD: 60000},
	"usdc":     {USD: 1},
}

var pbtIDs = []string{"ethereum", "bitcoin", "usdc"}

// harvestsFromSeeds derives harvests spread over ten days from generated integers
func harvestsFromSeeds(seeds []int) []model.Harvest {
	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	out := make([]model.Harvest, 0, len(seeds))
	for _, n := range seeds {
		out = append(out, model.Harvest{
			ID:       pbtIDs[n%len(pbtIDs)],
			Quantity: float64(n%97) / 8,
			Date:     base.AddDate(0, 0, (n/3)%10).Add(time.Duration((n/30)%24) * time.Hour),
		})
	}
	return out
}

func TestYieldSeriesProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("one point per distinct UTC day with matching totals", prop.ForAll(
		func(seeds []int) bool {
			harvests := harvestsFromSeeds(seeds)
			got, err := BuildYieldSeries(harvests, pbtPrices)
			if err != nil {
				return false
			}

			want := make(map[string]float64)
			for _, h := range harvests {
				want[h.Date.UTC().Format(DayLayout)] += h.Quantity * pbtPrices[h.ID].USD
			}
			if len(got) != len(want) {
				return false
			}
			for i, d := range got {
				if i > 0 && got[i-1].Date >= d.Date {
					return false
				}
				if math.Abs(want[d.Date]-d.TotalUSD) > 1e-6 {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 10000)),
	))

	properties.Property("result does not depend on input order", prop.ForAll(
		func(seeds []int) bool {
			harvests := harvestsFromSeeds(seeds)
			reversed := make([]model.Harvest, len(harvests))
			for i, h := range harvests {
				reversed[len(harvests)-1-i] = h
			}

			a, errA := BuildYieldSeries(harvests, pbtPrices)
			b, errB := BuildYieldSeries(reversed, pbtPrices)
			if errA != nil || errB != nil || len(a) != len(b) {
				return false
			}
			for i := range a {
				if a[i] != b[i] {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 10000)),
	))

	properties.TestingRun(t)
}

func TestMetricSentinelProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("rolling APR is 0 below four points", prop.ForAll(
		func(n int, treasuryValue float64) bool {
			s := make([]model.YieldData, n)
			for i := range s {
				s[i] = model.YieldData{Date: time.Date(2024, 1, i+1, 0, 0, 0, 0, time.UTC).Format(DayLayout), TotalUSD: 10}
			}
			return RollingAPR(s, treasuryValue) == 0
		},
		gen.IntRange(0, 3),
		gen.Float64Range(-1e9, 1e9),
	))

	properties.Property("rolling APR is 0 for non-positive treasury value", prop.ForAll(
		func(n int, treasuryValue float64) bool {
			s := make([]model.YieldData, n)
			for i := range s {
				s[i] = model.YieldData{Date: time.Date(2024, 1, i+1, 0, 0, 0, 0, time.UTC).Format(DayLayout), TotalUSD: 10}
			}
			return RollingAPR(s, treasuryValue) == 0
		},
		gen.IntRange(0, 20),
		gen.Float64Range(-1e9, 0),
	))

	properties.Property("consistency score is 100 for identical points", prop.ForAll(
		func(n int, value float64) bool {
			s := make([]model.YieldData, n)
			for i := range s {
				s[i] = model.YieldData{Date: time.Date(2024, 1, i+1, 0, 0, 0, 0, time.UTC).Format(DayLayout), TotalUSD: value}
			}
			return YieldConsistencyScore(s) == 100
		},
		gen.IntRange(2, 30),
		gen.Float64Range(0.01, 1e6),
	))

	properties.Property("consistency score is 100 for fewer than two points", prop.ForAll(
		func(value float64, single bool) bool {
			if !single {
				return YieldConsistencyScore(nil) == 100
			}
			return YieldConsistencyScore([]model.YieldData{{Date: "2024-01-01", TotalUSD: value}}) == 100
		},
		gen.Float64Range(0, 1e6),
		gen.Bool(),
	))

	properties.Property("frequency is zero below two points", prop.ForAll(
		func(single bool) bool {
			if !single {
				return YieldFrequency(nil) == model.YieldFrequency{}
			}
			return YieldFrequency([]model.YieldData{{Date: "2024-01-01", TotalUSD: 1}}) == model.YieldFrequency{}
		},
		gen.Bool(),
	))

	properties.TestingRun(t)
}
