package analytics

import (
	"github.com/yourorg/treasury-functions/internal/model"
)

// Snapshot is the input of one analytics computation
type Snapshot struct {
	Assets   []model.TreasuryAsset
	Harvests []model.Harvest
	Prices   model.Prices
}

// AssetIDs returns every id that needs a price: treasury assets first, then harvests, deduplicated
func AssetIDs(assets []model.TreasuryAsset, harvests []model.Harvest) []string {
	seen := make(map[string]bool, len(assets)+len(harvests))
	ids := make([]string, 0, len(assets)+len(harvests))
	add := func(id string) {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	for _, a := range assets {
		add(a.ID)
	}
	for _, h := range harvests {
		add(h.ID)
	}
	return ids
}

// Summary computes the summary payload
func Summary(s Snapshot) (*model.PortfolioSummary, error) {
	treasuryValue, err := TotalTreasuryValue(s.Assets, s.Prices)
	if err != nil {
		return nil, err
	}
	series, err := BuildYieldSeries(s.Harvests, s.Prices)
	if err != nil {
		return nil, err
	}

	display := make([]model.AssetDisplay, 0, len(s.Assets))
	for _, a := range s.Assets {
		display = append(display, a.Display())
	}

	return &model.PortfolioSummary{
		TreasuryAssets: display,
		RollingAPR:     RollingAPR(series, treasuryValue),
	}, nil
}

// Detailed computes the detailed payload
func Detailed(s Snapshot) (*model.DetailedPortfolioData, error) {
	treasuryValue, err := TotalTreasuryValue(s.Assets, s.Prices)
	if err != nil {
		return nil, err
	}
	series, err := BuildYieldSeries(s.Harvests, s.Prices)
	if err != nil {
		return nil, err
	}

	return &model.DetailedPortfolioData{
		YieldConsistencyScore:     YieldConsistencyScore(series),
		YieldFrequency:            YieldFrequency(series),
		LatestRelativePerformance: LatestRelativePerformance(series),
		YieldToTreasuryRatio:      YieldToTreasuryRatio(series, treasuryValue),
		YieldChartData:            YieldChart(series, treasuryValue),
		CumulativeYieldChartData:  CumulativeYieldChart(series, treasuryValue),
	}, nil
}
