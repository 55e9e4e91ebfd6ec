package portfolio

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/treasury-functions/internal/cache"
	"github.com/yourorg/treasury-functions/internal/model"
	"github.com/yourorg/treasury-functions/internal/store"
)

type fakePrices struct {
	mu     sync.Mutex
	prices model.Prices
	err    error
	calls  int
	ids    []string
}

func (f *fakePrices) FetchPrices(_ context.Context, ids []string) (model.Prices, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.ids = ids
	if f.err != nil {
		return nil, f.err
	}
	out := model.Prices{}
	for _, id := range ids {
		p, ok := f.prices[id]
		if !ok {
			return nil, &model.MissingPriceError{ID: id}
		}
		out[id] = p
	}
	return out, nil
}

// countingStore records how many collection reads reach the store
type countingStore struct {
	store.Store
	mu      sync.Mutex
	queries int
}

func (c *countingStore) Query(ctx context.Context, collection string, filters ...store.Filter) ([]store.Document, error) {
	c.mu.Lock()
	c.queries++
	c.mu.Unlock()
	return c.Store.Query(ctx, collection, filters...)
}

func seed(t *testing.T, s store.Store) {
	t.Helper()
	day := func(d int) time.Time { return time.Date(2024, 1, d, 10, 0, 0, 0, time.UTC) }

	b := store.NewBatch().
		Set(model.CollectionTreasuryAssets, "a1", model.TreasuryAsset{ID: "eth", Symbol: "ETH", Href: "https://eth.example", ImgSrc: "/eth.png", Quantity: 2}).
		Set(model.CollectionTreasuryAssets, "a2", model.TreasuryAsset{ID: "", Symbol: "BROKEN", Quantity: 1})
	for i := 1; i <= 4; i++ {
		b.Set(model.CollectionHarvests, string(rune('0'+i)), model.Harvest{ID: "eth", AssetSymbol: "ETH", Quantity: 0.02, Date: day(i)})
	}
	b.Set(model.CollectionHarvests, "bad", map[string]interface{}{"id": "eth", "quantity": -1, "date": day(5)})
	require.NoError(t, s.Commit(context.Background(), b))
}

func newTestService(t *testing.T, prices *fakePrices, clock func() time.Time) (*Service, *countingStore) {
	t.Helper()
	cs := &countingStore{Store: store.NewMemoryStore()}
	seed(t, cs)
	c := cache.NewPortfolioCache(cache.Options{Now: clock, Coalesce: true})
	return NewService(cs, prices, c), cs
}

func TestService_Summary(t *testing.T) {
	prices := &fakePrices{prices: model.Prices{"eth": {USD: 2000}}}
	svc, _ := newTestService(t, prices, nil)

	summary, err := svc.Summary(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []model.AssetDisplay{{Href: "https://eth.example", ImgSrc: "/eth.png", ID: "eth", Symbol: "ETH"}}, summary.TreasuryAssets)
	assert.InDelta(t, (160.0/3*365/4000)*100, summary.RollingAPR, 1e-9)
	assert.Equal(t, []string{"eth"}, prices.ids, "malformed records are dropped before pricing")
}

func TestService_Detailed(t *testing.T) {
	prices := &fakePrices{prices: model.Prices{"eth": {USD: 2000}}}
	svc, _ := newTestService(t, prices, nil)

	detailed, err := svc.Detailed(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 100.0, detailed.YieldConsistencyScore)
	assert.Equal(t, model.YieldFrequency{AverageDays: 1, MinDays: 1, MaxDays: 1}, detailed.YieldFrequency)
	assert.InDelta(t, 4.0, detailed.YieldToTreasuryRatio, 1e-9)
	assert.Len(t, detailed.YieldChartData.Labels, 4)
}

func TestService_CachesWithinWindow(t *testing.T) {
	now := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(d)
	}

	prices := &fakePrices{prices: model.Prices{"eth": {USD: 2000}}}
	svc, cs := newTestService(t, prices, clock)

	first, err := svc.Summary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, cs.queries)

	advance(10 * time.Minute)
	second, err := svc.Summary(context.Background())
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, 2, cs.queries, "no second store read inside the window")
	assert.Equal(t, 1, prices.calls)

	advance(5 * time.Minute)
	third, err := svc.Summary(context.Background())
	require.NoError(t, err)
	assert.NotSame(t, first, third)
	assert.Equal(t, 4, cs.queries)
	assert.Equal(t, 2, prices.calls)
}

func TestService_Errors(t *testing.T) {
	t.Run("oracle failure", func(t *testing.T) {
		prices := &fakePrices{err: errors.New("oracle down")}
		svc, _ := newTestService(t, prices, nil)

		_, err := svc.Summary(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "oracle down")
	})

	t.Run("missing price fails the request", func(t *testing.T) {
		prices := &fakePrices{prices: model.Prices{}}
		svc, _ := newTestService(t, prices, nil)

		_, err := svc.Detailed(context.Background())
		assert.ErrorIs(t, err, model.ErrMissingPrice)
	})
}
