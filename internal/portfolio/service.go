// Package portfolio serves the summary and detailed analytics payloads,
// consulting the cache before reading the store and the price oracle.
package portfolio

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/yourorg/treasury-functions/internal/analytics"
	"github.com/yourorg/treasury-functions/internal/cache"
	"github.com/yourorg/treasury-functions/internal/logging"
	"github.com/yourorg/treasury-functions/internal/model"
	"github.com/yourorg/treasury-functions/internal/otel"
	"github.com/yourorg/treasury-functions/internal/store"
	"github.com/yourorg/treasury-functions/internal/validation"
)

// PriceFetcher returns a USD quote for every id
type PriceFetcher interface {
	FetchPrices(ctx context.Context, ids []string) (model.Prices, error)
}

var computeDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "treasury_portfolio_compute_duration_seconds",
		Help:    "Time spent recomputing a portfolio payload",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"kind", "status"},
)

func init() {
	prometheus.MustRegister(computeDuration)
}

// Service computes the analytics payloads
type Service struct {
	store  store.Store
	prices PriceFetcher
	cache  *cache.PortfolioCache
}

// NewService creates a portfolio service
func NewService(s store.Store, prices PriceFetcher, c *cache.PortfolioCache) *Service {
	return &Service{store: s, prices: prices, cache: c}
}

// Summary returns the summary payload
func (s *Service) Summary(ctx context.Context) (*model.PortfolioSummary, error) {
	v, err := s.cache.GetOrCompute(ctx, cache.KindSummary, func(ctx context.Context) (interface{}, error) {
		snap, err := s.snapshot(ctx, cache.KindSummary)
		if err != nil {
			return nil, err
		}
		return analytics.Summary(snap)
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.PortfolioSummary), nil
}

// Detailed returns the detailed payload
func (s *Service) Detailed(ctx context.Context) (*model.DetailedPortfolioData, error) {
	v, err := s.cache.GetOrCompute(ctx, cache.KindDetailed, func(ctx context.Context) (interface{}, error) {
		snap, err := s.snapshot(ctx, cache.KindDetailed)
		if err != nil {
			return nil, err
		}
		return analytics.Detailed(snap)
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.DetailedPortfolioData), nil
}

// snapshot reads treasury assets and harvests concurrently, drops malformed
// records and prices every referenced asset
func (s *Service) snapshot(ctx context.Context, kind cache.Kind) (snap analytics.Snapshot, err error) {
	ctx, span := otel.Tracer().Start(ctx, "portfolio.snapshot")
	span.SetAttributes(attribute.String("portfolio.kind", string(kind)))
	defer span.End()

	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
			otel.RecordError(ctx, err)
			logging.Event("portfolio_compute_failed", logrus.Fields{
				"kind":  kind,
				"error": err.Error(),
			}).Error("Failed to compute portfolio data")
		}
		computeDuration.WithLabelValues(string(kind), status).Observe(time.Since(start).Seconds())
	}()

	var assets []model.TreasuryAsset
	var harvests []model.Harvest

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		docs, err := s.store.Query(gctx, model.CollectionTreasuryAssets)
		if err != nil {
			return fmt.Errorf("load treasury assets: %w", err)
		}
		assets, err = store.DecodeAll[model.TreasuryAsset](docs)
		return err
	})
	g.Go(func() error {
		docs, err := s.store.Query(gctx, model.CollectionHarvests)
		if err != nil {
			return fmt.Errorf("load harvests: %w", err)
		}
		harvests, err = store.DecodeAll[model.Harvest](docs)
		return err
	})
	if err := g.Wait(); err != nil {
		return analytics.Snapshot{}, err
	}

	assets = validation.FilterTreasuryAssets(assets)
	harvests = validation.FilterHarvests(harvests)

	prices, err := s.prices.FetchPrices(ctx, analytics.AssetIDs(assets, harvests))
	if err != nil {
		return analytics.Snapshot{}, fmt.Errorf("fetch prices: %w", err)
	}

	span.SetAttributes(
		attribute.Int("portfolio.assets", len(assets)),
		attribute.Int("portfolio.harvests", len(harvests)),
	)
	return analytics.Snapshot{Assets: assets, Harvests: harvests, Prices: prices}, nil
}
