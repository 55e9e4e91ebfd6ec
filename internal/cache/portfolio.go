// Package cache holds the process-wide portfolio analytics payloads.
//
// The summary and detailed payloads are cached independently but share one
// freshness timestamp: computing either kind restarts the window for both.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// DefaultTTL is the freshness window of a cached payload
const DefaultTTL = 15 * time.Minute

// DefaultComputeTimeout bounds a coalesced computation
const DefaultComputeTimeout = 30 * time.Second

// Kind selects a cached payload
type Kind string

const (
	KindSummary  Kind = "summary"
	KindDetailed Kind = "detailed"
)

// ComputeFunc recomputes a payload on a miss
type ComputeFunc func(ctx context.Context) (interface{}, error)

// Options configures a PortfolioCache
type Options struct {
	// TTL defaults to DefaultTTL
	TTL time.Duration

	// Coalesce makes concurrent misses for the same kind share one computation.
	// Without it every miss recomputes and the last writer wins.
	Coalesce bool

	// ComputeTimeout bounds a coalesced computation, which runs detached from
	// the cancellation of the request that started it. Defaults to
	// DefaultComputeTimeout.
	ComputeTimeout time.Duration

	// Now overrides the clock in tests
	Now func() time.Time
}

var (
	cacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "treasury_portfolio_cache_hits_total",
			Help: "Portfolio requests served from cache",
		},
		[]string{"kind"},
	)
	cacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "treasury_portfolio_cache_misses_total",
			Help: "Portfolio requests that triggered a recomputation",
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(cacheHits, cacheMisses)
}

// PortfolioCache memoizes the analytics payloads for a fixed window
type PortfolioCache struct {
	opts  Options
	group singleflight.Group

	mu        sync.Mutex
	payloads  map[Kind]interface{}
	lastFetch time.Time
}

// NewPortfolioCache creates an empty cache
func NewPortfolioCache(opts Options) *PortfolioCache {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.ComputeTimeout <= 0 {
		opts.ComputeTimeout = DefaultComputeTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &PortfolioCache{
		opts:     opts,
		payloads: make(map[Kind]interface{}),
	}
}

// fresh returns the cached payload of kind if it is still inside the window at now
func (c *PortfolioCache) fresh(kind Kind, now time.Time) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok := c.payloads[kind]
	if !ok || now.Sub(c.lastFetch) >= c.opts.TTL {
		return nil, false
	}
	return v, true
}

// store replaces the payload of kind and restarts the shared window at fetchedAt
func (c *PortfolioCache) store(kind Kind, v interface{}, fetchedAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.payloads[kind] = v
	c.lastFetch = fetchedAt
}

// GetOrCompute returns the cached payload of kind unchanged while it is fresh,
// otherwise runs compute, caches its result and returns it. Errors are not cached.
func (c *PortfolioCache) GetOrCompute(ctx context.Context, kind Kind, compute ComputeFunc) (interface{}, error) {
	start := c.opts.Now()
	if v, ok := c.fresh(kind, start); ok {
		cacheHits.WithLabelValues(string(kind)).Inc()
		return v, nil
	}

	if !c.opts.Coalesce {
		return c.recompute(ctx, kind, compute, start)
	}

	// The flight outlives any single waiter; each waiter still leaves on its
	// own cancellation.
	ch := c.group.DoChan(string(kind), func() (interface{}, error) {
		// Another flight may have refreshed the payload since the first check
		if v, ok := c.fresh(kind, c.opts.Now()); ok {
			return v, nil
		}
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.ComputeTimeout)
		defer cancel()
		return c.recompute(fctx, kind, compute, start)
	})

	select {
	case res := <-ch:
		if res.Shared {
			logrus.Debugf("Portfolio %s computation shared with a concurrent request", kind)
		}
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *PortfolioCache) recompute(ctx context.Context, kind Kind, compute ComputeFunc, start time.Time) (interface{}, error) {
	cacheMisses.WithLabelValues(string(kind)).Inc()

	v, err := compute(ctx)
	if err != nil {
		return nil, err
	}
	c.store(kind, v, start)
	return v, nil
}

// LastFetch returns when the most recent payload was computed; zero if never
func (c *PortfolioCache) LastFetch() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastFetch
}
