package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/treasury-functions/internal/circuitbreaker"
	"github.com/yourorg/treasury-functions/internal/config"
	"github.com/yourorg/treasury-functions/internal/store"
)

// openStore selects the document store backend and returns its closer
func openStore(ctx context.Context, cfg config.Config) (store.Store, func(), error) {
	switch cfg.StoreBackend {
	case config.StoreRedis:
		rs, err := store.NewRedisStore(ctx, store.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return nil, nil, err
		}
		logrus.Infof("Using Redis document store at %s", cfg.RedisAddr)
		return rs, func() {
			if err := rs.Close(); err != nil {
				logrus.Warnf("Failed to close Redis: %v", err)
			}
		}, nil
	case config.StoreMemory:
		logrus.Warn("Using in-memory document store, data is lost on restart")
		return store.NewMemoryStore(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown STORE_BACKEND %q", cfg.StoreBackend)
	}
}

// newBreaker creates a breaker for an outbound dependency and exports its state
func newBreaker(name string, cfg config.Config) *circuitbreaker.CircuitBreaker {
	cb := circuitbreaker.New(name, circuitbreaker.Options{
		FailureThreshold: cfg.BreakerFailures,
		CooldownPeriod:   cfg.BreakerCooldown,
		OnTrip: func(name string, lastErr error) {
			logrus.Warnf("Circuit breaker %s tripped: %v", name, lastErr)
		},
	})

	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name:        "treasury_circuit_breaker_state",
			Help:        "Circuit breaker state (0=closed, 1=open, 2=half-open)",
			ConstLabels: prometheus.Labels{"dependency": name},
		},
		func() float64 { return float64(cb.GetState()) },
	))
	return cb
}

// countOnly adapts a job returning a record count to a scheduler task
func countOnly(run func(ctx context.Context) (int, error)) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		_, err := run(ctx)
		return err
	}
}
