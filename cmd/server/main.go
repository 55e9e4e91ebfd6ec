// Package main is the entry point for the treasury functions service: portfolio
// analytics, subscription payment verification, lifecycle jobs and Telegram
// notifications behind one HTTP server.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yourorg/treasury-functions/internal/cache"
	"github.com/yourorg/treasury-functions/internal/config"
	"github.com/yourorg/treasury-functions/internal/fetch"
	"github.com/yourorg/treasury-functions/internal/jobs"
	"github.com/yourorg/treasury-functions/internal/logging"
	"github.com/yourorg/treasury-functions/internal/notify"
	"github.com/yourorg/treasury-functions/internal/otel"
	"github.com/yourorg/treasury-functions/internal/portfolio"
	"github.com/yourorg/treasury-functions/internal/scheduler"
	"github.com/yourorg/treasury-functions/internal/server"
	"github.com/yourorg/treasury-functions/internal/types"
)

// main is the entry point for the application
func main() {
	// Configure logging before anything else logs
	logging.Setup(config.GetEnvOrDefault("LOG_FORMAT", "text"), config.GetEnvOrDefault("LOG_LEVEL", "info"))

	cfg := config.Load()

	shutdownTracer := otel.InitTracer(cfg.OtelEndpoint)
	defer shutdownTracer()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	docs, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		logrus.Fatalf("Failed to open document store: %v", err)
	}
	defer closeStore()

	networks, err := config.LoadNetworks(cfg.NetworksFile, cfg.AlchemyKey)
	if err != nil {
		logrus.Fatalf("Failed to load networks: %v", err)
	}
	registry := types.NewRegistry(networks)

	priceBreaker := newBreaker("price_oracle", cfg)
	telegramBreaker := newBreaker("telegram", cfg)

	prices := fetch.NewPriceClient(fetch.PriceClientOptions{
		BaseURL:  cfg.PriceAPIURL,
		APIKey:   cfg.PriceAPIKey,
		RetryMax: cfg.PriceRetryMax,
		Breaker:  priceBreaker,
	})
	telegram := notify.NewTelegramClient(notify.TelegramConfig{
		BaseURL:  cfg.TelegramAPIURL,
		BotToken: cfg.BotToken,
		Breaker:  telegramBreaker,
	})
	if cfg.BotToken == "" {
		logrus.Warn("BOT_TOKEN not set, Telegram notifications are disabled")
	}

	portfolioCache := cache.NewPortfolioCache(cache.Options{
		TTL:            cfg.CacheTTL,
		Coalesce:       cfg.CacheCoalesce,
		ComputeTimeout: cfg.RequestTimeout,
	})

	verifier := jobs.NewVerifier(docs, registry, fetch.NewEthReceiptClient())
	sweep := jobs.NewSubscriptionSweep(docs)
	cleanup := jobs.NewStaleCleanup(docs, cfg.StaleTxAge)

	srv := server.New(server.Config{
		Port:           cfg.Port,
		RequestTimeout: cfg.RequestTimeout,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
		WebhookSecret:  cfg.WebhookSecret,
		HookToken:      cfg.HookToken,
	}, server.Deps{
		Portfolio:     portfolio.NewService(docs, prices, portfolioCache),
		Verifier:      verifier,
		Sweep:         sweep,
		Cleanup:       cleanup,
		Marker:        jobs.NewYieldMarker(docs),
		Users:         notify.NewUserNotifier(telegram, cfg.ChatID),
		Opportunities: notify.NewOpportunityNotifier(docs, telegram, cfg.TelegramRPS),
		Webhook:       notify.NewWebhookHandler(telegram),
	})

	var sched *scheduler.Scheduler
	if cfg.EnableScheduler {
		sched = scheduler.New(
			scheduler.Task{Name: jobs.JobVerifyTransactions, Interval: cfg.VerifyInterval, Timeout: cfg.RequestTimeout, Run: func(ctx context.Context) error {
				_, err := verifier.Run(ctx)
				return err
			}},
			scheduler.Task{Name: jobs.JobCheckSubscriptions, Interval: cfg.SweepInterval, Timeout: cfg.RequestTimeout, Run: countOnly(sweep.Run)},
			scheduler.Task{Name: jobs.JobCleanupTransactions, Interval: cfg.CleanupInterval, Timeout: cfg.RequestTimeout, Run: countOnly(cleanup.Run)},
		)
		sched.Start(ctx)
	}

	logrus.WithFields(logrus.Fields{
		"port":          cfg.Port,
		"store_backend": cfg.StoreBackend,
		"networks":      len(networks),
		"cache_ttl":     cfg.CacheTTL,
		"coalesce":      cfg.CacheCoalesce,
		"scheduler":     cfg.EnableScheduler,
	}).Info("Server initialized")

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logrus.Errorf("Server failed: %v", err)
			stop()
			if sched != nil {
				sched.Wait()
			}
			os.Exit(1)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrus.Errorf("Server shutdown failed: %v", err)
	}
	if sched != nil {
		sched.Wait()
	}

	logrus.Info("Server stopped")
}
