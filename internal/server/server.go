// Package server exposes the analytics endpoints, the bot webhook, the job
// hooks and the document-change triggers over HTTP.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/yourorg/treasury-functions/internal/jobs"
	"github.com/yourorg/treasury-functions/internal/model"
	"github.com/yourorg/treasury-functions/internal/notify"
	"github.com/yourorg/treasury-functions/internal/security"
)

// startTime records when the service was initialized for uptime reporting
var startTime = time.Now()

var (
	requestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "treasury_http_requests_total",
			Help: "HTTP requests by route and status code",
		},
		[]string{"route", "code"},
	)
	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "treasury_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
)

func init() {
	prometheus.MustRegister(requestCounter, requestDuration)
}

// PortfolioService computes the cached analytics payloads
type PortfolioService interface {
	Summary(ctx context.Context) (*model.PortfolioSummary, error)
	Detailed(ctx context.Context) (*model.DetailedPortfolioData, error)
}

// TransactionVerifier runs one verification pass
type TransactionVerifier interface {
	Run(ctx context.Context) (jobs.VerifyResult, error)
}

// BatchJob is a periodic job reporting how many records it changed
type BatchJob interface {
	Run(ctx context.Context) (int, error)
}

// YieldMarker stamps the yield update marker
type YieldMarker interface {
	Mark(ctx context.Context, opportunityID string) error
}

// UserNotifier reports user record writes
type UserNotifier interface {
	Notify(ctx context.Context, userID string, before, after *model.User) (notify.UserChange, error)
}

// OpportunityNotifier announces new yield opportunities
type OpportunityNotifier interface {
	Notify(ctx context.Context, opportunityID string, opp *model.YieldOpportunity) (notify.FanoutResult, error)
}

// WebhookHandler answers inbound bot updates
type WebhookHandler interface {
	Handle(ctx context.Context, body []byte) (bool, error)
}

// Config holds the HTTP server settings
type Config struct {
	Port string

	// RequestTimeout bounds each callable and job request
	RequestTimeout time.Duration

	// Rate limiting of the analytics endpoints; RPS <= 0 disables it
	RateLimitRPS   float64
	RateLimitBurst int

	// WebhookSecret is the bot's secret_token; HookToken is the bearer token
	// for job hooks and triggers. Empty disables the check.
	WebhookSecret string
	HookToken     string
}

// Deps are the components behind the routes. Every field is required.
type Deps struct {
	Portfolio     PortfolioService
	Verifier      TransactionVerifier
	Sweep         BatchJob
	Cleanup       BatchJob
	Marker        YieldMarker
	Users         UserNotifier
	Opportunities OpportunityNotifier
	Webhook       WebhookHandler
}

// Server is the HTTP front of the service
type Server struct {
	config     Config
	deps       Deps
	router     *mux.Router
	limiter    *rate.Limiter
	httpServer *http.Server
}

// New creates the server and registers its routes
func New(cfg Config, deps Deps) *Server {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}

	s := &Server{
		config: cfg,
		deps:   deps,
		router: mux.NewRouter(),
	}
	if cfg.RateLimitRPS > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
		logrus.Infof("Rate limiting initialized: %v req/s, burst: %d", cfg.RateLimitRPS, cfg.RateLimitBurst)
	}

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(RequestIDMiddleware)
	s.router.Use(LoggingMiddleware)
	s.router.Use(RecoveryMiddleware)

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	// Callable analytics endpoints
	callable := s.router.PathPrefix("/portfolio").Subrouter()
	callable.Use(RateLimitMiddleware(s.limiter))
	callable.HandleFunc("/summary", s.handlePortfolioSummary).Methods(http.MethodPost)
	callable.HandleFunc("/detailed", s.handlePortfolioDetailed).Methods(http.MethodPost)

	webhook := s.router.PathPrefix("/telegram").Subrouter()
	webhook.Use(RequireSecret(security.NewHeaderGuard(security.TelegramSecretHeader, s.config.WebhookSecret)))
	webhook.HandleFunc("/webhook", s.handleTelegramWebhook).Methods(http.MethodPost)

	hookGuard := RequireSecret(security.NewBearerGuard(s.config.HookToken))

	// External scheduler hooks
	jobsRouter := s.router.PathPrefix("/jobs").Subrouter()
	jobsRouter.Use(hookGuard)
	jobsRouter.HandleFunc("/verify-transactions", s.handleVerifyTransactions).Methods(http.MethodPost)
	jobsRouter.HandleFunc("/check-subscriptions", s.handleCheckSubscriptions).Methods(http.MethodPost)
	jobsRouter.HandleFunc("/cleanup-transactions", s.handleCleanupTransactions).Methods(http.MethodPost)

	// Document-change triggers
	triggers := s.router.PathPrefix("/triggers").Subrouter()
	triggers.Use(hookGuard)
	triggers.HandleFunc("/users/{userId}", s.handleUserTrigger).Methods(http.MethodPost)
	triggers.HandleFunc("/yield-opportunities/{opportunityId}", s.handleOpportunityTrigger).Methods(http.MethodPost)
}

// Handler returns the routed handler, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Shutdown is called
func (s *Server) Start() error {
	logrus.Infof("Server starting on port %s", s.config.Port)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("error starting server: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	logrus.Info("Server shutting down...")
	return s.httpServer.Shutdown(ctx)
}
