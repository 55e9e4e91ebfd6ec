package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/treasury-functions/internal/jobs"
	"github.com/yourorg/treasury-functions/internal/model"
	"github.com/yourorg/treasury-functions/internal/notify"
	"github.com/yourorg/treasury-functions/internal/security"
)

type mockPortfolio struct {
	err error
}

func (m *mockPortfolio) Summary(context.Context) (*model.PortfolioSummary, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &model.PortfolioSummary{
		TreasuryAssets: []model.AssetDisplay{{ID: "ethereum", Symbol: "ETH"}},
		RollingAPR:     12.5,
	}, nil
}

func (m *mockPortfolio) Detailed(context.Context) (*model.DetailedPortfolioData, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &model.DetailedPortfolioData{YieldConsistencyScore: 100}, nil
}

type mockVerifier struct{}

func (mockVerifier) Run(context.Context) (jobs.VerifyResult, error) {
	return jobs.VerifyResult{Pending: 2, Completed: 1, Unconfirmed: 1}, nil
}

type mockBatchJob struct {
	n   int
	err error
}

func (m mockBatchJob) Run(context.Context) (int, error) { return m.n, m.err }

type mockMarker struct {
	marked []string
	err    error
}

func (m *mockMarker) Mark(_ context.Context, id string) error {
	if m.err != nil {
		return m.err
	}
	m.marked = append(m.marked, id)
	return nil
}

type mockUsers struct {
	err error
}

func (m mockUsers) Notify(_ context.Context, _ string, before, after *model.User) (notify.UserChange, error) {
	return notify.ClassifyUserChange(before, after), m.err
}

type mockOpportunities struct {
	calls int
	err   error
}

func (m *mockOpportunities) Notify(context.Context, string, *model.YieldOpportunity) (notify.FanoutResult, error) {
	m.calls++
	return notify.FanoutResult{Recipients: 3, Sent: 3}, m.err
}

type mockWebhook struct {
	err error
}

func (m mockWebhook) Handle(_ context.Context, body []byte) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	if _, err := notify.ParseUpdate(body); err != nil {
		return false, err
	}
	return true, nil
}

type fixture struct {
	server        *Server
	marker        *mockMarker
	opportunities *mockOpportunities
}

func newFixture(cfg Config, mutate func(*Deps)) *fixture {
	f := &fixture{marker: &mockMarker{}, opportunities: &mockOpportunities{}}
	deps := Deps{
		Portfolio:     &mockPortfolio{},
		Verifier:      mockVerifier{},
		Sweep:         mockBatchJob{n: 2},
		Cleanup:       mockBatchJob{n: 5},
		Marker:        f.marker,
		Users:         mockUsers{},
		Opportunities: f.opportunities,
		Webhook:       mockWebhook{},
	}
	if mutate != nil {
		mutate(&deps)
	}
	f.server = New(cfg, deps)
	return f
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestHealth(t *testing.T) {
	f := newFixture(Config{}, nil)
	rec := f.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", decode(t, rec)["status"])
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))
}

func TestRequestIDIsPropagated(t *testing.T) {
	f := newFixture(Config{}, nil)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get(RequestIDHeader))
}

func TestPortfolioEndpoints(t *testing.T) {
	f := newFixture(Config{}, nil)

	rec := f.do(http.MethodPost, "/portfolio/summary", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, 12.5, body["rollingAPR"])
	assert.Len(t, body["treasuryAssets"], 1)

	rec = f.do(http.MethodPost, "/portfolio/detailed", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 100.0, decode(t, rec)["yieldConsistencyScore"])

	rec = f.do(http.MethodGet, "/portfolio/summary", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestPortfolioFailureIsInternal(t *testing.T) {
	f := newFixture(Config{}, func(d *Deps) {
		d.Portfolio = &mockPortfolio{err: model.ErrMissingPrice}
	})

	rec := f.do(http.MethodPost, "/portfolio/summary", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, map[string]interface{}{"status": "error", "error": "internal"}, decode(t, rec))
}

func TestPortfolioRateLimit(t *testing.T) {
	f := newFixture(Config{RateLimitRPS: 0.001, RateLimitBurst: 1}, nil)

	assert.Equal(t, http.StatusOK, f.do(http.MethodPost, "/portfolio/summary", "").Code)
	assert.Equal(t, http.StatusTooManyRequests, f.do(http.MethodPost, "/portfolio/summary", "").Code)

	// Other routes are not limited
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/health", "").Code)
}

func TestTelegramWebhook(t *testing.T) {
	f := newFixture(Config{}, nil)

	rec := f.do(http.MethodPost, "/telegram/webhook", `{"message":{"chat":{"id":7},"text":"/start"}}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(http.MethodPost, "/telegram/webhook", `{"message":{"chat":{"id":7}}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodGet, "/telegram/webhook", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestTelegramWebhookReplyFailure(t *testing.T) {
	f := newFixture(Config{}, func(d *Deps) {
		d.Webhook = mockWebhook{err: errors.New("telegram down")}
	})
	rec := f.do(http.MethodPost, "/telegram/webhook", `{"message":{"chat":{"id":7},"text":"/start"}}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestJobHooks(t *testing.T) {
	f := newFixture(Config{}, nil)

	rec := f.do(http.MethodPost, "/jobs/verify-transactions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	result := decode(t, rec)["result"].(map[string]interface{})
	assert.Equal(t, 1.0, result["completed"])

	rec = f.do(http.MethodPost, "/jobs/check-subscriptions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2.0, decode(t, rec)["result"].(map[string]interface{})["expired"])

	rec = f.do(http.MethodPost, "/jobs/cleanup-transactions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5.0, decode(t, rec)["result"].(map[string]interface{})["deleted"])
}

func TestJobHookFailure(t *testing.T) {
	f := newFixture(Config{}, func(d *Deps) {
		d.Sweep = mockBatchJob{err: errors.New("store unavailable")}
	})
	rec := f.do(http.MethodPost, "/jobs/check-subscriptions", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestUserTrigger(t *testing.T) {
	f := newFixture(Config{}, nil)

	rec := f.do(http.MethodPost, "/triggers/users/0xabc", `{"before":{"isPaidUser":false},"after":{"isPaidUser":true}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	result := decode(t, rec)["result"].(map[string]interface{})
	assert.Equal(t, "upgraded", result["change"])
	assert.Equal(t, true, result["delivered"])

	rec = f.do(http.MethodPost, "/triggers/users/0xabc", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUserTriggerDeliveryFailureIsAcknowledged(t *testing.T) {
	f := newFixture(Config{}, func(d *Deps) {
		d.Users = mockUsers{err: errors.New("telegram down")}
	})

	rec := f.do(http.MethodPost, "/triggers/users/u1", `{"before":null,"after":{}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	result := decode(t, rec)["result"].(map[string]interface{})
	assert.Equal(t, "created", result["change"])
	assert.Equal(t, false, result["delivered"])
}

func TestOpportunityTrigger(t *testing.T) {
	f := newFixture(Config{}, nil)

	// Creation marks and fans out
	rec := f.do(http.MethodPost, "/triggers/yield-opportunities/opp-1", `{"before":null,"after":{"protocol":"Aave"}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"opp-1"}, f.marker.marked)
	assert.Equal(t, 1, f.opportunities.calls)

	// Update and delete only mark
	f.do(http.MethodPost, "/triggers/yield-opportunities/opp-1", `{"before":{"protocol":"Aave"},"after":{"protocol":"Aave v3"}}`)
	f.do(http.MethodPost, "/triggers/yield-opportunities/opp-1", `{"before":{"protocol":"Aave v3"},"after":null}`)
	assert.Len(t, f.marker.marked, 3)
	assert.Equal(t, 1, f.opportunities.calls)
}

func TestOpportunityTriggerMarkerFailure(t *testing.T) {
	f := newFixture(Config{}, func(d *Deps) {
		d.Marker = &mockMarker{err: errors.New("store unavailable")}
	})

	rec := f.do(http.MethodPost, "/triggers/yield-opportunities/opp-1", `{"before":{},"after":{}}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRecoveryMiddleware(t *testing.T) {
	handler := RecoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRequestTimeoutDefault(t *testing.T) {
	f := newFixture(Config{}, nil)
	assert.Equal(t, 30*time.Second, f.server.config.RequestTimeout)
}

func TestHookAuthentication(t *testing.T) {
	f := newFixture(Config{HookToken: "hook-token", WebhookSecret: "bot-secret"}, nil)

	rec := f.do(http.MethodPost, "/jobs/check-subscriptions", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/jobs/check-subscriptions", nil)
	req.Header.Set("Authorization", "Bearer hook-token")
	rec = httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(http.MethodPost, "/triggers/users/u1", `{"before":null,"after":{}}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(http.MethodPost, "/telegram/webhook", `{"message":{"chat":{"id":7},"text":"/start"}}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/telegram/webhook", strings.NewReader(`{"message":{"chat":{"id":7},"text":"/start"}}`))
	req.Header.Set(security.TelegramSecretHeader, "bot-secret")
	rec = httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Analytics and health stay open
	assert.Equal(t, http.StatusOK, f.do(http.MethodPost, "/portfolio/summary", "").Code)
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/health", "").Code)
}
