package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/treasury-functions/internal/logging"
	"github.com/yourorg/treasury-functions/internal/model"
	"github.com/yourorg/treasury-functions/internal/notify"
)

// maxBodyBytes caps trigger and webhook bodies
const maxBodyBytes = 1 << 20

type errorResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

type statusResponse struct {
	Status string      `json:"status"`
	Result interface{} `json:"result,omitempty"`
}

// UserTrigger is the before/after state of a user record write. A nil side
// means the document did not exist.
type UserTrigger struct {
	Before *model.User `json:"before"`
	After  *model.User `json:"after"`
}

// OpportunityTrigger is the before/after state of a yield opportunity write
type OpportunityTrigger struct {
	Before *model.YieldOpportunity `json:"before"`
	After  *model.YieldOpportunity `json:"after"`
}

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.Warnf("Failed to encode response: %v", err)
	}
}

// writeInternalError is the single error shape for unhandled failures
func writeInternalError(w http.ResponseWriter) {
	respondJSON(w, http.StatusInternalServerError, errorResponse{Status: "error", Error: "internal"})
}

func (s *Server) withTimeout(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), s.config.RequestTimeout)
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, event string, err error) {
	logging.Event(event, logrus.Fields{
		"request_id": RequestIDFromContext(r.Context()),
		"error":      err.Error(),
	}).Error("Request failed")
	writeInternalError(w)
}

func decodeBody(r *http.Request, v interface{}) error {
	return json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":    "OK",
		"uptime":    time.Since(startTime).Round(time.Second).String(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handlePortfolioSummary(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.withTimeout(r)
	defer cancel()

	summary, err := s.deps.Portfolio.Summary(ctx)
	if err != nil {
		s.fail(w, r, "getPortfolioSummary", err)
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

func (s *Server) handlePortfolioDetailed(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.withTimeout(r)
	defer cancel()

	detailed, err := s.deps.Portfolio.Detailed(ctx)
	if err != nil {
		s.fail(w, r, "getDetailedPortfolioData", err)
		return
	}
	respondJSON(w, http.StatusOK, detailed)
}

func (s *Server) handleTelegramWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		respondJSON(w, http.StatusBadRequest, errorResponse{Status: "error", Error: "unreadable body"})
		return
	}

	ctx, cancel := s.withTimeout(r)
	defer cancel()

	replied, err := s.deps.Webhook.Handle(ctx, body)
	switch {
	case errors.Is(err, notify.ErrMalformedUpdate):
		respondJSON(w, http.StatusBadRequest, errorResponse{Status: "error", Error: "invalid request"})
	case err != nil:
		s.fail(w, r, "telegramWebhook", err)
	default:
		respondJSON(w, http.StatusOK, statusResponse{Status: "ok", Result: map[string]bool{"replied": replied}})
	}
}

func (s *Server) handleVerifyTransactions(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.withTimeout(r)
	defer cancel()

	result, err := s.deps.Verifier.Run(ctx)
	if err != nil {
		s.fail(w, r, "verifyTransactions", err)
		return
	}
	respondJSON(w, http.StatusOK, statusResponse{Status: "ok", Result: result})
}

func (s *Server) handleCheckSubscriptions(w http.ResponseWriter, r *http.Request) {
	s.runBatchJob(w, r, "checkSubscriptions", s.deps.Sweep, "expired")
}

func (s *Server) handleCleanupTransactions(w http.ResponseWriter, r *http.Request) {
	s.runBatchJob(w, r, "cleanupOldTransactions", s.deps.Cleanup, "deleted")
}

func (s *Server) runBatchJob(w http.ResponseWriter, r *http.Request, event string, job BatchJob, countKey string) {
	ctx, cancel := s.withTimeout(r)
	defer cancel()

	n, err := job.Run(ctx)
	if err != nil {
		s.fail(w, r, event, err)
		return
	}
	respondJSON(w, http.StatusOK, statusResponse{Status: "ok", Result: map[string]int{countKey: n}})
}

// handleUserTrigger classifies the write and sends at most one message.
// Delivery failures are logged by the notifier and acknowledged here.
func (s *Server) handleUserTrigger(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]

	var trigger UserTrigger
	if err := decodeBody(r, &trigger); err != nil {
		respondJSON(w, http.StatusBadRequest, errorResponse{Status: "error", Error: "invalid request"})
		return
	}

	ctx, cancel := s.withTimeout(r)
	defer cancel()

	change, err := s.deps.Users.Notify(ctx, userID, trigger.Before, trigger.After)
	respondJSON(w, http.StatusOK, statusResponse{Status: "ok", Result: map[string]interface{}{
		"change":    string(change),
		"delivered": change != notify.UserUnchanged && err == nil,
	}})
}

// handleOpportunityTrigger stamps the yield marker on every write and fans
// out the announcement when the record was created
func (s *Server) handleOpportunityTrigger(w http.ResponseWriter, r *http.Request) {
	opportunityID := mux.Vars(r)["opportunityId"]

	var trigger OpportunityTrigger
	if err := decodeBody(r, &trigger); err != nil {
		respondJSON(w, http.StatusBadRequest, errorResponse{Status: "error", Error: "invalid request"})
		return
	}

	ctx, cancel := s.withTimeout(r)
	defer cancel()

	result := map[string]interface{}{"marked": false}
	var errs []error

	if err := s.deps.Marker.Mark(ctx, opportunityID); err != nil {
		errs = append(errs, err)
	} else {
		result["marked"] = true
	}

	if trigger.Before == nil && trigger.After != nil {
		fanout, err := s.deps.Opportunities.Notify(ctx, opportunityID, trigger.After)
		if err != nil {
			errs = append(errs, err)
		}
		result["notifications"] = fanout
	}

	if err := errors.Join(errs...); err != nil {
		s.fail(w, r, "yieldOpportunityWrite", err)
		return
	}
	respondJSON(w, http.StatusOK, statusResponse{Status: "ok", Result: result})
}
