package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/hacknation/campus-lost-found/internal/matching"
	"github.com/hacknation/campus-lost-found/internal/models"
)

var validate = validator.New()

// MatchRunner runs matching for one lost item
type MatchRunner interface {
	Run(ctx context.Context, lostItemID string) (*matching.Result, error)
}

// MatchStore reads and reviews persisted matches
type MatchStore interface {
	ListMatchesForLostItem(ctx context.Context, lostItemID string) ([]*models.MatchWithFoundItem, error)
	UpdateMatchStatus(ctx context.Context, matchID string, status models.MatchStatus) (*models.MatchRecord, error)
}

// HealthChecker is implemented by every backing service
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// HealthCheck is one named entry of the health report. A failing optional
// check is reported but leaves the service healthy.
type HealthCheck struct {
	Name     string
	Checker  HealthChecker
	Optional bool
}

// Handler contains all HTTP handlers
type Handler struct {
	runner  MatchRunner
	matches MatchStore
	checks  []HealthCheck
}

// NewHandler creates a new handler instance
func NewHandler(runner MatchRunner, matches MatchStore, checks ...HealthCheck) *Handler {
	return &Handler{
		runner:  runner,
		matches: matches,
		checks:  checks,
	}
}

// MatchRequest triggers a matching run
type MatchRequest struct {
	LostItemID string `json:"lostItemId" validate:"required"`
}

// MatchResponse is returned by a completed run, including the short-circuit cases
type MatchResponse struct {
	Message      string                `json:"message"`
	MatchesFound int                   `json:"matchesFound"`
	Matches      []*models.MatchRecord `json:"matches"`
}

// UpdateMatchRequest records a reviewer decision
type UpdateMatchRequest struct {
	Status models.MatchStatus `json:"status" validate:"required,oneof=confirmed rejected"`
}

// MatchLostItemHandler runs the matching engine for the lost item in the body
func (h *Handler) MatchLostItemHandler(w http.ResponseWriter, r *http.Request) {
	var req MatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}

	if err := validate.Struct(req); err != nil || strings.TrimSpace(req.LostItemID) == "" {
		writeError(w, http.StatusBadRequest, matching.ErrMissingLostItemID.Error(), "")
		return
	}

	result, err := h.runner.Run(r.Context(), req.LostItemID)
	if err != nil {
		if errors.Is(err, matching.ErrMissingLostItemID) {
			writeError(w, http.StatusBadRequest, err.Error(), "")
			return
		}
		log.Error().Err(err).Str("lost_item_id", req.LostItemID).Msg("Matching request failed")
		writeError(w, http.StatusInternalServerError, "Internal server error", err.Error())
		return
	}

	matches := result.Matches
	if matches == nil {
		matches = []*models.MatchRecord{}
	}

	writeJSON(w, http.StatusOK, MatchResponse{
		Message:      result.Message,
		MatchesFound: len(matches),
		Matches:      matches,
	})
}

// ListMatchesHandler returns a lost item's matches, best first
func (h *Handler) ListMatchesHandler(w http.ResponseWriter, r *http.Request) {
	lostItemID := mux.Vars(r)["id"]

	matches, err := h.matches.ListMatchesForLostItem(r.Context(), lostItemID)
	if err != nil {
		log.Error().Err(err).Str("lost_item_id", lostItemID).Msg("Failed to list matches")
		writeError(w, http.StatusInternalServerError, "Internal server error", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"lostItemId": lostItemID,
		"matches":    matches,
	})
}

// UpdateMatchStatusHandler confirms or rejects a pending match
func (h *Handler) UpdateMatchStatusHandler(w http.ResponseWriter, r *http.Request) {
	matchID := mux.Vars(r)["id"]

	var req UpdateMatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}

	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "status must be confirmed or rejected", "")
		return
	}

	match, err := h.matches.UpdateMatchStatus(r.Context(), matchID, req.Status)
	switch {
	case errors.Is(err, models.ErrNotFound):
		writeError(w, http.StatusNotFound, "Match not found", "")
		return
	case errors.Is(err, models.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "Match has already been reviewed", err.Error())
		return
	case err != nil:
		log.Error().Err(err).Str("match_id", matchID).Msg("Failed to update match status")
		writeError(w, http.StatusInternalServerError, "Internal server error", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"match": match})
}

// HealthCheckHandler returns health status
func (h *Handler) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	status := "healthy"
	checks := make(map[string]string, len(h.checks))

	for _, c := range h.checks {
		if err := c.Checker.HealthCheck(ctx); err != nil {
			checks[c.Name] = err.Error()
			if !c.Optional {
				status = "unhealthy"
			}
			continue
		}
		checks[c.Name] = "ok"
	}

	statusCode := http.StatusOK
	if status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, statusCode, map[string]any{
		"status": status,
		"checks": checks,
	})
}
