package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/alem-hub/study-progress/internal/application/command"
	"github.com/alem-hub/study-progress/internal/application/query"
	"github.com/alem-hub/study-progress/internal/domain/shared"
	"github.com/alem-hub/study-progress/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH & STATUS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleRoot serves the root endpoint with basic API information.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	respond(w, r, http.StatusOK, map[string]any{
		"name":    "study-progress",
		"version": s.deps.Version,
		"endpoints": map[string]string{
			"health":            "/health",
			"session_completed": "POST /api/v1/sessions/completed",
			"progress":          "GET /api/v1/users/{id}/progress",
		},
	})
}

// handleHealth handles the health check endpoint.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker != nil {
		status := s.deps.HealthChecker.Check(r.Context())
		if !status.Healthy {
			respond(w, r, http.StatusServiceUnavailable, status)
			return
		}
		respond(w, r, http.StatusOK, status)
		return
	}

	respond(w, r, http.StatusOK, map[string]any{
		"status":  "healthy",
		"uptime":  s.Uptime().String(),
		"version": s.deps.Version,
	})
}

// handleReady handles the readiness probe endpoint (for Kubernetes).
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker != nil {
		status := s.deps.HealthChecker.Check(r.Context())
		if !status.Ready {
			respond(w, r, http.StatusServiceUnavailable, map[string]string{
				"status": "not_ready",
				"reason": status.Message,
			})
			return
		}
	}

	respond(w, r, http.StatusOK, map[string]string{"status": "ready"})
}

// handleLive handles the liveness probe endpoint (for Kubernetes).
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	respond(w, r, http.StatusOK, map[string]string{"status": "alive"})
}

// ══════════════════════════════════════════════════════════════════════════════
// SESSION HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// completeSessionRequest is the body of POST /api/v1/sessions/completed.
type completeSessionRequest struct {
	UserID          string    `json:"user_id"`
	DurationSeconds int64     `json:"duration_seconds"`
	CompletedAt     time.Time `json:"completed_at"`
	ActivityLabel   string    `json:"activity_label"`
}

// completeSessionResponse adds the streak and session breakdown to the result.
type completeSessionResponse struct {
	XPGained              int64    `json:"xp_gained"`
	OldLevel              int      `json:"old_level"`
	NewLevel              int      `json:"new_level"`
	LeveledUp             bool     `json:"leveled_up"`
	NewlyUnlockedBadgeIDs []string `json:"newly_unlocked_badge_ids"`
	SessionXP             int64    `json:"session_xp"`
	TotalXP               int64    `json:"total_xp"`
	CurrentStreak         int      `json:"current_streak"`
	Version               int64    `json:"version"`
}

// handleCompleteSession handles POST /api/v1/sessions/completed
func (s *Server) handleCompleteSession(w http.ResponseWriter, r *http.Request) {
	if s.deps.CompleteSession == nil {
		respondError(w, r, http.StatusNotImplemented, "not_implemented", "Session handler not configured", "")
		return
	}

	var req completeSessionRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		if errors.Is(err, io.EOF) {
			respondError(w, r, http.StatusBadRequest, "invalid_request", "Request body is required", "")
			return
		}
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			respondError(w, r, http.StatusRequestEntityTooLarge, "payload_too_large", "Request body too large", "")
			return
		}
		respondError(w, r, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	result, err := s.deps.CompleteSession.Handle(r.Context(), command.CompleteSessionCommand{
		UserID:          req.UserID,
		DurationSeconds: req.DurationSeconds,
		CompletedAt:     req.CompletedAt,
		ActivityLabel:   req.ActivityLabel,
		CorrelationID:   requestIDFrom(r.Context()),
	})
	if err != nil {
		s.writeDomainError(w, r, err, logger.UserID(req.UserID))
		return
	}

	resp := completeSessionResponse{
		XPGained:              result.XPGained,
		OldLevel:              result.OldLevel,
		NewLevel:              result.NewLevel,
		LeveledUp:             result.LeveledUp,
		NewlyUnlockedBadgeIDs: result.NewlyUnlockedBadgeIDs,
		SessionXP:             result.SessionXP.Total(),
		CurrentStreak:         result.Streak.CurrentStreak,
	}
	if resp.NewlyUnlockedBadgeIDs == nil {
		resp.NewlyUnlockedBadgeIDs = []string{}
	}
	if result.Progress != nil {
		resp.TotalXP = result.Progress.XP
		resp.Version = result.Progress.Version
	}

	respond(w, r, http.StatusOK, resp)
}

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleGetProgress handles GET /api/v1/users/{id}/progress
func (s *Server) handleGetProgress(w http.ResponseWriter, r *http.Request) {
	if s.deps.GetProgress == nil {
		respondError(w, r, http.StatusNotImplemented, "not_implemented", "Progress handler not configured", "")
		return
	}

	userID := r.PathValue("id")
	card, err := s.deps.GetProgress.Handle(r.Context(), query.GetProgressQuery{
		UserID:        userID,
		IncludeLocked: boolParam(r, "include_locked"),
	})
	if err != nil {
		s.writeDomainError(w, r, err, logger.UserID(userID))
		return
	}

	respond(w, r, http.StatusOK, card)
}

// ══════════════════════════════════════════════════════════════════════════════
// ERROR MAPPING
// ══════════════════════════════════════════════════════════════════════════════

// writeDomainError maps domain error kinds to HTTP statuses. Exhausted
// retries wrap the last conflict, so the unavailable check must come first.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error, fields ...logger.Field) {
	switch {
	case shared.IsValidation(err):
		respondError(w, r, http.StatusBadRequest, "validation_error", "Invalid request", err.Error())

	case shared.IsNotFound(err):
		respondError(w, r, http.StatusNotFound, "not_found", "User progress not found", "")

	case errors.Is(err, shared.ErrServiceUnavailable), errors.Is(err, shared.ErrTimeout):
		w.Header().Set("Retry-After", "1")
		respondError(w, r, http.StatusServiceUnavailable, "unavailable", "Temporarily unavailable, try again", "")

	case shared.IsConflict(err):
		w.Header().Set("Retry-After", "1")
		respondError(w, r, http.StatusConflict, "conflict", "Concurrent update, try again", "")

	default:
		s.logger.Error("request failed", append(fields, logger.Err(err))...)
		respondError(w, r, http.StatusInternalServerError, "internal_error", "Internal error", "")
	}
}
