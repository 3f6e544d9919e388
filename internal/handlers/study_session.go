package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"studyrewards-backend/internal/middleware"
	"studyrewards-backend/internal/models"
)

// SessionManager is the part of services.SessionService the HTTP layer uses.
type SessionManager interface {
	Start(ctx context.Context, userID uuid.UUID, durationMinutes int) (*models.SessionDescriptor, error)
	Cancel(ctx context.Context, userID uuid.UUID) error
	Status(ctx context.Context, userID uuid.UUID) (*models.SessionStatusView, error)
	DurationOptions() []int
}

type StudySessionHandler struct {
	sessions SessionManager
}

func NewStudySessionHandler(sessions SessionManager) *StudySessionHandler {
	return &StudySessionHandler{sessions: sessions}
}

type startSessionRequest struct {
	DurationMinutes int `json:"duration_minutes"`
}

// POST /api/v1/sessions/start
func (h *StudySessionHandler) Start(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	var req startSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("INVALID_REQUEST", "Invalid request body", r))
		return
	}

	options := h.sessions.DurationOptions()
	if !slices.Contains(options, req.DurationMinutes) {
		allowed := make([]string, len(options))
		for i, d := range options {
			allowed[i] = strconv.Itoa(d)
		}
		fields := map[string]string{"duration_minutes": "must be one of " + strings.Join(allowed, ", ")}
		writeJSON(w, http.StatusBadRequest, errorRespWithFields("INVALID_DURATION", "Unsupported session duration", fields, r))
		return
	}

	desc, err := h.sessions.Start(r.Context(), userID, req.DurationMinutes)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, desc)
}

// POST /api/v1/sessions/cancel
func (h *StudySessionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	if err := h.sessions.Cancel(r.Context(), userID); err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": string(models.SessionCancelled)})
}

// GET /api/v1/sessions/current
func (h *StudySessionHandler) Current(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	view, err := h.sessions.Status(r.Context(), userID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, view)
}

// GET /api/v1/sessions/options
func (h *StudySessionHandler) Options(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"duration_minutes": h.sessions.DurationOptions(),
	})
}
