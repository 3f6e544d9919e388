package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"studyrewards-backend/internal/logger"
	"studyrewards-backend/internal/models"
	"studyrewards-backend/internal/repository"
	"studyrewards-backend/internal/services"
)

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func requestID(r *http.Request) string {
	if id := chimiddleware.GetReqID(r.Context()); id != "" {
		return id
	}
	return r.Header.Get("X-Request-ID")
}

func errorResp(code, message string, r *http.Request) models.ErrorResponse {
	return models.ErrorResponse{
		Error: models.APIError{
			Code:      code,
			Message:   message,
			RequestID: requestID(r),
		},
	}
}

func errorRespWithFields(code, message string, fields map[string]string, r *http.Request) models.ErrorResponse {
	resp := errorResp(code, message, r)
	resp.Error.Fields = fields
	return resp
}

// handleServiceError maps service and repository errors to HTTP responses.
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, services.ErrSessionAlreadyActive):
		writeJSON(w, http.StatusConflict, errorResp("SESSION_ACTIVE", err.Error(), r))
	case errors.Is(err, services.ErrNoActiveSession):
		writeJSON(w, http.StatusNotFound, errorResp("NO_ACTIVE_SESSION", err.Error(), r))
	case errors.Is(err, repository.ErrUserNotFound):
		writeJSON(w, http.StatusNotFound, errorResp("USER_NOT_FOUND", err.Error(), r))
	case errors.Is(err, services.ErrInvalidDuration):
		writeJSON(w, http.StatusBadRequest, errorResp("INVALID_DURATION", err.Error(), r))
	default:
		log := logger.WithComponent("http")
		log.Error().Err(err).
			Str("path", r.URL.Path).
			Str("request_id", requestID(r)).
			Msg("unhandled service error")
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Something went wrong", r))
	}
}
