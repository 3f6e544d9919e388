package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studyrewards-backend/internal/middleware"
	"studyrewards-backend/internal/models"
	"studyrewards-backend/internal/repository"
	"studyrewards-backend/internal/services"
)

type fakeSessions struct {
	startErr  error
	cancelErr error
	statusErr error
	started   []int
	cancelled []uuid.UUID
}

func (f *fakeSessions) Start(_ context.Context, userID uuid.UUID, minutes int) (*models.SessionDescriptor, error) {
	if f.startErr != nil {
		return nil, f.startErr
	}
	f.started = append(f.started, minutes)
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	return &models.SessionDescriptor{
		UserID:          userID,
		Generation:      uuid.New(),
		StartTime:       start,
		DurationMinutes: minutes,
		Deadline:        start.Add(time.Duration(minutes) * time.Minute),
	}, nil
}

func (f *fakeSessions) Cancel(_ context.Context, userID uuid.UUID) error {
	if f.cancelErr != nil {
		return f.cancelErr
	}
	f.cancelled = append(f.cancelled, userID)
	return nil
}

func (f *fakeSessions) Status(_ context.Context, _ uuid.UUID) (*models.SessionStatusView, error) {
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	return &models.SessionStatusView{Status: models.SessionIdle, CompletedSessionCount: 3, BadgesIssued: []models.Tier{}}, nil
}

func (f *fakeSessions) DurationOptions() []int {
	return []int{2, 50}
}

func newTestRouter(sessions SessionManager, userID uuid.UUID) http.Handler {
	h := NewStudySessionHandler(sessions)
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Get("/options", h.Options)
	r.Group(func(r chi.Router) {
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
				next.ServeHTTP(w, req.WithContext(middleware.WithUserID(req.Context(), userID)))
			})
		})
		r.Post("/start", h.Start)
		r.Post("/cancel", h.Cancel)
		r.Get("/current", h.Current)
	})
	return r
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) models.APIError {
	t.Helper()
	var resp models.ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	return resp.Error
}

func TestStart_Created(t *testing.T) {
	fake := &fakeSessions{}
	userID := uuid.New()
	rr := do(t, newTestRouter(fake, userID), http.MethodPost, "/start", `{"duration_minutes":50}`)

	require.Equal(t, http.StatusCreated, rr.Code)
	var desc models.SessionDescriptor
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &desc))
	assert.Equal(t, userID, desc.UserID)
	assert.Equal(t, 50, desc.DurationMinutes)
	assert.Equal(t, []int{50}, fake.started)
}

func TestStart_RejectsBadInput(t *testing.T) {
	fake := &fakeSessions{}
	router := newTestRouter(fake, uuid.New())

	rr := do(t, router, http.MethodPost, "/start", `{"duration_minutes":`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "INVALID_REQUEST", decodeError(t, rr).Code)

	rr = do(t, router, http.MethodPost, "/start", `{"duration_minutes":30}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	apiErr := decodeError(t, rr)
	assert.Equal(t, "INVALID_DURATION", apiErr.Code)
	assert.Equal(t, "must be one of 2, 50", apiErr.Fields["duration_minutes"])
	assert.NotEmpty(t, apiErr.RequestID)

	assert.Empty(t, fake.started)
}

func TestServiceErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"already active", services.ErrSessionAlreadyActive, http.StatusConflict, "SESSION_ACTIVE"},
		{"invalid duration", services.ErrInvalidDuration, http.StatusBadRequest, "INVALID_DURATION"},
		{"unknown user", repository.ErrUserNotFound, http.StatusNotFound, "USER_NOT_FOUND"},
		{"wrapped", errors.Join(errors.New("load"), repository.ErrUserNotFound), http.StatusNotFound, "USER_NOT_FOUND"},
		{"store down", errors.New("connection refused"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			fake := &fakeSessions{startErr: tc.err}
			rr := do(t, newTestRouter(fake, uuid.New()), http.MethodPost, "/start", `{"duration_minutes":2}`)

			require.Equal(t, tc.status, rr.Code)
			assert.Equal(t, tc.code, decodeError(t, rr).Code)
		})
	}
}

func TestCancel(t *testing.T) {
	userID := uuid.New()
	fake := &fakeSessions{}
	rr := do(t, newTestRouter(fake, userID), http.MethodPost, "/cancel", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []uuid.UUID{userID}, fake.cancelled)

	fake = &fakeSessions{cancelErr: services.ErrNoActiveSession}
	rr = do(t, newTestRouter(fake, userID), http.MethodPost, "/cancel", "")
	require.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "NO_ACTIVE_SESSION", decodeError(t, rr).Code)
}

func TestCurrent(t *testing.T) {
	rr := do(t, newTestRouter(&fakeSessions{}, uuid.New()), http.MethodGet, "/current", "")
	require.Equal(t, http.StatusOK, rr.Code)

	var view models.SessionStatusView
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &view))
	assert.Equal(t, models.SessionIdle, view.Status)
	assert.Equal(t, 3, view.CompletedSessionCount)
}

func TestOptions(t *testing.T) {
	rr := do(t, newTestRouter(&fakeSessions{}, uuid.New()), http.MethodGet, "/options", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"duration_minutes":[2,50]}`, rr.Body.String())
}
