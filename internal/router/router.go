package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"studyrewards-backend/internal/handlers"
	"studyrewards-backend/internal/middleware"
)

// Limits per minute.
const (
	sessionWriteLimit = 30
	socketLimit       = 20
)

func New(
	jwtAuth *middleware.JWTAuth,
	studySessionHandler *handlers.StudySessionHandler,
	wsHandler http.HandlerFunc,
) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {

		// ──── Study Session Routes ────
		r.Route("/sessions", func(r chi.Router) {
			r.Get("/options", studySessionHandler.Options) // Public

			r.Group(func(r chi.Router) {
				r.Use(jwtAuth.Middleware)
				r.Get("/current", studySessionHandler.Current)

				r.Group(func(r chi.Router) {
					r.Use(middleware.RateLimit(middleware.RateLimitConfig{
						RequestLimit: sessionWriteLimit,
						WindowSize:   time.Minute,
						KeyFunc:      middleware.KeyByUser,
					}))
					r.Post("/start", studySessionHandler.Start)
					r.Post("/cancel", studySessionHandler.Cancel)
				})
			})
		})

		// ──── WebSocket ────
		r.With(middleware.RateLimit(middleware.RateLimitConfig{
			RequestLimit: socketLimit,
			WindowSize:   time.Minute,
		})).Get("/ws", wsHandler)
	})

	return r
}
