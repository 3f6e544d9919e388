package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"
	"github.com/google/uuid"
)

// RateLimitConfig configures RateLimit.
type RateLimitConfig struct {
	RequestLimit int
	WindowSize   time.Duration
	// KeyFunc defaults to the client IP.
	KeyFunc httprate.KeyFunc
}

// RateLimit limits requests per key with a sliding window and answers 429 in
// the API's JSON error shape.
func RateLimit(cfg RateLimitConfig) func(http.Handler) http.Handler {
	keyFunc := cfg.KeyFunc
	if keyFunc == nil {
		keyFunc = httprate.KeyByIP
	}

	return httprate.Limit(
		cfg.RequestLimit,
		cfg.WindowSize,
		httprate.WithKeyFuncs(keyFunc),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", strconv.Itoa(int(cfg.WindowSize.Seconds())))
			writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests. Please try again later.", r)
		}),
	)
}

// KeyByUser keys on the authenticated user, falling back to the client IP
// for requests that have none. Mount it after JWTAuth.Middleware.
func KeyByUser(r *http.Request) (string, error) {
	if id := GetUserID(r.Context()); id != uuid.Nil {
		return "user:" + id.String(), nil
	}
	return httprate.KeyByIP(r)
}
