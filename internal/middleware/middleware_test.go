package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoUser() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(GetUserID(r.Context()).String()))
	})
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	return body.Error.Code
}

func TestJWTMiddleware(t *testing.T) {
	auth := NewJWTAuth("test-secret")
	userID := uuid.New()

	valid, err := auth.IssueToken(userID, time.Hour)
	require.NoError(t, err)
	expired, err := auth.IssueToken(userID, -time.Minute)
	require.NoError(t, err)
	foreign, err := NewJWTAuth("other-secret").IssueToken(userID, time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		status int
		code   string
	}{
		{"valid token", "Bearer " + valid, http.StatusOK, ""},
		{"missing header", "", http.StatusUnauthorized, "UNAUTHORIZED"},
		{"not bearer", "Basic " + valid, http.StatusUnauthorized, "UNAUTHORIZED"},
		{"expired", "Bearer " + expired, http.StatusUnauthorized, "TOKEN_EXPIRED"},
		{"wrong secret", "Bearer " + foreign, http.StatusUnauthorized, "UNAUTHORIZED"},
		{"garbage", "Bearer abc.def", http.StatusUnauthorized, "UNAUTHORIZED"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rr := httptest.NewRecorder()

			auth.Middleware(echoUser()).ServeHTTP(rr, req)

			require.Equal(t, tc.status, rr.Code)
			if tc.code == "" {
				assert.Equal(t, userID.String(), rr.Body.String())
				return
			}
			assert.Equal(t, tc.code, errorCode(t, rr))
		})
	}
}

func TestParseUserID_RejectsOtherAlgorithms(t *testing.T) {
	auth := NewJWTAuth("test-secret")
	// alg "none" token for a random user
	none := "eyJhbGciOiJub25lIiwidHlwIjoiSldUIn0.eyJ1c2VyX2lkIjoiNmYxYzJkN2UtOWEzNS00ZDhjLThmNGUtMGExYjJjM2Q0ZTVmIn0."

	_, err := auth.ParseUserID(none)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestRateLimit(t *testing.T) {
	limited := RateLimit(RateLimitConfig{RequestLimit: 2, WindowSize: time.Minute})(echoUser())

	for i := 0; i < 2; i++ {
		rr := httptest.NewRecorder()
		limited.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
		require.Equal(t, http.StatusOK, rr.Code)
	}

	rr := httptest.NewRecorder()
	limited.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "60", rr.Header().Get("Retry-After"))
	assert.Equal(t, "RATE_LIMITED", errorCode(t, rr))
}

func TestKeyByUser(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	key, err := KeyByUser(req)
	require.NoError(t, err)
	assert.NotContains(t, key, "user:")

	id := uuid.New()
	key, err = KeyByUser(req.WithContext(WithUserID(req.Context(), id)))
	require.NoError(t, err)
	assert.Equal(t, "user:"+id.String(), key)
}
