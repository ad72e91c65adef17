package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mir00r/subscriber-dbi/internal/config"
	"github.com/mir00r/subscriber-dbi/pkg/logger"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestLoggingMiddlewareAssignsRequestID(t *testing.T) {
	log := logger.NewNop()
	hook := test.NewLocal(log.Logger)

	var seen string
	h := LoggingMiddleware(log)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
		w.WriteHeader(http.StatusNotFound)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/apns", nil))

	require.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.WarnLevel, entry.Level)
	assert.Equal(t, http.StatusNotFound, entry.Data["status_code"])
	assert.Equal(t, seen, entry.Data["request_id"])
}

func TestLoggingMiddlewareKeepsIncomingRequestID(t *testing.T) {
	h := LoggingMiddleware(logger.NewNop())(okHandler)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "abc-123", rec.Header().Get(RequestIDHeader))
}

func TestRecoveryMiddleware(t *testing.T) {
	h := RecoveryMiddleware(logger.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	assert.NotPanics(t, func() {
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestSecurityHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SecurityHeadersMiddleware()(okHandler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
}

func TestRateLimiterPerClient(t *testing.T) {
	rl := NewRateLimiter(config.RateLimitConfig{Enabled: true, RequestsPerSecond: 0.001, BurstSize: 2}, nil)
	h := rl.RateLimitMiddleware()(okHandler)

	send := func(remote string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/interface", nil)
		req.RemoteAddr = remote
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, send("10.0.0.1:1000"))
	assert.Equal(t, http.StatusOK, send("10.0.0.1:1001"), "port does not split a client")
	assert.Equal(t, http.StatusTooManyRequests, send("10.0.0.1:1002"))
	assert.Equal(t, http.StatusOK, send("10.0.0.2:1000"))

	assert.Equal(t, 2, rl.GetStats()["active_clients"])
}

func TestGetClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:5000"
	assert.Equal(t, "192.0.2.1", getClientIP(req))

	req.Header.Set("X-Real-IP", "198.51.100.7")
	assert.Equal(t, "198.51.100.7", getClientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")
	assert.Equal(t, "203.0.113.5", getClientIP(req))
}

func TestJWTDisabledIsPassThrough(t *testing.T) {
	jm, err := NewJWTAuthMiddleware(config.JWTConfig{Enabled: false}, nil)
	require.NoError(t, err)
	require.Nil(t, jm)

	rec := httptest.NewRecorder()
	jm.JWTAuth()(okHandler).ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/api/v1/interface", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestJWTRequiresSecret(t *testing.T) {
	_, err := NewJWTAuthMiddleware(config.JWTConfig{Enabled: true}, nil)
	assert.Error(t, err)
}

func TestJWTAuth(t *testing.T) {
	cfg := config.JWTConfig{Enabled: true, Secret: "s3cret", Issuer: "subscriber-dbi"}
	jm, err := NewJWTAuthMiddleware(cfg, nil)
	require.NoError(t, err)

	valid, err := jm.IssueToken("operator", time.Minute)
	require.NoError(t, err)
	expired, err := jm.IssueToken("operator", -time.Minute)
	require.NoError(t, err)

	other, err := NewJWTAuthMiddleware(config.JWTConfig{Enabled: true, Secret: "other", Issuer: "subscriber-dbi"}, nil)
	require.NoError(t, err)
	wrongKey, err := other.IssueToken("operator", time.Minute)
	require.NoError(t, err)

	foreign, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    "someone-else",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}).SignedString([]byte("s3cret"))
	require.NoError(t, err)

	var subject string
	h := jm.JWTAuth()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject = SubjectFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name   string
		method string
		auth   string
		want   int
	}{
		{"safe method without token", http.MethodGet, "", http.StatusOK},
		{"mutation without token", http.MethodPut, "", http.StatusUnauthorized},
		{"mutation with valid token", http.MethodPost, "Bearer " + valid, http.StatusOK},
		{"lower-case scheme", http.MethodDelete, "bearer " + valid, http.StatusOK},
		{"expired token", http.MethodPut, "Bearer " + expired, http.StatusUnauthorized},
		{"wrong key", http.MethodPut, "Bearer " + wrongKey, http.StatusUnauthorized},
		{"wrong issuer", http.MethodPut, "Bearer " + foreign, http.StatusUnauthorized},
		{"not a bearer token", http.MethodPut, "Basic abc", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			subject = ""
			req := httptest.NewRequest(tt.method, "/api/v1/interface", nil)
			if tt.auth != "" {
				req.Header.Set("Authorization", tt.auth)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.want, rec.Code)
			if tt.want == http.StatusUnauthorized {
				var body map[string]string
				require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
				assert.Equal(t, "UNAUTHENTICATED", body["code"])
				assert.Equal(t, "Bearer", rec.Header().Get("WWW-Authenticate"))
			}
			if tt.want == http.StatusOK && tt.auth != "" {
				assert.Equal(t, "operator", subject)
			}
		})
	}
}
