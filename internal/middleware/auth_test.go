package middleware

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/amplihack/claude-gateway/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func authHandler(apiKey string) http.Handler {
	cfg := config.Defaults()
	cfg.APIKey = apiKey

	mgr := config.NewManager()
	mgr.Store(cfg)

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	return NewAuthMiddleware(mgr, testLogger())(next)
}

func TestAuth_NoKeyConfiguredSkips(t *testing.T) {
	rr := httptest.NewRecorder()
	authHandler("").ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/messages", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestAuth_HealthAlwaysAllowed(t *testing.T) {
	rr := httptest.NewRecorder()
	authHandler("secret").ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestAuth_BearerToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", nil)
	req.Header.Set("Authorization", "Bearer secret")

	rr := httptest.NewRecorder()
	authHandler("secret").ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestAuth_XAPIKeyHeader(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", nil)
	req.Header.Set("X-API-Key", "secret")

	rr := httptest.NewRecorder()
	authHandler("secret").ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestAuth_Rejections(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*http.Request)
	}{
		{"no token", func(*http.Request) {}},
		{"wrong bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer wrong") }},
		{"wrong header key", func(r *http.Request) { r.Header.Set("X-API-Key", "wrong") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/messages", nil)
			tt.setup(req)

			rr := httptest.NewRecorder()
			authHandler("secret").ServeHTTP(rr, req)

			assert.Equal(t, http.StatusUnauthorized, rr.Code)
		})
	}
}

func TestTelemetry_Intercepted(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("telemetry request should not reach the next handler")
	})

	handler := NewTelemetryMiddleware(testLogger())(next)

	req := httptest.NewRequest(http.MethodPost, "/v1/rgstr", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusAccepted, rr.Code)
	assert.JSONEq(t, `{"success":true}`, rr.Body.String())
}

func TestTelemetry_PassesNormalTraffic(t *testing.T) {
	reached := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
	})

	handler := NewTelemetryMiddleware(testLogger())(next)

	req := httptest.NewRequest(http.MethodPost, "/v1/messages", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.True(t, reached)
}
