package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amplihack/claude-gateway/internal/config"
	"github.com/amplihack/claude-gateway/internal/metrics"
	"github.com/amplihack/claude-gateway/internal/resilience"
)

func healthResponse(t *testing.T, fallback *resilience.FallbackManager) map[string]any {
	t.Helper()

	mgr := config.NewManager()
	mgr.Store(config.Defaults())

	handler := NewHealthHandler(mgr, fallback, metrics.New(), testLogger())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)

	var out map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))

	return out
}

func TestHealth_OK(t *testing.T) {
	out := healthResponse(t, resilience.NewFallbackManager())

	assert.Equal(t, "ok", out["status"])
	assert.Equal(t, "openai", out["provider"])

	fb := out["fallback"].(map[string]any)
	assert.Equal(t, false, fb["active"])
}

func TestHealth_Degraded(t *testing.T) {
	fallback := resilience.NewFallbackManager()
	fallback.RecordFailure(resilience.Classification{Kind: resilience.KindAuthentication, StatusCode: 401})

	out := healthResponse(t, fallback)

	assert.Equal(t, "degraded", out["status"])

	fb := out["fallback"].(map[string]any)
	assert.Equal(t, true, fb["active"])
	assert.Greater(t, fb["cooldown_remaining_seconds"].(float64), 0.0)
}
