package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/amplihack/claude-gateway/internal/config"
	"github.com/amplihack/claude-gateway/internal/metrics"
	"github.com/amplihack/claude-gateway/internal/resilience"
)

// HealthHandler serves /health with the active routing target and the
// fallback circuit state.
type HealthHandler struct {
	config   *config.Manager
	fallback *resilience.FallbackManager
	metrics  *metrics.Registry
	logger   *slog.Logger
}

func NewHealthHandler(config *config.Manager, fallback *resilience.FallbackManager, registry *metrics.Registry, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		config:   config,
		fallback: fallback,
		metrics:  registry,
		logger:   logger,
	}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	cfg := h.config.Get()
	snapshot := h.fallback.Snapshot()

	if snapshot.Active {
		h.metrics.FallbackActive.Set(1)
	} else {
		h.metrics.FallbackActive.Set(0)
	}

	status := "ok"
	if snapshot.Active {
		status = "degraded"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	err := json.NewEncoder(w).Encode(map[string]any{
		"status":   status,
		"provider": cfg.PreferredProvider,
		"base_url": cfg.BaseURL,
		"models": map[string]string{
			"big":    cfg.BigModel,
			"middle": cfg.MiddleModel,
			"small":  cfg.SmallModel,
		},
		"fallback": snapshot,
	})
	if err != nil {
		h.logger.Error("Failed to write health check response", "error", err)
	}
}
