package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/amplihack/claude-gateway/internal/config"
	"github.com/amplihack/claude-gateway/internal/handlers"
	"github.com/amplihack/claude-gateway/internal/metrics"
	"github.com/amplihack/claude-gateway/internal/middleware"
	"github.com/amplihack/claude-gateway/internal/resilience"
	"github.com/amplihack/claude-gateway/internal/router"
	"github.com/amplihack/claude-gateway/internal/upstream"
)

type Server struct {
	config   *config.Manager
	logger   *slog.Logger
	fallback *resilience.FallbackManager
	metrics  *metrics.Registry
	server   *http.Server
}

func New(configManager *config.Manager, logger *slog.Logger) *Server {
	return &Server{
		config:   configManager,
		logger:   logger,
		fallback: resilience.NewFallbackManager(),
		metrics:  metrics.New(),
	}
}

func (s *Server) Start() error {
	cfg := s.config.Get()
	if cfg == nil {
		return fmt.Errorf("configuration not loaded")
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	mux := s.setupRoutes(cfg)

	s.server = &http.Server{
		Addr:    addr,
		Handler: mux,
		// Streaming responses can legitimately run for the full proxy
		// timeout, so no WriteTimeout here; the upstream client bounds every
		// backend call instead.
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("Starting gateway",
		"address", addr,
		"provider", cfg.PreferredProvider,
		"base_url", cfg.BaseURL,
	)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Server error", "error", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	s.logger.Info("Gateway is shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	s.logger.Info("Gateway exited")

	return nil
}

func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

func (s *Server) setupRoutes(cfg *config.Config) *http.ServeMux {
	mux := http.NewServeMux()

	rt := router.New(cfg, s.logger)
	client := upstream.NewClient(cfg.ProxyTimeout, s.logger)

	messagesHandler := handlers.NewMessagesHandler(s.config, rt, client, s.fallback, s.metrics, s.logger)
	tokensHandler := handlers.NewCountTokensHandler(s.logger)
	healthHandler := handlers.NewHealthHandler(s.config, s.fallback, s.metrics, s.logger)

	middlewareSet := middleware.NewMiddlewareSet(s.config, s.logger)

	mux.Handle("/health", middlewareSet.HealthChain().Handler(healthHandler))
	mux.Handle("/metrics", middlewareSet.HealthChain().Handler(s.metrics.Handler()))
	mux.Handle("/v1/messages/count_tokens", middlewareSet.DefaultChain().Handler(tokensHandler))
	mux.Handle("/v1/messages", middlewareSet.DefaultChain().Handler(messagesHandler))
	mux.Handle("/", middlewareSet.DefaultChain().Handler(messagesHandler))

	return mux
}
