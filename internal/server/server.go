// Package server provides the main server orchestration for the Vigil
// monitoring system.
//
// This package coordinates the startup and shutdown of all core components:
//   - Storage initialization and migration
//   - Monitoring engine startup
//   - HTTP API server management
//   - Graceful shutdown handling
package server

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"vigil/internal/alerting"
	"vigil/internal/api"
	"vigil/internal/config"
	"vigil/internal/core"
	"vigil/internal/storage"
)

// shutdownTimeout bounds the graceful shutdown sequence.
const shutdownTimeout = 30 * time.Second

// Server represents the main Vigil server orchestrator.
//
// It ensures proper initialization order and handles graceful shutdown of
// all components.
type Server struct {
	cfg *config.Config
}

// New creates a new server instance with the provided configuration.
//
// The server is not started until Start() is called. This allows for proper
// dependency injection and testing.
func New(cfg *config.Config) *Server {
	return &Server{
		cfg: cfg,
	}
}

// logTriggers is the default alert sink: it logs every trigger event.
// Notification delivery transports plug in behind the same interface.
type logTriggers struct{}

func (logTriggers) Trigger(_ context.Context, event alerting.TriggerEvent) error {
	log.Warn().
		Str("policy_id", event.PolicyID).
		Str("monitor_id", event.MonitorID).
		Str("channel_id", event.ChannelID).
		Str("status", event.Status).
		Str("reason", event.Reason).
		Msg("Alert triggered")
	return nil
}

// Start initializes and starts all server components in the correct order.
//
// The startup sequence:
//  1. Storage initialization and migration
//  2. Core monitoring engine startup (scheduler, maintenance jobs)
//  3. HTTP API server launch
//  4. Signal handling and graceful shutdown
//
// This method blocks until the provided context is cancelled or the HTTP
// server encounters an unrecoverable error.
func (s *Server) Start(ctx context.Context) error {
	// Phase 1: storage. All other components depend on it.
	st, err := storage.New(s.cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close storage")
		}
	}()

	// Phase 2: core engine (scheduler, dispatch, sweeps, rollups).
	engine := core.NewEngine(s.cfg, st, logTriggers{})
	if err := engine.Start(ctx); err != nil {
		return fmt.Errorf("failed to start engine: %w", err)
	}

	// Phase 3: HTTP API server, in its own goroutine so we can block on
	// the shutdown signal.
	apiServer := api.NewServer(s.cfg.Server, engine, st)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- apiServer.Start()
	}()

	// Phase 4: wait for shutdown signal or server error.
	select {
	case err := <-serverErrors:
		engine.Stop()
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		log.Info().Msg("Shutdown signal received, starting graceful shutdown")
	}

	// Phase 5: graceful shutdown. Stop accepting requests first, then the
	// engine so in-flight work can finish against live storage.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	engine.Stop()

	log.Info().Msg("Server stopped gracefully")
	return nil
}
