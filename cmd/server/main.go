// Package main is the entry point for the Quorum multi-agent coordination
// engine. It wires the message bus, decision coordinator, weight adjuster,
// and portfolio allocator together and exposes them over HTTP.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/aristath/quorum/internal/allocation"
	"github.com/aristath/quorum/internal/bus"
	"github.com/aristath/quorum/internal/config"
	"github.com/aristath/quorum/internal/coordination"
	"github.com/aristath/quorum/internal/engine"
	"github.com/aristath/quorum/internal/server"
	"github.com/aristath/quorum/internal/weights"
	"github.com/aristath/quorum/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		bootLog := logger.New(logger.Config{Level: "info", Pretty: true})
		bootLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Initialize logger
	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})

	log.Info().Msg("Starting Quorum coordination engine")

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatal().Err(err).Str("dir", cfg.DataDir).Msg("Failed to create data directory")
	}

	// Message bus
	b := bus.New(cfg.BusConfig())
	b.SetLogger(log)
	b.Start()
	defer b.Stop()

	// Weight adjuster with sqlite-backed persistence
	adjuster := weights.New(cfg.WeightsConfig())
	adjuster.SetLogger(log)

	repo, err := weights.Open(filepath.Join(cfg.DataDir, "weights.db"), log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open weights database")
	}
	defer repo.Close()
	if err := adjuster.SetRepository(repo); err != nil {
		log.Fatal().Err(err).Msg("Failed to restore weight state")
	}

	// Decision coordinator
	coordinator := coordination.New(cfg.CoordinatorConfig(), adjuster)
	coordinator.SetLogger(log)

	// Portfolio allocator
	allocator := allocation.New(cfg.AllocationConfig())
	allocator.SetLogger(log)

	// Coordination cycle engine
	eng := engine.New(engine.Config{
		CycleInterval:     cfg.CycleInterval,
		RebalanceInterval: cfg.RebalanceInterval,
	}, b, coordinator, adjuster, allocator)
	eng.SetLogger(log)
	if err := eng.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start engine")
	}
	defer eng.Stop()

	// HTTP server
	srv := server.New(server.Config{
		Port:        cfg.Port,
		DevMode:     cfg.DevMode,
		Log:         log,
		Bus:         b,
		Coordinator: coordinator,
		Adjuster:    adjuster,
		Engine:      eng,
	})

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("Server started successfully")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Stopped")
}
