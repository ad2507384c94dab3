/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the settlement engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration from environment (.env honored in dev)
  2. Initialize logger and SQLite store
  3. Seed cycle settings from env on first boot
  4. Create API handler, router, and snapshot scheduler
  5. Start server with graceful shutdown

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the snapshot scheduler
  4. Close database connection
  5. Exit

EXAMPLES:
  # Run with file database
  DATABASE_PATH=./data/settlement.db ./server

  # Run with in-memory database
  DATABASE_PATH=":memory:" ./server

  # Run on different port with pretty logs
  PORT=3000 DEV_MODE=true ./server

SEE ALSO:
  - config/config.go: Environment variables
  - api/server.go: Router configuration
  - api/scheduler.go: Background snapshot recording
*/
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/haulpay/settlement-engine/api"
	"github.com/haulpay/settlement-engine/config"
	"github.com/haulpay/settlement-engine/cycle"
	"github.com/haulpay/settlement-engine/logger"
	"github.com/haulpay/settlement-engine/store/sqlite"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.DevMode})

	// Initialize store
	store, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize database")
	}
	defer store.Close()

	// First boot: persist the cycle settings from the environment so the
	// API and the scheduler see the same configuration from day one.
	settings, err := store.GetSettings(context.Background())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to read settings")
	}
	if settings.UpdatedAt.IsZero() {
		seed := sqlite.Settings{
			AnchorWeekday: cycle.WeekdayName(cycle.ParseWeekday(cfg.AnchorWeekday)),
			BusinessDays:  cfg.BusinessDays,
			CutoffHour:    cfg.CutoffHour,
		}
		if err := store.SaveSettings(context.Background(), seed); err != nil {
			log.Fatal().Err(err).Msg("failed to seed settings")
		}
		log.Info().
			Str("anchor_weekday", seed.AnchorWeekday).
			Int("business_days", seed.BusinessDays).
			Int("cutoff_hour", seed.CutoffHour).
			Msg("seeded cycle settings")
	}

	// Initialize handler and router
	handler := api.NewHandler(store, log)
	router := api.NewRouter(handler)

	// Background snapshot recording
	scheduler := api.NewSnapshotScheduler(store, log)
	if err := scheduler.Start(); err != nil {
		log.Fatal().Err(err).Msg("failed to start snapshot scheduler")
	}

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().Int("port", cfg.Port).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}
	scheduler.Stop()

	log.Info().Msg("server stopped")
}
