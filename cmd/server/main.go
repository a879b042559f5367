/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the settlement engine server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration from the environment
  2. Initialize SQLite store
  3. Start the event dispatcher
  4. Wire the handshake processor and the expiry sweep
     (they share one per-ride lock set)
  5. Configure HTTP router
  6. Start server with graceful shutdown

CONFIGURATION (environment, -port/-db flags take precedence):
  PORT                  HTTP server port (default: 8080)
  DB_PATH               SQLite database path (default: ./settlement.db)
                        Use ":memory:" for in-memory database
  CURRENCY              Wallet currency (default: INR)
  RIDE_VALIDITY_WINDOW  Code validity window (default: 24h)
  SWEEP_SCHEDULE        Cron spec for the expiry sweep (default: 0 * * * *)
  LOCK_WAIT             Bounded wait on a contended ride (default: 3s)
  EVENT_BUFFER          Dispatcher queue size (default: 256)
  LOG_LEVEL             logrus level (default: info)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the sweep scheduler and drain the event queue
  4. Close database connection
  5. Exit

SEE ALSO:
  - api/server.go: Router configuration
  - config/config.go: Environment configuration
  - sweep/sweep.go: The hourly expiry sweep
*/
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/uma/settlement-engine/api"
	"github.com/uma/settlement-engine/config"
	"github.com/uma/settlement-engine/events"
	"github.com/uma/settlement-engine/handshake"
	"github.com/uma/settlement-engine/store/sqlite"
	"github.com/uma/settlement-engine/sweep"
)

func main() {
	port := flag.Int("port", 0, "HTTP server port (overrides PORT)")
	dbPath := flag.String("db", "", "SQLite database path (overrides DB_PATH)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}

	if level, err := log.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	// Initialize store
	store, err := sqlite.New(cfg.DBPath, cfg.Currency)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	// Event dispatcher: completion, strike and ban notifications.
	// Consumers are fire-and-forget; none registered by default.
	dispatcher := events.NewDispatcher(cfg.EventBuffer,
		events.ConsumerFunc(func(e events.Event) error {
			log.WithFields(log.Fields{
				"kind":    e.Kind,
				"account": e.AccountID,
				"ride":    e.RideID,
			}).Debug("event")
			return nil
		}))
	dispatcher.Start()
	defer dispatcher.Stop()

	// The processor and the sweep share one lock set so a scan and an
	// expiry can never race on the same ride.
	locks := handshake.NewKeyedMutex()

	processor := handshake.NewProcessor(store, store, locks, dispatcher)
	processor.Window = cfg.RideValidityWindow
	processor.LockWait = cfg.LockWait

	sweeper := sweep.New(store, store, locks, dispatcher)
	sweeper.Window = cfg.RideValidityWindow
	sweeper.LockWait = cfg.LockWait
	sweeper.Schedule = cfg.SweepSchedule

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := sweeper.Start(ctx); err != nil {
		log.Fatalf("Failed to start expiry sweep: %v", err)
	}
	defer sweeper.Stop()

	// HTTP
	handler := api.NewHandler(store, processor, cfg.Currency)
	router := api.NewRouter(handler)

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Infof("Server starting on http://localhost%s", cfg.Addr())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Info("Server stopped")
}
