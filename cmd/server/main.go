/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the revenue engine server. Handles configuration,
  dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env (optional) and parse command-line flags
  2. Initialize SQLite store (also serves as the audit log)
  3. Wire the idempotency gate, ledger, redemption orchestrator,
     and settlement service
  4. Configure HTTP router
  5. Start server with graceful shutdown

CONFIGURATION:
  Flags override environment, environment overrides defaults.
  -port / PORT                 HTTP server port (default: 8080)
  -db   / DATABASE_URL         SQLite database path (default: revenue.db)
                               Use ":memory:" for in-memory database
  MAX_REDEMPTIONS_PER_DAY      Per-user daily redemption cap (default: 50)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close database connection
  4. Exit

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/coachops/revenue-engine/api"
	"github.com/coachops/revenue-engine/core"
	"github.com/coachops/revenue-engine/ledger"
	"github.com/coachops/revenue-engine/redemption"
	"github.com/coachops/revenue-engine/settlement"
	"github.com/coachops/revenue-engine/store/sqlite"
	"github.com/coachops/revenue-engine/webhook"
)

func main() {
	// .env is optional; flags and real environment win.
	if err := godotenv.Load(); err == nil {
		log.Println("Loaded configuration from .env")
	}

	port := flag.Int("port", envInt("PORT", 8080), "HTTP server port")
	dbPath := flag.String("db", envStr("DATABASE_URL", "revenue.db"), "SQLite database path")
	flag.Parse()

	// Initialize store. The store also implements the audit log.
	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	cfg := core.DefaultConfig()
	cfg.MaxRedemptionsPerUserPerDay = envInt("MAX_REDEMPTIONS_PER_DAY", cfg.MaxRedemptionsPerUserPerDay)

	// Wire domain services
	ldg := ledger.New(store)
	gate := webhook.NewGate(store, store)
	redeemer := redemption.New(redemption.Deps{
		Ledger:      ldg,
		Rules:       store,
		TaxRates:    store,
		Revenue:     store,
		Redemptions: store,
		Audit:       store,
	}, cfg)
	settlements := settlement.NewService(store, store)

	handler := api.NewHandler(store, gate, ldg, redeemer, settlements)
	router := api.NewRouter(handler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Revenue engine starting on http://localhost:%d", *port)
		log.Printf("API available at http://localhost:%d/api", *port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
