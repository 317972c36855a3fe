/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route
  definitions. This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the dashboard frontend

ROUTE GROUPS:
  /webhooks/*           Provider event intake (always ACKed)
  /api/users/*          Point balance and ledger history
  /api/redemptions      Gift redemption
  /api/rules/*          Payout rule administration
  /api/tax-rates/*      Tax rate administration
  /api/settlements/*    Settlement batch lifecycle
  /api/inbox/score      Triage queue ordering
  /api/admin/*          Operator sweeps (failed events, audit trail)

SECURITY NOTE:
  No authentication middleware here; the surrounding dashboard handles
  sessions and proxies these routes.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// Provider webhooks. Not under /api: providers get their own prefix
	// and an unconditional ACK.
	r.Route("/webhooks", func(r chi.Router) {
		r.Post("/payment", h.PaymentWebhook)
		r.Post("/messaging", h.MessagingWebhook)
	})

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Route("/users", func(r chi.Router) {
			r.Get("/{id}/balance", h.GetBalance)
			r.Get("/{id}/ledger", h.GetLedger)
		})

		r.Post("/redemptions", h.Redeem)

		r.Route("/rules", func(r chi.Router) {
			r.Get("/", h.ListRules)
			r.Post("/", h.CreateRule)
			r.Post("/{id}/deactivate", h.DeactivateRule)
		})

		r.Route("/tax-rates", func(r chi.Router) {
			r.Get("/", h.ListTaxRates)
			r.Post("/", h.CreateTaxRate)
		})

		r.Route("/settlements", func(r chi.Router) {
			r.Get("/", h.ListBatches)
			r.Post("/", h.CreateBatch)
			r.Get("/{id}", h.GetBatch)
			r.Get("/{id}/calculations", h.GetBatchCalculations)
			r.Post("/{id}/approve", h.ApproveBatch)
			r.Post("/{id}/pay", h.MarkBatchPaid)
		})

		r.Post("/inbox/score", h.ScoreInbox)

		r.Route("/admin", func(r chi.Router) {
			r.Get("/webhook-events/failed", h.ListFailedEvents)
			r.Post("/webhook-events/{provider}/{eventID}/reprocess", h.ReprocessEvent)
			r.Get("/audit", h.QueryAudit)
		})
	})

	return r
}
