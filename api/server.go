/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the office frontend

ROUTE GROUPS:
  /api/items/*       Item catalog
  /api/locations/*   Location registry
  /api/balances/*    Balance projection reads + rebuild
  /api/ledger        Entry history
  /api/movements/*   Adjust / transfer / consume / receive
  /api/baseline/*    One-time stocktake seeding
  /api/integrity/*   Audit report and duplicate repair
  /api/healthz       Liveness + core-location check

SECURITY NOTE:
  No authentication middleware; the service runs behind the office gateway
  which terminates auth.

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

	r.Route("/api", func(r chi.Router) {
		// Item routes
		r.Route("/items", func(r chi.Router) {
			r.Get("/", h.ListItems)
			r.Post("/", h.CreateItem)
			r.Get("/{id}", h.GetItem)
		})

		// Location routes
		r.Route("/locations", func(r chi.Router) {
			r.Get("/", h.ListLocations)
			r.Post("/ensure", h.EnsureLocation)
			r.Post("/ensure-core", h.EnsureCoreLocations)
			r.Post("/deduplicate", h.DeduplicateLocation)
			r.Get("/{id}", h.GetLocation)
			r.Get("/{id}/balances", h.LocationBalances)
		})

		// Balance and ledger routes
		r.Route("/balances", func(r chi.Router) {
			r.Get("/", h.GetBalance)
			r.Post("/rebuild", h.RebuildBalance)
		})
		r.Get("/ledger", h.GetLedger)

		// Movement routes
		r.Route("/movements", func(r chi.Router) {
			r.Post("/adjust", h.Adjust)
			r.Post("/transfer", h.Transfer)
			r.Post("/consume", h.Consume)
			r.Post("/receive", h.Receive)
		})

		// Baseline seeding routes
		r.Route("/baseline", func(r chi.Router) {
			r.Post("/propose", h.BaselinePropose)
			r.Post("/execute", h.BaselineExecute)
			r.Get("/runs", h.BaselineRuns)
		})

		// Integrity routes
		r.Route("/integrity", func(r chi.Router) {
			r.Get("/report", h.IntegrityReport)
			r.Post("/repair-duplicates", h.RepairDuplicates)
		})

		r.Get("/healthz", h.Healthz)
	})

	return r
}
