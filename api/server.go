/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/drivers/*        Driver management and statements
  /api/loads/*          Load entry and overrides
  /api/cycles/*         Cycle enumeration
  /api/settings         Cycle configuration
  /api/payouts          Multi-driver rollup and exports
  /api/snapshots        Recorded settlements

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - export.go: CSV/XLSX export handlers
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

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Driver routes
		r.Route("/drivers", func(r chi.Router) {
			r.Get("/", h.ListDrivers)
			r.Post("/", h.CreateDriver)
			r.Get("/{id}", h.GetDriver)
			r.Delete("/{id}", h.DeleteDriver)
			r.Get("/{id}/statement", h.GetDriverStatement)
			r.Get("/{id}/statement/export", h.ExportStatement)
		})

		// Load routes
		r.Route("/loads", func(r chi.Router) {
			r.Get("/", h.ListLoads)
			r.Post("/", h.CreateLoad)
			r.Put("/{id}/override", h.SetOverride)
			r.Delete("/{id}", h.DeleteLoad)
		})

		// Cycle routes
		r.Route("/cycles", func(r chi.Router) {
			r.Get("/", h.ListCycles)
			r.Get("/current", h.CurrentCycle)
		})

		// Settings routes
		r.Get("/settings", h.GetSettings)
		r.Put("/settings", h.UpdateSettings)

		// Payout routes
		r.Route("/payouts", func(r chi.Router) {
			r.Get("/", h.GetPayouts)
			r.Get("/export", h.ExportPayouts)
		})

		// Snapshot routes
		r.Get("/snapshots", h.ListSnapshots)
	})

	return r
}
