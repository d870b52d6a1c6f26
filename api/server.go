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
  4. CORS:       Cross-origin requests for dashboards

ROUTE GROUPS:
  /api/units/*          Rental units and availability
  /api/vendors/*        Vendors and trial eligibility
  /api/agreements/*     Agreement lifecycle
  /api/revenue/*        Revenue calculation, projection and analytics
  /api/occupancy/*      Occupancy analysis
  /api/pipeline         Future contract pipeline
  /api/scenarios/*      Demo scenarios
  /metrics              Prometheus metrics
  /healthz              Liveness probe

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter creates a new router with all routes configured.
// An empty corsOrigins allows any origin.
func NewRouter(h *Handler, corsOrigins []string) *chi.Mux {
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: corsOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders: []string{"Content-Disposition"},
	}))

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Unit routes
		r.Route("/units", func(r chi.Router) {
			r.Get("/", h.ListUnits)
			r.Post("/", h.CreateUnit)
			r.Get("/available", h.FindAvailableUnits)
			r.Post("/availability", h.BatchAvailability)
			r.Get("/{id}/availability", h.GetUnitAvailability)
		})

		// Vendor routes
		r.Route("/vendors", func(r chi.Router) {
			r.Post("/", h.CreateVendor)
			r.Get("/{id}", h.GetVendor)
			r.Get("/{id}/trial-eligibility", h.GetTrialEligibility)
		})

		// Agreement routes
		r.Route("/agreements", func(r chi.Router) {
			r.Get("/", h.ListAgreements)
			r.Post("/", h.CreateAgreement)
			r.Get("/{id}", h.GetAgreement)
			r.Post("/{id}/status", h.TransitionStatus)
			r.Post("/{id}/cancel-trial", h.CancelTrialBooking)
		})

		// Revenue routes
		r.Route("/revenue", func(r chi.Router) {
			r.Get("/", h.GetRevenueRange)
			r.Post("/recalculate", h.RecalculateRange)
			r.Post("/refresh", h.RefreshAll)
			r.Get("/combined", h.GetCombinedRevenue)
			r.Get("/statistics", h.GetRevenueStatistics)
			r.Get("/trend", h.GetRevenueTrend)
			r.Get("/export.csv", h.ExportRevenueCSV)
			r.Get("/year-over-year/{year}", h.CompareYearOverYear)
			r.Post("/{month}/calculate", h.CalculateMonth)
			r.Get("/{month}/projection", h.ProjectMonth)
		})

		r.Get("/occupancy/{month}", h.GetOccupancy)
		r.Get("/pipeline", h.GetPipeline)

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	return r
}
