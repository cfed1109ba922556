package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		if s.metrics != nil {
			r.Handle("/metrics", s.metrics)
		}

		r.Route("/tenants/{tenantID}", func(r chi.Router) {
			// Tenant-wide telemetry fan-out
			r.Get("/telemetry", s.handleTenantTelemetry)

			r.Route("/devices", func(r chi.Router) {
				r.Post("/status", s.handleBulkDeviceStatus)

				r.Route("/{deviceID}", func(r chi.Router) {
					r.Route("/telemetry", func(r chi.Router) {
						r.Post("/", s.handleWriteTelemetry)
						r.Get("/", s.handleQueryTelemetry)
						r.Delete("/", s.handleDeleteTelemetry)
						r.Get("/latest", s.handleLatestTelemetry)
						r.Get("/aggregate", s.handleAggregateTelemetry)
					})
					r.Get("/status", s.handleDeviceStatus)
				})
			})
		})
	})

	return r
}

// handleHealth returns the server health status and backend reachability.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":            "ok",
		"version":           s.version,
		"backend_available": s.telemetry.Available(),
	})
}
