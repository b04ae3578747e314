package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/gray-logic-vdev/internal/auth"
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

	// Prometheus exposition for scrapers.
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	read := s.require(auth.PermDeviceRead)
	trigger := s.require(auth.PermDeviceTrigger)
	configure := s.require(auth.PermDeviceConfigure)
	writeDatapoint := s.require(auth.PermDatapointWrite)

	r.Route("/api/v1", func(r chi.Router) {
		// Health check and system metrics (no auth required)
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)

		r.With(read).Post("/auth/ws-ticket", s.handleWSTicket)

		r.Route("/devices", func(r chi.Router) {
			r.With(read).Get("/", s.handleListDevices)
			r.With(configure).Post("/", s.handleCreateDevice)

			r.Route("/{id}", func(r chi.Router) {
				r.With(read).Get("/", s.handleGetDevice)
				r.With(configure).Patch("/", s.handleUpdateDevice)
				r.With(configure).Delete("/", s.handleDeleteDevice)
				r.With(trigger).Post("/transitions/{name}", s.handleTrigger)
				r.With(trigger).Post("/abort", s.handleAbort)
				r.With(read).Get("/runs", s.handleListRuns)
			})
		})

		r.Route("/runs", func(r chi.Router) {
			r.With(read).Get("/active", s.handleActiveRuns)
			r.With(read).Get("/{runID}", s.handleGetRun)
		})

		r.With(configure).Get("/audit", s.handleListAudit)

		r.With(read).Get("/datapoints", s.handleListDatapoints)
		r.With(writeDatapoint).Put("/datapoints/*", s.handlePutDatapoint)

		// WebSocket (auth via ticket, validated in handler)
		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{
		"status":      "ok",
		"version":     s.version,
		"devices":     s.registry.Count(),
		"active_runs": len(s.controller.Active()),
	}
	if s.mqtt != nil {
		resp["mqtt_connected"] = s.mqtt.IsConnected()
	}
	writeJSON(w, http.StatusOK, resp)
}
