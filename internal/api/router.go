package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	cors := newCORSPolicy(s.cfg.CORS.AllowedOrigins, s.cfg.CORS.AllowedMethods, s.cfg.CORS.AllowedHeaders)

	r.Use(withRequestID)
	r.Use(s.accessLog)
	r.Use(s.recoverJSON)
	r.Use(cors.handler)
	r.Use(middleware.RequestSize(maxRequestBodySize))

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)

		r.Route("/snapcast", func(r chi.Router) {
			r.Get("/status", s.handleSnapcastStatus)
			r.Get("/stats", s.handleSnapcastStats)
			r.Get("/version", s.handleSnapcastVersion)
			r.Get("/clients/{id}", s.handleGetClient)
			r.Delete("/clients/{id}", s.handleDeleteClient)
			r.Put("/clients/{id}/volume", s.handleSetClientVolume)
		})

		// Live Snapcast events
		r.Get(s.hub.cfg.Path, s.handleWebSocket)
	})

	return r
}

// handleHealth reports whether the Snapcast control connection is up.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if !s.snapcast.IsConnected() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":   "degraded",
			"snapcast": s.snapcast.Stats().State,
			"version":  s.version,
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"snapcast": s.snapcast.Stats().State,
		"version":  s.version,
	})
}
