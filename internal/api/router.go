package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Chuffnugget/BrightDock/internal/display"
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

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeNotFound(w, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, ErrCodeMethodNotAllow, "method not allowed")
	})

	r.Route("/api/v1", func(r chi.Router) {
		// Open routes
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)

		r.Get("/monitors", s.handleListMonitors)
		r.Route("/monitors/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetMonitor)
			r.Get("/{control}", s.handleGetControl)
			r.Get("/{control}/options", s.handleGetOptions)

			r.With(s.authMiddleware).Put("/{control}", s.handleSetControl)
		})

		r.Get("/sync", s.handleGetSync)

		// WebSocket (auth via ticket when enabled, validated in handler)
		r.Get("/ws", s.handleWebSocket)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Post("/sync/refresh", s.handleRefresh)
			r.Post("/auth/ws-ticket", s.handleWSTicket)
		})
	})

	return r
}

// healthResponse is the body of GET /health.
type healthResponse struct {
	Status     string             `json:"status"`
	Version    string             `json:"version"`
	Connection string             `json:"connection"`
	Devices    int                `json:"devices"`
	Sync       display.SyncStatus `json:"sync"`
}

// handleHealth returns the server health status.
// The connection field mirrors the node connection sensor.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	stats := s.coord.Stats()

	status := "ok"
	if stats.Status.TotalCycles > 0 && !stats.Status.LastCycleOK {
		status = "degraded"
	}

	writeJSON(w, http.StatusOK, healthResponse{
		Status:     status,
		Version:    s.version,
		Connection: stats.Status.ConnectionLabel(),
		Devices:    stats.Devices,
		Sync:       stats.Status,
	})
}
