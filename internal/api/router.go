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

	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Get("/state", s.handleGetState)
			r.Post("/refresh", s.handleRefresh)

			r.Route("/routes", func(r chi.Router) {
				r.Post("/", s.handleRoute)
				r.Post("/all", s.handleRouteAll)
				r.Post("/through", s.handleRouteThrough)
			})

			r.Route("/outputs", func(r chi.Router) {
				r.Put("/", s.handleSetAllOutputs)
				r.Put("/{output}", s.handleSetOutput)
				r.Post("/{output}/through", s.handleOutputThrough)
			})

			r.Put("/power", s.handleSetPower)

			r.Route("/locks", func(r chi.Router) {
				r.Put("/", s.handleSetLockAll)
				r.Put("/{output}", s.handleSetLock)
			})

			r.Route("/presets", func(r chi.Router) {
				r.Get("/", s.handleListPresets)
				r.Post("/{slot}/save", s.handleSavePreset)
				r.Post("/{slot}/recall", s.handleRecallPreset)
				r.Delete("/{slot}", s.handleClearPreset)
				r.Put("/{slot}/name", s.handleSetPresetName)
			})

			r.Get("/history", s.handleHistory)

			// WebSocket (auth via token query parameter when JWT is enabled)
			r.Get("/ws", s.handleWebSocket)
		})
	})

	return r
}

// handleHealth returns the server health status plus the device session
// state, so a single probe covers both the bridge and the matrix link.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	snap := s.controller.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"version":   s.version,
		"device_id": s.deviceID,
		"session":   snap.Session,
	})
}
