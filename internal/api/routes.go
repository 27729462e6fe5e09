package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter creates a new router with all routes configured
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware (all routes)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware)
	r.Use(RecoveryMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		// Public routes (no auth required)
		r.Get("/health", h.Health)

		// Protected routes (auth required)
		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(h.apiKey))

			r.Route("/sync", func(r chi.Router) {
				r.Get("/status", h.SyncStatus)
				r.Get("/queue", h.PendingActions)
				r.Post("/queue", h.QueueAction)
				r.Post("/queue/replay", h.ReplayQueue)
				r.Delete("/queue", h.ClearQueue)
				r.Post("/network", h.SetNetworkState)
				r.Post("/offline-mode", h.EnableOfflineMode)
				r.Delete("/offline-mode", h.DisableOfflineMode)
			})

			r.Route("/tasks", func(r chi.Router) {
				r.Post("/", h.CreateTask)
				r.Patch("/{id}", h.UpdateTask)
				r.Delete("/{id}", h.DeleteTask)
			})

			r.Route("/points", func(r chi.Router) {
				r.Get("/", h.PointHistory)
				r.Post("/", h.CreatePointEntry)
				r.Get("/stats", h.PointStats)
				r.Post("/adjust", h.AdjustPoints)
				r.Post("/{id}/approve", h.ApprovePointEntry)
				r.Post("/{id}/reject", h.RejectPointEntry)
			})
		})
	})

	return r
}
