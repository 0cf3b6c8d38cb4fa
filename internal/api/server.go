// Package api exposes monitor and notification operations over HTTP.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	corslib "github.com/rs/cors"
	"go.uber.org/zap"
)

// NewRouter creates the chi router with all middleware and routes.
func NewRouter(h *Handler, log *zap.SugaredLogger, corsOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LogMiddleware(log))
	r.Use(middleware.Recoverer)

	c := corslib.New(corslib.Options{
		AllowedOrigins: corsOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", OwnerHeader},
		ExposedHeaders: []string{middleware.RequestIDHeader},
	})
	r.Use(c.Handler)

	r.Get("/health", h.HealthCheck)

	r.Route("/api/monitoring", func(r chi.Router) {
		r.Use(RequireOwner)

		r.Post("/start", h.StartMonitoring)
		r.Patch("/stop/{monitorID}", h.StopMonitoring)
		r.Get("/", h.ListMonitors)

		r.Get("/notifications/unread-count", h.UnreadCount)
		r.Get("/notifications", h.ListNotifications)
		r.Patch("/notifications/mark-all-read", h.MarkAllRead)
		r.Patch("/notifications/{monitorID}/{notificationID}/read", h.MarkRead)
	})

	return r
}
