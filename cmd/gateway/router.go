package main

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/obot-platform/fleetgate/internal/config"
	"github.com/obot-platform/fleetgate/internal/handler"
	"github.com/obot-platform/fleetgate/internal/logger"
	"github.com/obot-platform/fleetgate/internal/middleware"
)

// newRouter wires the gateway's own endpoints and falls through to the
// service proxy for everything else.
func newRouter(cfg *config.Config, h *handler.Handler, proxy http.Handler, log *logger.Logger) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.SanitizedLogger(log))
	r.Use(chimiddleware.Recoverer)

	// CORS configuration
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", middleware.GatewayKeyHeader},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/", h.Root)

	r.Route("/api", func(r chi.Router) {
		r.Use(chimiddleware.Timeout(30 * time.Second))

		r.Get("/health", h.Health)
		r.Get("/gateway-info", h.GatewayInfo)
		r.Post("/utils/hash-password", h.HashPassword)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(middleware.GatewayKey(cfg.GatewayKeyHash))

			r.Get("/about-me", h.AboutMe)
			r.Get("/fleet/instances", h.ListInstances)
		})
	})

	// Downstream services: /{service}/...
	r.Handle("/*", proxy)

	return r
}
