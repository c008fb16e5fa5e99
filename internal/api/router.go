package api

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/Tausifislam01/CloakPost/internal/api/middleware"
	"github.com/Tausifislam01/CloakPost/internal/handlers"
	"github.com/Tausifislam01/CloakPost/internal/store"
)

// NewRouter creates and configures the HTTP router.
func NewRouter(logger zerolog.Logger, h *handlers.Handler, db store.DataStore, redis *store.RedisStore) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware first to capture all requests.
	r.Use(middleware.Metrics)

	// Security middleware (order matters).
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(64 * 1024)) // covers a 5000-rune body with headroom
	r.Use(middleware.ValidateRequest)

	// Standard middleware.
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	limiter := middleware.NewRateLimiter(redis, logger)
	r.Use(limiter.Middleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{
			"Accept", "Content-Type",
			middleware.HeaderUser, middleware.HeaderNonce,
			middleware.HeaderTimestamp, middleware.HeaderSignature,
		},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	auth := middleware.NewAuthMiddleware(db, redis)

	// Metrics endpoint (for Prometheus scraping).
	r.Handle("/metrics", promhttp.Handler())

	// Public routes.
	r.Get("/health", h.Health)
	r.Post("/register", h.Register)

	// Authenticated routes (require signature).
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth)

		r.Post("/threads", h.CreateThread)
		r.Get("/threads", h.ListThreads)
		r.Post("/threads/{id}/messages", h.PostMessage)
		r.Get("/threads/{id}/messages", h.ListMessages)
		r.Post("/messages/{id}/seen", h.MarkSeen)
		r.Post("/dm/{id}", h.DirectThread)
	})

	// The websocket rejects with close codes after the upgrade, so the
	// identity is attached rather than enforced here.
	r.Group(func(r chi.Router) {
		r.Use(auth.AttachAuth)
		r.Get("/ws/threads/{id}", h.ThreadSocket)
	})

	return r
}
