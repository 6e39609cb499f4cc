package app

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dpcportal/portal/internal/apperrors"
	"github.com/dpcportal/portal/internal/config"
	"github.com/dpcportal/portal/internal/invitations"
)

// NewRouter creates and configures the Chi router with all middleware and
// routes.
func NewRouter(pool *pgxpool.Pool, cfg *config.Config, invitationHandlers *invitations.Handlers) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(apperrors.RequestIDMiddleware)
	r.Use(LoggingMiddleware)
	r.Use(RecoveryMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{cfg.BaseURL},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check routes (no authentication required)
	r.Get("/healthz", handleHealthz)
	r.Get("/readyz", handleReadyz(pool))

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/organizations/{org_id}/invitations", func(r chi.Router) {
		r.Use(ContentTypeJSON)
		r.Use(FlowRateLimitMiddleware(cfg.RateLimitRPM))
		invitationHandlers.Mount(r)
	})

	return r
}

// handleHealthz returns a simple liveness check.
// Always returns 200 OK if the service is running.
func handleHealthz(w http.ResponseWriter, r *http.Request) {
	apperrors.WriteSuccess(w, r, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// handleReadyz returns a readiness check that includes database connectivity.
// Returns 200 OK if service is ready to accept traffic, 503 if not.
func handleReadyz(pool *pgxpool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := pool.Ping(r.Context()); err != nil {
			apperrors.WriteServiceUnavailable(w, r, "Database connection failed")
			return
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]string{
			"status": "ready",
			"db":     "ok",
		})
	}
}
