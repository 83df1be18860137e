package api

import (
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/good-yellow-bee/carealert/internal/api/alerts"
	"github.com/good-yellow-bee/carealert/internal/api/auth"
	"github.com/good-yellow-bee/carealert/internal/api/middleware"
)

// setupRouter creates and configures the chi router with all routes.
func (s *Server) setupRouter() *chi.Mux {
	r := chi.NewRouter()

	ipLimiter := middleware.NewRateLimiter(s.config.RateLimitPerIP, s.config.RateLimitBurst)

	var verifier *auth.Verifier
	if len(s.config.JWTSecret) > 0 {
		verifier = auth.NewVerifier(s.config.JWTSecret, s.config.JWTIssuer)
	} else {
		s.deps.Logger.Warn("API authentication disabled: no JWT secret configured")
	}
	authenticate := func(r chi.Router) {
		if verifier != nil {
			r.Use(middleware.JWTAuth(verifier))
		}
	}

	// Global middleware
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(s.deps.Logger, s.config.Verbose))
	r.Use(middleware.Recoverer)
	r.Use(middleware.PrometheusMiddleware)

	r.NotFound(notFound)
	r.MethodNotAllowed(methodNotAllowed)

	alertHandler := alerts.NewHandler(s.deps.Triage, s.deps.History)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.SecurityHeaders)
		r.Use(middleware.RateLimitByIP(ipLimiter))
		r.Use(chimw.Timeout(30 * time.Second))
		authenticate(r)

		// Clinician actions
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(auth.RoleClinician))
			r.Post("/reports", alertHandler.Report)
			r.Post("/alerts/{id}/ack", alertHandler.Acknowledge)
		})

		// Read-only views
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(auth.RoleViewer))
			r.Post("/classify", alertHandler.Classify)
			r.Get("/alerts", alertHandler.List)
			r.Get("/alerts/export", alertHandler.Export)
			r.Get("/alerts/{id}", alertHandler.GetByID)
			r.Get("/alerts/{id}/history", alertHandler.AlertHistory)
			r.Get("/trends", alertHandler.Trends)
			r.Get("/notifications", alertHandler.Notifications)
			r.Get("/notifications/history", alertHandler.History)
			r.Get("/rules", alertHandler.Rules)
		})
	})

	// Live notification stream
	if s.deps.Stream != nil {
		r.Group(func(r chi.Router) {
			authenticate(r)
			r.Use(middleware.RequireRole(auth.RoleViewer))
			r.Get("/ws/notifications", s.deps.Stream.ServeHTTP)
		})
	}

	// Health checks (public, no rate limit)
	r.Get("/health", s.healthHandler.Health)
	r.Get("/health/live", s.healthHandler.Live)
	r.Get("/health/ready", s.healthHandler.Ready)

	return r
}
