package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/arbiterhq/arbiter/app"
	"github.com/arbiterhq/arbiter/handlers"
	"github.com/arbiterhq/arbiter/middleware"
)

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	// Core middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))
	if deps.Metrics != nil {
		r.Use(middleware.Metrics(deps.Metrics))
	}

	// CORS middleware
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "https://*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check endpoints
	r.Get("/healthz", handlers.HealthCheck(deps))
	r.Get("/readyz", handlers.ReadinessCheck(deps))
	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics.Handler())
	}

	decisionHandler := handlers.NewDecisionHandler(deps.Decisions, deps.Logger)
	auditHandler := handlers.NewAuditHandler(deps.Ledger, deps.Logger)
	overrideHandler := handlers.NewOverrideHandler(deps.Gate, deps.Logger)

	// requireAuth is a no-op when authentication is disabled.
	requireAuth := func(next http.Handler) http.Handler { return next }
	requireRole := func(string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler { return next }
	}
	if deps.AuthMiddleware != nil {
		requireAuth = deps.AuthMiddleware.RequireAuth
		requireRole = deps.AuthMiddleware.RequireRole
	}

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Public routes
		r.Get("/status", handlers.StatusHandler(deps))

		// Decision endpoints
		r.Route("/decisions", func(r chi.Router) {
			r.Use(requireAuth)
			r.Post("/evaluate", decisionHandler.HandleEvaluate)
			r.Post("/route", decisionHandler.HandleRoute)
		})

		// Override gate
		r.Route("/overrides", func(r chi.Router) {
			r.Use(requireAuth)
			r.Get("/{decision_id}", overrideHandler.HandleGetOverride)
			r.Post("/{decision_id}", overrideHandler.HandleResolveOverride)
		})

		// Audit ledger (require auditor role)
		r.Route("/audit", func(r chi.Router) {
			r.Use(requireAuth)
			r.Use(requireRole("auditor"))
			r.Get("/records", auditHandler.HandleListRecords)
			r.Get("/records/{id}", auditHandler.HandleGetRecord)
			r.Get("/proof", auditHandler.HandleProof)
			r.Post("/verify", auditHandler.HandleVerify)
		})
	})

	// 404 handler
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"endpoint not found"}`))
	})

	return r
}
