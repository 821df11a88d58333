// Package api provides the HTTP API for OptiMap.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/optimap/optimap/internal/api/handler"
	"github.com/optimap/optimap/internal/api/middleware"
	"github.com/optimap/optimap/internal/api/response"
	"github.com/optimap/optimap/internal/geocode"
	"github.com/optimap/optimap/internal/provider/resilience"
)

// RouterConfig carries everything NewRouter needs to assemble the API
// surface.
type RouterConfig struct {
	Version   string
	BuildTime string
	Logger    zerolog.Logger
	Metrics   *middleware.Metrics

	// Optimize runs the optimization pipeline (required).
	Optimize handler.OptimizeService

	// Resolver backs the geocoding cache stats endpoint; may be nil when
	// geocoding is not configured.
	Resolver *geocode.Resolver

	// Registry backs the provider status endpoint; may be nil.
	Registry *resilience.Registry

	// AllowedOrigins enables CORS for the listed origins when non-empty.
	AllowedOrigins []string

	// RequireTLS rejects forwarded plain-HTTP requests when true.
	RequireTLS bool

	// OptimizeRateLimit overrides the per-IP limit on the optimize
	// endpoint. Zero value means ExpensiveRateLimit.
	OptimizeRateLimit middleware.RateLimitConfig
}

// NewRouter assembles the chi router: the middleware chain, the
// problem+json error handlers, and the versioned API routes.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// RequestID runs first so tracing, metrics, and logging all see the
	// correlation id. RealIP runs before the per-route rate limiters so
	// limits key on the client address rather than the proxy's.
	r.Use(middleware.RequestID)
	r.Use(middleware.Tracing())
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware())
	}
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(chimiddleware.RealIP)
	if len(cfg.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
			MaxAge:         300,
		}))
	}
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.RequireTLS(cfg.RequireTLS))
	r.Use(middleware.RequireJSON)
	r.Use(middleware.ContentTypeJSON)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		response.NotFound(w, r, "resource not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		response.MethodNotAllowed(w, r, "method not allowed for this resource")
	})

	opsHandler := handler.NewOpsHandler(cfg.Version, cfg.BuildTime, cfg.Registry)
	optimizeHandler := handler.NewOptimizeHandler(cfg.Optimize, cfg.Logger)
	var statsSource handler.CacheStatsSource
	if cfg.Resolver != nil {
		statsSource = cfg.Resolver
	}
	geocodingHandler := handler.NewGeocodingHandler(statsSource)

	// Rate limits per endpoint category
	optimizeLimit := cfg.OptimizeRateLimit
	if optimizeLimit.RequestLimit == 0 {
		optimizeLimit = middleware.ExpensiveRateLimit
	}
	optimizeRateLimit := middleware.RateLimitByIP(optimizeLimit)
	standardRateLimit := middleware.RateLimitByIP(middleware.StandardRateLimit)

	// Probes (public, unversioned)
	r.Get("/healthz", opsHandler.HealthCheck)
	r.Get("/readyz", opsHandler.ReadinessCheck)

	// API v1 routes
	r.Route("/v1", func(r chi.Router) {
		// Optimization - expensive compute, strict rate limiting
		r.With(optimizeRateLimit).Post("/routes/optimize", optimizeHandler.OptimizeRoute)

		// Geocoding cache statistics - standard rate limiting
		r.With(standardRateLimit).Get("/geocoding/cache/stats", geocodingHandler.CacheStats)

		// Ops endpoints
		r.Route("/ops", func(r chi.Router) {
			r.Get("/status", opsHandler.SystemStatus)
		})
	})

	return r
}
