// Package main provides the entrypoint for the OptiMap API server.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/optimap/optimap/internal/api"
	"github.com/optimap/optimap/internal/api/middleware"
	"github.com/optimap/optimap/internal/database"
	"github.com/optimap/optimap/internal/geocache"
	"github.com/optimap/optimap/internal/geocode"
	"github.com/optimap/optimap/internal/geocode/googlemaps"
	"github.com/optimap/optimap/internal/geocode/mapbox"
	"github.com/optimap/optimap/internal/geocode/nominatim"
	"github.com/optimap/optimap/internal/matrix/osrm"
	"github.com/optimap/optimap/internal/optimize"
	"github.com/optimap/optimap/internal/provider/resilience"
	"github.com/optimap/optimap/internal/solver"
	"github.com/optimap/optimap/internal/solver/insertion"
	"github.com/optimap/optimap/internal/telemetry"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	const serviceName = "optimap-api"

	// Setup structured logging
	level, err := zerolog.ParseLevel(envOrDefault("LOG_LEVEL", "info"))
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).
		Level(level).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", Version).
		Logger()

	log.Info().
		Str("build_time", BuildTime).
		Msg("starting OptiMap API")

	port := envOrDefault("PORT", "8080")

	env := envOrDefault("APP_ENV", "development")

	// Initialize OpenTelemetry. The exporter endpoint doubles as the
	// enable switch; without it all instruments are no-ops.
	ctx := context.Background()
	otlpEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")

	tp, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: Version,
		Environment:    env,
		OTLPEndpoint:   otlpEndpoint,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := tp.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("failed to shutdown telemetry")
		}
	}()

	if tp.Enabled() {
		log.Info().
			Str("otlp_endpoint", otlpEndpoint).
			Msg("OpenTelemetry initialized")
	}

	// Initialize metrics
	metrics, err := middleware.NewMetrics()
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize metrics")
		os.Exit(1) //nolint:gocritic // intentional exit, telemetry cleanup is best-effort
	}

	providerMetrics, err := telemetry.NewProviderMetrics()
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize provider metrics")
		os.Exit(1)
	}

	// Connect to database when configured. The API runs without one;
	// the geocode cache is then memory-only.
	var cacheStore geocache.Store
	dbConfig := database.ConfigFromEnv()
	if dbConfig.Configured() {
		pool, err := database.Connect(ctx, dbConfig)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer pool.Close()

		store := geocache.NewPostgresStore(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to prepare geocode cache schema")
		}
		cacheStore = store
		log.Info().Msg("database connected, geocode cache is persistent")
	} else {
		log.Info().Msg("no database configured, geocode cache is memory-only")
	}

	// Initialize provider health registry
	registry := resilience.NewRegistry()

	// Initialize geocoding: cache, pacer, provider, resolver
	cacheConfig := geocache.Config{
		MaxEntries: envInt("GEOCODE_CACHE_MAX_ENTRIES", 0),
		Store:      cacheStore,
		Logger:     log,
	}
	if days := envInt("GEOCODE_CACHE_TTL_DAYS", 0); days > 0 {
		cacheConfig.TTL = time.Duration(days) * 24 * time.Hour
	}
	cache := geocache.New(cacheConfig)

	pacer := geocode.NewPacer(envSeconds("GEOCODING_RATE_LIMIT_SECONDS", time.Second))
	geocodeTimeout := envSeconds("GEOCODING_TIMEOUT_SECONDS", 10*time.Second)
	geocodeBaseURL := os.Getenv("GEOCODING_BASE_URL")
	geocodeAPIKey := os.Getenv("GEOCODING_API_KEY")

	var provider geocode.Provider
	providerName := envOrDefault("GEOCODING_PROVIDER", "nominatim")
	switch providerName {
	case "nominatim":
		provider = nominatim.NewClient(nominatim.ClientConfig{
			BaseURL:  geocodeBaseURL,
			Timeout:  geocodeTimeout,
			Pace:     pacer.Wait,
			Registry: registry,
			Logger:   log,
		})
	case "google":
		if geocodeAPIKey == "" {
			log.Warn().Msg("GEOCODING_API_KEY not set - Google geocoding requests will fail")
		}
		provider = googlemaps.NewClient(googlemaps.ClientConfig{
			APIKey:   geocodeAPIKey,
			BaseURL:  geocodeBaseURL,
			Timeout:  geocodeTimeout,
			Pace:     pacer.Wait,
			Registry: registry,
			Logger:   log,
		})
	case "mapbox":
		if geocodeAPIKey == "" {
			log.Warn().Msg("GEOCODING_API_KEY not set - Mapbox geocoding requests will fail")
		}
		provider = mapbox.NewClient(mapbox.ClientConfig{
			APIKey:   geocodeAPIKey,
			BaseURL:  geocodeBaseURL,
			Timeout:  geocodeTimeout,
			Pace:     pacer.Wait,
			Registry: registry,
			Logger:   log,
		})
	default:
		log.Fatal().Str("provider", providerName).Msg("unknown geocoding provider")
	}

	resolver := geocode.NewResolver(geocode.Config{
		Provider: provider,
		Cache:    cache,
		Metrics:  providerMetrics,
		Logger:   log,
	})
	log.Info().
		Str("provider", provider.Name()).
		Dur("pace_interval", pacer.Interval()).
		Msg("geocoding resolver initialized")

	// Initialize routing matrix client
	osrmTimeout := envSeconds("OSRM_TIMEOUT_SECONDS", 30*time.Second)
	matrixClient := osrm.NewClient(osrm.ClientConfig{
		BaseURL:  os.Getenv("OSRM_BASE_URL"),
		Profile:  os.Getenv("OSRM_PROFILE"),
		Timeout:  osrmTimeout,
		Registry: registry,
		Logger:   log,
	})

	// Initialize solver and optimization pipeline
	routeSolver := solver.NewAdapter(solver.Config{
		Engine: insertion.NewEngine(),
		Logger: log,
	})

	optimizeService := optimize.NewService(optimize.Config{
		Resolver:        resolver,
		Matrix:          matrixClient,
		Solver:          routeSolver,
		SolverTimeLimit: envSeconds("SOLVER_TIME_LIMIT_SECONDS", 30*time.Second),
		MatrixTimeout:   osrmTimeout,
		Logger:          log,
	})
	log.Info().Msg("optimization pipeline initialized")

	router := api.NewRouter(api.RouterConfig{
		Version:        Version,
		BuildTime:      BuildTime,
		Logger:         log,
		Metrics:        metrics,
		Optimize:       optimizeService,
		Resolver:       resolver,
		Registry:       registry,
		AllowedOrigins: splitOrigins(os.Getenv("ALLOWED_ORIGINS")),
		RequireTLS:     os.Getenv("REQUIRE_TLS") == "true",
		OptimizeRateLimit: middleware.RateLimitConfig{
			RequestLimit: envInt("RATE_LIMIT_RPM", 60),
			WindowLength: time.Minute,
		},
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().
			Str("addr", server.Addr).
			Msg("server listening")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
		os.Exit(1)
	}

	log.Info().Msg("server stopped")
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}

// envSeconds reads a duration expressed in seconds, integral or
// fractional ("30", "0.5").
func envSeconds(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil && f > 0 {
			return time.Duration(f * float64(time.Second))
		}
	}
	return fallback
}

func splitOrigins(raw string) []string {
	if raw == "" {
		return nil
	}
	var origins []string
	for _, origin := range strings.Split(raw, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}
	return origins
}
