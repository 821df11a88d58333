// Package main provides the entrypoint for the OptiMap batch worker.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"

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
	"github.com/optimap/optimap/internal/worker"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	const serviceName = "optimap-worker"

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
		Msg("starting OptiMap worker")

	// The worker exposes a health endpoint for Cloud Run on PORT.
	port := envOrDefault("PORT", "8080")

	env := envOrDefault("APP_ENV", "development")

	projectID := os.Getenv("PUBSUB_PROJECT_ID")
	jobsSubscription := os.Getenv("PUBSUB_JOBS_SUBSCRIPTION")
	resultsTopic := os.Getenv("PUBSUB_RESULTS_TOPIC")
	if projectID == "" || jobsSubscription == "" || resultsTopic == "" {
		log.Fatal().Msg("PUBSUB_PROJECT_ID, PUBSUB_JOBS_SUBSCRIPTION and PUBSUB_RESULTS_TOPIC are required")
	}

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

	providerMetrics, err := telemetry.NewProviderMetrics()
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize provider metrics")
		os.Exit(1) //nolint:gocritic // intentional exit, telemetry cleanup is best-effort
	}

	// Connect to database when configured. The worker shares the
	// persistent geocode cache with the API.
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

	// Initialize job processor and Pub/Sub handler
	processor := worker.NewProcessor(worker.ProcessorConfig{
		Service: optimizeService,
		Logger:  log,
	})

	handler, err := worker.NewPubSubHandler(ctx, worker.PubSubConfig{
		ProjectID:        projectID,
		SubscriptionName: jobsSubscription,
		ResultsTopic:     resultsTopic,
		Concurrency:      envInt("WORKER_CONCURRENCY", 0),
		Processor:        processor,
		Logger:           log,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize pubsub handler")
	}

	// Create HTTP server for health checks and job metrics
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"status":"healthy","version":%q}`, Version)
	})

	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(processor.MetricsSnapshot()); err != nil {
			log.Error().Err(err).Msg("failed to encode job metrics")
		}
	})

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	// Start health check server
	go func() {
		log.Info().
			Str("addr", server.Addr).
			Msg("health server listening")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("health server error")
		}
	}()

	// Start consuming batch jobs
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	workerErr := make(chan error, 1)
	go func() {
		workerErr <- handler.Start(runCtx)
	}()

	// Wait for interrupt signal or subscription failure
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		log.Info().Msg("shutting down worker")
		cancel()
		// Receive returns once in-flight jobs have finished.
		if err := <-workerErr; err != nil {
			log.Error().Err(err).Msg("worker stopped with error")
		}
	case err := <-workerErr:
		if err != nil {
			log.Error().Err(err).Msg("worker failed")
		}
	}

	if err := handler.Close(); err != nil {
		log.Error().Err(err).Msg("failed to close pubsub handler")
	}

	// Graceful shutdown of the health server
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("health server forced to shutdown")
	}

	log.Info().Msg("worker stopped")
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
