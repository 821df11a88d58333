package optimize

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/optimap/optimap/internal/geocode"
	"github.com/optimap/optimap/internal/matrix"
	"github.com/optimap/optimap/internal/solver"
)

// Request limits and pipeline defaults.
const (
	MinStops = 2
	MaxStops = 100

	DefaultSolverTimeLimit = 30 * time.Second
	DefaultMatrixTimeout   = 30 * time.Second
)

// State names one stage of the optimization pipeline. Failed is
// reachable from every stage.
type State string

const (
	StateValidating      State = "validating"
	StateGeocoding       State = "geocoding"
	StateMatrixFetch     State = "matrix_fetch"
	StateSolving         State = "solving"
	StateMetricsAssembly State = "metrics_assembly"
	StateDone            State = "done"
	StateFailed          State = "failed"
)

// RouteSolver produces a closed visiting order from a distance matrix.
type RouteSolver interface {
	Solve(ctx context.Context, distances [][]float64, vehicles, depot int, timeLimit time.Duration) (solver.SolveResult, error)
}

// Config holds configuration for the Service.
type Config struct {
	// Resolver geocodes address-only stops. Required for requests that
	// carry addresses; coordinate-only traffic runs without it.
	Resolver *geocode.Resolver

	// Matrix fetches travel costs and route geometry (required).
	Matrix matrix.Provider

	// Solver orders the stops (required).
	Solver RouteSolver

	// SolverTimeLimit is the engine's wall-clock budget per request.
	// Default: 30s.
	SolverTimeLimit time.Duration

	// MatrixTimeout mirrors the matrix client's request timeout; it is
	// only used to describe timeout failures. Default: 30s.
	MatrixTimeout time.Duration

	// Logger for pipeline operations.
	Logger zerolog.Logger
}

// Service runs the optimization pipeline. One instance serves all
// requests; the only cross-request state lives in the resolver's cache
// and pacer.
type Service struct {
	resolver        *geocode.Resolver
	matrix          matrix.Provider
	solver          RouteSolver
	solverTimeLimit time.Duration
	matrixTimeout   time.Duration
	logger          zerolog.Logger
}

// NewService creates a Service.
func NewService(cfg Config) *Service {
	timeLimit := cfg.SolverTimeLimit
	if timeLimit == 0 {
		timeLimit = DefaultSolverTimeLimit
	}
	matrixTimeout := cfg.MatrixTimeout
	if matrixTimeout == 0 {
		matrixTimeout = DefaultMatrixTimeout
	}
	return &Service{
		resolver:        cfg.Resolver,
		matrix:          cfg.Matrix,
		solver:          cfg.Solver,
		solverTimeLimit: timeLimit,
		matrixTimeout:   matrixTimeout,
		logger:          cfg.Logger,
	}
}

// Optimize runs the full pipeline for one request: validate, geocode
// missing coordinates, fetch the cost matrix, solve, and assemble
// metrics against the depot-anchored baseline. All failures are
// *Error values from the taxonomy.
func (s *Service) Optimize(ctx context.Context, req Request) (*Result, error) {
	logger := s.logger.With().
		Int("stops", len(req.Stops)).
		Int("depot", req.DepotIndex).
		Logger()

	s.transition(logger, StateValidating)
	if err := validate(req); err != nil {
		return nil, s.fail(logger, err)
	}

	// The pipeline works on its own copy; the caller's stops are never
	// mutated by geocoding.
	stops := make([]Stop, len(req.Stops))
	copy(stops, req.Stops)

	s.transition(logger, StateGeocoding)
	if err := s.geocodeStops(ctx, logger, stops); err != nil {
		return nil, s.fail(logger, err)
	}

	s.transition(logger, StateMatrixFetch)
	coords := make([]matrix.Coordinate, len(stops))
	for i, stop := range stops {
		coords[i] = matrix.Coordinate{Lat: *stop.Lat, Lon: *stop.Lon}
	}
	costs, err := s.matrix.ComputeMatrix(ctx, coords)
	if err != nil {
		return nil, s.fail(logger, s.mapMatrixError(err))
	}

	s.transition(logger, StateSolving)
	solved, serr := s.runSolver(ctx, costs.Distances, req.DepotIndex)
	if serr != nil {
		return nil, s.fail(logger, serr)
	}

	s.transition(logger, StateMetricsAssembly)
	result := s.assemble(ctx, logger, stops, req.DepotIndex, costs, solved)

	s.transition(logger, StateDone)
	logger.Info().
		Float64("distance_saved_meters", result.DistanceSavedMeters).
		Float64("distance_saved_percent", result.DistanceSavedPercent).
		Float64("time_saved_seconds", result.TimeSavedSeconds).
		Float64("time_saved_percent", result.TimeSavedPercent).
		Msg("optimization complete")

	return result, nil
}

func (s *Service) transition(logger zerolog.Logger, state State) {
	logger.Debug().Str("state", string(state)).Msg("pipeline state")
}

func (s *Service) fail(logger zerolog.Logger, err *Error) *Error {
	logger.Warn().
		Str("state", string(StateFailed)).
		Str("kind", string(err.Kind)).
		Str("message", err.Message).
		Msg("optimization failed")
	return err
}

func validate(req Request) *Error {
	n := len(req.Stops)
	if n < MinStops {
		return NewError(KindInsufficientStops, "", Detail{
			Field:   "stops",
			Message: fmt.Sprintf("Received %d stops, but at least %d are required", n, MinStops),
			Value:   n,
		})
	}
	if n > MaxStops {
		return NewError(KindTooManyStops,
			fmt.Sprintf("Too many stops: %d provided, maximum is %d", n, MaxStops),
			Detail{
				Field:   "stops",
				Message: fmt.Sprintf("Received %d stops, but maximum allowed is %d", n, MaxStops),
				Value:   n,
			})
	}
	if req.DepotIndex < 0 || req.DepotIndex >= n {
		return NewError(KindInvalidDepotIndex,
			fmt.Sprintf("Depot index %d is out of bounds for %d stops", req.DepotIndex, n),
			Detail{
				Field:   "depot_index",
				Message: fmt.Sprintf("Index %d is invalid for %d stops (valid range: 0-%d)", req.DepotIndex, n, n-1),
				Value:   req.DepotIndex,
			})
	}
	for i, stop := range req.Stops {
		if !stop.HasCoordinates() && !stop.NeedsGeocoding() {
			return NewError(KindInvalidInput,
				fmt.Sprintf("Stop %d has neither coordinates nor an address", i),
				Detail{
					Field:   fmt.Sprintf("stops[%d]", i),
					Message: "Must provide either 'address' or both 'latitude' and 'longitude'",
				})
		}
		// Stops awaiting geocoding skip the range checks.
		if stop.NeedsGeocoding() {
			continue
		}
		if stop.Lat != nil && (*stop.Lat < -90 || *stop.Lat > 90) {
			return NewError(KindInvalidCoordinates,
				fmt.Sprintf("Invalid latitude at stop %d: %v", i, *stop.Lat),
				Detail{
					Field:   fmt.Sprintf("stops[%d].latitude", i),
					Message: "Latitude must be between -90 and 90",
					Value:   *stop.Lat,
				})
		}
		if stop.Lon != nil && (*stop.Lon < -180 || *stop.Lon > 180) {
			return NewError(KindInvalidCoordinates,
				fmt.Sprintf("Invalid longitude at stop %d: %v", i, *stop.Lon),
				Detail{
					Field:   fmt.Sprintf("stops[%d].longitude", i),
					Message: "Longitude must be between -180 and 180",
					Value:   *stop.Lon,
				})
		}
	}
	return nil
}

// geocodeStops resolves every address-only stop in place. All failures
// are collected before failing so the caller sees every bad address at
// once, each tagged with its input position.
func (s *Service) geocodeStops(ctx context.Context, logger zerolog.Logger, stops []Stop) *Error {
	var indices []int
	var addresses []string
	for i, stop := range stops {
		if stop.NeedsGeocoding() {
			indices = append(indices, i)
			addresses = append(addresses, stop.Address)
		}
	}

	if len(indices) > 0 {
		if s.resolver == nil {
			return NewError(KindInternal, "geocoding is not configured")
		}

		logger.Info().Int("addresses", len(indices)).Msg("geocoding addresses")
		start := time.Now()
		results := s.resolver.ResolveBatch(ctx, addresses)

		var failures []Detail
		for bi, res := range results {
			idx := indices[bi]
			if res.Err != nil {
				msg := res.Err.Error()
				var gerr *geocode.Error
				if errors.As(res.Err, &gerr) {
					msg = gerr.Message
				}
				failures = append(failures, Detail{
					Field:   fmt.Sprintf("stops[%d].address", idx),
					Message: msg,
					Value:   stops[idx].Address,
				})
				logger.Warn().
					Int("stop", idx).
					Str("address", stops[idx].Address).
					Str("error", msg).
					Msg("failed to geocode stop")
				continue
			}

			lat, lon := res.Coordinate.Lat, res.Coordinate.Lon
			stops[idx].Lat = &lat
			stops[idx].Lon = &lon
			stops[idx].Geocoded = true
			if stops[idx].OriginalAddress == "" {
				stops[idx].OriginalAddress = stops[idx].Address
			}
		}

		if len(failures) > 0 {
			e := NewError(KindGeocodingFailed,
				fmt.Sprintf("Failed to geocode %d address(es)", len(failures)), failures...)
			e.Suggestion = "Provide more specific addresses with street, city, state, and ZIP code, or use coordinates directly"
			return e
		}

		logger.Info().
			Int("addresses", len(indices)).
			Dur("elapsed", time.Since(start)).
			Msg("geocoding complete")
	}

	for i, stop := range stops {
		if !stop.HasCoordinates() {
			return NewError(KindInvalidInput,
				fmt.Sprintf("Stop %d is missing coordinates after geocoding", i),
				Detail{
					Field:   fmt.Sprintf("stops[%d]", i),
					Message: "Location must have coordinates",
				})
		}
	}
	return nil
}

func (s *Service) mapMatrixError(err error) *Error {
	var merr *matrix.Error
	if !errors.As(err, &merr) {
		e := NewError(KindInternal, "")
		e.Err = err
		return e
	}

	switch merr.Code {
	case matrix.CodeTimeout:
		e := NewError(KindRoutingTimeout,
			fmt.Sprintf("Routing service request timed out after %gs", s.matrixTimeout.Seconds()),
			Detail{Field: "osrm_timeout", Message: merr.Message, Value: s.matrixTimeout.Seconds()})
		e.Err = err
		return e
	case matrix.CodeUnavailable:
		e := NewError(KindRoutingUnavailable, "",
			Detail{Field: "routing_service", Message: merr.Message})
		e.Err = err
		return e
	default:
		e := NewError(KindRoutingError, "Unable to calculate route distances",
			Detail{Field: "routing_service", Message: merr.Message})
		e.Err = err
		return e
	}
}

// runSolver runs the engine in its own goroutine so a stuck search
// cannot pin the request past its context.
func (s *Service) runSolver(ctx context.Context, distances [][]float64, depot int) (solver.SolveResult, *Error) {
	type outcome struct {
		result solver.SolveResult
		err    error
	}
	ch := make(chan outcome, 1)
	go func() {
		result, err := s.solver.Solve(ctx, distances, 1, depot, s.solverTimeLimit)
		ch <- outcome{result: result, err: err}
	}()

	var out outcome
	select {
	case out = <-ch:
	case <-ctx.Done():
		e := NewError(KindInternal, "")
		e.Err = ctx.Err()
		return solver.SolveResult{}, e
	}

	if out.err != nil {
		if errors.Is(out.err, solver.ErrNoSolution) {
			seconds := s.solverTimeLimit.Seconds()
			return solver.SolveResult{}, NewError(KindSolverNoSolution,
				"Unable to find optimal route within time limit",
				Detail{
					Field:   "solver_timeout",
					Message: fmt.Sprintf("Solver timed out after %g seconds", seconds),
					Value:   seconds,
				})
		}
		e := NewError(KindSolverFailed,
			"Optimization solver encountered an unexpected error",
			Detail{Field: "solver", Message: out.err.Error()})
		e.Err = out.err
		return solver.SolveResult{}, e
	}
	return out.result, nil
}

// assemble computes optimized and baseline metrics and the savings
// between them, reorders the stops, and fetches the route geometry.
// The geometry fetch is best effort and its failure is only logged.
func (s *Service) assemble(ctx context.Context, logger zerolog.Logger, stops []Stop, depot int, costs matrix.CostMatrix, solved solver.SolveResult) *Result {
	optimizedDistance := float64(solved.TotalCost)
	optimizedDuration := walkRoute(solved.Order, costs.Durations)

	baseline := baselineIndices(len(stops), depot)
	baselineDistance := walkRoute(baseline, costs.Distances)
	baselineDuration := walkRoute(baseline, costs.Durations)

	distanceSaved := baselineDistance - optimizedDistance
	timeSaved := baselineDuration - optimizedDuration
	var distancePct, timePct float64
	if baselineDistance > 0 {
		distancePct = distanceSaved / baselineDistance * 100
	}
	if baselineDuration > 0 {
		timePct = timeSaved / baselineDuration * 100
	}

	route := make([]Stop, 0, len(solved.Order))
	for _, idx := range solved.Order {
		route = append(route, stops[idx])
	}

	result := &Result{
		Route:                route,
		Order:                solved.Order,
		Optimized:            Metrics{DistanceMeters: optimizedDistance, TimeSeconds: optimizedDuration},
		Baseline:             Metrics{DistanceMeters: baselineDistance, TimeSeconds: baselineDuration},
		DistanceSavedMeters:  distanceSaved,
		TimeSavedSeconds:     timeSaved,
		DistanceSavedPercent: distancePct,
		TimeSavedPercent:     timePct,
	}

	geoCoords := make([]matrix.Coordinate, len(route))
	for i, stop := range route {
		geoCoords[i] = matrix.Coordinate{Lat: *stop.Lat, Lon: *stop.Lon}
	}
	geometry, err := s.matrix.ComputeRouteGeometry(ctx, geoCoords)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to fetch route geometry")
	} else {
		result.Geometry = geometry
	}

	return result
}

// baselineIndices is the unoptimized comparison route: the depot, then
// every other stop in input order, then back to the depot.
func baselineIndices(n, depot int) []int {
	order := make([]int, 0, n+1)
	order = append(order, depot)
	for i := 0; i < n; i++ {
		if i != depot {
			order = append(order, i)
		}
	}
	order = append(order, depot)
	return order
}

func walkRoute(order []int, costs [][]float64) float64 {
	var total float64
	for i := 0; i+1 < len(order); i++ {
		total += costs[order[i]][order[i+1]]
	}
	return total
}
