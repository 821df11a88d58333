package solver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Config holds configuration for the Adapter.
type Config struct {
	// Engine performs the actual route search (required).
	Engine Engine

	// Logger for solver operations.
	Logger zerolog.Logger
}

// Adapter translates between float cost matrices and the engine's
// integer model, and closes the engine's open tour into a cycle.
type Adapter struct {
	engine Engine
	logger zerolog.Logger
}

// NewAdapter creates an Adapter around the given engine.
func NewAdapter(cfg Config) *Adapter {
	return &Adapter{
		engine: cfg.Engine,
		logger: cfg.Logger,
	}
}

// Solve runs the engine over the distance matrix and returns the closed
// visiting order. Costs are truncated to integers at this boundary;
// fractional meters are an accepted precision loss. ErrNoSolution
// passes through untouched so callers can tell it apart from engine
// failures.
func (a *Adapter) Solve(ctx context.Context, distances [][]float64, vehicles, depot int, timeLimit time.Duration) (SolveResult, error) {
	n := len(distances)
	if n == 0 {
		return SolveResult{}, errors.New("cost matrix is empty")
	}
	for i, row := range distances {
		if len(row) != n {
			return SolveResult{}, fmt.Errorf("cost matrix is not square: row %d has %d cells, expected %d", i, len(row), n)
		}
	}
	if depot < 0 || depot >= n {
		return SolveResult{}, fmt.Errorf("depot index %d out of range [0, %d)", depot, n)
	}
	if vehicles != 1 {
		return SolveResult{}, fmt.Errorf("unsupported vehicle count %d: only single-vehicle routes are solved", vehicles)
	}

	costs := make([][]int64, n)
	for i, row := range distances {
		costs[i] = make([]int64, n)
		for j, cell := range row {
			costs[i][j] = int64(cell)
		}
	}

	a.logger.Debug().
		Int("stops", n).
		Int("depot", depot).
		Dur("time_limit", timeLimit).
		Msg("solving route")

	start := time.Now()
	tour, err := a.engine.Solve(ctx, Problem{Costs: costs, Depot: depot, TimeLimit: timeLimit})
	if err != nil {
		if errors.Is(err, ErrNoSolution) {
			a.logger.Warn().
				Int("stops", n).
				Dur("elapsed", time.Since(start)).
				Msg("engine found no feasible route within budget")
			return SolveResult{}, ErrNoSolution
		}
		return SolveResult{}, fmt.Errorf("route engine: %w", err)
	}

	if len(tour.Order) != n || len(tour.Order) == 0 || tour.Order[0] != depot {
		return SolveResult{}, fmt.Errorf("route engine returned malformed order of length %d for %d stops", len(tour.Order), n)
	}

	// Close the cycle with the return leg to the depot.
	order := make([]int, 0, n+1)
	order = append(order, tour.Order...)
	order = append(order, depot)

	a.logger.Info().
		Int("stops", n).
		Int64("total_cost", tour.Cost).
		Dur("elapsed", time.Since(start)).
		Msg("route solved")

	return SolveResult{Order: order, TotalCost: tour.Cost}, nil
}
