// Package solver adapts a cost matrix into the route engine's input
// model and normalizes the engine's answer into a visiting order.
package solver

import (
	"context"
	"errors"
	"time"
)

// ErrNoSolution indicates the engine ran to its time budget without
// finding a feasible route. It is a server-side outcome, never caused
// by the caller's input.
var ErrNoSolution = errors.New("no feasible route found within the time budget")

// Problem is the engine's input: a square integer cost matrix over
// 0-based stop indices, the depot the tour must start from, and the
// hard wall-clock budget for the search.
type Problem struct {
	Costs     [][]int64
	Depot     int
	TimeLimit time.Duration
}

// Tour is the engine's answer: an open visiting order starting at the
// depot and containing every stop index exactly once, plus the total
// cost of the closed cycle including the return leg.
type Tour struct {
	Order []int
	Cost  int64
}

// Engine is the combinatorial search behind the adapter boundary. It
// blocks for up to the problem's time budget and is expected to honor
// context cancellation inside its improvement loop. Implementations
// must be deterministic for a given problem.
type Engine interface {
	Solve(ctx context.Context, p Problem) (Tour, error)
}

// SolveResult is a cyclic visiting order over stop indices, starting
// and ending at the depot, with every other index exactly once, and
// the engine-reported total cost.
type SolveResult struct {
	Order     []int
	TotalCost int64
}
