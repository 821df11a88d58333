// Package insertion implements the default route engine: deterministic
// cheapest-insertion construction followed by 2-opt improvement, both
// bounded by the problem's wall-clock budget.
package insertion

import (
	"context"
	"errors"
	"time"

	"github.com/optimap/optimap/internal/solver"
)

// Engine searches for a low-cost tour. It is stateless and safe for
// concurrent use. Ties break by lowest stop index, so a given problem
// always yields the same tour.
type Engine struct{}

// NewEngine creates the default engine.
func NewEngine() *Engine {
	return &Engine{}
}

// Solve constructs a tour via cheapest insertion and improves it with
// 2-opt segment reversals until no move helps or the budget runs out.
// A non-positive budget disables the wall-clock bound; context
// cancellation is honored either way.
func (e *Engine) Solve(ctx context.Context, p solver.Problem) (solver.Tour, error) {
	n := len(p.Costs)
	if n == 0 {
		return solver.Tour{}, errors.New("empty cost matrix")
	}
	if p.Depot < 0 || p.Depot >= n {
		return solver.Tour{}, errors.New("depot index out of range")
	}

	var deadline time.Time
	if p.TimeLimit > 0 {
		deadline = time.Now().Add(p.TimeLimit)
	}

	order, err := construct(ctx, p, deadline)
	if err != nil {
		return solver.Tour{}, err
	}

	cost := cycleCost(p.Costs, order)
	cost = improve(ctx, p.Costs, order, cost, deadline)

	return solver.Tour{Order: order, Cost: cost}, nil
}

// construct builds an initial tour by repeatedly inserting the
// unvisited stop with the cheapest insertion delta at its best
// position. Running out of budget mid-construction means no feasible
// route was produced.
func construct(ctx context.Context, p solver.Problem, deadline time.Time) ([]int, error) {
	n := len(p.Costs)
	costs := p.Costs

	order := make([]int, 0, n)
	order = append(order, p.Depot)

	remaining := make([]int, 0, n-1)
	for v := 0; v < n; v++ {
		if v != p.Depot {
			remaining = append(remaining, v)
		}
	}

	for len(remaining) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if expired(deadline) {
			return nil, solver.ErrNoSolution
		}

		bestDelta := int64(0)
		bestNode := -1
		bestPos := 0
		for ri, u := range remaining {
			for pos := 0; pos < len(order); pos++ {
				a := order[pos]
				b := order[(pos+1)%len(order)]
				delta := costs[a][u] + costs[u][b] - costs[a][b]
				if bestNode == -1 || delta < bestDelta {
					bestDelta = delta
					bestNode = ri
					bestPos = pos
				}
			}
		}

		u := remaining[bestNode]
		order = append(order, 0)
		copy(order[bestPos+2:], order[bestPos+1:])
		order[bestPos+1] = u
		remaining = append(remaining[:bestNode], remaining[bestNode+1:]...)
	}

	return order, nil
}

// improve runs 2-opt sweeps over the tour until a full sweep finds no
// improving reversal. Budget or cancellation stops the search and the
// current tour stands; the depot keeps position 0 throughout.
func improve(ctx context.Context, costs [][]int64, order []int, cost int64, deadline time.Time) int64 {
	n := len(order)
	if n < 4 {
		return cost
	}

	improved := true
	for improved {
		improved = false
		for i := 1; i < n-1; i++ {
			if ctx.Err() != nil || expired(deadline) {
				return cost
			}
			for j := i + 1; j < n; j++ {
				delta := reversalDelta(costs, order, i, j)
				if delta < 0 {
					reverse(order, i, j)
					cost += delta
					improved = true
				}
			}
		}
	}
	return cost
}

// reversalDelta is the cost change from reversing order[i..j] within
// the closed cycle. The matrix may be asymmetric, so every interior
// arc flips direction and contributes to the delta, not just the two
// boundary edges.
func reversalDelta(costs [][]int64, order []int, i, j int) int64 {
	n := len(order)
	prev := order[i-1]
	s := order[i]
	t := order[j]
	succ := order[(j+1)%n]

	delta := costs[prev][t] + costs[s][succ] - costs[prev][s] - costs[t][succ]
	for k := i; k < j; k++ {
		delta += costs[order[k+1]][order[k]] - costs[order[k]][order[k+1]]
	}
	return delta
}

func reverse(order []int, i, j int) {
	for i < j {
		order[i], order[j] = order[j], order[i]
		i++
		j--
	}
}

func cycleCost(costs [][]int64, order []int) int64 {
	var total int64
	for k := 0; k < len(order); k++ {
		total += costs[order[k]][order[(k+1)%len(order)]]
	}
	return total
}

func expired(deadline time.Time) bool {
	return !deadline.IsZero() && time.Now().After(deadline)
}
