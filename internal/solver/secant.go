// Package solver finds vehicle parameters that reach a target range by
// repeatedly running the trajectory integrator.
package solver

import (
	"context"
	"errors"
	"fmt"
	"math"
)

// ErrNoConvergence is returned when the search exhausts its run budget or
// the range stops responding to the parameter.
var ErrNoConvergence = errors.New("solver: no convergence")

// Func evaluates the achieved range in meters for parameter x.
type Func func(ctx context.Context, x float64) (float64, error)

// Iteration is reported to Options.Progress after every evaluation.
type Iteration struct {
	N     int     `json:"n"`
	Value float64 `json:"value"`
	Range float64 `json:"range"` // m
	Miss  float64 `json:"miss"`  // achieved minus target, m
}

// Options tunes the secant search.
type Options struct {
	MaxIterations int     // evaluation budget (default: 25)
	Tolerance     float64 // stop when the parameter step is smaller (default: 1e-2)
	Lower, Upper  float64 // parameter clamp, ignored when equal
	Progress      func(Iteration)
}

func (o Options) withDefaults() Options {
	if o.MaxIterations <= 0 {
		o.MaxIterations = 25
	}
	if o.Tolerance <= 0 {
		o.Tolerance = 1e-2
	}
	return o
}

func (o Options) clamp(x float64) float64 {
	if o.Lower == o.Upper {
		return x
	}
	return math.Max(o.Lower, math.Min(o.Upper, x))
}

// Solution is the best parameter found.
type Solution struct {
	Value      float64 `json:"value"`
	Range      float64 `json:"range"` // m
	Iterations int     `json:"iterations"`
}

// Solve runs a secant search on fn(x) - target starting from x0 and
// 0.99*x0 until the step falls below the tolerance. The best evaluation is
// returned, together with the error on ErrNoConvergence.
func Solve(ctx context.Context, x0, target float64, opts Options, fn Func) (Solution, error) {
	opts = opts.withDefaults()

	var (
		n    int
		best Solution
	)
	eval := func(x float64) (float64, error) {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		r, err := fn(ctx, x)
		if err != nil {
			return 0, fmt.Errorf("evaluating %g: %w", x, err)
		}
		n++
		miss := r - target
		if n == 1 || math.Abs(miss) < math.Abs(best.Range-target) {
			best = Solution{Value: x, Range: r}
		}
		best.Iterations = n
		if opts.Progress != nil {
			opts.Progress(Iteration{N: n, Value: x, Range: r, Miss: miss})
		}
		return miss, nil
	}

	x := opts.clamp(x0)
	f, err := eval(x)
	if err != nil {
		return best, err
	}
	oldx := opts.clamp(0.99 * x)
	oldf, err := eval(oldx)
	if err != nil {
		return best, err
	}

	// Iterate from the better of the two starting points.
	if math.Abs(oldf) < math.Abs(f) {
		x, oldx = oldx, x
		f, oldf = oldf, f
	}

	for n < opts.MaxIterations {
		if f == oldf {
			return best, fmt.Errorf("%w: range insensitive to parameter near %g", ErrNoConvergence, x)
		}
		dx := -f * (x - oldx) / (f - oldf)
		next := opts.clamp(x + dx)
		if next == x && x+dx != x {
			return best, fmt.Errorf("%w: target outside parameter bounds [%g, %g]", ErrNoConvergence, opts.Lower, opts.Upper)
		}

		oldx, oldf = x, f
		x = next
		if f, err = eval(x); err != nil {
			return best, err
		}
		if math.Abs(x-oldx) < opts.Tolerance {
			return best, nil
		}
	}

	return best, fmt.Errorf("%w after %d runs (best miss %.1f m)", ErrNoConvergence, n, best.Range-target)
}
