package solver

import (
	"context"
	"fmt"

	"github.com/star/stageflight/internal/trajectory"
)

// Fuel fraction bounds applied while searching, and the default step
// tolerance (0.01 percentage points).
const (
	MinFuelFraction   = 0.01
	MaxFuelFraction   = 0.99
	FractionTolerance = 1e-4
)

// RunFunc executes one trajectory. trajectory.Run wrapped by Direct is the
// default; callers may substitute a cached or instrumented runner.
type RunFunc func(ctx context.Context, v trajectory.Vehicle, cfg trajectory.Config) (*trajectory.Result, error)

// Direct runs the integrator with no observer.
func Direct(_ context.Context, v trajectory.Vehicle, cfg trajectory.Config) (*trajectory.Result, error) {
	return trajectory.Run(v, cfg, nil)
}

// WithFuelFraction returns a copy of v whose stage (0-based) keeps its total
// mass but carries fraction of it as fuel.
func WithFuelFraction(v trajectory.Vehicle, stage int, fraction float64) trajectory.Vehicle {
	out := v
	out.Stages = append([]trajectory.Stage(nil), v.Stages...)
	total := out.Stages[stage].TotalMass()
	out.Stages[stage].FuelMass = total * fraction
	out.Stages[stage].DryMass = total * (1 - fraction)
	return out
}

// FuelFraction returns a Func that varies the fuel fraction of one stage and
// reports the achieved range. Timed-out runs abort the search.
func FuelFraction(v trajectory.Vehicle, stage int, cfg trajectory.Config, run RunFunc) (Func, error) {
	if stage < 0 || stage >= len(v.Stages) {
		return nil, fmt.Errorf("%w: stage %d not in vehicle with %d stages", trajectory.ErrInvalidInput, stage+1, len(v.Stages))
	}
	if err := v.Validate(); err != nil {
		return nil, err
	}
	if run == nil {
		run = Direct
	}

	return func(ctx context.Context, x float64) (float64, error) {
		res, err := run(ctx, WithFuelFraction(v, stage, x), cfg)
		if err != nil {
			return 0, err
		}
		return res.Range, nil
	}, nil
}

// FractionOptions returns opts with the fuel fraction clamp applied and the
// tolerance defaulted to FractionTolerance.
func FractionOptions(opts Options) Options {
	opts.Lower, opts.Upper = MinFuelFraction, MaxFuelFraction
	if opts.Tolerance <= 0 {
		opts.Tolerance = FractionTolerance
	}
	return opts
}
