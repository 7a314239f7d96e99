// Package runner executes trajectory runs for the service: single runs
// through the result cache, parallel sweeps, range-matching searches and
// observed runs for live streams.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/star/stageflight/internal/cache"
	"github.com/star/stageflight/internal/metrics"
	"github.com/star/stageflight/internal/solver"
	"github.com/star/stageflight/internal/trajectory"
)

// Runner orchestrates trajectory runs.
type Runner struct {
	cache  *cache.ResultCache
	pool   *WorkerPool
	config Config
	logger *slog.Logger
}

// NewRunner creates a runner. A nil cache disables result caching.
func NewRunner(c *cache.ResultCache, config Config, logger *slog.Logger) *Runner {
	pool := NewWorkerPool(config.Workers, logger)
	metrics.SetRunWorkers(pool.workers)
	return &Runner{
		cache:  c,
		pool:   pool,
		config: config,
		logger: logger,
	}
}

// Simulate runs req, serving it from the cache when an identical run has
// completed recently. The returned bool reports a cache hit. A timed-out run
// returns both its partial result and an error wrapping
// trajectory.ErrTimeout.
func (r *Runner) Simulate(ctx context.Context, req Request) (*trajectory.Result, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	cfg := req.Steering.Config
	if cfg == nil {
		return nil, false, fmt.Errorf("%w: steering is required", trajectory.ErrInvalidInput)
	}

	var key string
	if r.cache != nil {
		k, err := cache.Key(req.Vehicle, cfg)
		if err != nil {
			return nil, false, fmt.Errorf("%w: %v", trajectory.ErrInvalidInput, err)
		}
		key = k
		if res, ok := r.cache.Get(key); ok {
			r.logger.Debug("run served from cache", "label", req.Label, "mode", cfg.Mode())
			return res, true, nil
		}
	}

	res, err := r.run(req.Label, req.Vehicle, cfg, nil)
	if err == nil && r.cache != nil {
		r.cache.Put(key, res)
	}
	return res, false, err
}

// Run satisfies solver.RunFunc, so range searches share the cache.
func (r *Runner) Run(ctx context.Context, v trajectory.Vehicle, cfg trajectory.Config) (*trajectory.Result, error) {
	res, _, err := r.Simulate(ctx, Request{Vehicle: v, Steering: trajectory.Steering{Config: cfg}})
	return res, err
}

// Observe runs req with obs attached. Observed runs bypass the cache.
func (r *Runner) Observe(ctx context.Context, req Request, obs trajectory.Observer) (*trajectory.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.Steering.Config == nil {
		return nil, fmt.Errorf("%w: steering is required", trajectory.ErrInvalidInput)
	}
	return r.run(req.Label, req.Vehicle, req.Steering.Config, obs)
}

// Sweep runs every request on the worker pool and returns the outcomes in
// request order.
func (r *Runner) Sweep(ctx context.Context, reqs []Request) []Outcome {
	start := time.Now()
	outcomes, ok, failed := r.pool.RunBatch(ctx, reqs, func(ctx context.Context, req Request) Outcome {
		res, cached, err := r.Simulate(ctx, req)
		out := Outcome{Label: req.Label, Result: res, Cached: cached, Err: err}
		if err != nil {
			out.Error = err.Error()
		}
		return out
	})

	r.logger.Info("sweep complete",
		"runs", len(reqs),
		"success", ok,
		"errors", failed,
		"workers", r.pool.workers,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return outcomes
}

// SolveResult is the outcome of a range-matching search.
type SolveResult struct {
	Solution   solver.Solution    `json:"solution"`
	Vehicle    trajectory.Vehicle `json:"vehicle"`
	Result     *trajectory.Result `json:"result,omitempty"`
	Iterations []solver.Iteration `json:"iterations"`
}

// Solve searches for the fuel fraction of req.Stage that reaches
// req.TargetRange. On solver.ErrNoConvergence the best attempt is returned
// alongside the error.
func (r *Runner) Solve(ctx context.Context, req SolveRequest) (*SolveResult, error) {
	cfg := req.Steering.Config
	if cfg == nil {
		return nil, fmt.Errorf("%w: steering is required", trajectory.ErrInvalidInput)
	}
	if req.TargetRange <= 0 {
		return nil, fmt.Errorf("%w: target range must be positive", trajectory.ErrInvalidInput)
	}

	stage := req.Stage - 1
	fn, err := solver.FuelFraction(req.Vehicle, stage, cfg, r.Run)
	if err != nil {
		return nil, err
	}

	guess := req.InitialGuess
	if guess <= 0 {
		guess = req.Vehicle.Stages[stage].FuelFraction()
	}

	out := &SolveResult{}
	opts := solver.FractionOptions(solver.Options{
		MaxIterations: req.MaxIterations,
		Tolerance:     req.Tolerance,
		Progress: func(it solver.Iteration) {
			out.Iterations = append(out.Iterations, it)
			r.logger.Debug("solve iteration",
				"n", it.N,
				"fraction", it.Value,
				"range_km", it.Range/1000,
				"miss_km", it.Miss/1000,
			)
		},
	})

	start := time.Now()
	sol, err := solver.Solve(ctx, guess, req.TargetRange, opts, fn)
	out.Solution = sol
	out.Vehicle = solver.WithFuelFraction(req.Vehicle, stage, sol.Value)

	switch {
	case err == nil:
		metrics.RecordSolve("converged", sol.Iterations)
	case errors.Is(err, solver.ErrNoConvergence):
		metrics.RecordSolve("no_convergence", sol.Iterations)
	default:
		metrics.RecordSolve("error", sol.Iterations)
		return nil, err
	}

	r.logger.Info("solve complete",
		"stage", req.Stage,
		"target_km", req.TargetRange/1000,
		"fraction", sol.Value,
		"range_km", sol.Range/1000,
		"iterations", sol.Iterations,
		"converged", err == nil,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	res, _, runErr := r.Simulate(ctx, Request{Vehicle: out.Vehicle, Steering: req.Steering})
	if runErr == nil {
		out.Result = res
	}
	return out, err
}

// run executes one integration and records its outcome.
func (r *Runner) run(label string, v trajectory.Vehicle, cfg trajectory.Config, obs trajectory.Observer) (*trajectory.Result, error) {
	start := time.Now()
	res, err := trajectory.Run(v, cfg, obs)
	duration := time.Since(start)

	outcome := outcomeLabel(err)
	steps := 0
	if res != nil {
		steps = res.Steps
	}
	metrics.RecordRun(string(cfg.Mode()), outcome, duration, steps)

	switch outcome {
	case "impact":
		r.logger.Debug("run complete",
			"label", label,
			"mode", cfg.Mode(),
			"range_km", res.Range/1000,
			"apogee_km", res.Apogee/1000,
			"steps", res.Steps,
			"duration_ms", duration.Milliseconds(),
		)
	case "timeout":
		r.logger.Info("run timed out", "label", label, "mode", cfg.Mode(), "steps", steps)
	case "invalid":
		r.logger.Debug("run rejected", "label", label, "error", err)
	default:
		r.logger.Warn("run failed", "label", label, "mode", cfg.Mode(), "error", err)
	}
	return res, err
}

// outcomeLabel maps a run error to a metrics label.
func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "impact"
	case errors.Is(err, trajectory.ErrTimeout):
		return "timeout"
	case errors.Is(err, trajectory.ErrInvalidInput):
		return "invalid"
	case errors.Is(err, trajectory.ErrNumerical):
		return "numerical"
	default:
		return "error"
	}
}
