package runner

import "github.com/star/stageflight/internal/trajectory"

// Request is one trajectory run.
type Request struct {
	Label    string              `json:"label,omitempty"`
	Vehicle  trajectory.Vehicle  `json:"vehicle"`
	Steering trajectory.Steering `json:"steering"`
}

// Outcome is the result of one Request in a sweep.
type Outcome struct {
	Label  string             `json:"label,omitempty"`
	Result *trajectory.Result `json:"result,omitempty"`
	Cached bool               `json:"cached"`
	Err    error              `json:"-"`
	Error  string             `json:"error,omitempty"`
}

// Config holds runner configuration loaded from environment variables.
type Config struct {
	Workers int // Sweep worker pool size (default: runtime.NumCPU())
}

// SolveRequest asks for the fuel fraction of one stage that reaches a range.
type SolveRequest struct {
	Vehicle       trajectory.Vehicle  `json:"vehicle"`
	Steering      trajectory.Steering `json:"steering"`
	Stage         int                 `json:"stage"`                    // 1-based
	TargetRange   float64             `json:"target_range"`             // m
	InitialGuess  float64             `json:"initial_guess,omitempty"`  // default: the stage's current fraction
	MaxIterations int                 `json:"max_iterations,omitempty"` // default: 25
	Tolerance     float64             `json:"tolerance,omitempty"`      // fraction step, default: 1e-4
}
