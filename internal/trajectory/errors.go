package trajectory

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput indicates a vehicle or steering parameter that cannot
	// be flown. Reported before any integration step.
	ErrInvalidInput = errors.New("trajectory: invalid input")

	// ErrTimeout indicates the flight reached the time ceiling without
	// impact. The partial result is still returned.
	ErrTimeout = errors.New("trajectory: flight time ceiling reached")

	// ErrNumerical indicates a non-finite state or a degenerate steering
	// denominator.
	ErrNumerical = errors.New("trajectory: numerical failure")
)

// SimulationError wraps one of the sentinel errors with the integration
// step at which it occurred.
type SimulationError struct {
	Step   int
	Time   float64
	Detail string
	Err    error
}

func (e *SimulationError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%v (step %d, t=%.2f s)", e.Err, e.Step, e.Time)
	}
	return fmt.Sprintf("%v: %s (step %d, t=%.2f s)", e.Err, e.Detail, e.Step, e.Time)
}

func (e *SimulationError) Unwrap() error {
	return e.Err
}
