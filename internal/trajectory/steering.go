package trajectory

import (
	"encoding/json"
	"fmt"
	"math"
)

// Mode names a steering law. It is the JSON discriminator for Config.
type Mode string

const (
	ModeMinimumEnergy Mode = "minimum_energy"
	ModeThrustVector  Mode = "thrust_vector"
	ModeBurnoutAngle  Mode = "burnout_angle"
	ModeTurnAngle     Mode = "turn_angle"
)

// Config selects how the vehicle pitches over during powered flight.
// Implemented only by MinimumEnergy, ThrustVector, BurnoutAngle and
// TurnAngle.
type Config interface {
	Mode() Mode
	// Experimental reports whether the law is outside the validated
	// minimum-energy profile.
	Experimental() bool
	guidance(burnTime float64) (guidance, error)
}

// guidance is the per-run steering law derived from a Config.
type guidance interface {
	// deflection returns the thrust angle off the velocity vector at t.
	deflection(t float64) float64
	// pitchRate returns the commanded flight path angle rate at t during
	// powered flight after the vertical rise. commanded is false when the
	// dynamic equation applies instead.
	pitchRate(t float64) (rate float64, commanded bool)
}

// MinimumEnergy pitches over at a constant rate so burnout occurs at the
// flight path angle that maximizes range for EstimatedRange.
type MinimumEnergy struct {
	EstimatedRange float64 `json:"estimated_range"` // meters
}

// ThrustVector deflects thrust by TurnAngle between TurnStart and TurnEnd
// and otherwise flies a gravity turn.
type ThrustVector struct {
	TurnStart float64 `json:"turn_start"` // s
	TurnEnd   float64 `json:"turn_end"`   // s
	TurnAngle float64 `json:"turn_angle"` // rad
}

// BurnoutAngle pitches over at a constant rate toward a fixed burnout
// flight path angle.
type BurnoutAngle struct {
	Angle float64 `json:"angle"` // rad above the local horizontal
}

// TurnAngle reaches GammaStart at TurnStart, turns linearly to GammaEnd at
// TurnEnd and holds that angle for the rest of powered flight.
//
// The schedule is provisional: the linear approach from vertical to
// GammaStart is an assumption, not a validated profile, and runs are
// reported as experimental.
type TurnAngle struct {
	TurnStart  float64 `json:"turn_start"`  // s
	TurnEnd    float64 `json:"turn_end"`    // s
	GammaStart float64 `json:"gamma_start"` // rad
	GammaEnd   float64 `json:"gamma_end"`   // rad
}

func (MinimumEnergy) Mode() Mode { return ModeMinimumEnergy }
func (ThrustVector) Mode() Mode  { return ModeThrustVector }
func (BurnoutAngle) Mode() Mode  { return ModeBurnoutAngle }
func (TurnAngle) Mode() Mode     { return ModeTurnAngle }

func (MinimumEnergy) Experimental() bool { return false }
func (ThrustVector) Experimental() bool  { return true }
func (BurnoutAngle) Experimental() bool  { return true }
func (TurnAngle) Experimental() bool     { return true }

// OptimalBurnoutAngle returns the minimum-energy burnout flight path angle
// for a ground range in meters.
func OptimalBurnoutAngle(estimatedRange float64) float64 {
	return math.Pi/2 - 0.25*(estimatedRange/EarthRadius+math.Pi)
}

func (c MinimumEnergy) guidance(burnTime float64) (guidance, error) {
	if !finite(c.EstimatedRange) || c.EstimatedRange <= 0 || c.EstimatedRange > math.Pi*EarthRadius {
		return nil, fmt.Errorf("%w: estimated range must be in (0, %.0f] m, got %g", ErrInvalidInput, math.Pi*EarthRadius, c.EstimatedRange)
	}
	return linearPitch(OptimalBurnoutAngle(c.EstimatedRange), burnTime)
}

func (c BurnoutAngle) guidance(burnTime float64) (guidance, error) {
	if !finite(c.Angle) || c.Angle <= 0 || c.Angle > math.Pi/2 {
		return nil, fmt.Errorf("%w: burnout angle must be in (0, pi/2], got %g", ErrInvalidInput, c.Angle)
	}
	return linearPitch(c.Angle, burnTime)
}

func (c ThrustVector) guidance(float64) (guidance, error) {
	if !finite(c.TurnStart) || !finite(c.TurnEnd) || c.TurnStart < 0 || c.TurnEnd <= c.TurnStart {
		return nil, fmt.Errorf("%w: thrust vector window [%g, %g] s is empty", ErrInvalidInput, c.TurnStart, c.TurnEnd)
	}
	if !finite(c.TurnAngle) || math.Abs(c.TurnAngle) >= math.Pi/2 {
		return nil, fmt.Errorf("%w: thrust vector angle must be within (-pi/2, pi/2), got %g", ErrInvalidInput, c.TurnAngle)
	}
	return vectoredTurn{start: c.TurnStart, end: c.TurnEnd, angle: c.TurnAngle}, nil
}

func (c TurnAngle) guidance(float64) (guidance, error) {
	if !finite(c.TurnStart) || !finite(c.TurnEnd) || c.TurnStart <= verticalRise || c.TurnEnd <= c.TurnStart {
		return nil, fmt.Errorf("%w: turn window [%g, %g] s must start after the %g s vertical rise", ErrInvalidInput, c.TurnStart, c.TurnEnd, verticalRise)
	}
	for _, g := range []float64{c.GammaStart, c.GammaEnd} {
		if !finite(g) || g <= 0 || g > math.Pi/2 {
			return nil, fmt.Errorf("%w: turn angles must be in (0, pi/2], got %g", ErrInvalidInput, g)
		}
	}
	return scheduledTurn{
		start:    c.TurnStart,
		end:      c.TurnEnd,
		approach: (c.GammaStart - math.Pi/2) / (c.TurnStart - verticalRise),
		turn:     (c.GammaEnd - c.GammaStart) / (c.TurnEnd - c.TurnStart),
	}, nil
}

// linearPitch commands a constant rate from vertical to target over the
// powered flight that follows the vertical rise.
func linearPitch(target, burnTime float64) (guidance, error) {
	span := burnTime - verticalRise
	if math.Abs(span) < initialStep {
		return nil, &SimulationError{
			Err:    ErrNumerical,
			Detail: fmt.Sprintf("burn time %.4f s leaves no pitch-over interval after the vertical rise", burnTime),
		}
	}
	if span < 0 {
		// Burnout happens during the vertical rise.
		return linearTurn{}, nil
	}
	return linearTurn{rate: (target - math.Pi/2) / span}, nil
}

type linearTurn struct{ rate float64 }

func (linearTurn) deflection(float64) float64 { return 0 }

func (g linearTurn) pitchRate(float64) (float64, bool) { return g.rate, true }

type vectoredTurn struct{ start, end, angle float64 }

func (g vectoredTurn) deflection(t float64) float64 {
	if t > g.start && t < g.end {
		return -g.angle
	}
	return 0
}

func (vectoredTurn) pitchRate(float64) (float64, bool) { return 0, false }

type scheduledTurn struct{ start, end, approach, turn float64 }

func (scheduledTurn) deflection(float64) float64 { return 0 }

func (g scheduledTurn) pitchRate(t float64) (float64, bool) {
	switch {
	case t < g.start:
		return g.approach, true
	case t <= g.end:
		return g.turn, true
	default:
		return 0, true
	}
}

type modeDisc struct {
	Mode Mode `json:"mode"`
}

// DecodeConfig decodes a steering configuration from a JSON object whose
// "mode" field selects the variant.
func DecodeConfig(data []byte) (Config, error) {
	var disc modeDisc
	if err := json.Unmarshal(data, &disc); err != nil {
		return nil, fmt.Errorf("%w: reading steering mode: %v", ErrInvalidInput, err)
	}

	var (
		cfg Config
		err error
	)
	switch disc.Mode {
	case ModeMinimumEnergy:
		var c MinimumEnergy
		err = json.Unmarshal(data, &c)
		cfg = c
	case ModeThrustVector:
		var c ThrustVector
		err = json.Unmarshal(data, &c)
		cfg = c
	case ModeBurnoutAngle:
		var c BurnoutAngle
		err = json.Unmarshal(data, &c)
		cfg = c
	case ModeTurnAngle:
		var c TurnAngle
		err = json.Unmarshal(data, &c)
		cfg = c
	case "":
		return nil, fmt.Errorf("%w: missing steering \"mode\"", ErrInvalidInput)
	default:
		return nil, fmt.Errorf("%w: unknown steering mode %q", ErrInvalidInput, disc.Mode)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: parsing %s steering: %v", ErrInvalidInput, disc.Mode, err)
	}
	return cfg, nil
}

// EncodeConfig encodes cfg with its "mode" discriminator.
func EncodeConfig(cfg Config) ([]byte, error) {
	var body any
	switch c := cfg.(type) {
	case Steering:
		if c.Config == nil {
			return nil, fmt.Errorf("%w: empty steering config", ErrInvalidInput)
		}
		return EncodeConfig(c.Config)
	case MinimumEnergy:
		type plain MinimumEnergy
		body = struct {
			Mode Mode `json:"mode"`
			plain
		}{c.Mode(), plain(c)}
	case ThrustVector:
		type plain ThrustVector
		body = struct {
			Mode Mode `json:"mode"`
			plain
		}{c.Mode(), plain(c)}
	case BurnoutAngle:
		type plain BurnoutAngle
		body = struct {
			Mode Mode `json:"mode"`
			plain
		}{c.Mode(), plain(c)}
	case TurnAngle:
		type plain TurnAngle
		body = struct {
			Mode Mode `json:"mode"`
			plain
		}{c.Mode(), plain(c)}
	default:
		return nil, fmt.Errorf("%w: unsupported steering config %T", ErrInvalidInput, cfg)
	}
	return json.Marshal(body)
}

// Steering adapts a Config for use as a JSON field.
type Steering struct {
	Config
}

func (s *Steering) UnmarshalJSON(data []byte) error {
	cfg, err := DecodeConfig(data)
	if err != nil {
		return err
	}
	s.Config = cfg
	return nil
}

func (s Steering) MarshalJSON() ([]byte, error) {
	if s.Config == nil {
		return []byte("null"), nil
	}
	return EncodeConfig(s.Config)
}
