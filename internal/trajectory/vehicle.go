package trajectory

import (
	"fmt"
	"math"
)

// Physical constants shared by the integrator and its callers.
const (
	EarthRadius     = 6370000.0 // meters, spherical Earth
	SurfaceGravity  = 9.8066    // m/s^2, gravity field at sea level
	StandardGravity = 9.81      // m/s^2, Isp and kgf conversions
	MaxStages       = 5
)

// Stage describes one propulsive stage. Thrust is in Newtons.
type Stage struct {
	FuelMass float64 `json:"fuel_mass"` // kg
	DryMass  float64 `json:"dry_mass"`  // kg
	Isp      float64 `json:"isp"`       // seconds
	Thrust   float64 `json:"thrust"`    // N
}

// TotalMass returns fuel plus dry mass.
func (s Stage) TotalMass() float64 {
	return s.FuelMass + s.DryMass
}

// FuelFraction returns fuel mass over total stage mass.
func (s Stage) FuelFraction() float64 {
	return s.FuelMass / s.TotalMass()
}

// MassFlowRate returns the propellant flow in kg/s.
func (s Stage) MassFlowRate() float64 {
	return s.Thrust / (s.Isp * StandardGravity)
}

// BurnTime returns the stage burn duration in seconds.
func (s Stage) BurnTime() float64 {
	return s.Isp * StandardGravity * s.FuelMass / s.Thrust
}

// Vehicle is a complete missile: payload, body diameters and stages in
// firing order (index 0 fires first).
type Vehicle struct {
	Payload         float64 `json:"payload"`          // kg
	MissileDiameter float64 `json:"missile_diameter"` // m
	RVDiameter      float64 `json:"rv_diameter"`      // m, 0 disables drag after burnout
	Stages          []Stage `json:"stages"`
}

// TotalMass returns the launch mass.
func (v Vehicle) TotalMass() float64 {
	m := v.Payload
	for _, s := range v.Stages {
		m += s.TotalMass()
	}
	return m
}

// BurnTime returns the cumulative burn time of all stages.
func (v Vehicle) BurnTime() float64 {
	var t float64
	for _, s := range v.Stages {
		t += s.BurnTime()
	}
	return t
}

// Validate reports the first parameter that makes the vehicle unflyable.
// Returned errors wrap ErrInvalidInput.
func (v Vehicle) Validate() error {
	if n := len(v.Stages); n < 1 || n > MaxStages {
		return fmt.Errorf("%w: stage count %d outside [1, %d]", ErrInvalidInput, n, MaxStages)
	}
	if !finite(v.Payload) || v.Payload < 0 {
		return fmt.Errorf("%w: payload must be non-negative, got %g", ErrInvalidInput, v.Payload)
	}
	if !finite(v.MissileDiameter) || v.MissileDiameter <= 0 {
		return fmt.Errorf("%w: missile diameter must be positive, got %g", ErrInvalidInput, v.MissileDiameter)
	}
	if !finite(v.RVDiameter) || v.RVDiameter < 0 {
		return fmt.Errorf("%w: reentry vehicle diameter must be non-negative, got %g", ErrInvalidInput, v.RVDiameter)
	}
	for i, s := range v.Stages {
		checks := []struct {
			name  string
			value float64
		}{
			{"fuel mass", s.FuelMass},
			{"dry mass", s.DryMass},
			{"specific impulse", s.Isp},
			{"thrust", s.Thrust},
		}
		for _, c := range checks {
			if !finite(c.value) || c.value <= 0 {
				return fmt.Errorf("%w: stage %d %s must be positive, got %g", ErrInvalidInput, i+1, c.name, c.value)
			}
		}
	}
	return nil
}

// KgfToNewtons converts kilograms-force to Newtons.
func KgfToNewtons(kgf float64) float64 {
	return kgf * StandardGravity
}

func finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
