// Package atmosphere provides the density, temperature, pressure and drag
// coefficient fits used by the trajectory integrator.
//
// All functions are pure and safe for concurrent use. Altitudes are meters
// above sea level; the fits are empirical and their constants are kept as
// published.
package atmosphere

import "math"

// Layer boundaries (meters).
const (
	densityLowerTop = 19200.0 // exponential density fit ends here
	densityUpperTop = 47000.0 // density is treated as zero above this altitude
	troposphereTop  = 11000.0
	lowerStratTop   = 25000.0
)

const (
	seaLevelDensity = 1.225 // kg/m^3
	scaleHeight     = 8420.0
	gammaAir        = 1.4
	gasConstantAir  = 287.0 // J/(kg K)
)

// Density returns air density in kg/m^3 at altitude h.
func Density(h float64) float64 {
	switch {
	case h < densityLowerTop:
		return seaLevelDensity * math.Exp(-h/scaleHeight)
	case h < densityUpperTop:
		return seaLevelDensity * math.Pow(0.857003+h/57947.0, -13.201)
	default:
		return 0
	}
}

// Temperature returns the air temperature in degrees Celsius at altitude h.
func Temperature(h float64) float64 {
	switch {
	case h <= troposphereTop:
		return 15.04 - 0.00649*h
	case h <= lowerStratTop:
		return -56.46
	default:
		return -131.21 + 0.00299*h
	}
}

// Pressure returns the static pressure at altitude h using the NASA
// Glenn three-layer fit (kPa scaled).
func Pressure(h float64) float64 {
	t := Temperature(h)
	switch {
	case h <= troposphereTop:
		return 101.29 * math.Pow((t+273.1)/288.08, 5.256)
	case h <= lowerStratTop:
		return 22.65 * math.Exp(1.73-0.000157*h)
	default:
		return 2.488 * math.Pow((t+273.1)/288.08, -11.388)
	}
}

// SpeedOfSound returns the local speed of sound in m/s at altitude h.
func SpeedOfSound(h float64) float64 {
	return math.Sqrt(gammaAir * gasConstantAir * (Temperature(h) + 273.15))
}

// Mach returns the Mach number for speed v at altitude h. The sign of v is
// ignored.
func Mach(v, h float64) float64 {
	return math.Abs(v) / SpeedOfSound(h)
}

// DragCoefficient returns the piecewise-linear drag coefficient for speed v
// (m/s) at altitude h.
func DragCoefficient(v, h float64) float64 {
	m := Mach(v, h)
	switch {
	case m > 5:
		return 0.15
	case m > 1.8:
		return -0.03125*m + 0.30625
	case m > 1.2:
		return -0.25*m + 0.7
	case m > 0.8:
		return 0.625*m - 0.35
	default:
		return 0.15
	}
}
