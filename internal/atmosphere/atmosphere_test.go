package atmosphere

import (
	"math"
	"testing"
)

func assertNear(t *testing.T, name string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s = %.6f, want %.6f (tol %g)", name, got, want, tol)
	}
}

// TestDensityLayers checks each density branch against hand-computed values.
func TestDensityLayers(t *testing.T) {
	tests := []struct {
		name string
		h    float64
		want float64
		tol  float64
	}{
		{"sea level", 0, 1.225, 1e-12},
		{"scale height", 8420, 1.225 / math.E, 1e-9},
		{"upper fit", 30000, 1.225 * math.Pow(0.857003+30000.0/57947.0, -13.201), 1e-12},
		{"boundary 47 km", 47000, 0, 0},
		{"space", 120000, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertNear(t, "Density", Density(tt.h), tt.want, tt.tol)
		})
	}
}

// TestDensityMonotonic verifies density never increases with altitude inside
// each fitted layer.
func TestDensityMonotonic(t *testing.T) {
	prev := Density(0)
	for h := 100.0; h < densityUpperTop; h += 100 {
		if h == densityLowerTop {
			prev = Density(h)
			continue
		}
		d := Density(h)
		if d > prev {
			t.Fatalf("density increased at h=%.0f: %.6g > %.6g", h, d, prev)
		}
		prev = d
	}
}

// TestTemperatureLayers checks the three temperature branches and their
// boundaries.
func TestTemperatureLayers(t *testing.T) {
	assertNear(t, "T(0)", Temperature(0), 15.04, 1e-12)
	assertNear(t, "T(11000)", Temperature(11000), 15.04-0.00649*11000, 1e-9)
	assertNear(t, "T(20000)", Temperature(20000), -56.46, 0)
	assertNear(t, "T(25000)", Temperature(25000), -56.46, 0)
	assertNear(t, "T(30000)", Temperature(30000), -131.21+0.00299*30000, 1e-9)
}

// TestPressure checks sea-level pressure and layer ordering.
func TestPressure(t *testing.T) {
	p0 := Pressure(0)
	assertNear(t, "P(0)", p0, 101.29*math.Pow((15.04+273.1)/288.08, 5.256), 1e-9)
	if p0 < 100 || p0 > 102 {
		t.Errorf("sea level pressure %.3f kPa outside [100, 102]", p0)
	}

	for _, h := range []float64{5000, 11000, 20000, 25000, 40000} {
		if p := Pressure(h); p >= p0 || p <= 0 {
			t.Errorf("Pressure(%.0f) = %.4f, want in (0, %.4f)", h, p, p0)
		}
	}
}

// TestSpeedOfSound checks the sea-level value against the ideal gas relation.
func TestSpeedOfSound(t *testing.T) {
	assertNear(t, "a(0)", SpeedOfSound(0), math.Sqrt(1.4*287*(15.04+273.15)), 1e-9)
	if a := SpeedOfSound(0); a < 339 || a > 342 {
		t.Errorf("sea level speed of sound %.2f m/s outside [339, 342]", a)
	}
}

// TestDragCoefficientRegimes checks each Mach regime at its interior and edges.
func TestDragCoefficientRegimes(t *testing.T) {
	a := SpeedOfSound(0)
	tests := []struct {
		name string
		mach float64
		want float64
	}{
		{"subsonic", 0.5, 0.15},
		{"edge 0.8", 0.8, 0.15},
		{"transonic", 1.0, 0.625*1.0 - 0.35},
		{"edge 1.2", 1.2, 0.4},
		{"low supersonic", 1.5, -0.25*1.5 + 0.7},
		{"edge 1.8", 1.8, 0.25},
		{"supersonic", 3, -0.03125*3 + 0.30625},
		{"edge 5", 5, 0.15},
		{"hypersonic", 12, 0.15},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertNear(t, "cd", DragCoefficient(tt.mach*a, 0), tt.want, 1e-9)
		})
	}
}

// TestDragCoefficientContinuous verifies the piecewise fit has no jumps.
func TestDragCoefficientContinuous(t *testing.T) {
	a := SpeedOfSound(0)
	for _, m := range []float64{0.8, 1.2, 1.8, 5} {
		below := DragCoefficient((m-1e-9)*a, 0)
		above := DragCoefficient((m+1e-9)*a, 0)
		assertNear(t, "cd jump", above, below, 1e-6)
	}
}

// TestDragCoefficientSignIgnored verifies negative speeds use |v|.
func TestDragCoefficientSignIgnored(t *testing.T) {
	for _, v := range []float64{100, 350, 600, 2000} {
		if DragCoefficient(-v, 1000) != DragCoefficient(v, 1000) {
			t.Errorf("cd(-%.0f) != cd(%.0f)", v, v)
		}
	}
}

func BenchmarkDragCoefficient(b *testing.B) {
	for i := 0; i < b.N; i++ {
		DragCoefficient(float64(i%3000), float64(i%60000))
	}
}
