// Package trajectory integrates the powered and ballistic flight of a
// multi-stage missile over a spherical, non-rotating Earth.
//
// The state is (time, altitude, speed, flight path angle, central angle,
// mass). Each step uses the midpoint method: derivatives at the current
// point predict a half-step state, and derivatives at that half point
// advance the full step. Runs share nothing, so callers may execute them in
// parallel.
package trajectory

import (
	"fmt"
	"math"

	"github.com/star/stageflight/internal/atmosphere"
)

const (
	verticalRise   = 5.0      // s of vertical flight before pitch-over
	vacuumAltitude = 160934.0 // m, thrust fit upper bound
	timeCeiling    = 20000.0  // s
	initialStep    = 0.01     // s, used through the first stage plus one second
	cruiseStep     = 0.1      // s
	launchAltitude = 0.001    // m
	boosterVacuum  = 1.19     // first-stage thrust multiplier above vacuumAltitude
)

// Run integrates one flight from launch until impact or the time ceiling.
// obs may be nil.
//
// On timeout the populated result is returned together with an error
// wrapping ErrTimeout. Invalid inputs return an error wrapping
// ErrInvalidInput and numerical failures an error wrapping ErrNumerical;
// both with a nil result.
func Run(v Vehicle, cfg Config, obs Observer) (*Result, error) {
	if s, ok := cfg.(Steering); ok {
		cfg = s.Config
	}
	if cfg == nil {
		return nil, fmt.Errorf("%w: missing steering config", ErrInvalidInput)
	}
	if err := v.Validate(); err != nil {
		return nil, err
	}

	f, err := newFlight(v, cfg)
	if err != nil {
		return nil, err
	}
	return f.run(obs)
}

// flight holds the quantities derived once per run.
type flight struct {
	stages      []Stage
	stageEnd    []float64 // cumulative burn time through stage k
	jettisoned  []float64 // cumulative stage mass dropped through stage k
	burnTotal   float64
	launchMass  float64
	missileArea float64
	rvArea      float64
	law         guidance
	experiment  bool
}

func newFlight(v Vehicle, cfg Config) (*flight, error) {
	f := &flight{
		stages:      v.Stages,
		stageEnd:    make([]float64, len(v.Stages)),
		jettisoned:  make([]float64, len(v.Stages)),
		launchMass:  v.TotalMass(),
		missileArea: math.Pi * (v.MissileDiameter / 2) * (v.MissileDiameter / 2),
		rvArea:      math.Pi * (v.RVDiameter / 2) * (v.RVDiameter / 2),
		experiment:  cfg.Experimental(),
	}

	var burn, dropped float64
	for i, s := range v.Stages {
		burn += s.BurnTime()
		dropped += s.TotalMass()
		f.stageEnd[i] = burn
		f.jettisoned[i] = dropped
	}
	f.burnTotal = burn

	law, err := cfg.guidance(f.burnTotal)
	if err != nil {
		return nil, err
	}
	f.law = law
	return f, nil
}

// loads are the forces acting at one point of the trajectory.
type loads struct {
	thrust  float64
	drag    float64
	net     float64 // along the velocity vector
	gravity float64 // local acceleration
}

func (f *flight) loads(h, v float64, stage int, burning bool) loads {
	area := f.rvArea
	if burning {
		area = f.missileArea
	}
	drag := atmosphere.DragCoefficient(v, h) * area * atmosphere.Density(h) * v * v / 2

	var thrust float64
	if burning {
		s := f.stages[stage]
		thrust = s.Isp * s.MassFlowRate() * StandardGravity * thrustFactor(h, stage)
	}

	r := EarthRadius / (EarthRadius + h)
	return loads{
		thrust:  thrust,
		drag:    drag,
		net:     thrust - math.Copysign(drag, v),
		gravity: SurfaceGravity * r * r,
	}
}

// thrustFactor scales sea-level rated thrust for nozzle back-pressure.
func thrustFactor(h float64, stage int) float64 {
	if h < vacuumAltitude {
		x := h / vacuumAltitude
		return -0.4339*x*x*x + 0.6233*x*x - 0.01*x + 1.004
	}
	if stage == 0 {
		return boosterVacuum
	}
	return 1.0
}

// point is the subset of state the derivatives depend on. Phase checks and
// pitch commands use t; thrust deflection is evaluated at steer.
type point struct {
	t, steer, h, v, gamma, mass float64
}

// rates returns dψ/dt, dh/dt, dγ/dt and dv/dt at p.
func (f *flight) rates(p point, l loads) (dpsi, dh, dgamma, dv float64) {
	eta := f.law.deflection(p.steer)
	dpsi = p.v * math.Cos(p.gamma) / (EarthRadius + p.h)
	dh = p.v * math.Sin(p.gamma)
	dv = l.net/p.mass*math.Cos(eta) - l.gravity*math.Sin(p.gamma)

	switch {
	case p.t < verticalRise:
		dgamma = 0
	default:
		if p.t <= f.burnTotal {
			if rate, ok := f.law.pitchRate(p.t); ok {
				dgamma = rate
				return
			}
		}
		dgamma = dpsi + l.net*math.Sin(eta)/(p.v*p.mass) - l.gravity*math.Cos(p.gamma)/p.v
	}
	return
}

func (f *flight) run(obs Observer) (*Result, error) {
	stepObs, _ := obs.(StepObserver)

	res := &Result{Experimental: f.experiment}
	s := State{
		Altitude: launchAltitude,
		Mass:     f.launchMass,
		Gamma:    math.Pi / 2,
	}
	res.Apogee = s.Altitude

	var (
		stage      int
		staging    = true
		stageLimit = f.stageEnd[0]
		flow       = f.stages[0].MassFlowRate()
		dt         = initialStep
		fineUntil  = f.stages[0].BurnTime() + 1
		liftedOff  bool
		step       int
	)

	for {
		if dt == initialStep && s.Time+dt/5 >= fineUntil {
			dt = cruiseStep
		}
		burning := s.Time+dt/5 <= f.burnTotal
		l := f.loads(s.Altitude, s.Velocity, stage, burning)
		s.Thrust, s.Drag = l.thrust, l.drag

		res.States = append(res.States, s)
		if stepObs != nil {
			stepObs.OnStep(s)
		}

		if s.Time >= timeCeiling || s.Altitude <= 0 {
			break
		}
		step++

		p := point{t: s.Time, steer: s.Time, h: s.Altitude, v: s.Velocity, gamma: s.Gamma, mass: s.Mass}
		dpsi, dh, dgamma, dv := f.rates(p, l)
		t1 := s.Time + dt

		if !liftedOff && dv <= 0 {
			// Held on the pad until thrust exceeds weight.
			s.Time = t1
		} else {
			liftedOff = true
			half := dt / 2
			mid := point{
				t:     t1,
				steer: s.Time + half,
				h:     s.Altitude + dh*half,
				v:     s.Velocity + dv*half,
				gamma: s.Gamma + dgamma*half,
				mass:  s.Mass,
			}
			if burning {
				mid.mass -= flow * half
			}
			ml := f.loads(mid.h, mid.v, stage, burning)
			dpsi, dh, dgamma, dv = f.rates(mid, ml)

			s.Psi += dpsi * dt
			s.Altitude += dh * dt
			s.Gamma += dgamma * dt
			s.Velocity += dv * dt
			s.Time = t1
		}

		if s.Time+dt/5 <= f.burnTotal {
			s.Mass -= flow * dt
		}

		if s.Altitude > res.Apogee {
			res.Apogee = s.Altitude
			res.ApogeeVelocity = s.Velocity
			res.ApogeeTime = s.Time
		}

		if staging && s.Time+dt/5 > stageLimit {
			b := StageBurnout{Stage: stage + 1, State: s}
			res.Burnouts = append(res.Burnouts, b)
			if obs != nil {
				obs.OnStageBurnout(b)
			}

			s.Mass = math.Min(s.Mass, f.launchMass-f.jettisoned[stage])
			stage++
			if stage < len(f.stages) {
				flow = f.stages[stage].MassFlowRate()
				stageLimit += f.stages[stage].BurnTime()
			} else {
				stage = len(f.stages) - 1
				staging = false
			}
		}

		if err := checkState(s); err != "" {
			return nil, &SimulationError{Step: step, Time: s.Time, Detail: err, Err: ErrNumerical}
		}
	}

	final := res.Final()
	res.Range = final.Range()
	res.FlightTime = final.Time
	res.Steps = step
	res.TimedOut = final.Altitude > 0

	if obs != nil {
		obs.OnComplete(res)
	}
	if res.TimedOut {
		return res, &SimulationError{Step: step, Time: final.Time, Err: ErrTimeout}
	}
	return res, nil
}

// checkState returns a description of the first invalid field, or "".
func checkState(s State) string {
	fields := []struct {
		name  string
		value float64
	}{
		{"altitude", s.Altitude},
		{"velocity", s.Velocity},
		{"gamma", s.Gamma},
		{"psi", s.Psi},
		{"mass", s.Mass},
	}
	for _, f := range fields {
		if math.IsNaN(f.value) || math.IsInf(f.value, 0) {
			return fmt.Sprintf("%s is %v", f.name, f.value)
		}
	}
	if s.Mass <= 0 {
		return fmt.Sprintf("vehicle mass exhausted (%.3f kg)", s.Mass)
	}
	return ""
}
