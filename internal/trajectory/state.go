package trajectory

// State is one integration sample.
type State struct {
	Time     float64 `json:"time"`     // s since launch
	Altitude float64 `json:"altitude"` // m above the spherical Earth
	Mass     float64 `json:"mass"`     // kg
	Velocity float64 `json:"velocity"` // m/s along the flight path
	Thrust   float64 `json:"thrust"`   // N
	Drag     float64 `json:"drag"`     // N
	Gamma    float64 `json:"gamma"`    // rad, flight path angle above horizontal
	Psi      float64 `json:"psi"`      // rad, central angle traveled
}

// Range returns the ground range in meters.
func (s State) Range() float64 {
	return s.Psi * EarthRadius
}

// StageBurnout records the state at the end of a stage's burn.
type StageBurnout struct {
	Stage int `json:"stage"` // 1-based firing order
	State
}

// Result is the output of a single run.
type Result struct {
	States         []State        `json:"states,omitempty"`
	Burnouts       []StageBurnout `json:"burnouts"`
	Apogee         float64        `json:"apogee"`          // m
	ApogeeVelocity float64        `json:"apogee_velocity"` // m/s
	ApogeeTime     float64        `json:"apogee_time"`     // s
	Range          float64        `json:"range"`           // m
	FlightTime     float64        `json:"flight_time"`     // s
	TimedOut       bool           `json:"timed_out"`
	Steps          int            `json:"steps"`
	Experimental   bool           `json:"experimental"`
}

// Final returns the last recorded state.
func (r *Result) Final() State {
	if len(r.States) == 0 {
		return State{}
	}
	return r.States[len(r.States)-1]
}

// Observer receives run events synchronously on the calling goroutine.
type Observer interface {
	OnStageBurnout(b StageBurnout)
	OnComplete(r *Result)
}

// StepObserver is an Observer that also wants every sample.
type StepObserver interface {
	Observer
	OnStep(s State)
}
