package trajectory

import (
	"encoding/json"
	"errors"
	"math"
	"strings"
	"testing"
)

// TestOptimalBurnoutAngle checks the minimum-energy angle at zero and
// quarter-circumference ranges.
func TestOptimalBurnoutAngle(t *testing.T) {
	assertNear(t, "angle(0)", OptimalBurnoutAngle(0), math.Pi/4, 1e-12)
	assertNear(t, "angle(quarter)", OptimalBurnoutAngle(math.Pi/2*EarthRadius), math.Pi/8, 1e-12)
}

// TestDecodeConfig verifies each mode decodes to its variant.
func TestDecodeConfig(t *testing.T) {
	tests := []struct {
		in   string
		want Config
	}{
		{`{"mode":"minimum_energy","estimated_range":500000}`, MinimumEnergy{EstimatedRange: 500000}},
		{`{"mode":"thrust_vector","turn_start":6,"turn_end":12,"turn_angle":0.1}`, ThrustVector{TurnStart: 6, TurnEnd: 12, TurnAngle: 0.1}},
		{`{"mode":"burnout_angle","angle":0.6}`, BurnoutAngle{Angle: 0.6}},
		{`{"mode":"turn_angle","turn_start":10,"turn_end":40,"gamma_start":1.2,"gamma_end":0.5}`, TurnAngle{TurnStart: 10, TurnEnd: 40, GammaStart: 1.2, GammaEnd: 0.5}},
	}

	for _, tt := range tests {
		t.Run(string(tt.want.Mode()), func(t *testing.T) {
			got, err := DecodeConfig([]byte(tt.in))
			if err != nil {
				t.Fatalf("DecodeConfig: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %#v, want %#v", got, tt.want)
			}

			enc, err := EncodeConfig(got)
			if err != nil {
				t.Fatalf("EncodeConfig: %v", err)
			}
			if !strings.Contains(string(enc), `"mode":"`+string(tt.want.Mode())+`"`) {
				t.Errorf("encoded %s missing mode discriminator", enc)
			}
		})
	}
}

// TestDecodeConfigErrors verifies malformed steering JSON is invalid input.
func TestDecodeConfigErrors(t *testing.T) {
	for _, in := range []string{
		`{}`,
		`{"mode":"ballistic"}`,
		`{"mode":"burnout_angle","angle":"steep"}`,
		`not json`,
	} {
		if _, err := DecodeConfig([]byte(in)); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("DecodeConfig(%s) err = %v, want ErrInvalidInput", in, err)
		}
	}
}

// TestSteeringField verifies Steering round-trips inside a larger document
// and can be passed straight to Run.
func TestSteeringField(t *testing.T) {
	var doc struct {
		Vehicle  Vehicle  `json:"vehicle"`
		Steering Steering `json:"steering"`
	}
	in := `{"vehicle":{"payload":500,"missile_diameter":1,"rv_diameter":0,
		"stages":[{"fuel_mass":5000,"dry_mass":1000,"isp":250,"thrust":981000}]},
		"steering":{"mode":"minimum_energy","estimated_range":500000}}`
	if err := json.Unmarshal([]byte(in), &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if doc.Steering.Mode() != ModeMinimumEnergy {
		t.Fatalf("mode = %q, want %q", doc.Steering.Mode(), ModeMinimumEnergy)
	}

	out, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(out), `"estimated_range":500000`) {
		t.Errorf("marshaled %s lost estimated_range", out)
	}

	if _, err := Run(doc.Vehicle, doc.Steering, nil); err != nil {
		t.Fatalf("Run with decoded steering: %v", err)
	}
}

// TestVectoredDeflection verifies thrust is deflected only inside the window.
func TestVectoredDeflection(t *testing.T) {
	g, err := ThrustVector{TurnStart: 5, TurnEnd: 8, TurnAngle: 0.2}.guidance(30)
	if err != nil {
		t.Fatal(err)
	}
	for _, tt := range []struct {
		t    float64
		want float64
	}{{4, 0}, {5, 0}, {6, -0.2}, {8, 0}, {9, 0}} {
		if got := g.deflection(tt.t); got != tt.want {
			t.Errorf("deflection(%g) = %g, want %g", tt.t, got, tt.want)
		}
	}
	if _, commanded := g.pitchRate(6); commanded {
		t.Error("thrust vector steering should use the dynamic pitch equation")
	}
}

// TestTurnAngleSchedule pins the provisional turn-angle schedule: a linear
// approach that reaches GammaStart at TurnStart, a linear turn to GammaEnd
// and a hold, with no thrust deflection.
func TestTurnAngleSchedule(t *testing.T) {
	c := TurnAngle{TurnStart: 15, TurnEnd: 35, GammaStart: 1.2, GammaEnd: 0.6}
	if !c.Experimental() {
		t.Error("turn angle steering must be reported as experimental")
	}
	g, err := c.guidance(60)
	if err != nil {
		t.Fatal(err)
	}

	approach, ok := g.pitchRate(10)
	if !ok {
		t.Fatal("approach rate not commanded")
	}
	assertNear(t, "gamma at turn start", math.Pi/2+approach*(c.TurnStart-verticalRise), c.GammaStart, 1e-12)

	turn, _ := g.pitchRate(20)
	assertNear(t, "gamma at turn end", c.GammaStart+turn*(c.TurnEnd-c.TurnStart), c.GammaEnd, 1e-12)

	if hold, ok := g.pitchRate(40); !ok || hold != 0 {
		t.Errorf("pitch rate after turn = %g (commanded %v), want held", hold, ok)
	}
	if d := g.deflection(20); d != 0 {
		t.Errorf("deflection = %g, want 0", d)
	}

	res, err := Run(singleStage(), TurnAngle{TurnStart: 6, TurnEnd: 10, GammaStart: 1.3, GammaEnd: 0.8}, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Experimental {
		t.Error("result not flagged experimental")
	}
}

// TestStageDerived checks the derived stage quantities.
func TestStageDerived(t *testing.T) {
	s := Stage{FuelMass: 5000, DryMass: 1000, Isp: 250, Thrust: KgfToNewtons(100000)}
	assertNear(t, "total", s.TotalMass(), 6000, 0)
	assertNear(t, "fraction", s.FuelFraction(), 5000.0/6000.0, 1e-12)
	assertNear(t, "flow", s.MassFlowRate(), 400, 1e-9)
	assertNear(t, "burn time", s.BurnTime(), 12.5, 1e-9)
}
