package presets

import (
	"sort"
	"time"

	"github.com/star/stageflight/internal/trajectory"
)

// Preset is one named vehicle in the catalog file format. Stage arrays are
// indexed in firing order.
type Preset struct {
	NumStages   int       `json:"numstages"`
	Payload     float64   `json:"payload"`     // kg
	MissileDiam float64   `json:"missilediam"` // m
	RVDiam      float64   `json:"rvdiam"`      // m
	EstRange    float64   `json:"estrange"`    // km
	FuelMass    []float64 `json:"fuelmass"`    // kg
	DryMass     []float64 `json:"drymass"`     // kg
	Isp         []float64 `json:"isp"`         // s
	Thrust      []float64 `json:"thrust"`      // kgf
}

// Vehicle converts the preset to SI units.
func (p Preset) Vehicle() trajectory.Vehicle {
	v := trajectory.Vehicle{
		Payload:         p.Payload,
		MissileDiameter: p.MissileDiam,
		RVDiameter:      p.RVDiam,
		Stages:          make([]trajectory.Stage, p.NumStages),
	}
	for i := range v.Stages {
		v.Stages[i] = trajectory.Stage{
			FuelMass: p.FuelMass[i],
			DryMass:  p.DryMass[i],
			Isp:      p.Isp[i],
			Thrust:   trajectory.KgfToNewtons(p.Thrust[i]),
		}
	}
	return v
}

// Config returns minimum-energy steering for the preset's estimated range.
func (p Preset) Config() trajectory.MinimumEnergy {
	return trajectory.MinimumEnergy{EstimatedRange: p.EstRange * 1000}
}

// Summary is the catalog listing for one preset.
type Summary struct {
	Name             string  `json:"name"`
	Stages           int     `json:"stages"`
	Payload          float64 `json:"payload"`
	LaunchMass       float64 `json:"launch_mass"`
	EstimatedRangeKm float64 `json:"estimated_range_km"`
}

// Catalog is a complete set of presets from one source.
type Catalog struct {
	Source   string
	LoadedAt time.Time
	Presets  map[string]Preset
}

// Names returns the preset names in alphabetical order.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.Presets))
	for name := range c.Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Summaries lists every preset in name order.
func (c *Catalog) Summaries() []Summary {
	names := c.Names()
	out := make([]Summary, 0, len(names))
	for _, name := range names {
		p := c.Presets[name]
		out = append(out, Summary{
			Name:             name,
			Stages:           p.NumStages,
			Payload:          p.Payload,
			LaunchMass:       p.Vehicle().TotalMass(),
			EstimatedRangeKm: p.EstRange,
		})
	}
	return out
}
