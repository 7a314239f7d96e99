package presets

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"

	"github.com/star/stageflight/internal/trajectory"
)

// Parse reads a JSON preset catalog from r. Malformed presets are skipped
// with a warning log; only an unreadable document is an error.
func Parse(r io.Reader, logger *slog.Logger) (map[string]Preset, error) {
	var raw map[string]json.RawMessage
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decoding preset catalog: %w", err)
	}

	presets := make(map[string]Preset, len(raw))
	for name, msg := range raw {
		if name == "" {
			logger.Warn("skipping preset with empty name")
			continue
		}
		var p Preset
		if err := json.Unmarshal(msg, &p); err != nil {
			logger.Warn("skipping malformed preset", "name", name, "error", err)
			continue
		}
		if err := p.validate(); err != nil {
			logger.Warn("skipping invalid preset", "name", name, "error", err)
			continue
		}
		presets[name] = p
	}

	return presets, nil
}

// validate checks stage array lengths and the converted vehicle.
func (p Preset) validate() error {
	if p.NumStages < 1 || p.NumStages > trajectory.MaxStages {
		return fmt.Errorf("numstages %d outside [1, %d]", p.NumStages, trajectory.MaxStages)
	}
	for field, n := range map[string]int{
		"fuelmass": len(p.FuelMass),
		"drymass":  len(p.DryMass),
		"isp":      len(p.Isp),
		"thrust":   len(p.Thrust),
	} {
		if n != p.NumStages {
			return fmt.Errorf("%s has %d values for %d stages", field, n, p.NumStages)
		}
	}
	if !(p.EstRange > 0) || math.IsInf(p.EstRange, 0) {
		return fmt.Errorf("estrange %g km must be positive", p.EstRange)
	}
	return p.Vehicle().Validate()
}
