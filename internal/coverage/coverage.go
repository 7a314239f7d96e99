// Package coverage computes when tracking stations can see a flight.
package coverage

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sync"
	"time"

	"github.com/star/stageflight/internal/groundtrack"
	"github.com/star/stageflight/internal/trajectory"
)

// Station is a ground tracking site.
type Station struct {
	Name            string  `json:"name"`
	LatDeg          float64 `json:"lat_deg"`
	LonDeg          float64 `json:"lon_deg"`
	AltM            float64 `json:"alt_m"`
	MinElevationDeg float64 `json:"min_elevation_deg"` // degrees above the horizon
}

// Validate checks the station coordinates.
func (s Station) Validate() error {
	switch {
	case !(s.LatDeg >= -90 && s.LatDeg <= 90):
		return fmt.Errorf("%w: station %q latitude %g outside [-90, 90]", trajectory.ErrInvalidInput, s.Name, s.LatDeg)
	case !(s.LonDeg >= -180 && s.LonDeg <= 360):
		return fmt.Errorf("%w: station %q longitude %g outside [-180, 360]", trajectory.ErrInvalidInput, s.Name, s.LonDeg)
	case !(s.MinElevationDeg >= -90 && s.MinElevationDeg <= 90):
		return fmt.Errorf("%w: station %q minimum elevation %g outside [-90, 90]", trajectory.ErrInvalidInput, s.Name, s.MinElevationDeg)
	case math.IsNaN(s.AltM) || math.IsInf(s.AltM, 0):
		return fmt.Errorf("%w: station %q altitude must be finite", trajectory.ErrInvalidInput, s.Name)
	}
	return nil
}

// Window is one continuous interval during which a station sees the vehicle.
type Window struct {
	Start            float64   `json:"start"` // s since launch
	End              float64   `json:"end"`
	StartEpoch       time.Time `json:"start_epoch"`
	EndEpoch         time.Time `json:"end_epoch"`
	DurationSeconds  float64   `json:"duration_seconds"`
	MaxElevation     float64   `json:"max_elevation"`
	MaxElevationTime float64   `json:"max_elevation_time"`
	AzimuthAtMax     float64   `json:"azimuth_at_max"`
	StartAzimuth     float64   `json:"start_azimuth"`
	EndAzimuth       float64   `json:"end_azimuth"`
	MinRangeKm       float64   `json:"min_range_km"`
}

// StationCoverage holds the windows for one station.
type StationCoverage struct {
	Station Station  `json:"station"`
	Windows []Window `json:"windows"`
	Error   string   `json:"error,omitempty"`
}

// Compute finds visibility windows for every station over the track.
// Each station is processed in its own goroutine, bounded by a semaphore.
// Results are in station order.
func Compute(ctx context.Context, track []groundtrack.Point, stations []Station) []StationCoverage {
	results := make([]StationCoverage, len(stations))
	sem := make(chan struct{}, runtime.NumCPU())
	var wg sync.WaitGroup

	for i, st := range stations {
		wg.Add(1)
		go func(idx int, s Station) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results[idx] = StationCoverage{Station: s, Error: "cancelled"}
				return
			}

			if err := s.Validate(); err != nil {
				results[idx] = StationCoverage{Station: s, Error: err.Error()}
				return
			}
			windows, err := stationWindows(ctx, track, s)
			if err != nil {
				results[idx] = StationCoverage{Station: s, Windows: windows, Error: err.Error()}
				return
			}
			results[idx] = StationCoverage{Station: s, Windows: windows}
		}(i, st)
	}

	wg.Wait()
	return results
}

func stationWindows(ctx context.Context, track []groundtrack.Point, s Station) ([]Window, error) {
	site := groundtrack.NewSite(s.LatDeg, s.LonDeg, s.AltM)

	var (
		windows []Window
		cur     *Window
	)
	for i, p := range track {
		if i%256 == 0 && ctx.Err() != nil {
			return windows, ctx.Err()
		}

		la := site.Look(p.ECEF)
		above := la.ElevationDeg >= s.MinElevationDeg

		switch {
		case above && cur == nil:
			cur = &Window{
				Start:            p.Time,
				StartEpoch:       p.Epoch,
				StartAzimuth:     la.AzimuthDeg,
				MaxElevation:     la.ElevationDeg,
				MaxElevationTime: p.Time,
				AzimuthAtMax:     la.AzimuthDeg,
				MinRangeKm:       la.RangeKm,
			}
			fallthrough
		case above:
			if la.ElevationDeg > cur.MaxElevation {
				cur.MaxElevation = la.ElevationDeg
				cur.MaxElevationTime = p.Time
				cur.AzimuthAtMax = la.AzimuthDeg
			}
			cur.MinRangeKm = math.Min(cur.MinRangeKm, la.RangeKm)
			cur.End, cur.EndEpoch, cur.EndAzimuth = p.Time, p.Epoch, la.AzimuthDeg
		case cur != nil:
			// Set: close at the first sample below the mask.
			cur.End, cur.EndEpoch, cur.EndAzimuth = p.Time, p.Epoch, la.AzimuthDeg
			windows = append(windows, finish(*cur))
			cur = nil
		}
	}

	// Still visible at impact.
	if cur != nil {
		windows = append(windows, finish(*cur))
	}
	return windows, nil
}

func finish(w Window) Window {
	w.DurationSeconds = w.End - w.Start
	return w
}
