package coverage

import (
	"context"
	"testing"
	"time"

	"github.com/star/stageflight/internal/groundtrack"
	"github.com/star/stageflight/internal/trajectory"
)

var epoch = time.Date(2026, 2, 6, 4, 1, 0, 0, time.UTC)

// synthetic builds a track that alternates between directly above the
// equator/prime meridian and the antipode.
func synthetic(visible ...bool) []groundtrack.Point {
	points := make([]groundtrack.Point, len(visible))
	for i, v := range visible {
		lon := 180.0
		if v {
			lon = 0
		}
		points[i] = groundtrack.Point{
			Time:  float64(i),
			Epoch: epoch.Add(time.Duration(i) * time.Second),
			ECEF:  groundtrack.GeodeticToECEF(0, lon, 100000),
		}
	}
	return points
}

func TestWindows(t *testing.T) {
	track := synthetic(false, true, true, false, false, true)
	res := Compute(context.Background(), track, []Station{{Name: "eq", MinElevationDeg: 5}})

	if len(res) != 1 || res[0].Error != "" {
		t.Fatalf("results = %+v", res)
	}
	w := res[0].Windows
	if len(w) != 2 {
		t.Fatalf("windows = %d, want 2", len(w))
	}
	if w[0].Start != 1 || w[0].End != 3 || w[0].DurationSeconds != 2 {
		t.Errorf("first window = %+v", w[0])
	}
	if !w[0].StartEpoch.Equal(epoch.Add(time.Second)) {
		t.Errorf("first window epoch = %v", w[0].StartEpoch)
	}
	if w[0].MaxElevation < 89.9 {
		t.Errorf("max elevation = %.3f, want overhead", w[0].MaxElevation)
	}
	if w[0].MinRangeKm < 99 || w[0].MinRangeKm > 101 {
		t.Errorf("min range = %.3f km, want 100", w[0].MinRangeKm)
	}
	if w[1].Start != 5 || w[1].End != 5 {
		t.Errorf("window open at impact = %+v", w[1])
	}
}

func TestNoVisibility(t *testing.T) {
	res := Compute(context.Background(), synthetic(false, false, false), []Station{{Name: "eq"}})
	if len(res[0].Windows) != 0 {
		t.Errorf("windows = %+v, want none", res[0].Windows)
	}
}

// TestFlightFromStation tracks a real flight from the station's own site.
func TestFlightFromStation(t *testing.T) {
	v := trajectory.Vehicle{
		Payload:         500,
		MissileDiameter: 1,
		Stages: []trajectory.Stage{
			{FuelMass: 5000, DryMass: 1000, Isp: 250, Thrust: trajectory.KgfToNewtons(100000)},
		},
	}
	res, err := trajectory.Run(v, trajectory.MinimumEnergy{EstimatedRange: 500e3}, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	launch := groundtrack.Launch{LatDeg: 28.5, LonDeg: -80.6, AzimuthDeg: 90, Epoch: epoch}
	track, err := groundtrack.Track(res.States, launch, 1)
	if err != nil {
		t.Fatalf("Track: %v", err)
	}

	stations := []Station{
		{Name: "pad", LatDeg: 28.5, LonDeg: -80.6},
		{Name: "antipode", LatDeg: -28.5, LonDeg: 99.4},
	}
	cov := Compute(context.Background(), track, stations)
	if len(cov) != 2 {
		t.Fatalf("coverage = %d, want 2", len(cov))
	}

	pad := cov[0]
	if pad.Station.Name != "pad" || len(pad.Windows) == 0 {
		t.Fatalf("pad coverage = %+v", pad)
	}
	if pad.Windows[0].Start != 0 {
		t.Errorf("pad first window starts at %.1f, want 0", pad.Windows[0].Start)
	}
	for _, w := range pad.Windows {
		if w.MaxElevation > 90 || w.StartAzimuth < 0 || w.StartAzimuth >= 360 {
			t.Errorf("window out of range: %+v", w)
		}
		if w.End < w.Start {
			t.Errorf("window ends before it starts: %+v", w)
		}
	}
	if len(cov[1].Windows) != 0 {
		t.Errorf("antipode windows = %+v, want none", cov[1].Windows)
	}
}

func TestInvalidStation(t *testing.T) {
	res := Compute(context.Background(), synthetic(true), []Station{
		{Name: "ok"},
		{Name: "bad", LatDeg: 120},
	})
	if res[0].Error != "" {
		t.Errorf("valid station error: %s", res[0].Error)
	}
	if res[1].Error == "" {
		t.Error("invalid station should report an error")
	}
}

func TestComputeCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := Compute(ctx, synthetic(true, true), []Station{{Name: "a"}, {Name: "b"}})
	if len(res) != 2 {
		t.Fatalf("results = %d, want 2", len(res))
	}
	for _, r := range res {
		if r.Error == "" {
			t.Errorf("station %s: expected a cancellation error", r.Station.Name)
		}
	}
}
