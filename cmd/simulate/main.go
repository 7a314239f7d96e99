// Command simulate runs one trajectory from the command line and prints the
// stage burnouts and flight summary.
//
//	simulate -preset demo-2-stage
//	simulate -input run.json -out run.csv
//	cat run.json | simulate -input -
//
// Input files hold a run request: {"label", "vehicle", "steering"}.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"time"

	"github.com/star/stageflight/internal/export"
	"github.com/star/stageflight/internal/groundtrack"
	"github.com/star/stageflight/internal/presets"
	"github.com/star/stageflight/internal/runner"
	"github.com/star/stageflight/internal/trajectory"
)

func main() {
	var (
		presetName  = flag.String("preset", "", "run a named preset")
		presetsFile = flag.String("presets", "", "preset catalog file (default: embedded catalog)")
		input       = flag.String("input", "", "run request JSON file, or - for stdin")
		out         = flag.String("out", "", "write the trajectory as CSV to this file")
		list        = flag.Bool("list", false, "list presets and exit")
		lat         = flag.Float64("lat", math.NaN(), "launch latitude in degrees; with -lon prints the impact point")
		lon         = flag.Float64("lon", math.NaN(), "launch longitude in degrees")
		az          = flag.Float64("az", 90, "launch azimuth in degrees clockwise from north")
	)
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	catalog, err := loadCatalog(*presetsFile, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, "ERROR loading presets:", err)
		os.Exit(1)
	}

	if *list {
		for _, s := range catalog.Summaries() {
			fmt.Printf("%-20s %d stage(s)  launch mass %8.0f kg  est. range %6.0f km\n",
				s.Name, s.Stages, s.LaunchMass, s.EstimatedRangeKm)
		}
		return
	}

	req, err := buildRequest(catalog, *presetName, *input)
	if err != nil {
		fmt.Fprintln(os.Stderr, "ERROR:", err)
		flag.Usage()
		os.Exit(2)
	}

	r := runner.NewRunner(nil, runner.Config{Workers: 1}, logger)
	res, _, err := r.Simulate(context.Background(), req)
	if err != nil && !errors.Is(err, trajectory.ErrTimeout) {
		fmt.Fprintln(os.Stderr, "ERROR:", err)
		os.Exit(1)
	}

	printResult(os.Stdout, req, res)

	if !math.IsNaN(*lat) && !math.IsNaN(*lon) {
		l := groundtrack.Launch{LatDeg: *lat, LonDeg: *lon, AzimuthDeg: *az, Epoch: time.Now().UTC()}
		pt, perr := groundtrack.ImpactPoint(res, l)
		if perr != nil {
			fmt.Fprintln(os.Stderr, "ERROR placing impact:", perr)
			os.Exit(1)
		}
		fmt.Printf("Impact: %.4f, %.4f\n", pt.LatDeg, pt.LonDeg)
	}

	if *out != "" {
		if werr := writeCSV(*out, req.Vehicle, res); werr != nil {
			fmt.Fprintln(os.Stderr, "ERROR writing CSV:", werr)
			os.Exit(1)
		}
		fmt.Printf("Data written to %s\n", *out)
	}

	if err != nil {
		os.Exit(3)
	}
}

func loadCatalog(path string, logger *slog.Logger) (*presets.Catalog, error) {
	if path != "" {
		return presets.LoadFile(path, logger)
	}
	return presets.Defaults(logger)
}

func buildRequest(catalog *presets.Catalog, name, input string) (runner.Request, error) {
	var req runner.Request
	switch {
	case input != "":
		var src io.Reader = os.Stdin
		if input != "-" {
			f, err := os.Open(input)
			if err != nil {
				return req, err
			}
			defer f.Close()
			src = f
		}
		if err := json.NewDecoder(src).Decode(&req); err != nil {
			return req, fmt.Errorf("decoding %s: %w", input, err)
		}
		if req.Steering.Config == nil {
			return req, errors.New("request has no steering")
		}
	case name != "":
		p, ok := catalog.Presets[name]
		if !ok {
			return req, fmt.Errorf("unknown preset %q", name)
		}
		req.Label = name
		req.Vehicle = p.Vehicle()
		req.Steering.Config = p.Config()
	default:
		return req, errors.New("one of -preset or -input is required")
	}
	return req, nil
}

func printResult(w io.Writer, req runner.Request, res *trajectory.Result) {
	if req.Label != "" {
		fmt.Fprintf(w, "%s (%s)\n\n", req.Label, req.Steering.Mode())
	}
	if res.Experimental {
		fmt.Fprintln(w, "warning: experimental steering mode")
	}
	for _, b := range res.Burnouts {
		fmt.Fprintf(w, "Stage %d burnout\n", b.Stage)
		fmt.Fprintf(w, "  Velocity (km/s): %.3f\n", b.Velocity/1000)
		fmt.Fprintf(w, "  Angle (deg h):   %.2f\n", b.Gamma*180/math.Pi)
		fmt.Fprintf(w, "  Height (km):     %.2f\n", b.Altitude/1000)
		fmt.Fprintf(w, "  Range (km):      %.2f\n", b.Range()/1000)
		fmt.Fprintf(w, "  Time (sec):      %.2f\n", b.Time)
	}
	fmt.Fprintln(w)
	if res.TimedOut {
		fmt.Fprintln(w, "Simulation exceeded time limit.")
	}
	fmt.Fprintf(w, "Range (km):            %.3f\n", res.Range/1000)
	fmt.Fprintf(w, "Apogee (km):           %.2f\n", res.Apogee/1000)
	fmt.Fprintf(w, "Apogee velocity (km/s): %.3f\n", res.ApogeeVelocity/1000)
	fmt.Fprintf(w, "Time to target (sec):  %.1f\n", res.FlightTime)
}

func writeCSV(path string, v trajectory.Vehicle, res *trajectory.Result) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := export.Write(f, v, res); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
