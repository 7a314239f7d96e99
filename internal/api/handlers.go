package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/star/stageflight/internal/cache"
	"github.com/star/stageflight/internal/coverage"
	"github.com/star/stageflight/internal/export"
	"github.com/star/stageflight/internal/groundtrack"
	"github.com/star/stageflight/internal/httputil"
	"github.com/star/stageflight/internal/presets"
	"github.com/star/stageflight/internal/runner"
	"github.com/star/stageflight/internal/solver"
	"github.com/star/stageflight/internal/trajectory"
)

const (
	maxSweepRuns   = 256
	maxStations    = 64
	defaultEvery   = 10
	requestTimeout = 30 * time.Second
)

// statusFor maps a run error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, trajectory.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, trajectory.ErrNumerical),
		errors.Is(err, trajectory.ErrTimeout),
		errors.Is(err, solver.ErrNoConvergence):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// withoutSamples returns res without its state history. Cached results are
// shared, so res is never modified.
func withoutSamples(res *trajectory.Result) *trajectory.Result {
	if res == nil {
		return nil
	}
	out := *res
	out.States = nil
	return &out
}

// resolve fills the vehicle and steering of req from a named preset when
// the request leaves them empty.
func resolve(store *presets.Store, name string, req *runner.Request) error {
	if name == "" {
		return nil
	}
	p, ok := store.Lookup(name)
	if !ok {
		return fmt.Errorf("%w: unknown preset %q", trajectory.ErrInvalidInput, name)
	}
	if len(req.Vehicle.Stages) == 0 {
		req.Vehicle = p.Vehicle()
	}
	if req.Steering.Config == nil {
		req.Steering.Config = p.Config()
	}
	if req.Label == "" {
		req.Label = name
	}
	return nil
}

// GET /api/v1/presets
func presetsHandler(store *presets.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cat := store.Get()
		if cat == nil {
			httputil.WriteError(w, http.StatusServiceUnavailable, "preset catalog not loaded")
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]any{
			"source":      cat.Source,
			"loaded_at":   cat.LoadedAt.UTC().Format(time.RFC3339),
			"age_seconds": int(store.AgeSeconds()),
			"presets":     cat.Summaries(),
		})
	}
}

// GET /api/v1/presets/{name}
func presetHandler(store *presets.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("name")
		p, ok := store.Lookup(name)
		if !ok {
			httputil.WriteError(w, http.StatusNotFound, fmt.Sprintf("unknown preset %q", name))
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]any{
			"name":     name,
			"preset":   p,
			"vehicle":  p.Vehicle(),
			"steering": trajectory.Steering{Config: p.Config()},
		})
	}
}

type simulateRequest struct {
	runner.Request
	Preset     string              `json:"preset,omitempty"`
	Samples    *bool               `json:"samples,omitempty"`     // default true
	Launch     *groundtrack.Launch `json:"launch,omitempty"`      // places the run on the Earth
	TrackEvery int                 `json:"track_every,omitempty"` // ground track decimation (default 10)
	Stations   []coverage.Station  `json:"stations,omitempty"`    // requires launch
	Export     bool                `json:"export,omitempty"`
}

type simulateResponse struct {
	Label    string                     `json:"label,omitempty"`
	Cached   bool                       `json:"cached"`
	Result   *trajectory.Result         `json:"result"`
	Track    []groundtrack.Point        `json:"track,omitempty"`
	Impact   *groundtrack.Point         `json:"impact,omitempty"`
	Coverage []coverage.StationCoverage `json:"coverage,omitempty"`
	Export   string                     `json:"export,omitempty"`
	Error    string                     `json:"error,omitempty"`
}

// POST /api/v1/simulate
func simulateHandler(logger *slog.Logger, deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req simulateRequest
		if err := httputil.DecodeJSON(w, r, &req); err != nil {
			httputil.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := resolve(deps.Presets, req.Preset, &req.Request); err != nil {
			httputil.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		if len(req.Stations) > 0 && req.Launch == nil {
			httputil.WriteError(w, http.StatusBadRequest, "stations require a launch site")
			return
		}
		if len(req.Stations) > maxStations {
			httputil.WriteError(w, http.StatusBadRequest, fmt.Sprintf("at most %d stations", maxStations))
			return
		}
		if req.Launch != nil {
			if err := req.Launch.Validate(); err != nil {
				httputil.WriteError(w, http.StatusBadRequest, err.Error())
				return
			}
		}

		ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
		defer cancel()

		res, cached, err := deps.Runner.Simulate(ctx, req.Request)
		if err != nil && !errors.Is(err, trajectory.ErrTimeout) {
			httputil.WriteError(w, statusFor(err), err.Error())
			return
		}

		resp := simulateResponse{Label: req.Label, Cached: cached, Result: res}
		if err != nil {
			// Timed out: the partial run is still returned.
			resp.Error = err.Error()
		}

		if req.Launch != nil {
			every := req.TrackEvery
			if every <= 0 {
				every = defaultEvery
			}
			track, full, err := placeTrack(res.States, *req.Launch, every, len(req.Stations) > 0)
			if err != nil {
				httputil.WriteError(w, statusFor(err), err.Error())
				return
			}
			resp.Track = track
			if len(track) > 0 {
				impact := track[len(track)-1]
				resp.Impact = &impact
			}
			if len(req.Stations) > 0 {
				resp.Coverage = coverage.Compute(ctx, full, req.Stations)
			}
		}

		if req.Export {
			if deps.Exports == nil {
				httputil.WriteError(w, http.StatusNotImplemented, "result export is disabled")
				return
			}
			name, err := deps.Exports.Save(req.Vehicle, res, time.Now())
			if err != nil {
				logger.Error("export failed", "component", "api", "error", err)
				httputil.WriteError(w, http.StatusInternalServerError, "export failed")
				return
			}
			resp.Export = name
		}

		if req.Samples != nil && !*req.Samples {
			resp.Result = withoutSamples(res)
		}
		httputil.WriteJSON(w, http.StatusOK, resp)
	}
}

// placeTrack places states once, returning every Nth point (plus the last)
// and, when withFull is set, every point for station coverage.
func placeTrack(states []trajectory.State, l groundtrack.Launch, every int, withFull bool) (track, full []groundtrack.Point, err error) {
	placer, err := groundtrack.NewPlacer(l)
	if err != nil {
		return nil, nil, err
	}
	if every < 1 {
		every = 1
	}
	last := len(states) - 1
	for i, s := range states {
		keep := i%every == 0 || i == last
		if !keep && !withFull {
			continue
		}
		pt := placer.Place(s)
		if keep {
			track = append(track, pt)
		}
		if withFull {
			full = append(full, pt)
		}
	}
	return track, full, nil
}

type sweepRequest struct {
	Runs    []sweepRun `json:"runs"`
	Samples bool       `json:"samples,omitempty"` // default false
}

type sweepRun struct {
	runner.Request
	Preset string `json:"preset,omitempty"`
}

type sweepResponse struct {
	Outcomes []runner.Outcome `json:"outcomes"`
	Success  int              `json:"success"`
	Errors   int              `json:"errors"`
}

// POST /api/v1/sweep
func sweepHandler(logger *slog.Logger, deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req sweepRequest
		if err := httputil.DecodeJSON(w, r, &req); err != nil {
			httputil.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		if len(req.Runs) == 0 || len(req.Runs) > maxSweepRuns {
			httputil.WriteError(w, http.StatusBadRequest, fmt.Sprintf("runs must contain 1-%d requests", maxSweepRuns))
			return
		}

		reqs := make([]runner.Request, len(req.Runs))
		for i, run := range req.Runs {
			if err := resolve(deps.Presets, run.Preset, &run.Request); err != nil {
				httputil.WriteError(w, http.StatusBadRequest, fmt.Sprintf("run %d: %v", i, err))
				return
			}
			reqs[i] = run.Request
		}

		ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
		defer cancel()

		resp := sweepResponse{Outcomes: deps.Runner.Sweep(ctx, reqs)}
		for i := range resp.Outcomes {
			o := &resp.Outcomes[i]
			if o.Err != nil {
				resp.Errors++
			} else {
				resp.Success++
			}
			if !req.Samples {
				o.Result = withoutSamples(o.Result)
			}
		}
		httputil.WriteJSON(w, http.StatusOK, resp)
	}
}

type solveRequest struct {
	runner.SolveRequest
	Preset string `json:"preset,omitempty"`
}

type solveResponse struct {
	*runner.SolveResult
	Converged bool   `json:"converged"`
	Error     string `json:"error,omitempty"`
}

// POST /api/v1/solve
func solveHandler(logger *slog.Logger, deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req solveRequest
		if err := httputil.DecodeJSON(w, r, &req); err != nil {
			httputil.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		base := runner.Request{Vehicle: req.Vehicle, Steering: req.Steering}
		if err := resolve(deps.Presets, req.Preset, &base); err != nil {
			httputil.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		req.Vehicle, req.Steering = base.Vehicle, base.Steering

		ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
		defer cancel()

		out, err := deps.Runner.Solve(ctx, req.SolveRequest)
		if out == nil {
			httputil.WriteError(w, statusFor(err), err.Error())
			return
		}

		out.Result = withoutSamples(out.Result)
		resp := solveResponse{SolveResult: out, Converged: err == nil}
		status := http.StatusOK
		if err != nil {
			resp.Error = err.Error()
			status = statusFor(err)
		}
		httputil.WriteJSON(w, status, resp)
	}
}

// GET /api/v1/cache/stats
func cacheStatsHandler(c *cache.ResultCache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, c.Stats())
	}
}

// GET /api/v1/exports
func exportsHandler(logger *slog.Logger, exports *export.Writer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		files, err := exports.List()
		if err != nil {
			logger.Error("listing exports failed", "component", "api", "error", err)
			httputil.WriteError(w, http.StatusInternalServerError, "listing exports failed")
			return
		}
		if files == nil {
			files = []export.File{}
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]any{"files": files})
	}
}

// GET /api/v1/exports/{name}
func exportHandler(logger *slog.Logger, exports *export.Writer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("name")
		f, err := exports.Open(name)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				httputil.WriteError(w, http.StatusNotFound, "export not found")
				return
			}
			httputil.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		defer f.Close()

		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
		if _, err := io.Copy(w, f); err != nil {
			logger.Debug("export download interrupted", "component", "api", "name", name, "error", err)
		}
	}
}
