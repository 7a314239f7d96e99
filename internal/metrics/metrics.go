package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stageflight_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"path", "method", "code"},
	)

	httpDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stageflight_http_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method"},
	)

	runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stageflight_runs_total",
			Help: "Trajectory runs by steering mode and outcome.",
		},
		[]string{"mode", "outcome"},
	)

	runDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "stageflight_run_duration_seconds",
			Help:    "Wall time of a single trajectory run.",
			Buckets: []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
	)

	runSteps = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "stageflight_run_steps",
			Help:    "Integration steps per completed run.",
			Buckets: prometheus.ExponentialBuckets(1000, 2, 10),
		},
	)

	runWorkers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "stageflight_run_workers",
			Help: "Configured sweep worker pool size.",
		},
	)

	solvesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stageflight_solves_total",
			Help: "Range-matching searches by outcome.",
		},
		[]string{"outcome"},
	)

	solveIterations = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "stageflight_solve_iterations",
			Help:    "Trajectory runs used per range-matching search.",
			Buckets: prometheus.LinearBuckets(2, 2, 13),
		},
	)

	cacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stageflight_cache_hits_total",
		Help: "Result cache hits.",
	})

	cacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stageflight_cache_misses_total",
		Help: "Result cache misses.",
	})

	cacheEvictionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stageflight_cache_evictions_total",
		Help: "Result cache entries evicted by age or capacity.",
	})

	cacheEntries = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "stageflight_cache_entries",
		Help: "Results currently cached.",
	})

	presetCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "stageflight_presets_loaded",
		Help: "Vehicle presets in the active catalog.",
	})

	presetAgeSeconds = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "stageflight_presets_age_seconds",
		Help: "Seconds since the active preset catalog was loaded.",
	})

	streamConnectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stageflight_stream_connections_total",
			Help: "Telemetry stream connection events.",
		},
		[]string{"transport", "event"},
	)

	streamsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "stageflight_streams_active",
		Help: "Open telemetry streams.",
	})

	streamMessagesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stageflight_stream_messages_total",
		Help: "Telemetry messages sent.",
	})

	streamBytesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stageflight_stream_bytes_total",
		Help: "Telemetry bytes sent.",
	})

	streamErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stageflight_stream_errors_total",
			Help: "Telemetry stream errors by reason.",
		},
		[]string{"reason"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpDurationSeconds,
		runsTotal,
		runDurationSeconds,
		runSteps,
		runWorkers,
		solvesTotal,
		solveIterations,
		cacheHitsTotal,
		cacheMissesTotal,
		cacheEvictionsTotal,
		cacheEntries,
		presetCount,
		presetAgeSeconds,
		streamConnectionsTotal,
		streamsActive,
		streamMessagesTotal,
		streamBytesTotal,
		streamErrorsTotal,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRun records one integrator run. steps is ignored for failed runs.
func RecordRun(mode, outcome string, d time.Duration, steps int) {
	runsTotal.WithLabelValues(mode, outcome).Inc()
	runDurationSeconds.Observe(d.Seconds())
	if steps > 0 {
		runSteps.Observe(float64(steps))
	}
}

// RecordSolve records a finished range-matching search.
func RecordSolve(outcome string, iterations int) {
	solvesTotal.WithLabelValues(outcome).Inc()
	solveIterations.Observe(float64(iterations))
}

func SetRunWorkers(n int) { runWorkers.Set(float64(n)) }
func IncCacheHits() { cacheHitsTotal.Inc() }
func IncCacheMisses() { cacheMissesTotal.Inc() }
func AddCacheEvictions(n int) { cacheEvictionsTotal.Add(float64(n)) }
func SetCacheEntries(n int) { cacheEntries.Set(float64(n)) }
func SetPresetCount(n int) { presetCount.Set(float64(n)) }
func SetPresetAge(s float64) { presetAgeSeconds.Set(s) }
func IncStreamsActive() { streamsActive.Inc() }
func DecStreamsActive() { streamsActive.Dec() }
func IncStreamMessages() { streamMessagesTotal.Inc() }
func AddStreamBytes(n int64) { streamBytesTotal.Add(float64(n)) }
func IncStreamErrors(r string) { streamErrorsTotal.WithLabelValues(r).Inc() }

// IncStreamConnections counts a connect or disconnect on a transport
// ("sse" or "websocket").
func IncStreamConnections(transport, event string) {
	streamConnectionsTotal.WithLabelValues(transport, event).Inc()
}

// knownRoutes are reported under their own path label.
var knownRoutes = map[string]bool{
	"/":                       true,
	"/app.js":                 true,
	"/styles.css":             true,
	"/healthz":                true,
	"/readyz":                 true,
	"/metrics":                true,
	"/api/v1/presets":         true,
	"/api/v1/simulate":        true,
	"/api/v1/sweep":           true,
	"/api/v1/solve":           true,
	"/api/v1/cache/stats":     true,
	"/api/v1/exports":         true,
	"/api/v1/stream/simulate": true,
	"/api/v1/ws/simulate":     true,
}

// namedRoutes end in a single {name} path segment.
var namedRoutes = []string{
	"/api/v1/presets/",
	"/api/v1/exports/",
}

// normalizeRoute maps a request path to a bounded label set.
func normalizeRoute(path string) string {
	if knownRoutes[path] {
		return path
	}
	for _, prefix := range namedRoutes {
		if name, ok := strings.CutPrefix(path, prefix); ok && name != "" && !strings.Contains(name, "/") {
			return prefix + "{name}"
		}
	}
	return "other"
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack supports websocket upgrades behind the middleware.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}

// Middleware records request count and duration for each request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		route := normalizeRoute(r.URL.Path)
		httpRequestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(rw.statusCode)).Inc()
		httpDurationSeconds.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}
