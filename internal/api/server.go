// Package api serves the HTTP surface of the simulator.
package api

import (
	"bufio"
	"errors"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/star/stageflight/internal/auth"
	"github.com/star/stageflight/internal/cache"
	"github.com/star/stageflight/internal/export"
	"github.com/star/stageflight/internal/health"
	"github.com/star/stageflight/internal/metrics"
	"github.com/star/stageflight/internal/presets"
	"github.com/star/stageflight/internal/runner"
	"github.com/star/stageflight/internal/stream"
)

// Deps are the services behind the routes. Cache, Exports, Stream and
// Static may be nil, which disables their routes.
type Deps struct {
	Runner  *runner.Runner
	Cache   *cache.ResultCache
	Presets *presets.Store
	Exports *export.Writer
	Stream  *stream.Handler
	Static  fs.FS
}

// Server holds the HTTP server and its dependencies.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a configured HTTP server.
func NewServer(addr string, logger *slog.Logger, authCfg auth.Config, deps Deps) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           NewHandler(logger, authCfg, deps),
			ReadTimeout:       10 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      60 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		logger: logger,
	}
}

// NewHandler builds the routed handler with its middleware chain:
// metrics -> logging -> auth -> mux.
func NewHandler(logger *slog.Logger, authCfg auth.Config, deps Deps) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", health.Healthz)
	mux.HandleFunc("GET /readyz", health.Readyz(readiness(deps.Presets)))
	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("GET /api/v1/presets", presetsHandler(deps.Presets))
	mux.HandleFunc("GET /api/v1/presets/{name}", presetHandler(deps.Presets))
	mux.HandleFunc("POST /api/v1/simulate", simulateHandler(logger, deps))
	mux.HandleFunc("POST /api/v1/sweep", sweepHandler(logger, deps))
	mux.HandleFunc("POST /api/v1/solve", solveHandler(logger, deps))

	if deps.Cache != nil {
		mux.HandleFunc("GET /api/v1/cache/stats", cacheStatsHandler(deps.Cache))
	}
	if deps.Exports != nil {
		mux.HandleFunc("GET /api/v1/exports", exportsHandler(logger, deps.Exports))
		mux.HandleFunc("GET /api/v1/exports/{name}", exportHandler(logger, deps.Exports))
	}
	if deps.Stream != nil {
		mux.HandleFunc("GET /api/v1/stream/simulate", deps.Stream.HandleSSE)
		mux.HandleFunc("GET /api/v1/ws/simulate", deps.Stream.HandleWebSocket)
	}
	if deps.Static != nil {
		mux.Handle("GET /", http.FileServerFS(deps.Static))
	}

	var handler http.Handler = mux
	handler = auth.Middleware(authCfg)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = metrics.Middleware(handler)
	return handler
}

// HTTPServer returns the underlying *http.Server for external control (e.g. shutdown).
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

func readiness(store *presets.Store) func() string {
	return func() string {
		if store == nil || store.Get() == nil {
			return "preset catalog not loaded"
		}
		return ""
	}
}

// probePath returns true for health/readiness probe paths that should not log at INFO.
func probePath(path string) bool {
	return path == "/healthz" || path == "/readyz"
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.statusCode = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Unwrap() http.ResponseWriter {
	return sr.ResponseWriter
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := sr.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("api: response writer does not support hijacking")
	}
	// A hijacked connection reports as switching protocols.
	sr.statusCode = http.StatusSwitchingProtocols
	return h.Hijack()
}

func loggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sr := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(sr, r)

			duration := time.Since(start)
			level := slog.LevelInfo
			if probePath(r.URL.Path) {
				level = slog.LevelDebug
			}

			logger.Log(r.Context(), level, "request",
				"component", "api",
				"method", r.Method,
				"path", r.URL.Path,
				"status", strconv.Itoa(sr.statusCode),
				"duration_ms", duration.Milliseconds(),
				"remote_ip", r.RemoteAddr,
			)
		})
	}
}
