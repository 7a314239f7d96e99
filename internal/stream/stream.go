// Package stream runs a simulation and streams its telemetry to a client
// as it is integrated, over Server-Sent Events or a websocket.
//
// Clients connect to GET /api/v1/stream/simulate (SSE) or
// GET /api/v1/ws/simulate (websocket) with either ?preset=<name> or
// ?request=<json>, and optionally every=N, speed=X and lat/lon/az/epoch to
// place samples on the Earth.
//
// Messages are JSON objects with a "type" field:
//
//	{"type":"metadata","mode":"minimum_energy","stages":2,...}
//	{"type":"sample","time":12.3,"altitude":4500,...,"lat_deg":28.6,"lon_deg":-80.5}
//	{"type":"burnout","stage":1,"time":60.1,...}
//	{"type":"summary","apogee":...,"range":...,"timed_out":false,...}
//	{"type":"error","error":"..."}
//
// SSE frames them as "data: {json}\n\n" after a jittered retry: hint;
// websockets send one text frame per message and close normally after the
// summary.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/star/stageflight/internal/groundtrack"
	"github.com/star/stageflight/internal/httputil"
	"github.com/star/stageflight/internal/metrics"
	"github.com/star/stageflight/internal/presets"
	"github.com/star/stageflight/internal/runner"
	"github.com/star/stageflight/internal/trajectory"
)

const (
	maxSampleEvery = 10000
	maxSpeed       = 1000
)

// Config holds streaming configuration loaded from environment variables.
type Config struct {
	MaxConcurrentPerIP int     // Max concurrent streams per IP (default: 4).
	OpenRate           float64 // Stream opens per second per IP (default: 1).
	OpenBurst          int     // Token bucket burst (default: 3).
	SampleEvery        int     // Forward every Nth sample (default: 10).
	TrustProxy         bool    // Key limits on X-Forwarded-For.
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrentPerIP <= 0 {
		c.MaxConcurrentPerIP = 4
	}
	if c.OpenRate <= 0 {
		c.OpenRate = 1
	}
	if c.OpenBurst <= 0 {
		c.OpenBurst = 3
	}
	if c.SampleEvery <= 0 {
		c.SampleEvery = 10
	}
	return c
}

// Handler manages streaming connections.
type Handler struct {
	runner   *runner.Runner
	presets  *presets.Store
	config   Config
	limiter  *streamLimiter
	opens    *openLimiter
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewHandler creates a new streaming handler.
func NewHandler(r *runner.Runner, store *presets.Store, config Config, logger *slog.Logger) *Handler {
	config = config.withDefaults()
	return &Handler{
		runner:  r,
		presets: store,
		config:  config,
		limiter: newStreamLimiter(config.MaxConcurrentPerIP),
		opens:   newOpenLimiter(rate.Limit(config.OpenRate), config.OpenBurst),
		upgrader: websocket.Upgrader{
			ReadBufferSize:   1024,
			WriteBufferSize:  4096,
			HandshakeTimeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// streamRequest is a parsed stream query.
type streamRequest struct {
	req    runner.Request
	every  int
	speed  float64 // simulated seconds per wall second; 0 streams unpaced
	placer *groundtrack.Placer
}

// HandleSSE serves the SSE telemetry stream.
// GET /api/v1/stream/simulate?preset=demo-2-stage&every=10&speed=0
func (h *Handler) HandleSSE(w http.ResponseWriter, r *http.Request) {
	sr, err := h.parseRequest(r.URL.Query())
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.WriteError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	ip, ok := h.admit(w, r)
	if !ok {
		return
	}
	defer h.limiter.release(ip)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering.
	w.WriteHeader(http.StatusOK)

	// Paced streams outlive the server's WriteTimeout.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		h.logger.Debug("could not clear write deadline", "error", err)
	}

	// Jittered retry interval (3-7s) spreads reconnects after a restart.
	fmt.Fprintf(w, "retry: %d\n\n", 3000+rand.Intn(4000))
	flusher.Flush()

	c := &sseClient{w: w, flusher: flusher, rc: rc, logger: h.logger}
	h.serve(r.Context(), c, sr, ip, r.Header.Get("User-Agent"))
}

// HandleWebSocket serves the same telemetry as JSON text frames.
// GET /api/v1/ws/simulate?preset=demo-2-stage
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	sr, err := h.parseRequest(r.URL.Query())
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	ip, ok := h.admit(w, r)
	if !ok {
		return
	}
	defer h.limiter.release(ip)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		metrics.IncStreamErrors("upgrade")
		h.logger.Debug("websocket upgrade failed", "remote_ip", ip, "error", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Clients only send control frames; a read error means they left.
	conn.SetReadLimit(512)
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	c := &wsClient{conn: conn}
	h.serve(ctx, c, sr, ip, r.Header.Get("User-Agent"))
	c.close(websocket.CloseNormalClosure, "complete")
}

// admit applies the open rate and concurrency limits, writing a 429 when
// either is exceeded. The caller releases the concurrency slot.
func (h *Handler) admit(w http.ResponseWriter, r *http.Request) (string, bool) {
	ip := httputil.ClientIP(r, h.config.TrustProxy)

	if !h.opens.allow(ip) {
		metrics.IncStreamErrors("rate_limit")
		h.logger.Warn("stream open rate exceeded", "remote_ip", ip)
		w.Header().Set("Retry-After", "1")
		httputil.WriteError(w, http.StatusTooManyRequests, "stream open rate exceeded")
		return ip, false
	}
	if !h.limiter.acquire(ip) {
		metrics.IncStreamErrors("concurrency_limit")
		h.logger.Warn("stream concurrency limit exceeded",
			"remote_ip", ip,
			"current_count", h.limiter.count(ip),
		)
		w.Header().Set("Retry-After", "30")
		httputil.WriteError(w, http.StatusTooManyRequests, "too many concurrent streams")
		return ip, false
	}
	return ip, true
}

// serve runs the simulation and writes its messages to c until the run
// ends, the client goes away or a write fails.
func (h *Handler) serve(ctx context.Context, c client, sr *streamRequest, ip, userAgent string) {
	transport := c.transport()
	metrics.IncStreamConnections(transport, "connect")
	metrics.IncStreamsActive()
	start := time.Now()
	h.logger.Info("stream connected",
		"transport", transport,
		"remote_ip", ip,
		"user_agent", userAgent,
		"label", sr.req.Label,
		"every", sr.every,
		"speed", sr.speed,
	)

	var sent int
	defer func() {
		metrics.IncStreamConnections(transport, "disconnect")
		metrics.DecStreamsActive()
		h.logger.Info("stream disconnected",
			"transport", transport,
			"remote_ip", ip,
			"messages", sent,
			"duration_seconds", int(time.Since(start).Seconds()),
		)
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := c.sendJSON(h.metadata(sr)); err != nil {
		metrics.IncStreamErrors("send_error")
		h.logger.Warn("stream send error (metadata)", "remote_ip", ip, "error", err)
		return
	}
	sent++

	msgs := make(chan any, 64)
	fw := &forwarder{ctx: ctx, out: msgs, every: sr.every, placer: sr.placer}
	go func() {
		defer close(msgs)
		_, err := h.runner.Observe(ctx, sr.req, fw)
		if err != nil && !errors.Is(err, trajectory.ErrTimeout) && ctx.Err() == nil {
			fw.push(errorMessage{Type: "error", Error: err.Error()})
		}
	}()
	// Stop forwarding and wait for the run so it never outlives the
	// connection.
	defer func() {
		cancel()
		for range msgs {
		}
	}()

	paceStart := time.Now()
	for m := range msgs {
		if t, ok := simTime(m); ok && sr.speed > 0 {
			due := paceStart.Add(time.Duration(t / sr.speed * float64(time.Second)))
			if wait := time.Until(due); wait > 0 {
				timer := time.NewTimer(wait)
				select {
				case <-ctx.Done():
					timer.Stop()
					return
				case <-timer.C:
				}
			}
		}

		if err := c.sendJSON(m); err != nil {
			metrics.IncStreamErrors("send_error")
			h.logger.Warn("stream send error", "remote_ip", ip, "error", err)
			return
		}
		sent++
	}
}

func (h *Handler) metadata(sr *streamRequest) metadataMessage {
	cfg := sr.req.Steering.Config
	return metadataMessage{
		Type:         "metadata",
		Label:        sr.req.Label,
		Mode:         cfg.Mode(),
		Stages:       len(sr.req.Vehicle.Stages),
		LaunchMass:   sr.req.Vehicle.TotalMass(),
		BurnTime:     sr.req.Vehicle.BurnTime(),
		Experimental: cfg.Experimental(),
		SampleEvery:  sr.every,
		Speed:        sr.speed,
	}
}

// parseRequest builds a stream request from query parameters.
func (h *Handler) parseRequest(q url.Values) (*streamRequest, error) {
	sr := &streamRequest{every: h.config.SampleEvery}

	switch {
	case q.Get("request") != "":
		if err := json.Unmarshal([]byte(q.Get("request")), &sr.req); err != nil {
			return nil, fmt.Errorf("invalid request parameter: %v", err)
		}
	case q.Get("preset") != "":
		name := q.Get("preset")
		p, ok := h.presets.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("unknown preset %q", name)
		}
		sr.req = runner.Request{
			Label:    name,
			Vehicle:  p.Vehicle(),
			Steering: trajectory.Steering{Config: p.Config()},
		}
	default:
		return nil, errors.New("one of preset or request is required")
	}

	if s := q.Get("steering"); s != "" {
		cfg, err := trajectory.DecodeConfig([]byte(s))
		if err != nil {
			return nil, fmt.Errorf("invalid steering parameter: %v", err)
		}
		sr.req.Steering.Config = cfg
	}
	if sr.req.Steering.Config == nil {
		return nil, errors.New("steering is required")
	}
	if err := sr.req.Vehicle.Validate(); err != nil {
		return nil, err
	}

	if v := q.Get("every"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxSampleEvery {
			return nil, fmt.Errorf("invalid every parameter, must be 1-%d", maxSampleEvery)
		}
		sr.every = n
	}
	if v := q.Get("speed"); v != "" {
		x, err := strconv.ParseFloat(v, 64)
		if err != nil || !(x >= 0 && x <= maxSpeed) {
			return nil, fmt.Errorf("invalid speed parameter, must be 0-%d", maxSpeed)
		}
		sr.speed = x
	}

	if q.Has("lat") || q.Has("lon") {
		launch, err := parseLaunch(q)
		if err != nil {
			return nil, err
		}
		if sr.placer, err = groundtrack.NewPlacer(launch); err != nil {
			return nil, err
		}
	}
	return sr, nil
}

func parseLaunch(q url.Values) (groundtrack.Launch, error) {
	l := groundtrack.Launch{AzimuthDeg: 90, Epoch: time.Now().UTC()}
	for _, f := range []struct {
		name string
		dst  *float64
	}{
		{"lat", &l.LatDeg},
		{"lon", &l.LonDeg},
		{"az", &l.AzimuthDeg},
	} {
		v := q.Get(f.name)
		if v == "" {
			if f.name == "az" {
				continue
			}
			return l, fmt.Errorf("%s parameter is required with a launch site", f.name)
		}
		x, err := strconv.ParseFloat(v, 64)
		if err != nil || math.IsNaN(x) {
			return l, fmt.Errorf("invalid %s parameter", f.name)
		}
		*f.dst = x
	}
	if v := q.Get("epoch"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return l, fmt.Errorf("invalid epoch parameter: %v", err)
		}
		l.Epoch = t
	}
	return l, nil
}
