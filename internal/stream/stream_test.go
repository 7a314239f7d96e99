package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/star/stageflight/internal/presets"
	"github.com/star/stageflight/internal/runner"
	"github.com/star/stageflight/internal/trajectory"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
}

func testHandler(t *testing.T, cfg Config) *Handler {
	t.Helper()
	catalog, err := presets.Defaults(testLogger())
	if err != nil {
		t.Fatalf("Defaults: %v", err)
	}
	store := presets.NewStore()
	store.Set(catalog)
	r := runner.NewRunner(nil, runner.Config{Workers: 1}, testLogger())
	return NewHandler(r, store, cfg, testLogger())
}

// readSSE returns the decoded data messages of an SSE body.
func readSSE(t *testing.T, body string) []map[string]any {
	t.Helper()
	var msgs []map[string]any
	scanner := bufio.NewScanner(strings.NewReader(body))
	scanner.Buffer(make([]byte, 1<<20), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "", strings.HasPrefix(line, "retry: "):
		case strings.HasPrefix(line, "data: "):
			var msg map[string]any
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &msg); err != nil {
				t.Fatalf("invalid JSON in SSE data line: %v", err)
			}
			msgs = append(msgs, msg)
		default:
			t.Errorf("unexpected SSE line: %q", line)
		}
	}
	return msgs
}

func countType(msgs []map[string]any, typ string) int {
	n := 0
	for _, m := range msgs {
		if m["type"] == typ {
			n++
		}
	}
	return n
}

// TestSSEStream verifies the message sequence of a complete run.
func TestSSEStream(t *testing.T) {
	h := testHandler(t, Config{})

	req := httptest.NewRequest("GET", "/api/v1/stream/simulate?preset=demo-2-stage&every=50", nil)
	req.RemoteAddr = "127.0.0.1:12345"
	w := httptest.NewRecorder()
	h.HandleSSE(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body %s", resp.StatusCode, w.Body.String())
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}
	if cc := resp.Header.Get("Cache-Control"); cc != "no-cache" {
		t.Errorf("Cache-Control = %q, want no-cache", cc)
	}
	if !strings.HasPrefix(w.Body.String(), "retry: ") {
		t.Error("stream should open with a retry hint")
	}

	msgs := readSSE(t, w.Body.String())
	if len(msgs) < 4 {
		t.Fatalf("messages = %d, want metadata, samples, burnouts and summary", len(msgs))
	}

	meta := msgs[0]
	if meta["type"] != "metadata" || meta["label"] != "demo-2-stage" {
		t.Errorf("first message = %v", meta)
	}
	if meta["stages"].(float64) != 2 || meta["sample_every"].(float64) != 50 {
		t.Errorf("metadata = %v", meta)
	}

	if n := countType(msgs, "burnout"); n != 2 {
		t.Errorf("burnouts = %d, want 2", n)
	}
	if countType(msgs, "sample") < 2 {
		t.Error("expected several samples")
	}

	summary := msgs[len(msgs)-1]
	if summary["type"] != "summary" {
		t.Fatalf("last message = %v, want summary", summary)
	}
	if _, ok := summary["states"]; ok {
		t.Error("summary should not repeat the samples")
	}
	if summary["timed_out"] != false || summary["range"].(float64) <= 0 {
		t.Errorf("summary = %v", summary)
	}

	last := msgs[len(msgs)-2]
	if last["type"] != "sample" || last["time"] != summary["flight_time"] {
		t.Errorf("final sample %v does not match flight time %v", last["time"], summary["flight_time"])
	}
}

// TestSSELaunchPlacement verifies samples carry coordinates when a launch
// site is given.
func TestSSELaunchPlacement(t *testing.T) {
	h := testHandler(t, Config{})

	req := httptest.NewRequest("GET", "/api/v1/stream/simulate?preset=demo-1-stage&every=100&lat=28.5&lon=-80.6&az=45&epoch=2026-02-06T04:00:00Z", nil)
	req.RemoteAddr = "127.0.0.1:12345"
	w := httptest.NewRecorder()
	h.HandleSSE(w, req)

	msgs := readSSE(t, w.Body.String())
	var samples []map[string]any
	for _, m := range msgs {
		if m["type"] == "sample" {
			samples = append(samples, m)
		}
	}
	if len(samples) == 0 {
		t.Fatal("no samples")
	}
	first := samples[0]
	if math.Abs(first["lat_deg"].(float64)-28.5) > 1e-6 || math.Abs(first["lon_deg"].(float64)+80.6) > 1e-6 {
		t.Errorf("first sample at %v, %v, want the launch site", first["lat_deg"], first["lon_deg"])
	}
	final := samples[len(samples)-1]
	if final["lat_deg"].(float64) <= 28.5 {
		t.Errorf("north-east flight ended at lat %v", final["lat_deg"])
	}
}

// TestWebSocketStream verifies the websocket transport sends the same
// messages and closes normally.
func TestWebSocketStream(t *testing.T) {
	h := testHandler(t, Config{})
	srv := httptest.NewServer(http.HandlerFunc(h.HandleWebSocket))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?preset=demo-1-stage&every=100"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial: %v (resp %v)", err, resp)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(10 * time.Second))

	var types []string
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				t.Fatalf("ReadMessage: %v", err)
			}
			break
		}
		var msg map[string]any
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("frame is not JSON: %v", err)
		}
		types = append(types, msg["type"].(string))
	}

	if len(types) < 3 || types[0] != "metadata" || types[len(types)-1] != "summary" {
		t.Errorf("message types = %v", types)
	}
}

// TestWebSocketBadRequest verifies query errors are reported before the
// upgrade.
func TestWebSocketBadRequest(t *testing.T) {
	h := testHandler(t, Config{})
	srv := httptest.NewServer(http.HandlerFunc(h.HandleWebSocket))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?preset=nope"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("dial should fail")
	}
	if resp == nil || resp.StatusCode != http.StatusBadRequest {
		t.Errorf("resp = %v, want 400", resp)
	}
}

// TestInvalidQueryParams verifies 400 responses for bad parameters.
func TestInvalidQueryParams(t *testing.T) {
	h := testHandler(t, Config{})

	tests := []struct {
		name  string
		query string
	}{
		{"no vehicle", ""},
		{"unknown preset", "?preset=nope"},
		{"every zero", "?preset=demo-1-stage&every=0"},
		{"every non-numeric", "?preset=demo-1-stage&every=abc"},
		{"negative speed", "?preset=demo-1-stage&speed=-1"},
		{"speed too large", "?preset=demo-1-stage&speed=5000"},
		{"lat without lon", "?preset=demo-1-stage&lat=10"},
		{"latitude out of range", "?preset=demo-1-stage&lat=100&lon=0"},
		{"bad epoch", "?preset=demo-1-stage&lat=10&lon=0&epoch=yesterday"},
		{"bad request json", "?request=%7Bnope"},
		{"request without steering", `?request={"vehicle":{"payload":1}}`},
		{"bad steering", `?preset=demo-1-stage&steering={"mode":"warp"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/v1/stream/simulate"+strings.ReplaceAll(tt.query, `"`, "%22"), nil)
			req.RemoteAddr = "127.0.0.1:12345"
			w := httptest.NewRecorder()
			h.HandleSSE(w, req)

			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
			}
		})
	}
}

// TestOpenRateLimit verifies the per-IP token bucket on stream opens.
func TestOpenRateLimit(t *testing.T) {
	h := testHandler(t, Config{OpenRate: 0.001, OpenBurst: 1})

	open := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest("GET", "/api/v1/stream/simulate?preset=demo-1-stage&every=10000", nil)
		req.RemoteAddr = ip + ":1234"
		w := httptest.NewRecorder()
		h.HandleSSE(w, req)
		return w
	}

	if w := open("10.0.0.1"); w.Code != http.StatusOK {
		t.Fatalf("first open status = %d", w.Code)
	}
	w := open("10.0.0.1")
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("second open status = %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After header")
	}
	if w := open("10.0.0.2"); w.Code != http.StatusOK {
		t.Errorf("other IP status = %d, want 200", w.Code)
	}
}

// TestConcurrencyLimit verifies 429 when an IP already holds its streams.
func TestConcurrencyLimit(t *testing.T) {
	h := testHandler(t, Config{MaxConcurrentPerIP: 1, OpenBurst: 10})

	// A slowly paced stream holds the slot until cancelled.
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		req := httptest.NewRequest("GET", "/api/v1/stream/simulate?preset=demo-1-stage&speed=0.001", nil).WithContext(ctx)
		req.RemoteAddr = "10.0.0.1:12345"
		h.HandleSSE(httptest.NewRecorder(), req)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for h.limiter.count("10.0.0.1") == 0 {
		if time.Now().After(deadline) {
			t.Fatal("first stream never acquired its slot")
		}
		time.Sleep(5 * time.Millisecond)
	}

	req := httptest.NewRequest("GET", "/api/v1/stream/simulate?preset=demo-1-stage", nil)
	req.RemoteAddr = "10.0.0.1:54321"
	w := httptest.NewRecorder()
	h.HandleSSE(w, req)

	if w.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After header")
	}

	cancel()
	<-done
	if c := h.limiter.count("10.0.0.1"); c != 0 {
		t.Errorf("count after disconnect = %d, want 0", c)
	}
}

// TestForwarder verifies sampling, burnouts and the summary.
func TestForwarder(t *testing.T) {
	v := trajectory.Vehicle{
		Payload:         500,
		MissileDiameter: 1,
		Stages: []trajectory.Stage{
			{FuelMass: 5000, DryMass: 1000, Isp: 250, Thrust: trajectory.KgfToNewtons(100000)},
		},
	}

	out := make(chan any)
	var msgs []any
	collected := make(chan struct{})
	go func() {
		defer close(collected)
		for m := range out {
			msgs = append(msgs, m)
		}
	}()

	fw := &forwarder{ctx: context.Background(), out: out, every: 7}
	res, err := trajectory.Run(v, trajectory.MinimumEnergy{EstimatedRange: 500e3}, fw)
	close(out)
	<-collected
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	var samples []sampleMessage
	var burnouts int
	for _, m := range msgs {
		switch m := m.(type) {
		case sampleMessage:
			samples = append(samples, m)
		case burnoutMessage:
			burnouts++
		}
	}

	n := len(res.States)
	want := (n + 6) / 7
	if (n-1)%7 != 0 {
		want++
	}
	if len(samples) != want {
		t.Errorf("samples = %d, want %d of %d states", len(samples), want, n)
	}
	if samples[len(samples)-1].State != res.Final() {
		t.Error("final state was not forwarded")
	}
	if burnouts != len(res.Burnouts) {
		t.Errorf("burnouts = %d, want %d", burnouts, len(res.Burnouts))
	}

	summary, ok := msgs[len(msgs)-1].(summaryMessage)
	if !ok {
		t.Fatalf("last message = %T, want summary", msgs[len(msgs)-1])
	}
	if summary.States != nil || summary.Range != res.Range {
		t.Errorf("summary = %+v", summary.Result)
	}
	if len(res.States) != n {
		t.Error("summary copy modified the run result")
	}
}

// TestForwarderDropsAfterCancel verifies a cancelled stream never blocks
// the run.
func TestForwarderDropsAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	fw := &forwarder{ctx: ctx, out: make(chan any), every: 1}
	if fw.push(errorMessage{Type: "error"}) {
		t.Error("push after cancel should drop")
	}
}

func TestRateLimiting(t *testing.T) {
	limiter := newStreamLimiter(3)

	for i := 0; i < 3; i++ {
		if !limiter.acquire("10.0.0.1") {
			t.Fatalf("acquire %d should succeed", i+1)
		}
	}
	if limiter.acquire("10.0.0.1") {
		t.Error("acquire beyond limit should fail")
	}
	if !limiter.acquire("10.0.0.2") {
		t.Error("different IP should not be rate limited")
	}

	limiter.release("10.0.0.1")
	if !limiter.acquire("10.0.0.1") {
		t.Error("acquire after release should succeed")
	}
	if c := limiter.count("10.0.0.1"); c != 3 {
		t.Errorf("count = %d, want 3", c)
	}
	if c := limiter.count("10.0.0.2"); c != 1 {
		t.Errorf("count = %d, want 1", c)
	}
}

func TestRateLimitingConcurrent(t *testing.T) {
	limiter := newStreamLimiter(100)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if limiter.acquire("10.0.0.1") {
				defer limiter.release("10.0.0.1")
				time.Sleep(10 * time.Millisecond)
			}
		}()
	}
	wg.Wait()

	if c := limiter.count("10.0.0.1"); c != 0 {
		t.Errorf("count after all released = %d, want 0", c)
	}
}

// TestOpenLimiterPrunesIdle verifies idle per-IP buckets are dropped.
func TestOpenLimiterPrunesIdle(t *testing.T) {
	l := newOpenLimiter(1, 1)
	now := time.Date(2026, 2, 6, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	if !l.allow("a") {
		t.Fatal("first open should be allowed")
	}
	if l.allow("a") {
		t.Error("burst of 1 should reject an immediate second open")
	}

	now = now.Add(idleLimiterTTL + 2*time.Minute)
	if !l.allow("b") {
		t.Fatal("open for b should be allowed")
	}
	if n := l.size(); n != 1 {
		t.Errorf("buckets = %d, want 1 after pruning", n)
	}
}
