package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestMiddleware(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	h := Middleware(Config{Enabled: true, Token: "s3cret"})(ok)

	tests := []struct {
		name   string
		method string
		path   string
		header string
		want   int
	}{
		{"health is public", "GET", "/healthz", "", http.StatusNoContent},
		{"metrics is public", "GET", "/metrics", "", http.StatusNoContent},
		{"preset list is public", "GET", "/api/v1/presets", "", http.StatusNoContent},
		{"preset detail is public", "GET", "/api/v1/presets/demo-1-stage", "", http.StatusNoContent},
		{"preset lookalike is protected", "GET", "/api/v1/presetsx", "", http.StatusUnauthorized},
		{"simulate needs token", "POST", "/api/v1/simulate", "", http.StatusUnauthorized},
		{"wrong token", "POST", "/api/v1/simulate", "Bearer nope", http.StatusUnauthorized},
		{"missing scheme", "POST", "/api/v1/simulate", "s3cret", http.StatusUnauthorized},
		{"valid token", "POST", "/api/v1/simulate", "Bearer s3cret", http.StatusNoContent},
		{"stream needs token", "GET", "/api/v1/stream/simulate", "", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, r)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestMiddlewareDisabled(t *testing.T) {
	h := Middleware(Config{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("POST", "/api/v1/simulate", nil))
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestEmptyTokenRejects(t *testing.T) {
	h := Middleware(Config{Enabled: true})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	r := httptest.NewRequest("POST", "/api/v1/sweep", nil)
	r.Header.Set("Authorization", "Bearer ")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}
