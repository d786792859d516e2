package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"media-converter/internal/metrics"
)

func TestNewResponseWriter(t *testing.T) {
	w := httptest.NewRecorder()
	rw := newResponseWriter(w)

	if rw.statusCode != http.StatusOK {
		t.Errorf("Expected default status code 200, got %d", rw.statusCode)
	}
	if rw.bytesWritten != 0 {
		t.Errorf("Expected bytesWritten to be 0, got %d", rw.bytesWritten)
	}
	if rw.wroteHeader {
		t.Error("Expected wroteHeader to be false initially")
	}
}

func TestResponseWriterWriteHeader(t *testing.T) {
	w := httptest.NewRecorder()
	rw := newResponseWriter(w)

	rw.WriteHeader(http.StatusNotFound)
	if rw.statusCode != http.StatusNotFound {
		t.Errorf("Expected status code 404, got %d", rw.statusCode)
	}

	// Write header again - should be ignored
	rw.WriteHeader(http.StatusInternalServerError)
	if rw.statusCode != http.StatusNotFound {
		t.Error("Status code should not change after first WriteHeader")
	}
}

func TestResponseWriterWrite(t *testing.T) {
	w := httptest.NewRecorder()
	rw := newResponseWriter(w)

	data := []byte("test data")
	n, err := rw.Write(data)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if n != len(data) {
		t.Errorf("Expected to write %d bytes, wrote %d", len(data), n)
	}
	if rw.bytesWritten != int64(len(data)) {
		t.Errorf("Expected bytesWritten to be %d, got %d", len(data), rw.bytesWritten)
	}
	if !rw.wroteHeader {
		t.Error("Expected wroteHeader to be true after Write")
	}
}

func TestShouldSkip(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		config LoggingConfig
		want   bool
	}{
		{"regular request", "/api/videos", DefaultLoggingConfig(), false},
		{"health logged when enabled", "/healthz", LoggingConfig{LogHealthChecks: true}, false},
		{"health skipped when disabled", "/healthz", LoggingConfig{LogHealthChecks: false}, true},
		{"configured prefix", "/metrics", LoggingConfig{SkipPaths: []string{"/metrics"}, LogHealthChecks: true}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := shouldSkip(tt.path, tt.config); got != tt.want {
				t.Errorf("shouldSkip(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}

func TestLoggerMiddlewarePassesThrough(t *testing.T) {
	handler := Logger(DefaultLoggingConfig())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("ok"))
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/videos", http.NoBody)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusTeapot {
		t.Errorf("Expected status 418, got %d", w.Code)
	}
	if w.Body.String() != "ok" {
		t.Errorf("Expected body to pass through, got %q", w.Body.String())
	}
}

func TestFormatW3C(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/conversion/convert?x=1", http.NoBody)
	req.RemoteAddr = "10.0.0.5:51234"
	req.Header.Set(AccountHeader, "42")
	req.Header.Set("User-Agent", "curl/8.0 (evil)\nforged")

	rw := newResponseWriter(httptest.NewRecorder())
	rw.WriteHeader(http.StatusAccepted)
	_, _ = rw.Write([]byte("12345"))

	now := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)
	line := formatW3C(now, req, rw, 1500*time.Millisecond)

	want := `2024-03-01 12:30:00 10.0.0.5 42 POST /api/conversion/convert x=1 202 5 1500 "curl/8.0 (evil) forged"`
	if line != want {
		t.Errorf("formatW3C =\n  %s\nwant\n  %s", line, want)
	}

	req.Header.Del(AccountHeader)
	req.Header.Del("User-Agent")
	line = formatW3C(now, req, rw, 0)
	if !strings.Contains(line, " 10.0.0.5 - POST ") || !strings.HasSuffix(line, " -") {
		t.Errorf("Expected placeholders for missing fields, got %q", line)
	}
}

func TestSanitizeLogField(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"plain", "plain"},
		{"a\nb\rc", "a b c"},
		{"x\x00y", "xy"},
		{"\x1b[31mred", "[31mred"},
		{"tab\tok", "tab\tok"},
	}
	for _, tt := range tests {
		if got := sanitizeLogField(tt.in); got != tt.want {
			t.Errorf("sanitizeLogField(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestGetClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req.RemoteAddr = "192.168.1.9:4000"
	if got := getClientIP(req); got != "192.168.1.9" {
		t.Errorf("RemoteAddr: got %q", got)
	}

	req.Header.Set("X-Real-IP", "172.16.0.1")
	if got := getClientIP(req); got != "172.16.0.1" {
		t.Errorf("X-Real-IP: got %q", got)
	}

	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	if got := getClientIP(req); got != "203.0.113.7" {
		t.Errorf("X-Forwarded-For: got %q", got)
	}
}

func TestAccountMiddleware(t *testing.T) {
	var seen int64
	handler := Account()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := AccountID(r.Context())
		if !ok {
			t.Error("Expected account id in context")
		}
		seen = id
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"valid", "7", http.StatusOK},
		{"padded", " 7 ", http.StatusOK},
		{"missing", "", http.StatusUnauthorized},
		{"not a number", "alice", http.StatusUnauthorized},
		{"zero", "0", http.StatusUnauthorized},
		{"negative", "-3", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = 0
			req := httptest.NewRequest(http.MethodGet, "/api/videos", http.NoBody)
			if tt.header != "" {
				req.Header.Set(AccountHeader, tt.header)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != tt.status {
				t.Fatalf("Expected status %d, got %d", tt.status, w.Code)
			}
			if tt.status == http.StatusOK && seen != 7 {
				t.Errorf("Expected account 7, got %d", seen)
			}
			if tt.status != http.StatusOK && !strings.Contains(w.Body.String(), `"success":false`) {
				t.Errorf("Expected JSON error body, got %s", w.Body.String())
			}
		})
	}
}

func TestAccountIDMissing(t *testing.T) {
	if _, ok := AccountID(context.Background()); ok {
		t.Error("Expected no account in an empty context")
	}
	if id, ok := AccountID(WithAccountID(context.Background(), 9)); !ok || id != 9 {
		t.Errorf("Expected account 9, got %d (%v)", id, ok)
	}
}

func TestDefaultMetricsConfig(t *testing.T) {
	config := DefaultMetricsConfig()
	for _, p := range []string{"/metrics", "/healthz", "/livez", "/readyz"} {
		found := false
		for _, s := range config.SkipPaths {
			if s == p {
				found = true
			}
		}
		if !found {
			t.Errorf("Expected %s in default skip paths", p)
		}
	}
}

func TestMetricsMiddlewareUsesRouteTemplate(t *testing.T) {
	router := mux.NewRouter()
	router.Use(Metrics(DefaultMetricsConfig()))
	router.HandleFunc("/api/conversion/status/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}).Methods(http.MethodGet)

	counter := metrics.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/api/conversion/status/{id}", "404")
	before := testutil.ToFloat64(counter)

	for _, id := range []string{"1", "2", "3"} {
		req := httptest.NewRequest(http.MethodGet, "/api/conversion/status/"+id, http.NoBody)
		router.ServeHTTP(httptest.NewRecorder(), req)
	}

	if got := testutil.ToFloat64(counter) - before; got != 3 {
		t.Errorf("Expected 3 requests under the template label, got %v", got)
	}
}

func TestMetricsMiddlewareSkipPaths(t *testing.T) {
	called := false
	handler := Metrics(DefaultMetricsConfig())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))

	counter := metrics.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/metrics", "200")
	before := testutil.ToFloat64(counter)

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))

	if !called {
		t.Error("Expected handler to be called")
	}
	if testutil.ToFloat64(counter) != before {
		t.Error("Expected /metrics not to be recorded")
	}
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		path, want string
	}{
		{"/api/videos", "/api/videos"},
		{"/api/videos/17", "/api/videos/{id}"},
		{"/api/conversion/jobs/0b6f3c9e-2a1d-4c8e-9f5b-7d3e2a1c4b6f", "/api/conversion/jobs/{id}"},
		{"/api/buckets/3/quota", "/api/buckets/{id}/quota"},
		{"/", "/"},
	}
	for _, tt := range tests {
		if got := normalizePath(tt.path); got != tt.want {
			t.Errorf("normalizePath(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}
