package server

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	h := requestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	tests := []struct {
		name   string
		header string
		keep   bool
	}{
		{"generated", "", false},
		{"caller supplied", "trace-42", true},
		{"oversized", strings.Repeat("x", 65), false},
	}
	for _, tt := range tests {
		req := httptest.NewRequest("GET", "/healthz", nil)
		if tt.header != "" {
			req.Header.Set("X-Request-ID", tt.header)
		}
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)

		if got := w.Header().Get("X-Request-ID"); got != seen {
			t.Errorf("%s: header %q differs from context %q", tt.name, got, seen)
		}
		if tt.keep && seen != tt.header {
			t.Errorf("%s: request id = %q, want %q", tt.name, seen, tt.header)
		}
		if !tt.keep && !strings.HasPrefix(seen, "req_") {
			t.Errorf("%s: request id = %q, want generated req_ prefix", tt.name, seen)
		}
	}
}

func TestLoggingMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	h := loggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte("short and stout"))
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/api/v1/runs", nil))
	out := buf.String()
	for _, want := range []string{"path=/api/v1/runs", "status=418", "bytes=15"} {
		if !strings.Contains(out, want) {
			t.Errorf("log line missing %q: %s", want, out)
		}
	}

	buf.Reset()
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/metrics", nil))
	if buf.Len() != 0 {
		t.Errorf("scrape should log at DEBUG only, got: %s", buf.String())
	}
}
