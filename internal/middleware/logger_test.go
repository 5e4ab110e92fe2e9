package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestLoggerWritesAccessLine(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	h := RequestID(Logger(base)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		LoggerFromContext(r.Context()).Info().Msg("inside handler")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("nope"))
	})))

	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/abc", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("log lines = %d: %s", len(lines), buf.String())
	}
	var inner, access map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &inner); err != nil {
		t.Fatalf("decode inner: %v", err)
	}
	if err := json.Unmarshal([]byte(lines[1]), &access); err != nil {
		t.Fatalf("decode access: %v", err)
	}
	if inner["request_id"] != "req-123" {
		t.Fatalf("handler log missing request id: %v", inner)
	}
	if access["level"] != "warn" || access["status"] != float64(404) || access["bytes"] != float64(4) {
		t.Fatalf("access line = %v", access)
	}
	if rec.Header().Get("X-Request-ID") != "req-123" {
		t.Fatalf("response request id = %q", rec.Header().Get("X-Request-ID"))
	}
}

func TestRequestIDReplacesUnusableValues(t *testing.T) {
	for _, in := range []string{"", "has space", strings.Repeat("x", maxRequestIDLength+1)} {
		var got string
		h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got = RequestIDFromContext(r.Context())
		}))
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if in != "" {
			req.Header.Set("X-Request-ID", in)
		}
		h.ServeHTTP(httptest.NewRecorder(), req)
		if got == "" || got == in {
			t.Fatalf("request id for %q = %q", in, got)
		}
	}
}
