package httpapi

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"photojobs/internal/adapter/repo"
	"photojobs/internal/http/handlers"
	"photojobs/internal/infra"
	"photojobs/internal/jobs"
	"photojobs/internal/middleware"
	"photojobs/internal/providers/image"
	"photojobs/internal/ratelimit"
	"photojobs/internal/storage"
)

const (
	testSecret  = "router-secret"
	testBaseURL = "http://photos.test/static"
)

type fixture struct {
	handler http.Handler
	pool    *jobs.PoolDispatcher
}

func newFixture(t *testing.T, policy ratelimit.Policy, trusted ...string) *fixture {
	t.Helper()
	logger := zerolog.Nop()
	dir := t.TempDir()

	files, err := storage.NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	publisher, err := storage.NewPublisher(files, testBaseURL, nil)
	if err != nil {
		t.Fatalf("NewPublisher: %v", err)
	}

	store := jobs.NewStore(repo.NewMemoryJobRepository(), logger)
	processor := jobs.NewProcessor(store, &image.SyntheticEnhancer{Width: 32, Height: 32}, publisher, time.Second, logger)
	pool := jobs.NewPoolDispatcher(processor, 2, 16, logger)
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("pool.Start: %v", err)
	}
	t.Cleanup(func() { _ = pool.Shutdown(context.Background()) })

	svc := jobs.NewService(jobs.NewValidator(jobs.ValidatorOptions{}), store, pool, publisher, logger)
	cfg := &infra.Config{JWTSecret: testSecret, CORSAllowedOrigins: []string{"https://app.example.com"}}
	app := handlers.NewApp(cfg, logger, svc, nil)

	window := ratelimit.NewMemoryWindow(time.Minute)
	t.Cleanup(func() { _ = window.Close() })
	proxies, err := middleware.ParseTrustedProxies(trusted)
	if err != nil {
		t.Fatalf("ParseTrustedProxies: %v", err)
	}
	router := NewRouter(app, Options{
		Limiter:        ratelimit.NewGate(window, policy, logger),
		StaticDir:      dir,
		TrustedProxies: proxies,
	})
	return &fixture{handler: router, pool: pool}
}

func bearer(t *testing.T, sub string) string {
	t.Helper()
	token, err := middleware.SignJWT(testSecret, middleware.TokenClaims{Sub: sub, Exp: time.Now().Add(time.Hour).Unix()})
	if err != nil {
		t.Fatalf("SignJWT: %v", err)
	}
	return "Bearer " + token
}

func (f *fixture) request(method, path, body, auth string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.RemoteAddr = "203.0.113.10:4321"
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestSubmitPollAndDownload(t *testing.T) {
	f := newFixture(t, ratelimit.Policy{})
	auth := bearer(t, "u1")

	rec := f.request(http.MethodPost, "/v1/jobs", `{"inputReference":"https://example.com/a.jpg","jobType":"person","settings":{"quantity":2}}`, auth)
	if rec.Code != http.StatusCreated {
		t.Fatalf("POST status = %d body = %s", rec.Code, rec.Body.String())
	}
	created := decode(t, rec)
	if created["status"] != "queued" {
		t.Fatalf("created = %v", created)
	}
	jobID := created["jobId"].(string)

	var view map[string]any
	deadline := time.Now().Add(5 * time.Second)
	for {
		rec = f.request(http.MethodGet, "/v1/jobs/"+jobID, "", auth)
		if rec.Code != http.StatusOK {
			t.Fatalf("GET status = %d", rec.Code)
		}
		view = decode(t, rec)
		if view["status"] == "completed" || view["status"] == "failed" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("job did not finish: %v", view)
		}
		time.Sleep(10 * time.Millisecond)
	}
	if view["status"] != "completed" {
		t.Fatalf("job = %v", view)
	}
	result, _ := view["result"].([]any)
	if len(result) != 2 {
		t.Fatalf("result = %v", view["result"])
	}

	first := result[0].(string)
	if !strings.HasPrefix(first, testBaseURL+"/jobs/"+jobID+"/") {
		t.Fatalf("locator = %q", first)
	}
	rec = f.request(http.MethodGet, strings.TrimPrefix(first, "http://photos.test"), "", "")
	if rec.Code != http.StatusOK || !bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG")) {
		t.Fatalf("static fetch = %d (%d bytes)", rec.Code, rec.Body.Len())
	}

	rec = f.request(http.MethodGet, "/v1/jobs/"+jobID+"/archive", "", auth)
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != "application/zip" {
		t.Fatalf("archive = %d %q", rec.Code, rec.Header().Get("Content-Type"))
	}
	zr, err := zip.NewReader(bytes.NewReader(rec.Body.Bytes()), int64(rec.Body.Len()))
	if err != nil {
		t.Fatalf("read archive: %v", err)
	}
	if len(zr.File) != 2 {
		t.Fatalf("archive entries = %d", len(zr.File))
	}

	if rec = f.request(http.MethodGet, "/v1/jobs/"+jobID, "", bearer(t, "u2")); rec.Code != http.StatusForbidden {
		t.Fatalf("other user status = %d", rec.Code)
	}
}

func TestSubmitRateLimited(t *testing.T) {
	f := newFixture(t, ratelimit.Policy{Burst: ratelimit.Limit{Requests: 2, Period: time.Minute}})
	auth := bearer(t, "u1")
	body := `{"inputReference":"https://example.com/a.jpg","jobType":"pet"}`

	for i := 0; i < 2; i++ {
		if rec := f.request(http.MethodPost, "/v1/jobs", body, auth); rec.Code != http.StatusCreated {
			t.Fatalf("request %d status = %d", i, rec.Code)
		}
	}
	rec := f.request(http.MethodPost, "/v1/jobs", body, auth)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" || decode(t, rec)["code"] != "BURST_LIMIT_EXCEEDED" {
		t.Fatalf("headers = %v body = %s", rec.Header(), rec.Body.String())
	}

	if rec := f.request(http.MethodGet, "/v1/healthz", "", auth); rec.Code != http.StatusOK {
		t.Fatalf("healthz status = %d under rate limit", rec.Code)
	}
}

func (f *fixture) submit(t *testing.T, sub, forwardedFor string) int {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/jobs", strings.NewReader(`{"inputReference":"https://example.com/a.jpg","jobType":"pet"}`))
	req.RemoteAddr = "198.51.100.7:4321"
	req.Header.Set("Authorization", bearer(t, sub))
	req.Header.Set("X-Forwarded-For", forwardedFor)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec.Code
}

func TestRotatingForwardedForDoesNotEvadeIPLimit(t *testing.T) {
	f := newFixture(t, ratelimit.Policy{Burst: ratelimit.Limit{Requests: 2, Period: time.Minute}})

	for i := 0; i < 2; i++ {
		if code := f.submit(t, fmt.Sprintf("u%d", i), fmt.Sprintf("10.0.0.%d", i)); code != http.StatusCreated {
			t.Fatalf("request %d status = %d", i, code)
		}
	}
	if code := f.submit(t, "u2", "10.0.0.2"); code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429 for the same peer", code)
	}
}

func TestTrustedProxyForwardedForKeysClients(t *testing.T) {
	f := newFixture(t, ratelimit.Policy{Burst: ratelimit.Limit{Requests: 2, Period: time.Minute}}, "198.51.100.0/24")

	for i := 0; i < 3; i++ {
		if code := f.submit(t, fmt.Sprintf("u%d", i), fmt.Sprintf("203.0.113.%d", i+1)); code != http.StatusCreated {
			t.Fatalf("client %d status = %d", i, code)
		}
	}
	if code := f.submit(t, "u3", "203.0.113.1"); code != http.StatusCreated {
		t.Fatalf("second request from client 1 status = %d", code)
	}
	if code := f.submit(t, "u4", "203.0.113.1"); code != http.StatusTooManyRequests {
		t.Fatalf("third request from client 1 status = %d, want 429", code)
	}
}

func TestInvalidTokenRejected(t *testing.T) {
	f := newFixture(t, ratelimit.Policy{})
	rec := f.request(http.MethodGet, "/v1/jobs/x", "", "Bearer not.a.token")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestDocsServed(t *testing.T) {
	f := newFixture(t, ratelimit.Policy{})
	rec := f.request(http.MethodGet, "/v1/openapi.json", "", "")
	if rec.Code != http.StatusOK || !json.Valid(rec.Body.Bytes()) {
		t.Fatalf("openapi = %d", rec.Code)
	}
	etag := rec.Header().Get("ETag")
	req := httptest.NewRequest(http.MethodGet, "/v1/openapi.json", nil)
	req.Header.Set("If-None-Match", etag)
	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotModified {
		t.Fatalf("conditional openapi = %d", rec.Code)
	}
	if rec := f.request(http.MethodGet, "/v1/docs", "", ""); rec.Code != http.StatusOK {
		t.Fatalf("docs = %d", rec.Code)
	}
	if rec := f.request(http.MethodGet, "/static/", "", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("static listing = %d", rec.Code)
	}
}
