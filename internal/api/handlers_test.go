// NEMLens - Energy Market Analytics Dashboard
// Copyright 2026 NEMLens Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nemlens/nemlens

package api

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/nemlens/nemlens/internal/cache"
	"github.com/nemlens/nemlens/internal/config"
	"github.com/nemlens/nemlens/internal/consistency"
	"github.com/nemlens/nemlens/internal/query"
	"github.com/nemlens/nemlens/internal/resolution"
	"github.com/nemlens/nemlens/internal/store"
)

var (
	apiSeedStart = time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	apiSeedEnd   = time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC)
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	cfg := config.Defaults()
	cfg.Database.Path = ""
	cfg.Database.Threads = 2

	s, err := store.Open(context.Background(), &cfg.Database, cfg.Retry)
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	if err := s.SeedSampleData(context.Background(), apiSeedStart, apiSeedEnd); err != nil {
		t.Fatalf("SeedSampleData() error = %v", err)
	}

	manager := query.NewManager(s, cache.New(cfg.Cache.CapacityBytes),
		resolution.NewSelector(cfg.Query), cfg.Cache)
	checker := consistency.NewChecker(s, 0)

	handler := NewHandler(manager, s, checker, "test")
	srv := httptest.NewServer(NewRouter(handler, cfg.Server))
	t.Cleanup(srv.Close)
	return srv
}

// envelope mirrors APIResponse for decoding with a raw data payload.
type envelope struct {
	Status   string          `json:"status"`
	Data     json.RawMessage `json:"data"`
	Metadata Metadata        `json:"metadata"`
	Error    *APIError       `json:"error"`
}

func getEnvelope(t *testing.T, srv *httptest.Server, path string, wantStatus int) envelope {
	t.Helper()

	resp, err := srv.Client().Get(srv.URL + path)
	if err != nil {
		t.Fatalf("GET %s error = %v", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if resp.StatusCode != wantStatus {
		t.Fatalf("GET %s status = %d, want %d (body: %s)", path, resp.StatusCode, wantStatus, body)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v (body: %s)", err, body)
	}
	return env
}

func TestQueryEndpoint(t *testing.T) {
	srv := newTestServer(t)

	path := "/api/v1/query?category=generation&start=2025-03-10T00:00:00Z&end=2025-03-10T06:00:00Z&region=NSW1"
	env := getEnvelope(t, srv, path, http.StatusOK)

	if env.Status != "success" {
		t.Fatalf("status = %q, want success", env.Status)
	}

	var data queryData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("unmarshal data: %v", err)
	}
	if data.Resolution != "5min" {
		t.Errorf("resolution = %s, want 5min for a 6-hour span", data.Resolution)
	}
	if data.RowCount == 0 {
		t.Error("no rows returned for seeded range")
	}
	if data.Fingerprint == "" {
		t.Error("fingerprint missing")
	}
	if env.Metadata.Cached {
		t.Error("first query reported cached")
	}

	// Identical query: served from cache.
	again := getEnvelope(t, srv, path, http.StatusOK)
	if !again.Metadata.Cached {
		t.Error("second identical query not served from cache")
	}
}

func TestQueryEndpointValidation(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		name string
		path string
	}{
		{"missing params", "/api/v1/query"},
		{"unknown category", "/api/v1/query?category=weather&start=2025-03-10&end=2025-03-11"},
		{"bad timestamp", "/api/v1/query?category=price&start=yesterday&end=2025-03-11"},
		{"bad resolution", "/api/v1/query?category=price&start=2025-03-10&end=2025-03-11&resolution=hourly"},
		{"reversed range", "/api/v1/query?category=price&start=2025-03-11&end=2025-03-10"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := getEnvelope(t, srv, tt.path, http.StatusBadRequest)
			if env.Error == nil || env.Error.Code != "VALIDATION_ERROR" {
				t.Errorf("error = %+v, want VALIDATION_ERROR", env.Error)
			}
		})
	}
}

func TestQueryEndpointOverBudget(t *testing.T) {
	srv := newTestServer(t)

	path := "/api/v1/query?category=generation&start=2015-01-01&end=2025-01-01&resolution=5min"
	env := getEnvelope(t, srv, path, http.StatusRequestEntityTooLarge)
	if env.Error == nil || env.Error.Code != "RESOURCE_LIMIT_EXCEEDED" {
		t.Errorf("error = %+v, want RESOURCE_LIMIT_EXCEEDED", env.Error)
	}
}

func TestCacheEndpoints(t *testing.T) {
	srv := newTestServer(t)

	queryPath := "/api/v1/query?category=price&start=2025-03-10T00:00:00Z&end=2025-03-10T12:00:00Z"
	getEnvelope(t, srv, queryPath, http.StatusOK)

	env := getEnvelope(t, srv, "/api/v1/cache/stats", http.StatusOK)
	var stats cache.Stats
	if err := json.Unmarshal(env.Data, &stats); err != nil {
		t.Fatalf("unmarshal stats: %v", err)
	}
	if stats.Entries != 1 {
		t.Errorf("cache entries = %d, want 1", stats.Entries)
	}

	// Invalidate by logical request.
	body := `{"category":"price","start":"2025-03-10T00:00:00Z","end":"2025-03-10T12:00:00Z"}`
	resp, err := srv.Client().Post(srv.URL+"/api/v1/cache/invalidate", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST invalidate error = %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("invalidate status = %d", resp.StatusCode)
	}

	env = getEnvelope(t, srv, "/api/v1/cache/stats", http.StatusOK)
	if err := json.Unmarshal(env.Data, &stats); err != nil {
		t.Fatalf("unmarshal stats: %v", err)
	}
	if stats.Entries != 0 {
		t.Errorf("cache entries after invalidation = %d, want 0", stats.Entries)
	}

	// Refill then clear.
	getEnvelope(t, srv, queryPath, http.StatusOK)
	resp, err = srv.Client().Post(srv.URL+"/api/v1/cache/clear", "application/json", nil)
	if err != nil {
		t.Fatalf("POST clear error = %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("clear status = %d", resp.StatusCode)
	}
}

func TestCacheInvalidateRejectsEmptyBody(t *testing.T) {
	srv := newTestServer(t)

	resp, err := srv.Client().Post(srv.URL+"/api/v1/cache/invalidate", "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatalf("POST error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestMetadataEndpoints(t *testing.T) {
	srv := newTestServer(t)

	env := getEnvelope(t, srv, "/api/v1/metadata", http.StatusOK)
	var meta struct {
		Coverage []store.Coverage `json:"coverage"`
	}
	if err := json.Unmarshal(env.Data, &meta); err != nil {
		t.Fatalf("unmarshal metadata: %v", err)
	}
	if len(meta.Coverage) != 4 {
		t.Errorf("coverage categories = %d, want 4", len(meta.Coverage))
	}
	for _, cov := range meta.Coverage {
		if !cov.HasData {
			t.Errorf("category %s reports no data after seeding", cov.Category)
		}
	}

	env = getEnvelope(t, srv, "/api/v1/metadata/dimensions?category=transmission", http.StatusOK)
	var dims struct {
		Values []string `json:"values"`
	}
	if err := json.Unmarshal(env.Data, &dims); err != nil {
		t.Fatalf("unmarshal dimensions: %v", err)
	}
	if len(dims.Values) == 0 {
		t.Error("no interconnectors returned")
	}

	getEnvelope(t, srv, "/api/v1/metadata/dimensions?category=weather", http.StatusBadRequest)
}

func TestConsistencyEndpoint(t *testing.T) {
	srv := newTestServer(t)

	env := getEnvelope(t, srv, "/api/v1/consistency?samples=4", http.StatusOK)
	var report consistency.Report
	if err := json.Unmarshal(env.Data, &report); err != nil {
		t.Fatalf("unmarshal report: %v", err)
	}
	if report.Checked == 0 {
		t.Fatal("no windows checked")
	}
	if report.PassRate != 1 {
		t.Errorf("PassRate = %v, want 1.0 on seeded data", report.PassRate)
	}

	getEnvelope(t, srv, "/api/v1/consistency?samples=0", http.StatusBadRequest)
}

func TestHealthEndpoints(t *testing.T) {
	srv := newTestServer(t)

	getEnvelope(t, srv, "/api/v1/health/live", http.StatusOK)
	getEnvelope(t, srv, "/api/v1/health/ready", http.StatusOK)
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t)

	resp, err := srv.Client().Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "go_goroutines") {
		t.Error("metrics output missing standard collectors")
	}
}

func TestRequestIDHeader(t *testing.T) {
	srv := newTestServer(t)

	resp, err := srv.Client().Get(srv.URL + "/api/v1/health/live")
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	_ = resp.Body.Close()
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("response missing X-Request-ID header")
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/v1/health/live", nil)
	req.Header.Set("X-Request-ID", "trace-42")
	resp, err = srv.Client().Do(req)
	if err != nil {
		t.Fatalf("GET with header error = %v", err)
	}
	_ = resp.Body.Close()
	if got := resp.Header.Get("X-Request-ID"); got != "trace-42" {
		t.Errorf("X-Request-ID = %q, want trace-42", got)
	}
}

func TestCORSPreflight(t *testing.T) {
	srv := newTestServer(t)

	req, _ := http.NewRequest(http.MethodOptions, srv.URL+"/api/v1/query", nil)
	req.Header.Set("Origin", "http://dashboard.local")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("OPTIONS error = %v", err)
	}
	_ = resp.Body.Close()
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got == "" {
		t.Error("preflight response missing Access-Control-Allow-Origin")
	}
	if got := resp.Header.Get("Access-Control-Allow-Methods"); !strings.Contains(got, http.MethodGet) {
		t.Errorf("Access-Control-Allow-Methods = %q, want GET allowed", got)
	}
}
