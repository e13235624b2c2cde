package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mimir/internal/arrowconv"
	"mimir/internal/domain"
	"mimir/internal/engine"
	"mimir/internal/middleware"
	"mimir/internal/registry"
	"mimir/internal/testutil"
)

// === Mocks ===

type fakeEngine struct {
	reg *registry.Registry

	mu        sync.Mutex
	inquiries []domain.Inquiry
	result    *engine.Result
	queryErr  error
	reloadErr error
	reloads   int
}

func (f *fakeEngine) Query(_ context.Context, inq *domain.Inquiry) (*engine.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inquiries = append(f.inquiries, *inq)
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return f.result, nil
}

func (f *fakeEngine) Registry() *registry.Registry { return f.reg }

func (f *fakeEngine) Reload(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reloads++
	return f.reloadErr
}

func newFakeEngine(t *testing.T) *fakeEngine {
	t.Helper()
	reg, err := registry.New(testutil.RentalSources(), testutil.RentalMetrics(), testutil.RentalDimensions())
	require.NoError(t, err)

	table := domain.NewResultTable([]string{"dim_rental_category", "movies_rented"}, []string{"VARCHAR", "BIGINT"})
	table.AppendRow([]any{"Action", int64(2)})
	table.AppendRow([]any{"Comedy", int64(1)})
	return &fakeEngine{reg: reg, result: &engine.Result{Table: table, Version: 3}}
}

func newTestServer(t *testing.T, eng Engine, cfg RouterConfig) *httptest.Server {
	t.Helper()
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.NewRegistry()
	}
	srv := httptest.NewServer(NewRouter(NewHandler(eng, nil), cfg))
	t.Cleanup(srv.Close)
	return srv
}

func post(t *testing.T, url, body string, header http.Header) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func get(t *testing.T, url string) *http.Response {
	t.Helper()
	resp, err := http.Get(url) //nolint:noctx
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

// === Tests ===

func TestInquiry_JSON(t *testing.T) {
	eng := newFakeEngine(t)
	srv := newTestServer(t, eng, RouterConfig{})

	resp := post(t, srv.URL+"/v1/inquiry",
		`{"metrics":["movies_rented"],"dimensions":["dim_rental_category"],"limit":10}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "3", resp.Header.Get("X-Mimir-Version"))
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	body := decodeBody[InquiryResponse](t, resp)
	assert.Equal(t, []ColumnInfo{{"dim_rental_category", "VARCHAR"}, {"movies_rented", "BIGINT"}}, body.Columns)
	require.Len(t, body.Rows, 2)
	assert.Equal(t, "Action", body.Rows[0][0])
	assert.EqualValues(t, 2, body.Rows[0][1])

	require.Len(t, eng.inquiries, 1)
	got := eng.inquiries[0]
	assert.Equal(t, []string{"movies_rented"}, got.Metrics)
	require.NotNil(t, got.Limit)
	assert.Equal(t, 10, *got.Limit)
}

func TestInquiry_Arrow(t *testing.T) {
	eng := newFakeEngine(t)
	srv := newTestServer(t, eng, RouterConfig{})

	resp := post(t, srv.URL+"/v1/inquiry", `{"metrics":["movies_rented"]}`,
		http.Header{"Accept": {"application/json;q=0.5, " + arrowconv.ContentType}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, arrowconv.ContentType, resp.Header.Get("Content-Type"))

	table, err := arrowconv.ReadIPC(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, []string{"dim_rental_category", "movies_rented"}, table.ColumnNames())
	assert.Equal(t, []any{"Comedy", int64(1)}, table.Row(1))
}

func TestInquiry_DryRun(t *testing.T) {
	eng := newFakeEngine(t)
	eng.result = &engine.Result{Queries: []domain.CompiledQuery{{Source: "rentals", SQL: "SELECT 1"}}}
	srv := newTestServer(t, eng, RouterConfig{})

	resp := post(t, srv.URL+"/v1/inquiry", `{"metrics":["movies_rented"],"dry_run":true}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody[DryRunResponse](t, resp)
	assert.Equal(t, []domain.CompiledQuery{{Source: "rentals", SQL: "SELECT 1"}}, body.Queries)
}

func TestInquiry_BadBody(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `metrics=movies_rented`},
		{"unknown field", `{"metrics":["movies_rented"],"group_by":["x"]}`},
		{"wrong type", `{"metrics":"movies_rented"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := newFakeEngine(t)
			srv := newTestServer(t, eng, RouterConfig{})

			resp := post(t, srv.URL+"/v1/inquiry", tt.body, nil)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			body := decodeBody[errorBody](t, resp)
			assert.Equal(t, http.StatusBadRequest, body.Code)
			assert.Contains(t, body.Message, "invalid inquiry body")
			assert.Empty(t, eng.inquiries)
		})
	}
}

func TestInquiry_ErrorStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"planning", domain.ErrPlanning("metric %q is not defined", "nope"), http.StatusBadRequest},
		{"not found", domain.ErrNotFound(domain.KindMetric, "nope"), http.StatusNotFound},
		{"execution", &domain.ExecutionError{Source: "rentals", Err: errors.New("connection refused")}, http.StatusBadGateway},
		{"timeout", &domain.ExecutionError{Source: "rentals", Err: context.DeadlineExceeded}, http.StatusGatewayTimeout},
		{"combine", domain.ErrCombine(errors.New("boom"), "joining results"), http.StatusInternalServerError},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := newFakeEngine(t)
			eng.queryErr = tt.err
			srv := newTestServer(t, eng, RouterConfig{})

			resp := post(t, srv.URL+"/v1/inquiry", `{"metrics":["movies_rented"]}`, nil)
			assert.Equal(t, tt.want, resp.StatusCode)
			body := decodeBody[errorBody](t, resp)
			assert.Equal(t, tt.want, body.Code)
			assert.Equal(t, tt.err.Error(), body.Message)
		})
	}
}

func TestSchema(t *testing.T) {
	srv := newTestServer(t, newFakeEngine(t), RouterConfig{})

	resp := get(t, srv.URL+"/v1/schema")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	schema := decodeBody[[]domain.SourceSchema](t, resp)

	names := make([]string, len(schema))
	for i, s := range schema {
		names[i] = s.Source
	}
	assert.ElementsMatch(t, []string{"rentals", "payments"}, names)
}

func TestDefinitions(t *testing.T) {
	srv := newTestServer(t, newFakeEngine(t), RouterConfig{})

	t.Run("list metrics", func(t *testing.T) {
		resp := get(t, srv.URL+"/v1/definitions/metrics")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		metrics := decodeBody[[]domain.Metric](t, resp)
		assert.Len(t, metrics, 3)
	})

	t.Run("single dimension", func(t *testing.T) {
		resp := get(t, srv.URL+"/v1/definitions/dimension/dim_rental_category")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		dim := decodeBody[domain.Dimension](t, resp)
		assert.Equal(t, "rentals", dim.SourceName)
		assert.Equal(t, "category", dim.SQL)
	})

	t.Run("missing definition", func(t *testing.T) {
		resp := get(t, srv.URL+"/v1/definitions/sources/nope")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("unknown kind", func(t *testing.T) {
		resp := get(t, srv.URL+"/v1/definitions/cubes")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestReload(t *testing.T) {
	eng := newFakeEngine(t)
	srv := newTestServer(t, eng, RouterConfig{})

	resp := post(t, srv.URL+"/v1/reload", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	eng.reloadErr = &domain.ConfigError{Violations: []string{"metrics/x: source \"y\" is not defined"}}
	resp = post(t, srv.URL+"/v1/reload", "", nil)
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	body := decodeBody[errorBody](t, resp)
	assert.Equal(t, []string{"metrics/x: source \"y\" is not defined"}, body.Violations)
	assert.Equal(t, 2, eng.reloads)
}

func TestHealthAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	engine.NewMetrics(reg)
	srv := newTestServer(t, newFakeEngine(t), RouterConfig{Gatherer: reg})

	resp := get(t, srv.URL+"/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = get(t, srv.URL+"/metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var buf bytes.Buffer
	_, err := buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "mimir_")
}

func TestRateLimitAppliesToV1Only(t *testing.T) {
	srv := newTestServer(t, newFakeEngine(t), RouterConfig{
		RateLimit: middleware.RateLimitConfig{RequestsPerSecond: 0.001, Burst: 1},
	})

	assert.Equal(t, http.StatusOK, get(t, srv.URL+"/v1/schema").StatusCode)
	assert.Equal(t, http.StatusTooManyRequests, get(t, srv.URL+"/v1/schema").StatusCode)
	assert.Equal(t, http.StatusOK, get(t, srv.URL+"/healthz").StatusCode)
}

func TestCORSPreflight(t *testing.T) {
	srv := newTestServer(t, newFakeEngine(t), RouterConfig{CORSAllowedOrigins: []string{"https://bi.example"}})

	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/v1/inquiry", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://bi.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "https://bi.example", resp.Header.Get("Access-Control-Allow-Origin"))
}
