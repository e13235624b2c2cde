package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mimir/internal/arrowconv"
	"mimir/internal/domain"
)

func TestNew_TrimsTrailingSlash(t *testing.T) {
	c := New("http://localhost:8090/")
	assert.Equal(t, "http://localhost:8090", c.BaseURL)
	assert.Equal(t, 30*time.Second, c.HTTPClient.Timeout)
}

func TestInquiry_DecodesArrow(t *testing.T) {
	var got domain.Inquiry
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/inquiry", r.URL.Path)
		assert.Equal(t, arrowconv.ContentType, r.Header.Get("Accept"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		table := domain.NewResultTable([]string{"movies_rented"}, []string{"BIGINT"})
		table.AppendRow([]any{int64(4)})
		w.Header().Set("Content-Type", arrowconv.ContentType)
		assert.NoError(t, arrowconv.WriteIPC(w, table))
	}))
	t.Cleanup(srv.Close)

	table, err := New(srv.URL).Inquiry(context.Background(), &domain.Inquiry{Metrics: []string{"movies_rented"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"movies_rented"}, got.Metrics)
	assert.Equal(t, []any{int64(4)}, table.Row(0))
	assert.Equal(t, "BIGINT", table.Columns[0].Type)
}

func TestCompile_SetsDryRun(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var inq domain.Inquiry
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&inq))
		assert.True(t, inq.DryRun)
		_, _ = w.Write([]byte(`{"queries":[{"source":"rentals","sql":"SELECT 1"}]}`))
	}))
	t.Cleanup(srv.Close)

	inq := &domain.Inquiry{Metrics: []string{"movies_rented"}}
	queries, err := New(srv.URL).Compile(context.Background(), inq)
	require.NoError(t, err)
	assert.Equal(t, []domain.CompiledQuery{{Source: "rentals", SQL: "SELECT 1"}}, queries)
	assert.False(t, inq.DryRun, "caller's inquiry is left alone")
}

func TestDefinitionsAndSchema(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/schema":
			_, _ = w.Write([]byte(`[{"source":"rentals","dimensions":["dim_rental_category"],"metrics":["movies_rented"],"time_dimension":"rental_date"}]`))
		case "/v1/definitions/metrics":
			_, _ = w.Write([]byte(`[{"name":"movies_rented","source_name":"rentals","sql":"COUNT(*)"}]`))
		case "/v1/definitions/sources":
			_, _ = w.Write([]byte(`[{"name":"rentals","time_col":"rental_date","connection_name":"warehouse","sql":"SELECT 1"}]`))
		case "/v1/definitions/dimensions":
			_, _ = w.Write([]byte(`[]`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	c := New(srv.URL)
	ctx := context.Background()

	schema, err := c.Schema(ctx)
	require.NoError(t, err)
	require.Len(t, schema, 1)
	assert.Equal(t, "rental_date", schema[0].TimeDimension)

	metrics, err := c.Metrics(ctx)
	require.NoError(t, err)
	assert.Equal(t, "rentals", metrics[0].SourceName)

	sources, err := c.Sources(ctx)
	require.NoError(t, err)
	assert.Equal(t, "warehouse", sources[0].ConnectionName)

	dims, err := c.Dimensions(ctx)
	require.NoError(t, err)
	assert.Empty(t, dims)
}

func TestDo_APIError(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantMsg    string
		violations []string
	}{
		{"json body", http.StatusBadRequest, `{"code":400,"message":"metric \"x\" is not defined"}`, `metric "x" is not defined`, nil},
		{"violations", http.StatusUnprocessableEntity, `{"code":422,"message":"invalid configuration","violations":["a","b"]}`, "invalid configuration", []string{"a", "b"}},
		{"plain text", http.StatusBadGateway, "upstream down\n", "upstream down", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			t.Cleanup(srv.Close)

			err := New(srv.URL).Reload(context.Background())
			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tt.status, apiErr.HTTPStatus)
			assert.Equal(t, tt.wantMsg, apiErr.Message)
			assert.Equal(t, tt.violations, apiErr.Violations)
		})
	}
}
