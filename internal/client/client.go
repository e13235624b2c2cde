// Package client talks to a running Mimir server over HTTP.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"mimir/internal/arrowconv"
	"mimir/internal/domain"
)

// APIError is a non-2xx response from the server.
type APIError struct {
	HTTPStatus int
	Code       int      `json:"code"`
	Message    string   `json:"message"`
	Violations []string `json:"violations,omitempty"`
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.HTTPStatus)
	}
	if len(e.Violations) > 0 {
		msg += ":\n  " + strings.Join(e.Violations, "\n  ")
	}
	return fmt.Sprintf("server returned %d: %s", e.HTTPStatus, msg)
}

// Client is an HTTP client for the /v1 API.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// New creates a client for baseURL.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Do sends a request to path under /v1 and returns the response when the
// status is 2xx. Other statuses are decoded into an *APIError.
func (c *Client) Do(ctx context.Context, method, path string, body any, header http.Header) (*http.Response, error) {
	u, err := url.JoinPath(c.BaseURL, "v1", path)
	if err != nil {
		return nil, fmt.Errorf("build url: %w", err)
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header[k] = v
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, u, err)
	}
	if resp.StatusCode/100 != 2 {
		defer resp.Body.Close() //nolint:errcheck
		apiErr := &APIError{HTTPStatus: resp.StatusCode}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if json.Unmarshal(data, apiErr) != nil {
			apiErr.Message = strings.TrimSpace(string(data))
		}
		return nil, apiErr
	}
	return resp, nil
}

func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	resp, err := c.Do(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close() //nolint:errcheck
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Inquiry runs inq on the server. The result travels as an Arrow stream so
// column types survive the trip.
func (c *Client) Inquiry(ctx context.Context, inq *domain.Inquiry) (*domain.ResultTable, error) {
	resp, err := c.Do(ctx, http.MethodPost, "inquiry", inq, http.Header{"Accept": {arrowconv.ContentType}})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() //nolint:errcheck
	return arrowconv.ReadIPC(resp.Body)
}

// Compile runs inq as a dry run and returns the per-source SQL.
func (c *Client) Compile(ctx context.Context, inq *domain.Inquiry) ([]domain.CompiledQuery, error) {
	dry := *inq
	dry.DryRun = true
	resp, err := c.Do(ctx, http.MethodPost, "inquiry", &dry, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() //nolint:errcheck

	var body struct {
		Queries []domain.CompiledQuery `json:"queries"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return body.Queries, nil
}

// Schema returns what each source of the server's registry can answer.
func (c *Client) Schema(ctx context.Context) ([]domain.SourceSchema, error) {
	var out []domain.SourceSchema
	return out, c.getJSON(ctx, "schema", &out)
}

// Sources lists the server's sources.
func (c *Client) Sources(ctx context.Context) ([]domain.Source, error) {
	var out []domain.Source
	return out, c.getJSON(ctx, "definitions/sources", &out)
}

// Metrics lists the server's metrics.
func (c *Client) Metrics(ctx context.Context) ([]domain.Metric, error) {
	var out []domain.Metric
	return out, c.getJSON(ctx, "definitions/metrics", &out)
}

// Dimensions lists the server's dimensions.
func (c *Client) Dimensions(ctx context.Context) ([]domain.Dimension, error) {
	var out []domain.Dimension
	return out, c.getJSON(ctx, "definitions/dimensions", &out)
}

// Reload asks the server to reload its configuration.
func (c *Client) Reload(ctx context.Context) error {
	resp, err := c.Do(ctx, http.MethodPost, "reload", nil, nil)
	if err != nil {
		return err
	}
	return resp.Body.Close()
}
