// Package api serves the semantic layer over HTTP.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"mimir/internal/arrowconv"
	"mimir/internal/domain"
	"mimir/internal/engine"
	"mimir/internal/registry"
)

// maxBodyBytes bounds an inquiry request body.
const maxBodyBytes = 1 << 20

// Engine is the part of *engine.Engine the handlers need.
type Engine interface {
	Query(ctx context.Context, inq *domain.Inquiry) (*engine.Result, error)
	Registry() *registry.Registry
	Reload(ctx context.Context) error
}

// Handler implements the HTTP endpoints.
type Handler struct {
	engine Engine
	logger *slog.Logger
}

// NewHandler creates a Handler. A nil logger falls back to slog.Default().
func NewHandler(eng Engine, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{engine: eng, logger: logger.With("component", "api")}
}

// ColumnInfo describes one result column.
type ColumnInfo struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// InquiryResponse is the JSON body of an answered inquiry.
type InquiryResponse struct {
	Columns []ColumnInfo `json:"columns"`
	Rows    [][]any      `json:"rows"`
}

// DryRunResponse is the JSON body of a dry run.
type DryRunResponse struct {
	Queries []domain.CompiledQuery `json:"queries"`
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Inquiry answers POST /v1/inquiry. Clients that accept
// application/vnd.apache.arrow.stream get an Arrow IPC stream instead of JSON.
func (h *Handler) Inquiry(w http.ResponseWriter, r *http.Request) {
	var inq domain.Inquiry
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&inq); err != nil {
		writeError(w, domain.ErrValidation("invalid inquiry body: %v", err))
		return
	}

	res, err := h.engine.Query(r.Context(), &inq)
	if err != nil {
		h.logger.Debug("inquiry failed", "error", err)
		writeError(w, err)
		return
	}
	w.Header().Set("X-Mimir-Version", strconv.FormatUint(res.Version, 10))

	if inq.DryRun {
		writeJSON(w, http.StatusOK, DryRunResponse{Queries: res.Queries})
		return
	}

	if acceptsArrow(r) {
		w.Header().Set("Content-Type", arrowconv.ContentType)
		w.WriteHeader(http.StatusOK)
		if err := arrowconv.WriteIPC(w, res.Table); err != nil {
			// Headers are gone; all we can do is log.
			h.logger.Error("writing arrow stream", "error", err)
		}
		return
	}

	writeJSON(w, http.StatusOK, tableResponse(res.Table))
}

func acceptsArrow(r *http.Request) bool {
	for _, part := range strings.Split(r.Header.Get("Accept"), ",") {
		mt, _, _ := strings.Cut(strings.TrimSpace(part), ";")
		if strings.EqualFold(strings.TrimSpace(mt), arrowconv.ContentType) {
			return true
		}
	}
	return false
}

func tableResponse(t *domain.ResultTable) InquiryResponse {
	resp := InquiryResponse{Columns: make([]ColumnInfo, len(t.Columns)), Rows: t.Rows()}
	for i, c := range t.Columns {
		resp.Columns[i] = ColumnInfo{Name: c.Name, Type: c.Type}
	}
	return resp
}

// Schema answers GET /v1/schema.
func (h *Handler) Schema(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Registry().Schema())
}

// Definitions answers GET /v1/definitions/{kind} with every definition of
// that kind.
func (h *Handler) Definitions(w http.ResponseWriter, r *http.Request) {
	kind, err := domain.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		writeError(w, err)
		return
	}

	reg := h.engine.Registry()
	switch kind {
	case domain.KindSource:
		writeJSON(w, http.StatusOK, reg.Sources())
	case domain.KindMetric:
		writeJSON(w, http.StatusOK, reg.Metrics())
	case domain.KindDimension:
		writeJSON(w, http.StatusOK, reg.Dimensions())
	default:
		writeError(w, fmt.Errorf("unhandled kind %q", kind))
	}
}

// Definition answers GET /v1/definitions/{kind}/{name}.
func (h *Handler) Definition(w http.ResponseWriter, r *http.Request) {
	kind, err := domain.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		writeError(w, err)
		return
	}
	def, err := h.engine.Registry().Lookup(kind, chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, def)
}

// Reload answers POST /v1/reload. A failed reload keeps the active
// configuration and reports the violations.
func (h *Handler) Reload(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Reload(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
}
