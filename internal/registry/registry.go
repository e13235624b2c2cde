// Package registry holds validated Source, Metric and Dimension definitions.
//
// A Registry is immutable once built. Reloading means building a new one and
// swapping the reference; see engine.Engine.
package registry

import (
	"context"
	"fmt"
	"slices"
	"sort"

	"mimir/internal/domain"
)

// Registry is the validated definition graph.
type Registry struct {
	sources    map[string]*domain.Source
	metrics    map[string]*domain.Metric
	dimensions map[string]*domain.Dimension

	// native maps source name -> set of dimension names the source can
	// evaluate itself.
	native map[string]map[string]bool
}

// New validates the definitions and builds a Registry. All violations are
// reported together in a *domain.ConfigError.
func New(sources []domain.Source, metrics []domain.Metric, dimensions []domain.Dimension) (*Registry, error) {
	if err := validate(sources, metrics, dimensions).err(); err != nil {
		return nil, err
	}

	r := &Registry{
		sources:    make(map[string]*domain.Source, len(sources)),
		metrics:    make(map[string]*domain.Metric, len(metrics)),
		dimensions: make(map[string]*domain.Dimension, len(dimensions)),
		native:     make(map[string]map[string]bool, len(sources)),
	}
	for i := range sources {
		s := sources[i]
		s.Dimensions = slices.Clone(s.Dimensions)
		r.sources[s.Name] = &s
		r.native[s.Name] = make(map[string]bool, len(s.Dimensions))
		for _, d := range s.Dimensions {
			r.native[s.Name][d] = true
		}
	}
	for i := range dimensions {
		d := dimensions[i]
		r.dimensions[d.Name] = &d
		r.native[d.SourceName][d.Name] = true
	}
	for i := range metrics {
		m := metrics[i]
		m.RequiredDimensions = slices.Clone(m.RequiredDimensions)
		r.metrics[m.Name] = &m
	}
	return r, nil
}

// Load reads every definition through the loader and builds a Registry.
func Load(ctx context.Context, loader domain.ConfigLoader) (*Registry, error) {
	sources, err := loadAll[domain.Source](ctx, loader, domain.KindSource)
	if err != nil {
		return nil, err
	}
	metrics, err := loadAll[domain.Metric](ctx, loader, domain.KindMetric)
	if err != nil {
		return nil, err
	}
	dimensions, err := loadAll[domain.Dimension](ctx, loader, domain.KindDimension)
	if err != nil {
		return nil, err
	}
	return New(sources, metrics, dimensions)
}

func loadAll[T any](ctx context.Context, loader domain.ConfigLoader, kind domain.Kind) ([]T, error) {
	raw, err := loader.GetAll(ctx, kind)
	if err != nil {
		return nil, fmt.Errorf("load %s definitions: %w", kind, err)
	}
	out := make([]T, 0, len(raw))
	for _, item := range raw {
		switch v := item.(type) {
		case T:
			out = append(out, v)
		case *T:
			out = append(out, *v)
		default:
			return nil, fmt.Errorf("load %s definitions: unexpected type %T", kind, item)
		}
	}
	return out, nil
}

// Lookup returns the definition of the given kind, as a *domain.Source,
// *domain.Metric or *domain.Dimension.
func (r *Registry) Lookup(kind domain.Kind, name string) (any, error) {
	switch kind {
	case domain.KindSource:
		return r.Source(name)
	case domain.KindMetric:
		return r.Metric(name)
	case domain.KindDimension:
		return r.Dimension(name)
	default:
		return nil, domain.ErrValidation("unknown definition kind %q", kind)
	}
}

// Source returns the named source.
func (r *Registry) Source(name string) (*domain.Source, error) {
	if s, ok := r.sources[name]; ok {
		return s, nil
	}
	return nil, domain.ErrNotFound(domain.KindSource, name)
}

// Metric returns the named metric.
func (r *Registry) Metric(name string) (*domain.Metric, error) {
	if m, ok := r.metrics[name]; ok {
		return m, nil
	}
	return nil, domain.ErrNotFound(domain.KindMetric, name)
}

// Dimension returns the named dimension.
func (r *Registry) Dimension(name string) (*domain.Dimension, error) {
	if d, ok := r.dimensions[name]; ok {
		return d, nil
	}
	return nil, domain.ErrNotFound(domain.KindDimension, name)
}

// List returns the sorted names of every definition of kind.
func (r *Registry) List(kind domain.Kind) []string {
	var names []string
	switch kind {
	case domain.KindSource:
		names = keys(r.sources)
	case domain.KindMetric:
		names = keys(r.metrics)
	case domain.KindDimension:
		names = keys(r.dimensions)
	}
	return names
}

// Sources returns all sources sorted by name.
func (r *Registry) Sources() []domain.Source {
	out := make([]domain.Source, 0, len(r.sources))
	for _, n := range keys(r.sources) {
		out = append(out, *r.sources[n])
	}
	return out
}

// Metrics returns all metrics sorted by name.
func (r *Registry) Metrics() []domain.Metric {
	out := make([]domain.Metric, 0, len(r.metrics))
	for _, n := range keys(r.metrics) {
		out = append(out, *r.metrics[n])
	}
	return out
}

// Dimensions returns all dimensions sorted by name.
func (r *Registry) Dimensions() []domain.Dimension {
	out := make([]domain.Dimension, 0, len(r.dimensions))
	for _, n := range keys(r.dimensions) {
		out = append(out, *r.dimensions[n])
	}
	return out
}

// IsNative reports whether source can evaluate dimension itself.
func (r *Registry) IsNative(dimension, source string) bool {
	return r.native[source][dimension]
}

// NativeDimensions returns the sorted dimension names native to source.
func (r *Registry) NativeDimensions(source string) []string {
	return keys(r.native[source])
}

// ConnectionNames returns the distinct connection names referenced by sources.
func (r *Registry) ConnectionNames() []string {
	set := make(map[string]bool)
	for _, s := range r.sources {
		set[s.ConnectionName] = true
	}
	return keys(set)
}

// Schema describes, per source, its native dimensions, its metrics and its
// time dimension.
func (r *Registry) Schema() []domain.SourceSchema {
	bySource := make(map[string][]string)
	for _, m := range r.metrics {
		bySource[m.SourceName] = append(bySource[m.SourceName], m.Name)
	}
	out := make([]domain.SourceSchema, 0, len(r.sources))
	for _, name := range keys(r.sources) {
		metrics := bySource[name]
		sort.Strings(metrics)
		if metrics == nil {
			metrics = []string{}
		}
		out = append(out, domain.SourceSchema{
			Source:        name,
			Dimensions:    r.NativeDimensions(name),
			Metrics:       metrics,
			TimeDimension: r.sources[name].TimeColumn(),
		})
	}
	return out
}

func keys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
