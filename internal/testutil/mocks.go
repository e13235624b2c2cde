// Package testutil provides shared fakes of domain interfaces and the
// rentals/payments definition fixtures used across package tests.
package testutil

import (
	"context"
	"sync"
	"sync/atomic"

	"mimir/internal/domain"
)

// === Connection Mock ===

// MockConnection implements domain.Connection and counts calls.
type MockConnection struct {
	ExecuteFn func(ctx context.Context, sql string) (*domain.ResultTable, error)

	calls  atomic.Int64
	closed atomic.Bool
	mu     sync.Mutex
	sqls   []string
}

// Execute implements domain.Connection.
func (m *MockConnection) Execute(ctx context.Context, sql string) (*domain.ResultTable, error) {
	m.calls.Add(1)
	m.mu.Lock()
	m.sqls = append(m.sqls, sql)
	m.mu.Unlock()
	if m.ExecuteFn != nil {
		return m.ExecuteFn(ctx, sql)
	}
	panic("unexpected call to MockConnection.Execute")
}

// Close implements domain.Connection.
func (m *MockConnection) Close() error {
	m.closed.Store(true)
	return nil
}

// Calls returns how many times Execute was invoked.
func (m *MockConnection) Calls() int { return int(m.calls.Load()) }

// Closed reports whether Close was called.
func (m *MockConnection) Closed() bool { return m.closed.Load() }

// SQL returns every statement received, in arrival order.
func (m *MockConnection) SQL() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.sqls...)
}

// === Config Loader Mock ===

// StaticLoader implements domain.ConfigLoader over in-memory definitions.
type StaticLoader struct {
	Sources    []domain.Source
	Metrics    []domain.Metric
	Dimensions []domain.Dimension
	Secrets    map[string]*domain.ConnectionDescriptor
	GetAllErr  error
}

// Get implements domain.ConfigLoader.
func (l *StaticLoader) Get(_ context.Context, kind domain.Kind, name string) (any, error) {
	switch kind {
	case domain.KindSource:
		for _, s := range l.Sources {
			if s.Name == name {
				return s, nil
			}
		}
	case domain.KindMetric:
		for _, m := range l.Metrics {
			if m.Name == name {
				return m, nil
			}
		}
	case domain.KindDimension:
		for _, d := range l.Dimensions {
			if d.Name == name {
				return d, nil
			}
		}
	}
	return nil, domain.ErrNotFound(kind, name)
}

// GetAll implements domain.ConfigLoader.
func (l *StaticLoader) GetAll(_ context.Context, kind domain.Kind) ([]any, error) {
	if l.GetAllErr != nil {
		return nil, l.GetAllErr
	}
	var out []any
	switch kind {
	case domain.KindSource:
		for _, s := range l.Sources {
			out = append(out, s)
		}
	case domain.KindMetric:
		for _, m := range l.Metrics {
			out = append(out, m)
		}
	case domain.KindDimension:
		for _, d := range l.Dimensions {
			out = append(out, d)
		}
	}
	return out, nil
}

// GetSecret implements domain.ConfigLoader.
func (l *StaticLoader) GetSecret(_ context.Context, name string) (*domain.ConnectionDescriptor, error) {
	if d, ok := l.Secrets[name]; ok {
		c := *d
		return &c, nil
	}
	return nil, nil
}
