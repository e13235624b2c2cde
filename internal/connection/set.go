package connection

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"mimir/internal/domain"
)

// Factory opens a connection from its descriptor. New is the default.
type Factory func(name string, desc *domain.ConnectionDescriptor, opts Options) (domain.Connection, error)

// Set lazily opens and caches one connection per connection name. It
// satisfies executor.Resolver.
type Set struct {
	descriptors map[string]*domain.ConnectionDescriptor
	opts        Options
	factory     Factory

	mu     sync.Mutex
	conns  map[string]domain.Connection
	closed bool
}

// NewSet creates a Set over descriptors. A nil factory means New.
func NewSet(descriptors map[string]*domain.ConnectionDescriptor, opts Options, factory Factory) *Set {
	if factory == nil {
		factory = New
	}
	if descriptors == nil {
		descriptors = map[string]*domain.ConnectionDescriptor{}
	}
	return &Set{
		descriptors: descriptors,
		opts:        opts,
		factory:     factory,
		conns:       make(map[string]domain.Connection),
	}
}

// Resolve returns the cached connection for name, opening it on first use.
func (s *Set) Resolve(_ context.Context, name string) (domain.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, errors.New("connection set is closed")
	}
	if conn, ok := s.conns[name]; ok {
		return conn, nil
	}
	desc, ok := s.descriptors[name]
	if !ok || desc == nil {
		return nil, fmt.Errorf("no connection descriptor for %q", name)
	}
	conn, err := s.factory(name, desc, s.opts)
	if err != nil {
		return nil, err
	}
	s.conns[name] = conn
	return conn, nil
}

// Names returns the configured connection names, sorted.
func (s *Set) Names() []string {
	names := make([]string, 0, len(s.descriptors))
	for n := range s.descriptors {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Open reports how many connections have been opened so far.
func (s *Set) Open() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Close closes every opened connection. Later Resolve calls fail.
func (s *Set) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	var errs []error
	for name, conn := range s.conns {
		if err := conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %q: %w", name, err))
		}
	}
	s.conns = map[string]domain.Connection{}
	return errors.Join(errs...)
}
