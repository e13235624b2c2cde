// Package executor runs a plan's atomic queries concurrently against their
// connections.
package executor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"mimir/internal/domain"
	"mimir/internal/planner"
)

// DefaultMaxConcurrency bounds in-flight atomic queries when no limit is set.
const DefaultMaxConcurrency = 8

// Resolver maps a connection name to a Connection.
type Resolver interface {
	Resolve(ctx context.Context, connectionName string) (domain.Connection, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, connectionName string) (domain.Connection, error)

// Resolve implements Resolver.
func (f ResolverFunc) Resolve(ctx context.Context, connectionName string) (domain.Connection, error) {
	return f(ctx, connectionName)
}

// Executor fans atomic queries out with bounded concurrency. The first
// failure cancels the rest; no partial result is ever returned.
type Executor struct {
	maxConcurrency int
	metrics        *Metrics
	logger         *slog.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithMaxConcurrency sets the in-flight limit. Values below 1 are ignored.
func WithMaxConcurrency(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.maxConcurrency = n
		}
	}
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *Metrics) Option {
	return func(e *Executor) { e.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// New creates an Executor.
func New(opts ...Option) *Executor {
	e := &Executor{
		maxConcurrency: DefaultMaxConcurrency,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "executor")
	return e
}

// Execute runs every atomic query of plan and returns the results keyed by
// source name. Errors are *domain.ExecutionError.
func (e *Executor) Execute(ctx context.Context, plan *planner.Plan, resolver Resolver) (map[string]*domain.ResultTable, error) {
	var (
		mu      sync.Mutex
		results = make(map[string]*domain.ResultTable, len(plan.Queries))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.maxConcurrency)

	for i := range plan.Queries {
		q := plan.Queries[i]
		g.Go(func() error {
			table, err := e.run(gctx, q, resolver)
			if err != nil {
				return err
			}
			mu.Lock()
			results[q.Source] = table
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		// A parent deadline or cancel wins over whichever sibling noticed it.
		if ctxErr := ctx.Err(); ctxErr != nil {
			var execErr *domain.ExecutionError
			if !errors.As(err, &execErr) || !errors.Is(execErr.Err, ctxErr) {
				err = &domain.ExecutionError{Source: sourceOf(err), Err: ctxErr}
			}
		}
		return nil, err
	}
	return results, nil
}

func (e *Executor) run(ctx context.Context, q planner.AtomicQuery, resolver Resolver) (*domain.ResultTable, error) {
	if err := ctx.Err(); err != nil {
		return nil, &domain.ExecutionError{Source: q.Source, SQL: q.SQL, Err: err}
	}

	conn, err := resolver.Resolve(ctx, q.ConnectionName)
	if err != nil {
		e.observe(q.Source, "error", 0)
		return nil, &domain.ExecutionError{Source: q.Source, SQL: q.SQL, Err: err}
	}

	if e.metrics != nil {
		e.metrics.inFlight.Inc()
		defer e.metrics.inFlight.Dec()
	}
	start := time.Now()
	table, err := conn.Execute(ctx, q.SQL)
	elapsed := time.Since(start)
	if err != nil {
		e.observe(q.Source, "error", elapsed)
		e.logger.Warn("atomic query failed", "source", q.Source, "duration", elapsed, "error", err)
		return nil, &domain.ExecutionError{Source: q.Source, SQL: q.SQL, Err: err}
	}
	if table == nil {
		table = &domain.ResultTable{}
	}
	e.observe(q.Source, "ok", elapsed)
	e.logger.Debug("atomic query done", "source", q.Source, "rows", table.NumRows(), "duration", elapsed)
	return table, nil
}

func (e *Executor) observe(source, status string, elapsed time.Duration) {
	if e.metrics == nil {
		return
	}
	e.metrics.queries.WithLabelValues(source, status).Inc()
	if elapsed > 0 {
		e.metrics.duration.WithLabelValues(source).Observe(elapsed.Seconds())
	}
}

func sourceOf(err error) string {
	var execErr *domain.ExecutionError
	if errors.As(err, &execErr) {
		return execErr.Source
	}
	return ""
}
