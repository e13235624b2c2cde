// Package engine owns the active configuration state and runs inquiries
// through planning, execution and combining.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"mimir/internal/combiner"
	"mimir/internal/connection"
	"mimir/internal/domain"
	"mimir/internal/executor"
	"mimir/internal/planner"
	"mimir/internal/registry"
)

// DefaultCloseGrace is how long a replaced state keeps its connections open
// for inquiries that started before the swap.
const DefaultCloseGrace = time.Minute

// Result is the outcome of one inquiry. Dry runs carry Queries and no Table.
type Result struct {
	Table   *domain.ResultTable
	Queries []domain.CompiledQuery
	// Version is the state generation the inquiry ran against.
	Version uint64
}

// Engine is the explicit context every inquiry runs in. It is safe for
// concurrent use; Reload swaps the state atomically and never mutates a
// state an inquiry already holds.
type Engine struct {
	loader   domain.ConfigLoader
	executor *executor.Executor
	combiner *combiner.Combiner
	metrics  *Metrics
	logger   *slog.Logger

	loadOpts     LoadOptions
	closeGrace   time.Duration
	queryTimeout time.Duration

	provided map[string]domain.Connection

	state    atomic.Pointer[State]
	reloadMu sync.Mutex
	version  uint64

	retireMu sync.Mutex
	retiring map[*State]*time.Timer
	closed   bool
	retired  sync.WaitGroup
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithExecutor replaces the default executor.
func WithExecutor(x *executor.Executor) Option {
	return func(e *Engine) { e.executor = x }
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithConnection serves name from conn in every state instead of opening it
// from a secret. The engine closes conn on Close.
func WithConnection(name string, conn domain.Connection) Option {
	return func(e *Engine) { e.provided[name] = conn }
}

// WithConnectionOptions tunes connections opened from secrets.
func WithConnectionOptions(opts connection.Options) Option {
	return func(e *Engine) { e.loadOpts.Connection = opts }
}

// WithConnectionFactory replaces connection.New.
func WithConnectionFactory(f connection.Factory) Option {
	return func(e *Engine) { e.loadOpts.Factory = f }
}

// WithSkipSecrets loads definitions without reading secrets.
func WithSkipSecrets() Option {
	return func(e *Engine) { e.loadOpts.SkipSecrets = true }
}

// WithCloseGrace sets how long replaced connections stay open.
func WithCloseGrace(d time.Duration) Option {
	return func(e *Engine) { e.closeGrace = d }
}

// WithQueryTimeout bounds execution plus combining of one inquiry. Zero
// means no bound beyond the caller's context.
func WithQueryTimeout(d time.Duration) Option {
	return func(e *Engine) { e.queryTimeout = d }
}

// New loads the initial state through loader.
func New(ctx context.Context, loader domain.ConfigLoader, opts ...Option) (*Engine, error) {
	e := &Engine{
		loader:     loader,
		logger:     slog.Default(),
		closeGrace: DefaultCloseGrace,
		provided:   make(map[string]domain.Connection),
		retiring:   make(map[*State]*time.Timer),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "engine")
	if e.executor == nil {
		e.executor = executor.New(executor.WithLogger(e.logger))
	}
	if e.loadOpts.Connection.Logger == nil {
		e.loadOpts.Connection.Logger = e.logger
	}
	e.loadOpts.Provided = make(map[string]bool, len(e.provided))
	for name := range e.provided {
		e.loadOpts.Provided[name] = true
	}

	st, err := e.load(ctx)
	if err != nil {
		return nil, err
	}

	cmb, err := combiner.New(e.logger)
	if err != nil {
		_ = st.Connections.Close()
		return nil, err
	}
	e.combiner = cmb
	e.state.Store(st)
	e.logger.Info("configuration loaded",
		"version", st.Version,
		"sources", len(st.Registry.Sources()),
		"metrics", len(st.Registry.Metrics()),
		"dimensions", len(st.Registry.Dimensions()))
	return e, nil
}

func (e *Engine) load(ctx context.Context) (*State, error) {
	st, err := LoadState(ctx, e.loader, e.loadOpts)
	if err != nil {
		return nil, err
	}
	e.version++
	st.Version = e.version
	if e.metrics != nil {
		e.metrics.version.Set(float64(st.Version))
	}
	return st, nil
}

// State returns the active state.
func (e *Engine) State() *State {
	return e.state.Load()
}

// Registry returns the active registry.
func (e *Engine) Registry() *registry.Registry {
	return e.state.Load().Registry
}

// Schema describes what each source of the active registry can answer.
func (e *Engine) Schema() []domain.SourceSchema {
	return e.Registry().Schema()
}

// Reload builds a new state and swaps it in. On failure the active state is
// kept and the error, typically a *domain.ConfigError, is returned.
func (e *Engine) Reload(ctx context.Context) error {
	e.reloadMu.Lock()
	defer e.reloadMu.Unlock()

	st, err := e.load(ctx)
	if err != nil {
		e.countReload("error")
		e.logger.Warn("configuration reload failed; keeping active state", "error", err)
		return err
	}

	old := e.state.Swap(st)
	e.countReload("ok")
	e.logger.Info("configuration reloaded", "version", st.Version, "previous", old.Version)
	e.retire(old)
	return nil
}

// retire closes old's connections once in-flight inquiries had time to
// finish. Close cuts the wait short.
func (e *Engine) retire(old *State) {
	if old == nil {
		return
	}
	e.retireMu.Lock()
	defer e.retireMu.Unlock()
	if e.closed {
		e.closeRetired(old)
		return
	}
	e.retired.Add(1)
	e.retiring[old] = time.AfterFunc(e.closeGrace, func() {
		defer e.retired.Done()
		e.retireMu.Lock()
		_, pending := e.retiring[old]
		delete(e.retiring, old)
		e.retireMu.Unlock()
		if pending {
			e.closeRetired(old)
		}
	})
}

func (e *Engine) closeRetired(old *State) {
	if err := old.Connections.Close(); err != nil {
		e.logger.Warn("closing retired connections", "version", old.Version, "error", err)
	}
}

func (e *Engine) countReload(status string) {
	if e.metrics != nil {
		e.metrics.reloads.WithLabelValues(status).Inc()
	}
}

// Plan builds the plan for inq against the active registry without any I/O.
func (e *Engine) Plan(inq *domain.Inquiry) (*planner.Plan, error) {
	return planner.Build(inq, e.Registry())
}

// Compile returns the per-source SQL for inq, as a dry run does.
func (e *Engine) Compile(inq *domain.Inquiry) ([]domain.CompiledQuery, error) {
	p, err := e.Plan(inq)
	if err != nil {
		return nil, err
	}
	return p.Compiled(), nil
}

// Query answers inq. The state is captured once, so a concurrent Reload does
// not affect this inquiry.
func (e *Engine) Query(ctx context.Context, inq *domain.Inquiry) (*Result, error) {
	start := time.Now()
	st := e.state.Load()

	res, err := e.query(ctx, st, inq)
	e.observe(err, time.Since(start))
	if err != nil {
		return nil, err
	}
	res.Version = st.Version
	return res, nil
}

func (e *Engine) query(ctx context.Context, st *State, inq *domain.Inquiry) (*Result, error) {
	plan, err := planner.Build(inq, st.Registry)
	if err != nil {
		return nil, err
	}
	for _, f := range plan.PartialFilters {
		e.logger.Debug("filter not applied by every source", "filter", f, "skipped_by", plan.SkippedBy(f))
	}
	if inq.DryRun {
		return &Result{Queries: plan.Compiled()}, nil
	}

	if e.queryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.queryTimeout)
		defer cancel()
	}

	results, err := e.executor.Execute(ctx, plan, e.resolver(st))
	if err != nil {
		return nil, err
	}
	table, err := e.combiner.Combine(ctx, results, plan)
	if err != nil {
		return nil, err
	}
	e.logger.Debug("inquiry answered", "version", st.Version, "sources", len(plan.Queries), "rows", table.NumRows())
	return &Result{Table: table}, nil
}

// resolver serves provided connections first, then the state's set.
func (e *Engine) resolver(st *State) executor.Resolver {
	return executor.ResolverFunc(func(ctx context.Context, name string) (domain.Connection, error) {
		if c, ok := e.provided[name]; ok {
			return c, nil
		}
		return st.Connections.Resolve(ctx, name)
	})
}

func (e *Engine) observe(err error, elapsed time.Duration) {
	if e.metrics == nil {
		return
	}
	e.metrics.inquiries.WithLabelValues(statusOf(err)).Inc()
	e.metrics.duration.Observe(elapsed.Seconds())
}

func statusOf(err error) string {
	var (
		pe *domain.PlanningError
		ee *domain.ExecutionError
		ce *domain.CombineError
	)
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &pe):
		return "planning_error"
	case errors.As(err, &ee):
		return "execution_error"
	case errors.As(err, &ce):
		return "combine_error"
	default:
		return "error"
	}
}

// Close closes the active connections, provided connections and the
// combiner. Retired states still inside their grace period are closed
// immediately.
func (e *Engine) Close() error {
	var errs []error
	e.retireMu.Lock()
	e.closed = true
	pending := e.retiring
	e.retiring = nil
	e.retireMu.Unlock()
	for old, timer := range pending {
		if timer.Stop() {
			e.retired.Done()
		}
		if err := old.Connections.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close retired state %d: %w", old.Version, err))
		}
	}
	if st := e.state.Load(); st != nil {
		if err := st.Connections.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	for name, c := range e.provided {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %q: %w", name, err))
		}
	}
	if e.combiner != nil {
		if err := e.combiner.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	e.retired.Wait()
	return errors.Join(errs...)
}
