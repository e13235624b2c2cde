package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"mimir/internal/domain"
)

// Compile-time check.
var _ domain.Connection = (*BreakerConnection)(nil)

// BreakerConnection fails fast while its backend keeps failing.
type BreakerConnection struct {
	name  string
	inner domain.Connection
	cb    *gobreaker.CircuitBreaker[*domain.ResultTable]
}

// WithBreaker wraps inner in a circuit breaker that opens after
// opts.BreakerFailures consecutive failures. Cancelled queries do not count.
func WithBreaker(name string, inner domain.Connection, opts Options, logger *slog.Logger) *BreakerConnection {
	if logger == nil {
		logger = slog.Default()
	}
	failures := opts.BreakerFailures
	if failures == 0 {
		failures = 5
	}
	timeout := opts.BreakerTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	cb := gobreaker.NewCircuitBreaker[*domain.ResultTable](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", "from", from.String(), "to", to.String())
		},
	})
	return &BreakerConnection{name: name, inner: inner, cb: cb}
}

// Execute runs sql through the breaker.
func (b *BreakerConnection) Execute(ctx context.Context, sql string) (*domain.ResultTable, error) {
	table, err := b.cb.Execute(func() (*domain.ResultTable, error) {
		return b.inner.Execute(ctx, sql)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("connection %q unavailable: %w", b.name, err)
	}
	return table, err
}

// State reports the breaker state.
func (b *BreakerConnection) State() gobreaker.State { return b.cb.State() }

// Close closes the wrapped connection.
func (b *BreakerConnection) Close() error { return b.inner.Close() }
