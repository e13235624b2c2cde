package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Reloader rebuilds configuration state.
type Reloader interface {
	Reload(ctx context.Context) error
}

// ReloadScheduler reloads configuration on a cron schedule.
type ReloadScheduler struct {
	cron    *cron.Cron
	target  Reloader
	timeout time.Duration
	logger  *slog.Logger
}

// NewReloadScheduler validates spec (standard cron syntax or descriptors
// such as "@every 5m") and registers the reload job. Each run is bounded by
// timeout when positive.
func NewReloadScheduler(target Reloader, spec string, timeout time.Duration, logger *slog.Logger) (*ReloadScheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &ReloadScheduler{
		cron:    cron.New(),
		target:  target,
		timeout: timeout,
		logger:  logger.With("component", "reload-scheduler"),
	}
	if _, err := s.cron.AddFunc(spec, s.run); err != nil {
		return nil, fmt.Errorf("invalid reload schedule %q: %w", spec, err)
	}
	return s, nil
}

func (s *ReloadScheduler) run() {
	ctx := context.Background()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	if err := s.target.Reload(ctx); err != nil {
		s.logger.Warn("scheduled reload failed", "error", err)
	}
}

// Start starts the scheduler.
func (s *ReloadScheduler) Start() {
	s.cron.Start()
	s.logger.Info("reload scheduler started")
}

// Stop stops the scheduler and waits for a running reload to finish.
func (s *ReloadScheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("reload scheduler stopped")
}
