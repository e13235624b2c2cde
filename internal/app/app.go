// Package app wires the loader, engine and front ends into a running
// server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"mimir/internal/api"
	"mimir/internal/config"
	"mimir/internal/connection"
	"mimir/internal/engine"
	"mimir/internal/executor"
	"mimir/internal/flightsql"
	"mimir/internal/loader"
	"mimir/internal/middleware"
	"mimir/internal/pgwire"
)

// ShutdownTimeout bounds graceful shutdown of every listener.
const ShutdownTimeout = 10 * time.Second

// Deps holds what main provides.
type Deps struct {
	Cfg     *config.Config
	Logger  *slog.Logger
	Version string
}

// App is the fully wired server.
type App struct {
	Engine   *engine.Engine
	Registry *prometheus.Registry

	cfg       *config.Config
	logger    *slog.Logger
	loader    *loader.Loader
	scheduler *engine.ReloadScheduler
	http      *http.Server
	pg        *pgwire.Server
	flight    *flightsql.Server
}

// New opens the definition stores, loads the initial configuration and
// builds the listeners. Nothing listens until Run.
func New(ctx context.Context, deps Deps) (*App, error) {
	cfg := deps.Cfg
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	var loaderOpts []loader.Option
	loaderOpts = append(loaderOpts, loader.WithLogger(logger))
	if cfg.ConnectionHost != "" {
		loaderOpts = append(loaderOpts, loader.WithHostOverride(cfg.ConnectionHost))
	}
	ldr, err := loader.Open(ctx, cfg.ConfigPath, cfg.SecretsPath, cfg.StoreOptions(), loaderOpts...)
	if err != nil {
		return nil, err
	}

	exec := executor.New(
		executor.WithMaxConcurrency(cfg.MaxConcurrency),
		executor.WithMetrics(executor.NewMetrics(reg)),
		executor.WithLogger(logger),
	)
	eng, err := engine.New(ctx, ldr,
		engine.WithLogger(logger),
		engine.WithExecutor(exec),
		engine.WithMetrics(engine.NewMetrics(reg)),
		engine.WithConnectionOptions(connection.Options{Logger: logger}),
		engine.WithQueryTimeout(cfg.QueryTimeout),
	)
	if err != nil {
		_ = ldr.Close()
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	a := &App{Engine: eng, Registry: reg, cfg: cfg, logger: logger, loader: ldr}

	if cfg.ReloadSchedule != "" {
		a.scheduler, err = engine.NewReloadScheduler(eng, cfg.ReloadSchedule, time.Minute, logger)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
	}

	handler := api.NewHandler(eng, logger)
	a.http = &http.Server{
		Addr: cfg.ListenAddr,
		Handler: api.NewRouter(handler, api.RouterConfig{
			Logger: logger,
			RateLimit: middleware.RateLimitConfig{
				RequestsPerSecond: cfg.RateLimitRPS,
				Burst:             cfg.RateLimitBurst,
			},
			CORSAllowedOrigins: cfg.CORSAllowedOrigins,
			Gatherer:           reg,
		}),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	if cfg.PGEnabled() {
		a.pg, err = pgwire.NewServer(cfg.PGListen, eng, pgwire.Options{
			Logger:          logger,
			RequirePassword: cfg.PGRequirePassword,
		})
		if err != nil {
			_ = a.Close()
			return nil, err
		}
	}
	if cfg.FlightEnabled() {
		a.flight, err = flightsql.NewServer(cfg.FlightListen, eng, logger, deps.Version)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
	}
	return a, nil
}

// Run serves until ctx is cancelled or a listener fails, then shuts every
// listener down.
func (a *App) Run(ctx context.Context) error {
	if a.pg != nil {
		if err := a.pg.Start(); err != nil {
			return err
		}
	}
	if a.flight != nil {
		if err := a.flight.Start(); err != nil {
			a.shutdown()
			return err
		}
	}
	if a.scheduler != nil {
		a.scheduler.Start()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("HTTP API listening", "addr", a.cfg.ListenAddr)
		if err := a.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutting down")
		a.shutdown()
		return nil
	})
	return g.Wait()
}

func (a *App) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()

	if a.scheduler != nil {
		a.scheduler.Stop()
	}
	if err := a.http.Shutdown(ctx); err != nil {
		a.logger.Warn("http shutdown", "error", err)
	}
	if a.pg != nil {
		if err := a.pg.Shutdown(ctx); err != nil {
			a.logger.Warn("pgwire shutdown", "error", err)
		}
	}
	if a.flight != nil {
		if err := a.flight.Shutdown(ctx); err != nil {
			a.logger.Warn("flight sql shutdown", "error", err)
		}
	}
}

// Close releases the engine's connections and the definition stores.
func (a *App) Close() error {
	return errors.Join(a.Engine.Close(), a.loader.Close())
}
