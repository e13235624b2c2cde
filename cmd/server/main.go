// Package main is the entry point for the mimir server binary. It serves the
// HTTP API, the PG-wire listener and, when enabled, Arrow Flight SQL.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"mimir/internal/app"
	"mimir/internal/config"
	"mimir/pkg/cli"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if err := config.LoadDotEnv(".env"); err != nil {
		return fmt.Errorf("load .env: %w", err)
	}
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)
	for _, w := range cfg.Warnings {
		logger.Warn(w)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	a, err := app.New(ctx, app.Deps{Cfg: cfg, Logger: logger, Version: cli.Version()})
	if err != nil {
		return err
	}
	defer a.Close() //nolint:errcheck

	for _, h := range connectHints(cfg) {
		logger.Info("try", h.frontEnd, h.command)
	}
	return a.Run(ctx)
}

type hint struct {
	frontEnd string
	command  string
}

// connectHints returns one ready-to-paste client command per enabled front
// end.
func connectHints(cfg *config.Config) []hint {
	hints := []hint{{
		frontEnd: "http",
		command:  fmt.Sprintf("curl http://%s/v1/schema", dialAddr(cfg.ListenAddr, "8090")),
	}}
	if cfg.PGEnabled() {
		host, port, _ := net.SplitHostPort(dialAddr(cfg.PGListen, "5432"))
		hints = append(hints, hint{
			frontEnd: "pgwire",
			command:  fmt.Sprintf("psql -h %s -p %s -c 'SELECT * FROM mimir.metrics LIMIT 0'", host, port),
		})
	}
	if cfg.FlightEnabled() {
		hints = append(hints, hint{
			frontEnd: "flightsql",
			command:  "grpc://" + dialAddr(cfg.FlightListen, "31337"),
		})
	}
	return hints
}

// dialAddr turns a listen address into a host:port a local client can dial.
// Wildcard and missing hosts become localhost.
func dialAddr(listenAddr, defaultPort string) string {
	addr := strings.TrimSpace(listenAddr)
	if addr == "" {
		return net.JoinHostPort("localhost", defaultPort)
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return net.JoinHostPort(addr, defaultPort)
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "localhost"
	}
	return net.JoinHostPort(host, port)
}
