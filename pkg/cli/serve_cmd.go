package cli

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"mimir/internal/app"
)

func newServeCmd(opts *options) *cobra.Command {
	var listen, pgListen, flightListen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP, PG-wire and Flight SQL front ends",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := opts.cfg
			if cmd.Flags().Changed("listen") {
				cfg.ListenAddr = listen
			}
			if cmd.Flags().Changed("pg-listen") {
				cfg.PGListen = pgListen
			}
			if cmd.Flags().Changed("flight-listen") {
				cfg.FlightListen = flightListen
			}

			logger := slog.Default()
			for _, w := range cfg.Warnings {
				logger.Warn(w)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := app.New(ctx, app.Deps{Cfg: cfg, Logger: logger, Version: version})
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck
			return a.Run(ctx)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "HTTP listen address (env LISTEN_ADDR)")
	cmd.Flags().StringVar(&pgListen, "pg-listen", "", "PG-wire listen address, or 'off' (env PG_LISTEN_ADDR)")
	cmd.Flags().StringVar(&flightListen, "flight-listen", "", "Flight SQL listen address, or 'off' (env FLIGHT_SQL_LISTEN_ADDR)")
	return cmd
}
