package cli

import (
	"errors"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"mimir/internal/domain"
	"mimir/internal/engine"
	"mimir/internal/loader"
)

func newValidateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check definitions and connection secrets without querying",
		Long: "Loads every source, metric and dimension plus the secret of every referenced " +
			"connection, and reports all violations at once.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := opts.cfg
			ldr, err := loader.Open(cmd.Context(), cfg.ConfigPath, cfg.SecretsPath, cfg.StoreOptions())
			if err != nil {
				return err
			}
			defer ldr.Close() //nolint:errcheck

			st, err := engine.LoadState(cmd.Context(), ldr, engine.LoadOptions{SkipSecrets: cfg.SecretsPath == ""})
			var ce *domain.ConfigError
			if errors.As(err, &ce) {
				if opts.output == "json" {
					if err := printJSON(cmd.OutOrStdout(), map[string]any{"valid": false, "violations": ce.Violations}); err != nil {
						return err
					}
				} else {
					fmt.Fprintf(cmd.ErrOrStderr(), "%s %d violation(s):\n", color.RedString("Configuration has"), len(ce.Violations))
					for _, v := range ce.Violations {
						fmt.Fprintf(cmd.ErrOrStderr(), "  - %s\n", v)
					}
				}
				return errors.New("configuration is invalid")
			}
			if err != nil {
				return err
			}
			defer st.Connections.Close() //nolint:errcheck

			reg := st.Registry
			counts := map[string]int{
				"sources":    len(reg.Sources()),
				"metrics":    len(reg.Metrics()),
				"dimensions": len(reg.Dimensions()),
			}
			if opts.output == "json" {
				return printJSON(cmd.OutOrStdout(), map[string]any{"valid": true, "counts": counts})
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s %d sources, %d metrics, %d dimensions.\n",
				color.GreenString("Configuration is valid:"), counts["sources"], counts["metrics"], counts["dimensions"])
			return err
		},
	}
}
