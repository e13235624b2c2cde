package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"mimir/internal/client"
)

func newReloadCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Ask a running server to reload its definitions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := requireHost(opts, "reload"); err != nil {
				return err
			}
			if err := client.New(opts.host).Reload(cmd.Context()); err != nil {
				return err
			}
			if opts.output == "json" {
				return printJSON(cmd.OutOrStdout(), map[string]string{"status": "reloaded"})
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), "Definitions reloaded.")
			return err
		},
	}
}
