package cli

import (
	"strings"

	"github.com/spf13/cobra"
)

func newSchemaCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Show which metrics and dimensions each source answers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			be, err := openBackend(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer be.Close() //nolint:errcheck

			schema, err := be.Schema(cmd.Context())
			if err != nil {
				return err
			}
			if opts.output == "json" {
				return printJSON(cmd.OutOrStdout(), schema)
			}
			rows := make([][]string, len(schema))
			for i, s := range schema {
				rows[i] = []string{s.Source, s.TimeDimension, strings.Join(s.Metrics, ","), strings.Join(s.Dimensions, ",")}
			}
			return printTable(cmd.OutOrStdout(), []string{"source", "time", "metrics", "dimensions"}, rows)
		},
	}
}
