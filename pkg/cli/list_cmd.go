package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"mimir/internal/domain"
)

func newListCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:       "list <sources|metrics|dimensions>",
		Short:     "List definitions of one kind",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"sources", "metrics", "dimensions"},
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := domain.ParseKind(args[0])
			if err != nil {
				return err
			}
			be, err := openBackend(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer be.Close() //nolint:errcheck

			defs, err := be.Definitions(cmd.Context(), kind)
			if err != nil {
				return err
			}
			if opts.output == "json" {
				return printJSON(cmd.OutOrStdout(), defs)
			}

			var header []string
			var rows [][]string
			switch d := defs.(type) {
			case []domain.Source:
				header = []string{"name", "connection", "time_col", "dimensions"}
				for _, s := range d {
					rows = append(rows, []string{s.Name, s.ConnectionName, s.TimeColumn(), strings.Join(s.Dimensions, ",")})
				}
			case []domain.Metric:
				header = []string{"name", "source", "sql"}
				for _, m := range d {
					rows = append(rows, []string{m.Name, m.SourceName, oneLine(m.SQL)})
				}
			case []domain.Dimension:
				header = []string{"name", "source", "sql"}
				for _, dim := range d {
					rows = append(rows, []string{dim.Name, dim.SourceName, oneLine(dim.SQL)})
				}
			}
			return printTable(cmd.OutOrStdout(), header, rows)
		},
	}
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
