package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"mimir/internal/domain"
	"mimir/internal/mimirsql"
)

type queryFlags struct {
	metrics     []string
	dimensions  []string
	filters     []string
	start       string
	end         string
	granularity string
	orderBy     []string
	limit       int
	dryRun      bool
	sql         string
}

func newQueryCmd(opts *options) *cobra.Command {
	qf := &queryFlags{}

	cmd := &cobra.Command{
		Use:   "query",
		Short: "Answer an inquiry",
		Long: "Answers an inquiry built from flags, or from a SELECT over mimir.metrics when --sql is given.\n" +
			"Runs against --host when set, otherwise against the local definitions.",
		Example: `  mimir query -m movies_rented -d dim_rental_category --granularity MONTH
  mimir query -m movies_rented -f "dim_rental_category = 'Action'" --dry-run
  mimir query --sql "SELECT AGG(movies_rented), dim_rental_category FROM mimir.metrics GROUP BY dim_rental_category"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var (
				inq *domain.Inquiry
				tr  *mimirsql.Translation
				err error
			)
			if qf.sql != "" {
				tr, err = mimirsql.Translate(qf.sql)
				if err != nil {
					return err
				}
				if tr.Kind != mimirsql.KindInquiry {
					return fmt.Errorf("--sql must select from mimir.metrics, got a %s statement", tr.Kind)
				}
				inq = tr.Inquiry
				inq.DryRun = qf.dryRun
			} else {
				inq, err = qf.inquiry(cmd)
				if err != nil {
					return err
				}
			}

			be, err := openBackend(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer be.Close() //nolint:errcheck

			out := cmd.OutOrStdout()
			if inq.DryRun {
				queries, err := be.Compile(cmd.Context(), inq)
				if err != nil {
					return err
				}
				if opts.output == "json" {
					return printJSON(out, queries)
				}
				for _, q := range queries {
					fmt.Fprintf(out, "-- %s\n%s\n\n", q.Source, strings.TrimSpace(q.SQL))
				}
				return nil
			}

			table, err := be.Inquiry(cmd.Context(), inq)
			if err != nil {
				return err
			}
			if tr != nil {
				if table, err = tr.Project(table); err != nil {
					return err
				}
			}
			return printResult(out, opts.output, table)
		},
	}

	f := cmd.Flags()
	f.StringSliceVarP(&qf.metrics, "metric", "m", nil, "Metric to compute (repeatable)")
	f.StringSliceVarP(&qf.dimensions, "dimension", "d", nil, "Dimension to group by (repeatable)")
	f.StringArrayVarP(&qf.filters, "filter", "f", nil, "SQL predicate over dimensions (repeatable)")
	f.StringVar(&qf.start, "start", "", "Inclusive start date (YYYY-MM-DD)")
	f.StringVar(&qf.end, "end", "", "Exclusive end date (YYYY-MM-DD)")
	f.StringVar(&qf.granularity, "granularity", "", "Time bucket: TIME, DATE, MONTH, YEAR")
	f.StringSliceVar(&qf.orderBy, "order-by", nil, "Output column to order by, optionally suffixed with ' DESC'")
	f.IntVar(&qf.limit, "limit", 0, "Maximum number of rows (0 = unlimited)")
	f.BoolVar(&qf.dryRun, "dry-run", false, "Print the per-source SQL instead of executing it")
	f.StringVar(&qf.sql, "sql", "", "SELECT over mimir.metrics to translate into an inquiry")
	cmd.MarkFlagsMutuallyExclusive("sql", "metric")
	return cmd
}

func (qf *queryFlags) inquiry(cmd *cobra.Command) (*domain.Inquiry, error) {
	if len(qf.metrics) == 0 {
		return nil, fmt.Errorf("at least one --metric is required")
	}
	inq := &domain.Inquiry{
		Metrics:     qf.metrics,
		Dimensions:  qf.dimensions,
		Filters:     qf.filters,
		DryRun:      qf.dryRun,
		StartDate:   qf.start,
		EndDate:     qf.end,
		Granularity: domain.Granularity(strings.ToUpper(qf.granularity)),
		OrderBy:     qf.orderBy,
	}
	if cmd.Flags().Changed("limit") {
		if qf.limit < 0 {
			return nil, fmt.Errorf("--limit must not be negative")
		}
		limit := qf.limit
		inq.Limit = &limit
	}
	return inq, nil
}
