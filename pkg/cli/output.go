package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"mimir/internal/domain"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printTable writes header and rows as aligned columns.
func printTable(w io.Writer, header []string, rows [][]string) error {
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, strings.ToUpper(strings.Join(header, "\t")))
	for _, row := range rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	return tw.Flush()
}

// printResult renders a result table in the requested format. JSON output
// is an array of objects keyed by column name.
func printResult(w io.Writer, format string, table *domain.ResultTable) error {
	if format == "json" {
		records := make([]map[string]any, table.NumRows())
		for i := range records {
			rec := make(map[string]any, len(table.Columns))
			for _, c := range table.Columns {
				rec[c.Name] = c.Values[i]
			}
			records[i] = rec
		}
		return printJSON(w, records)
	}

	rows := make([][]string, table.NumRows())
	for i := range rows {
		row := table.Row(i)
		cells := make([]string, len(row))
		for j, v := range row {
			cells[j] = formatValue(v)
		}
		rows[i] = cells
	}
	if err := printTable(w, table.ColumnNames(), rows); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "(%d rows)\n", table.NumRows())
	return err
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case time.Time:
		if x.Hour() == 0 && x.Minute() == 0 && x.Second() == 0 && x.Nanosecond() == 0 {
			return x.Format(time.DateOnly)
		}
		return x.Format(time.DateTime)
	case float64:
		return fmt.Sprintf("%g", x)
	default:
		return fmt.Sprint(x)
	}
}
