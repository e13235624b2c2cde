package combiner

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"strings"
	"time"

	"github.com/duckdb/duckdb-go/v2"

	"mimir/internal/domain"
	"mimir/internal/mimirsql"
)

// columnKind is the DuckDB type a loaded column is stored as.
type columnKind int

const (
	kindVarchar columnKind = iota
	kindBigint
	kindDouble
	kindBoolean
	kindTimestamp
	kindDate
)

func (k columnKind) sqlType() string {
	switch k {
	case kindBigint:
		return "BIGINT"
	case kindDouble:
		return "DOUBLE"
	case kindBoolean:
		return "BOOLEAN"
	case kindTimestamp:
		return "TIMESTAMP"
	case kindDate:
		return "DATE"
	default:
		return "VARCHAR"
	}
}

// inferKind picks a storage type from the column's values. Integers mixed
// with floats widen to DOUBLE; any other mix falls back to VARCHAR. A column
// with no non-NULL value is VARCHAR.
func inferKind(col *domain.Column) columnKind {
	var seen []columnKind
	add := func(k columnKind) {
		for _, s := range seen {
			if s == k {
				return
			}
		}
		seen = append(seen, k)
	}
	for _, v := range col.Values {
		switch v.(type) {
		case nil:
		case int64:
			add(kindBigint)
		case float64:
			add(kindDouble)
		case bool:
			add(kindBoolean)
		case time.Time:
			add(kindTimestamp)
		default:
			add(kindVarchar)
		}
	}

	switch len(seen) {
	case 0:
		return kindVarchar
	case 1:
		if seen[0] == kindTimestamp && strings.EqualFold(col.Type, "DATE") {
			return kindDate
		}
		return seen[0]
	case 2:
		if (seen[0] == kindBigint && seen[1] == kindDouble) || (seen[0] == kindDouble && seen[1] == kindBigint) {
			return kindDouble
		}
	}
	return kindVarchar
}

// convert coerces v to the Go type the appender expects for k.
func convert(v any, k columnKind) any {
	if v == nil {
		return nil
	}
	switch k {
	case kindDouble:
		if i, ok := v.(int64); ok {
			return float64(i)
		}
	case kindVarchar:
		if s, ok := v.(string); ok {
			return s
		}
		if t, ok := v.(time.Time); ok {
			return t.Format(time.RFC3339Nano)
		}
		return fmt.Sprint(v)
	}
	return v
}

// dimensionKinds infers one storage type per plan dimension across every
// result, so join keys compare like with like even when one side is all
// NULL placeholders.
func dimensionKinds(dims []string, tables []*domain.ResultTable) map[string]columnKind {
	kinds := make(map[string]columnKind, len(dims))
	for i, d := range dims {
		var merged domain.Column
		for _, t := range tables {
			col := &t.Columns[i]
			merged.Values = append(merged.Values, col.Values...)
			if merged.Type == "" {
				merged.Type = col.Type
			}
		}
		kinds[d] = inferKind(&merged)
	}
	return kinds
}

// loadTable creates table with the given column names and appends every row
// of data through the DuckDB appender. Columns named in fixed keep that
// type; the rest are inferred.
func loadTable(ctx context.Context, conn *sql.Conn, table string, names []string, data *domain.ResultTable, fixed map[string]columnKind) error {
	kinds := make([]columnKind, len(data.Columns))
	defs := make([]string, len(data.Columns))
	for i := range data.Columns {
		k, ok := fixed[names[i]]
		if !ok {
			k = inferKind(&data.Columns[i])
		}
		kinds[i] = k
		defs[i] = mimirsql.QuoteIdent(names[i]) + " " + k.sqlType()
	}

	ddl := fmt.Sprintf("CREATE TABLE %s (%s)", table, strings.Join(defs, ", "))
	if _, err := conn.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create %s: %w", table, err)
	}

	n := data.NumRows()
	if n == 0 {
		return nil
	}

	return conn.Raw(func(raw any) error {
		driverConn, ok := raw.(driver.Conn)
		if !ok {
			return fmt.Errorf("unexpected raw conn type %T", raw)
		}
		appender, err := duckdb.NewAppenderFromConn(driverConn, "", table)
		if err != nil {
			return fmt.Errorf("create appender for %s: %w", table, err)
		}

		row := make([]driver.Value, len(kinds))
		for r := 0; r < n; r++ {
			for c := range kinds {
				row[c] = convert(data.Columns[c].Values[r], kinds[c])
			}
			if err := appender.AppendRow(row...); err != nil {
				_ = appender.Close()
				return fmt.Errorf("append row %d to %s: %w", r, table, err)
			}
		}
		if err := appender.Close(); err != nil {
			return fmt.Errorf("flush %s: %w", table, err)
		}
		return nil
	})
}
