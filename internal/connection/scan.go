package connection

import (
	"database/sql"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/duckdb/duckdb-go/v2"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"mimir/internal/domain"
)

// ScanRows drains rows into a ResultTable, normalizing driver values.
func ScanRows(rows *sql.Rows) (*domain.ResultTable, error) {
	colTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("column types: %w", err)
	}
	names := make([]string, len(colTypes))
	types := make([]string, len(colTypes))
	for i, ct := range colTypes {
		names[i] = ct.Name()
		types[i] = ct.DatabaseTypeName()
	}

	table := domain.NewResultTable(names, types)
	values := make([]any, len(names))
	ptrs := make([]any, len(names))
	for i := range values {
		ptrs[i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		row := make([]any, len(values))
		for i, v := range values {
			row[i] = normalizeColumn(v, types[i])
		}
		table.AppendRow(row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return table, nil
}

// normalizeColumn normalizes v, first parsing the textual form some drivers
// (MySQL among them) use for numeric columns. Text that does not parse is
// kept as a string.
func normalizeColumn(v any, dbType string) any {
	b, ok := v.([]byte)
	if !ok {
		return normalizeValue(v)
	}
	switch numericKind(dbType) {
	case numericFloat:
		if f, err := strconv.ParseFloat(string(b), 64); err == nil {
			return f
		}
	case numericInteger:
		if n, err := strconv.ParseInt(string(b), 10, 64); err == nil {
			return n
		}
		if u, err := strconv.ParseUint(string(b), 10, 64); err == nil {
			return uintValue(u)
		}
	}
	return string(b)
}

type numeric int

const (
	numericNone numeric = iota
	numericInteger
	numericFloat
)

// numericKind classifies a driver's database type name.
func numericKind(dbType string) numeric {
	t := strings.ToUpper(strings.TrimSpace(dbType))
	if i := strings.IndexByte(t, '('); i >= 0 {
		t = strings.TrimSpace(t[:i])
	}
	t = strings.TrimPrefix(t, "UNSIGNED ")
	switch t {
	case "DECIMAL", "NEWDECIMAL", "NUMERIC", "FLOAT", "DOUBLE", "REAL", "DOUBLE PRECISION":
		return numericFloat
	case "TINYINT", "SMALLINT", "MEDIUMINT", "INT", "INTEGER", "BIGINT", "YEAR":
		return numericInteger
	}
	return numericNone
}

// normalizeValue maps driver-specific values onto the small set of Go types
// the combiner and the output encoders understand: nil, bool, string,
// int64, float64 and time.Time.
func normalizeValue(v any) any {
	switch x := v.(type) {
	case nil, bool, string, int64, float64, time.Time:
		return x
	case []byte:
		return string(x)
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case uint:
		return uintValue(uint64(x))
	case uint64:
		return uintValue(x)
	case float32:
		return float64(x)
	case *big.Int:
		if x == nil {
			return nil
		}
		if x.IsInt64() {
			return x.Int64()
		}
		f, _ := new(big.Float).SetInt(x).Float64()
		return f
	case duckdb.Decimal:
		return decimalFloat(x.Value, x.Scale)
	case pgtype.Numeric:
		if !x.Valid {
			return nil
		}
		f, err := x.Float64Value()
		if err != nil || !f.Valid {
			return nil
		}
		return f.Float64
	case [16]byte:
		return uuid.UUID(x).String()
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

func uintValue(u uint64) any {
	if u > math.MaxInt64 {
		return float64(u)
	}
	return int64(u)
}

func decimalFloat(v *big.Int, scale uint8) any {
	if v == nil {
		return nil
	}
	num := new(big.Float).SetInt(v)
	den := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(scale)), nil))
	f, _ := new(big.Float).Quo(num, den).Float64()
	return f
}
