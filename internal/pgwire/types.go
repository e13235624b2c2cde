package pgwire

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgproto3"
	"github.com/jackc/pgx/v5/pgtype"

	"mimir/internal/domain"
)

var typeLengths = map[uint32]int16{
	pgtype.BoolOID:        1,
	pgtype.Int8OID:        8,
	pgtype.Float8OID:      8,
	pgtype.DateOID:        4,
	pgtype.TimestampOID:   8,
	pgtype.TimestamptzOID: 8,
}

// columnOID maps a result column to a type OID, from its declared database
// type or, failing that, its first non-NULL value.
func columnOID(col domain.Column) uint32 {
	t := strings.ToUpper(col.Type)
	switch {
	case t == "":
	case strings.Contains(t, "WITH TIME ZONE") || t == "TIMESTAMPTZ":
		return pgtype.TimestamptzOID
	case strings.HasPrefix(t, "TIMESTAMP") || t == "DATETIME":
		return pgtype.TimestampOID
	case t == "DATE":
		return pgtype.DateOID
	case t == "BOOLEAN" || t == "BOOL":
		return pgtype.BoolOID
	case strings.HasPrefix(t, "DECIMAL") || strings.HasPrefix(t, "NUMERIC") ||
		t == "DOUBLE" || t == "REAL" || strings.HasPrefix(t, "FLOAT"):
		return pgtype.Float8OID
	case strings.Contains(t, "INT") && !strings.Contains(t, "INTERVAL"):
		return pgtype.Int8OID
	default:
		return pgtype.TextOID
	}
	for _, v := range col.Values {
		switch v.(type) {
		case nil:
			continue
		case int64:
			return pgtype.Int8OID
		case float64:
			return pgtype.Float8OID
		case bool:
			return pgtype.BoolOID
		case time.Time:
			return pgtype.TimestampOID
		default:
			return pgtype.TextOID
		}
	}
	return pgtype.TextOID
}

// describe builds the RowDescription for table. Every column is sent in
// text format.
func describe(table *domain.ResultTable) *pgproto3.RowDescription {
	fields := make([]pgproto3.FieldDescription, len(table.Columns))
	for i, col := range table.Columns {
		oid := columnOID(col)
		typlen, ok := typeLengths[oid]
		if !ok {
			typlen = -1
		}
		fields[i] = pgproto3.FieldDescription{
			Name:         []byte(col.Name),
			DataTypeOID:  oid,
			DataTypeSize: typlen,
			TypeModifier: -1,
			Format:       pgtype.TextFormatCode,
		}
	}
	return &pgproto3.RowDescription{Fields: fields}
}

// formatValue renders v in PostgreSQL text format for a column of type oid.
// nil stays nil, which DataRow sends as NULL.
func formatValue(v any, oid uint32) []byte {
	var s string
	switch x := v.(type) {
	case nil:
		return nil
	case string:
		s = x
	case bool:
		s = "f"
		if x {
			s = "t"
		}
	case int64:
		s = strconv.FormatInt(x, 10)
	case float64:
		s = strconv.FormatFloat(x, 'g', -1, 64)
	case time.Time:
		switch oid {
		case pgtype.DateOID:
			s = x.Format("2006-01-02")
		case pgtype.TimestamptzOID:
			s = x.Format("2006-01-02 15:04:05.999999Z07:00")
		default:
			s = x.Format("2006-01-02 15:04:05.999999")
		}
	case []byte:
		s = string(x)
	default:
		s = fmt.Sprint(x)
	}
	return []byte(s)
}
