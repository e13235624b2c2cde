// Package arrowconv converts result tables to and from Arrow record batches
// and the Arrow IPC stream format.
package arrowconv

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"mimir/internal/domain"
)

// ContentType is the media type of an Arrow IPC stream.
const ContentType = "application/vnd.apache.arrow.stream"

// typeKey is the field metadata key carrying the column's database type.
const typeKey = "mimir.type"

var timestampType = &arrow.TimestampType{Unit: arrow.Microsecond, TimeZone: "UTC"}

// Schema returns the Arrow schema for table. Column types follow the first
// non-NULL value; all-NULL columns fall back to the declared database type.
func Schema(table *domain.ResultTable) *arrow.Schema {
	fields := make([]arrow.Field, len(table.Columns))
	for i, col := range table.Columns {
		var md arrow.Metadata
		if col.Type != "" {
			md = arrow.NewMetadata([]string{typeKey}, []string{col.Type})
		}
		fields[i] = arrow.Field{Name: col.Name, Type: columnType(col), Nullable: true, Metadata: md}
	}
	return arrow.NewSchema(fields, nil)
}

func columnType(col domain.Column) arrow.DataType {
	for _, v := range col.Values {
		switch v.(type) {
		case nil:
			continue
		case int64:
			return arrow.PrimitiveTypes.Int64
		case float64:
			return arrow.PrimitiveTypes.Float64
		case bool:
			return arrow.FixedWidthTypes.Boolean
		case time.Time:
			return timestampType
		default:
			return arrow.BinaryTypes.String
		}
	}
	return declaredType(col.Type)
}

func declaredType(t string) arrow.DataType {
	t = strings.ToUpper(t)
	switch {
	case t == "BOOLEAN" || t == "BOOL":
		return arrow.FixedWidthTypes.Boolean
	case strings.HasPrefix(t, "TIMESTAMP") || t == "DATETIME" || t == "DATE":
		return timestampType
	case strings.HasPrefix(t, "DECIMAL") || strings.HasPrefix(t, "NUMERIC") ||
		strings.HasPrefix(t, "FLOAT") || t == "DOUBLE" || t == "REAL":
		return arrow.PrimitiveTypes.Float64
	case strings.Contains(t, "INT") && !strings.Contains(t, "INTERVAL"):
		return arrow.PrimitiveTypes.Int64
	default:
		return arrow.BinaryTypes.String
	}
}

// Record builds one record batch holding every row of table. The caller
// releases it.
func Record(mem memory.Allocator, table *domain.ResultTable) (arrow.Record, error) {
	schema := Schema(table)
	n := table.NumRows()
	cols := make([]arrow.Array, len(table.Columns))
	defer func() {
		for _, c := range cols {
			if c != nil {
				c.Release()
			}
		}
	}()

	for i, col := range table.Columns {
		arr, err := buildColumn(mem, schema.Field(i).Type, col)
		if err != nil {
			return nil, err
		}
		cols[i] = arr
	}
	return array.NewRecord(schema, cols, int64(n)), nil
}

func buildColumn(mem memory.Allocator, dt arrow.DataType, col domain.Column) (arrow.Array, error) {
	mismatch := func(v any) error {
		return fmt.Errorf("column %q: cannot encode %T as %s", col.Name, v, dt)
	}

	switch dt.ID() {
	case arrow.INT64:
		b := array.NewInt64Builder(mem)
		defer b.Release()
		for _, v := range col.Values {
			switch x := v.(type) {
			case nil:
				b.AppendNull()
			case int64:
				b.Append(x)
			default:
				return nil, mismatch(v)
			}
		}
		return b.NewArray(), nil
	case arrow.FLOAT64:
		b := array.NewFloat64Builder(mem)
		defer b.Release()
		for _, v := range col.Values {
			switch x := v.(type) {
			case nil:
				b.AppendNull()
			case float64:
				b.Append(x)
			case int64:
				b.Append(float64(x))
			default:
				return nil, mismatch(v)
			}
		}
		return b.NewArray(), nil
	case arrow.BOOL:
		b := array.NewBooleanBuilder(mem)
		defer b.Release()
		for _, v := range col.Values {
			switch x := v.(type) {
			case nil:
				b.AppendNull()
			case bool:
				b.Append(x)
			default:
				return nil, mismatch(v)
			}
		}
		return b.NewArray(), nil
	case arrow.TIMESTAMP:
		b := array.NewTimestampBuilder(mem, timestampType)
		defer b.Release()
		for _, v := range col.Values {
			switch x := v.(type) {
			case nil:
				b.AppendNull()
			case time.Time:
				b.Append(arrow.Timestamp(x.UnixMicro()))
			default:
				return nil, mismatch(v)
			}
		}
		return b.NewArray(), nil
	default:
		b := array.NewStringBuilder(mem)
		defer b.Release()
		for _, v := range col.Values {
			switch x := v.(type) {
			case nil:
				b.AppendNull()
			case string:
				b.Append(x)
			case []byte:
				b.Append(string(x))
			default:
				b.Append(fmt.Sprint(x))
			}
		}
		return b.NewArray(), nil
	}
}

// WriteIPC writes table to w as an Arrow IPC stream.
func WriteIPC(w io.Writer, table *domain.ResultTable) error {
	mem := memory.NewGoAllocator()
	rec, err := Record(mem, table)
	if err != nil {
		return err
	}
	defer rec.Release()

	wr := ipc.NewWriter(w, ipc.WithSchema(rec.Schema()), ipc.WithAllocator(mem))
	if err := wr.Write(rec); err != nil {
		_ = wr.Close()
		return fmt.Errorf("write arrow record: %w", err)
	}
	if err := wr.Close(); err != nil {
		return fmt.Errorf("close arrow stream: %w", err)
	}
	return nil
}

// ReadIPC decodes an Arrow IPC stream into a result table. Every record
// batch in the stream is appended in order.
func ReadIPC(r io.Reader) (*domain.ResultTable, error) {
	rdr, err := ipc.NewReader(r, ipc.WithAllocator(memory.NewGoAllocator()))
	if err != nil {
		return nil, fmt.Errorf("open arrow stream: %w", err)
	}
	defer rdr.Release()

	schema := rdr.Schema()
	table := &domain.ResultTable{Columns: make([]domain.Column, schema.NumFields())}
	for i, f := range schema.Fields() {
		table.Columns[i].Name = f.Name
		table.Columns[i].Type = f.Type.String()
		if idx := f.Metadata.FindKey(typeKey); idx >= 0 {
			table.Columns[i].Type = f.Metadata.Values()[idx]
		}
	}

	for rdr.Next() {
		rec := rdr.Record()
		for c := 0; c < int(rec.NumCols()); c++ {
			values, err := columnValues(rec.Column(c))
			if err != nil {
				return nil, fmt.Errorf("column %q: %w", schema.Field(c).Name, err)
			}
			table.Columns[c].Values = append(table.Columns[c].Values, values...)
		}
	}
	if err := rdr.Err(); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read arrow stream: %w", err)
	}
	return table, nil
}

func columnValues(arr arrow.Array) ([]any, error) {
	out := make([]any, arr.Len())
	for i := range out {
		if arr.IsNull(i) {
			continue
		}
		switch a := arr.(type) {
		case *array.Int64:
			out[i] = a.Value(i)
		case *array.Float64:
			out[i] = a.Value(i)
		case *array.Boolean:
			out[i] = a.Value(i)
		case *array.String:
			out[i] = a.Value(i)
		case *array.Timestamp:
			unit := a.DataType().(*arrow.TimestampType).Unit
			out[i] = a.Value(i).ToTime(unit)
		default:
			return nil, fmt.Errorf("unsupported arrow type %s", arr.DataType())
		}
	}
	return out, nil
}
