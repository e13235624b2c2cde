package arrowconv

import (
	"bytes"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mimir/internal/domain"
)

func rentalsTable() *domain.ResultTable {
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	t := domain.NewResultTable(
		[]string{"dim_rental_category", "rental_month", "movies_rented", "avg_rate", "is_new", "notes"},
		[]string{"VARCHAR", "TIMESTAMP", "BIGINT", "DOUBLE", "BOOLEAN", "INTEGER"},
	)
	t.AppendRow([]any{"Action", day, int64(12), 2.5, true, nil})
	t.AppendRow([]any{nil, day.AddDate(0, 1, 0), int64(7), nil, false, nil})
	return t
}

func TestSchema_TypesFollowValues(t *testing.T) {
	schema := Schema(rentalsTable())

	want := []arrow.DataType{
		arrow.BinaryTypes.String,
		timestampType,
		arrow.PrimitiveTypes.Int64,
		arrow.PrimitiveTypes.Float64,
		arrow.FixedWidthTypes.Boolean,
		arrow.PrimitiveTypes.Int64, // all NULL: declared INTEGER
	}
	require.Equal(t, len(want), schema.NumFields())
	for i, dt := range want {
		assert.True(t, arrow.TypeEqual(dt, schema.Field(i).Type), "field %d: got %s", i, schema.Field(i).Type)
	}
}

func TestIPC_RoundTrip(t *testing.T) {
	in := rentalsTable()

	var buf bytes.Buffer
	require.NoError(t, WriteIPC(&buf, in))

	out, err := ReadIPC(&buf)
	require.NoError(t, err)

	assert.Equal(t, in.ColumnNames(), out.ColumnNames())
	for i := range in.Columns {
		assert.Equal(t, in.Columns[i].Type, out.Columns[i].Type)
	}
	require.Equal(t, 2, out.NumRows())
	assert.Equal(t, in.Row(0), out.Row(0))
	assert.Equal(t, in.Row(1), out.Row(1))
}

func TestIPC_EmptyResult(t *testing.T) {
	in := domain.NewResultTable([]string{"movies_rented"}, []string{"BIGINT"})

	var buf bytes.Buffer
	require.NoError(t, WriteIPC(&buf, in))
	out, err := ReadIPC(&buf)
	require.NoError(t, err)
	assert.Equal(t, []string{"movies_rented"}, out.ColumnNames())
	assert.Zero(t, out.NumRows())
}

func TestRecord_MixedColumnIsRejected(t *testing.T) {
	table := domain.NewResultTable([]string{"n"}, nil)
	table.AppendRow([]any{int64(1)})
	table.AppendRow([]any{"two"})

	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	_, err := Record(mem, table)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `column "n"`)
}

func TestRecord_ReleasesBuffers(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	rec, err := Record(mem, rentalsTable())
	require.NoError(t, err)
	assert.EqualValues(t, 2, rec.NumRows())
	rec.Release()
}

func TestReadIPC_Garbage(t *testing.T) {
	_, err := ReadIPC(bytes.NewReader([]byte("not arrow")))
	require.Error(t, err)
}
