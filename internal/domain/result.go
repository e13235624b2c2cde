package domain

// Column is one named, typed column of a ResultTable. Values holds one entry
// per row; nil means SQL NULL.
type Column struct {
	Name   string `json:"name"`
	Type   string `json:"type"`
	Values []any  `json:"-"`
}

// ResultTable is an ordered columnar table.
type ResultTable struct {
	Columns []Column
}

// NewResultTable creates an empty table with the given column names and types.
// types may be shorter than names; missing entries are left empty.
func NewResultTable(names []string, types []string) *ResultTable {
	t := &ResultTable{Columns: make([]Column, len(names))}
	for i, n := range names {
		t.Columns[i].Name = n
		if i < len(types) {
			t.Columns[i].Type = types[i]
		}
	}
	return t
}

// AppendRow appends one row. The row must have one value per column.
func (t *ResultTable) AppendRow(row []any) {
	for i := range t.Columns {
		t.Columns[i].Values = append(t.Columns[i].Values, row[i])
	}
}

// NumRows returns the row count.
func (t *ResultTable) NumRows() int {
	if len(t.Columns) == 0 {
		return 0
	}
	return len(t.Columns[0].Values)
}

// ColumnNames returns the column names in order.
func (t *ResultTable) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// Column returns the named column, or nil.
func (t *ResultTable) Column(name string) *Column {
	for i := range t.Columns {
		if t.Columns[i].Name == name {
			return &t.Columns[i]
		}
	}
	return nil
}

// Row returns row i as a slice in column order.
func (t *ResultTable) Row(i int) []any {
	row := make([]any, len(t.Columns))
	for c := range t.Columns {
		row[c] = t.Columns[c].Values[i]
	}
	return row
}

// Rows returns all rows in column order.
func (t *ResultTable) Rows() [][]any {
	n := t.NumRows()
	rows := make([][]any, n)
	for i := 0; i < n; i++ {
		rows[i] = t.Row(i)
	}
	return rows
}
