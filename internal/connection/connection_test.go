package connection

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mimir/internal/domain"
)

func TestResolveClass(t *testing.T) {
	tests := []struct {
		name    string
		desc    domain.ConnectionDescriptor
		want    string
		wantErr string
	}{
		{name: "duckdb", desc: domain.ConnectionDescriptor{Class: "duckdb"}, want: ClassDuckDB},
		{name: "postgres", desc: domain.ConnectionDescriptor{Class: "postgres"}, want: ClassPostgres},
		{name: "case insensitive", desc: domain.ConnectionDescriptor{Class: "SQLite"}, want: ClassSQLite},
		{name: "sqldb postgresql", desc: domain.ConnectionDescriptor{Class: "sqldb", Flavour: "postgresql"}, want: ClassPostgres},
		{name: "sqldb mysql", desc: domain.ConnectionDescriptor{Class: "sqldb", Flavour: "MySQL"}, want: ClassMySQL},
		{name: "sqldb without flavour", desc: domain.ConnectionDescriptor{Class: "sqldb"}, wantErr: "requires a flavour"},
		{name: "sqldb unknown flavour", desc: domain.ConnectionDescriptor{Class: "sqldb", Flavour: "mssql"}, wantErr: `unsupported sqldb flavour "mssql"`},
		{name: "unknown class", desc: domain.ConnectionDescriptor{Class: "oracle"}, wantErr: `unknown connection_class "oracle"`},
		{name: "missing class", desc: domain.ConnectionDescriptor{}, wantErr: "missing connection_class"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolveClass("warehouse", &tt.desc)
			if tt.wantErr != "" {
				var cfgErr *domain.ConfigError
				require.ErrorAs(t, err, &cfgErr)
				require.Len(t, cfgErr.Violations, 1)
				assert.Contains(t, cfgErr.Violations[0], tt.wantErr)
				assert.Contains(t, cfgErr.Violations[0], `"warehouse"`)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNew_Dispatch(t *testing.T) {
	tests := []struct {
		name string
		desc domain.ConnectionDescriptor
		want any
	}{
		{"duckdb", domain.ConnectionDescriptor{Class: "duckdb"}, &SQLConnection{}},
		{"sqlite", domain.ConnectionDescriptor{Class: "sqlite"}, &SQLConnection{}},
		{"mysql", domain.ConnectionDescriptor{Class: "mysql", Host: "127.0.0.1", Port: 1, User: "u"}, &SQLConnection{}},
		{"postgres", domain.ConnectionDescriptor{Class: "sqldb", Flavour: "postgresql", Host: "127.0.0.1", Port: 1, User: "u", Database: "d"}, &PostgresConnection{}},
		{"breaker", domain.ConnectionDescriptor{Class: "duckdb", CircuitBreaker: true}, &BreakerConnection{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn, err := New(tt.name, &tt.desc, Options{})
			require.NoError(t, err)
			t.Cleanup(func() { _ = conn.Close() })
			assert.IsType(t, tt.want, conn)
		})
	}
}

func TestNew_NilDescriptor(t *testing.T) {
	_, err := New("billing", nil, Options{})
	var cfgErr *domain.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, err.Error(), `connection "billing": no connection descriptor`)
}

func TestNew_DuckDBExecute(t *testing.T) {
	conn, err := New("local", &domain.ConnectionDescriptor{Class: "duckdb"}, Options{})
	require.NoError(t, err)
	defer conn.Close() //nolint:errcheck

	table, err := conn.Execute(context.Background(), "SELECT 1 AS x, 'a' AS s, NULL AS n")
	require.NoError(t, err)

	assert.Equal(t, []string{"x", "s", "n"}, table.ColumnNames())
	assert.Equal(t, [][]any{{int64(1), "a", nil}}, table.Rows())
	assert.Equal(t, "INTEGER", table.Columns[0].Type)
}

func TestNew_SQLiteExecute(t *testing.T) {
	conn, err := New("lite", &domain.ConnectionDescriptor{Class: "sqlite"}, Options{})
	require.NoError(t, err)
	defer conn.Close() //nolint:errcheck

	table, err := conn.Execute(context.Background(), "SELECT 2 AS y, 'b' AS s")
	require.NoError(t, err)
	assert.Equal(t, [][]any{{int64(2), "b"}}, table.Rows())
}

func TestValidateDescriptor(t *testing.T) {
	require.NoError(t, ValidateDescriptor("a", &domain.ConnectionDescriptor{Class: "duckdb"}))

	var cfgErr *domain.ConfigError
	require.ErrorAs(t, ValidateDescriptor("a", nil), &cfgErr)
	require.ErrorAs(t, ValidateDescriptor("a", &domain.ConnectionDescriptor{Class: "nope"}), &cfgErr)
}

func TestMySQLDSN(t *testing.T) {
	dsn := mysqlDSN(&domain.ConnectionDescriptor{
		Class:    "mysql",
		User:     "u",
		Password: "secret",
		Host:     "db",
		Port:     3307,
		Schema:   "shop",
	})
	assert.Contains(t, dsn, "u:secret@tcp(db:3307)/shop")
	assert.Contains(t, dsn, "parseTime=true")
}

func TestPostgresDSN(t *testing.T) {
	tests := []struct {
		name string
		desc domain.ConnectionDescriptor
		want string
	}{
		{
			name: "built",
			desc: domain.ConnectionDescriptor{User: "u", Password: "p w", Host: "pg", Database: "d", Options: map[string]string{"sslmode": "disable"}},
			want: "postgres://u:p%20w@pg:5432/d?sslmode=disable",
		},
		{
			name: "schema as database",
			desc: domain.ConnectionDescriptor{User: "u", Host: "pg", Port: 6432, Schema: "dvd"},
			want: "postgres://u@pg:6432/dvd",
		},
		{
			name: "explicit dsn",
			desc: domain.ConnectionDescriptor{DSN: "postgres://x@y/z", Host: "ignored"},
			want: "postgres://x@y/z",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, postgresDSN(&tt.desc))
		})
	}
}

func TestBuildSQLiteDSN(t *testing.T) {
	assert.Equal(t, ":memory:?_busy_timeout=5000&_synchronous=NORMAL", buildSQLiteDSN("", nil))
	assert.Equal(t, "/data/x.db?_busy_timeout=5000&_synchronous=NORMAL&mode=ro",
		buildSQLiteDSN("/data/x.db", map[string]string{"mode": "ro"}))
}

func TestWithParams(t *testing.T) {
	assert.Equal(t, "a.duckdb", withParams("a.duckdb", nil))
	assert.Equal(t, "a.duckdb?access_mode=READ_ONLY&threads=4",
		withParams("a.duckdb", map[string]string{"threads": "4", "access_mode": "READ_ONLY"}))
}
