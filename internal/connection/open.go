package connection

import (
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "github.com/duckdb/duckdb-go/v2" // DuckDB driver
	"github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"mimir/internal/domain"
)

// SQLite DSN parameters for read-mostly federation queries.
const (
	sqliteBusyTimeout = "5000" // 5 seconds
	sqliteSynchronous = "NORMAL"
)

const (
	defaultPostgresPort = 5432
	defaultMySQLPort    = 3306
)

func openDuckDB(desc *domain.ConnectionDescriptor, maxOpen int) (*sql.DB, error) {
	dsn := desc.DSN
	if dsn == "" {
		dsn = withParams(desc.Path, desc.Options)
	}
	db, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxOpen)
	return db, nil
}

// openSQLite opens a read pool. An in-memory database is private to one
// driver connection, so its pool is pinned to a single connection.
func openSQLite(desc *domain.ConnectionDescriptor, maxOpen int) (*sql.DB, error) {
	dsn := desc.DSN
	if dsn == "" {
		dsn = buildSQLiteDSN(desc.Path, desc.Options)
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if isSQLiteMemory(desc.Path) && desc.DSN == "" {
		maxOpen = 1
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxOpen)
	db.SetConnMaxLifetime(time.Hour)
	return db, nil
}

func isSQLiteMemory(path string) bool {
	return path == "" || path == ":memory:"
}

func buildSQLiteDSN(path string, options map[string]string) string {
	params := url.Values{}
	params.Set("_busy_timeout", sqliteBusyTimeout)
	params.Set("_synchronous", sqliteSynchronous)
	for k, v := range options {
		params.Set(k, v)
	}
	if isSQLiteMemory(path) {
		path = ":memory:"
	}
	return path + "?" + params.Encode()
}

func openMySQL(desc *domain.ConnectionDescriptor, maxOpen int) (*sql.DB, error) {
	dsn := desc.DSN
	if dsn == "" {
		dsn = mysqlDSN(desc)
	}
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxOpen / 2)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return db, nil
}

func mysqlDSN(desc *domain.ConnectionDescriptor) string {
	cfg := mysql.NewConfig()
	cfg.User = desc.User
	cfg.Passwd = desc.Password
	cfg.Net = "tcp"
	cfg.Addr = hostPort(desc.Host, desc.Port, defaultMySQLPort)
	cfg.DBName = desc.DatabaseName()
	cfg.ParseTime = true
	if len(desc.Options) > 0 {
		cfg.Params = make(map[string]string, len(desc.Options))
		for k, v := range desc.Options {
			cfg.Params[k] = v
		}
	}
	return cfg.FormatDSN()
}

func postgresDSN(desc *domain.ConnectionDescriptor) string {
	if desc.DSN != "" {
		return desc.DSN
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   hostPort(desc.Host, desc.Port, defaultPostgresPort),
		Path:   "/" + desc.DatabaseName(),
	}
	if desc.User != "" {
		if desc.Password != "" {
			u.User = url.UserPassword(desc.User, desc.Password)
		} else {
			u.User = url.User(desc.User)
		}
	}
	if len(desc.Options) > 0 {
		q := url.Values{}
		for k, v := range desc.Options {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func hostPort(host string, port, def int) string {
	if host == "" {
		host = "localhost"
	}
	if port == 0 {
		port = def
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// withParams appends options to a file path as a sorted query string.
func withParams(path string, options map[string]string) string {
	if len(options) == 0 {
		return path
	}
	keys := make([]string, 0, len(options))
	for k := range options {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = url.QueryEscape(k) + "=" + url.QueryEscape(options[k])
	}
	return path + "?" + strings.Join(parts, "&")
}
