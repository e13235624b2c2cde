package connection

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"mimir/internal/domain"
)

// Compile-time check.
var _ domain.Connection = (*SQLConnection)(nil)

// SQLConnection implements domain.Connection over a database/sql pool. It
// serves the duckdb, mysql and sqlite classes.
type SQLConnection struct {
	name   string
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLConnection wraps db. The connection owns db and closes it on Close.
func NewSQLConnection(name string, db *sql.DB, logger *slog.Logger) *SQLConnection {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLConnection{name: name, db: db, logger: logger}
}

// Execute runs sql and returns the whole result.
func (c *SQLConnection) Execute(ctx context.Context, sql string) (*domain.ResultTable, error) {
	start := time.Now()
	rows, err := c.db.QueryContext(ctx, sql)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	table, err := ScanRows(rows)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("query executed", "rows", table.NumRows(), "duration", time.Since(start))
	return table, nil
}

// Close closes the pool.
func (c *SQLConnection) Close() error {
	return c.db.Close()
}

// DB exposes the underlying pool.
func (c *SQLConnection) DB() *sql.DB { return c.db }
