package connection

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"mimir/internal/domain"
)

// Compile-time check.
var _ domain.Connection = (*PostgresConnection)(nil)

// typeNames resolves result OIDs to type names; it is only read.
var typeNames = pgtype.NewMap()

// PostgresConnection implements domain.Connection over a pgx pool.
type PostgresConnection struct {
	name   string
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgresConnection creates the pool for desc. The pool dials lazily.
func NewPostgresConnection(name string, desc *domain.ConnectionDescriptor, maxConns int, logger *slog.Logger) (*PostgresConnection, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg, err := pgxpool.ParseConfig(postgresDSN(desc))
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = int32(maxConns)
	}
	cfg.MaxConnIdleTime = 5 * time.Minute
	if desc.Schema != "" && desc.Database != "" {
		cfg.ConnConfig.RuntimeParams["search_path"] = desc.Schema
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), cfg)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	return &PostgresConnection{name: name, pool: pool, logger: logger}, nil
}

// Execute runs sql on a pooled connection and returns the whole result.
func (c *PostgresConnection) Execute(ctx context.Context, sql string) (*domain.ResultTable, error) {
	start := time.Now()
	rows, err := c.pool.Query(ctx, sql)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	names := make([]string, len(fields))
	types := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name
		if t, ok := typeNames.TypeForOID(f.DataTypeOID); ok {
			types[i] = strings.ToUpper(t.Name)
		}
	}

	table := domain.NewResultTable(names, types)
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		for i, v := range values {
			values[i] = normalizeValue(v)
		}
		table.AppendRow(values)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	c.logger.Debug("query executed", "rows", table.NumRows(), "duration", time.Since(start))
	return table, nil
}

// Close closes the pool.
func (c *PostgresConnection) Close() error {
	c.pool.Close()
	return nil
}
