// Package connection implements domain.Connection for the supported backend
// classes and the factory that picks one from a connection descriptor.
package connection

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"mimir/internal/domain"
)

// Connection classes accepted in a descriptor's connection_class.
const (
	ClassDuckDB   = "duckdb"
	ClassSQLDB    = "sqldb"
	ClassPostgres = "postgres"
	ClassMySQL    = "mysql"
	ClassSQLite   = "sqlite"
)

// Options tunes the connections built by New.
type Options struct {
	Logger *slog.Logger
	// MaxOpenConns caps each pool when the descriptor does not. 0 means 4.
	MaxOpenConns int
	// BreakerFailures is the consecutive-failure count that opens a breaker.
	// 0 means 5.
	BreakerFailures uint32
	// BreakerTimeout is how long a breaker stays open. 0 means 30s.
	BreakerTimeout time.Duration
}

func (o Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

func (o Options) maxOpen(desc *domain.ConnectionDescriptor) int {
	if desc.MaxOpenConns > 0 {
		return desc.MaxOpenConns
	}
	if o.MaxOpenConns > 0 {
		return o.MaxOpenConns
	}
	return 4
}

// New opens the connection described by desc. Pools are created lazily by
// the drivers, so an unreachable backend surfaces on the first Execute.
// An unknown class yields a *domain.ConfigError.
func New(name string, desc *domain.ConnectionDescriptor, opts Options) (domain.Connection, error) {
	if desc == nil {
		return nil, &domain.ConfigError{Violations: []string{fmt.Sprintf("connection %q: no connection descriptor", name)}}
	}

	class, err := resolveClass(name, desc)
	if err != nil {
		return nil, err
	}

	logger := opts.logger().With("component", "connection", "connection", name, "class", class)

	var conn domain.Connection
	switch class {
	case ClassDuckDB:
		db, err := openDuckDB(desc, opts.maxOpen(desc))
		if err != nil {
			return nil, fmt.Errorf("connection %q: %w", name, err)
		}
		conn = NewSQLConnection(name, db, logger)
	case ClassSQLite:
		db, err := openSQLite(desc, opts.maxOpen(desc))
		if err != nil {
			return nil, fmt.Errorf("connection %q: %w", name, err)
		}
		conn = NewSQLConnection(name, db, logger)
	case ClassMySQL:
		db, err := openMySQL(desc, opts.maxOpen(desc))
		if err != nil {
			return nil, fmt.Errorf("connection %q: %w", name, err)
		}
		conn = NewSQLConnection(name, db, logger)
	case ClassPostgres:
		pc, err := NewPostgresConnection(name, desc, opts.maxOpen(desc), logger)
		if err != nil {
			return nil, fmt.Errorf("connection %q: %w", name, err)
		}
		conn = pc
	}

	if desc.CircuitBreaker {
		conn = WithBreaker(name, conn, opts, logger)
	}
	logger.Debug("connection opened", "breaker", desc.CircuitBreaker)
	return conn, nil
}

// resolveClass folds the sqldb class and its flavour onto a concrete class.
func resolveClass(name string, desc *domain.ConnectionDescriptor) (string, error) {
	class := strings.ToLower(strings.TrimSpace(desc.Class))
	switch class {
	case ClassDuckDB, ClassPostgres, ClassMySQL, ClassSQLite:
		return class, nil
	case ClassSQLDB:
		switch strings.ToLower(desc.Flavour) {
		case "postgresql", "postgres":
			return ClassPostgres, nil
		case "mysql":
			return ClassMySQL, nil
		case "sqlite", "sqlite3":
			return ClassSQLite, nil
		case "duckdb":
			return ClassDuckDB, nil
		case "":
			return "", &domain.ConfigError{Violations: []string{
				fmt.Sprintf("connection %q: class sqldb requires a flavour", name)}}
		default:
			return "", &domain.ConfigError{Violations: []string{
				fmt.Sprintf("connection %q: unsupported sqldb flavour %q", name, desc.Flavour)}}
		}
	case "":
		return "", &domain.ConfigError{Violations: []string{
			fmt.Sprintf("connection %q: missing connection_class", name)}}
	default:
		return "", &domain.ConfigError{Violations: []string{
			fmt.Sprintf("connection %q: unknown connection_class %q", name, desc.Class)}}
	}
}

// ValidateDescriptor reports whether desc names a supported class without
// opening anything.
func ValidateDescriptor(name string, desc *domain.ConnectionDescriptor) error {
	if desc == nil {
		return &domain.ConfigError{Violations: []string{fmt.Sprintf("connection %q: no connection descriptor", name)}}
	}
	_, err := resolveClass(name, desc)
	return err
}
