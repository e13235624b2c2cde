package domain

import "context"

// Connection executes SQL against one backend and returns the full result.
// Implementations must be safe for concurrent use; each call takes its own
// lease from the underlying pool.
// Implemented by connection.SQLConnection, connection.PostgresConnection and
// connection.BreakerConnection.
type Connection interface {
	Execute(ctx context.Context, sql string) (*ResultTable, error)
	Close() error
}

// ConfigLoader fetches raw definitions and connection secrets from some
// storage medium. The registry depends only on this contract.
// Implemented by loader.Loader.
type ConfigLoader interface {
	Get(ctx context.Context, kind Kind, name string) (any, error)
	GetAll(ctx context.Context, kind Kind) ([]any, error)
	GetSecret(ctx context.Context, name string) (*ConnectionDescriptor, error)
}

// ConnectionDescriptor is the secret describing how to reach a backend.
type ConnectionDescriptor struct {
	Class          string            `json:"connection_class"`
	Flavour        string            `json:"flavour,omitempty"`
	Host           string            `json:"host,omitempty"`
	Port           int               `json:"port,omitempty"`
	User           string            `json:"user,omitempty"`
	Password       string            `json:"password,omitempty"`
	Schema         string            `json:"schema,omitempty"`
	Database       string            `json:"database,omitempty"`
	Path           string            `json:"path,omitempty"`
	DSN            string            `json:"dsn,omitempty"`
	Options        map[string]string `json:"options,omitempty"`
	CircuitBreaker bool              `json:"circuit_breaker,omitempty"`
	MaxOpenConns   int               `json:"max_open_conns,omitempty"`
}

// DatabaseName returns Database, falling back to Schema. Secrets written for
// the sqldb class name the database "schema".
func (d *ConnectionDescriptor) DatabaseName() string {
	if d.Database != "" {
		return d.Database
	}
	return d.Schema
}
