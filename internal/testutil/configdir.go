package testutil

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// WriteFile writes content to root/name, creating parent directories.
func WriteFile(t *testing.T, root, name, content string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(name))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
}

// WriteRentalConfig lays out the rentals source with movies_rented and
// dim_rental_category in temporary config and secrets directories, the
// warehouse connection pointing at in-memory DuckDB.
func WriteRentalConfig(t *testing.T) (configs, secrets string) {
	t.Helper()
	configs = t.TempDir()
	secrets = t.TempDir()

	WriteFile(t, configs, "sources/rentals.yaml", "rentals:\n  time_col: rental_date\n  connection_name: warehouse\n  sql: |\n    "+
		strings.ReplaceAll(RentalsSQL, "\n", "\n    ")+"\n")
	WriteFile(t, configs, "metrics/movies_rented.yaml", "name: movies_rented\nsource_name: rentals\nsql: COUNT(DISTINCT rental_id)\n")
	WriteFile(t, configs, "dimensions/dim_rental_category.yaml", "name: dim_rental_category\nsource_name: rentals\nsql: category\n")
	WriteFile(t, secrets, "warehouse.json", `{"connection_class":"duckdb"}`)
	return configs, secrets
}
