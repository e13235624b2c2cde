package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mimir/internal/domain"
	"mimir/internal/testutil"
)

func newRentalRegistry(t *testing.T) *Registry {
	t.Helper()
	reg, err := New(testutil.RentalSources(), testutil.RentalMetrics(), testutil.RentalDimensions())
	require.NoError(t, err)
	return reg
}

func TestNew_ValidFixtures(t *testing.T) {
	reg := newRentalRegistry(t)

	assert.Equal(t, []string{"payments", "rentals"}, reg.List(domain.KindSource))
	assert.Equal(t, []string{"movies_rented", "rentals_revenue", "revenue_per_category"}, reg.List(domain.KindMetric))
	assert.Equal(t, []string{"dim_payment_size", "dim_rental_category"}, reg.List(domain.KindDimension))
}

func TestNew_CollectsAllViolations(t *testing.T) {
	sources := []domain.Source{
		{Name: "rentals", TimeCol: "rental_date", ConnectionName: "warehouse", SQL: "SELECT 1", Dimensions: []string{"ghost_dim"}},
		{Name: "bad name", TimeCol: "ts", ConnectionName: "warehouse", SQL: "SELECT 1"},
		{Name: "no_sql", TimeCol: "ts", ConnectionName: "warehouse"},
	}
	metrics := []domain.Metric{
		{Name: "orphan", SourceName: "missing_source", SQL: "COUNT(*)"},
		{Name: "needs_dim", SourceName: "rentals", SQL: "COUNT(*)", RequiredDimensions: []string{"nope"}},
	}
	dims := []domain.Dimension{
		{Name: "lost", SourceName: "elsewhere", SQL: "x"},
	}

	_, err := New(sources, metrics, dims)
	require.Error(t, err)

	var cfgErr *domain.ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Len(t, cfgErr.Violations, 6)
	assert.Contains(t, cfgErr.Violations, `metric[orphan]: source_name "missing_source" does not reference a defined source`)
	assert.Contains(t, cfgErr.Violations, `metric[needs_dim]: required dimension "nope" is not a defined dimension`)
	assert.Contains(t, cfgErr.Violations, `dimension[lost]: source_name "elsewhere" does not reference a defined source`)
	assert.Contains(t, cfgErr.Violations, `source[rentals]: dimension "ghost_dim" is not a defined dimension`)
	assert.Contains(t, cfgErr.Violations, `source[bad name]: name "bad name" is not a valid identifier`)
	assert.Contains(t, cfgErr.Violations, `source[no_sql]: sql is required`)
}

func TestNew_ViolationsAreSorted(t *testing.T) {
	_, err := New(nil, []domain.Metric{
		{Name: "z_metric", SourceName: "x", SQL: "1"},
		{Name: "a_metric", SourceName: "x", SQL: "1"},
	}, nil)

	var cfgErr *domain.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	require.Len(t, cfgErr.Violations, 2)
	assert.Less(t, cfgErr.Violations[0], cfgErr.Violations[1])
}

func TestNew_DuplicateNames(t *testing.T) {
	sources := testutil.RentalSources()
	metrics := append(testutil.RentalMetrics(), domain.Metric{Name: "movies_rented", SourceName: "rentals", SQL: "COUNT(*)"})

	_, err := New(sources, metrics, testutil.RentalDimensions())

	var cfgErr *domain.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, []string{"metric[movies_rented]: duplicate metric name"}, cfgErr.Violations)
}

func TestLookup(t *testing.T) {
	reg := newRentalRegistry(t)

	tests := []struct {
		name     string
		kind     domain.Kind
		def      string
		wantErr  bool
		wantType any
	}{
		{name: "source", kind: domain.KindSource, def: "rentals", wantType: &domain.Source{}},
		{name: "metric", kind: domain.KindMetric, def: "movies_rented", wantType: &domain.Metric{}},
		{name: "dimension", kind: domain.KindDimension, def: "dim_rental_category", wantType: &domain.Dimension{}},
		{name: "missing metric", kind: domain.KindMetric, def: "nope", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := reg.Lookup(tt.kind, tt.def)
			if tt.wantErr {
				var nf *domain.NotFoundError
				require.ErrorAs(t, err, &nf)
				assert.Equal(t, tt.kind, nf.Kind)
				assert.Equal(t, tt.def, nf.Name)
				return
			}
			require.NoError(t, err)
			assert.IsType(t, tt.wantType, got)
		})
	}
}

func TestNativeDimensions(t *testing.T) {
	reg := newRentalRegistry(t)

	assert.Equal(t, []string{"dim_rental_category"}, reg.NativeDimensions("rentals"))
	assert.Equal(t, []string{"dim_payment_size", "dim_rental_category"}, reg.NativeDimensions("payments"))
	assert.True(t, reg.IsNative("dim_rental_category", "payments"))
	assert.False(t, reg.IsNative("dim_payment_size", "rentals"))
	assert.Empty(t, reg.NativeDimensions("unknown"))
}

func TestSchema(t *testing.T) {
	reg := newRentalRegistry(t)

	schema := reg.Schema()
	require.Len(t, schema, 2)
	assert.Equal(t, domain.SourceSchema{
		Source:        "payments",
		Dimensions:    []string{"dim_payment_size", "dim_rental_category"},
		Metrics:       []string{"rentals_revenue", "revenue_per_category"},
		TimeDimension: "payment_date",
	}, schema[0])
	assert.Equal(t, "rentals", schema[1].Source)
	assert.Equal(t, []string{"movies_rented"}, schema[1].Metrics)
}

func TestLoad_Idempotent(t *testing.T) {
	ctx := context.Background()
	loader := testutil.RentalLoader()

	first, err := Load(ctx, loader)
	require.NoError(t, err)
	second, err := Load(ctx, loader)
	require.NoError(t, err)

	for _, kind := range []domain.Kind{domain.KindSource, domain.KindMetric, domain.KindDimension} {
		require.Equal(t, first.List(kind), second.List(kind))
		for _, name := range first.List(kind) {
			a, err := first.Lookup(kind, name)
			require.NoError(t, err)
			b, err := second.Lookup(kind, name)
			require.NoError(t, err)
			assert.Equal(t, a, b)
		}
	}
}

func TestLoad_LoaderError(t *testing.T) {
	loader := testutil.RentalLoader()
	loader.GetAllErr = errors.New("disk on fire")

	_, err := Load(context.Background(), loader)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk on fire")
}

func TestRegistry_DoesNotAliasInputs(t *testing.T) {
	sources := testutil.RentalSources()
	reg, err := New(sources, testutil.RentalMetrics(), testutil.RentalDimensions())
	require.NoError(t, err)

	sources[1].Dimensions[0] = "mutated"

	src, err := reg.Source("payments")
	require.NoError(t, err)
	assert.Equal(t, []string{"dim_rental_category"}, src.Dimensions)
}
