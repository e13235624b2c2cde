package connection

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mimir/internal/domain"
	"mimir/internal/testutil"
)

func countingFactory(opened *atomic.Int64) Factory {
	return func(string, *domain.ConnectionDescriptor, Options) (domain.Connection, error) {
		opened.Add(1)
		return &testutil.MockConnection{}, nil
	}
}

func TestSet_ResolveOpensOnce(t *testing.T) {
	var opened atomic.Int64
	s := NewSet(map[string]*domain.ConnectionDescriptor{
		"warehouse": {Class: "duckdb"},
		"billing":   {Class: "duckdb"},
	}, Options{}, countingFactory(&opened))

	assert.Equal(t, 0, s.Open())

	var wg sync.WaitGroup
	conns := make([]domain.Connection, 10)
	for i := range conns {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := s.Resolve(context.Background(), "warehouse")
			assert.NoError(t, err)
			conns[i] = c
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(1), opened.Load())
	for _, c := range conns[1:] {
		assert.Same(t, conns[0], c)
	}
	assert.Equal(t, 1, s.Open())
	assert.Equal(t, []string{"billing", "warehouse"}, s.Names())
}

func TestSet_UnknownConnection(t *testing.T) {
	s := NewSet(nil, Options{}, nil)
	_, err := s.Resolve(context.Background(), "ghost")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `no connection descriptor for "ghost"`)
}

func TestSet_FactoryError(t *testing.T) {
	s := NewSet(map[string]*domain.ConnectionDescriptor{"x": {Class: "oracle"}}, Options{}, nil)
	_, err := s.Resolve(context.Background(), "x")
	var cfgErr *domain.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, 0, s.Open())
}

func TestSet_Close(t *testing.T) {
	var opened atomic.Int64
	var made []*testutil.MockConnection
	s := NewSet(map[string]*domain.ConnectionDescriptor{"warehouse": {Class: "duckdb"}}, Options{},
		func(string, *domain.ConnectionDescriptor, Options) (domain.Connection, error) {
			opened.Add(1)
			c := &testutil.MockConnection{}
			made = append(made, c)
			return c, nil
		})

	_, err := s.Resolve(context.Background(), "warehouse")
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.Len(t, made, 1)
	assert.True(t, made[0].Closed())

	_, err = s.Resolve(context.Background(), "warehouse")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "closed")
	assert.Equal(t, int64(1), opened.Load())
}
