package cli

import (
	"context"
	"errors"
	"fmt"

	"mimir/internal/client"
	"mimir/internal/domain"
	"mimir/internal/engine"
	"mimir/internal/loader"
	"mimir/internal/registry"
)

// backend answers CLI commands either from a running server or from a
// locally built engine.
type backend interface {
	Inquiry(ctx context.Context, inq *domain.Inquiry) (*domain.ResultTable, error)
	Compile(ctx context.Context, inq *domain.Inquiry) ([]domain.CompiledQuery, error)
	Schema(ctx context.Context) ([]domain.SourceSchema, error)
	Definitions(ctx context.Context, kind domain.Kind) (any, error)
	Close() error
}

func openBackend(ctx context.Context, opts *options) (backend, error) {
	if opts.host != "" {
		return &remoteBackend{client: client.New(opts.host)}, nil
	}
	return openLocal(ctx, opts)
}

type remoteBackend struct {
	client *client.Client
}

func (b *remoteBackend) Inquiry(ctx context.Context, inq *domain.Inquiry) (*domain.ResultTable, error) {
	return b.client.Inquiry(ctx, inq)
}

func (b *remoteBackend) Compile(ctx context.Context, inq *domain.Inquiry) ([]domain.CompiledQuery, error) {
	return b.client.Compile(ctx, inq)
}

func (b *remoteBackend) Schema(ctx context.Context) ([]domain.SourceSchema, error) {
	return b.client.Schema(ctx)
}

func (b *remoteBackend) Definitions(ctx context.Context, kind domain.Kind) (any, error) {
	switch kind {
	case domain.KindSource:
		return b.client.Sources(ctx)
	case domain.KindMetric:
		return b.client.Metrics(ctx)
	default:
		return b.client.Dimensions(ctx)
	}
}

func (b *remoteBackend) Close() error { return nil }

type localBackend struct {
	engine *engine.Engine
	loader *loader.Loader
}

func openLocal(ctx context.Context, opts *options) (*localBackend, error) {
	cfg := opts.cfg
	var lopts []loader.Option
	if cfg.ConnectionHost != "" {
		lopts = append(lopts, loader.WithHostOverride(cfg.ConnectionHost))
	}
	ldr, err := loader.Open(ctx, cfg.ConfigPath, cfg.SecretsPath, cfg.StoreOptions(), lopts...)
	if err != nil {
		return nil, err
	}

	eopts := []engine.Option{engine.WithQueryTimeout(cfg.QueryTimeout)}
	if cfg.SecretsPath == "" {
		eopts = append(eopts, engine.WithSkipSecrets())
	}
	eng, err := engine.New(ctx, ldr, eopts...)
	if err != nil {
		_ = ldr.Close()
		return nil, err
	}
	return &localBackend{engine: eng, loader: ldr}, nil
}

func (b *localBackend) Inquiry(ctx context.Context, inq *domain.Inquiry) (*domain.ResultTable, error) {
	res, err := b.engine.Query(ctx, inq)
	if err != nil {
		return nil, err
	}
	return res.Table, nil
}

func (b *localBackend) Compile(_ context.Context, inq *domain.Inquiry) ([]domain.CompiledQuery, error) {
	return b.engine.Compile(inq)
}

func (b *localBackend) Schema(context.Context) ([]domain.SourceSchema, error) {
	return b.engine.Schema(), nil
}

func (b *localBackend) Definitions(_ context.Context, kind domain.Kind) (any, error) {
	return definitionsOf(b.engine.Registry(), kind), nil
}

func definitionsOf(reg *registry.Registry, kind domain.Kind) any {
	switch kind {
	case domain.KindSource:
		return reg.Sources()
	case domain.KindMetric:
		return reg.Metrics()
	default:
		return reg.Dimensions()
	}
}

func (b *localBackend) Close() error {
	return errors.Join(b.engine.Close(), b.loader.Close())
}

// requireHost rejects commands that only make sense against a server.
func requireHost(opts *options, command string) error {
	if opts.host == "" {
		return fmt.Errorf("%s needs a running server: pass --host or set MIMIR_HOST", command)
	}
	return nil
}
