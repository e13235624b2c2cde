package loader

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"path"
	"sort"

	"gopkg.in/yaml.v3"

	"mimir/internal/domain"
)

var _ domain.ConfigLoader = (*Loader)(nil)

// Definition folders under the config root.
const (
	SourcesDir    = "sources"
	MetricsDir    = "metrics"
	DimensionsDir = "dimensions"
)

// Loader implements domain.ConfigLoader over a Store laid out as
//
//	sources/*.yaml      each file maps source names to source configs
//	metrics/*.yaml      one metric per file
//	dimensions/*.yaml   one dimension per file
//
// Secrets live in a separate store as <name>.json.
type Loader struct {
	configs      Store
	secrets      Store
	hostOverride string
	logger       *slog.Logger
}

// Option configures a Loader.
type Option func(*Loader)

// WithSecrets sets the store holding <name>.json connection descriptors.
// Without it every secret lookup yields nil.
func WithSecrets(s Store) Option {
	return func(l *Loader) { l.secrets = s }
}

// WithHostOverride replaces the host of every descriptor read, so that a
// whole deployment can point at a local tunnel or proxy.
func WithHostOverride(host string) Option {
	return func(l *Loader) { l.hostOverride = host }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loader) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// New creates a Loader reading definitions from configs.
func New(configs Store, opts ...Option) *Loader {
	l := &Loader{configs: configs, logger: slog.Default()}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With("component", "loader")
	return l
}

// Open creates a Loader from two locations understood by OpenStore. An empty
// secrets location disables secrets.
func Open(ctx context.Context, configs, secrets string, storeOpts StoreOptions, opts ...Option) (*Loader, error) {
	cs, err := OpenStore(ctx, configs, storeOpts)
	if err != nil {
		return nil, fmt.Errorf("open config store: %w", err)
	}
	if secrets != "" {
		ss, err := OpenStore(ctx, secrets, storeOpts)
		if err != nil {
			closeStore(cs)
			return nil, fmt.Errorf("open secrets store: %w", err)
		}
		opts = append([]Option{WithSecrets(ss)}, opts...)
	}
	return New(cs, opts...), nil
}

// Close releases store clients that hold resources.
func (l *Loader) Close() error {
	var errs []error
	for _, s := range []Store{l.configs, l.secrets} {
		if c, ok := s.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}

func closeStore(s Store) {
	if c, ok := s.(io.Closer); ok {
		_ = c.Close()
	}
}

// Get implements domain.ConfigLoader.
func (l *Loader) Get(ctx context.Context, kind domain.Kind, name string) (any, error) {
	all, err := l.GetAll(ctx, kind)
	if err != nil {
		return nil, err
	}
	for _, item := range all {
		if definitionName(item) == name {
			return item, nil
		}
	}
	return nil, domain.ErrNotFound(kind, name)
}

// GetAll implements domain.ConfigLoader. Items are domain.Source,
// domain.Metric or domain.Dimension values.
func (l *Loader) GetAll(ctx context.Context, kind domain.Kind) ([]any, error) {
	switch kind {
	case domain.KindSource:
		return boxed(l.Sources(ctx))
	case domain.KindMetric:
		return boxed(l.Metrics(ctx))
	case domain.KindDimension:
		return boxed(l.Dimensions(ctx))
	default:
		return nil, domain.ErrValidation("unknown definition kind %q", kind)
	}
}

func boxed[T any](items []T, err error) ([]any, error) {
	if err != nil {
		return nil, err
	}
	out := make([]any, len(items))
	for i := range items {
		out[i] = items[i]
	}
	return out, nil
}

func definitionName(item any) string {
	switch v := item.(type) {
	case domain.Source:
		return v.Name
	case domain.Metric:
		return v.Name
	case domain.Dimension:
		return v.Name
	}
	return ""
}

// Sources reads every source file. A file maps source names to configs, so
// one file may hold several sources.
func (l *Loader) Sources(ctx context.Context) ([]domain.Source, error) {
	files, err := l.definitionFiles(ctx, SourcesDir)
	if err != nil {
		return nil, err
	}
	var (
		out        []domain.Source
		violations []string
	)
	for _, f := range files {
		var doc map[string]domain.Source
		if err := l.decode(ctx, f, &doc); err != nil {
			violations = append(violations, err.Error())
			continue
		}
		names := make([]string, 0, len(doc))
		for name := range doc {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			src := doc[name]
			if src.Name != "" && src.Name != name {
				violations = append(violations, fmt.Sprintf("%s: source %q declares name %q", f, name, src.Name))
				continue
			}
			src.Name = name
			out = append(out, src)
		}
	}
	if len(violations) > 0 {
		return nil, &domain.ConfigError{Violations: violations}
	}
	return out, nil
}

// Metrics reads every metric file.
func (l *Loader) Metrics(ctx context.Context) ([]domain.Metric, error) {
	return readEach[domain.Metric](ctx, l, MetricsDir)
}

// Dimensions reads every dimension file.
func (l *Loader) Dimensions(ctx context.Context) ([]domain.Dimension, error) {
	return readEach[domain.Dimension](ctx, l, DimensionsDir)
}

func readEach[T any](ctx context.Context, l *Loader, dir string) ([]T, error) {
	files, err := l.definitionFiles(ctx, dir)
	if err != nil {
		return nil, err
	}
	var (
		out        []T
		violations []string
	)
	for _, f := range files {
		var v *T
		if err := l.decode(ctx, f, &v); err != nil {
			violations = append(violations, err.Error())
			continue
		}
		if v == nil {
			l.logger.Warn("skipping empty definition file", "path", f)
			continue
		}
		out = append(out, *v)
	}
	if len(violations) > 0 {
		return nil, &domain.ConfigError{Violations: violations}
	}
	return out, nil
}

// definitionFiles lists the YAML files under dir as store paths.
func (l *Loader) definitionFiles(ctx context.Context, dir string) ([]string, error) {
	names, err := l.configs.List(ctx, dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, name := range names {
		switch path.Ext(name) {
		case ".yaml", ".yml":
			files = append(files, path.Join(dir, name))
		}
	}
	return files, nil
}

// decode strictly parses the YAML file at p into v. Unknown keys are
// errors. An empty file leaves v untouched.
func (l *Loader) decode(ctx context.Context, p string, v any) error {
	data, err := l.configs.Read(ctx, p)
	if err != nil {
		return fmt.Errorf("%s: %w", p, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%s: %w", p, err)
	}
	return nil
}

// GetSecret implements domain.ConfigLoader. A missing secrets store or file
// yields nil and no error.
func (l *Loader) GetSecret(ctx context.Context, name string) (*domain.ConnectionDescriptor, error) {
	if l.secrets == nil {
		return nil, nil
	}
	data, err := l.secrets.Read(ctx, name+".json")
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read secret %q: %w", name, err)
	}
	var desc domain.ConnectionDescriptor
	if err := json.Unmarshal(data, &desc); err != nil {
		return nil, fmt.Errorf("secret %q is not a JSON connection descriptor: %w", name, err)
	}
	if l.hostOverride != "" {
		desc.Host = l.hostOverride
	}
	return &desc, nil
}
