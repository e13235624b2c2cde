package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mimir/internal/connection"
	"mimir/internal/domain"
	"mimir/internal/registry"
)

// State is one immutable generation of the engine: a registry plus the
// connections its sources use. Reload replaces the whole State.
type State struct {
	Registry    *registry.Registry
	Connections *connection.Set
	Version     uint64
	LoadedAt    time.Time
}

// LoadOptions controls how a State is built.
type LoadOptions struct {
	// SkipSecrets builds the registry without reading connection secrets.
	// The resulting State cannot execute against unresolved connections.
	SkipSecrets bool
	// Provided names connections supplied by the caller; their secrets are
	// neither read nor required.
	Provided map[string]bool
	// Connection tunes connections opened by the State.
	Connection connection.Options
	// Factory opens connections. Nil means connection.New.
	Factory connection.Factory
}

// LoadState reads every definition and, unless skipped, every secret through
// loader. All referential and secret violations are reported together as
// one *domain.ConfigError.
func LoadState(ctx context.Context, loader domain.ConfigLoader, opts LoadOptions) (*State, error) {
	reg, err := registry.Load(ctx, loader)
	if err != nil {
		return nil, err
	}

	descriptors := make(map[string]*domain.ConnectionDescriptor)
	if !opts.SkipSecrets {
		var violations []string
		for _, name := range reg.ConnectionNames() {
			if opts.Provided[name] {
				continue
			}
			desc, err := loader.GetSecret(ctx, name)
			if err != nil {
				return nil, fmt.Errorf("load secret %q: %w", name, err)
			}
			if desc == nil {
				violations = append(violations, fmt.Sprintf("connection %q: no secret found", name))
				continue
			}
			if err := connection.ValidateDescriptor(name, desc); err != nil {
				violations = append(violations, configViolations(err)...)
				continue
			}
			descriptors[name] = desc
		}
		if len(violations) > 0 {
			return nil, &domain.ConfigError{Violations: violations}
		}
	}

	return &State{
		Registry:    reg,
		Connections: connection.NewSet(descriptors, opts.Connection, opts.Factory),
		LoadedAt:    time.Now(),
	}, nil
}

func configViolations(err error) []string {
	var ce *domain.ConfigError
	if errors.As(err, &ce) {
		return ce.Violations
	}
	return []string{err.Error()}
}
