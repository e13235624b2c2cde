package registry

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"mimir/internal/domain"
)

// identRe matches names that can be embedded as unquoted SQL aliases.
var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// violations accumulates referential-integrity problems.
type violations []string

func (v *violations) add(path, msg string, args ...any) {
	*v = append(*v, path+": "+fmt.Sprintf(msg, args...))
}

func (v violations) err() error {
	if len(v) == 0 {
		return nil
	}
	out := append([]string(nil), v...)
	sort.Strings(out)
	return &domain.ConfigError{Violations: out}
}

// validate checks every definition and cross-reference. It never stops at
// the first problem.
func validate(sources []domain.Source, metrics []domain.Metric, dims []domain.Dimension) violations {
	var errs violations

	sourceNames := make(map[string]bool, len(sources))
	for _, s := range sources {
		path := fmt.Sprintf("source[%s]", s.Name)
		checkName(&errs, path, s.Name)
		if sourceNames[s.Name] {
			errs.add(path, "duplicate source name")
		}
		sourceNames[s.Name] = true

		if strings.TrimSpace(s.SQL) == "" {
			errs.add(path, "sql is required")
		}
		if s.TimeCol == "" {
			errs.add(path, "time_col is required")
		}
		if s.TimeColAlias != "" && !identRe.MatchString(s.TimeColAlias) {
			errs.add(path, "time_col_alias %q is not a valid identifier", s.TimeColAlias)
		}
		if s.ConnectionName == "" {
			errs.add(path, "connection_name is required")
		}
	}

	dimNames := make(map[string]bool, len(dims))
	for _, d := range dims {
		path := fmt.Sprintf("dimension[%s]", d.Name)
		checkName(&errs, path, d.Name)
		if dimNames[d.Name] {
			errs.add(path, "duplicate dimension name")
		}
		dimNames[d.Name] = true

		if strings.TrimSpace(d.SQL) == "" {
			errs.add(path, "sql is required")
		}
		if d.SourceName == "" {
			errs.add(path, "source_name is required")
		} else if !sourceNames[d.SourceName] {
			errs.add(path, "source_name %q does not reference a defined source", d.SourceName)
		}
	}

	metricNames := make(map[string]bool, len(metrics))
	for _, m := range metrics {
		path := fmt.Sprintf("metric[%s]", m.Name)
		checkName(&errs, path, m.Name)
		if metricNames[m.Name] {
			errs.add(path, "duplicate metric name")
		}
		metricNames[m.Name] = true
		if dimNames[m.Name] {
			errs.add(path, "name collides with a dimension of the same name")
		}

		if strings.TrimSpace(m.SQL) == "" {
			errs.add(path, "sql is required")
		}
		if m.SourceName == "" {
			errs.add(path, "source_name is required")
		} else if !sourceNames[m.SourceName] {
			errs.add(path, "source_name %q does not reference a defined source", m.SourceName)
		}
		for _, rd := range m.RequiredDimensions {
			if !dimNames[rd] {
				errs.add(path, "required dimension %q is not a defined dimension", rd)
			}
		}
	}

	for _, s := range sources {
		for _, d := range s.Dimensions {
			if !dimNames[d] {
				errs.add(fmt.Sprintf("source[%s]", s.Name), "dimension %q is not a defined dimension", d)
			}
		}
	}

	return errs
}

func checkName(errs *violations, path, name string) {
	if name == "" {
		errs.add(path, "name is required")
		return
	}
	if !identRe.MatchString(name) {
		errs.add(path, "name %q is not a valid identifier", name)
	}
}
