package domain

import "fmt"

// Kind identifies a definition type held by the registry.
type Kind string

// Definition kinds.
const (
	KindSource    Kind = "source"
	KindMetric    Kind = "metric"
	KindDimension Kind = "dimension"
)

// ParseKind accepts singular and plural spellings ("metric", "metrics").
func ParseKind(s string) (Kind, error) {
	switch s {
	case "source", "sources":
		return KindSource, nil
	case "metric", "metrics":
		return KindMetric, nil
	case "dimension", "dimensions":
		return KindDimension, nil
	default:
		return "", ErrValidation("unknown definition kind %q", s)
	}
}

// Source is a named denormalized view over one backend connection. SQL is
// embedded verbatim as a subquery and never parsed.
type Source struct {
	Name           string   `yaml:"name,omitempty" json:"name"`
	Description    string   `yaml:"description,omitempty" json:"description,omitempty"`
	TimeCol        string   `yaml:"time_col" json:"time_col"`
	TimeColAlias   string   `yaml:"time_col_alias,omitempty" json:"time_col_alias,omitempty"`
	ConnectionName string   `yaml:"connection_name" json:"connection_name"`
	SQL            string   `yaml:"sql" json:"sql"`
	Dimensions     []string `yaml:"dimensions,omitempty" json:"dimensions,omitempty"`
}

// TimeColumn returns the name of the time column in the source's output rows.
func (s *Source) TimeColumn() string {
	if s.TimeColAlias != "" {
		return s.TimeColAlias
	}
	return s.TimeCol
}

// Metric is a named aggregation expression bound to one Source.
type Metric struct {
	Name               string   `yaml:"name" json:"name"`
	Description        string   `yaml:"description,omitempty" json:"description,omitempty"`
	SourceName         string   `yaml:"source_name" json:"source_name"`
	SQL                string   `yaml:"sql" json:"sql"`
	RequiredDimensions []string `yaml:"required_dimensions,omitempty" json:"required_dimensions,omitempty"`
}

// Dimension is a named scalar expression bound to one Source.
type Dimension struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	SourceName  string `yaml:"source_name" json:"source_name"`
	SQL         string `yaml:"sql" json:"sql"`
}

// SourceSchema describes what a single source can answer.
type SourceSchema struct {
	Source        string   `json:"source"`
	Dimensions    []string `json:"dimensions"`
	Metrics       []string `json:"metrics"`
	TimeDimension string   `json:"time_dimension"`
}

// Granularity buckets the source time column into an extra leading dimension.
type Granularity string

// Supported granularities.
const (
	GranularityTime  Granularity = "TIME"
	GranularityDate  Granularity = "DATE"
	GranularityMonth Granularity = "MONTH"
	GranularityYear  Granularity = "YEAR"
)

// Alias returns the output column name for the bucket.
func (g Granularity) Alias() string {
	switch g {
	case GranularityTime:
		return "ts"
	case GranularityDate:
		return "ds"
	case GranularityMonth:
		return "year_month"
	case GranularityYear:
		return "year"
	default:
		return ""
	}
}

// Expression renders the bucket expression over col.
func (g Granularity) Expression(col string) string {
	switch g {
	case GranularityTime:
		return col
	case GranularityDate:
		return fmt.Sprintf("CAST(%s AS DATE)", col)
	case GranularityMonth:
		return fmt.Sprintf("DATE_TRUNC('month', %s)", col)
	case GranularityYear:
		return fmt.Sprintf("DATE_TRUNC('year', %s)", col)
	default:
		return ""
	}
}

// Valid reports whether g is a known granularity.
func (g Granularity) Valid() bool {
	return g.Alias() != ""
}
