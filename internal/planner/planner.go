// Package planner decomposes an Inquiry into one atomic query per source.
//
// Planning is pure: it reads the registry and renders SQL text, and never
// touches a connection. Dry runs stop here.
package planner

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	"mimir/internal/domain"
	"mimir/internal/mimirsql"
	"mimir/internal/registry"
)

// NullPlaceholder is the typed NULL emitted for dimensions a source cannot
// evaluate.
const NullPlaceholder = "CAST(NULL AS CHAR)"

const dateLayout = "2006-01-02"

var (
	trailingAliasRe = regexp.MustCompile(`(?i)\s+AS\s+[A-Za-z_][A-Za-z0-9_]*\s*$`)
	orderTermRe     = regexp.MustCompile(`(?i)^\s*([A-Za-z_][A-Za-z0-9_]*)(?:\s+(ASC|DESC))?(?:\s+NULLS\s+(FIRST|LAST))?\s*$`)
)

// AtomicQuery is the query for one source.
type AtomicQuery struct {
	Source         string
	ConnectionName string
	SQL            string
	// Native lists the output dimensions this source evaluates itself, in
	// output order. The rest are NULL placeholders.
	Native  []string
	Metrics []string
	// Filters are the inquiry filters this source applies in its WHERE
	// clause, as written in the inquiry.
	Filters []string

	dims []string
}

// Columns returns the expected output schema: every plan dimension, then
// this source's metrics.
func (q *AtomicQuery) Columns() []string {
	cols := make([]string, 0, len(q.dims)+len(q.Metrics))
	cols = append(cols, q.dims...)
	return append(cols, q.Metrics...)
}

// IsNative reports whether dim is evaluated by this source.
func (q *AtomicQuery) IsNative(dim string) bool {
	for _, d := range q.Native {
		if d == dim {
			return true
		}
	}
	return false
}

// OrderTerm is one resolved ORDER BY entry over an output column.
type OrderTerm struct {
	Column     string
	Desc       bool
	NullsFirst *bool
}

// SQL renders the term.
func (o OrderTerm) SQL() string {
	s := o.Column
	if o.Desc {
		s += " DESC"
	} else {
		s += " ASC"
	}
	switch {
	case o.NullsFirst == nil:
	case *o.NullsFirst:
		s += " NULLS FIRST"
	default:
		s += " NULLS LAST"
	}
	return s
}

// Plan is the ordered set of atomic queries for one Inquiry plus what the
// combiner needs to finish the job.
type Plan struct {
	// Dimensions are the output dimension columns; the granularity bucket,
	// when requested, comes first.
	Dimensions []string
	Metrics    []string
	Queries    []AtomicQuery
	// PostFilters are conditions over output column names that at least one
	// source could not apply itself.
	PostFilters []string
	// PartialFilters are filters that only some sources apply and that
	// cannot run after the join because they reference dimensions missing
	// from the output. Rows of the other sources pass unfiltered.
	PartialFilters []string
	OrderBy        []OrderTerm
	Limit       *int
}

// Columns returns the final output columns: dimensions then metrics.
func (p *Plan) Columns() []string {
	cols := make([]string, 0, len(p.Dimensions)+len(p.Metrics))
	cols = append(cols, p.Dimensions...)
	return append(cols, p.Metrics...)
}

// SkippedBy lists the sources that did not apply filter.
func (p *Plan) SkippedBy(filter string) []string {
	var out []string
	for _, q := range p.Queries {
		if !slices.Contains(q.Filters, filter) {
			out = append(out, q.Source)
		}
	}
	return out
}

// Compiled returns the per-source SQL texts, as reported by a dry run.
func (p *Plan) Compiled() []domain.CompiledQuery {
	out := make([]domain.CompiledQuery, len(p.Queries))
	for i, q := range p.Queries {
		out[i] = domain.CompiledQuery{Source: q.Source, SQL: q.SQL}
	}
	return out
}

type filter struct {
	text string
	expr mimirsql.Expr
	dims []string
}

// Build plans inq against reg. Every failure is a *domain.PlanningError.
func Build(inq *domain.Inquiry, reg *registry.Registry) (*Plan, error) {
	if len(inq.Metrics) == 0 {
		return nil, domain.ErrPlanning("inquiry must request at least one metric")
	}
	if err := checkDuplicates("metric", inq.Metrics); err != nil {
		return nil, err
	}
	if err := checkDuplicates("dimension", inq.Dimensions); err != nil {
		return nil, err
	}

	requested := make(map[string]bool, len(inq.Dimensions))
	for _, name := range inq.Dimensions {
		if _, err := reg.Dimension(name); err != nil {
			return nil, domain.ErrPlanning("unknown dimension %q", name)
		}
		requested[name] = true
	}

	// Group metrics by source in first-appearance order.
	var order []string
	bySource := make(map[string][]string)
	for _, name := range inq.Metrics {
		m, err := reg.Metric(name)
		if err != nil {
			return nil, domain.ErrPlanning("unknown metric %q", name)
		}
		for _, req := range m.RequiredDimensions {
			if !requested[req] {
				return nil, domain.ErrPlanning("metric %q requires dimension %q", name, req)
			}
		}
		if _, ok := bySource[m.SourceName]; !ok {
			order = append(order, m.SourceName)
		}
		bySource[m.SourceName] = append(bySource[m.SourceName], name)
	}

	gran := domain.Granularity(strings.ToUpper(string(inq.Granularity)))
	if gran != "" && !gran.Valid() {
		return nil, domain.ErrPlanning("unknown granularity %q (want TIME, DATE, MONTH or YEAR)", inq.Granularity)
	}
	if gran != "" && requested[gran.Alias()] {
		return nil, domain.ErrPlanning("dimension %q collides with the %s granularity column", gran.Alias(), gran)
	}

	start, end, err := parseDates(inq.StartDate, inq.EndDate)
	if err != nil {
		return nil, err
	}

	filters, err := parseFilters(inq.Filters, reg)
	if err != nil {
		return nil, err
	}

	plan := &Plan{Metrics: append([]string(nil), inq.Metrics...)}
	if gran != "" {
		plan.Dimensions = append(plan.Dimensions, gran.Alias())
	}
	plan.Dimensions = append(plan.Dimensions, inq.Dimensions...)

	applied := make([]int, len(filters))
	for _, sourceName := range order {
		src, err := reg.Source(sourceName)
		if err != nil {
			return nil, domain.ErrPlanning("metric source %q is not defined", sourceName)
		}
		q := buildQuery(src, bySource[sourceName], inq.Dimensions, gran, start, end, filters, applied, reg)
		q.dims = plan.Dimensions
		plan.Queries = append(plan.Queries, q)
	}

	for i, f := range filters {
		if applied[i] == len(plan.Queries) {
			continue
		}
		if !allRequested(f.dims, requested) {
			if applied[i] == 0 {
				return nil, domain.ErrPlanning("filter %q cannot be applied: no requested source provides %s; add it to the dimensions",
					f.text, strings.Join(f.dims, ", "))
			}
			plan.PartialFilters = append(plan.PartialFilters, f.text)
			continue
		}
		plan.PostFilters = append(plan.PostFilters, mimirsql.Format(f.expr, nil))
	}

	if plan.OrderBy, err = parseOrderBy(inq.OrderBy, plan.Columns()); err != nil {
		return nil, err
	}
	if inq.Limit != nil {
		if *inq.Limit < 0 {
			return nil, domain.ErrPlanning("limit must be non-negative, got %d", *inq.Limit)
		}
		n := *inq.Limit
		plan.Limit = &n
	}
	return plan, nil
}

func buildQuery(src *domain.Source, metrics, dims []string, gran domain.Granularity,
	start, end string, filters []filter, applied []int, reg *registry.Registry) AtomicQuery {
	q := AtomicQuery{Source: src.Name, ConnectionName: src.ConnectionName, Metrics: metrics}
	timeCol := src.TimeColumn()

	var (
		selects []string
		groupBy []string
		where   []string
	)
	if gran != "" {
		selects = append(selects, gran.Expression(timeCol)+" AS "+gran.Alias())
		groupBy = append(groupBy, fmt.Sprint(len(selects)))
		q.Native = append(q.Native, gran.Alias())
	}
	for _, name := range dims {
		if !reg.IsNative(name, src.Name) {
			selects = append(selects, NullPlaceholder+" AS "+name)
			continue
		}
		d, _ := reg.Dimension(name)
		selects = append(selects, StripAlias(d.SQL)+" AS "+name)
		groupBy = append(groupBy, fmt.Sprint(len(selects)))
		q.Native = append(q.Native, name)
	}
	for _, name := range metrics {
		m, _ := reg.Metric(name)
		selects = append(selects, StripAlias(m.SQL)+" AS "+name)
	}

	for i, f := range filters {
		if !allNative(f.dims, src.Name, reg) {
			continue
		}
		where = append(where, mimirsql.Format(f.expr, func(ref *mimirsql.ColumnRef) string {
			d, _ := reg.Dimension(ref.Column)
			return "(" + StripAlias(d.SQL) + ")"
		}))
		q.Filters = append(q.Filters, f.text)
		applied[i]++
	}
	if start != "" {
		where = append(where, fmt.Sprintf("%s >= %s", timeCol, mimirsql.QuoteString(start)))
	}
	if end != "" {
		where = append(where, fmt.Sprintf("%s < %s", timeCol, mimirsql.QuoteString(end)))
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(strings.Join(selects, ", "))
	b.WriteString("\nFROM (\n")
	b.WriteString(trimStatement(src.SQL))
	b.WriteString("\n) AS ")
	b.WriteString(src.Name)
	if len(where) > 0 {
		b.WriteString("\nWHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	if len(groupBy) > 0 {
		b.WriteString("\nGROUP BY ")
		b.WriteString(strings.Join(groupBy, ", "))
	}
	q.SQL = b.String()
	return q
}

// StripAlias removes a trailing "AS alias" from a definition expression.
func StripAlias(sql string) string {
	return strings.TrimSpace(trailingAliasRe.ReplaceAllString(strings.TrimSpace(sql), ""))
}

func trimStatement(sql string) string {
	return strings.TrimRight(strings.TrimSpace(sql), "; \t\n")
}

func checkDuplicates(kind string, names []string) error {
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		if seen[n] {
			return domain.ErrPlanning("duplicate %s %q", kind, n)
		}
		seen[n] = true
	}
	return nil
}

// parseDates validates the inclusive range and returns the lower bound and
// the exclusive upper bound (end + 1 day).
func parseDates(startDate, endDate string) (string, string, error) {
	var start, end time.Time
	var err error
	if startDate != "" {
		if start, err = time.Parse(dateLayout, startDate); err != nil {
			return "", "", domain.ErrPlanning("invalid start_date %q: want YYYY-MM-DD", startDate)
		}
	}
	if endDate != "" {
		if end, err = time.Parse(dateLayout, endDate); err != nil {
			return "", "", domain.ErrPlanning("invalid end_date %q: want YYYY-MM-DD", endDate)
		}
	}
	if startDate != "" && endDate != "" && end.Before(start) {
		return "", "", domain.ErrPlanning("end_date %s is before start_date %s", endDate, startDate)
	}
	var lo, hi string
	if startDate != "" {
		lo = start.Format(dateLayout)
	}
	if endDate != "" {
		hi = end.AddDate(0, 0, 1).Format(dateLayout)
	}
	return lo, hi, nil
}

func parseFilters(texts []string, reg *registry.Registry) ([]filter, error) {
	out := make([]filter, 0, len(texts))
	for _, text := range texts {
		expr, err := mimirsql.ParseExpr(text)
		if err != nil {
			return nil, domain.ErrPlanning("invalid filter %q: %v", text, err)
		}
		f := filter{text: text, expr: expr}
		seen := map[string]bool{}
		for _, ref := range mimirsql.ColumnRefs(expr) {
			if len(ref.Qualifier) > 0 {
				return nil, domain.ErrPlanning("invalid filter %q: qualified name %s.%s", text, strings.Join(ref.Qualifier, "."), ref.Column)
			}
			if _, err := reg.Dimension(ref.Column); err != nil {
				return nil, domain.ErrPlanning("filter %q references unknown dimension %q", text, ref.Column)
			}
			if !seen[ref.Column] {
				seen[ref.Column] = true
				f.dims = append(f.dims, ref.Column)
			}
		}
		out = append(out, f)
	}
	return out, nil
}

func parseOrderBy(terms []string, columns []string) ([]OrderTerm, error) {
	known := make(map[string]bool, len(columns))
	for _, c := range columns {
		known[c] = true
	}
	var out []OrderTerm
	for _, term := range terms {
		m := orderTermRe.FindStringSubmatch(term)
		if m == nil {
			return nil, domain.ErrPlanning("invalid order_by term %q: want <column> [ASC|DESC] [NULLS FIRST|LAST]", term)
		}
		if !known[m[1]] {
			return nil, domain.ErrPlanning("order_by column %q is not in the output", m[1])
		}
		o := OrderTerm{Column: m[1], Desc: strings.EqualFold(m[2], "DESC")}
		if m[3] != "" {
			first := strings.EqualFold(m[3], "FIRST")
			o.NullsFirst = &first
		}
		out = append(out, o)
	}
	return out, nil
}

func allNative(dims []string, source string, reg *registry.Registry) bool {
	for _, d := range dims {
		if !reg.IsNative(d, source) {
			return false
		}
	}
	return true
}

func allRequested(dims []string, requested map[string]bool) bool {
	for _, d := range dims {
		if !requested[d] {
			return false
		}
	}
	return true
}
