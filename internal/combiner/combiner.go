// Package combiner joins per-source results into the final Inquiry result
// inside an embedded, in-memory DuckDB.
package combiner

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	_ "github.com/duckdb/duckdb-go/v2" // DuckDB driver
	"github.com/google/uuid"

	"mimir/internal/connection"
	"mimir/internal/domain"
	"mimir/internal/mimirsql"
	"mimir/internal/planner"
)

// Combiner owns one in-memory DuckDB. Each Combine call takes its own
// connection lease and works on uniquely named scratch tables, so calls may
// run concurrently.
type Combiner struct {
	db     *sql.DB
	logger *slog.Logger
}

// New opens the combiner's DuckDB.
func New(logger *slog.Logger) (*Combiner, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("open combiner duckdb: %w", err)
	}
	if _, err := db.Exec("SET enable_external_access = false"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("configure combiner duckdb: %w", err)
	}
	return &Combiner{db: db, logger: logger.With("component", "combiner")}, nil
}

// Close releases the DuckDB handle.
func (c *Combiner) Close() error {
	return c.db.Close()
}

// Combine outer-joins results, keyed by source name, on the plan's
// dimensions and applies post filters, ordering and limit. Errors are
// *domain.CombineError.
func (c *Combiner) Combine(ctx context.Context, results map[string]*domain.ResultTable, plan *planner.Plan) (*domain.ResultTable, error) {
	if len(plan.Queries) == 0 {
		return nil, domain.ErrCombine(nil, "plan has no queries")
	}
	for i := range plan.Queries {
		q := &plan.Queries[i]
		table, ok := results[q.Source]
		if !ok || table == nil {
			return nil, domain.ErrCombine(nil, "no result for source %q", q.Source)
		}
		if err := checkSchema(q, table); err != nil {
			return nil, err
		}
	}

	start := time.Now()
	conn, err := c.db.Conn(ctx)
	if err != nil {
		return nil, domain.ErrCombine(err, "acquire combiner connection")
	}
	defer conn.Close() //nolint:errcheck

	prefix := "combine_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	tables := make([]string, len(plan.Queries))
	defer func() {
		// ctx may already be cancelled; scratch tables must go regardless.
		for _, t := range tables {
			if t != "" {
				_, _ = conn.ExecContext(context.Background(), "DROP TABLE IF EXISTS "+t)
			}
		}
	}()

	loaded := make([]*domain.ResultTable, len(plan.Queries))
	for i := range plan.Queries {
		loaded[i] = results[plan.Queries[i].Source]
	}
	dimKinds := dimensionKinds(plan.Dimensions, loaded)

	for i := range plan.Queries {
		q := &plan.Queries[i]
		name := prefix + "_" + strconv.Itoa(i)
		tables[i] = name
		if err := loadTable(ctx, conn, name, q.Columns(), loaded[i], dimKinds); err != nil {
			return nil, domain.ErrCombine(err, "load result of source %q", q.Source)
		}
	}

	query, err := BuildSQL(plan, tables)
	if err != nil {
		return nil, err
	}

	rows, err := conn.QueryContext(ctx, query)
	if err != nil {
		return nil, domain.ErrCombine(err, "join results")
	}
	defer rows.Close() //nolint:errcheck

	out, err := connection.ScanRows(rows)
	if err != nil {
		return nil, domain.ErrCombine(err, "read joined result")
	}
	c.logger.Debug("results combined",
		"sources", len(plan.Queries), "rows", out.NumRows(), "duration", time.Since(start))
	return out, nil
}

// checkSchema requires table to carry exactly the columns q was planned
// with. Backends that fold identifier case are tolerated.
func checkSchema(q *planner.AtomicQuery, table *domain.ResultTable) error {
	want := q.Columns()
	got := table.ColumnNames()
	if len(want) != len(got) {
		return domain.ErrCombine(nil, "source %q returned columns %v, expected %v", q.Source, got, want)
	}
	for i := range want {
		if !strings.EqualFold(want[i], got[i]) {
			return domain.ErrCombine(nil, "source %q returned columns %v, expected %v", q.Source, got, want)
		}
	}
	return nil
}

// BuildSQL renders the join over the loaded tables, one per plan query and
// in plan order.
//
// Only sources evaluating the same set of output dimensions are joined on
// them. A NULL placeholder never stands in for a real key, so rows of
// sources with different native sets stay apart.
func BuildSQL(plan *planner.Plan, tables []string) (string, error) {
	alias := func(i int) string { return "t" + strconv.Itoa(i) }

	// natives[d] lists the aliases of tables evaluating dimension d.
	natives := make(map[string][]string, len(plan.Dimensions))
	for i := range plan.Queries {
		for _, d := range plan.Queries[i].Native {
			natives[d] = append(natives[d], alias(i))
		}
	}

	groups := joinGroups(plan)
	terms := make([]string, len(groups))
	for g, members := range groups {
		var b strings.Builder
		// seen[d] lists the aliases already joined in this group.
		seen := make(map[string][]string, len(plan.Dimensions))
		for k, i := range members {
			q := &plan.Queries[i]
			a := alias(i)
			if k == 0 {
				b.WriteString(tables[i] + " AS " + a)
			} else {
				conds := make([]string, 0, len(q.Native))
				for _, d := range plan.Dimensions {
					if q.IsNative(d) {
						conds = append(conds, fmt.Sprintf("%s.%s IS NOT DISTINCT FROM %s",
							a, mimirsql.QuoteIdent(d), coalesce(seen[d], d)))
					}
				}
				on := "TRUE"
				if len(conds) > 0 {
					on = strings.Join(conds, " AND ")
				}
				b.WriteString("\nFULL OUTER JOIN " + tables[i] + " AS " + a + " ON " + on)
			}
			for _, d := range plan.Dimensions {
				if q.IsNative(d) {
					seen[d] = append(seen[d], a)
				}
			}
		}
		terms[g] = b.String()
		if len(members) > 1 && len(groups) > 1 {
			terms[g] = "(" + terms[g] + ")"
		}
	}

	var from strings.Builder
	from.WriteString(terms[0])
	for _, t := range terms[1:] {
		from.WriteString("\nFULL OUTER JOIN " + t + " ON FALSE")
	}

	sel := make([]string, 0, len(plan.Dimensions)+len(plan.Metrics))
	for _, d := range plan.Dimensions {
		if len(natives[d]) == 0 {
			sel = append(sel, "CAST(NULL AS VARCHAR) AS "+mimirsql.QuoteIdent(d))
			continue
		}
		sel = append(sel, coalesce(natives[d], d)+" AS "+mimirsql.QuoteIdent(d))
	}
	owner := make(map[string]string, len(plan.Metrics))
	for i := range plan.Queries {
		for _, m := range plan.Queries[i].Metrics {
			owner[m] = alias(i)
		}
	}
	for _, m := range plan.Metrics {
		a, ok := owner[m]
		if !ok {
			return "", domain.ErrCombine(nil, "metric %q has no source query", m)
		}
		sel = append(sel, a+"."+mimirsql.QuoteIdent(m)+" AS "+mimirsql.QuoteIdent(m))
	}

	parts := []string{
		"SELECT * FROM (",
		"SELECT " + strings.Join(sel, ", "),
		"FROM " + from.String(),
		") AS combined",
	}

	if len(plan.PostFilters) > 0 {
		conds := make([]string, len(plan.PostFilters))
		for i, f := range plan.PostFilters {
			expr, err := mimirsql.ParseExpr(f)
			if err != nil {
				return "", domain.ErrCombine(err, "post filter %q", f)
			}
			conds[i] = "(" + mimirsql.Format(expr, nil) + ")"
		}
		parts = append(parts, "WHERE "+strings.Join(conds, " AND "))
	}

	if order := orderBy(plan); order != "" {
		parts = append(parts, "ORDER BY "+order)
	}
	if plan.Limit != nil {
		parts = append(parts, "LIMIT "+strconv.Itoa(*plan.Limit))
	}
	return strings.Join(parts, "\n"), nil
}

// joinGroups partitions the plan's queries, in plan order, into sets that
// evaluate the same output dimensions. A query evaluating none of several
// requested dimensions joins nothing.
func joinGroups(plan *planner.Plan) [][]int {
	var groups [][]int
	index := make(map[string]int)
	for i := range plan.Queries {
		q := &plan.Queries[i]
		var key strings.Builder
		for _, d := range plan.Dimensions {
			if q.IsNative(d) {
				key.WriteString(d)
				key.WriteByte(0)
			}
		}
		if key.Len() == 0 && len(plan.Dimensions) > 0 {
			groups = append(groups, []int{i})
			continue
		}
		if g, ok := index[key.String()]; ok {
			groups[g] = append(groups[g], i)
			continue
		}
		index[key.String()] = len(groups)
		groups = append(groups, []int{i})
	}
	return groups
}

func orderBy(plan *planner.Plan) string {
	if len(plan.OrderBy) > 0 {
		terms := make([]string, len(plan.OrderBy))
		for i, t := range plan.OrderBy {
			terms[i] = t.SQL()
		}
		return strings.Join(terms, ", ")
	}
	terms := make([]string, len(plan.Dimensions))
	for i, d := range plan.Dimensions {
		terms[i] = mimirsql.QuoteIdent(d) + " ASC NULLS LAST"
	}
	return strings.Join(terms, ", ")
}

func coalesce(aliases []string, col string) string {
	refs := make([]string, len(aliases))
	for i, a := range aliases {
		refs[i] = a + "." + mimirsql.QuoteIdent(col)
	}
	if len(refs) == 1 {
		return refs[0]
	}
	return "COALESCE(" + strings.Join(refs, ", ") + ")"
}
