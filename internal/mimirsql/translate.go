package mimirsql

import (
	"fmt"
	"strconv"
	"strings"

	"mimir/internal/domain"
)

// TranslationKind tells the front end how to answer a statement.
type TranslationKind int

// KindInquiry and friends enumerate translation outcomes.
const (
	// KindInquiry statements run through the engine.
	KindInquiry TranslationKind = iota
	// KindProbe statements have no FROM and are answered by a local scratch
	// database (client capability probes such as SELECT version()).
	KindProbe
	// KindSession statements are acknowledged without effect.
	KindSession
)

// Translation is the outcome of translating one statement.
type Translation struct {
	Kind    TranslationKind
	Inquiry *domain.Inquiry
	// Columns lists the selected dimension and metric names in select-list
	// order. The engine returns dimensions first; callers reorder with it.
	Columns []string
	Probe   string
	Command string
}

// aggregateFunctions are rejected with a hint to use AGG.
var aggregateFunctions = map[string]bool{
	"sum": true, "count": true, "avg": true, "min": true, "max": true,
	"median": true, "stddev": true, "variance": true, "array_agg": true,
	"string_agg": true, "any_value": true, "bool_and": true, "bool_or": true,
}

// probeFunctions may appear in a SELECT without FROM.
var probeFunctions = map[string]bool{
	"version": true, "current_database": true, "current_schema": true,
	"current_schemas": true, "current_catalog": true, "current_user": true,
	"session_user": true, "current_setting": true, "now": true,
	"current_date": true, "current_timestamp": true, "lower": true,
	"upper": true, "concat": true, "length": true, "coalesce": true,
}

// probeIdentifiers are niladic SQL functions written without parentheses.
var probeIdentifiers = map[string]bool{
	"current_user": true, "session_user": true, "current_catalog": true,
	"current_schema": true, "current_date": true, "current_timestamp": true,
}

// Project reorders an inquiry result's columns to the select-list order.
func (t *Translation) Project(table *domain.ResultTable) (*domain.ResultTable, error) {
	if table == nil {
		return nil, domain.ErrCombine(nil, "engine returned no result")
	}
	if len(t.Columns) == 0 {
		return table, nil
	}
	out := &domain.ResultTable{Columns: make([]domain.Column, len(t.Columns))}
	for i, name := range t.Columns {
		col := table.Column(name)
		if col == nil {
			return nil, domain.ErrCombine(nil, "result has no column %q", name)
		}
		out.Columns[i] = *col
	}
	return out, nil
}

// Translate parses sql and translates it.
func Translate(sql string) (*Translation, error) {
	stmt, err := Parse(sql)
	if err != nil {
		return nil, err
	}
	return TranslateStmt(stmt)
}

// TranslateStmt translates a parsed statement.
func TranslateStmt(stmt Stmt) (*Translation, error) {
	switch s := stmt.(type) {
	case *SessionStmt:
		return &Translation{Kind: KindSession, Command: s.Command}, nil
	case *SelectStmt:
		if s.From == nil {
			return translateProbe(s)
		}
		return translateSelect(s)
	default:
		return nil, domain.ErrUnsupportedSQL("statement", "only SELECT statements are supported")
	}
}

func translateProbe(s *SelectStmt) (*Translation, error) {
	if s.Where != nil || s.GroupBy != nil || s.Having != nil || s.OrderBy != nil || s.Limit != nil || s.Offset != nil {
		return nil, domain.ErrUnsupportedSQL("probe", "SELECT without FROM may only list constant expressions")
	}
	var err error
	for _, item := range s.Columns {
		Walk(item.Expr, func(e Expr) bool {
			if err != nil {
				return false
			}
			switch x := e.(type) {
			case *StarExpr:
				err = domain.ErrUnsupportedSQL("*", "* requires FROM mimir.metrics")
			case *ColumnRef:
				if len(x.Qualifier) > 0 || !probeIdentifiers[strings.ToLower(x.Column)] {
					err = domain.ErrUnsupportedSQL("relation", "column %q requires FROM mimir.metrics", x.Column)
				}
			case *FuncCall:
				if !probeFunctions[strings.ToLower(x.Name)] {
					err = domain.ErrUnsupportedSQL("function", "function %s() is not available without FROM mimir.metrics", x.Name)
				}
			}
			return err == nil
		})
		if err != nil {
			return nil, err
		}
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	for i, item := range s.Columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(Format(item.Expr, nil))
		if item.Alias != "" {
			b.WriteString(" AS " + QuoteIdent(item.Alias))
		}
	}
	return &Translation{Kind: KindProbe, Probe: b.String()}, nil
}

// selectTranslator carries per-statement state.
type selectTranslator struct {
	stmt    *SelectStmt
	dims    []string
	metrics []string
	columns []string
	// selected maps output column name -> true for dims and metrics.
	selected map[string]bool
	isDim    map[string]bool
}

func translateSelect(s *SelectStmt) (*Translation, error) {
	t := &selectTranslator{stmt: s, selected: map[string]bool{}, isDim: map[string]bool{}}

	if err := t.checkRelation(); err != nil {
		return nil, err
	}
	switch {
	case s.Distinct:
		return nil, domain.ErrUnsupportedSQL("DISTINCT", "SELECT DISTINCT is not supported; results are already grouped")
	case s.Having != nil:
		return nil, domain.ErrUnsupportedSQL("HAVING", "HAVING is not supported")
	case s.Offset != nil:
		return nil, domain.ErrUnsupportedSQL("OFFSET", "OFFSET is not supported")
	}

	if err := t.selectList(); err != nil {
		return nil, err
	}
	filters, err := t.where()
	if err != nil {
		return nil, err
	}
	if err := t.groupBy(); err != nil {
		return nil, err
	}
	orderBy, err := t.orderBy()
	if err != nil {
		return nil, err
	}
	limit, err := t.limit()
	if err != nil {
		return nil, err
	}

	return &Translation{
		Kind: KindInquiry,
		Inquiry: &domain.Inquiry{
			Metrics:    t.metrics,
			Dimensions: t.dims,
			Filters:    filters,
			OrderBy:    orderBy,
			Limit:      limit,
		},
		Columns: t.columns,
	}, nil
}

func (t *selectTranslator) checkRelation() error {
	from := t.stmt.From
	if from.Catalog != "" || !strings.EqualFold(from.Schema, "mimir") || !strings.EqualFold(from.Name, "metrics") {
		name := from.Name
		if from.Schema != "" {
			name = from.Schema + "." + name
		}
		if from.Catalog != "" {
			name = from.Catalog + "." + name
		}
		return domain.ErrUnsupportedSQL("relation", "unknown relation %q; only mimir.metrics can be queried", name)
	}
	return nil
}

// columnName resolves a column reference, checking its qualifier.
func (t *selectTranslator) columnName(ref *ColumnRef) (string, error) {
	q := ref.Qualifier
	switch {
	case len(q) == 0:
	case len(q) == 1 && (strings.EqualFold(q[0], "metrics") || (t.stmt.From.Alias != "" && q[0] == t.stmt.From.Alias)):
	case len(q) == 2 && strings.EqualFold(q[0], "mimir") && strings.EqualFold(q[1], "metrics"):
	default:
		return "", domain.ErrUnsupportedSQL("relation", "unknown qualifier %q", strings.Join(q, "."))
	}
	return ref.Column, nil
}

func (t *selectTranslator) selectList() error {
	for _, item := range t.stmt.Columns {
		switch x := item.Expr.(type) {
		case *StarExpr:
			return domain.ErrUnsupportedSQL("*", "SELECT * is not supported; list dimensions and AGG(metric) columns")
		case *ColumnRef:
			name, err := t.columnName(x)
			if err != nil {
				return err
			}
			if err := checkAlias(item, name); err != nil {
				return err
			}
			t.dims = append(t.dims, name)
			t.isDim[name] = true
			t.add(name)
		case *FuncCall:
			name, err := t.aggArgument(x)
			if err != nil {
				return err
			}
			if err := checkAlias(item, name); err != nil {
				return err
			}
			t.metrics = append(t.metrics, name)
			t.add(name)
		default:
			return domain.ErrUnsupportedSQL("expression", "only dimension names and AGG(metric) may be selected, got %s", Format(item.Expr, nil))
		}
	}
	return nil
}

func (t *selectTranslator) add(name string) {
	t.columns = append(t.columns, name)
	t.selected[name] = true
}

// aggArgument returns the metric named by AGG(metric).
func (t *selectTranslator) aggArgument(fn *FuncCall) (string, error) {
	if !strings.EqualFold(fn.Name, "AGG") {
		if aggregateFunctions[strings.ToLower(fn.Name)] {
			return "", domain.ErrUnsupportedSQL("aggregate function", "%s() is not supported; wrap metric names in AGG()", strings.ToUpper(fn.Name))
		}
		return "", domain.ErrUnsupportedSQL("function", "function %s() is not supported; only AGG(metric) may be selected", fn.Name)
	}
	if fn.Star || fn.Distinct || len(fn.Args) != 1 {
		return "", domain.ErrUnsupportedSQL("AGG", "AGG takes exactly one metric name")
	}
	ref, ok := fn.Args[0].(*ColumnRef)
	if !ok {
		return "", domain.ErrUnsupportedSQL("AGG", "AGG takes exactly one metric name, got %s", Format(fn.Args[0], nil))
	}
	return t.columnName(ref)
}

func checkAlias(item SelectItem, name string) error {
	if item.Alias != "" && item.Alias != name {
		return domain.ErrUnsupportedSQL("alias", "column aliases are not supported (%s AS %s)", name, item.Alias)
	}
	return nil
}

// where flattens the AND-conjunction into Inquiry filters of the form
// "dim op literal".
func (t *selectTranslator) where() ([]string, error) {
	if t.stmt.Where == nil {
		return nil, nil
	}
	var filters []string
	for _, c := range conjuncts(t.stmt.Where) {
		f, err := t.filter(c)
		if err != nil {
			return nil, err
		}
		filters = append(filters, f)
	}
	return filters, nil
}

func conjuncts(e Expr) []Expr {
	if p, ok := e.(*ParenExpr); ok {
		return conjuncts(p.Expr)
	}
	if b, ok := e.(*BinaryExpr); ok && b.Op == TOKEN_AND {
		return append(conjuncts(b.Left), conjuncts(b.Right)...)
	}
	return []Expr{e}
}

var flipped = map[TokenType]TokenType{
	TOKEN_EQ: TOKEN_EQ, TOKEN_NE: TOKEN_NE,
	TOKEN_LT: TOKEN_GT, TOKEN_GT: TOKEN_LT,
	TOKEN_LE: TOKEN_GE, TOKEN_GE: TOKEN_LE,
}

func (t *selectTranslator) filter(e Expr) (string, error) {
	switch x := e.(type) {
	case *BinaryExpr:
		if x.Op == TOKEN_OR {
			return "", domain.ErrUnsupportedSQL("OR", "OR in WHERE is not supported; filters must be AND-combined")
		}
		if _, ok := flipped[x.Op]; !ok {
			return "", domain.ErrUnsupportedSQL("predicate", "unsupported predicate %s", Format(x, nil))
		}
		ref, lit, op := asComparison(x)
		if ref == nil {
			return "", domain.ErrUnsupportedSQL("predicate", "predicates must compare a dimension with a literal, got %s", Format(x, nil))
		}
		name, err := t.columnName(ref)
		if err != nil {
			return "", err
		}
		return Format(&BinaryExpr{Left: &ColumnRef{Column: name}, Op: op, Right: lit}, nil), nil
	case *UnaryExpr:
		return "", domain.ErrUnsupportedSQL("NOT", "NOT in WHERE is not supported")
	case *InExpr:
		return "", domain.ErrUnsupportedSQL("IN", "IN predicates are not supported")
	case *BetweenExpr:
		return "", domain.ErrUnsupportedSQL("BETWEEN", "BETWEEN predicates are not supported")
	case *LikeExpr:
		return "", domain.ErrUnsupportedSQL("LIKE", "LIKE predicates are not supported")
	case *IsNullExpr:
		return "", domain.ErrUnsupportedSQL("IS NULL", "IS NULL predicates are not supported")
	default:
		return "", domain.ErrUnsupportedSQL("predicate", "unsupported predicate %s", Format(e, nil))
	}
}

// asComparison normalises "col op lit" and "lit op col" to the former.
func asComparison(b *BinaryExpr) (*ColumnRef, Expr, TokenType) {
	if ref, ok := unparen(b.Left).(*ColumnRef); ok && isConstant(b.Right) {
		return ref, b.Right, b.Op
	}
	if ref, ok := unparen(b.Right).(*ColumnRef); ok && isConstant(b.Left) {
		return ref, b.Left, flipped[b.Op]
	}
	return nil, nil, b.Op
}

func unparen(e Expr) Expr {
	for {
		p, ok := e.(*ParenExpr)
		if !ok {
			return e
		}
		e = p.Expr
	}
}

func isConstant(e Expr) bool {
	switch x := unparen(e).(type) {
	case *Literal:
		return x.Type != LiteralNull
	case *UnaryExpr:
		lit, ok := x.Expr.(*Literal)
		return ok && x.Op == TOKEN_MINUS && lit.Type == LiteralNumber
	case *CastExpr:
		return isConstant(x.Expr)
	}
	return false
}

func (t *selectTranslator) groupBy() error {
	if t.stmt.GroupBy == nil {
		return nil
	}
	group := map[string]bool{}
	for _, e := range t.stmt.GroupBy {
		name, err := t.reference(e, "GROUP BY")
		if err != nil {
			return err
		}
		if !t.isDim[name] {
			return domain.ErrUnsupportedSQL("GROUP BY", "GROUP BY must list exactly the selected dimensions; %q is not one", name)
		}
		group[name] = true
	}
	if len(group) != len(t.isDim) {
		return domain.ErrUnsupportedSQL("GROUP BY", "GROUP BY must list exactly the selected dimensions")
	}
	return nil
}

// reference resolves a GROUP BY or ORDER BY item to a selected column name.
// It accepts a column reference, a 1-based ordinal or AGG(metric).
func (t *selectTranslator) reference(e Expr, clause string) (string, error) {
	switch x := e.(type) {
	case *ColumnRef:
		return t.columnName(x)
	case *Literal:
		if x.Type == LiteralNumber {
			n, err := strconv.Atoi(x.Value)
			if err != nil || n < 1 || n > len(t.columns) {
				return "", domain.ErrUnsupportedSQL(clause, "%s position %s is not in the select list", clause, x.Value)
			}
			return t.columns[n-1], nil
		}
	case *FuncCall:
		return t.aggArgument(x)
	}
	return "", domain.ErrUnsupportedSQL(clause, "%s supports only column names, positions and AGG(metric), got %s", clause, Format(e, nil))
}

func (t *selectTranslator) orderBy() ([]string, error) {
	var out []string
	for _, item := range t.stmt.OrderBy {
		name, err := t.reference(item.Expr, "ORDER BY")
		if err != nil {
			return nil, err
		}
		if !t.selected[name] {
			return nil, domain.ErrUnsupportedSQL("ORDER BY", "ORDER BY %q must reference a selected column", name)
		}
		term := name
		if item.Desc {
			term += " DESC"
		}
		if item.NullsFirst != nil {
			if *item.NullsFirst {
				term += " NULLS FIRST"
			} else {
				term += " NULLS LAST"
			}
		}
		out = append(out, term)
	}
	return out, nil
}

func (t *selectTranslator) limit() (*int, error) {
	if t.stmt.Limit == nil {
		return nil, nil
	}
	lit, ok := t.stmt.Limit.(*Literal)
	if ok && lit.Type == LiteralNumber {
		if n, err := strconv.Atoi(lit.Value); err == nil && n >= 0 {
			return &n, nil
		}
	}
	return nil, domain.ErrUnsupportedSQL("LIMIT", "LIMIT must be a non-negative integer, got %s", Format(t.stmt.Limit, nil))
}

// String implements fmt.Stringer for diagnostics.
func (k TranslationKind) String() string {
	switch k {
	case KindInquiry:
		return "inquiry"
	case KindProbe:
		return "probe"
	case KindSession:
		return "session"
	default:
		return fmt.Sprintf("TranslationKind(%d)", int(k))
	}
}
