package mimirsql

import (
	"regexp"
	"strings"
)

var plainIdentRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Resolver returns replacement SQL for a column reference. Returning ""
// keeps the reference as written.
type Resolver func(ref *ColumnRef) string

// Format renders e as SQL. Casts are rendered as CAST(x AS T) so the output
// runs on every backend.
func Format(e Expr, resolve Resolver) string {
	var b strings.Builder
	f := &formatter{b: &b, resolve: resolve}
	f.expr(e)
	return b.String()
}

// QuoteString renders s as a single-quoted SQL string literal.
func QuoteString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// QuoteIdent renders name bare when it is a plain identifier that is not a
// keyword, and double-quoted otherwise.
func QuoteIdent(name string) string {
	if plainIdentRe.MatchString(name) && lookupKeyword(strings.ToLower(name)) == TOKEN_IDENT {
		return name
	}
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

type formatter struct {
	b       *strings.Builder
	resolve Resolver
}

func (f *formatter) write(s string) { f.b.WriteString(s) }

func (f *formatter) expr(e Expr) {
	switch x := e.(type) {
	case nil:
	case *Literal:
		f.literal(x)
	case *ColumnRef:
		if f.resolve != nil {
			if s := f.resolve(x); s != "" {
				f.write(s)
				return
			}
		}
		for _, q := range x.Qualifier {
			f.write(QuoteIdent(q))
			f.write(".")
		}
		f.write(QuoteIdent(x.Column))
	case *BinaryExpr:
		f.expr(x.Left)
		f.write(" " + operator(x.Op) + " ")
		f.expr(x.Right)
	case *UnaryExpr:
		if x.Op == TOKEN_NOT {
			f.write("NOT ")
		} else {
			f.write(operator(x.Op))
		}
		f.expr(x.Expr)
	case *ParenExpr:
		f.write("(")
		f.expr(x.Expr)
		f.write(")")
	case *FuncCall:
		f.write(strings.ToUpper(x.Name))
		f.write("(")
		if x.Star {
			f.write("*")
		}
		if x.Distinct {
			f.write("DISTINCT ")
		}
		f.list(x.Args)
		f.write(")")
	case *CastExpr:
		f.write("CAST(")
		f.expr(x.Expr)
		f.write(" AS " + x.TypeName + ")")
	case *InExpr:
		f.expr(x.Expr)
		if x.Not {
			f.write(" NOT")
		}
		f.write(" IN (")
		f.list(x.List)
		f.write(")")
	case *BetweenExpr:
		f.expr(x.Expr)
		if x.Not {
			f.write(" NOT")
		}
		f.write(" BETWEEN ")
		f.expr(x.Low)
		f.write(" AND ")
		f.expr(x.High)
	case *LikeExpr:
		f.expr(x.Expr)
		if x.Not {
			f.write(" NOT")
		}
		if x.ILike {
			f.write(" ILIKE ")
		} else {
			f.write(" LIKE ")
		}
		f.expr(x.Pattern)
	case *IsNullExpr:
		f.expr(x.Expr)
		if x.Not {
			f.write(" IS NOT NULL")
		} else {
			f.write(" IS NULL")
		}
	case *StarExpr:
		f.write("*")
	}
}

func (f *formatter) list(exprs []Expr) {
	for i, e := range exprs {
		if i > 0 {
			f.write(", ")
		}
		f.expr(e)
	}
}

func (f *formatter) literal(l *Literal) {
	switch l.Type {
	case LiteralString:
		if l.TypeName != "" {
			f.write(l.TypeName + " ")
		}
		f.write(QuoteString(l.Value))
	case LiteralBool:
		f.write(strings.ToUpper(l.Value))
	case LiteralNull:
		f.write("NULL")
	default:
		f.write(l.Value)
	}
}

func operator(op TokenType) string {
	switch op {
	case TOKEN_NE:
		return "<>"
	default:
		return op.String()
	}
}
