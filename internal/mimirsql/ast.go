package mimirsql

// Node is the base interface for all AST nodes.
type Node interface {
	node()
}

// Expr is a marker interface for expression nodes.
type Expr interface {
	Node
	exprNode()
}

// Stmt is a marker interface for statement nodes.
type Stmt interface {
	Node
	stmtNode()
}

// === Statements ===

// SelectStmt is the only query statement the dialect understands.
type SelectStmt struct {
	Distinct bool
	Columns  []SelectItem
	From     *TableName // nil for SELECT without FROM
	Where    Expr
	GroupBy  []Expr
	Having   Expr
	OrderBy  []OrderByItem
	Limit    Expr
	Offset   Expr
}

func (*SelectStmt) node()     {}
func (*SelectStmt) stmtNode() {}

// SessionStmt is a session or transaction command the front end
// acknowledges without doing anything (SET, BEGIN, COMMIT, ...).
type SessionStmt struct {
	Command string // upper-case command tag
	Text    string
}

func (*SessionStmt) node()     {}
func (*SessionStmt) stmtNode() {}

// SelectItem is one entry of the select list.
type SelectItem struct {
	Expr  Expr
	Alias string
	Pos   int
}

// TableName is a possibly schema-qualified relation in FROM.
type TableName struct {
	Catalog string
	Schema  string
	Name    string
	Alias   string
	Pos     int
}

// OrderByItem is one ORDER BY entry.
type OrderByItem struct {
	Expr       Expr
	Desc       bool
	NullsFirst *bool
}

// === Expressions ===

// ColumnRef is a column reference, optionally qualified.
type ColumnRef struct {
	Qualifier []string // table, schema.table, ...
	Column    string
	Pos       int
}

func (*ColumnRef) node()     {}
func (*ColumnRef) exprNode() {}

// LiteralType represents the type of a literal.
type LiteralType int

// LiteralNumber and friends enumerate literal kinds.
const (
	LiteralNumber LiteralType = iota
	LiteralString
	LiteralBool
	LiteralNull
)

// Literal is a constant value. TypeName is set for typed string literals
// such as DATE '2024-01-01'.
type Literal struct {
	Type     LiteralType
	Value    string
	TypeName string
}

func (*Literal) node()     {}
func (*Literal) exprNode() {}

// BinaryExpr is left op right.
type BinaryExpr struct {
	Left  Expr
	Op    TokenType
	Right Expr
}

func (*BinaryExpr) node()     {}
func (*BinaryExpr) exprNode() {}

// UnaryExpr is NOT x or -x.
type UnaryExpr struct {
	Op   TokenType
	Expr Expr
}

func (*UnaryExpr) node()     {}
func (*UnaryExpr) exprNode() {}

// ParenExpr is a parenthesized expression.
type ParenExpr struct {
	Expr Expr
}

func (*ParenExpr) node()     {}
func (*ParenExpr) exprNode() {}

// FuncCall is a scalar or aggregate function call.
type FuncCall struct {
	Name     string
	Distinct bool
	Star     bool
	Args     []Expr
	Pos      int
}

func (*FuncCall) node()     {}
func (*FuncCall) exprNode() {}

// CastExpr is x::type.
type CastExpr struct {
	Expr     Expr
	TypeName string
}

func (*CastExpr) node()     {}
func (*CastExpr) exprNode() {}

// InExpr is x [NOT] IN (list).
type InExpr struct {
	Expr Expr
	Not  bool
	List []Expr
}

func (*InExpr) node()     {}
func (*InExpr) exprNode() {}

// BetweenExpr is x [NOT] BETWEEN low AND high.
type BetweenExpr struct {
	Expr Expr
	Not  bool
	Low  Expr
	High Expr
}

func (*BetweenExpr) node()     {}
func (*BetweenExpr) exprNode() {}

// LikeExpr is x [NOT] LIKE|ILIKE pattern.
type LikeExpr struct {
	Expr    Expr
	Not     bool
	ILike   bool
	Pattern Expr
}

func (*LikeExpr) node()     {}
func (*LikeExpr) exprNode() {}

// IsNullExpr is x IS [NOT] NULL.
type IsNullExpr struct {
	Expr Expr
	Not  bool
}

func (*IsNullExpr) node()     {}
func (*IsNullExpr) exprNode() {}

// StarExpr is * in a select list.
type StarExpr struct {
	Pos int
}

func (*StarExpr) node()     {}
func (*StarExpr) exprNode() {}

// Walk calls fn for e and every sub-expression of e, depth first. If fn
// returns false the children of that node are skipped.
func Walk(e Expr, fn func(Expr) bool) {
	if e == nil || !fn(e) {
		return
	}
	switch x := e.(type) {
	case *BinaryExpr:
		Walk(x.Left, fn)
		Walk(x.Right, fn)
	case *UnaryExpr:
		Walk(x.Expr, fn)
	case *ParenExpr:
		Walk(x.Expr, fn)
	case *FuncCall:
		for _, a := range x.Args {
			Walk(a, fn)
		}
	case *CastExpr:
		Walk(x.Expr, fn)
	case *InExpr:
		Walk(x.Expr, fn)
		for _, item := range x.List {
			Walk(item, fn)
		}
	case *BetweenExpr:
		Walk(x.Expr, fn)
		Walk(x.Low, fn)
		Walk(x.High, fn)
	case *LikeExpr:
		Walk(x.Expr, fn)
		Walk(x.Pattern, fn)
	case *IsNullExpr:
		Walk(x.Expr, fn)
	}
}

// ColumnRefs returns every column reference in e, in source order.
func ColumnRefs(e Expr) []*ColumnRef {
	var refs []*ColumnRef
	Walk(e, func(n Expr) bool {
		if ref, ok := n.(*ColumnRef); ok {
			refs = append(refs, ref)
		}
		return true
	})
	return refs
}
