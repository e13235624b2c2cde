package mimirsql

import (
	"strings"

	"mimir/internal/domain"
)

// Parser parses the restricted dialect into an AST.
type Parser struct {
	lexer  *Lexer
	input  string
	token  Token // current token
	peek   Token // lookahead token
	peek2  Token // second lookahead token
	errors []error
}

// NewParser creates a new parser for the given SQL input.
func NewParser(sql string) *Parser {
	p := &Parser{
		lexer: NewLexer(sql),
		input: sql,
	}
	p.nextToken()
	p.nextToken()
	p.nextToken()
	return p
}

// Parse parses exactly one statement. Errors are *domain.ParseError for
// malformed text and *domain.UnsupportedSQLError for constructs outside the
// dialect.
func Parse(sql string) (Stmt, error) {
	if strings.TrimSpace(sql) == "" {
		return nil, domain.ErrParse(0, "empty statement")
	}

	p := NewParser(sql)
	stmt := p.parseTopLevel()
	if len(p.errors) > 0 {
		return nil, p.errors[0]
	}
	if !p.check(TOKEN_EOF) && !p.check(TOKEN_SEMICOLON) {
		return nil, p.unexpected()
	}
	for p.match(TOKEN_SEMICOLON) {
	}
	if !p.check(TOKEN_EOF) {
		return nil, domain.ErrUnsupportedSQL("multiple statements", "multiple statements in one query are not supported")
	}
	return stmt, nil
}

// ParseExpr parses a standalone expression, as used by Inquiry filters.
func ParseExpr(sql string) (Expr, error) {
	if strings.TrimSpace(sql) == "" {
		return nil, domain.ErrParse(0, "empty expression")
	}

	p := NewParser(sql)
	expr := p.parseExpression()
	if len(p.errors) > 0 {
		return nil, p.errors[0]
	}
	if !p.check(TOKEN_EOF) {
		return nil, p.unexpected()
	}
	return expr, nil
}

func (p *Parser) parseTopLevel() Stmt {
	switch p.token.Type {
	case TOKEN_SELECT:
		return p.parseSelect()
	case TOKEN_WITH:
		p.unsupported("CTE", "WITH clauses (common table expressions) are not supported")
	case TOKEN_LPAREN:
		p.unsupported("subquery", "parenthesized queries are not supported")
	case TOKEN_SET, TOKEN_RESET, TOKEN_BEGIN, TOKEN_START, TOKEN_COMMIT,
		TOKEN_END, TOKEN_ROLLBACK, TOKEN_DISCARD:
		return p.parseSession()
	case TOKEN_IDENT:
		p.unsupported("statement", "%s statements are not supported; only SELECT is", strings.ToUpper(p.token.Literal))
	default:
		if p.isKeyword(p.token) {
			p.unsupported("statement", "%s statements are not supported; only SELECT is", p.token.Type)
			return nil
		}
		p.errors = append(p.errors, p.unexpected())
	}
	return nil
}

// parseSession consumes a session or transaction command up to the end of
// the statement.
func (p *Parser) parseSession() Stmt {
	start := p.token.Pos
	var tag string
	switch p.token.Type {
	case TOKEN_BEGIN, TOKEN_START:
		tag = "BEGIN"
	case TOKEN_COMMIT, TOKEN_END:
		tag = "COMMIT"
	case TOKEN_DISCARD:
		tag = "DISCARD ALL"
	default:
		tag = p.token.Type.String()
	}
	for !p.check(TOKEN_EOF) && !p.check(TOKEN_SEMICOLON) {
		if p.check(TOKEN_ILLEGAL) {
			p.errors = append(p.errors, p.unexpected())
			return nil
		}
		p.nextToken()
	}
	return &SessionStmt{Command: tag, Text: strings.TrimSpace(p.input[start:p.token.Pos])}
}

func (p *Parser) parseSelect() Stmt {
	p.expect(TOKEN_SELECT)
	stmt := &SelectStmt{}

	if p.match(TOKEN_DISTINCT) {
		stmt.Distinct = true
	}
	stmt.Columns = p.parseSelectList()

	if p.match(TOKEN_FROM) {
		stmt.From = p.parseFrom()
	}
	if p.failed() {
		return nil
	}
	if p.match(TOKEN_WHERE) {
		stmt.Where = p.parseExpression()
	}
	if p.check(TOKEN_GROUP) {
		p.nextToken()
		p.expect(TOKEN_BY)
		stmt.GroupBy = p.parseExpressionList()
	}
	if p.match(TOKEN_HAVING) {
		stmt.Having = p.parseExpression()
	}
	switch p.token.Type {
	case TOKEN_WINDOW, TOKEN_QUALIFY:
		p.unsupported("window function", "%s clauses are not supported", p.token.Type)
		return nil
	}
	if p.check(TOKEN_ORDER) {
		p.nextToken()
		p.expect(TOKEN_BY)
		stmt.OrderBy = p.parseOrderByList()
	}
	if p.match(TOKEN_LIMIT) {
		stmt.Limit = p.parseExpression()
	}
	if p.match(TOKEN_OFFSET) {
		stmt.Offset = p.parseExpression()
	}
	switch p.token.Type {
	case TOKEN_UNION, TOKEN_INTERSECT, TOKEN_EXCEPT:
		p.unsupported("set operation", "%s is not supported", p.token.Type)
		return nil
	}
	if p.failed() {
		return nil
	}
	return stmt
}

func (p *Parser) parseSelectList() []SelectItem {
	var items []SelectItem
	for !p.failed() {
		item := SelectItem{Pos: p.token.Pos}
		if p.check(TOKEN_STAR) {
			item.Expr = &StarExpr{Pos: p.token.Pos}
			p.nextToken()
		} else {
			item.Expr = p.parseExpression()
		}
		if p.match(TOKEN_AS) {
			item.Alias = p.expectIdent()
		} else if p.isIdentLike(p.token) {
			item.Alias = p.token.Literal
			p.nextToken()
		}
		items = append(items, item)
		if !p.match(TOKEN_COMMA) {
			break
		}
	}
	return items
}

// parseFrom parses the single relation of the FROM clause and rejects
// anything that would combine relations.
func (p *Parser) parseFrom() *TableName {
	switch p.token.Type {
	case TOKEN_LPAREN:
		p.unsupported("derived table", "subqueries in FROM are not supported")
		return nil
	case TOKEN_LATERAL:
		p.unsupported("JOIN", "LATERAL is not supported")
		return nil
	}

	tn := &TableName{Pos: p.token.Pos}
	parts := []string{p.expectIdent()}
	for p.match(TOKEN_DOT) {
		parts = append(parts, p.expectIdent())
	}
	if p.failed() {
		return nil
	}
	if p.check(TOKEN_LPAREN) {
		p.unsupported("table function", "table functions in FROM are not supported")
		return nil
	}
	switch len(parts) {
	case 1:
		tn.Name = parts[0]
	case 2:
		tn.Schema, tn.Name = parts[0], parts[1]
	case 3:
		tn.Catalog, tn.Schema, tn.Name = parts[0], parts[1], parts[2]
	default:
		p.errors = append(p.errors, domain.ErrParse(tn.Pos, "too many name parts in %q", strings.Join(parts, ".")))
		return nil
	}

	if p.match(TOKEN_AS) {
		tn.Alias = p.expectIdent()
	} else if p.isIdentLike(p.token) {
		tn.Alias = p.token.Literal
		p.nextToken()
	}

	switch {
	case p.check(TOKEN_COMMA):
		p.unsupported("JOIN", "comma-separated FROM lists (implicit joins) are not supported")
		return nil
	case p.isJoinKeyword(p.token):
		p.unsupported("JOIN", "JOIN is not supported; query mimir.metrics alone")
		return nil
	}
	return tn
}

func (p *Parser) parseOrderByList() []OrderByItem {
	var items []OrderByItem
	for !p.failed() {
		item := OrderByItem{Expr: p.parseExpression()}
		if p.match(TOKEN_DESC) {
			item.Desc = true
		} else {
			p.match(TOKEN_ASC)
		}
		if p.match(TOKEN_NULLS) {
			if p.match(TOKEN_FIRST) {
				b := true
				item.NullsFirst = &b
			} else if p.match(TOKEN_LAST) {
				b := false
				item.NullsFirst = &b
			} else {
				p.addError("expected FIRST or LAST after NULLS")
			}
		}
		items = append(items, item)
		if !p.match(TOKEN_COMMA) {
			break
		}
	}
	return items
}

// === Token Helpers ===

func (p *Parser) nextToken() {
	p.token = p.peek
	p.peek = p.peek2
	p.peek2 = p.lexer.NextToken()
}

func (p *Parser) check(t TokenType) bool {
	return p.token.Type == t
}

func (p *Parser) checkPeek(t TokenType) bool {
	return p.peek.Type == t
}

// match consumes the current token if it matches and returns true.
func (p *Parser) match(t TokenType) bool {
	if p.check(t) {
		p.nextToken()
		return true
	}
	return false
}

// expect consumes the current token if it matches, otherwise adds an error.
func (p *Parser) expect(t TokenType) bool {
	if p.check(t) {
		p.nextToken()
		return true
	}
	p.addError("unexpected %s, expected %s", describe(p.token), t)
	return false
}

// expectIdent consumes an identifier (or a non-reserved keyword used as one).
func (p *Parser) expectIdent() string {
	if p.isIdentLike(p.token) {
		lit := p.token.Literal
		p.nextToken()
		return lit
	}
	p.addError("unexpected %s, expected identifier", describe(p.token))
	return ""
}

func (p *Parser) failed() bool {
	return len(p.errors) > 0
}

// addError records a parse error at the current token.
func (p *Parser) addError(format string, args ...any) {
	p.errors = append(p.errors, domain.ErrParse(p.token.Pos, format, args...))
}

// unsupported records a construct the dialect refuses.
func (p *Parser) unsupported(construct, format string, args ...any) {
	p.errors = append(p.errors, domain.ErrUnsupportedSQL(construct, format, args...))
}

func (p *Parser) unexpected() error {
	if p.token.Type == TOKEN_ILLEGAL {
		return domain.ErrParse(p.token.Pos, "%s", describe(p.token))
	}
	return domain.ErrParse(p.token.Pos, "unexpected %s", describe(p.token))
}

func describe(tok Token) string {
	switch tok.Type {
	case TOKEN_EOF:
		return "end of input"
	case TOKEN_ILLEGAL:
		if len(tok.Literal) == 1 {
			return "illegal character " + "'" + tok.Literal + "'"
		}
		return tok.Literal
	case TOKEN_IDENT, TOKEN_NUMBER:
		return tok.Literal
	case TOKEN_STRING:
		return "'" + tok.Literal + "'"
	default:
		return tok.Type.String()
	}
}

// === Keyword Classification ===

// isIdentLike reports whether tok can serve as an identifier. Non-reserved
// keywords are accepted so dimensions may be named e.g. "first" or "start".
func (p *Parser) isIdentLike(tok Token) bool {
	switch tok.Type {
	case TOKEN_IDENT, TOKEN_FIRST, TOKEN_LAST, TOKEN_START, TOKEN_END,
		TOKEN_NULLS, TOKEN_RESET, TOKEN_DISCARD, TOKEN_BEGIN, TOKEN_COMMIT, TOKEN_ROLLBACK:
		return true
	}
	return false
}

// isKeyword reports whether tok is any keyword.
func (p *Parser) isKeyword(tok Token) bool {
	return tok.Type >= TOKEN_AND
}

func (p *Parser) isJoinKeyword(tok Token) bool {
	switch tok.Type {
	case TOKEN_JOIN, TOKEN_ON, TOKEN_USING, TOKEN_NATURAL, TOKEN_LATERAL, TOKEN_OUTER,
		TOKEN_INNER, TOKEN_LEFT, TOKEN_RIGHT, TOKEN_FULL, TOKEN_CROSS:
		return true
	}
	return false
}
