package mimirsql

import "strings"

// Expression parsing using a Pratt parser (precedence climbing).

func (p *Parser) parseExpression() Expr {
	return p.parseExpressionWithPrecedence(PrecedenceNone + 1)
}

func (p *Parser) parseExpressionWithPrecedence(minPrecedence int) Expr {
	left := p.parsePrefixExpr()
	if left == nil {
		return nil
	}

	for !p.failed() {
		prec := p.getInfixPrecedence()
		if prec < minPrecedence {
			break
		}
		left = p.parseInfixExpr(left, prec)
		if left == nil {
			break
		}
	}
	return left
}

func (p *Parser) parsePrefixExpr() Expr {
	switch p.token.Type {
	case TOKEN_NOT:
		if p.checkPeek(TOKEN_EXISTS) {
			p.unsupported("subquery", "EXISTS subqueries are not supported")
			return nil
		}
		p.nextToken()
		return &UnaryExpr{Op: TOKEN_NOT, Expr: p.parseExpressionWithPrecedence(PrecedenceNot)}
	case TOKEN_MINUS, TOKEN_PLUS:
		op := p.token.Type
		p.nextToken()
		return &UnaryExpr{Op: op, Expr: p.parseExpressionWithPrecedence(PrecedenceUnary)}
	default:
		return p.parsePrimary()
	}
}

func (p *Parser) getInfixPrecedence() int {
	switch p.token.Type {
	case TOKEN_OR:
		return PrecedenceOr
	case TOKEN_AND:
		return PrecedenceAnd
	case TOKEN_EQ, TOKEN_NE, TOKEN_LT, TOKEN_GT, TOKEN_LE, TOKEN_GE,
		TOKEN_IS, TOKEN_IN, TOKEN_BETWEEN, TOKEN_LIKE, TOKEN_ILIKE:
		return PrecedenceComparison
	case TOKEN_NOT:
		// x NOT IN / NOT BETWEEN / NOT LIKE
		switch p.peek.Type {
		case TOKEN_IN, TOKEN_BETWEEN, TOKEN_LIKE, TOKEN_ILIKE:
			return PrecedenceComparison
		}
		return PrecedenceNone
	case TOKEN_PLUS, TOKEN_MINUS, TOKEN_DPIPE:
		return PrecedenceAddition
	case TOKEN_STAR, TOKEN_SLASH, TOKEN_MOD:
		return PrecedenceMultiply
	case TOKEN_DCOLON:
		return PrecedenceUnary + 1
	default:
		return PrecedenceNone
	}
}

func (p *Parser) parseInfixExpr(left Expr, prec int) Expr {
	switch p.token.Type {
	case TOKEN_NOT:
		p.nextToken() // consume NOT
		return p.parseNegatableInfix(left, true)
	case TOKEN_IN, TOKEN_BETWEEN, TOKEN_LIKE, TOKEN_ILIKE:
		return p.parseNegatableInfix(left, false)
	case TOKEN_IS:
		p.nextToken()
		not := p.match(TOKEN_NOT)
		if !p.match(TOKEN_NULL) {
			p.addError("unexpected %s, expected NULL after IS", describe(p.token))
			return nil
		}
		return &IsNullExpr{Expr: left, Not: not}
	case TOKEN_DCOLON:
		p.nextToken()
		return &CastExpr{Expr: left, TypeName: p.parseTypeName()}
	default:
		op := p.token.Type
		p.nextToken()
		right := p.parseExpressionWithPrecedence(prec + 1)
		if right == nil {
			if !p.failed() {
				p.errors = append(p.errors, p.unexpected())
			}
			return nil
		}
		return &BinaryExpr{Left: left, Op: op, Right: right}
	}
}

// parseNegatableInfix parses IN, BETWEEN, LIKE and ILIKE, any of which may
// follow NOT.
func (p *Parser) parseNegatableInfix(left Expr, not bool) Expr {
	switch p.token.Type {
	case TOKEN_IN:
		p.nextToken()
		if !p.expect(TOKEN_LPAREN) {
			return nil
		}
		if p.check(TOKEN_SELECT) || p.check(TOKEN_WITH) {
			p.unsupported("subquery", "IN subqueries are not supported")
			return nil
		}
		in := &InExpr{Expr: left, Not: not, List: p.parseExpressionList()}
		p.expect(TOKEN_RPAREN)
		return in
	case TOKEN_BETWEEN:
		p.nextToken()
		between := &BetweenExpr{Expr: left, Not: not}
		between.Low = p.parseExpressionWithPrecedence(PrecedenceAddition)
		p.expect(TOKEN_AND)
		between.High = p.parseExpressionWithPrecedence(PrecedenceAddition)
		return between
	case TOKEN_LIKE, TOKEN_ILIKE:
		ilike := p.check(TOKEN_ILIKE)
		p.nextToken()
		return &LikeExpr{Expr: left, Not: not, ILike: ilike, Pattern: p.parseExpressionWithPrecedence(PrecedenceAddition)}
	default:
		p.addError("expected IN, BETWEEN, LIKE or ILIKE after NOT")
		return nil
	}
}

func (p *Parser) parseExpressionList() []Expr {
	var exprs []Expr
	for !p.failed() {
		exprs = append(exprs, p.parseExpression())
		if !p.match(TOKEN_COMMA) {
			break
		}
	}
	return exprs
}

func (p *Parser) parsePrimary() Expr {
	switch p.token.Type {
	case TOKEN_NUMBER:
		lit := &Literal{Type: LiteralNumber, Value: p.token.Literal}
		p.nextToken()
		return lit
	case TOKEN_STRING:
		lit := &Literal{Type: LiteralString, Value: p.token.Literal}
		p.nextToken()
		return lit
	case TOKEN_TRUE, TOKEN_FALSE:
		lit := &Literal{Type: LiteralBool, Value: strings.ToLower(p.token.Literal)}
		p.nextToken()
		return lit
	case TOKEN_NULL:
		p.nextToken()
		return &Literal{Type: LiteralNull, Value: "NULL"}
	case TOKEN_EXISTS:
		p.unsupported("subquery", "EXISTS subqueries are not supported")
		return nil
	case TOKEN_LPAREN:
		return p.parseParenExpr()
	default:
		if p.isIdentLike(p.token) {
			return p.parseIdentifierExpr()
		}
		// Keywords used as function names, e.g. LEFT(s, 2).
		if p.isKeyword(p.token) && p.checkPeek(TOKEN_LPAREN) {
			return p.parseIdentifierExpr()
		}
		p.errors = append(p.errors, p.unexpected())
		return nil
	}
}

// typedLiteralPrefixes are type names that may prefix a string literal.
var typedLiteralPrefixes = map[string]bool{
	"DATE":        true,
	"TIME":        true,
	"TIMESTAMP":   true,
	"TIMESTAMPTZ": true,
	"INTERVAL":    true,
}

func (p *Parser) parseIdentifierExpr() Expr {
	tok := p.token
	p.nextToken()

	if !tok.Quoted && p.check(TOKEN_STRING) && typedLiteralPrefixes[strings.ToUpper(tok.Literal)] {
		lit := &Literal{Type: LiteralString, Value: p.token.Literal, TypeName: strings.ToUpper(tok.Literal)}
		p.nextToken()
		return lit
	}

	if p.check(TOKEN_LPAREN) {
		return p.parseFuncCall(tok)
	}

	ref := &ColumnRef{Column: tok.Literal, Pos: tok.Pos}
	for p.match(TOKEN_DOT) {
		if p.check(TOKEN_STAR) {
			p.unsupported("*", "qualified * is not supported; name the columns")
			return nil
		}
		ref.Qualifier = append(ref.Qualifier, ref.Column)
		ref.Column = p.expectIdent()
	}
	if p.check(TOKEN_LPAREN) && len(ref.Qualifier) > 0 {
		p.unsupported("function", "schema-qualified functions are not supported")
		return nil
	}
	return ref
}

func (p *Parser) parseFuncCall(name Token) Expr {
	fn := &FuncCall{Name: name.Literal, Pos: name.Pos}
	p.expect(TOKEN_LPAREN)

	switch {
	case p.check(TOKEN_STAR):
		fn.Star = true
		p.nextToken()
	case p.check(TOKEN_RPAREN):
	default:
		if p.match(TOKEN_DISTINCT) {
			fn.Distinct = true
		}
		if p.check(TOKEN_SELECT) || p.check(TOKEN_WITH) {
			p.unsupported("subquery", "subqueries are not supported")
			return nil
		}
		fn.Args = p.parseExpressionList()
	}
	if !p.expect(TOKEN_RPAREN) {
		return nil
	}
	if p.check(TOKEN_OVER) {
		p.unsupported("window function", "window functions (OVER) are not supported")
		return nil
	}
	return fn
}

func (p *Parser) parseParenExpr() Expr {
	p.expect(TOKEN_LPAREN)
	if p.check(TOKEN_SELECT) || p.check(TOKEN_WITH) {
		p.unsupported("subquery", "subqueries are not supported")
		return nil
	}
	expr := p.parseExpression()
	if expr == nil {
		return nil
	}
	p.expect(TOKEN_RPAREN)
	return &ParenExpr{Expr: expr}
}

// parseTypeName parses a type name such as DATE, VARCHAR(10) or
// DECIMAL(18, 2).
func (p *Parser) parseTypeName() string {
	name := strings.ToUpper(p.expectIdent())
	if p.match(TOKEN_LPAREN) {
		var args []string
		for p.check(TOKEN_NUMBER) {
			args = append(args, p.token.Literal)
			p.nextToken()
			if !p.match(TOKEN_COMMA) {
				break
			}
		}
		p.expect(TOKEN_RPAREN)
		name += "(" + strings.Join(args, ", ") + ")"
	}
	return name
}
