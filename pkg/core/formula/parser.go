package formula

import (
	"github.com/shopspring/decimal"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokNumber
	tokOp     // + - * /
	tokLParen
	tokRParen
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

type lexer struct {
	src string
	pos int
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func (l *lexer) next() (token, error) {
	for l.pos < len(l.src) && (l.src[l.pos] == ' ' || l.src[l.pos] == '\t' || l.src[l.pos] == '\n' || l.src[l.pos] == '\r') {
		l.pos++
	}
	if l.pos >= len(l.src) {
		return token{kind: tokEOF, pos: l.pos}, nil
	}
	start := l.pos
	c := l.src[l.pos]
	switch {
	case isIdentStart(c):
		for l.pos < len(l.src) && isIdentPart(l.src[l.pos]) {
			l.pos++
		}
		return token{kind: tokIdent, text: l.src[start:l.pos], pos: start}, nil
	case isDigit(c) || c == '.':
		seenDot := false
		for l.pos < len(l.src) && (isDigit(l.src[l.pos]) || l.src[l.pos] == '.') {
			if l.src[l.pos] == '.' {
				if seenDot {
					return token{}, &SyntaxError{Expr: l.src, Pos: l.pos, Msg: "malformed number"}
				}
				seenDot = true
			}
			l.pos++
		}
		text := l.src[start:l.pos]
		if text == "." {
			return token{}, &SyntaxError{Expr: l.src, Pos: start, Msg: "malformed number"}
		}
		return token{kind: tokNumber, text: text, pos: start}, nil
	case c == '+' || c == '-' || c == '*' || c == '/':
		l.pos++
		return token{kind: tokOp, text: string(c), pos: start}, nil
	case c == '(':
		l.pos++
		return token{kind: tokLParen, text: "(", pos: start}, nil
	case c == ')':
		l.pos++
		return token{kind: tokRParen, text: ")", pos: start}, nil
	}
	return token{}, &SyntaxError{Expr: l.src, Pos: start, Msg: "disallowed token " + string(c)}
}

type parser struct {
	lex *lexer
	tok token
}

func (p *parser) advance() error {
	t, err := p.lex.next()
	if err != nil {
		return err
	}
	p.tok = t
	return nil
}

// Parse tokenizes and parses an expression into a validated Expr. Standard
// precedence applies: unary minus binds tightest, then * and /, then + and -,
// with parentheses overriding.
func Parse(expr string) (*Expr, error) {
	p := &parser{lex: &lexer{src: expr}}
	if err := p.advance(); err != nil {
		return nil, err
	}
	root, err := p.parseSum()
	if err != nil {
		return nil, err
	}
	if p.tok.kind != tokEOF {
		return nil, &SyntaxError{Expr: expr, Pos: p.tok.pos, Msg: "unexpected " + p.tok.text}
	}
	e := &Expr{Text: expr, Root: root}
	collectIdents(root, &e.idents, map[string]bool{})
	return e, nil
}

func (p *parser) parseSum() (Node, error) {
	left, err := p.parseProduct()
	if err != nil {
		return nil, err
	}
	for p.tok.kind == tokOp && (p.tok.text == "+" || p.tok.text == "-") {
		op := p.tok.text[0]
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseProduct()
		if err != nil {
			return nil, err
		}
		left = Binary{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseProduct() (Node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.tok.kind == tokOp && (p.tok.text == "*" || p.tok.text == "/") {
		op := p.tok.text[0]
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = Binary{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (Node, error) {
	if p.tok.kind == tokOp && p.tok.text == "-" {
		if err := p.advance(); err != nil {
			return nil, err
		}
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return Unary{X: x}, nil
	}
	if p.tok.kind == tokOp && p.tok.text == "+" {
		if err := p.advance(); err != nil {
			return nil, err
		}
		return p.parseUnary()
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (Node, error) {
	switch p.tok.kind {
	case tokNumber:
		d, err := decimal.NewFromString(p.tok.text)
		if err != nil {
			return nil, &SyntaxError{Expr: p.lex.src, Pos: p.tok.pos, Msg: "malformed number " + p.tok.text}
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		return Literal{Value: d}, nil
	case tokIdent:
		name := p.tok.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		return Variable{Name: name}, nil
	case tokLParen:
		if err := p.advance(); err != nil {
			return nil, err
		}
		inner, err := p.parseSum()
		if err != nil {
			return nil, err
		}
		if p.tok.kind != tokRParen {
			return nil, &SyntaxError{Expr: p.lex.src, Pos: p.tok.pos, Msg: "missing closing parenthesis"}
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		return inner, nil
	case tokEOF:
		return nil, &SyntaxError{Expr: p.lex.src, Pos: p.tok.pos, Msg: "unexpected end of expression"}
	}
	return nil, &SyntaxError{Expr: p.lex.src, Pos: p.tok.pos, Msg: "unexpected " + p.tok.text}
}

func collectIdents(n Node, out *[]string, seen map[string]bool) {
	switch v := n.(type) {
	case Variable:
		if !seen[v.Name] {
			seen[v.Name] = true
			*out = append(*out, v.Name)
		}
	case Unary:
		collectIdents(v.X, out, seen)
	case Binary:
		collectIdents(v.Left, out, seen)
		collectIdents(v.Right, out, seen)
	}
}
