// Package formula implements the restricted arithmetic expression language
// used by metric mappings. Mapping expressions originate from an external
// generator the engine does not control, so every expression is tokenized,
// parsed and validated into a typed AST at mapping-load time; evaluation
// never touches the raw string again.
//
// Grammar: identifiers, decimal literals, + - * / ( ), unary minus,
// whitespace. No function calls, no comparisons, no assignment.
package formula

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Node is a parsed expression tree node.
type Node interface {
	node()
}

// Literal is a numeric constant.
type Literal struct {
	Value decimal.Decimal
}

// Variable references a source key by identifier.
type Variable struct {
	Name string
}

// Unary is a negation.
type Unary struct {
	X Node
}

// Binary is an arithmetic operation. Op is one of '+', '-', '*', '/'.
type Binary struct {
	Op          byte
	Left, Right Node
}

func (Literal) node()  {}
func (Variable) node() {}
func (Unary) node()    {}
func (Binary) node()   {}

// SyntaxError reports an expression that violates the allowed grammar. It is
// raised at mapping-load time so that a single bad metric can be excluded
// from the run instead of failing the whole batch.
type SyntaxError struct {
	Expr string
	Pos  int
	Msg  string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("formula syntax error at offset %d in %q: %s", e.Pos, e.Expr, e.Msg)
}

// Expr is a compiled expression: the original text plus its validated tree.
type Expr struct {
	Text   string
	Root   Node
	idents []string
}

// Identifiers returns the distinct identifiers referenced by the expression,
// in first-appearance order.
func (e *Expr) Identifiers() []string {
	out := make([]string, len(e.idents))
	copy(out, e.idents)
	return out
}
