package formula

import (
	"github.com/shopspring/decimal"
)

// Result is the outcome of evaluating one expression for one period. Value
// is nil when the expression is Missing; MissingIdents lists the identifiers
// that had no binding, so callers can build warning text without re-walking
// the tree. DivisionByZero marks a Missing result caused by a zero divisor
// rather than an absent input.
type Result struct {
	Value          *decimal.Decimal
	MissingIdents  []string
	DivisionByZero bool
}

// Missing reports whether the expression produced no value.
func (r Result) Missing() bool { return r.Value == nil }

// Eval substitutes bindings into the expression and computes it with decimal
// arithmetic. A nil binding (or an identifier absent from the map entirely)
// makes the whole expression Missing: no partial credit, no implicit zero.
// Division by zero also yields Missing, never infinity or a panic.
func (e *Expr) Eval(bindings map[string]*decimal.Decimal) Result {
	var missing []string
	for _, id := range e.idents {
		if v, ok := bindings[id]; !ok || v == nil {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return Result{MissingIdents: missing}
	}
	v, divZero := eval(e.Root, bindings)
	if divZero {
		return Result{DivisionByZero: true}
	}
	return Result{Value: &v}
}

func eval(n Node, bindings map[string]*decimal.Decimal) (decimal.Decimal, bool) {
	switch v := n.(type) {
	case Literal:
		return v.Value, false
	case Variable:
		return *bindings[v.Name], false
	case Unary:
		x, divZero := eval(v.X, bindings)
		if divZero {
			return decimal.Zero, true
		}
		return x.Neg(), false
	case Binary:
		l, divZero := eval(v.Left, bindings)
		if divZero {
			return decimal.Zero, true
		}
		r, divZero := eval(v.Right, bindings)
		if divZero {
			return decimal.Zero, true
		}
		switch v.Op {
		case '+':
			return l.Add(r), false
		case '-':
			return l.Sub(r), false
		case '*':
			return l.Mul(r), false
		case '/':
			if r.IsZero() {
				return decimal.Zero, true
			}
			return l.Div(r), false
		}
	}
	return decimal.Zero, false
}
