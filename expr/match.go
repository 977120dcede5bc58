package expr

import (
	"strings"

	"github.com/nestormc/nestor/value"
)

// Subject is anything an expression can be evaluated against.
type Subject interface {
	OID() string
	Get(key string) (value.Value, bool)
}

// Eval reports whether s satisfies e. A criterion on a missing property is
// not satisfied. The right side of a composite is only evaluated when the
// left side does not decide the result.
func Eval(e Expr, s Subject) bool {
	switch t := e.(type) {
	case nil, emptyExpr:
		return true
	case *Criterion:
		return t.eval(s)
	case *Composite:
		left := Eval(t.Left, s)
		if t.Right == nil {
			return left
		}
		switch t.Op {
		case OpAnd:
			return left && Eval(t.Right, s)
		case OpOr:
			return left || Eval(t.Right, s)
		}
	}
	return false
}

// Match returns the subjects satisfying e, in input order.
func Match[S Subject](e Expr, subjects []S) []S {
	if IsEmpty(e) {
		return subjects
	}
	out := make([]S, 0, len(subjects))
	for _, s := range subjects {
		if Eval(e, s) {
			out = append(out, s)
		}
	}
	return out
}

func (c *Criterion) eval(s Subject) bool {
	var prop value.Value
	if c.Prop == OIDProperty {
		prop = value.String(s.OID())
	} else {
		v, ok := s.Get(c.Prop)
		if !ok || v.IsNull() {
			return false
		}
		prop = v
	}

	if c.Op.IsText() {
		p, want := lowerString(prop), lowerString(c.Value)
		switch c.Op {
		case OpPrefix:
			return strings.HasPrefix(p, want)
		case OpSuffix:
			return strings.HasSuffix(p, want)
		default:
			return strings.Contains(p, want)
		}
	}

	cmp, ok := value.Compare(prop, c.Value)
	if !ok {
		return false
	}
	switch c.Op {
	case OpEq:
		return cmp == 0
	case OpNe:
		return cmp != 0
	case OpLt:
		return cmp < 0
	case OpLe:
		return cmp <= 0
	case OpGt:
		return cmp > 0
	case OpGe:
		return cmp >= 0
	}
	return false
}
