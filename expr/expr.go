package expr

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/nestormc/nestor/value"
)

// Op is a criterion operator.
type Op string

const (
	OpEq       Op = "=="
	OpNe       Op = "!="
	OpLt       Op = "<"
	OpLe       Op = "<="
	OpGt       Op = ">"
	OpGe       Op = ">="
	OpPrefix   Op = "<~"
	OpSuffix   Op = "~>"
	OpContains Op = "~"
)

var validOps = map[Op]bool{
	OpEq: true, OpNe: true, OpLt: true, OpLe: true, OpGt: true, OpGe: true,
	OpPrefix: true, OpSuffix: true, OpContains: true,
}

// Valid reports whether op is a known operator.
func (op Op) Valid() bool { return validOps[op] }

// IsText reports whether op is one of the case-insensitive text operators.
func (op Op) IsText() bool {
	return op == OpPrefix || op == OpSuffix || op == OpContains
}

// BoolOp joins the two sides of a Composite.
type BoolOp string

const (
	OpAnd BoolOp = "and"
	OpOr  BoolOp = "or"
)

// OIDProperty is the synthetic property that reads the subject's oid.
const OIDProperty = "oid"

// Expr is a node of an expression tree: *Criterion, *Composite or Empty.
type Expr interface {
	fmt.Stringer
	isExpr()
}

// Criterion compares one property against a literal value.
type Criterion struct {
	Prop  string
	Op    Op
	Value value.Value
}

// Composite joins two expressions. Right may be nil, in which case the
// composite behaves as Left.
type Composite struct {
	Op    BoolOp
	Left  Expr
	Right Expr
}

type emptyExpr struct{}

// Empty matches every subject.
var Empty Expr = emptyExpr{}

func (*Criterion) isExpr() {}
func (*Composite) isExpr() {}
func (emptyExpr) isExpr()  {}

// Where builds a criterion. v is converted with value.FromAny.
func Where(prop string, op Op, v any) *Criterion {
	return &Criterion{Prop: prop, Op: op, Value: value.FromAny(v)}
}

// And returns the conjunction of l and r.
func And(l, r Expr) *Composite { return &Composite{Op: OpAnd, Left: l, Right: r} }

// Or returns the disjunction of l and r.
func Or(l, r Expr) *Composite { return &Composite{Op: OpOr, Left: l, Right: r} }

// IsEmpty reports whether e matches everything without testing anything.
func IsEmpty(e Expr) bool {
	_, ok := e.(emptyExpr)
	return e == nil || ok
}

func (c *Criterion) String() string {
	return c.Prop + " " + string(c.Op) + " " + quoteValue(c.Value)
}

func (c *Composite) String() string {
	if c.Right == nil {
		return c.Left.String()
	}
	return "(" + c.Left.String() + " " + string(c.Op) + " " + c.Right.String() + ")"
}

func (emptyExpr) String() string { return "" }

func quoteValue(v value.Value) string {
	if v.Kind() == value.KindString {
		return strconv.Quote(v.AsString())
	}
	return v.String()
}

// Props returns the property names referenced by e, in order of first use.
func Props(e Expr) []string {
	var out []string
	seen := map[string]bool{}
	var walk func(Expr)
	walk = func(e Expr) {
		switch t := e.(type) {
		case *Criterion:
			if !seen[t.Prop] {
				seen[t.Prop] = true
				out = append(out, t.Prop)
			}
		case *Composite:
			walk(t.Left)
			if t.Right != nil {
				walk(t.Right)
			}
		}
	}
	walk(e)
	return out
}

func lowerString(v value.Value) string { return strings.ToLower(v.String()) }
