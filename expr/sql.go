package expr

import (
	"fmt"
	"strings"

	"github.com/nestormc/nestor/errors"
)

var sqlOps = map[Op]string{
	OpEq: "=",
	OpNe: "!=",
	OpLt: "<",
	OpLe: "<=",
	OpGt: ">",
	OpGe: ">=",
}

// ToSQL renders e as a WHERE clause with positional placeholders. columns
// maps property names to SQL fragments. Values are never written into the
// clause text. A criterion on a property missing from columns returns an
// error wrapping errors.ErrKeyNotFound.
func ToSQL(e Expr, columns map[string]string) (string, []any, error) {
	var sb strings.Builder
	var params []any
	if err := writeSQL(&sb, &params, e, columns); err != nil {
		return "", nil, err
	}
	return sb.String(), params, nil
}

func writeSQL(sb *strings.Builder, params *[]any, e Expr, columns map[string]string) error {
	switch t := e.(type) {
	case nil, emptyExpr:
		sb.WriteString("(1=?)")
		*params = append(*params, 1)
		return nil

	case *Criterion:
		col, ok := columns[t.Prop]
		if !ok {
			return errors.Wrap(fmt.Errorf("property %q: %w", t.Prop, errors.ErrKeyNotFound),
				"expr", "ToSQL", "column lookup")
		}
		if t.Op.IsText() {
			*params = append(*params, likePattern(t.Op, t.Value.String()))
			fmt.Fprintf(sb, `(%s LIKE ? ESCAPE '\')`, col)
			return nil
		}
		op, ok := sqlOps[t.Op]
		if !ok {
			return errors.WrapInvalid(fmt.Errorf("operator %q", t.Op), "expr", "ToSQL", "operator lookup")
		}
		*params = append(*params, t.Value.Any())
		fmt.Fprintf(sb, "(%s %s ?)", col, op)
		return nil

	case *Composite:
		if t.Right == nil {
			return writeSQL(sb, params, t.Left, columns)
		}
		sb.WriteByte('(')
		if err := writeSQL(sb, params, t.Left, columns); err != nil {
			return err
		}
		sb.WriteByte(' ')
		sb.WriteString(strings.ToUpper(string(t.Op)))
		sb.WriteByte(' ')
		if err := writeSQL(sb, params, t.Right, columns); err != nil {
			return err
		}
		sb.WriteByte(')')
		return nil
	}
	return errors.WrapInvalid(fmt.Errorf("unexpected node %T", e), "expr", "ToSQL", "render")
}

// likeEscaper makes LIKE wildcards in criterion values match literally.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func likePattern(op Op, v string) string {
	v = likeEscaper.Replace(v)
	switch op {
	case OpPrefix:
		return v + "%"
	case OpSuffix:
		return "%" + v
	default:
		return "%" + v + "%"
	}
}
