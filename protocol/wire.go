package protocol

import (
	"fmt"
	"math"

	"github.com/nestormc/nestor/errors"
	"github.com/nestormc/nestor/expr"
	"github.com/nestormc/nestor/value"
)

// Success returns an empty SUCCESS answer.
func Success() *Packet { return NewPacket(OpSuccess) }

// Failure returns a FAILURE answer carrying reason.
func Failure(reason string) *Packet {
	return NewPacket(OpFailure, Str(TagReason, reason))
}

// Processing returns a PROCESSING answer carrying a progress handle id.
func Processing(id string) *Packet {
	return NewPacket(OpProcessing, Str(TagProcessingID, id))
}

// EncodeExpr returns the wire form of e: a TagExpression tag whose value is
// "and", "or" or "" and whose subtags are expressions or criteria.
func EncodeExpr(e expr.Expr) *Tag {
	switch t := e.(type) {
	case *expr.Criterion:
		return Str(TagExpression, "").Add(encodeNode(t))
	case *expr.Composite:
		return encodeNode(t)
	}
	return Str(TagExpression, "")
}

func encodeNode(e expr.Expr) *Tag {
	switch t := e.(type) {
	case *expr.Criterion:
		return Str(TagCriterion, string(t.Op)).Add(
			Str(TagCriterionProperty, t.Prop),
			Str(TagCriterionValue, t.Value.String()),
		)
	case *expr.Composite:
		tag := Str(TagExpression, string(t.Op)).Add(encodeNode(t.Left))
		if t.Right != nil {
			tag.Add(encodeNode(t.Right))
		}
		return tag
	}
	return Str(TagExpression, "")
}

// DecodeExpr parses the wire form produced by EncodeExpr. Criterion values
// arrive as strings; comparisons coerce them to the property's kind.
func DecodeExpr(t *Tag) (expr.Expr, error) {
	e, err := decodeNode(t, 0)
	if err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrInvalidData, err), "protocol", "DecodeExpr", "expression decode")
	}
	return e, nil
}

func decodeNode(t *Tag, depth int) (expr.Expr, error) {
	if depth > maxDepth {
		return nil, fmt.Errorf("expression nested deeper than %d", maxDepth)
	}
	op, err := t.Text()
	if err != nil {
		return nil, err
	}

	switch t.Name {
	case TagCriterion:
		if !expr.Op(op).Valid() {
			return nil, fmt.Errorf("unknown operator %q", op)
		}
		prop, val := t.Sub(TagCriterionProperty), t.Sub(TagCriterionValue)
		if prop == nil || val == nil {
			return nil, fmt.Errorf("criterion without property or value")
		}
		p, err := prop.Text()
		if err != nil {
			return nil, err
		}
		v, err := val.Text()
		if err != nil {
			return nil, err
		}
		return &expr.Criterion{Prop: p, Op: expr.Op(op), Value: value.String(v)}, nil

	case TagExpression:
		var children []expr.Expr
		for _, s := range t.Subtags {
			if s.Name != TagExpression && s.Name != TagCriterion {
				continue
			}
			c, err := decodeNode(s, depth+1)
			if err != nil {
				return nil, err
			}
			children = append(children, c)
		}
		if len(children) > 2 {
			return nil, fmt.Errorf("expression with %d operands", len(children))
		}
		switch expr.BoolOp(op) {
		case "":
			if len(children) == 0 {
				return expr.Empty, nil
			}
			if len(children) == 1 {
				return children[0], nil
			}
			return nil, fmt.Errorf("empty expression with two operands")
		case expr.OpAnd, expr.OpOr:
			if len(children) == 0 {
				return nil, fmt.Errorf("%s expression without operands", op)
			}
			c := &expr.Composite{Op: expr.BoolOp(op), Left: children[0]}
			if len(children) == 2 {
				c.Right = children[1]
			}
			return c, nil
		}
		return nil, fmt.Errorf("unknown composition %q", op)
	}
	return nil, fmt.Errorf("tag 0x%04x is not an expression", t.Name)
}

// EncodeValue returns a tag named name carrying v. Bools are u8, integers
// in [0, 2^32) are u32 and every other scalar is sent as a string.
func EncodeValue(name uint16, v value.Value) *Tag {
	switch v.Kind() {
	case value.KindBool:
		if v.AsBool() {
			return U8(name, 1)
		}
		return U8(name, 0)
	case value.KindInt:
		if i := v.AsInt(); i >= 0 && i <= math.MaxUint32 {
			return U32(name, uint32(i))
		}
	}
	return Str(name, v.String())
}

// DecodeValue reads a scalar tag. u8 tags become bools, other integers ints.
func DecodeValue(t *Tag) (value.Value, error) {
	switch t.Type {
	case TypeU8:
		return value.Bool(t.Num != 0), nil
	case TypeU16, TypeU32:
		return value.Int(int64(t.Num)), nil
	case TypeString:
		return value.String(t.Str), nil
	}
	return value.Null, fmt.Errorf("tag 0x%04x type 0x%02x: %w", t.Name, uint8(t.Type), ErrUnknownTagType)
}

// EncodeProperty returns a TagProperty tag named after the property. Scalars
// carry a TagPropertyValue subtag; maps carry nested TagProperty subtags.
func EncodeProperty(name string, v value.Value) *Tag {
	t := Str(TagProperty, name)
	if v.Kind() == value.KindMap {
		v.AsMap().Range(func(k string, e value.Value) bool {
			t.Add(EncodeProperty(k, e))
			return true
		})
		return t
	}
	return t.Add(EncodeValue(TagPropertyValue, v))
}

// DecodeProperty reverses EncodeProperty.
func DecodeProperty(t *Tag) (string, value.Value, error) {
	name, err := t.Text()
	if err != nil {
		return "", value.Null, err
	}
	if vt := t.Sub(TagPropertyValue); vt != nil {
		v, err := DecodeValue(vt)
		return name, v, err
	}
	m := value.NewMap()
	for _, s := range t.SubAll(TagProperty) {
		k, v, err := DecodeProperty(s)
		if err != nil {
			return "", value.Null, err
		}
		m.Set(k, v)
	}
	return name, value.MapValue(m), nil
}
