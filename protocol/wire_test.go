package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nestormc/nestor/errors"
	"github.com/nestormc/nestor/expr"
	"github.com/nestormc/nestor/value"
)

func TestExpressionWireRoundTrip(t *testing.T) {
	exprs := []expr.Expr{
		expr.Empty,
		expr.Where("artist", expr.OpEq, "X"),
		expr.Or(expr.Where("artist", expr.OpEq, "X"), expr.Where("title", expr.OpContains, "Y")),
		expr.And(expr.Where("year", expr.OpGe, "1990"), expr.Or(expr.Where("oid", expr.OpPrefix, "a"), expr.Empty)),
	}

	for _, e := range exprs {
		t.Run(e.String(), func(t *testing.T) {
			b, err := Encode(NewPacket(OpObjects, Str(TagMatchQuery, "media").Add(EncodeExpr(e))), EncodeOptions{})
			require.NoError(t, err)
			p, err := Decode(b)
			require.NoError(t, err)

			got, err := DecodeExpr(p.Tag(TagMatchQuery).Sub(TagExpression))
			require.NoError(t, err)
			assert.Equal(t, e.String(), got.String())
		})
	}
}

func TestDecodeExprErrors(t *testing.T) {
	bad := []*Tag{
		Str(TagCriterion, "=~").Add(Str(TagCriterionProperty, "a"), Str(TagCriterionValue, "b")),
		Str(TagCriterion, "==").Add(Str(TagCriterionProperty, "a")),
		Str(TagExpression, "xor"),
		Str(TagExpression, "and"),
		U8(TagExpression, 1),
	}
	for _, tag := range bad {
		_, err := DecodeExpr(tag)
		assert.Error(t, err)
		assert.True(t, errors.IsInvalid(err))
	}
}

func TestPropertyWireForm(t *testing.T) {
	nested := value.NewMap()
	nested.Set("year", value.Int(1999))
	nested.Set("label", value.String("Indie"))

	cases := []struct {
		in   value.Value
		typ  TagType
		want value.Value
	}{
		{value.Bool(true), TypeU8, value.Bool(true)},
		{value.Int(42), TypeU32, value.Int(42)},
		{value.Int(-1), TypeString, value.String("-1")},
		{value.Int(1 << 40), TypeString, value.String("1099511627776")},
		{value.Float(2.5), TypeString, value.String("2.5")},
		{value.String("hello"), TypeString, value.String("hello")},
	}
	for _, c := range cases {
		tag := EncodeProperty("p", c.in)
		require.NotNil(t, tag.Sub(TagPropertyValue))
		assert.Equal(t, c.typ, tag.Sub(TagPropertyValue).Type)
		name, got, err := DecodeProperty(tag)
		require.NoError(t, err)
		assert.Equal(t, "p", name)
		assert.True(t, c.want.Equal(got), "got %v", got)
	}

	tag := EncodeProperty("meta", value.MapValue(nested))
	assert.Nil(t, tag.Sub(TagPropertyValue))
	assert.Len(t, tag.SubAll(TagProperty), 2)
	_, got, err := DecodeProperty(tag)
	require.NoError(t, err)
	assert.Equal(t, []string{"year", "label"}, got.AsMap().Keys())
}

func TestAnswers(t *testing.T) {
	f := Failure("object-not-found:7")
	assert.Equal(t, OpFailure, f.Opcode)
	assert.Equal(t, "object-not-found:7", f.Tag(TagReason).Str)
	assert.Equal(t, OpSuccess, Success().Opcode)
	assert.Equal(t, "id", Processing("id").Tag(TagProcessingID).Str)
	assert.Equal(t, "OBJECTS", OpObjects.String())
	assert.Equal(t, "0x7f", Opcode(0x7f).String())
}
