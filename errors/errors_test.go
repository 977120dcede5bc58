package errors

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassification(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		class Class
	}{
		{"transient wrap", WrapTransient(ErrInvalidData, "c", "m", "a"), ClassTransient},
		{"invalid wrap", WrapInvalid(ErrConnectionLost, "c", "m", "a"), ClassInvalid},
		{"fatal wrap", WrapFatal(ErrInvalidData, "c", "m", "a"), ClassFatal},
		{"context deadline", context.DeadlineExceeded, ClassTransient},
		{"object error", ErrObjectNotFound("42"), ClassInvalid},
		{"wrapped object error", fmt.Errorf("lookup: %w", ErrMalformedOID("x")), ClassInvalid},
		{"missing config", ErrMissingConfig, ClassFatal},
		{"wrapped config", fmt.Errorf("load: %w", ErrInvalidConfig), ClassFatal},
		{"key not found", ErrKeyNotFound, ClassInvalid},
		{"sqlite busy", New("database is locked"), ClassTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.class, Classify(tt.err))
		})
	}
}

func TestPredicates(t *testing.T) {
	assert.False(t, IsTransient(nil))
	assert.False(t, IsInvalid(nil))
	assert.False(t, IsFatal(nil))

	err := WrapFatal(ErrConnectionLost, "ipc", "Serve", "accept")
	assert.True(t, IsFatal(err))
	assert.False(t, IsTransient(err))
	assert.True(t, Is(err, ErrConnectionLost))
	assert.Equal(t, "ipc.Serve: accept failed: connection lost", err.Error())
	assert.Nil(t, WrapInvalid(nil, "a", "b", "c"))
	assert.Equal(t, "fatal", ClassFatal.String())
}

func TestWrapFormat(t *testing.T) {
	err := Wrap(ErrKeyNotFound, "expr", "ToSQL", "column lookup")
	assert.Equal(t, "expr.ToSQL: column lookup failed: key not found", err.Error())
	assert.True(t, Is(err, ErrKeyNotFound))
	assert.Nil(t, Wrap(nil, "a", "b", "c"))
}

func TestObjectErrorReason(t *testing.T) {
	assert.Equal(t, "invalid-action-spec", ReasonOf(ErrInvalidActionSpec()))
	assert.Equal(t, "missing-param:target", ReasonOf(ErrMissingParam("target")))
	assert.Equal(t, "invalid-opcode:7f", ReasonOf(ErrInvalidOpcode(0x7f)))
	assert.Equal(t, "unknown", ReasonOf(fmt.Errorf("boom")))

	wrapped := WrapInvalid(ErrInvalidProvider("media"), "Manager", "Get", "provider lookup")
	oe, ok := AsObjectError(wrapped)
	require.True(t, ok)
	assert.Equal(t, "invalid-provider:media", oe.Reason())
	assert.True(t, Is(wrapped, NewObjectError(CodeInvalidProvider)))
	assert.False(t, Is(wrapped, NewObjectError(CodeObjectNotFound)))
}
