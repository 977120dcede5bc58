package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Reason codes reported to clients.
const (
	CodeMalformedOID      = "malformed-oid"
	CodeInvalidProvider   = "invalid-provider"
	CodeInvalidProcessor  = "invalid-processor"
	CodeObjectNotFound    = "object-not-found"
	CodeInvalidActionSpec = "invalid-action-spec"
	CodeMissingParam      = "missing-param"
	CodeMissingParamValue = "missing-param-value"
	CodeInvalidParamValue = "invalid-param-value"
	CodeNoQuery           = "no-query"
	CodeInvalidOpcode     = "invalid-opcode"
	CodeUnknown           = "unknown"
)

// ObjectError is a domain failure with a reason code visible to clients.
type ObjectError struct {
	Code string
	Arg  string
}

// NewObjectError returns an ObjectError with the given code and optional argument.
func NewObjectError(code string, arg ...string) *ObjectError {
	return &ObjectError{Code: code, Arg: strings.Join(arg, ":")}
}

// Reason returns the wire form of the error: "code" or "code:arg".
func (e *ObjectError) Reason() string {
	if e.Arg == "" {
		return e.Code
	}
	return e.Code + ":" + e.Arg
}

func (e *ObjectError) Error() string {
	return "object error: " + e.Reason()
}

// Is matches another ObjectError with the same code, ignoring the argument.
func (e *ObjectError) Is(target error) bool {
	t, ok := target.(*ObjectError)
	return ok && t.Code == e.Code
}

// AsObjectError returns the first ObjectError in err's chain.
func AsObjectError(err error) (*ObjectError, bool) {
	var oe *ObjectError
	if errors.As(err, &oe) {
		return oe, true
	}
	return nil, false
}

// ReasonOf returns the reason to report for err: the object error reason when
// there is one, "unknown" otherwise.
func ReasonOf(err error) string {
	if oe, ok := AsObjectError(err); ok {
		return oe.Reason()
	}
	return CodeUnknown
}

func ErrMalformedOID(ref string) error      { return NewObjectError(CodeMalformedOID, ref) }
func ErrInvalidProvider(owner string) error { return NewObjectError(CodeInvalidProvider, owner) }
func ErrInvalidProcessor(name string) error { return NewObjectError(CodeInvalidProcessor, name) }
func ErrObjectNotFound(oid string) error    { return NewObjectError(CodeObjectNotFound, oid) }
func ErrInvalidActionSpec() error           { return NewObjectError(CodeInvalidActionSpec) }
func ErrMissingParam(name string) error     { return NewObjectError(CodeMissingParam, name) }
func ErrMissingParamValue(name string) error {
	return NewObjectError(CodeMissingParamValue, name)
}
func ErrNoQuery() error { return NewObjectError(CodeNoQuery) }

// ErrInvalidOpcode reports a packet opcode that has no registered handler.
func ErrInvalidOpcode(op uint8) error {
	return NewObjectError(CodeInvalidOpcode, fmt.Sprintf("%02x", op))
}

// ErrInvalidParamValue reports a parameter value that does not fit its declared type.
func ErrInvalidParamValue(name string) error {
	return NewObjectError(CodeInvalidParamValue, name)
}
