// Package errors provides the error conventions shared by every nestor package.
//
// # Classification
//
// Errors are sorted into three classes that drive how callers react:
//
//   - Transient: timeouts, lost connections, busy storage (retry with backoff)
//   - Invalid: malformed input, unknown objects, bad configuration (report, do not retry)
//   - Fatal: corrupted state, exhausted resources (stop the worker)
//
// Wrap, WrapTransient, WrapInvalid and WrapFatal add context using the format
//
//	"component.method: action failed: %w"
//
// and keep the chain inspectable with errors.Is and errors.As.
//
// # Object errors
//
// Failures that are reported to remote clients carry a machine readable reason code.
// They are represented by ObjectError, whose Reason is either a bare code such as
// "invalid-action-spec" or a code with an argument such as "object-not-found:42".
// The dispatch loops (socket and HTTP) convert an ObjectError found anywhere in an
// error chain into a failure response carrying that reason:
//
//	obj, err := manager.Get(ctx, "media:42")
//	if oe, ok := errors.AsObjectError(err); ok {
//	    client.AnswerFailure(oe.Reason())
//	}
//
// Programmer errors, such as translating an expression that names a property with no
// SQL column, are not object errors. They wrap ErrKeyNotFound and propagate.
package errors
