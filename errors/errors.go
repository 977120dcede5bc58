package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Class says how a caller should react to an error.
type Class uint8

const (
	// ClassTransient errors may succeed when retried.
	ClassTransient Class = iota
	// ClassInvalid errors come from bad input and fail the same way again.
	ClassInvalid
	// ClassFatal errors stop the worker that hit them.
	ClassFatal
)

func (c Class) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassInvalid:
		return "invalid"
	case ClassFatal:
		return "fatal"
	}
	return "unknown"
}

var (
	ErrAlreadyStarted = errors.New("component already started")
	ErrNotStarted     = errors.New("component not started")
	ErrConnectionLost = errors.New("connection lost")
	ErrInvalidData    = errors.New("invalid data format")
	ErrKeyNotFound    = errors.New("key not found")
	ErrInvalidConfig  = errors.New("invalid configuration")
	ErrMissingConfig  = errors.New("missing required configuration")
)

// Sentinels with a known class, checked in order.
var sentinels = []struct {
	err   error
	class Class
}{
	{ErrConnectionLost, ClassTransient},
	{context.DeadlineExceeded, ClassTransient},
	{context.Canceled, ClassTransient},
	{ErrInvalidConfig, ClassFatal},
	{ErrMissingConfig, ClassFatal},
	{ErrInvalidData, ClassInvalid},
	{ErrKeyNotFound, ClassInvalid},
}

// Substrings of driver errors that are worth a retry, such as SQLite's
// "database is locked".
var transientHints = []string{"timeout", "temporary", "busy", "locked", "unavailable"}

// classified marks an error chain with an explicit class.
type classified struct {
	class Class
	err   error
}

func (c *classified) Error() string { return c.err.Error() }
func (c *classified) Unwrap() error { return c.err }

// Classify finds the class of err. An explicit class set by one of the Wrap
// functions wins, then object errors (invalid), then known sentinels, then
// message hints. Anything else is transient.
func Classify(err error) Class {
	if err == nil {
		return ClassTransient
	}
	var c *classified
	if errors.As(err, &c) {
		return c.class
	}
	if _, ok := AsObjectError(err); ok {
		return ClassInvalid
	}
	for _, s := range sentinels {
		if errors.Is(err, s.err) {
			return s.class
		}
	}
	msg := strings.ToLower(err.Error())
	for _, hint := range transientHints {
		if strings.Contains(msg, hint) {
			return ClassTransient
		}
	}
	return ClassTransient
}

func IsTransient(err error) bool { return err != nil && Classify(err) == ClassTransient }
func IsInvalid(err error) bool   { return err != nil && Classify(err) == ClassInvalid }
func IsFatal(err error) bool     { return err != nil && Classify(err) == ClassFatal }

// Wrap adds context as "component.method: action failed: err".
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

func wrapAs(class Class, err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return &classified{class: class, err: Wrap(err, component, method, action)}
}

// WrapTransient is Wrap, classifying the result as transient.
func WrapTransient(err error, component, method, action string) error {
	return wrapAs(ClassTransient, err, component, method, action)
}

// WrapInvalid is Wrap, classifying the result as invalid.
func WrapInvalid(err error, component, method, action string) error {
	return wrapAs(ClassInvalid, err, component, method, action)
}

// WrapFatal is Wrap, classifying the result as fatal.
func WrapFatal(err error, component, method, action string) error {
	return wrapAs(ClassFatal, err, component, method, action)
}

// Standard library helpers, so that importers need a single errors package.

func Is(err, target error) bool     { return errors.Is(err, target) }
func As(err error, target any) bool { return errors.As(err, target) }
func New(text string) error         { return errors.New(text) }
func Join(errs ...error) error      { return errors.Join(errs...) }
func Unwrap(err error) error        { return errors.Unwrap(err) }
