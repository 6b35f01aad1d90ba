// Package status defines the error taxonomy shared by the engine and every
// kernel.
//
// Every fallible step returns an error whose Code can be recovered with
// CodeOf, however many times it has been wrapped on the way up.
package status

import (
	stderrors "errors"
	"fmt"

	"github.com/pkg/errors"
)

// Code classifies a failure.
type Code int

// Status codes.
const (
	OK Code = iota
	// Unknown marks an internal invariant violation: capacity overrun,
	// unresolved tensor, inconsistent graph.
	Unknown
	// UnsupportedType means a kernel was invoked with an element type it
	// does not implement.
	UnsupportedType
	// UnsupportedActivation means a kernel was invoked with an activation
	// kind it does not implement.
	UnsupportedActivation
	// FailedCheckCondition means a runtime numeric precondition failed.
	FailedCheckCondition
	// Backend is a failure passed through unchanged from an accelerated
	// kernel backend.
	Backend
)

// String returns the status name.
func (c Code) String() string {
	switch c {
	case OK:
		return "Ok"
	case Unknown:
		return "UnknownError"
	case UnsupportedType:
		return "UnsupportedType"
	case UnsupportedActivation:
		return "UnsupportedActivation"
	case FailedCheckCondition:
		return "FailedCheckCondition"
	case Backend:
		return "BackendError"
	default:
		return fmt.Sprintf("Code(%d)", int(c))
	}
}

// Sentinel errors, one per code. Match with errors.Is.
var (
	ErrUnknown               = &Error{Code: Unknown}
	ErrUnsupportedType       = &Error{Code: UnsupportedType}
	ErrUnsupportedActivation = &Error{Code: UnsupportedActivation}
	ErrFailedCheckCondition  = &Error{Code: FailedCheckCondition}
)

// Error is a coded failure.
type Error struct {
	Code Code
	Msg  string
	// Cause is set for backend pass-through errors.
	Cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Msg == "" && e.Cause == nil:
		return e.Code.String()
	case e.Cause != nil:
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Msg, e.Cause)
	default:
		return fmt.Sprintf("%s: %s", e.Code, e.Msg)
	}
}

// Is reports whether target is an *Error with the same code, so that
// errors.Is(err, status.ErrUnsupportedType) works for any message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Unwrap returns the backend cause, if any.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Errorf returns a coded error carrying a stack trace.
func Errorf(code Code, format string, args ...any) error {
	return errors.WithStack(&Error{Code: code, Msg: fmt.Sprintf(format, args...)})
}

// Unknownf is shorthand for Errorf(Unknown, ...).
func Unknownf(format string, args ...any) error {
	return Errorf(Unknown, format, args...)
}

// Checkf returns nil when cond holds and a FailedCheckCondition error
// otherwise.
func Checkf(cond bool, format string, args ...any) error {
	if cond {
		return nil
	}
	return Errorf(FailedCheckCondition, format, args...)
}

// Wrapf attaches code to err. The original error stays reachable through
// errors.Is/As.
func Wrapf(code Code, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return errors.WithStack(&Error{Code: code, Msg: fmt.Sprintf(format, args...), Cause: err})
}

// FromBackend wraps an error produced by an accelerated backend.
func FromBackend(err error, format string, args ...any) error {
	return Wrapf(Backend, err, format, args...)
}

// CodeOf extracts the status code of err. A nil error is OK and an error
// without a code is Unknown.
func CodeOf(err error) Code {
	if err == nil {
		return OK
	}
	var se *Error
	if stderrors.As(err, &se) {
		return se.Code
	}
	return Unknown
}
