package lir

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a contract violation raised during lowering.
type ErrorKind uint8

const (
	ErrShouldNotReachHere ErrorKind = iota + 1
	ErrUnimplemented
	ErrUnsupported
	ErrKindMismatch
)

func (k ErrorKind) String() string {
	switch k {
	case ErrShouldNotReachHere:
		return "should not reach here"
	case ErrUnimplemented:
		return "unimplemented"
	case ErrUnsupported:
		return "unsupported"
	case ErrKindMismatch:
		return "kind mismatch"
	}
	return "internal error"
}

// Error is the panic value used for contract violations: an operand shape,
// operation or kind the backend does not implement. Lowering code panics with
// it and only the compile entry points recover it, so no partially emitted
// code ever escapes.
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return "lir: " + e.Kind.String()
	}
	return fmt.Sprintf("lir: %s: %s", e.Kind, e.Message)
}

func newError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func ShouldNotReachHere(format string, args ...any) *Error {
	return newError(ErrShouldNotReachHere, format, args...)
}

func Unimplemented(format string, args ...any) *Error {
	return newError(ErrUnimplemented, format, args...)
}

func Unsupported(format string, args ...any) *Error {
	return newError(ErrUnsupported, format, args...)
}

func KindMismatch(format string, args ...any) *Error {
	return newError(ErrKindMismatch, format, args...)
}

// ErrDivideByZero is returned by Eval for integer division by zero.
var ErrDivideByZero = errors.New("lir: integer division by zero")

// Recover converts a contract violation panic into an error stored in *errp.
// Other panics are re-raised. Use it as `defer lir.Recover(&err)`.
func Recover(errp *error) {
	r := recover()
	if r == nil {
		return
	}
	if e, ok := r.(*Error); ok {
		*errp = e
		return
	}
	panic(r)
}

// IsKind reports whether err is a contract violation of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// Catch runs fn and returns the contract violation it raised, if any.
func Catch(fn func()) (err error) {
	defer Recover(&err)
	fn()
	return nil
}
