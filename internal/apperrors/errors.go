// Package apperrors provides the error kinds shared by the service layer.
package apperrors

import (
	"errors"
	"fmt"
)

// Kind classifies an error independently of any transport.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindConflict
	KindUnauthorized
	KindForbidden
	KindState
	KindDependency
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation_error"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindState:
		return "invalid_state"
	case KindDependency:
		return "dependency_error"
	default:
		return "internal_error"
	}
}

// Error wraps service-level errors with additional context.
type Error struct {
	Kind    Kind
	Op      string // Operation name
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	default:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// Sentinel is a kinded sentinel error. Compare with errors.Is.
type Sentinel struct {
	kind Kind
	msg  string
}

// NewSentinel declares a package-level sentinel of the given kind.
func NewSentinel(kind Kind, msg string) *Sentinel {
	return &Sentinel{kind: kind, msg: msg}
}

func (s *Sentinel) Error() string { return s.msg }

// Kind returns the sentinel's classification.
func (s *Sentinel) Kind() Kind { return s.kind }

// E builds an *Error. The kind is taken from err when it carries one.
func E(op string, err error) *Error {
	return &Error{Kind: KindOf(err), Op: op, Err: err}
}

// Wrap builds an *Error with an explicit kind and message.
func Wrap(kind Kind, op, message string, err error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Err: err}
}

func Validation(op, message string) *Error {
	return &Error{Kind: KindValidation, Op: op, Message: message}
}

func NotFound(op, message string) *Error {
	return &Error{Kind: KindNotFound, Op: op, Message: message}
}

func Conflict(op, message string) *Error {
	return &Error{Kind: KindConflict, Op: op, Message: message}
}

func Dependency(op string, err error) *Error {
	return &Error{Kind: KindDependency, Op: op, Err: err}
}

func Internal(op string, err error) *Error {
	return &Error{Kind: KindInternal, Op: op, Err: err}
}

// KindOf walks the chain and returns the first classification found.
func KindOf(err error) Kind {
	if err == nil {
		return KindInternal
	}
	var ae *Error
	if errors.As(err, &ae) && ae.Kind != KindInternal {
		return ae.Kind
	}
	var s *Sentinel
	if errors.As(err, &s) {
		return s.kind
	}
	if ae != nil {
		return ae.Kind
	}
	return KindInternal
}

// Message returns the most specific human-readable text in the chain.
func Message(err error) string {
	var ae *Error
	if errors.As(err, &ae) && ae.Message != "" {
		return ae.Message
	}
	var s *Sentinel
	if errors.As(err, &s) {
		return s.msg
	}
	return err.Error()
}

func IsNotFound(err error) bool     { return KindOf(err) == KindNotFound }
func IsConflict(err error) bool     { return KindOf(err) == KindConflict }
func IsValidation(err error) bool   { return KindOf(err) == KindValidation }
func IsState(err error) bool        { return KindOf(err) == KindState }
func IsForbidden(err error) bool    { return KindOf(err) == KindForbidden }
func IsDependency(err error) bool   { return KindOf(err) == KindDependency }
func IsUnauthorized(err error) bool { return KindOf(err) == KindUnauthorized }
