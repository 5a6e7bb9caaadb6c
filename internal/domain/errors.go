/**
 * @description
 * Machine-readable error kinds shared by the store, service and HTTP layers.
 */
package domain

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so callers can react without string matching.
type Kind string

const (
	KindNotFound            Kind = "NOT_FOUND"
	KindAlreadyExists       Kind = "ALREADY_EXISTS"
	KindInvalidState        Kind = "INVALID_STATE"
	KindInvalidInput        Kind = "INVALID_INPUT"
	KindConcurrencyConflict Kind = "CONCURRENCY_CONFLICT"
	KindFatal               Kind = "FATAL"
)

// Error is the error type returned by every rental-finance operation.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	default:
		return e.Message
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, ErrNotFound) works.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Op == "" && t.Message == "" && t.Err == nil && t.Kind == e.Kind
}

// Sentinels for errors.Is comparisons.
var (
	ErrNotFound            = &Error{Kind: KindNotFound}
	ErrAlreadyExists       = &Error{Kind: KindAlreadyExists}
	ErrInvalidState        = &Error{Kind: KindInvalidState}
	ErrInvalidInput        = &Error{Kind: KindInvalidInput}
	ErrConcurrencyConflict = &Error{Kind: KindConcurrencyConflict}
	ErrFatal               = &Error{Kind: KindFatal}
)

func NotFound(op, msg string) error      { return &Error{Kind: KindNotFound, Op: op, Message: msg} }
func AlreadyExists(op, msg string) error { return &Error{Kind: KindAlreadyExists, Op: op, Message: msg} }
func InvalidState(op, msg string) error  { return &Error{Kind: KindInvalidState, Op: op, Message: msg} }
func InvalidInput(op, msg string) error  { return &Error{Kind: KindInvalidInput, Op: op, Message: msg} }

// Conflict reports a lost unique-constraint race.
func Conflict(op, msg string, err error) error {
	return &Error{Kind: KindConcurrencyConflict, Op: op, Message: msg, Err: err}
}

// Fatal wraps an unexpected datastore or infrastructure failure.
func Fatal(op string, err error) error {
	return &Error{Kind: KindFatal, Op: op, Message: "internal failure", Err: err}
}

// KindOf returns the kind carried by err, or KindFatal for foreign errors.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindFatal
}
