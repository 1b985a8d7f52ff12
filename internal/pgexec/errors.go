package pgexec

import (
	"errors"
	"fmt"
)

// Kind is the machine-checkable failure category reported to callers.
// The string values are the wire contract and must not change.
type Kind string

const (
	KindInvalidRequest  Kind = "INVALID_REQUEST"
	KindPolicyViolation Kind = "POLICY_VIOLATION"
	KindConnectionError Kind = "CONNECTION_ERROR"
	KindTimeout         Kind = "TIMEOUT"
	KindQueryError      Kind = "QUERY_ERROR"
)

// Error carries a failure kind alongside a human-readable message. Every
// failure that crosses the gateway boundary is one of these; the gateway
// recovers the kind with errors.As and maps it onto the wire contract.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Errorf builds an Error with a formatted message.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// wrapError builds an Error whose message is the underlying error's text,
// preserved verbatim for diagnostic value.
func wrapError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Message: err.Error(), cause: err}
}

// KindOf returns the failure kind carried by err, or KindQueryError when err
// is not a structured failure. The taxonomy is closed: callers always receive
// one of the five kinds.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindQueryError
}
