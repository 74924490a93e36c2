// Package apperr defines the stable error-kind taxonomy shared across the
// signaling hub, call-history core, and media pipeline so that transports
// can map internal failures to a consistent wire representation without
// leaking internals.
package apperr

import (
	"errors"
	"fmt"
)

// Kind is a stable, transport-independent error category.
type Kind string

const (
	Unauthenticated  Kind = "unauthenticated"
	BadInput         Kind = "bad_input"
	Conflict         Kind = "conflict"
	Forbidden        Kind = "forbidden"
	NotFound         Kind = "not_found"
	Timeout          Kind = "timeout"
	ValidationFailed Kind = "validation_failed"
	External         Kind = "external"
	Internal         Kind = "internal"
)

// Error wraps a Kind, a user-safe message, and an optional underlying
// cause retained for logging but never rendered to clients.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New creates an Error with no underlying cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an Error carrying cause for logs, with message as the
// client-safe surface.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf extracts the Kind of err, defaulting to Internal for errors that
// were not constructed via this package.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Code returns the {code,message} pair the signaling hub puts on the
// wire for an "error" event, never including the underlying cause.
func Code(err error) (string, string) {
	var e *Error
	if errors.As(err, &e) {
		return string(e.Kind), e.Message
	}
	return string(Internal), "internal error"
}

// Is reports whether err (or something it wraps) has the given Kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
