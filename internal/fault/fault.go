// Package fault classifies failures into the kinds the HTTP layer exposes.
//
// Components wrap their errors with a kind at the point of failure; the
// transport asks KindOf to pick the status code. Unclassified errors are
// internal by default, so a missing classification degrades to 500 rather
// than leaking a misleading class.
package fault

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is a failure class, not a Go type hierarchy.
type Kind string

const (
	// InvalidInput covers shape, length, and precondition failures,
	// including "no requirements extracted".
	InvalidInput Kind = "invalid_input"

	// ExternalService covers LLM transport, timeout, rate-limit, and
	// model-unavailable failures after internal retries.
	ExternalService Kind = "external_service"

	// MalformedResponse means the LLM returned non-conforming output
	// after the retry budget was spent.
	MalformedResponse Kind = "malformed_response"

	// Storage covers DB connectivity, constraint violations, and
	// transaction rollbacks.
	Storage Kind = "storage"

	// Internal is everything unexpected.
	Internal Kind = "internal"
)

// Error carries a kind alongside the message and an optional cause.
type Error struct {
	kind Kind
	msg  string
	err  error
}

func (e *Error) Error() string {
	if e.err != nil {
		return e.msg + ": " + e.err.Error()
	}
	return e.msg
}

func (e *Error) Unwrap() error { return e.err }

// Kind returns the failure class of this error.
func (e *Error) Kind() Kind { return e.kind }

// New creates a classified error with a fixed message.
func New(kind Kind, msg string) error {
	return &Error{kind: kind, msg: msg}
}

// Errorf creates a classified error with a formatted message.
func Errorf(kind Kind, format string, args ...any) error {
	return &Error{kind: kind, msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying error.
// If err is nil, Wrap returns nil so call sites can wrap unconditionally.
func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{kind: kind, msg: msg, err: err}
}

// KindOf walks the error chain and returns the outermost classified kind.
// Unclassified (or nil-wrapped foreign) errors map to Internal.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.kind
	}
	return Internal
}

// HTTPStatus maps a kind to its transport status code.
func HTTPStatus(kind Kind) int {
	switch kind {
	case InvalidInput:
		return http.StatusBadRequest
	case ExternalService, MalformedResponse:
		return http.StatusBadGateway
	case Storage, Internal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// Code maps a kind to the stable API error code string.
func Code(kind Kind) string {
	switch kind {
	case InvalidInput:
		return "INVALID_INPUT"
	case ExternalService:
		return "EXTERNAL_SERVICE"
	case MalformedResponse:
		return "MALFORMED_RESPONSE"
	case Storage:
		return "STORAGE_ERROR"
	default:
		return "INTERNAL_ERROR"
	}
}
