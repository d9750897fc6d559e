// Package apperr defines the error kinds surfaced by account operations.
//
// Every operation boundary converts repository, token and upload failures into
// an *Error carrying one Kind and a message that is safe to show to callers.
// The wrapped cause is kept for logging and errors.Is/As but never rendered.
package apperr

import (
	"errors"
	"net/http"
)

// Kind classifies a failure.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindConflict
	KindUnauthorized
	KindNotFound
	KindUpload
	KindInvalidToken
	KindExpiredToken
)

var kindNames = map[Kind]string{
	KindInternal:     "internal",
	KindValidation:   "validation",
	KindConflict:     "conflict",
	KindUnauthorized: "unauthorized",
	KindNotFound:     "not_found",
	KindUpload:       "upload",
	KindInvalidToken: "invalid_token",
	KindExpiredToken: "expired_token",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// StatusCode maps a kind to the HTTP status used in the failure envelope.
func (k Kind) StatusCode() int {
	switch k {
	case KindValidation, KindUpload:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindUnauthorized, KindInvalidToken, KindExpiredToken:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Error is a classified failure.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// StatusCode is a shortcut for e.Kind.StatusCode().
func (e *Error) StatusCode() int { return e.Kind.StatusCode() }

// New creates an error of the given kind without a cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an error of the given kind keeping err as the cause.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func Validation(message string) *Error   { return New(KindValidation, message) }
func Conflict(message string) *Error     { return New(KindConflict, message) }
func Unauthorized(message string) *Error { return New(KindUnauthorized, message) }
func NotFound(message string) *Error     { return New(KindNotFound, message) }
func Upload(message string) *Error       { return New(KindUpload, message) }

// Internal hides err behind a generic message.
func Internal(err error) *Error {
	return Wrap(KindInternal, "Internal server error", err)
}

// From returns the *Error in err's chain, or an internal error wrapping err.
// A nil err yields nil.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal(err)
}

// KindOf returns the kind of err; unclassified errors are KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
