// Package apperr defines the error taxonomy shared by services, stores and
// the HTTP layer. Stores return the bare sentinels; services attach a
// caller-facing message with New or Wrap.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the machine-stable classification of an error.
type Kind string

const (
	KindUnauthorized        Kind = "unauthorized"
	KindForbidden           Kind = "forbidden"
	KindBadRequest          Kind = "bad_request"
	KindConflict            Kind = "conflict"
	KindNotFound            Kind = "not_found"
	KindUnprocessableEntity Kind = "unprocessable_entity"
	KindInternal            Kind = "internal"
)

var (
	ErrUnauthorized        = &Error{Kind: KindUnauthorized, Message: "authentication required"}
	ErrForbidden           = &Error{Kind: KindForbidden, Message: "insufficient permissions"}
	ErrBadRequest          = &Error{Kind: KindBadRequest, Message: "invalid request"}
	ErrConflict            = &Error{Kind: KindConflict, Message: "resource already exists"}
	ErrNotFound            = &Error{Kind: KindNotFound, Message: "resource not found"}
	ErrUnprocessableEntity = &Error{Kind: KindUnprocessableEntity, Message: "request could not be processed"}
	ErrInternal            = &Error{Kind: KindInternal, Message: "internal server error"}
)

// Error is a classified application error. Err holds the cause and is never
// shown to clients.
type Error struct {
	Kind    Kind
	Message string
	Fields  []string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, ErrNotFound)
// holds for every not-found error regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Status maps the kind to an HTTP status code.
func (e *Error) Status() int {
	return StatusOf(e.Kind)
}

// Messages returns the client-facing message list.
func (e *Error) Messages() []string {
	if len(e.Fields) > 0 {
		out := make([]string, len(e.Fields))
		copy(out, e.Fields)
		return out
	}
	return []string{e.Message}
}

// New builds an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf builds an error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a cause to a new classified error.
func Wrap(err error, kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Validation builds a bad-request error carrying field-level messages.
func Validation(fields []string) *Error {
	return &Error{Kind: KindBadRequest, Message: "validation failed", Fields: fields}
}

func Unauthorized(message string) *Error { return New(KindUnauthorized, message) }
func Forbidden(message string) *Error    { return New(KindForbidden, message) }
func BadRequest(message string) *Error   { return New(KindBadRequest, message) }
func Conflict(message string) *Error     { return New(KindConflict, message) }
func NotFound(message string) *Error     { return New(KindNotFound, message) }
func Unprocessable(message string) *Error {
	return New(KindUnprocessableEntity, message)
}

// From classifies any error. Unclassified errors become internal errors
// that keep the original as cause.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return &Error{Kind: KindInternal, Message: ErrInternal.Message, Err: err}
}

// KindOf returns the kind of err, KindInternal for unclassified errors.
func KindOf(err error) Kind {
	return From(err).Kind
}

// StatusOf maps a kind to an HTTP status code.
func StatusOf(kind Kind) int {
	switch kind {
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindBadRequest:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	case KindUnprocessableEntity:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
