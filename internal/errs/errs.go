// Package errs classifies failures that cross the client/server boundary.
package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the category of a failure.
type Kind int

const (
	Unknown Kind = iota
	Transport
	Auth
	Conflict
	Validation
	NotFound
)

func (k Kind) String() string {
	switch k {
	case Transport:
		return "transport"
	case Auth:
		return "auth"
	case Conflict:
		return "conflict"
	case Validation:
		return "validation"
	case NotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Error is a classified failure. Expected and Found are only meaningful for
// Conflict errors and carry the version the writer assumed and the version
// the server actually holds.
type Error struct {
	Kind     Kind
	Op       string
	Message  string
	Expected int64
	Found    int64
	Err      error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Kind == Conflict && msg == "" {
		msg = fmt.Sprintf("version conflict: expected %d, found %d", e.Expected, e.Found)
	}
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Op != "" {
		return e.Op + ": " + msg
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// E builds an error of the given kind.
func E(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Message: msg}
}

// Wrap classifies err under kind. A nil err returns nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// ConflictError reports a rejected versioned write.
func ConflictError(op string, expected, found int64) *Error {
	return &Error{Kind: Conflict, Op: op, Expected: expected, Found: found}
}

// NotFoundf reports a missing resource.
func NotFoundf(op, format string, args ...any) *Error {
	return &Error{Kind: NotFound, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Validationf reports malformed input or an undecodable document.
func Validationf(op, format string, args ...any) *Error {
	return &Error{Kind: Validation, Op: op, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// AsConflict extracts conflict details from err.
func AsConflict(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) && e.Kind == Conflict {
		return e, true
	}
	return nil, false
}

// Retryable reports whether the operation may succeed if repeated unchanged.
func Retryable(err error) bool {
	return Is(err, Transport)
}

// HTTPStatus maps a kind to the status code the server responds with.
func HTTPStatus(kind Kind) int {
	switch kind {
	case Auth:
		return http.StatusUnauthorized
	case Conflict:
		return http.StatusConflict
	case Validation:
		return http.StatusUnprocessableEntity
	case NotFound:
		return http.StatusNotFound
	case Transport:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// FromStatus maps a response status code back to a kind.
func FromStatus(code int) Kind {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return Auth
	case code == http.StatusConflict || code == http.StatusPreconditionFailed:
		return Conflict
	case code == http.StatusBadRequest || code == http.StatusUnprocessableEntity:
		return Validation
	case code == http.StatusNotFound:
		return NotFound
	default:
		return Transport
	}
}
