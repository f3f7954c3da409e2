// Package apperr holds the error taxonomy surfaced by the cache, the session
// and the api client. Callers match kinds with errors.Is against the
// sentinels, e.g. errors.Is(err, apperr.ErrNotFound).
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	Transport Kind = iota + 1
	Validation
	NotFound
	Unauthorized
	InvalidCredentials
	TokenRefresh
	Forbidden
	Malformed
)

func (k Kind) String() string {
	switch k {
	case Transport:
		return "transport"
	case Validation:
		return "validation"
	case NotFound:
		return "not found"
	case Unauthorized:
		return "unauthorized"
	case InvalidCredentials:
		return "invalid credentials"
	case TokenRefresh:
		return "token refresh failed"
	case Forbidden:
		return "forbidden"
	case Malformed:
		return "malformed payload"
	default:
		return "unknown"
	}
}

type Error struct {
	Kind   Kind
	Op     string
	Status int
	Msg    string
	Err    error
}

var (
	ErrTransport          = &Error{Kind: Transport}
	ErrValidation         = &Error{Kind: Validation}
	ErrNotFound           = &Error{Kind: NotFound}
	ErrUnauthorized       = &Error{Kind: Unauthorized}
	ErrInvalidCredentials = &Error{Kind: InvalidCredentials}
	ErrTokenRefresh       = &Error{Kind: TokenRefresh}
	ErrForbidden          = &Error{Kind: Forbidden}
	ErrMalformed          = &Error{Kind: Malformed}
)

func (e *Error) Error() string {
	s := e.Kind.String()
	if e.Op != "" {
		s = e.Op + ": " + s
	}
	if e.Status != 0 {
		s += fmt.Sprintf(" (%d)", e.Status)
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on kind only.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

func New(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// FromStatus maps an HTTP status to a kind: 401 unauthorized, 404 not found,
// 429 transport, any other 4xx validation, everything else transport.
func FromStatus(op string, code int, detail string) *Error {
	kind := Transport
	switch {
	case code == http.StatusUnauthorized:
		kind = Unauthorized
	case code == http.StatusNotFound:
		kind = NotFound
	case code == http.StatusTooManyRequests:
		kind = Transport
	case code >= 400 && code < 500:
		kind = Validation
	}
	return &Error{Kind: kind, Op: op, Status: code, Msg: detail}
}

// KindOf returns the kind of the first *Error in err's chain, or 0.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// Retryable reports whether a caller may retry without changing input.
func Retryable(err error) bool {
	return KindOf(err) == Transport
}
