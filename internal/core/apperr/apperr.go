// Package apperr classifies errors crossing the translation boundary so the
// HTTP layer can map them to status codes without inspecting messages.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	Internal Kind = iota
	BadRequest
	NotFound
	Upstream
	Timeout
)

func (k Kind) String() string {
	switch k {
	case BadRequest:
		return "bad_request"
	case NotFound:
		return "not_found"
	case Upstream:
		return "upstream"
	case Timeout:
		return "timeout"
	default:
		return "internal"
	}
}

type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

func E(k Kind, msg string) error {
	return &Error{Kind: k, Msg: msg}
}

func Errorf(k Kind, format string, args ...any) error {
	return &Error{Kind: k, Msg: fmt.Sprintf(format, args...)}
}

func Wrap(k Kind, msg string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: k, Msg: msg, Err: err}
}

// KindOf walks the wrap chain for the outermost classification. A bare
// context deadline counts as Timeout; anything unclassified is Internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Timeout
	}
	return Internal
}

func HTTPStatus(err error) int {
	switch KindOf(err) {
	case BadRequest:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case Upstream:
		return http.StatusBadGateway
	case Timeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
