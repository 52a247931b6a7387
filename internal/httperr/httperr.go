// Package httperr owns the mapping from the application's error taxonomy to
// HTTP responses. Handlers return or construct these instead of calling
// http.Error with ad hoc status codes.
package httperr

import (
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"
)

type Kind int

const (
	// Internal is the zero value so an unclassified error surfaces generically.
	Internal Kind = iota
	Unauthenticated
	Forbidden
	NotFound
	Validation
	Conflict
)

type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

func status(kind Kind) int {
	switch kind {
	case Unauthenticated:
		return http.StatusUnauthorized
	case Forbidden:
		return http.StatusForbidden
	case NotFound:
		return http.StatusNotFound
	case Validation:
		return http.StatusBadRequest
	case Conflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Write turns err into a response. Taxonomy errors carry their reason string
// to the client; anything else is logged and surfaced as a blank 500 so no
// internal detail leaks.
func Write(sugar *zap.SugaredLogger, w http.ResponseWriter, err error) {
	var appErr *Error
	if errors.As(err, &appErr) && appErr.Kind != Internal {
		http.Error(w, appErr.Msg, status(appErr.Kind))
		return
	}

	sugar.Error(err)
	http.Error(w, "", http.StatusInternalServerError)
}
