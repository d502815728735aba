// Package apperr defines the error taxonomy shared by the auth flows and its
// mapping onto HTTP statuses.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindValidation        Kind = "validation"
	KindConfiguration     Kind = "configuration"
	KindCsrf              Kind = "csrf"
	KindReplay            Kind = "replay"
	KindUpstream          Kind = "upstream"
	KindTimeout           Kind = "timeout"
	KindDecryption        Kind = "decryption"
	KindSignatureRejected Kind = "signature_rejected"
	KindUnauthorized      Kind = "unauthorized"
	KindNotFound          Kind = "not_found"
	KindConflict          Kind = "conflict"
	KindInternal          Kind = "internal"
)

var kindStatus = map[Kind]int{
	KindValidation:        http.StatusBadRequest,
	KindConfiguration:     http.StatusInternalServerError,
	KindCsrf:              http.StatusBadRequest,
	KindReplay:            http.StatusBadRequest,
	KindUpstream:          http.StatusBadGateway,
	KindTimeout:           http.StatusGatewayTimeout,
	KindDecryption:        http.StatusUnauthorized,
	KindSignatureRejected: http.StatusBadRequest,
	KindUnauthorized:      http.StatusUnauthorized,
	KindNotFound:          http.StatusNotFound,
	KindConflict:          http.StatusConflict,
	KindInternal:          http.StatusInternalServerError,
}

// Error carries a taxonomy kind, a stable machine code and the HTTP status
// the error surfaces with. Details holds upstream bodies and similar context.
type Error struct {
	Kind    Kind
	Code    string
	Status  int
	Message string
	Details any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by Code so sentinel values work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code != "" && t.Code == e.Code
}

func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Status: StatusOf(kind), Message: message}
}

func Wrap(kind Kind, code, message string, err error) *Error {
	e := New(kind, code, message)
	e.Err = err
	return e
}

// WithStatus returns a copy with an explicit status (used to forward upstream statuses).
func (e *Error) WithStatus(status int) *Error {
	c := *e
	c.Status = status
	return &c
}

func (e *Error) WithDetails(details any) *Error {
	c := *e
	c.Details = details
	return &c
}

func StatusOf(kind Kind) int {
	if s, ok := kindStatus[kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// As extracts *Error from err.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindInternal
}

// HTTPStatus returns the status err should be answered with.
func HTTPStatus(err error) int {
	if e, ok := As(err); ok {
		if e.Status != 0 {
			return e.Status
		}
		return StatusOf(e.Kind)
	}
	return http.StatusInternalServerError
}
