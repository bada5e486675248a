// Package apperr is the error taxonomy shared by services and handlers.
//
// Services return *Error values; handlers map them to HTTP statuses through
// StatusCode and expose only the public message. errors.Is matches on Code, so
// a wrapped copy of ErrCapacityExceeded still satisfies
// errors.Is(err, apperr.ErrCapacityExceeded).
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindConflict
	KindTransient
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindTransient:
		return "transient"
	default:
		return "internal"
	}
}

type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// WithMessage returns a copy carrying a more specific public message.
func (e *Error) WithMessage(format string, args ...interface{}) *Error {
	cp := *e
	cp.Message = fmt.Sprintf(format, args...)
	return &cp
}

// WithCause returns a copy wrapping err.
func (e *Error) WithCause(err error) *Error {
	cp := *e
	cp.Err = err
	return &cp
}

func (e *Error) StatusCode() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

var (
	ErrCapacityExceeded = &Error{Kind: KindConflict, Code: "CAPACITY_EXCEEDED", Message: "not enough tickets available"}
	ErrLimitExceeded    = &Error{Kind: KindValidation, Code: "LIMIT_EXCEEDED", Message: "quantity exceeds the per-user limit for this tier"}
	ErrRetryExhausted   = &Error{Kind: KindConflict, Code: "RETRY_EXHAUSTED", Message: "maximum payment retries reached"}
	ErrNotFound         = &Error{Kind: KindNotFound, Code: "NOT_FOUND", Message: "resource not found"}
	ErrWrongEvent       = &Error{Kind: KindConflict, Code: "WRONG_EVENT", Message: "ticket belongs to a different event"}
	ErrAlreadyUsed      = &Error{Kind: KindConflict, Code: "ALREADY_USED", Message: "ticket has already been used"}
	ErrVoid             = &Error{Kind: KindConflict, Code: "VOID", Message: "ticket has been voided"}
	ErrInvalidState     = &Error{Kind: KindConflict, Code: "INVALID_STATE", Message: "operation not allowed in the current state"}
	ErrUnauthorized     = &Error{Kind: KindUnauthorized, Code: "UNAUTHORIZED", Message: "authentication required"}
	ErrForbidden        = &Error{Kind: KindForbidden, Code: "FORBIDDEN", Message: "you do not have access to this resource"}
	ErrGateway          = &Error{Kind: KindTransient, Code: "GATEWAY_UNAVAILABLE", Message: "payment gateway unavailable, please try again"}
	ErrBusy             = &Error{Kind: KindTransient, Code: "BUSY", Message: "request is already being processed, please retry"}
)

func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func Wrap(kind Kind, code, message string, err error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Err: err}
}

func Validation(format string, args ...interface{}) *Error {
	return &Error{Kind: KindValidation, Code: "VALIDATION_FAILED", Message: fmt.Sprintf(format, args...)}
}

func NotFound(what string) *Error {
	return ErrNotFound.WithMessage("%s not found", what)
}

func Conflict(code, format string, args ...interface{}) *Error {
	return &Error{Kind: KindConflict, Code: code, Message: fmt.Sprintf(format, args...)}
}

func Forbidden(format string, args ...interface{}) *Error {
	return ErrForbidden.WithMessage(format, args...)
}

func Internal(err error) *Error {
	return &Error{Kind: KindInternal, Code: "INTERNAL", Message: "internal server error", Err: err}
}

// From returns err as *Error, classifying anything foreign as internal.
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

func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func IsTransient(err error) bool {
	return KindOf(err) == KindTransient
}

func StatusCode(err error) int {
	return From(err).StatusCode()
}
