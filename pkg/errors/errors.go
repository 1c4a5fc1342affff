// Package errors carries typed, coded failures from the domain layer to the
// HTTP envelope and to the broker ack/nack decision.
package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeValidation        Code = "VALIDATION_ERROR"
	CodeUnauthorized      Code = "UNAUTHORIZED"
	CodeForbidden         Code = "FORBIDDEN"
	CodeNotFound          Code = "NOT_FOUND"
	CodeConflict          Code = "CONFLICT"
	CodeStateConflict     Code = "STATE_CONFLICT"
	CodeIdempotency       Code = "IDEMPOTENCY_KEY_REUSED"
	CodeInsufficientFunds Code = "INSUFFICIENT_FUNDS"
	CodeInternal          Code = "INTERNAL_ERROR"
	CodeDependency        Code = "DEPENDENCY_ERROR"
)

// Metadata decides how a code is rendered to clients and whether a consumer
// should ask the broker for redelivery.
type Metadata struct {
	HTTPStatus     int
	Retryable      bool
	PublicMessage  string
	DetailsAllowed bool
}

var metadataByCode = map[Code]Metadata{
	CodeValidation:        {http.StatusBadRequest, false, "validation failed", true},
	CodeUnauthorized:      {http.StatusUnauthorized, false, "authentication required", false},
	CodeForbidden:         {http.StatusForbidden, false, "access denied", false},
	CodeNotFound:          {http.StatusNotFound, false, "resource not found", false},
	CodeConflict:          {http.StatusConflict, false, "conflict detected", false},
	CodeStateConflict:     {http.StatusUnprocessableEntity, false, "state transition disallowed", true},
	CodeIdempotency:       {http.StatusConflict, false, "idempotency key reused", true},
	CodeInsufficientFunds: {http.StatusUnprocessableEntity, false, "insufficient funds", true},
	CodeInternal:          {http.StatusInternalServerError, true, "internal server error", false},
	CodeDependency:        {http.StatusServiceUnavailable, true, "dependency unavailable", true},
}

// MetadataFor falls back to CodeInternal for unknown codes.
func MetadataFor(code Code) Metadata {
	if meta, ok := metadataByCode[code]; ok {
		return meta
	}
	return metadataByCode[CodeInternal]
}

type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

// Wrap attaches code and message to err. A nil err behaves like New.
func Wrap(code Code, err error, message string) *Error {
	return &Error{code: code, message: message, cause: err}
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

// WithDetails returns a copy carrying details, so package-level error values
// are never mutated.
func (e *Error) WithDetails(details any) *Error {
	if e == nil {
		return nil
	}
	cp := *e
	cp.details = details
	return &cp
}

func (e *Error) Error() string {
	switch {
	case e == nil:
		return ""
	case e.cause != nil:
		return fmt.Sprintf("%s: %s: %v", e.code, e.message, e.cause)
	default:
		return fmt.Sprintf("%s: %s", e.code, e.message)
	}
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is matches another *Error with the same code, so errors.Is works against
// package-level values such as a repository's not-found error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && e != nil && t != nil && e.code == t.code
}

// As returns the outermost *Error in err's chain.
func As(err error) *Error {
	var typed *Error
	if err != nil && stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}

// CodeOf reports the outermost typed code, or CodeInternal for untyped errors.
func CodeOf(err error) Code {
	return As(err).Code()
}

func IsCode(err error, code Code) bool {
	return err != nil && As(err) != nil && CodeOf(err) == code
}

// IsRetryable reports whether a failed operation may succeed on redelivery.
// Untyped errors and transient SQL failures are retryable.
func IsRetryable(err error) bool {
	switch {
	case err == nil:
		return false
	case IsTransientSQL(err):
		return true
	case As(err) == nil:
		return true
	default:
		return MetadataFor(CodeOf(err)).Retryable
	}
}
