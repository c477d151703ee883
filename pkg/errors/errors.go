// Package errors carries the typed error taxonomy shared by services and the
// HTTP layer. A Code decides the response status, the public message and
// whether a caller may retry.
package errors

import (
	stdErrors "errors"
	"net/http"
)

type Code string

const (
	CodeValidation    Code = "VALIDATION_ERROR"
	CodeUnauthorized  Code = "UNAUTHORIZED"
	CodeForbidden     Code = "FORBIDDEN"
	CodeNotFound      Code = "NOT_FOUND"
	CodeConflict      Code = "CONFLICT"
	CodeStateConflict Code = "STATE_CONFLICT"
	CodeIdempotency   Code = "IDEMPOTENCY_KEY_REUSED"
	CodeRateLimit     Code = "RATE_LIMIT_EXCEEDED"
	CodeInternal      Code = "INTERNAL_ERROR"
	CodeDependency    Code = "DEPENDENCY_ERROR"

	// CodePaymentDeclined means the collector refused the charge. The buyer
	// can retry with another payment method.
	CodePaymentDeclined Code = "PAYMENT_DECLINED"
)

type Metadata struct {
	HTTPStatus     int
	Retryable      bool
	PublicMessage  string
	DetailsAllowed bool
}

func clientFault(status int, msg string, details bool) Metadata {
	return Metadata{HTTPStatus: status, PublicMessage: msg, DetailsAllowed: details}
}

func serverFault(status int, msg string, details bool) Metadata {
	return Metadata{HTTPStatus: status, PublicMessage: msg, DetailsAllowed: details, Retryable: true}
}

var catalog = map[Code]Metadata{
	CodeValidation:      clientFault(http.StatusBadRequest, "validation failed", true),
	CodeUnauthorized:    clientFault(http.StatusUnauthorized, "authentication required", false),
	CodeForbidden:       clientFault(http.StatusForbidden, "access denied", false),
	CodeNotFound:        clientFault(http.StatusNotFound, "resource not found", false),
	CodeConflict:        clientFault(http.StatusConflict, "conflict detected", false),
	CodeStateConflict:   clientFault(http.StatusUnprocessableEntity, "state transition disallowed", true),
	CodeIdempotency:     clientFault(http.StatusConflict, "idempotency key reused", true),
	CodeRateLimit:       clientFault(http.StatusTooManyRequests, "rate limit exceeded", false),
	CodePaymentDeclined: clientFault(http.StatusPaymentRequired, "payment was declined", true),
	CodeInternal:        serverFault(http.StatusInternalServerError, "internal server error", false),
	CodeDependency:      serverFault(http.StatusServiceUnavailable, "dependency unavailable", true),
}

// Metadata returns the rendering rules for c. Unknown codes render as
// CodeInternal.
func (c Code) Metadata() Metadata {
	meta, ok := catalog[c]
	if !ok {
		return catalog[CodeInternal]
	}
	return meta
}

func MetadataFor(code Code) Metadata {
	return code.Metadata()
}

// Error is the typed error every service returns across package boundaries.
// A nil *Error reads as an internal error with no message.
type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return Wrap(code, nil, message)
}

// Wrap attaches err as the cause. A nil err behaves like New.
func Wrap(code Code, err error, message string) *Error {
	return &Error{code: code, message: message, cause: err}
}

func (e *Error) WithDetails(details any) *Error {
	if e != nil {
		e.details = details
	}
	return e
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() (msg string) {
	if e != nil {
		msg = e.message
	}
	return msg
}

func (e *Error) Details() (details any) {
	if e != nil {
		details = e.details
	}
	return details
}

func (e *Error) Error() string {
	switch {
	case e == nil:
		return ""
	case e.message == "":
		return string(e.code)
	default:
		return string(e.code) + ": " + e.message
	}
}

func (e *Error) Unwrap() (cause error) {
	if e != nil {
		cause = e.cause
	}
	return cause
}

// As returns the outermost *Error in err's chain, or nil.
func As(err error) *Error {
	var typed *Error
	if !stdErrors.As(err, &typed) {
		return nil
	}
	return typed
}

func IsCode(err error, code Code) bool {
	if typed := As(err); typed != nil {
		return typed.code == code
	}
	return false
}

// HTTPStatus maps any error to a response status; untyped errors are 500.
func HTTPStatus(err error) int {
	return As(err).Code().Metadata().HTTPStatus
}

// IsRetryable reports whether the caller may repeat the same request.
func IsRetryable(err error) bool {
	return err != nil && As(err).Code().Metadata().Retryable
}
