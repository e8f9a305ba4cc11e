// Package apperr centralizes the closed set of domain error kinds named in
// the processor run lifecycle engine and their HTTP status mapping.
package apperr

import (
	"errors"
	"net/http"
)

// Kind is one of the error kinds enumerated by the run lifecycle engine.
type Kind string

const (
	KindQuotaRunsExceeded   Kind = "quota_runs_exceeded"
	KindQuotaCostExceeded   Kind = "quota_cost_exceeded"
	KindUnknownProcessor    Kind = "unknown_processor"
	KindFetchError          Kind = "fetch_error"
	KindOCRFailure          Kind = "ocr_failure"
	KindCanceled            Kind = "canceled"
	KindDeadLettered        Kind = "dead_lettered"
	KindInternalInconsistency Kind = "internal_inconsistency"
	KindNotFound            Kind = "not_found"
	KindForbidden           Kind = "forbidden"
	KindValidation          Kind = "validation_error"
)

// Error is a domain error tagged with a stable Kind so HTTP handlers can map
// it to a status code without string-matching messages.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.Message + ": " + e.cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// New builds a new Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds a new Error of the given kind, chaining cause for errors.Is/As.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// HTTPStatus maps an error's Kind to an HTTP status code. Errors that are not
// *Error fall back to 500.
func HTTPStatus(err error) int {
	var ae *Error
	if !errors.As(err, &ae) {
		return http.StatusInternalServerError
	}
	switch ae.Kind {
	case KindQuotaRunsExceeded:
		return http.StatusTooManyRequests
	case KindQuotaCostExceeded:
		return http.StatusPaymentRequired
	case KindUnknownProcessor, KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindForbidden:
		return http.StatusForbidden
	case KindInternalInconsistency:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// KindOf extracts the Kind of err, or "" if err is not an *Error.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return ""
}
