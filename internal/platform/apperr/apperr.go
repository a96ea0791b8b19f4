// Package apperr defines the request-scoped error taxonomy shared by the
// progression engine and mapped to HTTP status codes at the API boundary.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind classifies an engine error.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindUnauthorized
	KindAttemptLimitExceeded
	KindAlreadySubmitted
	KindAttemptExpired
	KindNotEligible
	KindStorageConflict
	// KindForbidden is an authenticated caller acting outside its role.
	KindForbidden
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation_error"
	case KindNotFound:
		return "not_found"
	case KindUnauthorized:
		return "unauthorized"
	case KindAttemptLimitExceeded:
		return "attempt_limit_exceeded"
	case KindAlreadySubmitted:
		return "already_submitted"
	case KindAttemptExpired:
		return "attempt_expired"
	case KindNotEligible:
		return "not_eligible"
	case KindStorageConflict:
		return "storage_conflict"
	case KindForbidden:
		return "forbidden"
	default:
		return "internal"
	}
}

// HTTPStatus returns the status code the API responds with for this kind.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindAttemptLimitExceeded, KindAlreadySubmitted, KindAttemptExpired, KindStorageConflict:
		return http.StatusConflict
	case KindNotEligible, KindForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// Eligibility conditions reported by NotEligible errors.
const (
	MissingRoadmapIncomplete = "roadmap_incomplete"
	MissingQuizNotPassed     = "quiz_not_passed"
)

// Error is an engine error carrying its Kind.
type Error struct {
	Kind    Kind
	Message string
	// Missing lists the unmet conditions of a NotEligible error.
	Missing []string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if msg == "" {
		msg = e.Kind.String()
	}
	if len(e.Missing) > 0 {
		msg = fmt.Sprintf("%s (%s)", msg, strings.Join(e.Missing, ", "))
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// New creates an error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an error of the given kind wrapping err.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

func Validation(format string, args ...any) *Error {
	return New(KindValidation, format, args...)
}

func NotFound(format string, args ...any) *Error {
	return New(KindNotFound, format, args...)
}

func Conflict(err error, format string, args ...any) *Error {
	return Wrap(KindStorageConflict, err, format, args...)
}

// NotEligible reports the unmet certificate conditions.
func NotEligible(missing ...string) *Error {
	return &Error{
		Kind:    KindNotEligible,
		Message: "not eligible for certificate",
		Missing: missing,
	}
}

// KindOf returns the Kind of err, or KindInternal when err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
