// Package apierror classifies engine errors into the kinds the rest of
// the system needs to treat differently, without leaking internal detail
// to external callers.
package apierror

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Kind is the error taxonomy from the engine's error handling design:
// validation and conflict errors are safe to surface verbatim,
// integrity/internal errors are logged in full and sanitized before they
// leave the process.
type Kind string

const (
	KindValidation Kind = "validation"
	KindConflict   Kind = "conflict"
	KindNotFound   Kind = "not_found"
	KindForbidden  Kind = "forbidden"
	KindIntegrity  Kind = "integrity"
	KindUpstream   Kind = "upstream"
	KindInternal   Kind = "internal"
)

// Error wraps an underlying error with a Kind, so callers can branch on
// classification (errors.As) instead of string-matching messages.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Safe reports whether the message may be surfaced to an external caller
// verbatim. Validation, Conflict, NotFound and Forbidden errors describe
// the caller's input or rights and are always safe; Integrity, Upstream
// and Internal errors may embed driver/filesystem detail and must be
// sanitized first.
func (e *Error) Safe() bool {
	switch e.Kind {
	case KindValidation, KindConflict, KindNotFound, KindForbidden:
		return true
	default:
		return false
	}
}

func newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Validation wraps a malformed-input error (bad date, negative hours,
// reason too short).
func Validation(format string, args ...interface{}) *Error {
	return newf(KindValidation, format, args...)
}

// Conflict wraps an overlap / insufficient-balance / hire-date style
// error: well-formed input that the current state rejects.
func Conflict(format string, args ...interface{}) *Error {
	return newf(KindConflict, format, args...)
}

// NotFound wraps an entity-by-id lookup miss.
func NotFound(format string, args ...interface{}) *Error {
	return newf(KindNotFound, format, args...)
}

// Forbidden wraps an actor-lacks-rights error.
func Forbidden(format string, args ...interface{}) *Error {
	return newf(KindForbidden, format, args...)
}

// Integrity wraps a mid-operation invariant violation (FK failure, unique
// constraint breach). The caller must roll back the enclosing transaction.
func Integrity(err error, format string, args ...interface{}) *Error {
	e := newf(KindIntegrity, format, args...)
	e.Err = err
	return e
}

// Upstream wraps a collaborator failure (holiday provider down) that must
// not fail the calling operation — it is logged, and the operation
// continues with the best available data.
func Upstream(err error, format string, args ...interface{}) *Error {
	e := newf(KindUpstream, format, args...)
	e.Err = err
	return e
}

// Internal wraps an unexpected error. The enclosing transaction is rolled
// back and the error is sanitized before it reaches an external caller.
func Internal(err error, format string, args ...interface{}) *Error {
	e := newf(KindInternal, format, args...)
	e.Err = err
	return e
}

// Is reports whether err classifies as kind.
func Is(err error, kind Kind) bool {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind == kind
	}
	return false
}

// Patterns that indicate internal/sensitive errors that must never reach
// an external caller verbatim.
var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)pq:|pgx:|sql:|postgres`),
	regexp.MustCompile(`(?i)connection|timeout|refused`),
	regexp.MustCompile(`(?i)/var/|/tmp/|/home/|/app/|\.go:\d+`),
	regexp.MustCompile(`(?i)dial tcp|network|socket`),
	regexp.MustCompile(`(?i)panic|runtime error`),
	regexp.MustCompile(`(?i)internal server|stack trace`),
	regexp.MustCompile(`\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}`), // IP addresses
}

const genericError = "An internal error occurred"

// Sanitize removes sensitive information from error messages. Safe
// messages (validation errors, format errors) are passed through.
func Sanitize(msg string) string {
	for _, pattern := range sensitivePatterns {
		if pattern.MatchString(msg) {
			return genericError
		}
	}

	if strings.Contains(msg, "/") && (strings.Contains(msg, "open") || strings.Contains(msg, "read") || strings.Contains(msg, "write")) {
		return genericError
	}

	return msg
}

// External renders err the way it should reach a caller outside the
// engine: verbatim if Safe, sanitized otherwise.
func External(err error) string {
	var ae *Error
	if errors.As(err, &ae) && ae.Safe() {
		return ae.Error()
	}
	return Sanitize(err.Error())
}
