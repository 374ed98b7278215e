// Package errs defines the error taxonomy shared by every sqlgate component.
//
// Components wrap native failures (pgx, pgxpool, MinIO) into *errs.Error so
// the tool surface can report a stable kind, an optional backend code and a
// retryable hint without importing driver packages.
//
//	if errs.IsPolicyViolation(err) {
//		// the statement never reached the database
//	}
package errs

import (
	"errors"
	"fmt"
)

// Kind categorises an error.
type Kind int

const (
	KindInternal        Kind = iota
	KindPolicyViolation      // rejected by the classifier, parser check or access policy
	KindPoolExhausted        // no session could be leased before the acquire deadline
	KindTimeout              // statement deadline or caller cancellation
	KindExecutionError       // the database rejected or failed the statement
	KindNotFound             // table or object does not exist or is filtered out
	KindExportTooLarge       // a value exceeded the materialization guard
	KindInvalidInput         // malformed tool arguments
)

func (k Kind) String() string {
	switch k {
	case KindPolicyViolation:
		return "policy_violation"
	case KindPoolExhausted:
		return "pool_exhausted"
	case KindTimeout:
		return "timeout"
	case KindExecutionError:
		return "execution_error"
	case KindNotFound:
		return "not_found"
	case KindExportTooLarge:
		return "export_too_large"
	case KindInvalidInput:
		return "invalid_input"
	default:
		return "internal"
	}
}

// Error is the error type returned across component boundaries.
type Error struct {
	Kind      Kind
	Message   string
	Code      string // SQLSTATE for database errors
	Retryable bool
	Hint      string // guidance appended by error prompt rules
	Cause     error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Code != "" {
		msg = fmt.Sprintf("%s (SQLSTATE %s)", msg, e.Code)
	}
	if e.Cause != nil && e.Cause.Error() != e.Message {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, msg, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates an *Error with no cause.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg, Retryable: defaultRetryable(kind)}
}

// Newf is New with fmt.Sprintf formatting.
func Newf(kind Kind, format string, args ...any) *Error {
	return New(kind, fmt.Sprintf(format, args...))
}

// Wrap creates an *Error around cause.
func Wrap(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause, Retryable: defaultRetryable(kind)}
}

// Policy is shorthand for a policy violation with a formatted message.
func Policy(format string, args ...any) *Error {
	return Newf(KindPolicyViolation, format, args...)
}

func defaultRetryable(kind Kind) bool {
	switch kind {
	case KindPoolExhausted, KindTimeout:
		return true
	default:
		return false
	}
}

// As returns the *Error in err's chain, if any.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the kind of err, or KindInternal when err is not an *Error.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindInternal
}

func IsPolicyViolation(err error) bool { return err != nil && KindOf(err) == KindPolicyViolation }
func IsPoolExhausted(err error) bool   { return err != nil && KindOf(err) == KindPoolExhausted }
func IsTimeout(err error) bool         { return err != nil && KindOf(err) == KindTimeout }
func IsExecutionError(err error) bool  { return err != nil && KindOf(err) == KindExecutionError }
func IsNotFound(err error) bool        { return err != nil && KindOf(err) == KindNotFound }
func IsExportTooLarge(err error) bool  { return err != nil && KindOf(err) == KindExportTooLarge }
func IsInvalidInput(err error) bool    { return err != nil && KindOf(err) == KindInvalidInput }

// IsRetryable reports whether the caller may reasonably retry the request.
func IsRetryable(err error) bool {
	if e, ok := As(err); ok {
		return e.Retryable
	}
	return false
}
