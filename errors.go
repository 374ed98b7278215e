package sqlgate

import "github.com/rickchristie/sqlgate-mcp/internal/errs"

// Error is the error type returned by every Gateway operation.
type Error = errs.Error

// ErrorKind categorises an Error.
type ErrorKind = errs.Kind

const (
	KindInternal        = errs.KindInternal
	KindPolicyViolation = errs.KindPolicyViolation
	KindPoolExhausted   = errs.KindPoolExhausted
	KindTimeout         = errs.KindTimeout
	KindExecutionError  = errs.KindExecutionError
	KindNotFound        = errs.KindNotFound
	KindExportTooLarge  = errs.KindExportTooLarge
	KindInvalidInput    = errs.KindInvalidInput
)

func IsPolicyViolation(err error) bool { return errs.IsPolicyViolation(err) }
func IsPoolExhausted(err error) bool   { return errs.IsPoolExhausted(err) }
func IsTimeout(err error) bool         { return errs.IsTimeout(err) }
func IsExecutionError(err error) bool  { return errs.IsExecutionError(err) }
func IsNotFound(err error) bool        { return errs.IsNotFound(err) }
func IsExportTooLarge(err error) bool  { return errs.IsExportTooLarge(err) }
func IsInvalidInput(err error) bool    { return errs.IsInvalidInput(err) }
func IsRetryable(err error) bool       { return errs.IsRetryable(err) }

// AsError returns the *Error in err's chain, if any.
func AsError(err error) (*Error, bool) {
	return errs.As(err)
}
