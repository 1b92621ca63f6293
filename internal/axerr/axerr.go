// Package axerr defines the structured error taxonomy shared across the
// runtime core (spec §7): every error carries a stable code and a
// retriable flag, and internal detail never reaches an HTTP client.
package axerr

import "fmt"

// Error is a structured domain error with a stable code and retry hint.
type Error struct {
	Code      string
	Message   string
	Retriable bool
	HTTPStatus int
	cause     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped cause for errors.Is/errors.As.
func (e *Error) Unwrap() error { return e.cause }

// New builds an Error with a cause attached.
func New(code, message string, retriable bool, httpStatus int, cause error) *Error {
	return &Error{Code: code, Message: message, Retriable: retriable, HTTPStatus: httpStatus, cause: cause}
}

// Generic error codes (spec §7).
const (
	CodeValidation  = "ERR_VALIDATION"
	CodeAuth        = "ERR_AUTH"
	CodeAuthz       = "ERR_AUTHZ"
	CodeNotFound    = "ERR_NOT_FOUND"
	CodeConflict    = "ERR_CONFLICT"
	CodeRateLimit   = "ERR_RATE_LIMIT"
	CodeTimeout     = "ERR_TIMEOUT"
	CodeDispatch    = "ERR_DISPATCH"
	CodeInvalidTransition = "ERR_INVALID_TRANSITION"
)

// Domain error codes (spec §7).
const (
	CodeScoutUnreachable    = "SCOUT_UNREACHABLE"
	CodeScoutError          = "SCOUT_ERROR"
	CodeInvalidPlan         = "INVALID_PLAN"
	CodeSentinelUnreachable = "SENTINEL_UNREACHABLE"
	CodeInvalidValidation   = "INVALID_VALIDATION"
	CodePlanRejected        = "PLAN_REJECTED"
	CodeNeedsRevision       = "NEEDS_REVISION"
	CodeGearExecutionFailed = "GEAR_EXECUTION_FAILED"
	CodeChecksumMismatch    = "CHECKSUM_MISMATCH"
	CodeWatchdogTimeout     = "WATCHDOG_TIMEOUT"
	CodeBudgetExceeded      = "BUDGET_EXCEEDED"
)

// retriability is the canonical map from code to the spec's documented
// retriable-ness, used by constructors below so call sites don't have to
// repeat the table.
var retriability = map[string]bool{
	CodeValidation:          false,
	CodeAuth:                false,
	CodeAuthz:               false,
	CodeNotFound:            false,
	CodeConflict:            false,
	CodeRateLimit:           false,
	CodeTimeout:             true,
	CodeDispatch:            false,
	CodeInvalidTransition:   false,
	CodeScoutUnreachable:    true,
	CodeInvalidPlan:         true,
	CodeSentinelUnreachable: true,
	CodeInvalidValidation:   false,
	CodePlanRejected:        false,
	CodeNeedsRevision:       true,
	CodeGearExecutionFailed: true,
	CodeChecksumMismatch:    false,
	CodeWatchdogTimeout:     true,
	CodeBudgetExceeded:      false,
}

// Retriable reports whether a code is, by default, retriable.
func Retriable(code string) bool {
	return retriability[code]
}

// Wrap produces an *Error for the given code, filling in the default
// retriability and an appropriate HTTP status where one applies.
func Wrap(code, message string, cause error) *Error {
	return &Error{
		Code:      code,
		Message:   message,
		Retriable: Retriable(code),
		cause:     cause,
	}
}
