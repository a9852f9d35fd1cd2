package errors

import (
	"errors"
	"fmt"
)

// Code is a stable, machine-readable failure category.
type Code int

const (
	CodeInternal Code = iota + 1
	CodeUsage
	CodeAuth
	CodeRateLimited
	CodeNoRoute
	CodeInsufficientAmount
	CodeWalletNotConnected
	CodeChainMismatch
	CodeUnavailable
	CodeExecutionFailed
	CodeStale
)

func (c Code) String() string {
	switch c {
	case CodeInternal:
		return "internal"
	case CodeUsage:
		return "usage"
	case CodeAuth:
		return "auth"
	case CodeRateLimited:
		return "rate_limited"
	case CodeNoRoute:
		return "no_route"
	case CodeInsufficientAmount:
		return "insufficient_amount"
	case CodeWalletNotConnected:
		return "wallet_not_connected"
	case CodeChainMismatch:
		return "chain_mismatch"
	case CodeUnavailable:
		return "unavailable"
	case CodeExecutionFailed:
		return "execution_failed"
	case CodeStale:
		return "stale"
	default:
		return "unknown"
	}
}

// Error is a typed error that carries a stable code and, where useful, a
// plain-language hint telling the user how to correct the failure.
type Error struct {
	Code    Code
	Message string
	Hint    string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// WithHint returns a copy of the error annotated with a corrective
// suggestion (e.g. "add a routing API key", "increase the amount").
func (e *Error) WithHint(hint string) *Error {
	clone := *e
	clone.Hint = hint
	return &clone
}

func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// CodeOf extracts the failure code from err, defaulting to CodeInternal for
// untyped errors and 0 for nil.
func CodeOf(err error) Code {
	if err == nil {
		return 0
	}
	if typed, ok := As(err); ok {
		return typed.Code
	}
	return CodeInternal
}

// Hint returns the corrective suggestion attached to err, if any.
func Hint(err error) string {
	if typed, ok := As(err); ok {
		return typed.Hint
	}
	return ""
}

// ExitCode maps a failure class to a process exit status.
func ExitCode(err error) int {
	switch CodeOf(err) {
	case 0:
		return 0
	case CodeUsage, CodeWalletNotConnected, CodeChainMismatch:
		return 2
	case CodeAuth:
		return 3
	case CodeRateLimited:
		return 4
	case CodeNoRoute, CodeInsufficientAmount, CodeStale:
		return 5
	case CodeUnavailable:
		return 6
	case CodeExecutionFailed:
		return 7
	default:
		return 1
	}
}

// IsRetryable reports whether the failure class is transient. Only rate
// limits and upstream unavailability qualify; bad parameters, missing routes
// and amounts below protocol minimums fail immediately.
func IsRetryable(err error) bool {
	switch CodeOf(err) {
	case CodeRateLimited, CodeUnavailable:
		return true
	default:
		return false
	}
}
