package llm

import (
	"context"
	"errors"
	"fmt"
)

// ErrorCode is the fixed taxonomy every provider failure is mapped into.
type ErrorCode string

const (
	ErrorCodeInvalidRequest        ErrorCode = "INVALID_REQUEST"
	ErrorCodeAuthenticationFailed  ErrorCode = "AUTHENTICATION_FAILED"
	ErrorCodeRateLimited           ErrorCode = "RATE_LIMITED"
	ErrorCodeQuotaExceeded         ErrorCode = "QUOTA_EXCEEDED"
	ErrorCodeProviderError         ErrorCode = "PROVIDER_ERROR"
	ErrorCodeModelNotAvailable     ErrorCode = "MODEL_NOT_AVAILABLE"
	ErrorCodeContextLengthExceeded ErrorCode = "CONTEXT_LENGTH_EXCEEDED"
	ErrorCodeContentFiltered       ErrorCode = "CONTENT_FILTERED"
	ErrorCodeNetworkError          ErrorCode = "NETWORK_ERROR"
	ErrorCodeTimeout               ErrorCode = "TIMEOUT"
	ErrorCodeConnectionRefused     ErrorCode = "CONNECTION_REFUSED"
	ErrorCodeInternalError         ErrorCode = "INTERNAL_ERROR"
	ErrorCodeUnknown               ErrorCode = "UNKNOWN"
)

// Codes returns every member of the taxonomy in declaration order.
func Codes() []ErrorCode {
	return []ErrorCode{
		ErrorCodeInvalidRequest,
		ErrorCodeAuthenticationFailed,
		ErrorCodeRateLimited,
		ErrorCodeQuotaExceeded,
		ErrorCodeProviderError,
		ErrorCodeModelNotAvailable,
		ErrorCodeContextLengthExceeded,
		ErrorCodeContentFiltered,
		ErrorCodeNetworkError,
		ErrorCodeTimeout,
		ErrorCodeConnectionRefused,
		ErrorCodeInternalError,
		ErrorCodeUnknown,
	}
}

func (c ErrorCode) String() string {
	return string(c)
}

// Error is a classified, provider-neutral failure. Values are never mutated after
// construction; helpers that need a variation build a new Error.
type Error struct {
	Code       ErrorCode
	Message    string
	Retryable  bool
	HTTPStatus int    // 0 when the failure carried no status
	Provider   string // empty when unknown
	Cause      error  // Original failure, if any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("%s [%s]: %s", e.Provider, e.Code, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the original failure.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a classified error directly. Operations may return one to bypass
// message-based classification.
func NewError(code ErrorCode, message string, retryable bool, cause error) *Error {
	return &Error{
		Code:      code,
		Message:   message,
		Retryable: retryable,
		Cause:     cause,
	}
}

// Canceled creates the non-retryable failure reported when the caller's context is done
// before an attempt could run.
func Canceled(cause error) *Error {
	if errors.Is(cause, context.DeadlineExceeded) {
		return &Error{
			Code:      ErrorCodeTimeout,
			Message:   "request deadline exceeded before attempt",
			Retryable: false,
			Cause:     cause,
		}
	}
	return &Error{
		Code:      ErrorCodeUnknown,
		Message:   "request cancelled",
		Retryable: false,
		Cause:     cause,
	}
}

// Internal creates the failure reported for faults inside this layer itself.
func Internal(message string, cause error) *Error {
	return &Error{
		Code:      ErrorCodeUnknown,
		Message:   message,
		Retryable: false,
		Cause:     cause,
	}
}

// WithProvider returns a copy of e attributed to provider. Errors that already name a
// provider, and empty provider keys, leave e unchanged.
func (e *Error) WithProvider(provider string) *Error {
	if provider == "" || e.Provider != "" {
		return e
	}
	cp := *e
	cp.Provider = provider
	return &cp
}

// Is reports whether err is a classified error with the given code.
func Is(err error, code ErrorCode) bool {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Code == code
	}
	return false
}

// IsRateLimitError checks if an error is a rate limit error.
func IsRateLimitError(err error) bool {
	return Is(err, ErrorCodeRateLimited)
}

// IsRetryableError checks if an error is retryable.
func IsRetryableError(err error) bool {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Retryable
	}
	return false
}

// StatusError carries an HTTP status for callers whose transport is not one of the
// supported SDKs.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("http status %d", e.StatusCode)
	}
	return fmt.Sprintf("http status %d: %s", e.StatusCode, e.Message)
}

// NewStatusError creates a StatusError.
func NewStatusError(statusCode int, message string) *StatusError {
	return &StatusError{StatusCode: statusCode, Message: message}
}
