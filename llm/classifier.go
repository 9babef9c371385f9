package llm

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"strings"
	"syscall"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/jmorganca/ollama/api"
	openai "github.com/sashabaranov/go-openai"
)

// rateLimitedRetryCap bounds RATE_LIMITED retries independently of the caller's budget.
const rateLimitedRetryCap = 5

// classificationRule maps a failure to a code when match returns true.
type classificationRule struct {
	code      ErrorCode
	retryable bool
	match     func(f failure) bool
}

// failure is the normalized view of an arbitrary error the rules operate on.
type failure struct {
	err     error
	message string // lower-cased
	status  int
}

func (f failure) contains(substrings ...string) bool {
	for _, s := range substrings {
		if strings.Contains(f.message, s) {
			return true
		}
	}
	return false
}

// rules are evaluated in order; the first match wins.
var rules = []classificationRule{
	{ErrorCodeAuthenticationFailed, false, func(f failure) bool {
		return f.status == 401 || f.contains("unauthorized", "api key")
	}},
	{ErrorCodeRateLimited, true, func(f failure) bool {
		return f.status == 429 || f.contains("rate limit", "too many requests")
	}},
	{ErrorCodeQuotaExceeded, false, func(f failure) bool {
		return f.contains("quota", "insufficient")
	}},
	{ErrorCodeContextLengthExceeded, false, func(f failure) bool {
		return f.contains("context length", "token limit", "max tokens")
	}},
	{ErrorCodeContentFiltered, false, func(f failure) bool {
		return f.contains("content filter", "safety", "blocked")
	}},
	{ErrorCodeTimeout, true, func(f failure) bool {
		return f.contains("timeout") || isTimeout(f.err)
	}},
	{ErrorCodeNetworkError, true, func(f failure) bool {
		return f.contains("network", "fetch", "connection") || isConnectivityFault(f.err)
	}},
	{ErrorCodeProviderError, true, func(f failure) bool {
		return f.status >= 500
	}},
}

// Classify maps an arbitrary failure into the fixed taxonomy. The result is deterministic
// for a given error. Errors that already are (or wrap) an *Error are returned as they are,
// attributed to provider when they carry none.
func Classify(err error, provider string) *Error {
	if err == nil {
		return Internal("classify called without an error", nil).WithProvider(provider)
	}

	var classified *Error
	if errors.As(err, &classified) {
		return classified.WithProvider(provider)
	}

	f := failure{
		err:     err,
		message: strings.ToLower(err.Error()),
		status:  StatusCode(err),
	}

	code, retryable := ErrorCodeUnknown, false
	for _, rule := range rules {
		if rule.match(f) {
			code, retryable = rule.code, rule.retryable
			break
		}
	}

	return &Error{
		Code:       code,
		Message:    err.Error(),
		Retryable:  retryable,
		HTTPStatus: f.status,
		Provider:   provider,
		Cause:      err,
	}
}

// ShouldRetry decides whether a classified failure at the given zero-based attempt may be
// retried under a budget of maxRetries.
func ShouldRetry(err *Error, attempt, maxRetries int) bool {
	if err == nil || !err.Retryable || attempt >= maxRetries {
		return false
	}

	switch err.Code {
	case ErrorCodeRateLimited:
		return attempt < rateLimitedRetryCap
	case ErrorCodeTimeout, ErrorCodeNetworkError, ErrorCodeProviderError:
		return true
	default:
		return false
	}
}

// StatusCode extracts an HTTP status from the error chain, or 0 when none is present.
// Provider SDK error types are recognized directly.
func StatusCode(err error) int {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode
	}

	var anthropicErr *anthropic.Error
	if errors.As(err, &anthropicErr) {
		return anthropicErr.StatusCode
	}

	var openaiAPIErr *openai.APIError
	if errors.As(err, &openaiAPIErr) {
		return openaiAPIErr.HTTPStatusCode
	}

	var openaiReqErr *openai.RequestError
	if errors.As(err, &openaiReqErr) {
		return openaiReqErr.HTTPStatusCode
	}

	var ollamaErr api.StatusError
	if errors.As(err, &ollamaErr) {
		return ollamaErr.StatusCode
	}

	var coder interface{ StatusCode() int }
	if errors.As(err, &coder) {
		return coder.StatusCode()
	}

	return 0
}

// isTimeout reports timeout-kind failures that may not say "timeout" in their message.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// isConnectivityFault reports transport-level failures.
func isConnectivityFault(err error) bool {
	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}
