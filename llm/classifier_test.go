package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"testing"

	"github.com/jmorganca/ollama/api"
	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type statusCoder struct{ code int }

func (s statusCoder) Error() string   { return "upstream said no" }
func (s statusCoder) StatusCode() int { return s.code }

func TestClassify_Rules(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		code      ErrorCode
		retryable bool
		status    int
	}{
		{"401 status", NewStatusError(401, "nope"), ErrorCodeAuthenticationFailed, false, 401},
		{"unauthorized message", errors.New("Unauthorized request"), ErrorCodeAuthenticationFailed, false, 0},
		{"api key message", errors.New("Invalid API Key provided"), ErrorCodeAuthenticationFailed, false, 0},
		{"429 status", NewStatusError(429, ""), ErrorCodeRateLimited, true, 429},
		{"rate limit message", errors.New("Rate Limit reached for model"), ErrorCodeRateLimited, true, 0},
		{"too many requests", errors.New("Too Many Requests"), ErrorCodeRateLimited, true, 0},
		{"quota", errors.New("You exceeded your current quota"), ErrorCodeQuotaExceeded, false, 0},
		{"insufficient", errors.New("insufficient_balance"), ErrorCodeQuotaExceeded, false, 0},
		{"context length", errors.New("maximum context length is 8192"), ErrorCodeContextLengthExceeded, false, 0},
		{"token limit", errors.New("token limit exceeded"), ErrorCodeContextLengthExceeded, false, 0},
		{"max tokens", errors.New("max tokens too large"), ErrorCodeContextLengthExceeded, false, 0},
		{"content filter", errors.New("content filter triggered"), ErrorCodeContentFiltered, false, 0},
		{"safety", errors.New("response blocked for SAFETY"), ErrorCodeContentFiltered, false, 0},
		{"timeout message", errors.New("request timeout"), ErrorCodeTimeout, true, 0},
		{"deadline exceeded", context.DeadlineExceeded, ErrorCodeTimeout, true, 0},
		{"network message", errors.New("network unreachable"), ErrorCodeNetworkError, true, 0},
		{"fetch failed", errors.New("fetch failed"), ErrorCodeNetworkError, true, 0},
		{"connection refused", &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}, ErrorCodeNetworkError, true, 0},
		{"dns fault", &net.DNSError{Err: "no such host", Name: "api.example"}, ErrorCodeNetworkError, true, 0},
		{"unexpected eof", fmt.Errorf("read body: %w", io.ErrUnexpectedEOF), ErrorCodeNetworkError, true, 0},
		{"500 status", NewStatusError(500, "oops"), ErrorCodeProviderError, true, 500},
		{"503 status", NewStatusError(503, ""), ErrorCodeProviderError, true, 503},
		{"400 status", NewStatusError(400, "bad input"), ErrorCodeUnknown, false, 400},
		{"anything else", errors.New("something odd"), ErrorCodeUnknown, false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err, "openai")
			require.NotNil(t, got)
			assert.Equal(t, tt.code, got.Code)
			assert.Equal(t, tt.retryable, got.Retryable)
			assert.Equal(t, tt.status, got.HTTPStatus)
			assert.Equal(t, "openai", got.Provider)
			assert.ErrorIs(t, got, tt.err)
		})
	}
}

func TestClassify_PriorityOrder(t *testing.T) {
	// A 401 that also mentions a rate limit is an authentication failure.
	got := Classify(NewStatusError(401, "rate limit"), "")
	assert.Equal(t, ErrorCodeAuthenticationFailed, got.Code)

	// A 429 that mentions quota is still rate limited.
	got = Classify(NewStatusError(429, "quota exceeded"), "")
	assert.Equal(t, ErrorCodeRateLimited, got.Code)

	// A 503 with a timeout message is a timeout.
	got = Classify(NewStatusError(503, "upstream timeout"), "")
	assert.Equal(t, ErrorCodeTimeout, got.Code)
}

func TestClassify_RateLimitAlwaysRetryable(t *testing.T) {
	messages := []string{"rate limit", "hit the RATE LIMIT", "provider rate limit exceeded, retry later"}
	for _, msg := range messages {
		got := Classify(errors.New(msg), "")
		assert.Equal(t, ErrorCodeRateLimited, got.Code, msg)
		assert.True(t, got.Retryable, msg)
	}
	for _, status := range []int{429} {
		got := Classify(NewStatusError(status, "slow down"), "")
		assert.Equal(t, ErrorCodeRateLimited, got.Code)
		assert.True(t, got.Retryable)
	}
}

func TestClassify_SDKStatus(t *testing.T) {
	openaiErr := &openai.APIError{HTTPStatusCode: 429, Message: "slow down"}
	got := Classify(fmt.Errorf("chat completion: %w", openaiErr), ProviderOpenAI)
	assert.Equal(t, ErrorCodeRateLimited, got.Code)
	assert.Equal(t, 429, got.HTTPStatus)

	ollamaErr := api.StatusError{StatusCode: 503, ErrorMessage: "overloaded"}
	got = Classify(ollamaErr, ProviderOllama)
	assert.Equal(t, ErrorCodeProviderError, got.Code)
	assert.Equal(t, 503, got.HTTPStatus)

	got = Classify(statusCoder{code: 502}, "")
	assert.Equal(t, ErrorCodeProviderError, got.Code)
	assert.Equal(t, 502, got.HTTPStatus)
}

func TestClassify_AlreadyClassified(t *testing.T) {
	original := NewError(ErrorCodeModelNotAvailable, "no such model", false, nil)
	got := Classify(fmt.Errorf("wrapped: %w", original), "anthropic")
	assert.Equal(t, ErrorCodeModelNotAvailable, got.Code)
	assert.Equal(t, "anthropic", got.Provider)
	assert.Empty(t, original.Provider, "the original must not be mutated")

	same := Classify(got, "anthropic")
	assert.Same(t, got, same)
}

func TestClassify_Deterministic(t *testing.T) {
	err := errors.New("connection reset by peer")
	first := Classify(err, "p")
	second := Classify(err, "p")
	assert.Equal(t, first, second)
}

func TestClassify_Nil(t *testing.T) {
	got := Classify(nil, "")
	assert.Equal(t, ErrorCodeUnknown, got.Code)
	assert.False(t, got.Retryable)
}

func TestShouldRetry(t *testing.T) {
	rateLimited := NewError(ErrorCodeRateLimited, "rl", true, nil)
	network := NewError(ErrorCodeNetworkError, "net", true, nil)
	timeout := NewError(ErrorCodeTimeout, "to", true, nil)
	provider := NewError(ErrorCodeProviderError, "5xx", true, nil)
	quota := NewError(ErrorCodeQuotaExceeded, "quota", false, nil)
	oddRetryable := NewError(ErrorCodeInvalidRequest, "odd", true, nil)

	assert.True(t, ShouldRetry(network, 0, 3))
	assert.True(t, ShouldRetry(timeout, 2, 3))
	assert.True(t, ShouldRetry(provider, 9, 10))
	assert.False(t, ShouldRetry(quota, 0, 3), "non-retryable")
	assert.False(t, ShouldRetry(oddRetryable, 0, 3), "unlisted retryable codes are not retried")
	assert.False(t, ShouldRetry(nil, 0, 3))

	assert.True(t, ShouldRetry(rateLimited, 4, 10))
	assert.False(t, ShouldRetry(rateLimited, 5, 10), "rate limits have their own cap")
}

func TestShouldRetry_NeverAtOrBeyondBudget(t *testing.T) {
	for _, code := range Codes() {
		err := NewError(code, "x", true, nil)
		for maxRetries := 0; maxRetries < 8; maxRetries++ {
			for attempt := maxRetries; attempt < maxRetries+4; attempt++ {
				assert.False(t, ShouldRetry(err, attempt, maxRetries), "%s attempt=%d max=%d", code, attempt, maxRetries)
			}
		}
	}
}
