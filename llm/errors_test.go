package llm

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsRateLimitError(t *testing.T) {
	err := NewError(ErrorCodeRateLimited, "rate limit exceeded", true, nil)
	assert.True(t, IsRateLimitError(err))
	assert.True(t, IsRateLimitError(fmt.Errorf("wrapped: %w", err)))

	regularErr := NewError(ErrorCodeProviderError, "some error", true, nil)
	assert.False(t, IsRateLimitError(regularErr))
	assert.False(t, IsRateLimitError(errors.New("rate limit")), "plain errors are not classified")
}

func TestIsRetryableError(t *testing.T) {
	assert.True(t, IsRetryableError(NewError(ErrorCodeTimeout, "timeout", true, nil)))
	assert.False(t, IsRetryableError(NewError(ErrorCodeQuotaExceeded, "quota", false, nil)))
	assert.False(t, IsRetryableError(errors.New("boom")))
}

func TestErrorUnwrap(t *testing.T) {
	originalErr := errors.New("original error")
	wrappedErr := NewError(ErrorCodeUnknown, "wrapped", false, originalErr)
	assert.True(t, errors.Is(wrappedErr, originalErr))
}

func TestErrorString(t *testing.T) {
	err := &Error{Code: ErrorCodeTimeout, Message: "took too long", Provider: "openai"}
	assert.Equal(t, "openai [TIMEOUT]: took too long", err.Error())

	err = &Error{Code: ErrorCodeUnknown, Message: "boom"}
	assert.Equal(t, "[UNKNOWN] boom", err.Error())
}

func TestCanceled(t *testing.T) {
	err := Canceled(context.Canceled)
	assert.Equal(t, ErrorCodeUnknown, err.Code)
	assert.False(t, err.Retryable)
	assert.ErrorIs(t, err, context.Canceled)

	err = Canceled(context.DeadlineExceeded)
	assert.Equal(t, ErrorCodeTimeout, err.Code)
	assert.False(t, err.Retryable, "a caller deadline is never retried")
}

func TestCodes(t *testing.T) {
	codes := Codes()
	require.Len(t, codes, 13)
	assert.Equal(t, ErrorCodeInvalidRequest, codes[0])
	assert.Equal(t, ErrorCodeUnknown, codes[len(codes)-1])
}

func TestStatusError(t *testing.T) {
	assert.Equal(t, "http status 503", NewStatusError(503, "").Error())
	assert.Equal(t, "http status 400: bad", NewStatusError(400, "bad").Error())
}

func TestWithProvider(t *testing.T) {
	err := NewError(ErrorCodeTimeout, "slow", true, nil)
	attributed := err.WithProvider("ollama")
	assert.Equal(t, "ollama", attributed.Provider)
	assert.Empty(t, err.Provider)

	assert.Same(t, attributed, attributed.WithProvider("openai"), "an existing provider is kept")
	assert.Same(t, err, err.WithProvider(""))
}
