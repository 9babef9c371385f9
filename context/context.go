package context

import (
	stdctx "context"
	"time"
)

// requestIDKey and attemptKey are the context keys for per-request values handed to
// operations. This is in a separate package to avoid circular dependencies.
type requestIDKey struct{}

type attemptKey struct{}

type timeoutHintKey struct{}

type metadataKey struct{}

// WithRequestID adds the request id of the current execution to the context.
func WithRequestID(ctx stdctx.Context, requestID string) stdctx.Context {
	return stdctx.WithValue(ctx, requestIDKey{}, requestID)
}

// RequestID retrieves the request id from the context.
// Returns the id and a bool indicating if it was set.
func RequestID(ctx stdctx.Context) (string, bool) {
	id, ok := ctx.Value(requestIDKey{}).(string)
	return id, ok
}

// WithAttempt records the zero-based attempt number of the running operation.
func WithAttempt(ctx stdctx.Context, attempt int) stdctx.Context {
	return stdctx.WithValue(ctx, attemptKey{}, attempt)
}

// Attempt retrieves the zero-based attempt number, or 0 when unset.
func Attempt(ctx stdctx.Context) int {
	attempt, _ := ctx.Value(attemptKey{}).(int)
	return attempt
}

// WithTimeoutHint records the caller's advisory timeout. Nothing enforces it; operations
// that talk to a provider may pass it on as their own deadline.
func WithTimeoutHint(ctx stdctx.Context, timeout time.Duration) stdctx.Context {
	return stdctx.WithValue(ctx, timeoutHintKey{}, timeout)
}

// TimeoutHint retrieves the advisory timeout, if one was set.
func TimeoutHint(ctx stdctx.Context) (time.Duration, bool) {
	timeout, ok := ctx.Value(timeoutHintKey{}).(time.Duration)
	return timeout, ok
}

// WithMetadata attaches free-form caller metadata.
func WithMetadata(ctx stdctx.Context, metadata map[string]any) stdctx.Context {
	return stdctx.WithValue(ctx, metadataKey{}, metadata)
}

// Metadata retrieves caller metadata, or nil when unset.
func Metadata(ctx stdctx.Context) map[string]any {
	metadata, _ := ctx.Value(metadataKey{}).(map[string]any)
	return metadata
}
