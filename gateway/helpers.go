package gateway

import (
	"context"
	"fmt"

	"github.com/aschepis/backscratcher/llmgate/llm"
	"github.com/aschepis/backscratcher/llmgate/stream"
)

// NewStreamProcessor creates a stream processor for callers that consume streamed
// responses inside an Operation.
func NewStreamProcessor[T any](callbacks stream.Callbacks[T]) *stream.Processor[T] {
	return stream.NewProcessor(callbacks)
}

// CreateStreamProcessor is NewStreamProcessor for string chunks.
func (f *Factory) CreateStreamProcessor(callbacks stream.Callbacks[string]) *stream.Processor[string] {
	return NewStreamProcessor(callbacks)
}

// TypedResult is a Result whose data has a static type.
type TypedResult[T any] struct {
	Success  bool
	Data     T
	Error    *llm.Error
	Metadata llm.RequestMetadata
}

// Execute runs op through f.Execute and returns its value with a static type.
func Execute[T any](ctx context.Context, f *Factory, provider, model string, op func(ctx context.Context) (T, error), opts Options) TypedResult[T] {
	result := f.Execute(ctx, provider, model, func(ctx context.Context) (any, error) {
		return op(ctx)
	}, opts)

	typed := TypedResult[T]{
		Success:  result.Success,
		Error:    result.Error,
		Metadata: result.Metadata,
	}
	if result.Success {
		data, ok := result.Data.(T)
		if !ok && result.Data != nil {
			typed.Success = false
			typed.Error = llm.Internal(fmt.Sprintf("unexpected result type %T", result.Data), nil).WithProvider(provider)
			return typed
		}
		typed.Data = data
	}
	return typed
}

// Synchronous sends req through client under f's admission and retry policy. The response
// token usage is recorded and counted against the provider's token window.
func Synchronous(ctx context.Context, f *Factory, provider string, client llm.Client, req *llm.Request, opts Options) TypedResult[*llm.Response] {
	if opts.EstimatedTokens == 0 && req != nil {
		opts.EstimatedTokens = int(req.MaxTokens)
	}
	model := ""
	if req != nil {
		model = req.Model
	}
	return Execute(ctx, f, provider, model, func(ctx context.Context) (*llm.Response, error) {
		return client.Synchronous(ctx, req)
	}, opts)
}
