package llm

import (
	"context"
)

// Client provides a provider-neutral interface for making LLM API calls.
// Implementations handle provider-specific details internally; this module only decides
// when, and how often, their calls run.
type Client interface {
	// Synchronous sends a request and returns a complete response.
	Synchronous(ctx context.Context, req *Request) (*Response, error)

	// Stream sends a request and returns a stream of events.
	// The caller should read from the returned Stream until it's done or an error occurs.
	Stream(ctx context.Context, req *Request) (Stream, error)
}

// Stream represents a streaming response from an LLM.
type Stream interface {
	// Next advances to the next event in the stream.
	// Returns false when the stream is complete or an error occurs.
	Next() bool

	// Event returns the current event.
	// Should only be called after Next() returns true.
	Event() *StreamEvent

	// Err returns any error that occurred during streaming.
	Err() error

	// Close closes the stream and releases resources.
	Close() error
}
