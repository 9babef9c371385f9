// Package llm provides the provider-neutral vocabulary shared by every other package:
// the fixed failure taxonomy, the classifier that maps arbitrary errors into it, token
// usage, request metadata, and the Client/Stream interfaces provider adapters implement.
//
// # Classification
//
// Classify turns any error into an *Error carrying a Code from the fixed taxonomy and a
// Retryable flag. Rules are evaluated in a fixed priority order against the lower-cased
// message and an HTTP status extracted from the error chain (anthropic-sdk-go, go-openai
// and ollama error types are recognized, as is any error exposing StatusCode() int).
//
//	err := Classify(providerErr, "openai")
//	if ShouldRetry(err, attempt, maxRetries) {
//	    // back off and try again
//	}
//
// Operations that already know what went wrong may return an *Error built with NewError;
// Classify passes it through untouched.
package llm
