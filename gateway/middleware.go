package gateway

import (
	"context"
)

// Middleware provides hooks around every attempt of an Execute call.
// This allows adding cross-cutting concerns like logging, auditing, fault injection, etc.
type Middleware interface {
	// BeforeAttempt is called before the operation runs.
	// Returning an error fails the attempt without running the operation.
	BeforeAttempt(ctx context.Context, rc *RequestContext, attempt int) error

	// AfterAttempt is called after the operation succeeded.
	// It can replace the value or return an error to fail the attempt.
	AfterAttempt(ctx context.Context, rc *RequestContext, value any) (any, error)

	// OnError is called when the attempt failed.
	// It can return a modified error or nil to use the original error.
	OnError(ctx context.Context, rc *RequestContext, err error) error
}

// MiddlewareFunc is a function type that implements Middleware.
type MiddlewareFunc struct {
	BeforeAttemptFunc func(ctx context.Context, rc *RequestContext, attempt int) error
	AfterAttemptFunc  func(ctx context.Context, rc *RequestContext, value any) (any, error)
	OnErrorFunc       func(ctx context.Context, rc *RequestContext, err error) error
}

// BeforeAttempt calls the BeforeAttemptFunc if set.
func (f MiddlewareFunc) BeforeAttempt(ctx context.Context, rc *RequestContext, attempt int) error {
	if f.BeforeAttemptFunc != nil {
		return f.BeforeAttemptFunc(ctx, rc, attempt)
	}
	return nil
}

// AfterAttempt calls the AfterAttemptFunc if set.
func (f MiddlewareFunc) AfterAttempt(ctx context.Context, rc *RequestContext, value any) (any, error) {
	if f.AfterAttemptFunc != nil {
		return f.AfterAttemptFunc(ctx, rc, value)
	}
	return value, nil
}

// OnError calls the OnErrorFunc if set.
func (f MiddlewareFunc) OnError(ctx context.Context, rc *RequestContext, err error) error {
	if f.OnErrorFunc != nil {
		return f.OnErrorFunc(ctx, rc, err)
	}
	return err
}

// runChain runs one attempt of op through middleware. BeforeAttempt runs in registration
// order, AfterAttempt in reverse order and OnError in registration order.
func runChain(ctx context.Context, middleware []Middleware, rc *RequestContext, attempt int, op Operation) (any, error) {
	value, err := func() (any, error) {
		for _, mw := range middleware {
			if err := mw.BeforeAttempt(ctx, rc, attempt); err != nil {
				return nil, err
			}
		}

		value, err := op(ctx)
		if err != nil {
			return nil, err
		}

		for i := len(middleware) - 1; i >= 0; i-- {
			value, err = middleware[i].AfterAttempt(ctx, rc, value)
			if err != nil {
				return nil, err
			}
		}
		return value, nil
	}()
	if err == nil {
		return value, nil
	}

	for _, mw := range middleware {
		if rewritten := mw.OnError(ctx, rc, err); rewritten != nil {
			err = rewritten
		}
	}
	return nil, err
}
