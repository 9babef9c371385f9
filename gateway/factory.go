// Package gateway runs provider calls under admission control, bounded retries and usage
// accounting. Factory is the single entry point; everything else in the module is a part
// it composes.
package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	ctxpkg "github.com/aschepis/backscratcher/llmgate/context"
	"github.com/aschepis/backscratcher/llmgate/config"
	"github.com/aschepis/backscratcher/llmgate/llm"
	"github.com/aschepis/backscratcher/llmgate/ratelimit"
	"github.com/aschepis/backscratcher/llmgate/retry"
	"github.com/aschepis/backscratcher/llmgate/usage"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

const (
	// MinPriority and MaxPriority bound Options.Priority. Higher runs first.
	MinPriority = 0
	MaxPriority = 10
)

// Operation is the caller's provider call. The context carries the request id
// (ctxpkg.RequestID), the zero-based attempt (ctxpkg.Attempt) and, when set, the
// advisory timeout (ctxpkg.TimeoutHint). Operations that return an llm.UsageReporter
// have their token usage recorded.
type Operation func(ctx context.Context) (any, error)

// Options tune a single Execute call. The zero value is valid.
type Options struct {
	// RequestID is generated when empty.
	RequestID string
	// Timeout is advisory: it is handed to the operation and never enforced.
	Timeout time.Duration
	// MaxRetries overrides the factory default.
	MaxRetries *int
	// EnableRateLimit opts a single call out of admission control when explicitly false.
	EnableRateLimit *bool
	// Priority orders queued callers, clamped to [MinPriority, MaxPriority].
	Priority int
	// EstimatedTokens is checked against the provider's token window before admission.
	EstimatedTokens int
	// Context is free-form caller metadata, handed to the operation and logged.
	Context map[string]any
}

// Result is the outcome of Execute. Error is set exactly when Success is false.
type Result struct {
	Success  bool                `json:"success"`
	Data     any                 `json:"data,omitempty"`
	Error    *llm.Error          `json:"error,omitempty"`
	Metadata llm.RequestMetadata `json:"metadata"`
}

// Notifier is told about every final failure.
type Notifier interface {
	Notify(provider string, err *llm.Error) bool
}

// Factory composes the limiter registry, retry manager, interceptor and usage tracker.
// It is safe for concurrent use.
type Factory struct {
	mu               sync.RWMutex
	retrier          *retry.Manager
	maxRetries       int
	rateLimitEnabled bool
	middleware       []Middleware
	notifier         Notifier

	limiters    *ratelimit.Registry
	tracker     *usage.Tracker
	interceptor *Interceptor
	clock       clockwork.Clock
	baseLogger  zerolog.Logger
	logger      zerolog.Logger
}

type factoryOptions struct {
	clock        clockwork.Clock
	retrier      *retry.Manager
	notifier     Notifier
	usageOptions usage.Options
}

// Option configures a Factory.
type Option func(*factoryOptions)

// WithClock sets the clock shared by the limiters, the retry manager and the tracker.
func WithClock(clock clockwork.Clock) Option {
	return func(o *factoryOptions) { o.clock = clock }
}

// WithRetryManager replaces the default retry manager.
func WithRetryManager(m *retry.Manager) Option {
	return func(o *factoryOptions) { o.retrier = m }
}

// WithNotifier sets the notifier told about final failures.
func WithNotifier(n Notifier) Option {
	return func(o *factoryOptions) { o.notifier = n }
}

// WithUsageOptions bounds the usage ledger.
func WithUsageOptions(opts usage.Options) Option {
	return func(o *factoryOptions) { o.usageOptions = opts }
}

// NewFactory creates a factory with rate limiting enabled and the default retry policy.
func NewFactory(logger zerolog.Logger, opts ...Option) *Factory {
	o := factoryOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.clock == nil {
		o.clock = clockwork.NewRealClock()
	}
	if o.retrier == nil {
		o.retrier = retry.NewManager(logger, retry.WithClock(o.clock))
	}
	if o.usageOptions.Clock == nil {
		o.usageOptions.Clock = o.clock
	}

	return &Factory{
		retrier:          o.retrier,
		maxRetries:       retry.DefaultMaxRetries,
		rateLimitEnabled: true,
		notifier:         o.notifier,
		limiters:         ratelimit.NewRegistry(o.clock, logger),
		tracker:          usage.NewTracker(o.usageOptions, logger),
		interceptor:      NewInterceptor(o.clock, logger),
		clock:            o.clock,
		baseLogger:       logger,
		logger:           logger.With().Str("component", "factory").Logger(),
	}
}

// Use appends middleware to the chain run around every attempt.
func (f *Factory) Use(middleware ...Middleware) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.middleware = append(f.middleware, middleware...)
}

// SetNotifier replaces the failure notifier. nil disables notifications.
func (f *Factory) SetNotifier(n Notifier) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notifier = n
}

// Execute runs op for provider/model under the provider's admission policy and the retry
// policy, records the outcome and returns it. It never panics: internal faults become a
// failed Result with code UNKNOWN.
func (f *Factory) Execute(ctx context.Context, provider, model string, op Operation, opts Options) (result *Result) {
	f.mu.RLock()
	retrier := f.retrier
	maxRetries := f.maxRetries
	rateLimitEnabled := f.rateLimitEnabled
	middleware := append([]Middleware(nil), f.middleware...)
	notifier := f.notifier
	f.mu.RUnlock()

	if opts.MaxRetries != nil {
		maxRetries = max(*opts.MaxRetries, 0)
	}
	if opts.EnableRateLimit != nil {
		rateLimitEnabled = *opts.EnableRateLimit
	}

	requestID := opts.RequestID
	if requestID == "" {
		requestID = f.interceptor.GenerateRequestID()
	}

	rc := &RequestContext{
		RequestID: requestID,
		Provider:  provider,
		Model:     model,
		Priority:  min(max(opts.Priority, MinPriority), MaxPriority),
		StartTime: f.clock.Now(),
		Options:   opts,
	}
	meta := llm.RequestMetadata{
		RequestID: requestID,
		StartTime: rc.StartTime,
		Provider:  provider,
		Model:     model,
	}

	var limiter *ratelimit.Limiter
	released := false
	release := func(tokens int) {
		if limiter != nil && !released {
			released = true
			limiter.Release(tokens)
		}
	}

	// finished is set once the outcome has been recorded; a later fault must not record it twice.
	finished := false
	complete := func(value any, failure *llm.Error) *Result {
		finished = true
		return f.finish(rc, meta, value, failure, notifier)
	}

	defer func() {
		if r := recover(); r != nil {
			release(0)
			f.logger.Error().Str("requestID", requestID).Interface("panic", r).Msg("Recovered from internal fault")
			failure := llm.Internal(fmt.Sprintf("internal fault: %v", r), nil).WithProvider(provider)
			if finished {
				meta.Finish(f.clock.Now())
				result = &Result{Success: false, Error: failure, Metadata: meta}
				return
			}
			result = complete(nil, failure)
		}
	}()

	f.interceptor.BeforeRequest(rc)

	if op == nil {
		return complete(nil, llm.Internal("nil operation", nil).WithProvider(provider))
	}

	if rateLimitEnabled {
		limiter = f.limiters.GetOrCreate(provider)
		if err := limiter.Acquire(ctx, rc.Priority, opts.EstimatedTokens); err != nil {
			limiter = nil
			return complete(nil, llm.Canceled(err).WithProvider(provider))
		}
	}

	runAttempt := func(ctx context.Context, attempt int) (value any, err error) {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, llm.Canceled(ctxErr)
		}

		defer func() {
			if r := recover(); r != nil {
				f.logger.Error().Str("requestID", requestID).Int("attempt", attempt).Interface("panic", r).Msg("Operation panicked")
				value, err = nil, llm.Internal(fmt.Sprintf("operation panicked: %v", r), nil)
			}
		}()

		actx := ctxpkg.WithAttempt(ctxpkg.WithRequestID(ctx, requestID), attempt)
		if opts.Timeout > 0 {
			actx = ctxpkg.WithTimeoutHint(actx, opts.Timeout)
		}
		if opts.Context != nil {
			actx = ctxpkg.WithMetadata(actx, opts.Context)
		}
		return runChain(actx, middleware, rc, attempt, op)
	}

	outcome := retrier.Execute(ctx, runAttempt, retry.Options{
		MaxRetries: &maxRetries,
		Provider:   provider,
	})
	meta.RetryCount = outcome.RetryCount

	if outcome.Err != nil {
		release(0)
		return complete(nil, outcome.Err)
	}

	if reporter, ok := outcome.Value.(llm.UsageReporter); ok {
		if u := reporter.TokenUsage(); u != nil {
			tokens := *u
			meta.TokenUsage = &tokens
		}
	}
	release(int(meta.TokenUsage.Total()))

	return complete(outcome.Value, nil)
}

// finish stamps the end time, logs, records usage and notifies, in that order.
func (f *Factory) finish(rc *RequestContext, meta llm.RequestMetadata, value any, failure *llm.Error, notifier Notifier) *Result {
	meta.Finish(f.clock.Now())

	result := &Result{
		Success:  failure == nil,
		Data:     value,
		Error:    failure,
		Metadata: meta,
	}

	f.interceptor.AfterRequest(rc, result)

	var code llm.ErrorCode
	if failure != nil {
		code = failure.Code
	}
	f.tracker.Record(meta, result.Success, code)

	if failure != nil && notifier != nil {
		f.notify(notifier, rc, failure)
	}

	return result
}

// notify hands failure to the notifier. A panicking notifier is logged and ignored.
func (f *Factory) notify(notifier Notifier, rc *RequestContext, failure *llm.Error) {
	defer func() {
		if r := recover(); r != nil {
			f.logger.Error().Str("requestID", rc.RequestID).Interface("panic", r).Msg("Notifier panicked")
		}
	}()
	notifier.Notify(rc.Provider, failure)
}

// ConfigureRateLimit installs the admission policy for provider. Requests already holding
// a slot finish under the policy they were admitted with.
func (f *Factory) ConfigureRateLimit(provider string, cfg ratelimit.Config) {
	f.limiters.Configure(provider, cfg)
}

// RateLimitStatus reports the limiter state of provider, if it has one.
func (f *Factory) RateLimitStatus(provider string) (ratelimit.Snapshot, bool) {
	limiter, ok := f.limiters.Get(provider)
	if !ok {
		return ratelimit.Snapshot{}, false
	}
	return limiter.Status(), true
}

// RateLimitProviders lists the providers that have a limiter, sorted.
func (f *Factory) RateLimitProviders() []string {
	return f.limiters.Providers()
}

// RateLimitStatuses reports the limiter state of every known provider.
func (f *Factory) RateLimitStatuses() map[string]ratelimit.Snapshot {
	return f.limiters.Statuses()
}

// UsageStats aggregates recorded outcomes since the given time. A zero time means the
// tracker's default window.
func (f *Factory) UsageStats(since time.Time) usage.Stats {
	return f.tracker.Stats(since)
}

// ExportUsageRecords returns a copy of the records since the given time.
func (f *Factory) ExportUsageRecords(since time.Time) []usage.Record {
	return f.tracker.Export(since)
}

// ApplyConfig installs provider policies, the global rate-limit switch and the retry
// policy from cfg. Usage bounds are fixed at construction and are not changed.
func (f *Factory) ApplyConfig(cfg *config.Config) {
	if cfg == nil {
		return
	}

	for provider, policy := range cfg.Providers {
		f.limiters.Configure(provider, policy)
	}

	retrier := retry.NewManager(f.baseLogger, retry.WithClock(f.clock), retry.WithDelays(cfg.Retry.BaseDelay, cfg.Retry.MaxDelay))

	f.mu.Lock()
	f.rateLimitEnabled = cfg.RateLimitingEnabled()
	if cfg.Retry.MaxRetries != nil {
		f.maxRetries = max(*cfg.Retry.MaxRetries, 0)
	}
	f.retrier = retrier
	f.mu.Unlock()

	f.logger.Info().
		Strs("limiters", f.RateLimitProviders()).
		Bool("rateLimitEnabled", cfg.RateLimitingEnabled()).
		Int("maxRetries", f.maxRetriesSnapshot()).
		Msg("Applied configuration")
}

func (f *Factory) maxRetriesSnapshot() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.maxRetries
}
