package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"github.com/aschepis/backscratcher/llmgate/llm"
	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

const (
	// DefaultMaxRetries is the default maximum number of retries after the first attempt
	DefaultMaxRetries = 3
	// DefaultBaseDelay is the default initial delay for exponential backoff
	DefaultBaseDelay = 1 * time.Second
	// DefaultMaxDelay caps any single backoff delay
	DefaultMaxDelay = 60 * time.Second
	// RateLimitedMultiplier scales the base delay for RATE_LIMITED failures
	RateLimitedMultiplier = 2
	// JitterFactor is the upper bound of the random fraction added to each delay
	JitterFactor = 0.3
)

// Operation is one attempt of the guarded call. attempt is zero-based.
type Operation func(ctx context.Context, attempt int) (any, error)

// Options tune a single Execute call.
type Options struct {
	// MaxRetries overrides DefaultMaxRetries when set. Negative values are treated as 0.
	MaxRetries *int
	// Provider attributes classified failures.
	Provider string
	// OnRetry is called before each backoff wait with the attempt that just failed.
	OnRetry func(attempt int, err *llm.Error, delay time.Duration)
	// ShouldRetry replaces llm.ShouldRetry when set. It can never extend the attempt
	// budget beyond MaxRetries.
	ShouldRetry func(err *llm.Error, attempt, maxRetries int) bool
}

// Outcome is the result of Execute. Exactly one of Value and Err is meaningful.
type Outcome struct {
	Value      any
	Err        *llm.Error
	RetryCount int
}

// Manager runs operations with bounded attempts and exponential backoff with jitter.
type Manager struct {
	baseDelay time.Duration
	maxDelay  time.Duration
	clock     clockwork.Clock
	jitter    func() float64
	logger    zerolog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock sets the clock used for backoff waits.
func WithClock(clock clockwork.Clock) Option {
	return func(m *Manager) { m.clock = clock }
}

// WithJitter sets the source of the [0,1) random fraction used for jitter.
func WithJitter(jitter func() float64) Option {
	return func(m *Manager) { m.jitter = jitter }
}

// WithDelays overrides the base and maximum delay. Non-positive values keep the defaults.
func WithDelays(base, maxDelay time.Duration) Option {
	return func(m *Manager) {
		if base > 0 {
			m.baseDelay = base
		}
		if maxDelay > 0 {
			m.maxDelay = maxDelay
		}
	}
}

// NewManager creates a new retry manager with default settings
func NewManager(logger zerolog.Logger, opts ...Option) *Manager {
	m := &Manager{
		baseDelay: DefaultBaseDelay,
		maxDelay:  DefaultMaxDelay,
		clock:     clockwork.NewRealClock(),
		jitter:    rand.Float64,
		logger:    logger.With().Str("component", "retryManager").Logger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Delay returns the backoff before retrying a failure with the given code that occurred
// at the given zero-based attempt.
func (m *Manager) Delay(code llm.ErrorCode, attempt int) time.Duration {
	base := m.baseDelay
	if code == llm.ErrorCodeRateLimited {
		base *= RateLimitedMultiplier
	}

	delay := float64(base) * math.Pow(2, float64(attempt)) * (1 + m.jitter()*JitterFactor)
	if delay >= float64(m.maxDelay) {
		return m.maxDelay
	}
	return time.Duration(delay)
}

// Execute invokes op until it succeeds, a failure is not retryable, or the attempt budget
// is spent. Backoff waits end early when ctx is done; the outcome then reports a
// non-retryable cancellation failure.
func (m *Manager) Execute(ctx context.Context, op Operation, opts Options) Outcome {
	maxRetries := DefaultMaxRetries
	if opts.MaxRetries != nil {
		maxRetries = max(*opts.MaxRetries, 0)
	}
	shouldRetry := opts.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = llm.ShouldRetry
	}

	state := &attemptState{attempt: -1}
	operation := func() error {
		state.attempt++
		value, err := op(ctx, state.attempt)
		if err == nil {
			state.value = value
			return nil
		}

		state.lastErr = llm.Classify(err, opts.Provider)
		if state.attempt >= maxRetries || !shouldRetry(state.lastErr, state.attempt, maxRetries) {
			return backoff.Permanent(state.lastErr)
		}
		return state.lastErr
	}

	notify := func(_ error, delay time.Duration) {
		m.logger.Warn().
			Str("provider", opts.Provider).
			Int("attempt", state.attempt+1).
			Int("max_retries", maxRetries).
			Str("code", state.lastErr.Code.String()).
			Err(state.lastErr).
			Dur("next_delay", delay).
			Msg("Retryable failure. Retrying after delay")
		if opts.OnRetry != nil {
			opts.OnRetry(state.attempt, state.lastErr, delay)
		}
	}

	b := backoff.WithContext(backoff.WithMaxRetries(&jitterBackOff{manager: m, state: state}, uint64(maxRetries)), ctx)
	err := backoff.RetryNotifyWithTimer(operation, b, notify, &clockTimer{clock: m.clock})

	outcome := Outcome{RetryCount: max(state.attempt, 0)}
	if err == nil {
		outcome.Value = state.value
		return outcome
	}

	var classified *llm.Error
	if errors.As(err, &classified) {
		outcome.Err = classified
	} else {
		outcome.Err = llm.Canceled(err)
		outcome.Err.Provider = opts.Provider
	}

	m.logger.Debug().
		Str("provider", opts.Provider).
		Int("retryCount", outcome.RetryCount).
		Str("code", outcome.Err.Code.String()).
		Msg("Giving up on operation")
	return outcome
}

// attemptState is shared between the operation closure and the backoff policy.
type attemptState struct {
	attempt int
	lastErr *llm.Error
	value   any
}

// jitterBackOff implements backoff.BackOff using Manager.Delay for the attempt that just
// failed.
type jitterBackOff struct {
	manager *Manager
	state   *attemptState
}

func (b *jitterBackOff) NextBackOff() time.Duration {
	if b.state.lastErr == nil {
		return backoff.Stop
	}
	return b.manager.Delay(b.state.lastErr.Code, b.state.attempt)
}

func (b *jitterBackOff) Reset() {}

// clockTimer implements backoff.Timer on top of a clockwork clock.
type clockTimer struct {
	clock clockwork.Clock
	timer clockwork.Timer
}

func (t *clockTimer) Start(duration time.Duration) {
	if t.timer == nil {
		t.timer = t.clock.NewTimer(duration)
		return
	}
	t.timer.Reset(duration)
}

func (t *clockTimer) Stop() {
	if t.timer != nil {
		t.timer.Stop()
	}
}

func (t *clockTimer) C() <-chan time.Time {
	return t.timer.Chan()
}
