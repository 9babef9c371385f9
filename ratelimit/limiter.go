package ratelimit

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// Window is the length of the sliding windows for request and token rates.
const Window = time.Minute

const (
	// DefaultMaxRequestsPerMinute is the permissive policy applied to providers that were
	// never configured explicitly.
	DefaultMaxRequestsPerMinute = 60
	// DefaultMaxConcurrent is the concurrency of the default policy.
	DefaultMaxConcurrent = 10
)

// Config is the admission policy of one provider. Zero values disable the matching gate.
type Config struct {
	MaxRequestsPerMinute int `yaml:"max_requests_per_minute" json:"max_requests_per_minute"`
	MaxTokensPerMinute   int `yaml:"max_tokens_per_minute,omitempty" json:"max_tokens_per_minute,omitempty"`
	MaxConcurrent        int `yaml:"max_concurrent,omitempty" json:"max_concurrent,omitempty"`
	BurstLimit           int `yaml:"burst_limit,omitempty" json:"burst_limit,omitempty"` // accepted, not enforced
}

// DefaultConfig returns the permissive default policy.
func DefaultConfig() Config {
	return Config{
		MaxRequestsPerMinute: DefaultMaxRequestsPerMinute,
		MaxConcurrent:        DefaultMaxConcurrent,
	}
}

// Snapshot is a point-in-time view of a Limiter.
type Snapshot struct {
	CurrentConcurrent  int `json:"current_concurrent"`
	RequestsLastMinute int `json:"requests_last_minute"`
	TokensLastMinute   int `json:"tokens_last_minute"`
	Waiting            int `json:"waiting"`
}

type tokenEntry struct {
	at     time.Time
	tokens int
}

// Limiter performs admission control for a single provider: a concurrency cap with a
// priority-ordered wait queue, a requests-per-minute window and an optional
// tokens-per-minute window. It is safe for concurrent use.
//
// A caller holds its concurrency slot from the moment it passes the concurrency gate until
// Release, including while it waits for the rate windows to clear.
type Limiter struct {
	provider string
	config   Config
	clock    clockwork.Clock
	logger   zerolog.Logger

	mu       sync.Mutex
	current  int
	requests []time.Time  // time-ordered
	tokens   []tokenEntry // time-ordered
	waiters  waiterQueue
	seq      uint64
}

// NewLimiter creates a limiter for provider with the given policy.
func NewLimiter(provider string, config Config, clock clockwork.Clock, logger zerolog.Logger) *Limiter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Limiter{
		provider: provider,
		config:   config,
		clock:    clock,
		logger:   logger.With().Str("component", "rateLimiter").Str("provider", provider).Logger(),
	}
}

// Config returns the policy the limiter was built with.
func (l *Limiter) Config() Config {
	return l.config
}

// Acquire suspends the caller until the concurrency, request-rate and token-rate gates all
// pass, in that order. Higher priority waiters are admitted first; equal priorities are
// admitted in arrival order. It returns ctx.Err() if ctx is done first, in which case no
// slot is held.
func (l *Limiter) Acquire(ctx context.Context, priority int, estimatedTokens int) error {
	if err := l.acquireSlot(ctx, priority); err != nil {
		return err
	}

	l.mu.Lock()
	for {
		now := l.clock.Now()
		l.prune(now)
		wait := l.windowWait(now, estimatedTokens)
		if wait <= 0 {
			break
		}

		l.mu.Unlock()
		l.logger.Debug().Dur("wait", wait).Msg("Rate window full, waiting")
		if err := l.sleep(ctx, wait); err != nil {
			l.mu.Lock()
			l.releaseSlotLocked()
			l.mu.Unlock()
			return err
		}
		l.mu.Lock()
	}
	l.requests = append(l.requests, l.clock.Now())
	l.mu.Unlock()
	return nil
}

// Release gives back the caller's slot and records the tokens the request actually used.
// The slot goes straight to the highest priority waiter when there is one.
func (l *Limiter) Release(actualTokens int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if actualTokens > 0 {
		l.tokens = append(l.tokens, tokenEntry{at: l.clock.Now(), tokens: actualTokens})
	}
	l.releaseSlotLocked()
}

// Status returns a snapshot of the limiter state.
func (l *Limiter) Status() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.prune(l.clock.Now())
	return Snapshot{
		CurrentConcurrent:  l.current,
		RequestsLastMinute: len(l.requests),
		TokensLastMinute:   l.tokensInWindow(),
		Waiting:            l.waiters.Len(),
	}
}

// acquireSlot passes the concurrency gate.
func (l *Limiter) acquireSlot(ctx context.Context, priority int) error {
	l.mu.Lock()
	if l.config.MaxConcurrent <= 0 || (l.current < l.config.MaxConcurrent && l.waiters.Len() == 0) {
		l.current++
		l.mu.Unlock()
		return nil
	}

	w := &waiter{priority: priority, seq: l.seq, ready: make(chan struct{})}
	l.seq++
	heap.Push(&l.waiters, w)
	l.mu.Unlock()

	l.logger.Debug().Int("priority", priority).Msg("Concurrency limit reached, queued")

	select {
	case <-w.ready:
		return nil
	case <-ctx.Done():
		l.mu.Lock()
		defer l.mu.Unlock()
		if w.granted {
			// The slot was handed over while we gave up; pass it on.
			l.releaseSlotLocked()
		} else {
			heap.Remove(&l.waiters, w.index)
		}
		return ctx.Err()
	}
}

// releaseSlotLocked hands the slot to the next waiter or frees it. Caller holds l.mu.
func (l *Limiter) releaseSlotLocked() {
	if l.waiters.Len() > 0 {
		w := heap.Pop(&l.waiters).(*waiter)
		w.granted = true
		close(w.ready)
		return
	}
	if l.current > 0 {
		l.current--
	}
}

// windowWait returns how long to wait before the rate windows admit one more request.
// Caller holds l.mu and has pruned.
func (l *Limiter) windowWait(now time.Time, estimatedTokens int) time.Duration {
	if limit := l.config.MaxRequestsPerMinute; limit > 0 && len(l.requests) >= limit {
		return l.requests[0].Add(Window).Sub(now)
	}
	if limit := l.config.MaxTokensPerMinute; limit > 0 && len(l.tokens) > 0 {
		if l.tokensInWindow()+estimatedTokens > limit {
			return l.tokens[0].at.Add(Window).Sub(now)
		}
	}
	return 0
}

// prune drops window entries older than Window. Caller holds l.mu.
func (l *Limiter) prune(now time.Time) {
	cutoff := now.Add(-Window)

	i := 0
	for i < len(l.requests) && !l.requests[i].After(cutoff) {
		i++
	}
	l.requests = l.requests[i:]

	j := 0
	for j < len(l.tokens) && !l.tokens[j].at.After(cutoff) {
		j++
	}
	l.tokens = l.tokens[j:]
}

func (l *Limiter) tokensInWindow() int {
	total := 0
	for _, e := range l.tokens {
		total += e.tokens
	}
	return total
}

// sleep waits for d on the limiter's clock, respecting context cancellation.
func (l *Limiter) sleep(ctx context.Context, d time.Duration) error {
	timer := l.clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.Chan():
		return nil
	}
}
