package ratelimit

import (
	"slices"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// Registry owns one Limiter per provider.
type Registry struct {
	limiters map[string]*Limiter
	mu       sync.RWMutex
	clock    clockwork.Clock
	logger   zerolog.Logger
}

// NewRegistry creates an empty registry. Limiters it creates share clock and logger.
func NewRegistry(clock clockwork.Clock, logger zerolog.Logger) *Registry {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Registry{
		limiters: make(map[string]*Limiter),
		clock:    clock,
		logger:   logger,
	}
}

// GetOrCreate returns the provider's limiter, creating one with DefaultConfig (60 req/min,
// concurrency 10) on first use rather than refusing unknown providers.
func (r *Registry) GetOrCreate(provider string) *Limiter {
	r.mu.RLock()
	l, ok := r.limiters[provider]
	r.mu.RUnlock()
	if ok {
		return l
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.limiters[provider]; ok {
		return l
	}
	l = NewLimiter(provider, DefaultConfig(), r.clock, r.logger)
	r.limiters[provider] = l
	r.logger.Debug().Str("provider", provider).Msg("Created default rate limiter")
	return l
}

// Configure replaces the provider's limiter with a fresh one using config. Callers that
// already acquired from the previous limiter release back to it.
func (r *Registry) Configure(provider string, config Config) *Limiter {
	l := NewLimiter(provider, config, r.clock, r.logger)

	r.mu.Lock()
	r.limiters[provider] = l
	r.mu.Unlock()

	r.logger.Info().
		Str("provider", provider).
		Int("max_requests_per_minute", config.MaxRequestsPerMinute).
		Int("max_tokens_per_minute", config.MaxTokensPerMinute).
		Int("max_concurrent", config.MaxConcurrent).
		Msg("Configured rate limit")
	return l
}

// Get returns the provider's limiter if one exists.
func (r *Registry) Get(provider string) (*Limiter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.limiters[provider]
	return l, ok
}

// Providers returns the keys of all known providers, sorted.
func (r *Registry) Providers() []string {
	r.mu.RLock()
	providers := lo.Keys(r.limiters)
	r.mu.RUnlock()

	slices.Sort(providers)
	return providers
}

// Statuses returns a snapshot for every known provider.
func (r *Registry) Statuses() map[string]Snapshot {
	r.mu.RLock()
	limiters := lo.Assign(r.limiters)
	r.mu.RUnlock()

	return lo.MapValues(limiters, func(l *Limiter, _ string) Snapshot {
		return l.Status()
	})
}
