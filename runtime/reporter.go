// Package runtime holds the long-running background work of an llmgate process.
package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/aschepis/backscratcher/llmgate/ratelimit"
	"github.com/aschepis/backscratcher/llmgate/usage"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// Source is what the reporter summarizes. gateway.Factory satisfies it.
type Source interface {
	UsageStats(since time.Time) usage.Stats
	RateLimitStatuses() map[string]ratelimit.Snapshot
}

// Reporter periodically logs a usage summary and the state of every provider limiter.
type Reporter struct {
	source   Source
	schedule Schedule
	clock    clockwork.Clock
	logger   zerolog.Logger
}

// NewReporter creates a reporter for the given schedule string. A nil clock means the real
// clock.
func NewReporter(source Source, schedule string, clock clockwork.Clock, logger zerolog.Logger) (*Reporter, error) {
	if source == nil {
		return nil, fmt.Errorf("source cannot be nil")
	}
	sched, err := ParseSchedule(schedule)
	if err != nil {
		return nil, fmt.Errorf("invalid report schedule %q: %w", schedule, err)
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Reporter{
		source:   source,
		schedule: sched,
		clock:    clock,
		logger:   logger.With().Str("component", "reporter").Logger(),
	}, nil
}

// Start reports on every tick of the schedule until ctx is done. It blocks.
func (r *Reporter) Start(ctx context.Context) {
	r.logger.Info().Msg("Starting usage reporter")

	last := r.clock.Now()
	for {
		next := r.schedule.Next(r.clock.Now())
		timer := r.clock.NewTimer(next.Sub(r.clock.Now()))

		select {
		case <-ctx.Done():
			timer.Stop()
			r.logger.Info().Msg("Usage reporter stopped: context cancelled")
			return
		case <-timer.Chan():
			now := r.clock.Now()
			r.Report(last)
			last = now
		}
	}
}

// Report logs the usage since the given time and the current limiter states.
func (r *Reporter) Report(since time.Time) {
	stats := r.source.UsageStats(since)

	r.logger.Info().
		Int("totalRequests", stats.TotalRequests).
		Int("successfulRequests", stats.SuccessfulRequests).
		Int("failedRequests", stats.FailedRequests).
		Int64("totalTokens", stats.TotalTokens).
		Dur("averageDuration", stats.AverageDuration).
		Strs("providers", lo.Keys(stats.ByProvider)).
		Msg("Usage report")

	for code, count := range stats.ByErrorCode {
		r.logger.Info().Str("code", code.String()).Int("count", count).Msg("Failures by code")
	}

	for provider, snap := range r.source.RateLimitStatuses() {
		r.logger.Info().
			Str("provider", provider).
			Int("concurrent", snap.CurrentConcurrent).
			Int("waiting", snap.Waiting).
			Int("requestsLastMinute", snap.RequestsLastMinute).
			Int("tokensLastMinute", snap.TokensLastMinute).
			Msg("Rate limiter status")
	}
}
