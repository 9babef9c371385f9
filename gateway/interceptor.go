package gateway

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// RequestContext describes one Execute call to interceptors and middleware.
type RequestContext struct {
	RequestID string
	Provider  string
	Model     string
	Priority  int
	StartTime time.Time
	Options   Options
}

// Interceptor assigns request ids and logs request boundaries. It never alters control
// flow.
type Interceptor struct {
	counter atomic.Uint64
	clock   clockwork.Clock
	logger  zerolog.Logger
}

// NewInterceptor creates an interceptor. A nil clock means the real clock.
func NewInterceptor(clock clockwork.Clock, logger zerolog.Logger) *Interceptor {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Interceptor{
		clock:  clock,
		logger: logger.With().Str("component", "requestInterceptor").Logger(),
	}
}

// GenerateRequestID returns an id of the form req_<unix-millis>_<counter>_<random>, unique
// within the process.
func (i *Interceptor) GenerateRequestID() string {
	n := i.counter.Add(1)
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("req_%d_%d_%s", i.clock.Now().UnixMilli(), n, suffix)
}

// BeforeRequest logs the start of a request.
func (i *Interceptor) BeforeRequest(rc *RequestContext) {
	event := i.logger.Debug().
		Str("requestID", rc.RequestID).
		Str("provider", rc.Provider).
		Str("model", rc.Model).
		Int("priority", rc.Priority)
	if rc.Options.EstimatedTokens > 0 {
		event = event.Int("estimatedTokens", rc.Options.EstimatedTokens)
	}
	if len(rc.Options.Context) > 0 {
		event = event.Interface("context", rc.Options.Context)
	}
	event.Msg("Request started")
}

// AfterRequest logs the outcome of a request: info on success, warn on failure.
func (i *Interceptor) AfterRequest(rc *RequestContext, result *Result) {
	if result == nil {
		return
	}

	meta := result.Metadata
	if result.Success {
		i.logger.Info().
			Str("requestID", rc.RequestID).
			Str("provider", rc.Provider).
			Str("model", rc.Model).
			Dur("duration", meta.Duration).
			Int("retryCount", meta.RetryCount).
			Int64("tokens", meta.TokenUsage.Total()).
			Msg("Request succeeded")
		return
	}

	event := i.logger.Warn().
		Str("requestID", rc.RequestID).
		Str("provider", rc.Provider).
		Str("model", rc.Model).
		Dur("duration", meta.Duration).
		Int("retryCount", meta.RetryCount)
	if result.Error != nil {
		event = event.
			Str("code", result.Error.Code.String()).
			Bool("retryable", result.Error.Retryable).
			Err(result.Error)
	}
	event.Msg("Request failed")
}
