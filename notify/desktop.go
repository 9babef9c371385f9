// Package notify raises desktop alerts for failures that retrying will not fix.
package notify

import (
	"fmt"
	"sync"
	"time"

	"github.com/aschepis/backscratcher/llmgate/llm"
	"github.com/gen2brain/beeep"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// DefaultCooldown is the minimum gap between two alerts for the same provider and code.
const DefaultCooldown = 10 * time.Minute

// SendFunc delivers one notification.
type SendFunc func(title, message string) error

// Critical reports whether a failure needs a human: bad credentials or an exhausted quota.
func Critical(code llm.ErrorCode) bool {
	return code == llm.ErrorCodeAuthenticationFailed || code == llm.ErrorCodeQuotaExceeded
}

type alertKey struct {
	provider string
	code     llm.ErrorCode
}

// Desktop sends a desktop notification for critical failures, at most once per cooldown
// for each provider and code.
type Desktop struct {
	mu       sync.Mutex
	last     map[alertKey]time.Time
	cooldown time.Duration
	clock    clockwork.Clock
	send     SendFunc
	logger   zerolog.Logger
}

// Option configures a Desktop notifier.
type Option func(*Desktop)

// WithClock sets the clock used for cooldowns.
func WithClock(clock clockwork.Clock) Option {
	return func(d *Desktop) { d.clock = clock }
}

// WithSender replaces the beeep desktop notification.
func WithSender(send SendFunc) Option {
	return func(d *Desktop) { d.send = send }
}

// NewDesktop creates a notifier. A non-positive cooldown uses DefaultCooldown.
func NewDesktop(cooldown time.Duration, logger zerolog.Logger, opts ...Option) *Desktop {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	d := &Desktop{
		last:     make(map[alertKey]time.Time),
		cooldown: cooldown,
		clock:    clockwork.NewRealClock(),
		send: func(title, message string) error {
			return beeep.Notify(title, message, "")
		},
		logger: logger.With().Str("component", "desktopNotifier").Logger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Notify alerts about err if it is critical and no alert for the same provider and code
// went out within the cooldown. It reports whether a notification was sent.
func (d *Desktop) Notify(provider string, err *llm.Error) bool {
	if err == nil || !Critical(err.Code) {
		return false
	}

	key := alertKey{provider: provider, code: err.Code}
	now := d.clock.Now()

	d.mu.Lock()
	if last, ok := d.last[key]; ok && now.Sub(last) < d.cooldown {
		d.mu.Unlock()
		return false
	}
	d.last[key] = now
	d.mu.Unlock()

	title := "LLM provider needs attention"
	message := fmt.Sprintf("%s: %s", err.Code, err.Message)
	if provider != "" {
		title = fmt.Sprintf("%s needs attention", provider)
	}

	if sendErr := d.send(title, message); sendErr != nil {
		// Common causes: notification permissions not granted, or no notification daemon.
		d.logger.Warn().Err(sendErr).Str("provider", provider).Str("code", err.Code.String()).Msg("Failed to send desktop notification")
		return false
	}

	d.logger.Info().Str("provider", provider).Str("code", err.Code.String()).Msg("Desktop notification sent")
	return true
}
