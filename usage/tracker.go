package usage

import (
	"sync"
	"time"

	"github.com/aschepis/backscratcher/llmgate/llm"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

const (
	// DefaultMaxRecords is how many records survive a trim.
	DefaultMaxRecords = 10000
	// DefaultTrimThreshold is the record count above which a trim happens.
	DefaultTrimThreshold = 12000
	// DefaultWindow is the stats window used when no start time is given.
	DefaultWindow = 24 * time.Hour
)

// Record is one request outcome.
type Record struct {
	RequestID  string        `json:"request_id"`
	Provider   string        `json:"provider"`
	Model      string        `json:"model"`
	Timestamp  time.Time     `json:"timestamp"`
	TokenUsage llm.Usage     `json:"token_usage"`
	Duration   time.Duration `json:"duration"`
	Success    bool          `json:"success"`
	ErrorCode  llm.ErrorCode `json:"error_code,omitempty"`
}

// Options configures a Tracker. Zero values fall back to the defaults.
type Options struct {
	MaxRecords    int
	TrimThreshold int
	DefaultWindow time.Duration
	Clock         clockwork.Clock
}

// Tracker is an append-only, bounded in-memory ledger of request outcomes.
// It is safe for concurrent use.
type Tracker struct {
	mu      sync.RWMutex
	records []Record

	maxRecords    int
	trimThreshold int
	window        time.Duration
	clock         clockwork.Clock
	logger        zerolog.Logger
}

// NewTracker creates an empty tracker.
func NewTracker(opts Options, logger zerolog.Logger) *Tracker {
	t := &Tracker{
		maxRecords:    opts.MaxRecords,
		trimThreshold: opts.TrimThreshold,
		window:        opts.DefaultWindow,
		clock:         opts.Clock,
		logger:        logger.With().Str("component", "usageTracker").Logger(),
	}
	if t.maxRecords <= 0 {
		t.maxRecords = DefaultMaxRecords
	}
	if t.trimThreshold <= 0 {
		t.trimThreshold = DefaultTrimThreshold
		if opts.MaxRecords > 0 {
			t.trimThreshold = t.maxRecords + t.maxRecords/5
		}
	}
	if t.trimThreshold < t.maxRecords {
		t.trimThreshold = t.maxRecords
	}
	if t.window <= 0 {
		t.window = DefaultWindow
	}
	if t.clock == nil {
		t.clock = clockwork.NewRealClock()
	}
	return t
}

// Record appends the outcome of one request. errorCode is ignored for successes.
func (t *Tracker) Record(meta llm.RequestMetadata, success bool, errorCode llm.ErrorCode) {
	rec := Record{
		RequestID: meta.RequestID,
		Provider:  meta.Provider,
		Model:     meta.Model,
		Timestamp: t.clock.Now(),
		Duration:  meta.Duration,
		Success:   success,
	}
	if meta.TokenUsage != nil {
		rec.TokenUsage = *meta.TokenUsage
	}
	if !success {
		rec.ErrorCode = errorCode
		if rec.ErrorCode == "" {
			rec.ErrorCode = llm.ErrorCodeUnknown
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.records = append(t.records, rec)
	if len(t.records) > t.trimThreshold {
		dropped := len(t.records) - t.maxRecords
		kept := make([]Record, t.maxRecords)
		copy(kept, t.records[dropped:])
		t.records = kept
		t.logger.Debug().Int("dropped", dropped).Int("kept", t.maxRecords).Msg("Trimmed usage records")
	}
}

// Len returns the number of retained records.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.records)
}

// Export returns a copy of the records at or after since. A zero since uses the default
// window.
func (t *Tracker) Export(since time.Time) []Record {
	since = t.resolveSince(since)

	t.mu.RLock()
	defer t.mu.RUnlock()
	return lo.Filter(t.records, func(r Record, _ int) bool {
		return !r.Timestamp.Before(since)
	})
}

// Stats aggregates the records at or after since. A zero since uses the default window
// (24h unless configured otherwise).
func (t *Tracker) Stats(since time.Time) Stats {
	return Aggregate(t.Export(since))
}

func (t *Tracker) resolveSince(since time.Time) time.Time {
	if since.IsZero() {
		return t.clock.Now().Add(-t.window)
	}
	return since
}
