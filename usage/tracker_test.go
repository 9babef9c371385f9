package usage

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/aschepis/backscratcher/llmgate/llm"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func meta(provider, model string, in, out int64, d time.Duration) llm.RequestMetadata {
	return llm.RequestMetadata{
		RequestID:  fmt.Sprintf("req_%s_%s", provider, model),
		Provider:   provider,
		Model:      model,
		Duration:   d,
		TokenUsage: &llm.Usage{InputTokens: in, OutputTokens: out},
	}
}

func TestTracker_Stats(t *testing.T) {
	clock := clockwork.NewFakeClock()
	tr := NewTracker(Options{Clock: clock}, zerolog.Nop())

	tr.Record(meta("openai", "gpt-4o", 10, 5, 100*time.Millisecond), true, "")
	tr.Record(meta("openai", "gpt-4o", 20, 0, 300*time.Millisecond), false, llm.ErrorCodeRateLimited)
	tr.Record(meta("anthropic", "claude", 1, 1, 200*time.Millisecond), false, llm.ErrorCodeNetworkError)
	tr.Record(llm.RequestMetadata{Provider: "anthropic", Model: "claude"}, true, "")

	stats := tr.Stats(time.Time{})
	assert.Equal(t, 4, stats.TotalRequests)
	assert.Equal(t, 2, stats.SuccessfulRequests)
	assert.Equal(t, 2, stats.FailedRequests)
	assert.Equal(t, int64(37), stats.TotalTokens)
	assert.Equal(t, 150*time.Millisecond, stats.AverageDuration)

	assert.Equal(t, ProviderStats{Requests: 2, Tokens: 35, Errors: 1}, stats.ByProvider["openai"])
	assert.Equal(t, ProviderStats{Requests: 2, Tokens: 2, Errors: 1}, stats.ByProvider["anthropic"])
	assert.Equal(t, ModelStats{Requests: 2, Tokens: 35}, stats.ByModel["gpt-4o"])
	assert.Equal(t, map[llm.ErrorCode]int{
		llm.ErrorCodeRateLimited:  1,
		llm.ErrorCodeNetworkError: 1,
	}, stats.ByErrorCode)
}

func TestTracker_Empty(t *testing.T) {
	tr := NewTracker(Options{}, zerolog.Nop())
	stats := tr.Stats(time.Time{})
	assert.Zero(t, stats.TotalRequests)
	assert.Zero(t, stats.AverageDuration)
	assert.NotNil(t, stats.ByProvider)
	assert.Empty(t, tr.Export(time.Time{}))
}

func TestTracker_FailureWithoutCode(t *testing.T) {
	tr := NewTracker(Options{}, zerolog.Nop())
	tr.Record(llm.RequestMetadata{Provider: "p"}, false, "")
	assert.Equal(t, 1, tr.Stats(time.Time{}).ByErrorCode[llm.ErrorCodeUnknown])
}

func TestTracker_DefaultWindow(t *testing.T) {
	clock := clockwork.NewFakeClock()
	tr := NewTracker(Options{Clock: clock}, zerolog.Nop())

	tr.Record(meta("old", "m", 1, 0, 0), true, "")
	clock.Advance(25 * time.Hour)
	tr.Record(meta("new", "m", 1, 0, 0), true, "")

	stats := tr.Stats(time.Time{})
	assert.Equal(t, 1, stats.TotalRequests)
	assert.Contains(t, stats.ByProvider, "new")

	all := tr.Stats(clock.Now().Add(-48 * time.Hour))
	assert.Equal(t, 2, all.TotalRequests)

	custom := NewTracker(Options{Clock: clock, DefaultWindow: time.Hour}, zerolog.Nop())
	custom.Record(meta("p", "m", 0, 0, 0), true, "")
	clock.Advance(2 * time.Hour)
	assert.Zero(t, custom.Stats(time.Time{}).TotalRequests)
}

func TestTracker_StatsAccountForEveryRecord(t *testing.T) {
	tr := NewTracker(Options{}, zerolog.Nop())
	providers := []string{"openai", "anthropic", "ollama"}

	for i := 0; i < 90; i++ {
		success := i%4 != 0
		code := llm.ErrorCode("")
		if !success {
			code = llm.Codes()[i%len(llm.Codes())]
		}
		tr.Record(meta(providers[i%3], "m", 1, 1, time.Millisecond), success, code)
	}

	stats := tr.Stats(time.Time{})
	assert.Equal(t, stats.TotalRequests, stats.SuccessfulRequests+stats.FailedRequests)

	var providerSum, errorSum, codeSum int
	for _, p := range stats.ByProvider {
		providerSum += p.Requests
		errorSum += p.Errors
	}
	for _, n := range stats.ByErrorCode {
		codeSum += n
	}
	assert.Equal(t, stats.TotalRequests, providerSum)
	assert.Equal(t, stats.FailedRequests, errorSum)
	assert.Equal(t, stats.FailedRequests, codeSum)
}

func TestTracker_Trim(t *testing.T) {
	tr := NewTracker(Options{MaxRecords: 10, TrimThreshold: 12}, zerolog.Nop())

	for i := 0; i < 12; i++ {
		tr.Record(llm.RequestMetadata{RequestID: fmt.Sprint(i)}, true, "")
	}
	assert.Equal(t, 12, tr.Len(), "no trim at the threshold")

	tr.Record(llm.RequestMetadata{RequestID: "12"}, true, "")
	require.Equal(t, 10, tr.Len())

	records := tr.Export(time.Time{})
	assert.Equal(t, "3", records[0].RequestID, "oldest records are dropped first")
	assert.Equal(t, "12", records[len(records)-1].RequestID)
}

func TestTracker_DefaultLimits(t *testing.T) {
	tr := NewTracker(Options{}, zerolog.Nop())
	assert.Equal(t, DefaultMaxRecords, tr.maxRecords)
	assert.Equal(t, DefaultTrimThreshold, tr.trimThreshold)

	tr = NewTracker(Options{MaxRecords: 100}, zerolog.Nop())
	assert.Equal(t, 120, tr.trimThreshold)
}

func TestTracker_ExportIsACopy(t *testing.T) {
	tr := NewTracker(Options{}, zerolog.Nop())
	tr.Record(llm.RequestMetadata{RequestID: "a"}, true, "")

	records := tr.Export(time.Time{})
	records[0].RequestID = "mutated"
	assert.Equal(t, "a", tr.Export(time.Time{})[0].RequestID)
}

func TestTracker_ConcurrentRecord(t *testing.T) {
	tr := NewTracker(Options{}, zerolog.Nop())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				tr.Record(meta("p", "m", 1, 0, 0), true, "")
				_ = tr.Stats(time.Time{})
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1000, tr.Len())
}
