package gateway

import (
	"bytes"
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/aschepis/backscratcher/llmgate/llm"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateRequestID_Unique(t *testing.T) {
	// A frozen clock makes the counter the only thing separating ids.
	i := NewInterceptor(clockwork.NewFakeClock(), zerolog.Nop())

	var mu sync.Mutex
	seen := make(map[string]struct{})
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for n := 0; n < 250; n++ {
				id := i.GenerateRequestID()
				mu.Lock()
				seen[id] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 2000)
}

func TestGenerateRequestID_Format(t *testing.T) {
	clock := clockwork.NewFakeClock()
	i := NewInterceptor(clock, zerolog.Nop())

	parts := strings.Split(i.GenerateRequestID(), "_")
	require.Len(t, parts, 4)
	assert.Equal(t, "req", parts[0])
	assert.Equal(t, "1", parts[2])
	assert.Len(t, parts[3], 8)
}

func logLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var lines []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		lines = append(lines, entry)
	}
	return lines
}

func TestAfterRequest_LogLevels(t *testing.T) {
	var buf bytes.Buffer
	i := NewInterceptor(nil, zerolog.New(&buf))
	rc := &RequestContext{RequestID: "req_1", Provider: "openai", Model: "gpt-4o"}

	i.AfterRequest(rc, &Result{Success: true, Metadata: llm.RequestMetadata{RetryCount: 1}})
	i.AfterRequest(rc, &Result{Error: llm.NewError(llm.ErrorCodeRateLimited, "slow down", true, nil)})
	i.AfterRequest(rc, nil)

	lines := logLines(t, &buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "info", lines[0]["level"])
	assert.Equal(t, "req_1", lines[0]["requestID"])
	assert.Equal(t, "warn", lines[1]["level"])
	assert.Equal(t, "RATE_LIMITED", lines[1]["code"])
	assert.Equal(t, "requestInterceptor", lines[1]["component"])
}

func TestBeforeRequest_LogsContext(t *testing.T) {
	var buf bytes.Buffer
	i := NewInterceptor(nil, zerolog.New(&buf).Level(zerolog.DebugLevel))

	i.BeforeRequest(&RequestContext{
		RequestID: "req_2",
		Provider:  "ollama",
		Options:   Options{EstimatedTokens: 10, Context: map[string]any{"tenant": "acme"}},
	})

	lines := logLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, float64(10), lines[0]["estimatedTokens"])
	assert.Equal(t, map[string]any{"tenant": "acme"}, lines[0]["context"])
}
