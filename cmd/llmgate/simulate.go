package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/aschepis/backscratcher/llmgate/gateway"
	"github.com/aschepis/backscratcher/llmgate/llm"
	"github.com/aschepis/backscratcher/llmgate/stream"
	"github.com/jmorganca/ollama/api"
	openai "github.com/sashabaranov/go-openai"
	"github.com/samber/lo"
)

// simulatedClient is an llm.Client that fails with provider-shaped errors at a fixed rate.
type simulatedClient struct {
	provider    string
	failureRate float64
	latency     time.Duration
	rand        func() float64
}

func (c *simulatedClient) fault() error {
	if c.rand() >= c.failureRate {
		return nil
	}
	faults := []error{
		&openai.APIError{HTTPStatusCode: 429, Message: "Rate limit reached for requests"},
		api.StatusError{StatusCode: 503, ErrorMessage: "server overloaded"},
		fmt.Errorf("read response: %w", errors.New("connection reset by peer")),
		llm.NewStatusError(500, "internal error"),
		llm.NewStatusError(400, "malformed request"),
	}
	return faults[rand.Intn(len(faults))]
}

func (c *simulatedClient) wait(ctx context.Context) error {
	if c.latency <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(c.latency):
		return nil
	}
}

func (c *simulatedClient) Synchronous(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	if err := c.fault(); err != nil {
		return nil, err
	}
	input := int64(len(req.System))
	for _, m := range req.Messages {
		input += int64(len(m.Text))
	}
	return &llm.Response{
		Text:       "ok",
		Usage:      &llm.Usage{InputTokens: input, OutputTokens: req.MaxTokens / 4},
		StopReason: "end_turn",
	}, nil
}

func (c *simulatedClient) Stream(ctx context.Context, req *llm.Request) (llm.Stream, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	if err := c.fault(); err != nil {
		return nil, err
	}
	words := []string{"streamed ", "response ", "from ", c.provider}
	usage := &llm.Usage{InputTokens: int64(len(req.Messages)), OutputTokens: int64(len(words))}
	return llm.NewEventStream(func(emit func(*llm.StreamEvent)) error {
		emit(&llm.StreamEvent{Type: llm.StreamEventTypeStart})
		for _, w := range words {
			emit(&llm.StreamEvent{Type: llm.StreamEventTypeContentDelta, Delta: &llm.StreamDelta{Text: w}})
		}
		emit(&llm.StreamEvent{Type: llm.StreamEventTypeMessageDelta, Usage: usage})
		emit(&llm.StreamEvent{Type: llm.StreamEventTypeStop, Usage: usage, Done: true})
		return nil
	}, nil), nil
}

// streamedResponse is what a streaming operation hands back to the factory.
type streamedResponse struct {
	text  string
	usage *llm.Usage
}

func (r *streamedResponse) TokenUsage() *llm.Usage { return r.usage }

// simulation drives a load of generated requests through a factory.
type simulation struct {
	factory  *gateway.Factory
	clients  map[string]llm.Client
	models   map[string]string // empty means the client's default model
	requests int
	workers  int
	// every streamEvery-th request streams instead of calling Synchronous
	streamEvery int
}

func (s *simulation) run(ctx context.Context) {
	providers := lo.Keys(s.clients)
	if len(providers) == 0 || s.requests <= 0 {
		return
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < max(s.workers, 1); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				provider := providers[i%len(providers)]
				s.one(ctx, i, provider)
			}
		}()
	}

	for i := 0; i < s.requests; i++ {
		select {
		case jobs <- i:
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return
		}
	}
	close(jobs)
	wg.Wait()
}

func (s *simulation) one(ctx context.Context, i int, provider string) {
	client := s.clients[provider]
	req := &llm.Request{
		Model:     s.models[provider],
		Messages:  []llm.Message{llm.NewTextMessage(llm.RoleUser, fmt.Sprintf("request %d", i))},
		MaxTokens: 128,
	}
	opts := gateway.Options{
		Priority:        i % (gateway.MaxPriority + 1),
		EstimatedTokens: int(req.MaxTokens),
		Context:         map[string]any{"sequence": i},
	}

	if s.streamEvery > 0 && i%s.streamEvery == 0 {
		s.factory.Execute(ctx, provider, req.Model, func(ctx context.Context) (any, error) {
			st, err := client.Stream(ctx, req)
			if err != nil {
				return nil, err
			}
			resp := &streamedResponse{}
			p := s.factory.CreateStreamProcessor(stream.Callbacks[string]{
				OnMetadata: func(meta map[string]any) {
					in, _ := meta["input_tokens"].(int64)
					out, _ := meta["output_tokens"].(int64)
					resp.usage = &llm.Usage{InputTokens: in, OutputTokens: out}
				},
			})
			text, err := stream.Pump(ctx, st, p, provider)
			if err != nil {
				return nil, err
			}
			resp.text = text
			return resp, nil
		}, opts)
		return
	}

	gateway.Synchronous(ctx, s.factory, provider, client, req, opts)
}
