package stream

import (
	"context"
	"strings"

	"github.com/aschepis/backscratcher/llmgate/llm"
)

// Pump drains s into p: text deltas become chunks, usage becomes metadata, a stream error
// becomes a classified HandleError and a clean end becomes Complete with the concatenated
// text. Pump closes s and returns the full text or the classified error. Cancelling ctx
// closes s, which unblocks a stalled Next.
func Pump(ctx context.Context, s llm.Stream, p *Processor[string], provider string) (string, error) {
	defer func() { _ = s.Close() }()
	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()

	p.Start()

	var full strings.Builder
	stopped := false
	for s.Next() {
		if err := ctx.Err(); err != nil {
			classified := llm.Canceled(err)
			p.HandleError(classified)
			return "", classified
		}

		event := s.Event()
		if event == nil {
			continue
		}

		switch event.Type {
		case llm.StreamEventTypeContentDelta:
			if event.Delta != nil && event.Delta.Text != "" {
				full.WriteString(event.Delta.Text)
				p.ProcessChunk(event.Delta.Text)
			}
		case llm.StreamEventTypeMessageDelta:
			if event.Usage != nil {
				p.EmitMetadata(map[string]any{
					"input_tokens":  event.Usage.InputTokens,
					"output_tokens": event.Usage.OutputTokens,
				})
			}
		}

		if event.Type == llm.StreamEventTypeStop || event.Done {
			stopped = true
			break
		}
	}

	if err := ctx.Err(); err != nil && !stopped {
		classified := llm.Canceled(err)
		p.HandleError(classified)
		return "", classified
	}

	if err := s.Err(); err != nil {
		classified := llm.Classify(err, provider)
		p.HandleError(classified)
		return "", classified
	}

	p.Complete(full.String())
	return full.String(), nil
}
