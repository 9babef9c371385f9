package llm

import (
	"time"
)

// Provider keys with built-in status extraction. Any other string is a valid provider key.
const (
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"
	ProviderOpenAI    = "openai"
)

// MessageRole represents the role of a message in a conversation.
type MessageRole string

// RoleUser marks a message written by the caller.
const RoleUser MessageRole = "user"

// Message is a single text message in a conversation.
type Message struct {
	Role MessageRole
	Text string
}

// Request is the provider-neutral request handed to a Client.
type Request struct {
	Model       string
	Messages    []Message
	System      string
	MaxTokens   int64
	Temperature *float64 // Optional temperature override
}

// Response is the provider-neutral response returned by a Client.
type Response struct {
	Text       string
	Usage      *Usage
	StopReason string
}

// TokenUsage implements UsageReporter.
func (r *Response) TokenUsage() *Usage {
	if r == nil {
		return nil
	}
	return r.Usage
}

// Usage represents token usage information from an LLM response.
type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// Total returns input plus output tokens.
func (u *Usage) Total() int64 {
	if u == nil {
		return 0
	}
	return u.InputTokens + u.OutputTokens
}

// UsageReporter is implemented by operation results that know their token usage.
type UsageReporter interface {
	TokenUsage() *Usage
}

// RequestMetadata describes one execution of an operation. Duration is set exactly once,
// together with EndTime.
type RequestMetadata struct {
	RequestID  string        `json:"request_id"`
	StartTime  time.Time     `json:"start_time"`
	EndTime    time.Time     `json:"end_time,omitempty"`
	Duration   time.Duration `json:"duration"`
	RetryCount int           `json:"retry_count"`
	Provider   string        `json:"provider"`
	Model      string        `json:"model"`
	TokenUsage *Usage        `json:"token_usage,omitempty"`
}

// Finish stamps EndTime and Duration. Calls after the first are ignored.
func (m *RequestMetadata) Finish(end time.Time) {
	if !m.EndTime.IsZero() {
		return
	}
	m.EndTime = end
	m.Duration = end.Sub(m.StartTime)
}

// StreamDelta represents a single delta in a streaming response.
type StreamDelta struct {
	Text string
}

// StreamEventType represents the type of streaming event.
type StreamEventType string

const (
	StreamEventTypeStart        StreamEventType = "start"
	StreamEventTypeContentDelta StreamEventType = "content_delta"
	StreamEventTypeMessageDelta StreamEventType = "message_delta"
	StreamEventTypeStop         StreamEventType = "stop"
)

// StreamEvent represents a complete streaming event.
type StreamEvent struct {
	Type  StreamEventType
	Delta *StreamDelta
	Usage *Usage
	Done  bool
}

// NewTextMessage creates a new message with text content.
func NewTextMessage(role MessageRole, text string) Message {
	return Message{Role: role, Text: text}
}
