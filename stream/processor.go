// Package stream tracks the lifecycle of a streamed provider response and fans its events
// out to caller-supplied callbacks.
package stream

import (
	"sync"
)

// State is the lifecycle position of a Processor.
type State string

const (
	StateIdle      State = "idle"
	StateStarted   State = "started"
	StateStreaming State = "streaming"
	StateCompleted State = "completed"
	StateErrored   State = "errored"
)

// Callbacks are invoked as the stream progresses. Any of them may be nil.
type Callbacks[T any] struct {
	OnStart    func()
	OnChunk    func(chunk T)
	OnEnd      func(full T)
	OnError    func(err error)
	OnMetadata func(meta map[string]any)
}

// Processor accumulates chunks and guarantees that exactly one of OnEnd or OnError fires
// per Start. Callbacks run outside the processor's lock, so they may call back into it.
type Processor[T any] struct {
	mu        sync.Mutex
	callbacks Callbacks[T]
	chunks    []T
	state     State
	terminal  bool
}

// NewProcessor creates an idle processor.
func NewProcessor[T any](callbacks Callbacks[T]) *Processor[T] {
	return &Processor[T]{
		callbacks: callbacks,
		state:     StateIdle,
	}
}

// Start resets the processor and fires OnStart.
func (p *Processor[T]) Start() {
	p.mu.Lock()
	p.chunks = nil
	p.terminal = false
	p.state = StateStarted
	cb := p.callbacks.OnStart
	p.mu.Unlock()

	if cb != nil {
		cb()
	}
}

// ProcessChunk records a chunk and fires OnChunk. It does nothing once the stream has
// completed or failed.
func (p *Processor[T]) ProcessChunk(chunk T) {
	p.mu.Lock()
	if p.terminal {
		p.mu.Unlock()
		return
	}
	p.chunks = append(p.chunks, chunk)
	p.state = StateStreaming
	cb := p.callbacks.OnChunk
	p.mu.Unlock()

	if cb != nil {
		cb(chunk)
	}
}

// Complete marks the stream finished and fires OnEnd with full. Later calls, and calls
// after HandleError, do nothing.
func (p *Processor[T]) Complete(full T) {
	if !p.finish(StateCompleted) {
		return
	}
	if cb := p.callbacks.OnEnd; cb != nil {
		cb(full)
	}
}

// HandleError marks the stream failed and fires OnError. Later calls, and calls after
// Complete, do nothing.
func (p *Processor[T]) HandleError(err error) {
	if !p.finish(StateErrored) {
		return
	}
	if cb := p.callbacks.OnError; cb != nil {
		cb(err)
	}
}

// EmitMetadata forwards meta to OnMetadata unless the stream is already finished.
func (p *Processor[T]) EmitMetadata(meta map[string]any) {
	p.mu.Lock()
	terminal := p.terminal
	cb := p.callbacks.OnMetadata
	p.mu.Unlock()

	if terminal || cb == nil {
		return
	}
	cb(meta)
}

// Chunks returns a copy of the chunks received since the last Start.
func (p *Processor[T]) Chunks() []T {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]T, len(p.chunks))
	copy(out, p.chunks)
	return out
}

// State reports the current lifecycle state.
func (p *Processor[T]) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Processor[T]) finish(state State) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.terminal {
		return false
	}
	p.terminal = true
	p.state = state
	return true
}
