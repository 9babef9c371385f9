package llm

import (
	"sync"
)

// ProduceFunc feeds events into an EventStream. It runs on its own goroutine and returns
// the terminal stream error, if any.
type ProduceFunc func(emit func(*StreamEvent)) error

// EventStream adapts a push-style provider stream to the pull-style Stream interface.
// Events are buffered until the consumer reads them.
type EventStream struct {
	produce ProduceFunc
	closer  func() error

	mu      sync.Mutex
	cond    *sync.Cond // signalled on every new event and on completion
	events  []*StreamEvent
	current int
	err     error
	done    bool
	started bool
}

// NewEventStream returns a stream that starts produce on the first call to Next.
// closer, if non-nil, is invoked by Close to abort the underlying transport.
func NewEventStream(produce ProduceFunc, closer func() error) *EventStream {
	s := &EventStream{
		produce: produce,
		closer:  closer,
		current: -1,
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Next advances to the next event in the stream.
func (s *EventStream) Next() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		s.started = true
		go s.run()
	}

	s.current++
	for s.current >= len(s.events) && !s.done {
		s.cond.Wait()
	}

	// Buffered events are delivered before a producer error is reported through Err.
	return s.current < len(s.events)
}

// Event returns the current event.
func (s *EventStream) Event() *StreamEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current < 0 || s.current >= len(s.events) {
		return nil
	}
	return s.events[s.current]
}

// Err returns any error that occurred during streaming.
func (s *EventStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close closes the stream and releases resources.
func (s *EventStream) Close() error {
	s.mu.Lock()
	s.done = true
	s.cond.Broadcast()
	s.mu.Unlock()

	if s.closer != nil {
		return s.closer()
	}
	return nil
}

func (s *EventStream) run() {
	err := s.produce(s.emit)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil && s.err == nil {
		s.err = err
	}
	s.done = true
	s.cond.Broadcast()
}

func (s *EventStream) emit(event *StreamEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	s.events = append(s.events, event)
	s.cond.Broadcast()
}
