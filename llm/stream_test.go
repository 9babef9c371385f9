package llm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventStream_DeliversInOrder(t *testing.T) {
	stream := NewEventStream(func(emit func(*StreamEvent)) error {
		emit(&StreamEvent{Type: StreamEventTypeStart})
		emit(&StreamEvent{Type: StreamEventTypeContentDelta, Delta: &StreamDelta{Text: "a"}})
		emit(&StreamEvent{Type: StreamEventTypeStop, Done: true})
		return nil
	}, nil)

	assert.Nil(t, stream.Event(), "no event before Next")

	var types []StreamEventType
	for stream.Next() {
		types = append(types, stream.Event().Type)
	}
	require.NoError(t, stream.Err())
	assert.Equal(t, []StreamEventType{StreamEventTypeStart, StreamEventTypeContentDelta, StreamEventTypeStop}, types)
	assert.False(t, stream.Next())
	assert.NoError(t, stream.Close())
}

func TestEventStream_Error(t *testing.T) {
	boom := errors.New("connection reset")
	stream := NewEventStream(func(emit func(*StreamEvent)) error {
		return boom
	}, nil)

	for stream.Next() {
	}
	assert.ErrorIs(t, stream.Err(), boom)
}

func TestEventStream_BufferedEventsPrecedeError(t *testing.T) {
	stream := NewEventStream(func(emit func(*StreamEvent)) error {
		emit(&StreamEvent{Type: StreamEventTypeContentDelta, Delta: &StreamDelta{Text: "a"}})
		emit(&StreamEvent{Type: StreamEventTypeContentDelta, Delta: &StreamDelta{Text: "b"}})
		return errors.New("connection reset")
	}, nil)

	var text string
	for stream.Next() {
		text += stream.Event().Delta.Text
	}
	assert.Equal(t, "ab", text)
	assert.EqualError(t, stream.Err(), "connection reset")
}

func TestEventStream_CloseUnblocksAndCallsCloser(t *testing.T) {
	release := make(chan struct{})
	closed := false
	stream := NewEventStream(func(emit func(*StreamEvent)) error {
		<-release
		emit(&StreamEvent{Type: StreamEventTypeStart})
		return nil
	}, func() error {
		closed = true
		close(release)
		return nil
	})

	done := make(chan bool)
	go func() { done <- stream.Next() }()

	require.NoError(t, stream.Close())
	assert.False(t, <-done)
	assert.True(t, closed)
}
