// ABOUTME: Tests for the bounded response queue.
// ABOUTME: Validates FIFO order, drop-oldest overflow, dead-sink drops, and the poke channel.

package queue

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lantern-ai/lantern-gateway/internal/wire"
)

// captureSink records every frame written to it.
type captureSink struct {
	mu     sync.Mutex
	frames []wire.Frame
	err    error
}

func (s *captureSink) WriteFrame(f wire.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.frames = append(s.frames, f)
	return nil
}

func (s *captureSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

func resolveTo(sink Sink) func(uint32) Sink {
	return func(uint32) Sink { return sink }
}

func TestQueue_FIFOPerSession(t *testing.T) {
	q := New(16, nil)
	sink := &captureSink{}

	for i := 0; i < 5; i++ {
		q.Enqueue(wire.NewTranscript(1, "assistant", fmt.Sprintf("line-%d", i)))
	}

	for q.DrainOne(resolveTo(sink)) {
	}

	require.Len(t, sink.frames, 5)
	for i, f := range sink.frames {
		assert.Contains(t, string(f.Data), fmt.Sprintf("line-%d", i))
	}
}

func TestQueue_OverflowKeepsNewest(t *testing.T) {
	q := New(4, nil)

	for i := 0; i < 7; i++ {
		q.Enqueue(wire.NewTranscript(1, "assistant", fmt.Sprintf("line-%d", i)))
	}
	assert.Equal(t, 4, q.Len())

	sink := &captureSink{}
	for q.DrainOne(resolveTo(sink)) {
	}

	// Oldest three dropped, last four delivered in order.
	require.Len(t, sink.frames, 4)
	for i, f := range sink.frames {
		assert.Contains(t, string(f.Data), fmt.Sprintf("line-%d", i+3))
	}
}

func TestQueue_DeadSinkDropsSilently(t *testing.T) {
	q := New(16, nil)
	q.Enqueue(wire.NewState(9, "idle", ""))
	q.Enqueue(wire.NewState(9, "idle", ""))

	more := q.DrainOne(func(uint32) Sink { return nil })
	assert.True(t, more)
	more = q.DrainOne(func(uint32) Sink { return nil })
	assert.False(t, more)
	assert.Equal(t, 0, q.Len())

	// Idempotent: draining an empty queue is a no-op.
	assert.False(t, q.DrainOne(func(uint32) Sink { return nil }))
}

func TestQueue_WriteFailureDoesNotLoseRemaining(t *testing.T) {
	q := New(16, nil)
	q.Enqueue(wire.NewState(1, "idle", ""))
	q.Enqueue(wire.NewState(1, "idle", ""))

	failing := &captureSink{err: errors.New("broken pipe")}
	more := q.DrainOne(resolveTo(failing))
	assert.True(t, more)

	ok := &captureSink{}
	more = q.DrainOne(resolveTo(ok))
	assert.False(t, more)
	assert.Equal(t, 1, ok.count())
}

func TestQueue_EnqueuePokes(t *testing.T) {
	q := New(16, nil)
	q.Enqueue(wire.NewState(1, "idle", ""))

	select {
	case <-q.Notify():
	default:
		t.Fatal("expected a pending wakeup after enqueue")
	}
}

func TestQueue_ConcurrentProducers(t *testing.T) {
	q := New(1024, nil)
	var wg sync.WaitGroup
	for p := 0; p < 8; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				q.Enqueue(wire.NewState(uint32(p), "idle", ""))
			}
		}(p)
	}
	wg.Wait()

	assert.Equal(t, 400, q.Len())

	sink := &captureSink{}
	for q.DrainOne(resolveTo(sink)) {
	}
	assert.Equal(t, 400, sink.count())
}
