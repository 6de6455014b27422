// ABOUTME: Bounded multi-producer/single-consumer queue for outbound responses.
// ABOUTME: Workers enqueue from any goroutine; only the dispatch loop drains.

package queue

import (
	"log/slog"
	"sync"

	ring "github.com/eapache/queue"

	"github.com/lantern-ai/lantern-gateway/internal/wire"
)

// Sink is one transport write target. It is resolved per entry at drain
// time so that entries for dead or detached sessions can be dropped.
type Sink interface {
	WriteFrame(f wire.Frame) error
}

// Queue is a bounded FIFO of outbound responses. Enqueue is safe from any
// goroutine and never blocks beyond a short mutex hold; when the queue is
// at capacity the oldest entry is dropped so the newest is always accepted.
// DrainOne must only be called from the dispatch loop.
type Queue struct {
	mu       sync.Mutex
	entries  *ring.Queue
	capacity int
	notify   chan struct{}
	logger   *slog.Logger
}

// New creates a queue with the given capacity.
func New(capacity int, logger *slog.Logger) *Queue {
	if capacity <= 0 {
		capacity = 512
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		entries:  ring.New(),
		capacity: capacity,
		notify:   make(chan struct{}, 1),
		logger:   logger.With("component", "queue"),
	}
}

// Enqueue appends a response and pokes the dispatch loop. At capacity the
// oldest entry is evicted with a warning; the new entry is always accepted.
func (q *Queue) Enqueue(r wire.Response) {
	q.mu.Lock()
	if q.entries.Length() >= q.capacity {
		dropped := q.entries.Remove().(wire.Response)
		q.logger.Warn("response queue full, dropping oldest entry",
			"capacity", q.capacity,
			"dropped_session", dropped.TargetSession(),
		)
	}
	q.entries.Add(r)
	q.mu.Unlock()

	q.Poke()
}

// Poke wakes the dispatch loop without enqueueing. Non-blocking; a pending
// wakeup is sufficient.
func (q *Queue) Poke() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Notify returns the wakeup channel the dispatch loop waits on.
func (q *Queue) Notify() <-chan struct{} {
	return q.notify
}

// Len reports the number of pending entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.entries.Length()
}

// DrainOne pops at most one entry and performs at most one transport
// write. Entries whose session no longer resolves to an attached sink are
// dropped silently. Write failures are logged but never close the
// connection here; close decisions belong to the connection lifecycle.
// Returns true if entries remain, so the caller can schedule another pass.
func (q *Queue) DrainOne(resolve func(sessionID uint32) Sink) bool {
	q.mu.Lock()
	if q.entries.Length() == 0 {
		q.mu.Unlock()
		return false
	}
	entry := q.entries.Remove().(wire.Response)
	more := q.entries.Length() > 0
	q.mu.Unlock()

	sink := resolve(entry.TargetSession())
	if sink == nil {
		return more
	}

	frame, err := wire.Encode(entry)
	if err != nil {
		q.logger.Error("failed to encode response", "error", err, "session", entry.TargetSession())
		return more
	}

	if err := sink.WriteFrame(frame); err != nil {
		q.logger.Warn("transport write failed",
			"error", err,
			"session", entry.TargetSession(),
		)
	}
	return more
}
