// ABOUTME: Session object: client identity and conversation state independent of any connection.
// ABOUTME: Reference-counted; shared between the dispatch loop and worker goroutines.

package session

import (
	"sync"
	"sync/atomic"
	"time"
)

// Message is one conversation turn held in the session's in-memory history.
type Message struct {
	Role    string
	Content string
}

// Sink is the transport attachment point. A session is attached to at most
// one sink at a time; attaching a new one detaches the previous.
type Sink interface {
	// SessionDetached tells a superseded sink its session was taken over.
	SessionDetached()
}

// Session is a logical client identity. It outlives the transport
// connection: a disconnected session stays resumable until its token is
// evicted or the registry reclaims it.
type Session struct {
	ID uint32

	// Key is a stable identifier for transcript persistence. Unlike ID it
	// survives across process restarts in stored records.
	Key string

	disconnected atomic.Bool
	cancelled    atomic.Bool

	mu         sync.Mutex
	refs       int
	removed    bool
	sink       Sink
	history    []Message
	lastActive time.Time

	// Streaming bookkeeping. The active flag gates server-side delta
	// delivery; the id exists for client-side bookkeeping only.
	streamMu        sync.Mutex
	streamingActive bool
	currentStreamID uint32
}

// Disconnected reports the cooperative-cancel signal set on transport
// close. Workers poll this at stage boundaries.
func (s *Session) Disconnected() bool {
	return s.disconnected.Load()
}

// ClearDisconnected revives a session on token-based resume, before the
// new connection attaches.
func (s *Session) ClearDisconnected() {
	s.disconnected.Store(false)
}

// Cancelled reports whether the client requested cancellation of in-flight
// work. Cleared when the next request is accepted.
func (s *Session) Cancelled() bool {
	return s.cancelled.Load()
}

// Cancel sets the cancel flag for in-flight workers.
func (s *Session) Cancel() {
	s.cancelled.Store(true)
}

// ClearCancel resets the cancel flag before a new request starts.
func (s *Session) ClearCancel() {
	s.cancelled.Store(false)
}

// Superseded reports whether a worker should abandon further publication:
// the client disconnected or cancelled since the work was queued.
func (s *Session) Superseded() bool {
	return s.disconnected.Load() || s.cancelled.Load()
}

// Attach binds the session to a sink, detaching any previous one first.
func (s *Session) Attach(sink Sink) {
	s.mu.Lock()
	prev := s.sink
	s.sink = sink
	s.mu.Unlock()

	if prev != nil && prev != sink {
		prev.SessionDetached()
	}
}

// Detach clears the sink if it is still the given one. A stale detach from
// a superseded connection must not clobber the new attachment.
func (s *Session) Detach(sink Sink) {
	s.mu.Lock()
	if s.sink == sink {
		s.sink = nil
	}
	s.mu.Unlock()
}

// AttachedSink returns the current sink, or nil when detached.
func (s *Session) AttachedSink() Sink {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sink
}

// AppendMessage records a conversation turn.
func (s *Session) AppendMessage(role, content string) {
	s.mu.Lock()
	s.history = append(s.history, Message{Role: role, Content: content})
	s.lastActive = time.Now()
	s.mu.Unlock()
}

// History returns a copy of the conversation so far, including any system
// prompt. Callers that replay to a client must filter system messages.
func (s *Session) History() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.history))
	copy(out, s.history)
	return out
}

// Touch refreshes the activity timestamp.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActive = time.Now()
	s.mu.Unlock()
}

// LastActive returns the last activity timestamp.
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// StartStream advances the stream id, marks streaming active, and returns
// the new id.
func (s *Session) StartStream() uint32 {
	s.streamMu.Lock()
	defer s.streamMu.Unlock()
	s.currentStreamID++
	s.streamingActive = true
	return s.currentStreamID
}

// DeltaStream returns the current stream id and whether deltas should be
// delivered. When the flag is down the caller discards the text.
func (s *Session) DeltaStream() (uint32, bool) {
	s.streamMu.Lock()
	defer s.streamMu.Unlock()
	return s.currentStreamID, s.streamingActive
}

// EndStream marks streaming inactive and returns the id being closed.
func (s *Session) EndStream() uint32 {
	s.streamMu.Lock()
	defer s.streamMu.Unlock()
	s.streamingActive = false
	return s.currentStreamID
}
