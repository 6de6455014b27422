// ABOUTME: Registry owning all sessions: create, lookup, refcount, reclaim.
// ABOUTME: Sessions are destroyed only when removed and their refcount reaches zero.

package session

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrSessionNotFound indicates no live session exists for the given id.
var ErrSessionNotFound = errors.New("session not found")

// Registry owns every session in the process.
type Registry struct {
	mu       sync.Mutex
	sessions map[uint32]*Session
	nextID   uint32
	logger   *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		sessions: make(map[uint32]*Session),
		logger:   logger.With("component", "session"),
	}
}

// Create allocates a new session seeded with the system prompt. The caller
// holds one reference and must Release it.
func (r *Registry) Create(systemPrompt string) *Session {
	r.mu.Lock()
	r.nextID++
	s := &Session{
		ID:         r.nextID,
		Key:        uuid.New().String(),
		refs:       1,
		lastActive: time.Now(),
	}
	if systemPrompt != "" {
		s.history = append(s.history, Message{Role: "system", Content: systemPrompt})
	}
	r.sessions[s.ID] = s
	total := len(r.sessions)
	r.mu.Unlock()

	r.logger.Info("session created", "session_id", s.ID, "total_sessions", total)
	return s
}

// Get returns a retained reference to a connected session, or
// ErrSessionNotFound if the session does not exist or is disconnected.
// Disconnected sessions are only reachable via GetForReconnect so that
// dying sessions cannot acquire new work.
func (r *Registry) Get(id uint32) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok || s.Disconnected() {
		return nil, ErrSessionNotFound
	}
	s.mu.Lock()
	s.refs++
	s.mu.Unlock()
	return s, nil
}

// GetForReconnect returns a retained reference even when the session is
// disconnected, for token-based resume. The caller clears the disconnected
// flag after reattaching.
func (r *Registry) GetForReconnect(id uint32) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	s.mu.Lock()
	s.refs++
	s.mu.Unlock()
	return s, nil
}

// Peek returns the session without retaining it. Dispatch-loop use only:
// the caller must not hold the pointer past the current drain step.
func (r *Registry) Peek(id uint32) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[id]
}

// Retain adds a reference for a worker taking shared ownership.
func (r *Registry) Retain(s *Session) {
	s.mu.Lock()
	s.refs++
	s.mu.Unlock()
}

// Release drops one reference. The session is destroyed when it has been
// removed from the registry and the last reference is gone.
func (r *Registry) Release(s *Session) {
	s.mu.Lock()
	s.refs--
	refs := s.refs
	removed := s.removed
	s.mu.Unlock()

	if refs < 0 {
		r.logger.Error("session reference count underflow", "session_id", s.ID)
		return
	}
	if refs == 0 && removed {
		r.mu.Lock()
		delete(r.sessions, s.ID)
		r.mu.Unlock()
		r.logger.Info("session destroyed", "session_id", s.ID)
	}
}

// MarkDisconnected raises the cooperative-cancel signal on a session.
// Idempotent; safe for sessions that no longer exist.
func (r *Registry) MarkDisconnected(id uint32) {
	r.mu.Lock()
	s := r.sessions[id]
	r.mu.Unlock()
	if s != nil {
		s.disconnected.Store(true)
	}
}

// Remove marks a session for destruction once all references are gone.
func (r *Registry) Remove(id uint32) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	r.mu.Unlock()
	if !ok {
		return
	}

	s.mu.Lock()
	s.removed = true
	refs := s.refs
	s.mu.Unlock()

	if refs == 0 {
		r.mu.Lock()
		delete(r.sessions, s.ID)
		r.mu.Unlock()
		r.logger.Info("session destroyed", "session_id", s.ID)
	}
}

// Sweep removes disconnected sessions idle for longer than maxIdle and
// returns their ids, so the caller can drop their resume tokens. Sessions
// with live references are marked and reclaimed on their final Release.
func (r *Registry) Sweep(maxIdle time.Duration) []uint32 {
	cutoff := time.Now().Add(-maxIdle)

	r.mu.Lock()
	var stale []uint32
	for id, s := range r.sessions {
		if s.Disconnected() && s.LastActive().Before(cutoff) {
			stale = append(stale, id)
		}
	}
	r.mu.Unlock()

	for _, id := range stale {
		r.Remove(id)
	}
	if len(stale) > 0 {
		r.logger.Info("swept stale sessions", "count", len(stale))
	}
	return stale
}

// Count reports the number of sessions currently registered.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
