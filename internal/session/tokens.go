// ABOUTME: Fixed-capacity table mapping resumption tokens to session ids.
// ABOUTME: Oldest-first eviction under pressure; losing a token only costs resumability.

package session

import (
	"container/list"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

// TokenLength is the resumption token length: 32 lowercase hex characters
// from 16 bytes of cryptographically secure randomness.
const TokenLength = 32

// GenerateToken produces a new resumption token. A randomness failure is
// returned to the caller and must abort the handshake; it is never
// downgraded to a weaker source.
func GenerateToken() (string, error) {
	var buf [TokenLength / 2]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("generating session token: %w", err)
	}
	return hex.EncodeToString(buf[:]), nil
}

type tokenEntry struct {
	token     string
	sessionID uint32
	createdAt time.Time
	element   *list.Element
}

// TokenTable maps resumption tokens to session ids. Capacity-bounded:
// inserting into a full table silently evicts the entry with the oldest
// createdAt. Registration order is kept in a list so eviction is O(1).
type TokenTable struct {
	mu       sync.Mutex
	entries  map[string]*tokenEntry
	order    *list.List // tokens in registration order, oldest at front
	capacity int
	ttl      time.Duration // zero disables age-based expiry
}

// NewTokenTable creates a table with the given capacity. ttl of zero means
// tokens never expire by age, only by eviction.
func NewTokenTable(capacity int, ttl time.Duration) *TokenTable {
	if capacity <= 0 {
		capacity = 16
	}
	return &TokenTable{
		entries:  make(map[string]*tokenEntry),
		order:    list.New(),
		capacity: capacity,
		ttl:      ttl,
	}
}

// Register inserts a token->session mapping, or refreshes createdAt if the
// token is already present. A full table evicts its oldest entry.
func (t *TokenTable) Register(token string, sessionID uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if e, ok := t.entries[token]; ok {
		e.sessionID = sessionID
		e.createdAt = time.Now()
		t.order.MoveToBack(e.element)
		return
	}

	if len(t.entries) >= t.capacity {
		t.evictOldestLocked()
	}

	e := &tokenEntry{
		token:     token,
		sessionID: sessionID,
		createdAt: time.Now(),
	}
	e.element = t.order.PushBack(token)
	t.entries[token] = e
}

// Lookup resolves a token to its session id. Expired entries (when a ttl
// is configured) are dropped lazily here.
func (t *TokenTable) Lookup(token string) (uint32, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[token]
	if !ok {
		return 0, false
	}
	if t.ttl > 0 && time.Since(e.createdAt) > t.ttl {
		t.order.Remove(e.element)
		delete(t.entries, token)
		return 0, false
	}
	return e.sessionID, true
}

// DropSession removes every token mapped to a destroyed session so stale
// tokens cannot resolve to a recycled id.
func (t *TokenTable) DropSession(sessionID uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for token, e := range t.entries {
		if e.sessionID == sessionID {
			t.order.Remove(e.element)
			delete(t.entries, token)
		}
	}
}

// Len reports the number of registered tokens.
func (t *TokenTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// evictOldestLocked removes the entry with the smallest createdAt. Must be
// called with mu held. Registration order tracks createdAt because Register
// refreshes move entries to the back.
func (t *TokenTable) evictOldestLocked() {
	front := t.order.Front()
	if front == nil {
		return
	}
	token := front.Value.(string)
	t.order.Remove(front)
	delete(t.entries, token)
}
