// Package notify delivers best-effort pushes to connected panels.
package notify

import (
	"context"
	"sync"

	"github.com/gofrs/uuid/v5"
)

const defaultBuffer = 16

// Notifier pushes a payload to whoever is listening for userKey.
// Delivery is best effort; false means nobody took the payload.
type Notifier interface {
	Notify(ctx context.Context, userKey string, payload []byte) bool
}

// Session is one open push channel for a user key.
type Session struct {
	ID      uuid.UUID
	UserKey string

	ch chan []byte
}

// C returns the outbound payloads. It is closed when the session is closed.
func (s *Session) C() <-chan []byte { return s.ch }

// Hub is an in-process registry of push sessions keyed by user key.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]map[*Session]struct{}
	buffer   int
}

// NewHub constructs a Hub; buffer <= 0 uses a default per-session queue size.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Hub{sessions: map[string]map[*Session]struct{}{}, buffer: buffer}
}

// CreateSession registers a new push channel for userKey.
func (h *Hub) CreateSession(userKey string) (*Session, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	s := &Session{ID: id, UserKey: userKey, ch: make(chan []byte, h.buffer)}

	h.mu.Lock()
	set, ok := h.sessions[userKey]
	if !ok {
		set = map[*Session]struct{}{}
		h.sessions[userKey] = set
	}
	set[s] = struct{}{}
	h.mu.Unlock()
	return s, nil
}

// Close unregisters s and closes its channel. Closing twice is a no-op.
func (h *Hub) Close(s *Session) {
	if s == nil {
		return
	}
	h.mu.Lock()
	set := h.sessions[s.UserKey]
	_, exists := set[s]
	if exists {
		delete(set, s)
		if len(set) == 0 {
			delete(h.sessions, s.UserKey)
		}
	}
	h.mu.Unlock()
	if exists {
		close(s.ch)
	}
}

// Sessions reports how many sessions are open for userKey.
func (h *Hub) Sessions(userKey string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[userKey])
}

// Notify offers payload to every session of userKey without blocking.
// A session whose queue is full misses the payload.
func (h *Hub) Notify(ctx context.Context, userKey string, payload []byte) bool {
	if ctx.Err() != nil {
		return false
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	delivered := false
	for s := range h.sessions[userKey] {
		select {
		case s.ch <- payload:
			delivered = true
		default:
		}
	}
	return delivered
}
