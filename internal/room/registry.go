package room

import (
	"fmt"
	"sort"
	"sync"

	"github.com/Pranay-ai/tic-tac-toe-be/internal/conn"
)

// Registry maps session ids to live sessions.
//
// Lock order is registry then session: JoinOrCreate and Leave hold the
// registry lock while mutating the session so that a lookup-then-join can
// never race with the last participant's eviction.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	opts     []Option
}

// NewRegistry returns an empty registry; opts apply to every session it
// creates.
func NewRegistry(opts ...Option) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		opts:     opts,
	}
}

func (r *Registry) Create(id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[id]; exists {
		return nil, fmt.Errorf("create %s: %w", id, ErrSessionExists)
	}
	s := NewSession(id, r.opts...)
	r.sessions[id] = s
	return s, nil
}

func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	s, exists := r.sessions[id]
	r.mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("session %s: %w", id, ErrSessionNotFound)
	}
	return s, nil
}

// Remove is a no-op when the session is already gone.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}

// JoinOrCreate seats identity in session id. When the session does not exist
// it is created if create is true, otherwise ErrSessionNotFound is returned.
// A session created here and then rejected by Join is not left behind.
func (r *Registry) JoinOrCreate(id, identity string, handle conn.Handle, create bool) (*Session, JoinResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, exists := r.sessions[id]
	if !exists {
		if !create {
			return nil, JoinResult{}, fmt.Errorf("session %s: %w", id, ErrSessionNotFound)
		}
		s = NewSession(id, r.opts...)
	}
	res, err := s.Join(identity, handle)
	if err != nil {
		return nil, JoinResult{}, err
	}
	if !exists {
		r.sessions[id] = s
	}
	return s, res, nil
}

// Leave vacates identity's seat in session id, provided it is still bound to
// handleID, and evicts the session once nobody is left.
func (r *Registry) Leave(id, identity, handleID string) (LeaveResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leave(id, identity, func(h conn.Handle) bool {
		return handleID == "" || (h != nil && h.ID() == handleID)
	})
}

// LeaveDetached vacates identity's seat only if no connection has been
// bound to it since it was detached.
func (r *Registry) LeaveDetached(id, identity string) (LeaveResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leave(id, identity, func(h conn.Handle) bool { return h == nil })
}

// Detach unbinds identity's connection but keeps the seat, so the player can
// come back on another connection. It returns the number of seats in the
// session without a connection.
func (r *Registry) Detach(id, identity, handleID string) (int, error) {
	r.mu.RLock()
	s, exists := r.sessions[id]
	r.mu.RUnlock()
	if !exists {
		return 0, fmt.Errorf("session %s: %w", id, ErrSessionNotFound)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.detach(identity, handleID)
}

// leave runs under r.mu.
func (r *Registry) leave(id, identity string, bound func(conn.Handle) bool) (LeaveResult, error) {
	s, exists := r.sessions[id]
	if !exists {
		return LeaveResult{}, fmt.Errorf("session %s: %w", id, ErrSessionNotFound)
	}
	s.mu.Lock()
	res, err := s.leave(identity, bound)
	s.mu.Unlock()
	if err != nil {
		return LeaveResult{}, err
	}
	if res.Remaining == 0 {
		delete(r.sessions, id)
		res.Evicted = true
	}
	return res, nil
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// IDs returns the registered session ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}
