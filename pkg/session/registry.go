package session

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dpolat/pagelift/internal/observability"
)

// Session holds the control state for one run.
type Session struct {
	id string

	mu        sync.Mutex
	paused    bool
	cancelled bool
	gateOpen  bool
	gate      chan struct{} // closed while the gate is open
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// AwaitResume blocks while the session is paused. It returns immediately when
// the gate is open, and wakes on a concurrent Resume or Cancel. The context
// bounds the wait.
func (s *Session) AwaitResume(ctx context.Context) error {
	s.mu.Lock()
	gate := s.gate
	s.mu.Unlock()

	select {
	case <-gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancelled reports whether the session has been cancelled.
func (s *Session) Cancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

// Paused reports whether the session is paused.
func (s *Session) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// Registry tracks sessions by id and exposes the operator control surface.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty session registry.
func NewRegistry() *Registry {
	observability.EnsureRegistered()

	return &Registry{
		sessions: make(map[string]*Session),
	}
}

// Create initializes a session or returns the existing one. New sessions
// start unpaused with an open gate.
func (r *Registry) Create(id string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[id]; ok {
		return s
	}

	gate := make(chan struct{})
	close(gate)
	s := &Session{
		id:       id,
		gateOpen: true,
		gate:     gate,
	}
	r.sessions[id] = s

	log.Debug().Str("session", id).Msg("Session created")
	observability.SetActiveSessions(len(r.sessions))
	return s
}

// Get returns the session for id, if registered.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// List returns the registered session ids.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Pause closes the gate for a session. Unknown ids are no-ops.
func (r *Registry) Pause(id string) {
	s, ok := r.Get(id)
	if !ok {
		return
	}

	s.mu.Lock()
	s.paused = true
	if s.gateOpen {
		s.gateOpen = false
		s.gate = make(chan struct{})
	}
	s.mu.Unlock()

	log.Info().Str("session", id).Msg("Session paused")
	observability.RecordPause()
}

// Resume opens the gate for a session. Unknown ids are no-ops.
func (r *Registry) Resume(id string) {
	s, ok := r.Get(id)
	if !ok {
		return
	}

	s.mu.Lock()
	s.paused = false
	if !s.gateOpen {
		s.gateOpen = true
		close(s.gate)
	}
	s.mu.Unlock()

	log.Info().Str("session", id).Msg("Session resumed")
}

// Cancel marks a session cancelled and force-opens the gate so any waiter
// blocked on pause wakes up and observes the cancellation. Unknown ids are
// no-ops.
func (r *Registry) Cancel(id string) {
	s, ok := r.Get(id)
	if !ok {
		return
	}

	s.mu.Lock()
	s.cancelled = true
	if !s.gateOpen {
		s.gateOpen = true
		close(s.gate)
	}
	s.mu.Unlock()

	log.Info().Str("session", id).Msg("Session cancelled")
	observability.RecordCancel()
}

// IsCancelled reports whether the session exists and has been cancelled.
func (r *Registry) IsCancelled(id string) bool {
	s, ok := r.Get(id)
	return ok && s.Cancelled()
}

// IsPaused reports whether the session exists and is paused.
func (r *Registry) IsPaused(id string) bool {
	s, ok := r.Get(id)
	return ok && s.Paused()
}
