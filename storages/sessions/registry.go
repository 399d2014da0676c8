package sessions

import (
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/mcpbus-io/mcpresume/utils"
)

type entry[T Transport] struct {
	mu        sync.Mutex
	state     State
	transport T
	built     bool // transport returned by the factory
}

type Registry[T Transport] struct {
	mu       sync.RWMutex
	sessions map[string]*entry[T]
	newId    func() string
}

func NewRegistry[T Transport]() *Registry[T] {
	return &Registry[T]{
		sessions: make(map[string]*entry[T]),
		newId:    utils.NewSessionId,
	}
}

// Resolve returns the transport of an active session.
func (r *Registry[T]) Resolve(sessionId string) (T, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, exists := r.sessions[sessionId]
	if !exists {
		var zero T
		return zero, ErrSessionNotFound
	}
	return e.transport, nil
}

// Create allocates a session id and builds its transport. The session is not
// resolvable until the transport calls hooks.Initialized.
func (r *Registry[T]) Create(factory Factory[T]) (string, T, error) {
	sessionId := r.newId()
	e := &entry[T]{state: StateUninitialized}

	hooks := Hooks{
		Initialized: func() { r.activate(sessionId, e) },
		Closed:      func() { r.deactivate(sessionId, e) },
	}

	transport, err := factory(sessionId, hooks)
	if err != nil {
		var zero T
		return "", zero, err
	}

	e.mu.Lock()
	e.transport = transport
	e.built = true
	if e.state == StateActive {
		// initialized from inside the factory
		r.insert(sessionId, e)
	}
	e.mu.Unlock()

	return sessionId, transport, nil
}

func (r *Registry[T]) activate(sessionId string, e *entry[T]) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateUninitialized {
		return
	}
	e.state = StateActive
	if e.built {
		r.insert(sessionId, e)
	}
}

func (r *Registry[T]) insert(sessionId string, e *entry[T]) {
	r.mu.Lock()
	r.sessions[sessionId] = e
	r.mu.Unlock()

	log.WithField("session_id", sessionId).Info("Session registered")
}

func (r *Registry[T]) deactivate(sessionId string, e *entry[T]) {
	e.mu.Lock()
	defer e.mu.Unlock()
	previous := e.state
	if previous == StateClosed {
		return
	}
	e.state = StateClosed

	if previous == StateActive && e.built {
		r.remove(sessionId)
		log.WithField("session_id", sessionId).Info("Session closed")
	}
}

// remove is the close observer's deregistration. It is a no-op for unknown ids.
func (r *Registry[T]) remove(sessionId string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sessionId)
}

func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Snapshot returns the transports of all active sessions.
func (r *Registry[T]) Snapshot() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]T, 0, len(r.sessions))
	for _, e := range r.sessions {
		out = append(out, e.transport)
	}
	return out
}

// CloseAll closes every active transport. Each close deregisters its session
// through the Closed hook.
func (r *Registry[T]) CloseAll() {
	for _, transport := range r.Snapshot() {
		if err := transport.Close(); err != nil {
			log.WithError(err).WithField("session_id", transport.SessionID()).Error("Failed to close session")
		}
	}
}
