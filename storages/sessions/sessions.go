// Package sessions tracks the live MCP sessions of this process. Each entry
// binds a session id to the transport serving it.
//
// An entry becomes visible to Resolve only after its transport reports that
// initialization finished, and disappears when the transport reports that it
// closed. Nothing else removes entries, and a closed id is never registered again.
package sessions

import (
	"github.com/mcpbus-io/mcpresume/storages"

	"github.com/cockroachdb/errors"
)

var (
	ErrSessionNotFound = errors.Mark(errors.New("session not found"), storages.ErrNotFound)
)

// Transport is the per-session object the registry owns.
type Transport interface {
	SessionID() string
	Close() error
}

// Hooks are handed to a new transport so it can report its lifecycle.
// Both are safe to call more than once and from any goroutine.
type Hooks struct {
	// Initialized moves the session from Uninitialized to Active and registers it.
	Initialized func()
	// Closed moves the session to Closed and deregisters it.
	Closed func()
}

// Factory builds the transport for a freshly allocated session id.
type Factory[T Transport] func(sessionId string, hooks Hooks) (T, error)

type State int

const (
	StateUninitialized State = iota
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}
