// Package pool supervises one shared, lazily established connection handle
// (a *sql.DB or a *redis.Client) per backing store.
//
// The handle is created on the first Acquire, dropped when a fault is detected
// so the next Acquire reconnects, and closed exactly once on Shutdown. Once a
// Manager is shut down Acquire fails with ErrPoolClosed; it never reconnects.
package pool

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"io"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	log "github.com/sirupsen/logrus"

	"github.com/mcpbus-io/mcpresume/storages"
)

var ErrPoolClosed = errors.New("pool is shut down")

// Opener establishes a new handle. It must return a handle that answered a ping.
type Opener[H comparable] func(ctx context.Context) (H, error)

// Driver knows how to check and release a handle of type H.
type Driver[H comparable] struct {
	Name  string
	Ping  func(ctx context.Context, h H) error
	Close func(h H) error
}

type Manager[H comparable] struct {
	open           Opener[H]
	driver         Driver[H]
	healthInterval time.Duration

	mu      sync.Mutex
	handle  H
	present bool
	closed  bool
	stop    chan struct{} // stops the supervisor of the current handle
}

type Option func(*options)

type options struct {
	healthInterval time.Duration
}

// WithHealthCheck pings the live handle every interval; a failed ping invalidates it.
// A zero interval disables the supervisor.
func WithHealthCheck(interval time.Duration) Option {
	return func(o *options) {
		o.healthInterval = interval
	}
}

func New[H comparable](open Opener[H], drv Driver[H], opts ...Option) *Manager[H] {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	return &Manager[H]{
		open:           open,
		driver:         drv,
		healthInterval: o.healthInterval,
	}
}

// Acquire returns the shared handle, opening it on first use. Concurrent first
// callers wait on the same mutex, so only one handle is ever opened at a time.
func (m *Manager[H]) Acquire(ctx context.Context) (H, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var zero H
	if m.closed {
		return zero, storages.Unavailable(ErrPoolClosed, m.driver.Name)
	}
	if m.present {
		return m.handle, nil
	}

	h, err := m.open(ctx)
	if err != nil {
		return zero, storages.Unavailable(err, "connect "+m.driver.Name)
	}
	m.handle = h
	m.present = true

	if m.healthInterval > 0 && m.driver.Ping != nil {
		m.stop = make(chan struct{})
		go m.supervise(h, m.stop)
	}

	log.WithField("pool", m.driver.Name).Info("Connection pool established")
	return h, nil
}

// Invalidate drops h if it is still the cached handle and closes it. Stale
// invalidations (h was already replaced) are ignored.
func (m *Manager[H]) Invalidate(h H) {
	m.mu.Lock()
	if !m.present || m.handle != h {
		m.mu.Unlock()
		return
	}
	m.reset()
	m.mu.Unlock()

	log.WithField("pool", m.driver.Name).Warn("Connection pool invalidated, next use reconnects")
	m.release(h)
}

// Report classifies an error returned by an operation on h. Connection-level
// faults invalidate h and come back marked as storages.ErrStorageUnavailable;
// any other error is returned unchanged.
func (m *Manager[H]) Report(h H, err error) error {
	if err == nil || !IsConnectionError(err) {
		return err
	}
	m.Invalidate(h)
	return storages.Unavailable(err, m.driver.Name+" connection lost")
}

// Shutdown closes the handle if open. It is idempotent.
func (m *Manager[H]) Shutdown() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	h, present := m.handle, m.present
	m.reset()
	m.mu.Unlock()

	if !present {
		return nil
	}
	log.WithField("pool", m.driver.Name).Info("Closing connection pool")
	return m.release(h)
}

// reset must be called with mu held.
func (m *Manager[H]) reset() {
	var zero H
	m.handle = zero
	m.present = false
	if m.stop != nil {
		close(m.stop)
		m.stop = nil
	}
}

func (m *Manager[H]) release(h H) error {
	if m.driver.Close == nil {
		return nil
	}
	if err := m.driver.Close(h); err != nil {
		log.WithError(err).WithField("pool", m.driver.Name).Warn("Failed to close connection pool")
		return err
	}
	return nil
}

func (m *Manager[H]) supervise(h H, stop <-chan struct{}) {
	ticker := time.NewTicker(m.healthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), m.healthInterval)
			err := m.driver.Ping(ctx, h)
			cancel()
			if err != nil {
				log.WithError(err).WithField("pool", m.driver.Name).Error("Connection pool health check failed")
				m.Invalidate(h)
				return
			}
		}
	}
}

// IsConnectionError reports whether err means the connection itself is broken,
// as opposed to the store rejecting a statement.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
