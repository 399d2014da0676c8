package sessions

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpbus-io/mcpresume/storages"
)

type fakeTransport struct {
	id     string
	hooks  Hooks
	closes atomic.Int32
}

func (f *fakeTransport) SessionID() string { return f.id }

func (f *fakeTransport) Close() error {
	f.closes.Add(1)
	f.hooks.Closed()
	return nil
}

func newFake(sessionId string, hooks Hooks) (*fakeTransport, error) {
	return &fakeTransport{id: sessionId, hooks: hooks}, nil
}

func TestCreateRegistersOnlyAfterInitialization(t *testing.T) {
	r := NewRegistry[*fakeTransport]()

	id, transport, err := r.Create(newFake)
	require.NoError(t, err)
	assert.Equal(t, id, transport.SessionID())

	_, err = r.Resolve(id)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.True(t, errors.Is(err, storages.ErrNotFound))

	transport.hooks.Initialized()
	got, err := r.Resolve(id)
	require.NoError(t, err)
	assert.Same(t, transport, got)
	assert.Equal(t, 1, r.Len())
}

func TestInitializedInsideFactory(t *testing.T) {
	r := NewRegistry[*fakeTransport]()

	id, transport, err := r.Create(func(sessionId string, hooks Hooks) (*fakeTransport, error) {
		hooks.Initialized()
		return newFake(sessionId, hooks)
	})
	require.NoError(t, err)

	got, err := r.Resolve(id)
	require.NoError(t, err)
	assert.Same(t, transport, got)
}

func TestFactoryFailureRegistersNothing(t *testing.T) {
	r := NewRegistry[*fakeTransport]()
	boom := errors.New("boom")

	_, _, err := r.Create(func(sessionId string, hooks Hooks) (*fakeTransport, error) {
		hooks.Initialized()
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, r.Len())
}

func TestCloseDeregistersExactlyOnce(t *testing.T) {
	r := NewRegistry[*fakeTransport]()
	id, transport, err := r.Create(newFake)
	require.NoError(t, err)
	transport.hooks.Initialized()

	require.NoError(t, transport.Close())
	_, err = r.Resolve(id)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	// second notification is a no-op
	require.NoError(t, transport.Close())
	assert.Equal(t, 0, r.Len())

	// a closed session cannot be resurrected
	transport.hooks.Initialized()
	_, err = r.Resolve(id)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestCloseBeforeInitialization(t *testing.T) {
	r := NewRegistry[*fakeTransport]()
	id, transport, err := r.Create(newFake)
	require.NoError(t, err)

	transport.hooks.Closed()
	transport.hooks.Initialized()

	_, err = r.Resolve(id)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRemoveIsIdempotent(t *testing.T) {
	r := NewRegistry[*fakeTransport]()
	r.remove("missing")
	r.remove("missing")
	assert.Equal(t, 0, r.Len())
}

func TestConcurrentCreateYieldsDistinctSessions(t *testing.T) {
	r := NewRegistry[*fakeTransport]()

	const n = 64
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, transport, err := r.Create(newFake)
			assert.NoError(t, err)
			transport.hooks.Initialized()
			ids[i] = id
		}(i)
	}
	wg.Wait()

	seen := map[string]bool{}
	for _, id := range ids {
		assert.False(t, seen[id])
		seen[id] = true
		got, err := r.Resolve(id)
		require.NoError(t, err)
		assert.Equal(t, id, got.SessionID())
	}
	assert.Equal(t, n, r.Len())
}

func TestCloseAll(t *testing.T) {
	r := NewRegistry[*fakeTransport]()
	var transports []*fakeTransport
	for i := 0; i < 3; i++ {
		_, transport, err := r.Create(newFake)
		require.NoError(t, err)
		transport.hooks.Initialized()
		transports = append(transports, transport)
	}

	r.CloseAll()

	assert.Equal(t, 0, r.Len())
	assert.Empty(t, r.Snapshot())
	for _, transport := range transports {
		assert.EqualValues(t, 1, transport.closes.Load())
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "uninitialized", StateUninitialized.String())
	assert.Equal(t, "active", StateActive.String())
	assert.Equal(t, "closed", StateClosed.String())
}
