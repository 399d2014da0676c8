package events_test

import (
	"context"
	"encoding/base64"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpbus-io/mcpresume/storages"
	"github.com/mcpbus-io/mcpresume/storages/events"
	"github.com/mcpbus-io/mcpresume/storages/events/eventstest"
	"github.com/mcpbus-io/mcpresume/storages/pool"
)

func newRedisStore(t *testing.T) (*events.Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	p := pool.NewRedis(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = p.Shutdown() })
	return events.NewRedisStorage(p, events.WithRedisPageSize(2)), mr
}

func TestRedisStore(t *testing.T) {
	eventstest.RunStoreTests(t, func(t *testing.T) events.Store {
		store, _ := newRedisStore(t)
		return store
	})
}

func TestRedisStoreKeysEncodeStreamIds(t *testing.T) {
	store, mr := newRedisStore(t)

	streamId := "session/with:odd chars"
	_, err := store.Append(context.Background(), streamId, []byte("x"))
	require.NoError(t, err)

	keys := mr.Keys()
	require.Len(t, keys, 1)
	assert.Equal(t, "streams:"+base64.RawURLEncoding.EncodeToString([]byte(streamId)), keys[0])
}

func TestRedisStoreUnavailable(t *testing.T) {
	store, mr := newRedisStore(t)
	_, err := store.Append(context.Background(), "s", []byte("a"))
	require.NoError(t, err)

	mr.Close()

	_, err = store.Append(context.Background(), "s", []byte("b"))
	require.Error(t, err)
	assert.True(t, storages.IsUnavailable(err))
}
