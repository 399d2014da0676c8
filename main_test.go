package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpbus-io/mcpresume/config"
	"github.com/mcpbus-io/mcpresume/storages"
	"github.com/mcpbus-io/mcpresume/storages/events"
)

func appendAndReplay(t *testing.T, store events.Store) {
	t.Helper()
	ctx := context.Background()
	first, err := store.Append(ctx, "stream", []byte(`{"n":1}`))
	require.NoError(t, err)
	_, err = store.Append(ctx, "stream", []byte(`{"n":2}`))
	require.NoError(t, err)

	var payloads []string
	streamId, err := store.ReplayAfter(ctx, first, func(ctx context.Context, eventID string, payload []byte) error {
		payloads = append(payloads, string(payload))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "stream", streamId)
	assert.Equal(t, []string{`{"n":2}`}, payloads)
}

func TestOpenInMemoryStore(t *testing.T) {
	conf, err := config.LoadConfig(nil)
	require.NoError(t, err)

	store, shutdown, err := openEventStore(context.Background(), conf)
	require.NoError(t, err)
	defer shutdown()
	appendAndReplay(t, store)
}

func TestOpenSQLiteStore(t *testing.T) {
	dsn := "file:" + filepath.Join(t.TempDir(), "events.db") + "?_pragma=busy_timeout(5000)"
	conf, err := config.LoadConfig([]byte(`{
		"eventsStorage": {"type": "sql"},
		"database": {"driver": "sqlite", "dsn": "` + dsn + `", "maxOpenConns": 1}
	}`))
	require.NoError(t, err)

	store, shutdown, err := openEventStore(context.Background(), conf)
	require.NoError(t, err)
	appendAndReplay(t, store)

	require.NoError(t, shutdown())
	_, err = store.Append(context.Background(), "stream", []byte(`{}`))
	assert.True(t, storages.IsUnavailable(err))
}

func TestOpenRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	conf, err := config.LoadConfig([]byte(`{
		"eventsStorage": {"type": "redis"},
		"redis": {"addr": "` + mr.Addr() + `"}
	}`))
	require.NoError(t, err)

	store, shutdown, err := openEventStore(context.Background(), conf)
	require.NoError(t, err)
	defer shutdown()
	appendAndReplay(t, store)
}

func TestOpenStoreFailsWhenUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	conf, err := config.LoadConfig([]byte(`{
		"eventsStorage": {"type": "redis"},
		"redis": {"addr": "` + addr + `"}
	}`))
	require.NoError(t, err)

	_, _, err = openEventStore(context.Background(), conf)
	require.Error(t, err)
	assert.True(t, storages.IsUnavailable(err))
}

func TestMigrate(t *testing.T) {
	dsn := "file:" + filepath.Join(t.TempDir(), "events.db")
	conf, err := config.LoadConfig([]byte(`{
		"eventsStorage": {"type": "sql", "table": "migrated_events"},
		"database": {"driver": "sqlite", "dsn": "` + dsn + `"}
	}`))
	require.NoError(t, err)

	require.NoError(t, migrate(context.Background(), conf))
	// running it again is harmless
	require.NoError(t, migrate(context.Background(), conf))
}
