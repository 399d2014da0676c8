package events_test

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpbus-io/mcpresume/storages"
	"github.com/mcpbus-io/mcpresume/storages/events"
	"github.com/mcpbus-io/mcpresume/storages/events/eventstest"
	"github.com/mcpbus-io/mcpresume/storages/pool"
)

func newSQLiteStore(t *testing.T, opts ...events.SQLOption) (*events.SQL, *pool.Manager[*sql.DB]) {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "events.db") + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	p := pool.NewSQL(pool.DriverSQLite, dsn, pool.Limits{MaxOpenConns: 1})
	t.Cleanup(func() { _ = p.Shutdown() })

	store, err := events.NewSQLStorage(p, pool.DriverSQLite, "", opts...)
	require.NoError(t, err)
	require.NoError(t, store.EnsureSchema(context.Background()))
	return store, p
}

func TestSQLiteStore(t *testing.T) {
	eventstest.RunStoreTests(t, func(t *testing.T) events.Store {
		// a small page forces replay across several pages
		store, _ := newSQLiteStore(t, events.WithSQLPageSize(2))
		return store
	})
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("MCP_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("MCP_TEST_POSTGRES_DSN is not set")
	}

	eventstest.RunStoreTests(t, func(t *testing.T) events.Store {
		p := pool.NewSQL(pool.DriverPostgres, dsn, pool.Limits{MaxOpenConns: 4})
		t.Cleanup(func() { _ = p.Shutdown() })

		table := fmt.Sprintf("mcp_events_test_%d", time.Now().UnixNano())
		store, err := events.NewSQLStorage(p, pool.DriverPostgres, table, events.WithSQLPageSize(2))
		require.NoError(t, err)
		require.NoError(t, store.EnsureSchema(context.Background()))
		t.Cleanup(func() {
			if db, err := p.Acquire(context.Background()); err == nil {
				_, _ = db.Exec("DROP TABLE " + table)
			}
		})
		return store
	})
}

func TestSQLStoreOrdersBySequenceNotClock(t *testing.T) {
	// a clock that goes backwards must not reorder the stream
	clock := []time.Time{
		time.UnixMilli(5000),
		time.UnixMilli(3000),
		time.UnixMilli(3000),
		time.UnixMilli(1000),
	}
	tick := 0
	store, _ := newSQLiteStore(t, events.WithClock(func() time.Time {
		now := clock[tick]
		tick++
		return now
	}))

	ctx := context.Background()
	var ids []string
	for _, p := range []string{"a", "b", "c", "d"} {
		id, err := store.Append(ctx, "s", []byte(p))
		require.NoError(t, err)
		ids = append(ids, id)
	}

	var got []string
	_, err := store.ReplayAfter(ctx, ids[0], func(ctx context.Context, eventID string, payload []byte) error {
		got = append(got, string(payload))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c", "d"}, got)

	parsed, err := events.ParseEventId(ids[1])
	require.NoError(t, err)
	assert.Equal(t, int64(3000), parsed.CreatedAt.UnixMilli())
}

func TestSQLStoreAfterShutdownIsUnavailable(t *testing.T) {
	store, p := newSQLiteStore(t)
	require.NoError(t, p.Shutdown())

	_, err := store.Append(context.Background(), "s", []byte("x"))
	require.Error(t, err)
	assert.True(t, storages.IsUnavailable(err))

	_, err = store.ReplayAfter(context.Background(), events.NewEventId("s", time.Now()), func(context.Context, string, []byte) error {
		return nil
	})
	assert.True(t, storages.IsUnavailable(err))
}

func TestNewSQLStorageValidatesInput(t *testing.T) {
	p := pool.NewSQL(pool.DriverSQLite, filepath.Join(t.TempDir(), "x.db"), pool.Limits{})
	defer p.Shutdown()

	_, err := events.NewSQLStorage(p, pool.DriverSQLite, "events; DROP TABLE users")
	assert.Error(t, err)

	_, err = events.NewSQLStorage(p, "mysql", "")
	assert.Error(t, err)
}
