// Package eventstest is a conformance suite for events.Store implementations.
// Backends call RunStoreTests from their own tests with a constructor that
// returns a fresh, schema-ready store.
package eventstest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpbus-io/mcpresume/storages"
	"github.com/mcpbus-io/mcpresume/storages/events"
)

type delivered struct {
	ID      string
	Payload string
}

type recorder struct {
	mu     sync.Mutex
	events []delivered
}

func (r *recorder) deliver(ctx context.Context, eventID string, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, delivered{ID: eventID, Payload: string(payload)})
	return nil
}

func (r *recorder) payloads() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Payload)
	}
	return out
}

func appendAll(t *testing.T, store events.Store, streamId string, payloads ...string) []string {
	t.Helper()
	ids := make([]string, 0, len(payloads))
	for _, p := range payloads {
		id, err := store.Append(context.Background(), streamId, []byte(p))
		require.NoError(t, err)
		ids = append(ids, id)
	}
	return ids
}

// RunStoreTests runs the shared behaviour checks. newStore is called once per subtest.
func RunStoreTests(t *testing.T, newStore func(t *testing.T) events.Store) {
	t.Run("replays the rest of one stream in order", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		e1 := appendAll(t, store, "s1", "A")[0]
		e2 := appendAll(t, store, "s1", "B")[0]
		appendAll(t, store, "s2", "X")
		e3b := appendAll(t, store, "s1", "C")[0]

		rec := &recorder{}
		streamId, err := store.ReplayAfter(ctx, e1, rec.deliver)
		require.NoError(t, err)
		assert.Equal(t, "s1", streamId)
		assert.Equal(t, []delivered{{ID: e2, Payload: "B"}, {ID: e3b, Payload: "C"}}, rec.events)
	})

	t.Run("replay after each position delivers exactly the suffix", func(t *testing.T) {
		store := newStore(t)
		payloads := []string{"m1", "m2", "m3", "m4", "m5", "m6", "m7"}
		ids := appendAll(t, store, "stream", payloads...)
		appendAll(t, store, "other", "o1", "o2")

		for k := range ids {
			rec := &recorder{}
			streamId, err := store.ReplayAfter(context.Background(), ids[k], rec.deliver)
			require.NoError(t, err)
			assert.Equal(t, "stream", streamId)
			assert.Equal(t, payloads[k+1:], rec.payloads(), "after m%d", k+1)
			for i, e := range rec.events {
				assert.Equal(t, ids[k+1+i], e.ID)
			}
		}
	})

	t.Run("empty or unparseable id is a no-op", func(t *testing.T) {
		store := newStore(t)
		appendAll(t, store, "s1", "A", "B")

		for _, lastEventId := range []string{"", "garbage", "a.b", "!!!.1.x", "czE.notanumber.x"} {
			rec := &recorder{}
			streamId, err := store.ReplayAfter(context.Background(), lastEventId, rec.deliver)
			assert.NoError(t, err, lastEventId)
			assert.Empty(t, streamId, lastEventId)
			assert.Empty(t, rec.events, lastEventId)
		}
	})

	t.Run("well formed unknown id returns empty result", func(t *testing.T) {
		store := newStore(t)
		appendAll(t, store, "s1", "A", "B")

		unknown := []string{
			events.NewEventId("s1", time.Now()),
			events.EventId{StreamID: "s1", CreatedAt: time.UnixMilli(1), Suffix: "0"}.String(),
			events.NewEventId("never-written", time.Now()),
		}
		for _, lastEventId := range unknown {
			rec := &recorder{}
			streamId, err := store.ReplayAfter(context.Background(), lastEventId, rec.deliver)
			assert.NoError(t, err, lastEventId)
			assert.Empty(t, streamId, lastEventId)
			assert.Empty(t, rec.events, lastEventId)
		}
	})

	t.Run("event id of one stream does not resolve in another", func(t *testing.T) {
		store := newStore(t)
		// b is written first and holds fewer events, so no backend numbering
		// entries per stream can give a's last event an id that exists in b
		appendAll(t, store, "b", "b1")
		a := appendAll(t, store, "a", "a1", "a2", "a3", "a4")

		id, err := events.ParseEventId(a[len(a)-1])
		require.NoError(t, err)
		id.StreamID = "b"

		rec := &recorder{}
		streamId, err := store.ReplayAfter(context.Background(), id.String(), rec.deliver)
		require.NoError(t, err)
		assert.Empty(t, streamId)
		assert.Empty(t, rec.events)
	})

	t.Run("payloads round trip unmodified", func(t *testing.T) {
		store := newStore(t)
		payloads := []string{
			`{"jsonrpc":"2.0","method":"notifications/message","params":{"data":"héllo\nwörld"}}`,
			"",
			"line one\r\nline two\x00tail",
			string([]byte{0xff, 0xfe, 0x00, 0x01}),
			`%7B%22escaped%22%3Atrue%7D`,
		}
		ids := appendAll(t, store, "roundtrip", append([]string{"first"}, payloads...)...)

		rec := &recorder{}
		_, err := store.ReplayAfter(context.Background(), ids[0], rec.deliver)
		require.NoError(t, err)
		assert.Equal(t, payloads, rec.payloads())
	})

	t.Run("stream ids may contain separators", func(t *testing.T) {
		store := newStore(t)
		streamIds := []string{"with.dots.in.it", "colon:and_underscore", "slash/and spaces", "line\nbreak"}
		for _, streamId := range streamIds {
			ids := appendAll(t, store, streamId, "one", "two")
			rec := &recorder{}
			got, err := store.ReplayAfter(context.Background(), ids[0], rec.deliver)
			require.NoError(t, err)
			assert.Equal(t, streamId, got)
			assert.Equal(t, []string{"two"}, rec.payloads())
		}
	})

	t.Run("empty stream id is rejected", func(t *testing.T) {
		store := newStore(t)
		_, err := store.Append(context.Background(), "", []byte("x"))
		require.Error(t, err)
		assert.True(t, storages.IsPersistence(err))
	})

	t.Run("unreadable event is skipped", func(t *testing.T) {
		store := newStore(t)
		ids := appendAll(t, store, "s", "start", `{"ok":1}`, `{broken`, `{"ok":2}`)

		var got []string
		streamId, err := store.ReplayAfter(context.Background(), ids[0], func(ctx context.Context, eventID string, payload []byte) error {
			if !json.Valid(payload) {
				return storages.DataIntegrity(nil, "payload is not JSON")
			}
			got = append(got, string(payload))
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, "s", streamId)
		assert.Equal(t, []string{`{"ok":1}`, `{"ok":2}`}, got)
	})

	t.Run("delivery failure aborts replay", func(t *testing.T) {
		store := newStore(t)
		ids := appendAll(t, store, "s", "start", "one", "two", "three")

		boom := errors.New("client went away")
		calls := 0
		_, err := store.ReplayAfter(context.Background(), ids[0], func(ctx context.Context, eventID string, payload []byte) error {
			calls++
			if calls == 2 {
				return boom
			}
			return nil
		})
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, 2, calls)
	})

	t.Run("cancellation stops delivery", func(t *testing.T) {
		store := newStore(t)
		ids := appendAll(t, store, "s", "start", "one", "two", "three")

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		calls := 0
		_, err := store.ReplayAfter(ctx, ids[0], func(ctx context.Context, eventID string, payload []byte) error {
			calls++
			cancel()
			return nil
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)

		// the log is untouched and can be replayed again
		rec := &recorder{}
		_, err = store.ReplayAfter(context.Background(), ids[0], rec.deliver)
		require.NoError(t, err)
		assert.Equal(t, []string{"one", "two", "three"}, rec.payloads())
	})

	t.Run("concurrent appends get distinct ids", func(t *testing.T) {
		store := newStore(t)
		first := appendAll(t, store, "burst", "first")[0]

		const writers, perWriter = 4, 5
		ids := make(chan string, writers*perWriter)
		var wg sync.WaitGroup
		for w := 0; w < writers; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				for i := 0; i < perWriter; i++ {
					id, err := store.Append(context.Background(), "burst", []byte(fmt.Sprintf("w%d-%d", w, i)))
					assert.NoError(t, err)
					ids <- id
				}
			}(w)
		}
		wg.Wait()
		close(ids)

		seen := map[string]bool{first: true}
		for id := range ids {
			assert.False(t, seen[id], "duplicate id %s", id)
			seen[id] = true
		}

		rec := &recorder{}
		_, err := store.ReplayAfter(context.Background(), first, rec.deliver)
		require.NoError(t, err)
		assert.Len(t, rec.events, writers*perWriter)

		// each writer's own messages come back in the order it wrote them
		next := make([]int, writers)
		for _, p := range rec.payloads() {
			var w, i int
			_, err := fmt.Sscanf(p, "w%d-%d", &w, &i)
			require.NoError(t, err)
			assert.Equal(t, next[w], i)
			next[w]++
		}
	})

	t.Run("ensure schema is idempotent", func(t *testing.T) {
		store := newStore(t)
		var wg sync.WaitGroup
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.NoError(t, store.EnsureSchema(context.Background()))
			}()
		}
		wg.Wait()

		ids := appendAll(t, store, "s", "a", "b")
		require.NoError(t, store.EnsureSchema(context.Background()))
		rec := &recorder{}
		_, err := store.ReplayAfter(context.Background(), ids[0], rec.deliver)
		require.NoError(t, err)
		assert.Equal(t, []string{"b"}, rec.payloads())
	})
}
