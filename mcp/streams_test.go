package mcp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpbus-io/mcpresume/storages/events"
	"github.com/mcpbus-io/mcpresume/storages/sessions"
)

func TestStreamDropsWhenFullAndUnattended(t *testing.T) {
	stream := newStream("s", STREAM_TYPE_REGULAR, "session", 1)
	ctx := context.Background()

	require.NoError(t, stream.Publish(ctx, &Message{EventId: "1"}))
	assert.ErrorIs(t, stream.Publish(ctx, &Message{EventId: "2"}), ErrStreamFull)

	got := <-stream.Messages()
	assert.Equal(t, "1", got.EventId)
}

func TestStreamWaitsForAttachedListener(t *testing.T) {
	stream := newStream("s", STREAM_TYPE_REGULAR, "session", 1)
	ctx := context.Background()
	require.NoError(t, stream.Attach())

	require.NoError(t, stream.Publish(ctx, &Message{EventId: "1"}))
	published := make(chan error, 1)
	go func() {
		published <- stream.Publish(ctx, &Message{EventId: "2"})
	}()

	select {
	case <-published:
		t.Fatal("publish did not wait for buffer space")
	case <-time.After(20 * time.Millisecond):
	}

	assert.Equal(t, "1", (<-stream.Messages()).EventId)
	require.NoError(t, <-published)
	assert.Equal(t, "2", (<-stream.Messages()).EventId)
}

func TestStreamStopsWaitingWhenListenerLeaves(t *testing.T) {
	stream := newStream("s", STREAM_TYPE_REGULAR, "session", 1)
	ctx := context.Background()
	require.NoError(t, stream.Attach())
	require.NoError(t, stream.Publish(ctx, &Message{EventId: "1"}))

	published := make(chan error, 1)
	go func() {
		published <- stream.Publish(ctx, &Message{EventId: "2"})
	}()
	time.Sleep(10 * time.Millisecond)
	stream.Detach()

	assert.ErrorIs(t, <-published, ErrStreamFull)
	assert.False(t, stream.Attached())
}

func TestStreamSingleListener(t *testing.T) {
	stream := newStream("s", STREAM_TYPE_STANDALONE, "session", 1)
	require.NoError(t, stream.Attach())
	assert.ErrorIs(t, stream.Attach(), ErrStreamBusy)
	stream.Detach()
	stream.Detach()
	assert.NoError(t, stream.Attach())
}

func TestStreamFinish(t *testing.T) {
	stream := newStream("s", STREAM_TYPE_REGULAR, "session", 4)
	require.NoError(t, stream.Publish(context.Background(), &Message{EventId: "1"}))
	stream.Finish()
	stream.Finish()

	assert.ErrorIs(t, stream.Publish(context.Background(), &Message{EventId: "2"}), ErrStreamFinished)
	<-stream.Finished()
	assert.Equal(t, "1", (<-stream.Messages()).EventId)
}

func TestTransportRecordsSentMessages(t *testing.T) {
	store := events.NewInMemory()
	closed := 0
	transport := newTransport("session", sessions.Hooks{
		Initialized: func() {},
		Closed:      func() { closed++ },
	}, store, 8)

	stream := transport.OpenStream()
	assert.True(t, transport.Owns(stream.Id))
	assert.Same(t, stream, transport.liveStream(stream.Id))

	ctx := context.Background()
	require.NoError(t, transport.Send(ctx, stream, map[string]string{"n": "1"}))
	require.NoError(t, transport.Send(ctx, stream, map[string]string{"n": "2"}))

	first := <-stream.Messages()
	second := <-stream.Messages()
	assert.Equal(t, stream.Id, events.StreamIdOf(first.EventId))
	assert.JSONEq(t, `{"n":"2"}`, string(second.Data))

	var replayed []string
	streamId, err := store.ReplayAfter(ctx, first.EventId, func(ctx context.Context, eventID string, payload []byte) error {
		replayed = append(replayed, eventID)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, stream.Id, streamId)
	assert.Equal(t, []string{second.EventId}, replayed)

	transport.finishStream(stream)
	assert.Nil(t, transport.liveStream(stream.Id))
	assert.True(t, transport.Owns(stream.Id))

	require.NoError(t, transport.Close())
	require.NoError(t, transport.Close())
	assert.Equal(t, 1, closed)
	<-transport.Done()
}

func TestTransportWithoutResume(t *testing.T) {
	transport := newTransport("session", sessions.Hooks{Initialized: func() {}, Closed: func() {}}, nil, 8)
	assert.False(t, transport.Resumable())

	standalone := transport.Standalone()
	assert.Equal(t, "session", standalone.Id)
	assert.Same(t, standalone, transport.Standalone())
	assert.True(t, transport.Owns("session"))

	require.NoError(t, transport.Send(context.Background(), standalone, "hello"))
	msg := <-standalone.Messages()
	assert.Empty(t, msg.EventId)
	assert.Equal(t, `"hello"`, string(msg.Data))

	require.NoError(t, transport.Close())
	<-standalone.Finished()
}

func TestIdleForIgnoresListenedSessions(t *testing.T) {
	transport := newTransport("session", sessions.Hooks{Initialized: func() {}, Closed: func() {}}, nil, 8)
	later := time.Now().Add(time.Hour)
	assert.Greater(t, transport.idleFor(later), 59*time.Minute)

	release := transport.listen()
	assert.Zero(t, transport.idleFor(later))
	release()
	assert.Greater(t, transport.idleFor(later), 59*time.Minute)
}

func TestAccepts(t *testing.T) {
	tests := []struct {
		header string
		want   bool
	}{
		{"application/json, text/event-stream", true},
		{"text/event-stream;q=0.9,application/json", true},
		{"application/json", false},
		{"", false},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodPost, "/mcp", nil)
		if tt.header != "" {
			r.Header.Set("Accept", tt.header)
		}
		assert.Equal(t, tt.want, accepts(r, jsonContentType, eventStreamContentType), tt.header)
	}
}
