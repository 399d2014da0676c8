package mcp

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	log "github.com/sirupsen/logrus"

	"github.com/mcpbus-io/mcpresume/storages/events"
	"github.com/mcpbus-io/mcpresume/storages/sessions"
	"github.com/mcpbus-io/mcpresume/utils"
)

// Transport serves one MCP session: it owns the session's streams, records
// outgoing messages in the event log and reports its lifecycle to the registry.
type Transport struct {
	id         string
	hooks      sessions.Hooks
	events     events.Store // nil when stream resumption is off
	bufferSize uint

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	mu          sync.Mutex
	streams     map[string]*Stream
	owned       map[string]struct{}
	standalone  *Stream
	client      *clientInfo
	clientReady bool

	lastSeen  atomic.Int64
	listeners atomic.Int32
}

func newTransport(sessionId string, hooks sessions.Hooks, store events.Store, bufferSize uint) *Transport {
	ctx, cancel := context.WithCancel(context.Background())
	t := &Transport{
		id:         sessionId,
		hooks:      hooks,
		events:     store,
		bufferSize: bufferSize,
		ctx:        ctx,
		cancel:     cancel,
		streams:    make(map[string]*Stream),
		owned:      make(map[string]struct{}),
	}
	t.touch()
	return t
}

func (t *Transport) SessionID() string {
	return t.id
}

// Done is closed once the transport is closed.
func (t *Transport) Done() <-chan struct{} {
	return t.ctx.Done()
}

func (t *Transport) Resumable() bool {
	return t.events != nil
}

// Close ends every stream of the session and deregisters it. Safe to call repeatedly.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		t.cancel()

		t.mu.Lock()
		for id, stream := range t.streams {
			stream.Finish()
			delete(t.streams, id)
		}
		if t.standalone != nil {
			t.standalone.Finish()
		}
		t.mu.Unlock()

		t.hooks.Closed()
	})
	return nil
}

func (t *Transport) markInitialized(client *clientInfo) {
	t.mu.Lock()
	t.client = client
	t.mu.Unlock()
	t.hooks.Initialized()
}

func (t *Transport) markClientReady() {
	t.mu.Lock()
	t.clientReady = true
	t.mu.Unlock()
}

func (t *Transport) ClientReady() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.clientReady
}

func (t *Transport) logFields() log.Fields {
	t.mu.Lock()
	defer t.mu.Unlock()
	fields := log.Fields{"session_id": t.id}
	if t.client != nil {
		fields["client_name"] = t.client.Name
		fields["client_version"] = t.client.Version
	}
	return fields
}

func (t *Transport) touch() {
	t.lastSeen.Store(time.Now().UnixNano())
}

// idleFor reports how long the session has had no requests and no listeners.
func (t *Transport) idleFor(now time.Time) time.Duration {
	if t.listeners.Load() > 0 {
		return 0
	}
	return now.Sub(time.Unix(0, t.lastSeen.Load()))
}

// listen counts an open SSE response; the returned func undoes it.
func (t *Transport) listen() func() {
	t.listeners.Add(1)
	return func() {
		t.listeners.Add(-1)
		t.touch()
	}
}

// OpenStream starts a request stream.
func (t *Transport) OpenStream() *Stream {
	stream := newStream(utils.NewStreamId(), STREAM_TYPE_REGULAR, t.id, t.bufferSize)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.streams[stream.Id] = stream
	t.owned[stream.Id] = struct{}{}
	return stream
}

// finishStream marks a request stream complete. Its events stay replayable
// from the log; the live stream is forgotten.
func (t *Transport) finishStream(stream *Stream) {
	stream.Finish()

	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.streams, stream.Id)
}

// Standalone returns the session's server-initiated stream. Its id is the session id.
func (t *Transport) Standalone() *Stream {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.standalone == nil {
		t.standalone = newStream(t.id, STREAM_TYPE_STANDALONE, t.id, t.bufferSize)
		t.owned[t.id] = struct{}{}
		if t.ctx.Err() != nil {
			t.standalone.Finish()
		}
	}
	return t.standalone
}

// Owns reports whether streamId was opened by this session.
func (t *Transport) Owns(streamId string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.owned[streamId]
	return ok
}

// liveStream returns the stream still producing messages, or nil.
func (t *Transport) liveStream(streamId string) *Stream {
	t.mu.Lock()
	defer t.mu.Unlock()
	if streamId == t.id && t.standalone != nil {
		return t.standalone
	}
	return t.streams[streamId]
}

// Send serializes message, records it in the event log when resumption is on
// and publishes it to the stream's listener. A failed append is logged and
// the message still goes out live, without an event id.
func (t *Transport) Send(ctx context.Context, stream *Stream, message any) error {
	data, err := json.Marshal(message)
	if err != nil {
		return errors.Wrap(err, "marshal message")
	}

	eventId := ""
	if t.events != nil {
		eventId, err = t.events.Append(ctx, stream.Id, data)
		if err != nil {
			log.WithError(err).WithFields(log.Fields{
				"session_id": t.id,
				"stream_id":  stream.Id,
			}).Error("Failed to record event")
			eventId = ""
		}
	}

	if err := stream.Publish(ctx, &Message{EventId: eventId, Data: data}); err != nil {
		if errors.Is(err, ErrStreamFull) && eventId != "" {
			log.WithFields(log.Fields{
				"session_id": t.id,
				"stream_id":  stream.Id,
				"event_id":   eventId,
			}).Debug("No listener, event kept for replay only")
			return nil
		}
		return err
	}
	return nil
}
