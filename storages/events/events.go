// Package events is the durable, per-stream ordered log of outbound MCP
// messages. Every message written to an SSE stream is appended here first, so a
// client that reconnects with Last-Event-Id can be sent everything it missed.
package events

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/mcpbus-io/mcpresume/storages"
)

const DefaultReplayPageSize = 256

type Event struct {
	ID       string
	StreamID string
	Payload  []byte
	StoredAt time.Time
	Seq      int64
}

// DeliverFunc receives replayed events one at a time. Returning an error marked
// with storages.ErrDataIntegrity skips the event; any other error stops the replay.
type DeliverFunc func(ctx context.Context, eventID string, payload []byte) error

type Store interface {
	// Append persists payload at the end of streamID and returns the new event id.
	Append(ctx context.Context, streamID string, payload []byte) (string, error)
	// ReplayAfter delivers, in order, every event of the stream encoded in lastEventID
	// that was stored after it, and returns that stream id. An empty, unparseable or
	// unknown lastEventID yields an empty stream id and no deliveries.
	ReplayAfter(ctx context.Context, lastEventID string, deliver DeliverFunc) (string, error)
	// EnsureSchema prepares the backing storage. Safe to call concurrently and repeatedly.
	EnsureSchema(ctx context.Context) error
}

// deliverPage hands events to deliver sequentially, stopping at the first fatal error.
func deliverPage(ctx context.Context, page []Event, deliver DeliverFunc) error {
	for _, event := range page {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := deliver(ctx, event.ID, event.Payload); err != nil {
			if storages.IsDataIntegrity(err) {
				log.WithError(err).WithFields(log.Fields{
					"stream_id": event.StreamID,
					"event_id":  event.ID,
				}).Warn("Skipping unreadable event during replay")
				continue
			}
			return err
		}
	}
	return nil
}

func validStreamID(streamID string) error {
	if streamID == "" {
		return storages.Persistence(nil, "stream id is required")
	}
	return nil
}
