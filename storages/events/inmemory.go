package events

import (
	"context"
	"slices"
	"sync"
	"time"
)

type eventPosition struct {
	streamId string
	index    int
}

// InMemory keeps the log in process memory. Useful for tests and single-process
// development; nothing survives a restart.
type InMemory struct {
	events       map[string][]Event
	eventIndexes map[string]eventPosition
	seq          int64
	eventLock    sync.RWMutex
	now          func() time.Time
}

func NewInMemory() *InMemory {
	return &InMemory{
		events:       make(map[string][]Event),
		eventIndexes: make(map[string]eventPosition),
		now:          time.Now,
	}
}

func (i *InMemory) EnsureSchema(ctx context.Context) error {
	return nil
}

func (i *InMemory) Append(ctx context.Context, streamID string, payload []byte) (string, error) {
	if err := validStreamID(streamID); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	i.eventLock.Lock()
	defer i.eventLock.Unlock()

	storedAt := i.now()
	eventId := NewEventId(streamID, storedAt)
	i.seq++
	event := Event{
		ID:       eventId,
		StreamID: streamID,
		Payload:  slices.Clone(payload),
		StoredAt: storedAt,
		Seq:      i.seq,
	}

	i.events[streamID] = append(i.events[streamID], event)
	i.eventIndexes[eventId] = eventPosition{streamId: streamID, index: len(i.events[streamID]) - 1}

	return eventId, nil
}

func (i *InMemory) ReplayAfter(ctx context.Context, lastEventID string, deliver DeliverFunc) (string, error) {
	streamId := StreamIdOf(lastEventID)
	if streamId == "" {
		return "", nil
	}

	i.eventLock.RLock()
	position, ok := i.eventIndexes[lastEventID]
	if !ok || position.streamId != streamId {
		i.eventLock.RUnlock()
		return "", nil
	}
	// copy so deliver runs without the lock held
	pending := slices.Clone(i.events[streamId][position.index+1:])
	i.eventLock.RUnlock()

	if err := deliverPage(ctx, pending, deliver); err != nil {
		return "", err
	}
	return streamId, nil
}
