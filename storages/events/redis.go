package events

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/mcpbus-io/mcpresume/storages"
	"github.com/mcpbus-io/mcpresume/storages/pool"
	"github.com/mcpbus-io/mcpresume/utils"
)

const (
	Prefix = "streams:"

	payloadField  = "payload"
	streamIdField = "stream"
)

// Redis keeps one Redis stream per event stream. Entry ids are assigned by
// Redis as <millis>-<seq> and are strictly increasing, so they double as the
// ordering key; the event id carries the entry's millis and seq.
type Redis struct {
	pool     *pool.Manager[*redis.Client]
	prefix   string
	pageSize int64
}

type RedisOption func(*Redis)

func WithRedisPrefix(prefix string) RedisOption {
	return func(r *Redis) {
		r.prefix = prefix
	}
}

func WithRedisPageSize(size int) RedisOption {
	return func(r *Redis) {
		if size > 0 {
			r.pageSize = int64(size)
		}
	}
}

func NewRedisStorage(p *pool.Manager[*redis.Client], opts ...RedisOption) *Redis {
	r := &Redis{
		pool:     p,
		prefix:   Prefix,
		pageSize: DefaultReplayPageSize,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// EnsureSchema only checks connectivity; streams are created by the first XADD.
func (r *Redis) EnsureSchema(ctx context.Context) error {
	rdb, err := r.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	if err := rdb.Ping(ctx).Err(); err != nil {
		return r.classify(rdb, err, "ping redis")
	}
	return nil
}

func (r *Redis) Append(ctx context.Context, streamID string, payload []byte) (string, error) {
	if err := validStreamID(streamID); err != nil {
		return "", err
	}
	rdb, err := r.pool.Acquire(ctx)
	if err != nil {
		return "", err
	}

	entryId, err := rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: r.getStreamKey(streamID),
		Values: map[string]any{
			streamIdField: streamID,
			payloadField:  payload,
		},
	}).Result()
	if err != nil {
		return "", r.classify(rdb, err, "record event")
	}

	millis, seq, err := splitEntryId(entryId)
	if err != nil {
		return "", storages.Persistence(err, "unexpected redis entry id "+entryId)
	}
	return EventId{StreamID: streamID, CreatedAt: time.UnixMilli(millis), Suffix: seq}.String(), nil
}

func (r *Redis) ReplayAfter(ctx context.Context, lastEventID string, deliver DeliverFunc) (string, error) {
	id, err := ParseEventId(lastEventID)
	if err != nil {
		return "", nil
	}
	if _, err := strconv.ParseUint(id.Suffix, 10, 64); err != nil {
		return "", nil // not an id issued by this store
	}

	rdb, err := r.pool.Acquire(ctx)
	if err != nil {
		return "", err
	}

	key := r.getStreamKey(id.StreamID)
	start := strconv.FormatInt(id.CreatedAt.UnixMilli(), 10) + "-" + id.Suffix
	first := true
	for {
		// XRANGE is inclusive, the entry at start is dropped below
		entries, err := rdb.XRangeN(ctx, key, start, "+", r.pageSize+1).Result()
		if err != nil {
			return "", r.classify(rdb, err, "read events")
		}
		if first {
			if len(entries) == 0 || entries[0].ID != start {
				return "", nil
			}
			first = false
		}
		if len(entries) > 0 && entries[0].ID == start {
			entries = entries[1:]
		}
		if len(entries) == 0 {
			return id.StreamID, nil
		}

		page := make([]Event, 0, len(entries))
		for _, entry := range entries {
			page = append(page, r.toEvent(id.StreamID, entry))
		}
		if err := deliverPage(ctx, page, deliver); err != nil {
			return "", err
		}
		start = entries[len(entries)-1].ID
	}
}

func (r *Redis) toEvent(streamId string, entry redis.XMessage) Event {
	millis, seq, _ := splitEntryId(entry.ID)
	event := Event{
		ID:       EventId{StreamID: streamId, CreatedAt: time.UnixMilli(millis), Suffix: seq}.String(),
		StreamID: streamId,
		StoredAt: time.UnixMilli(millis),
	}
	payload, ok := entry.Values[payloadField].(string) // go-redis returns field values as strings
	if !ok {
		log.WithFields(log.Fields{
			"stream_id": streamId,
			"entry_id":  entry.ID,
		}).Warn("Redis stream entry has no payload")
		return event
	}
	event.Payload = []byte(payload)
	return event
}

func (r *Redis) classify(rdb *redis.Client, err error, msg string) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if reported := r.pool.Report(rdb, err); storages.IsUnavailable(reported) {
		return reported
	}
	return storages.Persistence(err, msg)
}

func (r *Redis) getStreamKey(streamId string) string {
	return utils.StorageKey(r.prefix, streamId)
}

func splitEntryId(entryId string) (int64, string, error) {
	millisPart, seq, found := strings.Cut(entryId, "-")
	if !found {
		return 0, "", storages.Persistence(nil, "entry id without sequence")
	}
	millis, err := strconv.ParseInt(millisPart, 10, 64)
	if err != nil {
		return 0, "", err
	}
	return millis, seq, nil
}
