package events

import (
	"encoding/base64"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/mcpbus-io/mcpresume/utils"
)

// Event ids look like <base64url(stream id)>.<unix millis>.<suffix>. The base64url
// alphabet has no '.', so the stream id is recovered exactly whatever it contains,
// and the id stays printable for SSE "id:" lines and Last-Event-Id headers.
const eventIdSeparator = "."

var (
	ErrInvalidEventId = errors.New("invalid event id")
	streamIdEncoding  = base64.RawURLEncoding
)

type EventId struct {
	StreamID  string
	CreatedAt time.Time
	Suffix    string
}

func (e EventId) String() string {
	return streamIdEncoding.EncodeToString([]byte(e.StreamID)) +
		eventIdSeparator + strconv.FormatInt(e.CreatedAt.UnixMilli(), 10) +
		eventIdSeparator + e.Suffix
}

// NewEventId returns a fresh id in streamID stamped with at.
func NewEventId(streamID string, at time.Time) string {
	return EventId{StreamID: streamID, CreatedAt: at, Suffix: utils.NewId()}.String()
}

func ParseEventId(eventId string) (EventId, error) {
	parts := strings.Split(eventId, eventIdSeparator)
	if len(parts) != 3 || parts[0] == "" || parts[2] == "" {
		return EventId{}, errors.Wrapf(ErrInvalidEventId, "%q", eventId)
	}
	stream, err := streamIdEncoding.DecodeString(parts[0])
	if err != nil || len(stream) == 0 {
		return EventId{}, errors.Wrapf(ErrInvalidEventId, "%q: bad stream component", eventId)
	}
	millis, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || millis < 0 {
		return EventId{}, errors.Wrapf(ErrInvalidEventId, "%q: bad timestamp component", eventId)
	}
	return EventId{
		StreamID:  string(stream),
		CreatedAt: time.UnixMilli(millis),
		Suffix:    parts[2],
	}, nil
}

// StreamIdOf returns the stream id encoded in eventId, or "" when it cannot be parsed.
func StreamIdOf(eventId string) string {
	id, err := ParseEventId(eventId)
	if err != nil {
		return ""
	}
	return id.StreamID
}
