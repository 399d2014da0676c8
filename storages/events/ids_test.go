package events

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventIdRoundTrip(t *testing.T) {
	at := time.UnixMilli(1718000000123)
	for _, streamId := range []string{"s1", "a.b.c", "x:y_z", "new\nline", "ünïcode", strings.Repeat("long", 64)} {
		raw := NewEventId(streamId, at)
		assert.NotContains(t, raw, "\n")

		id, err := ParseEventId(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, streamId, id.StreamID)
		assert.Equal(t, at.UnixMilli(), id.CreatedAt.UnixMilli())
		assert.NotEmpty(t, id.Suffix)
		assert.Equal(t, raw, id.String())
	}
}

func TestEventIdsAreUnique(t *testing.T) {
	at := time.Now()
	seen := map[string]bool{}
	for i := 0; i < 1000; i++ {
		id := NewEventId("s", at)
		assert.False(t, seen[id])
		seen[id] = true
	}
}

func TestParseEventIdRejectsMalformed(t *testing.T) {
	tests := []string{
		"",
		"abc",
		"abc.123",
		".123.suffix",
		"czE.123.",
		"czE.-5.suffix",
		"czE.12x.suffix",
		"c z.123.suffix",
		"czE.1.2.3",
	}
	for _, raw := range tests {
		_, err := ParseEventId(raw)
		assert.ErrorIs(t, err, ErrInvalidEventId, raw)
		assert.Empty(t, StreamIdOf(raw), raw)
	}
}

func TestNewDialect(t *testing.T) {
	pg, err := newDialect("pgx", "events")
	require.NoError(t, err)
	assert.Contains(t, pg.insertEvent, "VALUES ($1, $2, $3, $4)")
	assert.Contains(t, pg.selectEvents, "WHERE stream_id = $1 AND seq > $2")
	assert.Contains(t, pg.selectEvents, "LIMIT $3")
	assert.NotEmpty(t, pg.schemaLock)

	lite, err := newDialect("sqlite", "events")
	require.NoError(t, err)
	assert.Contains(t, lite.insertEvent, "INSERT INTO events ")
	assert.Contains(t, lite.selectSeq, "WHERE event_id = ?1 AND stream_id = ?2")
	assert.NotContains(t, lite.selectEvents, "$")
	assert.Empty(t, lite.schemaLock)

	_, err = newDialect("sqlite", "1bad")
	assert.Error(t, err)
}
