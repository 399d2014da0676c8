package events

import (
	"context"
	"database/sql"
	"time"

	"github.com/cockroachdb/errors"
	log "github.com/sirupsen/logrus"

	"github.com/mcpbus-io/mcpresume/storages"
	"github.com/mcpbus-io/mcpresume/storages/pool"
)

// SQL stores events in one table shared by all streams. The seq column is the
// ordering key; stored_at is kept for diagnostics.
type SQL struct {
	pool     *pool.Manager[*sql.DB]
	dialect  dialect
	pageSize int
	now      func() time.Time
}

type SQLOption func(*SQL)

func WithSQLPageSize(size int) SQLOption {
	return func(s *SQL) {
		if size > 0 {
			s.pageSize = size
		}
	}
}

func WithClock(now func() time.Time) SQLOption {
	return func(s *SQL) {
		s.now = now
	}
}

// NewSQLStorage builds a store for driverName ("pgx" or "sqlite") writing to table.
func NewSQLStorage(p *pool.Manager[*sql.DB], driverName string, table string, opts ...SQLOption) (*SQL, error) {
	if table == "" {
		table = DefaultTable
	}
	d, err := newDialect(driverName, table)
	if err != nil {
		return nil, err
	}
	s := &SQL{
		pool:     p,
		dialect:  d,
		pageSize: DefaultReplayPageSize,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *SQL) EnsureSchema(ctx context.Context) error {
	db, err := s.pool.Acquire(ctx)
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return s.classify(db, err, "begin schema transaction")
	}
	defer tx.Rollback()

	if s.dialect.schemaLock != "" {
		if _, err := tx.ExecContext(ctx, s.dialect.schemaLock); err != nil {
			return s.classify(db, err, "lock schema")
		}
	}
	for _, stmt := range s.dialect.schema {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return s.classify(db, err, "apply schema")
		}
	}
	if err := tx.Commit(); err != nil {
		return s.classify(db, err, "commit schema")
	}

	log.WithField("driver", s.dialect.name).Debug("Events schema is in place")
	return nil
}

func (s *SQL) Append(ctx context.Context, streamID string, payload []byte) (string, error) {
	if err := validStreamID(streamID); err != nil {
		return "", err
	}
	db, err := s.pool.Acquire(ctx)
	if err != nil {
		return "", err
	}

	if payload == nil {
		payload = []byte{}
	}
	storedAt := s.now().UTC()
	eventId := NewEventId(streamID, storedAt)

	if _, err := db.ExecContext(ctx, s.dialect.insertEvent, eventId, streamID, payload, storedAt.UnixMilli()); err != nil {
		return "", s.classify(db, err, "insert event")
	}
	return eventId, nil
}

func (s *SQL) ReplayAfter(ctx context.Context, lastEventID string, deliver DeliverFunc) (string, error) {
	streamId := StreamIdOf(lastEventID)
	if streamId == "" {
		return "", nil
	}

	db, err := s.pool.Acquire(ctx)
	if err != nil {
		return "", err
	}

	var after int64
	err = db.QueryRowContext(ctx, s.dialect.selectSeq, lastEventID, streamId).Scan(&after)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", s.classify(db, err, "look up event")
	}

	for {
		page, err := s.readPage(ctx, db, streamId, after)
		if err != nil {
			return "", err
		}
		if len(page) == 0 {
			return streamId, nil
		}
		// the page is fully read and its rows closed before delivery starts
		if err := deliverPage(ctx, page, deliver); err != nil {
			return "", err
		}
		after = page[len(page)-1].Seq
		if len(page) < s.pageSize {
			return streamId, nil
		}
	}
}

func (s *SQL) readPage(ctx context.Context, db *sql.DB, streamId string, after int64) ([]Event, error) {
	rows, err := db.QueryContext(ctx, s.dialect.selectEvents, streamId, after, s.pageSize)
	if err != nil {
		return nil, s.classify(db, err, "read events")
	}
	defer rows.Close()

	page := make([]Event, 0, s.pageSize)
	for rows.Next() {
		event := Event{StreamID: streamId}
		var storedAt int64
		if err := rows.Scan(&event.Seq, &event.ID, &event.Payload, &storedAt); err != nil {
			return nil, s.classify(db, err, "scan event")
		}
		event.StoredAt = time.UnixMilli(storedAt)
		page = append(page, event)
	}
	if err := rows.Err(); err != nil {
		return nil, s.classify(db, err, "iterate events")
	}
	return page, nil
}

func (s *SQL) classify(db *sql.DB, err error, msg string) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if reported := s.pool.Report(db, err); storages.IsUnavailable(reported) {
		return reported
	}
	return storages.Persistence(err, msg)
}
