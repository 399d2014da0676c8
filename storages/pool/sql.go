package pool

import (
	"context"
	"database/sql"
	"time"

	"github.com/cockroachdb/errors"
	_ "github.com/jackc/pgx/v5/stdlib" // registers "pgx"
	_ "modernc.org/sqlite"             // registers "sqlite"
)

const (
	DriverPostgres = "pgx"
	DriverSQLite   = "sqlite"
)

// Limits bounds a *sql.DB pool.
type Limits struct {
	MaxOpenConns   int
	MaxIdleConns   int
	IdleTimeout    time.Duration
	ConnectTimeout time.Duration
}

var SQLDriver = Driver[*sql.DB]{
	Name: "sql",
	Ping: func(ctx context.Context, db *sql.DB) error {
		return db.PingContext(ctx)
	},
	Close: func(db *sql.DB) error {
		return db.Close()
	},
}

// SQLOpener opens a *sql.DB for driverName/dsn, applies limits and pings it.
func SQLOpener(driverName string, dsn string, limits Limits) Opener[*sql.DB] {
	return func(ctx context.Context) (*sql.DB, error) {
		db, err := sql.Open(driverName, dsn)
		if err != nil {
			return nil, errors.Wrapf(err, "open %s", driverName)
		}
		if limits.MaxOpenConns > 0 {
			db.SetMaxOpenConns(limits.MaxOpenConns)
		}
		if limits.MaxIdleConns > 0 {
			db.SetMaxIdleConns(limits.MaxIdleConns)
		}
		if limits.IdleTimeout > 0 {
			db.SetConnMaxIdleTime(limits.IdleTimeout)
		}

		pingCtx := ctx
		if limits.ConnectTimeout > 0 {
			var cancel context.CancelFunc
			pingCtx, cancel = context.WithTimeout(ctx, limits.ConnectTimeout)
			defer cancel()
		}
		if err := db.PingContext(pingCtx); err != nil {
			_ = db.Close()
			return nil, errors.Wrapf(err, "ping %s", driverName)
		}
		return db, nil
	}
}

// NewSQL is a Manager for a *sql.DB.
func NewSQL(driverName string, dsn string, limits Limits, opts ...Option) *Manager[*sql.DB] {
	drv := SQLDriver
	drv.Name = driverName
	return New(SQLOpener(driverName, dsn, limits), drv, opts...)
}
