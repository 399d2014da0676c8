package events

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/mcpbus-io/mcpresume/storages/pool"
	"github.com/mcpbus-io/mcpresume/utils"
)

const DefaultTable = "mcp_events"

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// dialect holds the statements that differ between PostgreSQL and SQLite.
type dialect struct {
	name         string
	schema       []string
	schemaLock   string // optional statement run first inside the schema transaction
	insertEvent  string
	selectSeq    string
	selectEvents string
}

func newDialect(driverName string, table string) (dialect, error) {
	if !tableNamePattern.MatchString(table) {
		return dialect{}, fmt.Errorf("invalid events table name %q", table)
	}

	d := dialect{name: driverName}
	// numbered parameters: $n on PostgreSQL, ?n on SQLite
	var param string

	switch driverName {
	case pool.DriverPostgres:
		param = "$"
		d.schemaLock = `SELECT pg_advisory_xact_lock(` + strconv.FormatInt(utils.LockKey("mcpresume", table), 10) + `)`
		d.schema = []string{
			`CREATE TABLE IF NOT EXISTS ` + table + ` (
	seq BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
	event_id TEXT NOT NULL UNIQUE,
	stream_id TEXT NOT NULL,
	payload BYTEA NOT NULL,
	stored_at BIGINT NOT NULL
)`,
			`CREATE INDEX IF NOT EXISTS ` + table + `_stream_seq_idx ON ` + table + ` (stream_id, seq)`,
			`CREATE INDEX IF NOT EXISTS ` + table + `_stream_stored_at_idx ON ` + table + ` (stream_id, stored_at)`,
		}
	case pool.DriverSQLite:
		param = "?"
		d.schema = []string{
			`CREATE TABLE IF NOT EXISTS ` + table + ` (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	event_id TEXT NOT NULL UNIQUE,
	stream_id TEXT NOT NULL,
	payload BLOB NOT NULL,
	stored_at INTEGER NOT NULL
)`,
			`CREATE INDEX IF NOT EXISTS ` + table + `_stream_seq_idx ON ` + table + ` (stream_id, seq)`,
			`CREATE INDEX IF NOT EXISTS ` + table + `_stream_stored_at_idx ON ` + table + ` (stream_id, stored_at)`,
		}
	default:
		return dialect{}, fmt.Errorf("unsupported sql driver %q", driverName)
	}

	d.insertEvent = fmt.Sprintf(`INSERT INTO %s (event_id, stream_id, payload, stored_at)
VALUES (%[2]s1, %[2]s2, %[2]s3, %[2]s4)`, table, param)
	d.selectSeq = fmt.Sprintf(`SELECT seq FROM %s
WHERE event_id = %[2]s1 AND stream_id = %[2]s2`, table, param)
	d.selectEvents = fmt.Sprintf(`SELECT seq, event_id, payload, stored_at FROM %s
WHERE stream_id = %[2]s1 AND seq > %[2]s2
ORDER BY seq ASC
LIMIT %[2]s3`, table, param)

	return d, nil
}
