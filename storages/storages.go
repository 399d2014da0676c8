package storages

import (
	"github.com/cockroachdb/errors"
)

const (
	InMemoryStorageType = "inmemory"
	RedisStorageType    = "redis"
	SQLStorageType      = "sql"
)

// The errors below are attached as cockroachdb marks, which the standard
// library errors.Is cannot see. Check them with the Is helpers or with
// errors.Is from github.com/cockroachdb/errors.
var (
	// ErrStorageUnavailable marks failures to reach the backing store. Callers may retry
	// the whole operation after a backoff.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrPersistenceFailure marks reads or writes rejected by a reachable store.
	ErrPersistenceFailure = errors.New("persistence failure")
	// ErrNotFound marks a referenced session or event that does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDataIntegrity marks a stored payload that cannot be decoded. Replay skips
	// the event and keeps going.
	ErrDataIntegrity = errors.New("data integrity warning")
)

// Unavailable wraps err with msg and marks it as ErrStorageUnavailable.
func Unavailable(err error, msg string) error {
	if err == nil {
		err = errors.New(msg)
	} else {
		err = errors.Wrap(err, msg)
	}
	return errors.Mark(err, ErrStorageUnavailable)
}

// Persistence wraps err with msg and marks it as ErrPersistenceFailure.
func Persistence(err error, msg string) error {
	if err == nil {
		err = errors.New(msg)
	} else {
		err = errors.Wrap(err, msg)
	}
	return errors.Mark(err, ErrPersistenceFailure)
}

// DataIntegrity wraps err with msg and marks it as ErrDataIntegrity.
func DataIntegrity(err error, msg string) error {
	if err == nil {
		err = errors.New(msg)
	} else {
		err = errors.Wrap(err, msg)
	}
	return errors.Mark(err, ErrDataIntegrity)
}

func IsUnavailable(err error) bool {
	return errors.Is(err, ErrStorageUnavailable)
}

func IsPersistence(err error) bool {
	return errors.Is(err, ErrPersistenceFailure)
}

func IsDataIntegrity(err error) bool {
	return errors.Is(err, ErrDataIntegrity)
}
