package utils

import (
	"encoding/base64"

	"github.com/cespare/xxhash/v2"
)

// StorageKey joins prefix with an encoded form of id. The encoding is reversible,
// so two distinct ids never share a key whatever bytes they carry.
func StorageKey(prefix string, id string) string {
	return prefix + base64.RawURLEncoding.EncodeToString([]byte(id))
}

// LockKey derives a stable 64-bit key, e.g. for database advisory locks.
func LockKey(namespace string, name string) int64 {
	return int64(xxhash.Sum64String(namespace + ":" + name))
}
