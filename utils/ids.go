package utils

import (
	"encoding/hex"

	"github.com/google/uuid"
)

func NewSessionId() string {
	return NewId()
}

func NewMessageId() string {
	return NewId()
}

func NewStreamId() string {
	return NewId()
}

// NewId returns a random UUID as 32 lowercase hex digits, without dashes.
func NewId() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}

// IsVisibleASCII reports whether id is non-empty and made of printable ASCII
// only (0x21 to 0x7E), the alphabet allowed for session ids on the wire.
func IsVisibleASCII(id string) bool {
	if id == "" {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] < 0x21 || id[i] > 0x7e {
			return false
		}
	}
	return true
}
