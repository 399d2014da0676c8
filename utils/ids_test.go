package utils

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewId(t *testing.T) {
	hex32 := regexp.MustCompile(`^[0-9a-f]{32}$`)
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id := NewId()
		require.Regexp(t, hex32, id)
		require.False(t, seen[id], "duplicate id %q", id)
		seen[id] = true
	}
}

func TestIsVisibleASCII(t *testing.T) {
	assert.True(t, IsVisibleASCII(NewSessionId()))
	assert.True(t, IsVisibleASCII("a-b_c.d~!"))
	assert.False(t, IsVisibleASCII(""))
	assert.False(t, IsVisibleASCII("with space"))
	assert.False(t, IsVisibleASCII("tab\t"))
	assert.False(t, IsVisibleASCII("ünïcode"))
}

func TestStorageKey(t *testing.T) {
	assert.Equal(t, StorageKey("p:", "s1"), StorageKey("p:", "s1"))
	assert.NotEqual(t, StorageKey("p:", "a"), StorageKey("p:", "b"))
	assert.Equal(t, "p:czE", StorageKey("p:", "s1"))
	assert.NotContains(t, StorageKey("p:", "new\nline"), "\n")
}

func TestLockKey(t *testing.T) {
	assert.Equal(t, LockKey("mcpresume", "events"), LockKey("mcpresume", "events"))
	assert.NotEqual(t, LockKey("mcpresume", "events"), LockKey("mcpresume", "other_events"))
}
