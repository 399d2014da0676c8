package storages

import (
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMarks(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		unavailable bool
		persistence bool
		integrity   bool
	}{
		{
			name:        "unavailable with cause",
			err:         Unavailable(io.EOF, "acquire pool"),
			unavailable: true,
		},
		{
			name:        "persistence without cause",
			err:         Persistence(nil, "stream id is required"),
			persistence: true,
		},
		{
			name:      "data integrity",
			err:       DataIntegrity(io.ErrUnexpectedEOF, "decode payload"),
			integrity: true,
		},
		{
			name:        "marks survive further wrapping",
			err:         fmt.Errorf("append: %w", Unavailable(io.EOF, "insert")),
			unavailable: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.unavailable, IsUnavailable(tt.err))
			assert.Equal(t, tt.persistence, IsPersistence(tt.err))
			assert.Equal(t, tt.integrity, IsDataIntegrity(tt.err))
		})
	}
}

func TestUnavailableKeepsCause(t *testing.T) {
	err := Unavailable(io.EOF, "ping")
	assert.ErrorIs(t, err, io.EOF)
	assert.Contains(t, err.Error(), "ping")
}
