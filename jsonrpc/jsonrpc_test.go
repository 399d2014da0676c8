package jsonrpc

import (
	"encoding/json"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeMessage(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    Kind
		wantErr error
	}{
		{name: "request with string id", raw: `{"jsonrpc":"2.0","id":"1","method":"test"}`, want: KindRequest},
		{name: "request with integer id", raw: `{"jsonrpc":"2.0","id":7,"method":"test","params":{}}`, want: KindRequest},
		{name: "notification", raw: `{"jsonrpc":"2.0","method":"notifications/initialized"}`, want: KindNotification},
		{name: "response with result", raw: `{"jsonrpc":"2.0","id":"1","result":{"key":"value"}}`, want: KindResponse},
		{name: "response with error", raw: `{"jsonrpc":"2.0","id":"1","error":{"code":-32700,"message":"Parse error"}}`, want: KindResponse},
		{name: "wrong version", raw: `{"jsonrpc":"1.0","id":"1","method":"test"}`, wantErr: ErrInvalid},
		{name: "boolean id", raw: `{"jsonrpc":"2.0","id":true,"method":"test"}`, wantErr: ErrInvalid},
		{name: "fractional id", raw: `{"jsonrpc":"2.0","id":1.5,"method":"test"}`, wantErr: ErrInvalid},
		{name: "empty method", raw: `{"jsonrpc":"2.0","id":1,"method":""}`, wantErr: ErrInvalid},
		{name: "response without id", raw: `{"jsonrpc":"2.0","result":{}}`, wantErr: ErrInvalid},
		{name: "response with result and error", raw: `{"jsonrpc":"2.0","id":"1","result":{},"error":{}}`, wantErr: ErrInvalid},
		{name: "response with params", raw: `{"jsonrpc":"2.0","id":"1","result":{},"params":{}}`, wantErr: ErrInvalid},
		{name: "request with result", raw: `{"jsonrpc":"2.0","id":"1","method":"test","result":{}}`, wantErr: ErrInvalid},
		{name: "not json", raw: `{"jsonrpc":`, wantErr: ErrParse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeMessage([]byte(tt.raw))
			if tt.wantErr != nil {
				require.Error(t, err)
				// marks are only visible to the cockroachdb errors.Is
				require.True(t, errors.Is(err, tt.wantErr), "%v is not marked %v", err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Kind)
			assert.JSONEq(t, tt.raw, string(got.Raw))
		})
	}
}

func TestDecodeSingle(t *testing.T) {
	payload, err := Decode([]byte("  {\"jsonrpc\":\"2.0\",\"id\":3,\"method\":\"tools/list\"}\n"))
	require.NoError(t, err)
	assert.False(t, payload.Batch)
	require.Len(t, payload.Messages, 1)
	assert.Equal(t, "tools/list", payload.Messages[0].Method)
	assert.Equal(t, float64(3), payload.Messages[0].Id)
	assert.True(t, payload.HasRequests())
}

func TestDecodeBatch(t *testing.T) {
	payload, err := Decode([]byte(`[
		{"jsonrpc":"2.0","method":"notifications/initialized"},
		{"jsonrpc":"2.0","id":"r","result":{}}
	]`))
	require.NoError(t, err)
	assert.True(t, payload.Batch)
	require.Len(t, payload.Messages, 2)
	assert.Equal(t, KindNotification, payload.Messages[0].Kind)
	assert.Equal(t, KindResponse, payload.Messages[1].Kind)
	assert.False(t, payload.HasRequests())

	raw := payload.Raw()
	require.Len(t, raw, 2)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":"r","result":{}}`, string(raw[1]))
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		body string
		code int
	}{
		{"", ERROR_PARSE},
		{"   ", ERROR_PARSE},
		{"not json", ERROR_PARSE},
		{`"string"`, ERROR_PARSE},
		{`[`, ERROR_PARSE},
		{`[]`, ERROR_INVALID_REQUEST},
		{`[{"jsonrpc":"2.0","method":"a"},{"jsonrpc":"1.0","method":"b"}]`, ERROR_INVALID_REQUEST},
		{`[{"jsonrpc":"2.0","method":"a"},42]`, ERROR_PARSE},
	}
	for _, tt := range tests {
		_, err := Decode([]byte(tt.body))
		require.Error(t, err, tt.body)
		assert.Equal(t, tt.code, ErrorCode(err), tt.body)
	}
}

func TestNotification_ValidatesAsNotify(t *testing.T) {
	data, err := json.Marshal(NewNotification("notifications/message", map[string]any{"level": "info"}))
	require.NoError(t, err)

	msg, err := DecodeMessage(data)
	require.NoError(t, err)
	assert.Equal(t, KindNotification, msg.Kind)
	assert.Equal(t, "notifications/message", msg.Method)
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "request", KindRequest.String())
	assert.Equal(t, "notification", KindNotification.String())
	assert.Equal(t, "unknown", Kind(42).String())
}
