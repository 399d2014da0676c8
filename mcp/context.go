package mcp

import (
	"context"

	"github.com/mcpbus-io/mcpresume/jsonrpc"
)

type notifierKey struct{}

type notifier struct {
	transport *Transport
	stream    *Stream
}

func withNotifier(ctx context.Context, n *notifier) context.Context {
	return context.WithValue(ctx, notifierKey{}, n)
}

// Notify sends a JSON-RPC notification on the stream that carries the
// current request's response. Outside a streamed request it does nothing.
func Notify(ctx context.Context, method string, params any) error {
	n, ok := ctx.Value(notifierKey{}).(*notifier)
	if !ok {
		return nil
	}
	return n.transport.Send(ctx, n.stream, jsonrpc.NewNotification(method, params))
}
