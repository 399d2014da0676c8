package mcp

import (
	"context"
	"fmt"
	"time"

	mcptypes "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
)

const (
	defaultNotificationInterval = 100 // milliseconds
	defaultNotificationCount    = 5
	maxNotificationCount        = 1000

	methodNotificationMessage = "notifications/message"
)

func registerBuiltins(server *mcpserver.MCPServer) {
	server.AddTool(mcptypes.NewTool(
		"echo",
		mcptypes.WithDescription("Returns the given message"),
		mcptypes.WithString("message",
			mcptypes.Required(),
			mcptypes.Description("Message to echo back"),
		),
	), handleEchoTool)

	server.AddTool(mcptypes.NewTool(
		"add",
		mcptypes.WithDescription("Adds two numbers"),
		mcptypes.WithNumber("a", mcptypes.Required(), mcptypes.Description("First addend")),
		mcptypes.WithNumber("b", mcptypes.Required(), mcptypes.Description("Second addend")),
	), handleAddTool)

	server.AddTool(mcptypes.NewTool(
		"start-notification-stream",
		mcptypes.WithDescription("Sends periodic notifications/message events before returning"),
		mcptypes.WithNumber("interval",
			mcptypes.Description("Milliseconds between notifications"),
			mcptypes.DefaultNumber(defaultNotificationInterval),
		),
		mcptypes.WithNumber("count",
			mcptypes.Description("Number of notifications to send"),
			mcptypes.DefaultNumber(defaultNotificationCount),
		),
	), handleNotificationStreamTool)

	server.AddPrompt(mcptypes.NewPrompt(
		"greeting",
		mcptypes.WithPromptDescription("A friendly greeting"),
		mcptypes.WithArgument("name",
			mcptypes.ArgumentDescription("Who to greet"),
			mcptypes.RequiredArgument(),
		),
	), handleGreetingPrompt)
}

func handleEchoTool(ctx context.Context, request mcptypes.CallToolRequest) (*mcptypes.CallToolResult, error) {
	message, ok := request.GetArguments()["message"].(string)
	if !ok {
		return mcptypes.NewToolResultError("message must be a string"), nil
	}
	return mcptypes.NewToolResultText("Echo: " + message), nil
}

func handleAddTool(ctx context.Context, request mcptypes.CallToolRequest) (*mcptypes.CallToolResult, error) {
	arguments := request.GetArguments()
	a, ok1 := arguments["a"].(float64)
	b, ok2 := arguments["b"].(float64)
	if !ok1 || !ok2 {
		return mcptypes.NewToolResultError("a and b must be numbers"), nil
	}
	return mcptypes.NewToolResultText(fmt.Sprintf("The sum of %v and %v is %v.", a, b, a+b)), nil
}

func handleNotificationStreamTool(ctx context.Context, request mcptypes.CallToolRequest) (*mcptypes.CallToolResult, error) {
	arguments := request.GetArguments()
	interval := defaultNotificationInterval
	if v, ok := arguments["interval"].(float64); ok && v >= 0 {
		interval = int(v)
	}
	count := defaultNotificationCount
	if v, ok := arguments["count"].(float64); ok && v >= 0 {
		count = min(int(v), maxNotificationCount)
	}

	for i := 1; i <= count; i++ {
		if i > 1 && interval > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(interval) * time.Millisecond):
			}
		}
		err := Notify(ctx, methodNotificationMessage, map[string]any{
			"level": "info",
			"data":  fmt.Sprintf("Periodic notification #%d", i),
		})
		if err != nil {
			return nil, err
		}
	}

	return mcptypes.NewToolResultText(fmt.Sprintf("Sent %d notifications with %dms interval", count, interval)), nil
}

func handleGreetingPrompt(ctx context.Context, request mcptypes.GetPromptRequest) (*mcptypes.GetPromptResult, error) {
	name := request.Params.Arguments["name"]
	if name == "" {
		return nil, fmt.Errorf("name argument is required")
	}
	return mcptypes.NewGetPromptResult(
		"A friendly greeting",
		[]mcptypes.PromptMessage{
			mcptypes.NewPromptMessage(mcptypes.RoleUser, mcptypes.NewTextContent("Hello, "+name+"!")),
		},
	), nil
}
