package mcptool

import (
	"context"
	"encoding/json"

	"github.com/loopbackai/agentd/internal/tool"
)

// ToolWrapper adapts a remote MCP tool to the daemon's tool.Tool interface
// so the worker pool can dispatch to it exactly like a built-in tool.
type ToolWrapper struct {
	mcpTool Tool
	client  *Client
}

// NewToolWrapper wraps an MCP tool (as returned by Client.Tools) for
// registration in a tool.Registry.
func NewToolWrapper(mcpTool Tool, client *Client) *ToolWrapper {
	return &ToolWrapper{mcpTool: mcpTool, client: client}
}

// ID returns the prefixed name, e.g. "serverName_toolName".
func (w *ToolWrapper) ID() string { return w.mcpTool.Name }

func (w *ToolWrapper) Description() string { return w.mcpTool.Description }

func (w *ToolWrapper) Parameters() json.RawMessage { return w.mcpTool.InputSchema }

// Execute forwards the call to the owning MCP server via the client.
func (w *ToolWrapper) Execute(ctx context.Context, input json.RawMessage, toolCtx *tool.Context) (*tool.Result, error) {
	output, err := w.client.ExecuteTool(ctx, w.mcpTool.Name, input)
	if err != nil {
		return nil, err
	}

	if toolCtx != nil {
		toolCtx.SetMetadata(w.mcpTool.Name, map[string]any{
			"type": "mcp",
			"tool": w.mcpTool.Name,
		})
	}

	return &tool.Result{Title: w.mcpTool.Name, Output: output}, nil
}

// RegisterTools fetches every tool currently exposed by client's connected
// servers and registers a ToolWrapper for each in registry.
func RegisterTools(client *Client, registry *tool.Registry) {
	if client == nil || registry == nil {
		return
	}
	for _, mcpTool := range client.Tools() {
		registry.Register(NewToolWrapper(mcpTool, client))
	}
}
