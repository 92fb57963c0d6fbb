package mcptool

import (
	"encoding/json"
	"testing"

	"github.com/loopbackai/agentd/internal/tool"
	"github.com/stretchr/testify/assert"
)

func TestToolWrapper_ImplementsInterface(t *testing.T) {
	mcpTool := Tool{
		Name:        "test_server_test_tool",
		Description: "A test tool",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"input":{"type":"string"}}}`),
	}

	wrapper := NewToolWrapper(mcpTool, nil)

	var _ tool.Tool = wrapper

	assert.Equal(t, "test_server_test_tool", wrapper.ID())
	assert.Equal(t, "A test tool", wrapper.Description())
	assert.NotNil(t, wrapper.Parameters())
}

func TestToolWrapper_ID(t *testing.T) {
	tests := []struct {
		name     string
		toolName string
		want     string
	}{
		{name: "simple name", toolName: "calculator_sum", want: "calculator_sum"},
		{name: "prefixed name", toolName: "server_name_tool_name", want: "server_name_tool_name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapper := NewToolWrapper(Tool{Name: tt.toolName}, nil)
			assert.Equal(t, tt.want, wrapper.ID())
		})
	}
}

func TestToolWrapper_Description(t *testing.T) {
	wrapper := NewToolWrapper(Tool{
		Name:        "test",
		Description: "Test tool description",
	}, nil)

	assert.Equal(t, "Test tool description", wrapper.Description())
}

func TestToolWrapper_Parameters(t *testing.T) {
	schema := json.RawMessage(`{"type":"object","properties":{"numbers":{"type":"array","description":"Numbers to add"}}}`)
	wrapper := NewToolWrapper(Tool{
		Name:        "test",
		InputSchema: schema,
	}, nil)

	params := wrapper.Parameters()
	assert.NotNil(t, params)
	assert.JSONEq(t, string(schema), string(params))
}

func TestRegisterTools_NilClient(t *testing.T) {
	registry := tool.NewRegistry("")

	RegisterTools(nil, registry)

	assert.Empty(t, registry.List())
}

func TestRegisterTools_NilRegistry(t *testing.T) {
	client := NewClient()
	defer client.Close()

	RegisterTools(client, nil)
}

func TestRegisterTools_NoServers(t *testing.T) {
	client := NewClient()
	defer client.Close()
	registry := tool.NewRegistry("")

	RegisterTools(client, registry)

	assert.Empty(t, registry.List())
}
