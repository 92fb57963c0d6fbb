package mcptool

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewClient(t *testing.T) {
	client := NewClient()
	assert.NotNil(t, client)
	assert.Equal(t, 0, client.ServerCount())
}

func TestClient_ConnectedCount(t *testing.T) {
	client := NewClient()
	assert.Equal(t, 0, client.ConnectedCount())
}

func TestClient_Status_Empty(t *testing.T) {
	client := NewClient()
	assert.Empty(t, client.Status())
}

func TestClient_Close(t *testing.T) {
	client := NewClient()
	assert.NoError(t, client.Close())
}

func TestClient_GetServer_NotFound(t *testing.T) {
	client := NewClient()
	_, err := client.GetServer("nonexistent")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "server not found")
}

func TestClient_RemoveServer_NotFound(t *testing.T) {
	client := NewClient()
	err := client.RemoveServer("nonexistent")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "server not found")
}

func TestClient_Tools_Empty(t *testing.T) {
	client := NewClient()
	assert.Empty(t, client.Tools())
}

func TestClient_AddServer_Disabled(t *testing.T) {
	client := NewClient()
	err := client.AddServer(nil, "disabled-server", &Config{Enabled: false})
	assert.NoError(t, err)

	status, err := client.GetServer("disabled-server")
	assert.NoError(t, err)
	assert.Equal(t, StatusDisabled, status.Status)
}

func TestSanitizeToolName(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"simple", "simple"},
		{"with-dash", "with_dash"},
		{"with_underscore", "with_underscore"},
		{"with.dot", "with_dot"},
		{"with space", "with_space"},
		{"CamelCase", "CamelCase"},
		{"with123numbers", "with123numbers"},
		{"special!@#chars", "special___chars"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, sanitizeToolName(tt.input))
		})
	}
}

func TestConfig_Remote(t *testing.T) {
	config := Config{
		Enabled: true,
		Type:    TransportTypeRemote,
		URL:     "http://localhost:8080",
		Headers: map[string]string{"Authorization": "Bearer token"},
		Timeout: 5000,
	}

	assert.True(t, config.Enabled)
	assert.Equal(t, TransportTypeRemote, config.Type)
	assert.Equal(t, "Bearer token", config.Headers["Authorization"])
}

func TestConfig_Local(t *testing.T) {
	config := Config{
		Enabled:     true,
		Type:        TransportTypeLocal,
		Command:     []string{"mcp-server", "--port", "8080"},
		Environment: map[string]string{"DEBUG": "true"},
	}

	assert.Equal(t, TransportTypeLocal, config.Type)
	assert.Len(t, config.Command, 3)
	assert.Equal(t, "true", config.Environment["DEBUG"])
}

func TestTool(t *testing.T) {
	schema := json.RawMessage(`{"type": "object", "properties": {"name": {"type": "string"}}}`)
	tl := Tool{Name: "test_tool", Description: "A test tool", InputSchema: schema}

	assert.Equal(t, "test_tool", tl.Name)
	assert.NotNil(t, tl.InputSchema)
}

func TestResource(t *testing.T) {
	resource := Resource{
		URI:         "file:///path/to/file",
		Name:        "test_file",
		Description: "A test file",
		MimeType:    "text/plain",
	}

	assert.Equal(t, "file:///path/to/file", resource.URI)
	assert.Equal(t, "text/plain", resource.MimeType)
}

func TestServerStatus(t *testing.T) {
	errMsg := "connection failed"
	status := ServerStatus{Name: "test_server", Status: StatusFailed, ToolCount: 5, Error: &errMsg}

	assert.Equal(t, StatusFailed, status.Status)
	assert.Equal(t, "connection failed", *status.Error)
}

func TestStatus_Constants(t *testing.T) {
	assert.Equal(t, Status("connected"), StatusConnected)
	assert.Equal(t, Status("disabled"), StatusDisabled)
	assert.Equal(t, Status("failed"), StatusFailed)
	assert.Equal(t, Status("connecting"), StatusConnecting)
	assert.Equal(t, Status("disconnected"), StatusDisconnected)
}

func TestTransportType_Constants(t *testing.T) {
	assert.Equal(t, TransportType("remote"), TransportTypeRemote)
	assert.Equal(t, TransportType("local"), TransportTypeLocal)
	assert.Equal(t, TransportType("stdio"), TransportTypeStdio)
}

func TestProtocolVersion(t *testing.T) {
	assert.Equal(t, "2024-11-05", ProtocolVersion)
}

func TestServerInfo(t *testing.T) {
	info := ServerInfo{Name: "test-server", Version: "1.0.0"}
	assert.Equal(t, "test-server", info.Name)
}

func TestResourceContent(t *testing.T) {
	content := ResourceContent{URI: "file:///test.txt", MimeType: "text/plain", Text: "file contents"}
	assert.Equal(t, "file contents", content.Text)
}

func TestReadResourceResponse(t *testing.T) {
	resp := ReadResourceResponse{Contents: []ResourceContent{{URI: "a"}, {URI: "b"}}}
	assert.Len(t, resp.Contents, 2)
}
