package mcptool

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
)

// Client manages a set of MCP server connections over the official SDK.
type Client struct {
	mu        sync.RWMutex
	servers   map[string]*mcpServer
	sdkClient *sdkmcp.Client
}

type mcpServer struct {
	name       string
	config     *Config
	session    *sdkmcp.ClientSession
	tools      []Tool
	resources  []Resource
	status     Status
	error      string
	serverInfo *ServerInfo
}

// NewClient creates a client identifying itself to servers as agentd.
func NewClient() *Client {
	sdkClient := sdkmcp.NewClient(&sdkmcp.Implementation{
		Name:    "agentd",
		Version: "1.0.0",
	}, nil)

	return &Client{
		servers:   make(map[string]*mcpServer),
		sdkClient: sdkClient,
	}
}

// AddServer connects to a server and registers it under name. Disabled
// configs are recorded without attempting a connection.
func (c *Client) AddServer(ctx context.Context, name string, config *Config) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.servers[name]; ok {
		return fmt.Errorf("mcptool: server already exists: %s", name)
	}

	if !config.Enabled {
		c.servers[name] = &mcpServer{name: name, config: config, status: StatusDisabled}
		return nil
	}

	server, err := c.connectServer(ctx, name, config)
	if err != nil {
		c.servers[name] = &mcpServer{name: name, config: config, status: StatusFailed, error: err.Error()}
		return err
	}

	c.servers[name] = server
	return nil
}

func (c *Client) connectServer(ctx context.Context, name string, config *Config) (*mcpServer, error) {
	timeout := time.Duration(config.Timeout) * time.Millisecond
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var transport sdkmcp.Transport

	switch config.Type {
	case TransportTypeRemote:
		transport = &sdkmcp.SSEClientTransport{
			Endpoint:   config.URL,
			HTTPClient: &http.Client{Timeout: timeout},
		}

	case TransportTypeLocal, TransportTypeStdio:
		if len(config.Command) == 0 {
			return nil, fmt.Errorf("mcptool: empty command for server %s", name)
		}

		cmd := exec.Command(config.Command[0], config.Command[1:]...)
		cmd.Env = os.Environ()
		for k, v := range config.Environment {
			cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
		}

		transport = &sdkmcp.CommandTransport{Command: cmd}

	default:
		return nil, fmt.Errorf("mcptool: unknown transport type: %s", config.Type)
	}

	server := &mcpServer{name: name, config: config, status: StatusConnecting}

	session, err := c.sdkClient.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("mcptool: connect %s: %w", name, err)
	}
	server.session = session

	if initResult := session.InitializeResult(); initResult != nil {
		server.serverInfo = &ServerInfo{
			Name:    initResult.ServerInfo.Name,
			Version: initResult.ServerInfo.Version,
		}
	}

	if err := server.listTools(ctx); err != nil {
		server.tools = []Tool{}
	}

	server.status = StatusConnected
	return server, nil
}

func (s *mcpServer) listTools(ctx context.Context) error {
	if s.session == nil {
		return fmt.Errorf("mcptool: server %s not connected", s.name)
	}

	result, err := s.session.ListTools(ctx, nil)
	if err != nil {
		return err
	}

	s.tools = make([]Tool, len(result.Tools))
	for i, t := range result.Tools {
		s.tools[i] = fromSDKTool(t)
	}
	return nil
}

// Tools returns every tool exposed by every connected server, each name
// prefixed with its server's name so the worker pool can route a call
// back to the right session.
func (c *Client) Tools() []Tool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var all []Tool
	for name, server := range c.servers {
		if server.status != StatusConnected {
			continue
		}
		for _, t := range server.tools {
			all = append(all, Tool{
				Name:        sanitizeToolName(name) + "_" + sanitizeToolName(t.Name),
				Description: t.Description,
				InputSchema: t.InputSchema,
			})
		}
	}
	return all
}

// ExecuteTool dispatches a prefixed tool name to its owning server.
func (c *Client) ExecuteTool(ctx context.Context, toolName string, args json.RawMessage) (string, error) {
	c.mu.RLock()
	var targetServer *mcpServer
	var originalToolName string

	for name, server := range c.servers {
		if server.status != StatusConnected {
			continue
		}
		prefix := sanitizeToolName(name) + "_"
		if !strings.HasPrefix(toolName, prefix) {
			continue
		}
		targetServer = server
		originalToolName = strings.TrimPrefix(toolName, prefix)
		for _, t := range server.tools {
			if sanitizeToolName(t.Name) == originalToolName {
				originalToolName = t.Name
				break
			}
		}
		break
	}
	c.mu.RUnlock()

	if targetServer == nil {
		return "", fmt.Errorf("mcptool: no server owns tool %q", toolName)
	}
	if targetServer.session == nil {
		return "", fmt.Errorf("mcptool: server %s not connected", targetServer.name)
	}

	var argsMap map[string]any
	if len(args) > 0 {
		if err := json.Unmarshal(args, &argsMap); err != nil {
			return "", fmt.Errorf("mcptool: parse arguments: %w", err)
		}
	}

	result, err := targetServer.session.CallTool(ctx, &sdkmcp.CallToolParams{
		Name:      originalToolName,
		Arguments: argsMap,
	})
	if err != nil {
		return "", err
	}

	if result.IsError {
		for _, content := range result.Content {
			if textContent, ok := content.(*sdkmcp.TextContent); ok {
				return "", fmt.Errorf("mcptool: tool error: %s", textContent.Text)
			}
		}
		return "", fmt.Errorf("mcptool: tool execution failed")
	}

	var output strings.Builder
	for _, content := range result.Content {
		if textContent, ok := content.(*sdkmcp.TextContent); ok {
			output.WriteString(textContent.Text)
		}
	}
	return output.String(), nil
}

// ListResources lists resources across all connected servers, URIs
// prefixed with the owning server's name.
func (c *Client) ListResources(ctx context.Context) ([]Resource, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var all []Resource
	for name, server := range c.servers {
		if server.status != StatusConnected || server.session == nil {
			continue
		}
		resources, err := server.listResources(ctx)
		if err != nil {
			continue
		}
		for _, r := range resources {
			all = append(all, Resource{
				URI:         fmt.Sprintf("mcp://%s/%s", name, r.URI),
				Name:        r.Name,
				Description: r.Description,
				MimeType:    r.MimeType,
			})
		}
	}
	return all, nil
}

func (s *mcpServer) listResources(ctx context.Context) ([]Resource, error) {
	if s.session == nil {
		return nil, fmt.Errorf("mcptool: server %s not connected", s.name)
	}

	result, err := s.session.ListResources(ctx, nil)
	if err != nil {
		return nil, err
	}

	resources := make([]Resource, len(result.Resources))
	for i, r := range result.Resources {
		resources[i] = fromSDKResource(r)
	}
	return resources, nil
}

// ReadResource reads a resource addressed by an "mcp://server/uri" URI.
func (c *Client) ReadResource(ctx context.Context, uri string) (*ReadResourceResponse, error) {
	if !strings.HasPrefix(uri, "mcp://") {
		return nil, fmt.Errorf("mcptool: invalid resource URI: %s", uri)
	}

	parts := strings.SplitN(strings.TrimPrefix(uri, "mcp://"), "/", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("mcptool: malformed resource URI: %s", uri)
	}
	serverName, resourceURI := parts[0], parts[1]

	c.mu.RLock()
	server, ok := c.servers[serverName]
	c.mu.RUnlock()

	if !ok || server.status != StatusConnected {
		return nil, fmt.Errorf("mcptool: server %s not connected", serverName)
	}

	return server.readResource(ctx, resourceURI)
}

func (s *mcpServer) readResource(ctx context.Context, uri string) (*ReadResourceResponse, error) {
	if s.session == nil {
		return nil, fmt.Errorf("mcptool: server %s not connected", s.name)
	}

	result, err := s.session.ReadResource(ctx, &sdkmcp.ReadResourceParams{URI: uri})
	if err != nil {
		return nil, err
	}

	resp := &ReadResourceResponse{Contents: make([]ResourceContent, len(result.Contents))}
	for i, c := range result.Contents {
		content := ResourceContent{URI: c.URI, MimeType: c.MIMEType, Text: c.Text}
		if len(c.Blob) > 0 {
			content.Blob = string(c.Blob)
		}
		resp.Contents[i] = content
	}
	return resp, nil
}

// Status reports the connection state of every configured server.
func (c *Client) Status() []ServerStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var status []ServerStatus
	for name, server := range c.servers {
		s := ServerStatus{Name: name, Status: server.status, ToolCount: len(server.tools)}
		if server.error != "" {
			s.Error = &server.error
		}
		status = append(status, s)
	}
	return status
}

// GetServer returns the status of a single named server.
func (c *Client) GetServer(name string) (*ServerStatus, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	server, ok := c.servers[name]
	if !ok {
		return nil, fmt.Errorf("mcptool: server not found: %s", name)
	}

	s := &ServerStatus{Name: name, Status: server.status, ToolCount: len(server.tools)}
	if server.error != "" {
		s.Error = &server.error
	}
	return s, nil
}

// RemoveServer disconnects and forgets a server.
func (c *Client) RemoveServer(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	server, ok := c.servers[name]
	if !ok {
		return fmt.Errorf("mcptool: server not found: %s", name)
	}
	if server.session != nil {
		server.session.Close()
	}
	delete(c.servers, name)
	return nil
}

// Close disconnects every server.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, server := range c.servers {
		if server.session != nil {
			server.session.Close()
		}
	}
	c.servers = make(map[string]*mcpServer)
	return nil
}

// ServerCount returns the number of configured servers, connected or not.
func (c *Client) ServerCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.servers)
}

// ConnectedCount returns the number of servers currently connected.
func (c *Client) ConnectedCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	count := 0
	for _, server := range c.servers {
		if server.status == StatusConnected {
			count++
		}
	}
	return count
}

func sanitizeToolName(name string) string {
	var b strings.Builder
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	return b.String()
}
