// Package mcptool implements an MCP client over the official
// modelcontextprotocol/go-sdk and wraps each remote tool a server exposes
// as a tool.Tool, so the worker pool can dispatch to it the same way it
// dispatches to bash, read, write, and the other built-ins.
//
// Client manages one or more server connections (stdio subprocess, local
// command, or remote SSE). Tool names are prefixed with their owning
// server's name ("serverName_toolName") so calls route back correctly
// when two servers expose a tool with the same name. RegisterTools walks
// a client's currently connected servers and registers a ToolWrapper per
// tool in a tool.Registry.
package mcptool
