package mcpbridge

import (
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/jonwraymond/toolflight/localtools"
	"github.com/jonwraymond/toolflight/toolcall"
)

// Backend is a tool source a Proxy can serve.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Invoke receives the name returned by ToolName.
type Backend interface {
	toolcall.Dispatcher

	// Tools returns the definitions to expose, under their exposed names.
	Tools() []mcp.Tool

	// ToolName returns the name a call to exposed is dispatched and classified under.
	ToolName(exposed string) string

	// Result converts a dispatch payload into the MCP result sent to the client.
	Result(payload []byte) (*mcp.CallToolResult, error)
}

// Local serves the builtin workspace tools.
func Local(reg *localtools.Registry) Backend {
	return localBackend{reg}
}

type localBackend struct {
	*localtools.Registry
}

func (localBackend) ToolName(exposed string) string { return exposed }

func (localBackend) Result(payload []byte) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(string(payload)), nil
}
