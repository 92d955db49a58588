package mcpbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/jonwraymond/toolflight/allowlist"
	"github.com/jonwraymond/toolflight/health"
)

// ErrUnknownTool is returned by Upstream.Invoke for a tool the server did not list.
var ErrUnknownTool = errors.New("mcpbridge: unknown upstream tool")

// UpstreamConfig describes an MCP server launched as a child process.
type UpstreamConfig struct {
	// Name is the server name in allowlist tool names. Empty uses the
	// name the server reports.
	Name    string
	Command string
	Args    []string
	Env     []string

	ClientName    string
	ClientVersion string
}

// Upstream dispatches tool calls to an MCP server.
//
// Contract:
// - Concurrency: safe for concurrent use.
// - Payloads are JSON-encoded CallToolResults; a result flagged IsError is a
//   tool answer, not a dispatch error.
type Upstream struct {
	name   string
	client *client.Client
	info   mcp.Implementation

	mu     sync.RWMutex
	tools  []mcp.Tool
	byName map[string]string // allowlist name -> upstream name
}

// DialStdio starts the configured server and initializes a session with it.
func DialStdio(ctx context.Context, cfg UpstreamConfig) (*Upstream, error) {
	if strings.TrimSpace(cfg.Command) == "" {
		return nil, errors.New("mcpbridge: upstream command is required")
	}
	c, err := client.NewStdioMCPClient(cfg.Command, cfg.Env, cfg.Args...)
	if err != nil {
		return nil, fmt.Errorf("start upstream %s: %w", cfg.Command, err)
	}
	u, err := NewUpstream(ctx, c, cfg)
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	return u, nil
}

// NewUpstream initializes a session on a started client and lists its tools.
func NewUpstream(ctx context.Context, c *client.Client, cfg UpstreamConfig) (*Upstream, error) {
	if cfg.ClientName == "" {
		cfg.ClientName = "toolflight"
	}
	req := mcp.InitializeRequest{}
	req.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	req.Params.ClientInfo = mcp.Implementation{Name: cfg.ClientName, Version: cfg.ClientVersion}

	res, err := c.Initialize(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("initialize upstream: %w", err)
	}

	name := cfg.Name
	if name == "" {
		name = res.ServerInfo.Name
	}
	u := &Upstream{name: name, client: c, info: res.ServerInfo}
	if _, err := u.Refresh(ctx); err != nil {
		return nil, err
	}
	return u, nil
}

// Name returns the server name used in allowlist tool names.
func (u *Upstream) Name() string { return u.name }

// ServerInfo returns the implementation the server reported.
func (u *Upstream) ServerInfo() mcp.Implementation { return u.info }

// Refresh re-lists the server's tools.
func (u *Upstream) Refresh(ctx context.Context) ([]mcp.Tool, error) {
	res, err := u.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("list upstream tools: %w", err)
	}
	byName := make(map[string]string, len(res.Tools))
	for _, t := range res.Tools {
		byName[allowlist.MCPTool(u.name, t.Name)] = t.Name
	}

	u.mu.Lock()
	u.tools = res.Tools
	u.byName = byName
	u.mu.Unlock()
	return res.Tools, nil
}

// Tools returns the tools listed by the server.
func (u *Upstream) Tools() []mcp.Tool {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return append([]mcp.Tool(nil), u.tools...)
}

// Names returns the allowlist names of the listed tools.
func (u *Upstream) Names() []string {
	tools := u.Tools()
	names := make([]string, 0, len(tools))
	for _, t := range tools {
		names = append(names, u.ToolName(t.Name))
	}
	return names
}

// ToolName returns the allowlist name of an upstream tool.
func (u *Upstream) ToolName(exposed string) string {
	return allowlist.MCPTool(u.name, exposed)
}

// Invoke calls tool, given by its allowlist name, on the server.
func (u *Upstream) Invoke(ctx context.Context, tool string, args json.RawMessage) ([]byte, error) {
	u.mu.RLock()
	name, ok := u.byName[allowlist.NormalizeTool(tool)]
	u.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, tool)
	}

	var arguments map[string]any
	if len(strings.TrimSpace(string(args))) > 0 {
		if err := json.Unmarshal(args, &arguments); err != nil {
			return nil, fmt.Errorf("invalid arguments: %w", err)
		}
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = name
	if arguments != nil {
		req.Params.Arguments = arguments
	}

	res, err := u.client.CallTool(ctx, req)
	if err != nil {
		return nil, err
	}
	return json.Marshal(res)
}

// Result decodes a payload produced by Invoke.
func (u *Upstream) Result(payload []byte) (*mcp.CallToolResult, error) {
	raw := json.RawMessage(payload)
	return mcp.ParseCallToolResult(&raw)
}

// Checker pings the server.
func (u *Upstream) Checker() health.Checker {
	return health.NewCheckerFunc("upstream", func(ctx context.Context) health.Result {
		if err := u.client.Ping(ctx); err != nil {
			return health.Unhealthy("upstream ping failed", err)
		}
		return health.Healthy(fmt.Sprintf("%s %s", u.info.Name, u.info.Version)).
			WithDetails(map[string]any{"tools": len(u.Tools())})
	})
}

// Close shuts the client down, stopping a server started by DialStdio.
func (u *Upstream) Close() error {
	return u.client.Close()
}

var _ Backend = (*Upstream)(nil)
