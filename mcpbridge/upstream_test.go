package mcpbridge

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"sync/atomic"
	"testing"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jonwraymond/toolflight/health"
	"github.com/jonwraymond/toolflight/toolcall"
)

// newFakeUpstream serves Echo and Fail from an in-process MCP server.
func newFakeUpstream(t *testing.T) (*Upstream, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32

	srv := server.NewMCPServer("fake-search", "1.2.3", server.WithToolCapabilities(true))
	srv.AddTool(
		mcp.NewTool("Echo", mcp.WithString("text", mcp.Required())),
		func(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			calls.Add(1)
			return mcp.NewToolResultText(req.GetString("text", "")), nil
		},
	)
	srv.AddTool(
		mcp.NewTool("Fail"),
		func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			calls.Add(1)
			return mcp.NewToolResultError("quota exceeded"), nil
		},
	)

	c, err := client.NewInProcessClient(srv)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := c.Start(ctx); err != nil {
		t.Fatal(err)
	}
	u, err := NewUpstream(ctx, c, UpstreamConfig{Name: "search", ClientVersion: "test"})
	if err != nil {
		t.Fatalf("NewUpstream() error = %v", err)
	}
	t.Cleanup(func() { _ = u.Close() })
	return u, &calls
}

func TestUpstream_ListsTools(t *testing.T) {
	u, _ := newFakeUpstream(t)

	if u.Name() != "search" || u.ServerInfo().Name != "fake-search" {
		t.Errorf("name = %q, server = %+v", u.Name(), u.ServerInfo())
	}
	names := u.Names()
	slices.Sort(names)
	if !slices.Equal(names, []string{"mcp:search.Echo", "mcp:search.Fail"}) {
		t.Errorf("Names() = %v", names)
	}
}

func TestUpstream_Invoke(t *testing.T) {
	u, calls := newFakeUpstream(t)
	ctx := context.Background()

	payload, err := u.Invoke(ctx, "mcp:search.Echo", json.RawMessage(`{"text":"hi"}`))
	if err != nil {
		t.Fatal(err)
	}
	res, err := u.Result(payload)
	if err != nil {
		t.Fatal(err)
	}
	if got := resultText(t, res); got != "hi" || res.IsError {
		t.Errorf("result = %q, IsError = %v", got, res.IsError)
	}

	payload, err = u.Invoke(ctx, "mcp:search.Fail", nil)
	if err != nil {
		t.Fatalf("tool-level error surfaced as dispatch error: %v", err)
	}
	if res, _ := u.Result(payload); !res.IsError {
		t.Error("IsError lost in the payload")
	}

	for _, tool := range []string{"mcp:search.missing", "mcp:search.echo"} {
		if _, err := u.Invoke(ctx, tool, nil); !errors.Is(err, ErrUnknownTool) {
			t.Errorf("Invoke(%s) error = %v, want ErrUnknownTool", tool, err)
		}
	}
	if _, err := u.Invoke(ctx, "mcp:search.Echo", json.RawMessage(`[1]`)); err == nil {
		t.Error("non-object arguments accepted")
	}
	if calls.Load() != 2 {
		t.Errorf("upstream calls = %d, want 2", calls.Load())
	}
}

func TestUpstream_Checker(t *testing.T) {
	u, _ := newFakeUpstream(t)
	r := u.Checker().Check(context.Background())
	if r.Status != health.StatusHealthy {
		t.Errorf("status = %s (%s)", r.Status, r.Message)
	}
}

func TestProxy_UpstreamBackend(t *testing.T) {
	u, calls := newFakeUpstream(t)
	mgr, err := toolcall.NewManager(toolcall.ManagerConfig{Dispatcher: u})
	if err != nil {
		t.Fatal(err)
	}
	defer mgr.Close()
	p, err := NewProxy(ProxyConfig{Backend: u, Manager: mgr})
	if err != nil {
		t.Fatal(err)
	}

	// The builtin allowlist does not name mcp:search.Echo, so every call reaches the server.
	req := toolRequest("Echo", map[string]any{"text": "hello"}, "t1")
	for range 2 {
		res, err := p.call(context.Background(), "s1", req)
		if err != nil {
			t.Fatal(err)
		}
		if got := resultText(t, res); got != "hello" {
			t.Errorf("result = %q", got)
		}
	}
	if calls.Load() != 2 {
		t.Errorf("upstream calls = %d, want 2", calls.Load())
	}
}
