package mcpbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jonwraymond/toolflight/observe"
	"github.com/jonwraymond/toolflight/toolcall"
)

const (
	// TurnMetaKey is the _meta field that carries the caller's turn id.
	TurnMetaKey = "turn_id"

	// DefaultTurn is the turn of calls that carry no turn id.
	DefaultTurn = "session"

	// DefaultSession is used when a call arrives without a client session.
	DefaultSession = "stdio"

	// maxSeenTurns bounds the turn history kept per session. A turn that has
	// fallen out of the history counts as new when it shows up again.
	maxSeenTurns = 64
)

// ProxyConfig configures a Proxy.
type ProxyConfig struct {
	Name    string
	Version string

	Backend Backend
	Manager *toolcall.Manager
	Logger  observe.Logger
}

// Proxy is an MCP server that serves a Backend's tools through per-session
// toolcall runtimes.
//
// Contract:
// - Concurrency: safe for concurrent use.
// - A turn id not seen before on a session ends the session's current turn.
//   Late calls from earlier turns and calls without a turn id end nothing.
type Proxy struct {
	backend Backend
	manager *toolcall.Manager
	logger  observe.Logger
	server  *server.MCPServer

	mu    sync.Mutex
	turns map[string]*turnLog
}

// turnLog is the current turn of one session and the turns it has seen.
type turnLog struct {
	current string
	seen    map[string]struct{}
	order   []string
}

// enter records turn and reports the turn it replaces as current, if any.
func (l *turnLog) enter(turn string) (ended string, changed bool) {
	if turn == l.current {
		return "", false
	}
	if _, old := l.seen[turn]; old {
		return "", false
	}
	if len(l.order) == maxSeenTurns {
		delete(l.seen, l.order[0])
		l.order = l.order[1:]
	}
	l.seen[turn] = struct{}{}
	l.order = append(l.order, turn)

	ended, l.current = l.current, turn
	return ended, ended != ""
}

// NewProxy creates the server and registers every backend tool.
func NewProxy(cfg ProxyConfig) (*Proxy, error) {
	if cfg.Backend == nil {
		return nil, errors.New("mcpbridge: backend is required")
	}
	if cfg.Manager == nil {
		return nil, errors.New("mcpbridge: session manager is required")
	}
	if cfg.Name == "" {
		cfg.Name = "toolflight"
	}
	if cfg.Logger == nil {
		cfg.Logger = observe.NopLogger()
	}

	p := &Proxy{
		backend: cfg.Backend,
		manager: cfg.Manager,
		logger:  cfg.Logger,
		turns:   make(map[string]*turnLog),
	}

	hooks := &server.Hooks{}
	hooks.AddOnRegisterSession(func(ctx context.Context, session server.ClientSession) {
		if err := p.OpenSession(session.SessionID()); err != nil {
			p.logger.Warn(ctx, "open session failed", observe.F("session", session.SessionID()), observe.F("error", err))
		}
	})
	hooks.AddOnUnregisterSession(func(ctx context.Context, session server.ClientSession) {
		p.EndSession(session.SessionID())
	})

	p.server = server.NewMCPServer(cfg.Name, cfg.Version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithHooks(hooks),
	)
	for _, tool := range cfg.Backend.Tools() {
		p.server.AddTool(tool, p.handle)
	}
	return p, nil
}

// Server returns the underlying MCP server.
func (p *Proxy) Server() *server.MCPServer { return p.server }

// ServeStdio serves the proxy on stdin and stdout until the client disconnects.
func (p *Proxy) ServeStdio() error {
	return server.ServeStdio(p.server)
}

// OpenSession opens the runtime for a client session. Opening an open
// session is a no-op.
func (p *Proxy) OpenSession(id string) error {
	if _, err := p.manager.Open(id); err != nil && !errors.Is(err, toolcall.ErrSessionExists) {
		return err
	}
	return nil
}

// EndSession closes the runtime of a client session.
func (p *Proxy) EndSession(id string) {
	p.mu.Lock()
	delete(p.turns, id)
	p.mu.Unlock()

	if err := p.manager.End(id); err != nil && !errors.Is(err, toolcall.ErrSessionNotFound) {
		p.logger.Warn(context.Background(), "end session failed", observe.F("session", id), observe.F("error", err))
	}
}

func (p *Proxy) handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	session := DefaultSession
	if cs := server.ClientSessionFromContext(ctx); cs != nil {
		session = cs.SessionID()
	}
	return p.call(ctx, session, req)
}

func (p *Proxy) call(ctx context.Context, session string, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rt, ok := p.manager.Get(session)
	if !ok {
		if err := p.OpenSession(session); err != nil {
			return nil, err
		}
		if rt, ok = p.manager.Get(session); !ok {
			return nil, fmt.Errorf("%w: %s", toolcall.ErrSessionNotFound, session)
		}
	}

	var args json.RawMessage
	if req.Params.Arguments != nil {
		data, err := json.Marshal(req.Params.Arguments)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
		}
		if string(data) != "null" {
			args = data
		}
	}

	call := toolcall.Call{
		ID:        uuid.NewString(),
		Tool:      p.backend.ToolName(req.Params.Name),
		Arguments: args,
		Turn:      p.advance(session, turnOf(req)),
	}
	out, err := rt.Dispatch(ctx, call)
	if err != nil {
		if kind, ok := toolcall.KindOf(err); !ok || kind == toolcall.KindAborted {
			return nil, err
		}
		return mcp.NewToolResultError(err.Error()), nil
	}

	res, err := p.backend.Result(out.Payload)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("decode result: %v", err)), nil
	}
	return res, nil
}

// advance ends the session's current turn when turn is one it has not seen.
// DefaultTurn spans the session and never replaces the current turn.
func (p *Proxy) advance(session, turn string) string {
	if turn == DefaultTurn {
		return turn
	}

	p.mu.Lock()
	tl, ok := p.turns[session]
	if !ok {
		tl = &turnLog{seen: make(map[string]struct{})}
		p.turns[session] = tl
	}
	prev, changed := tl.enter(turn)
	p.mu.Unlock()

	if changed {
		if err := p.manager.EndTurn(session, prev); err != nil && !errors.Is(err, toolcall.ErrSessionNotFound) {
			p.logger.Warn(context.Background(), "end turn failed",
				observe.F("session", session),
				observe.F("turn", prev),
				observe.F("error", err),
			)
		}
	}
	return turn
}

func turnOf(req mcp.CallToolRequest) string {
	if req.Params.Meta == nil {
		return DefaultTurn
	}
	if turn, ok := req.Params.Meta.AdditionalFields[TurnMetaKey].(string); ok && turn != "" {
		return turn
	}
	return DefaultTurn
}
