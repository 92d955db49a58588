package localtools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// ErrUnknownTool is returned by Invoke for a tool the registry does not hold.
var ErrUnknownTool = errors.New("localtools: unknown tool")

// Defaults.
const (
	DefaultMaxReadBytes = 256 * 1024
	DefaultMaxEntries   = 1000
	DefaultMaxMatches   = 200
)

// Config configures the builtin tools.
type Config struct {
	Root         string
	MaxReadBytes int
	MaxEntries   int
	MaxMatches   int

	// ReadOnly omits write_file.
	ReadOnly bool
}

// Tool is one workspace tool.
type Tool interface {
	Definition() mcp.Tool
	Run(ctx context.Context, args json.RawMessage) ([]byte, error)
}

// Registry dispatches calls to the builtin tools.
type Registry struct {
	resolver Resolver
	tools    map[string]Tool
	order    []string
}

// New creates a registry rooted at cfg.Root, which must be an existing directory.
func New(cfg Config) (*Registry, error) {
	resolver := Resolver{Root: cfg.Root}
	root, err := resolver.root()
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("workspace root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("workspace root %s is not a directory", root)
	}
	resolver.Root = root

	if cfg.MaxReadBytes <= 0 {
		cfg.MaxReadBytes = DefaultMaxReadBytes
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultMaxEntries
	}
	if cfg.MaxMatches <= 0 {
		cfg.MaxMatches = DefaultMaxMatches
	}

	r := &Registry{resolver: resolver, tools: make(map[string]Tool)}
	r.add(&readFile{resolver: resolver, maxBytes: cfg.MaxReadBytes})
	r.add(&listDir{resolver: resolver, maxEntries: cfg.MaxEntries})
	r.add(&grepFiles{resolver: resolver, maxMatches: cfg.MaxMatches, maxBytes: cfg.MaxReadBytes})
	if !cfg.ReadOnly {
		r.add(&writeFile{resolver: resolver})
	}
	return r, nil
}

func (r *Registry) add(t Tool) {
	name := t.Definition().Name
	r.tools[name] = t
	r.order = append(r.order, name)
}

// Root returns the absolute workspace root.
func (r *Registry) Root() string { return r.resolver.Root }

// Names returns the tool names in registration order.
func (r *Registry) Names() []string { return slices.Clone(r.order) }

// Tools returns the MCP definitions of every tool.
func (r *Registry) Tools() []mcp.Tool {
	defs := make([]mcp.Tool, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.tools[name].Definition())
	}
	return defs
}

// Invoke runs tool with args.
func (r *Registry) Invoke(ctx context.Context, tool string, args json.RawMessage) ([]byte, error) {
	t, ok := r.tools[strings.TrimSpace(tool)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, tool)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return t.Run(ctx, args)
}

// decode unmarshals args into v, treating empty arguments as {}.
func decode(args json.RawMessage, v any) error {
	if len(strings.TrimSpace(string(args))) == 0 {
		return nil
	}
	if err := json.Unmarshal(args, v); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}
