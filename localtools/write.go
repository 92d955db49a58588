package localtools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mark3labs/mcp-go/mcp"
)

type writeFile struct {
	resolver Resolver
}

func (t *writeFile) Definition() mcp.Tool {
	return mcp.NewTool("write_file",
		mcp.WithDescription("Create or overwrite a file in the workspace."),
		mcp.WithString("path",
			mcp.Required(),
			mcp.Description("Path to the file, relative to the workspace root"),
		),
		mcp.WithString("content",
			mcp.Required(),
			mcp.Description("Full file content"),
		),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(true),
	)
}

func (t *writeFile) Run(_ context.Context, args json.RawMessage) ([]byte, error) {
	var in struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	if err := decode(args, &in); err != nil {
		return nil, err
	}
	path, err := t.resolver.Resolve(in.Path)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, []byte(in.Content), 0o644); err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf("wrote %d bytes to %s", len(in.Content), t.resolver.Rel(path))), nil
}
