package localtools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

type listDir struct {
	resolver   Resolver
	maxEntries int
}

func (t *listDir) Definition() mcp.Tool {
	return mcp.NewTool("list_dir",
		mcp.WithDescription("List the entries of a workspace directory. Directories end with a slash."),
		mcp.WithString("path",
			mcp.Description("Directory relative to the workspace root (default: .)"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
	)
}

func (t *listDir) Run(_ context.Context, args json.RawMessage) ([]byte, error) {
	var in struct {
		Path string `json:"path"`
	}
	if err := decode(args, &in); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Path) == "" {
		in.Path = "."
	}
	path, err := t.resolver.Resolve(in.Path)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	for i, e := range entries {
		if i == t.maxEntries {
			fmt.Fprintf(&b, "... %d more entries\n", len(entries)-i)
			break
		}
		b.WriteString(e.Name())
		if e.IsDir() {
			b.WriteByte('/')
		}
		b.WriteByte('\n')
	}
	return []byte(b.String()), nil
}
