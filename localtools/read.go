package localtools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
)

type readFile struct {
	resolver Resolver
	maxBytes int
}

func (t *readFile) Definition() mcp.Tool {
	return mcp.NewTool("read_file",
		mcp.WithDescription("Read a text file from the workspace, optionally a range of lines."),
		mcp.WithString("path",
			mcp.Required(),
			mcp.Description("Path to the file, relative to the workspace root"),
		),
		mcp.WithNumber("offset",
			mcp.Description("1-based line to start at (default: 1)"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of lines to return (default: all)"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
	)
}

func (t *readFile) Run(_ context.Context, args json.RawMessage) ([]byte, error) {
	var in struct {
		Path   string `json:"path"`
		Offset int    `json:"offset"`
		Limit  int    `json:"limit"`
	}
	if err := decode(args, &in); err != nil {
		return nil, err
	}
	path, err := t.resolver.Resolve(in.Path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, int64(t.maxBytes)+1))
	if err != nil {
		return nil, err
	}
	truncated := len(data) > t.maxBytes
	if truncated {
		data = data[:t.maxBytes]
	}

	if in.Offset > 1 || in.Limit > 0 {
		data = lineRange(data, in.Offset, in.Limit)
	}
	if truncated {
		data = append(data, fmt.Sprintf("\n[truncated at %d bytes]", t.maxBytes)...)
	}
	return data, nil
}

// lineRange returns lines [offset, offset+limit) of data, 1-based.
// A limit of zero returns everything from offset.
func lineRange(data []byte, offset, limit int) []byte {
	if offset < 1 {
		offset = 1
	}
	lines := bytes.SplitAfter(data, []byte("\n"))
	start := offset - 1
	if start >= len(lines) {
		return []byte{}
	}
	end := len(lines)
	if limit > 0 && start+limit < end {
		end = start + limit
	}
	return bytes.Join(lines[start:end], nil)
}
