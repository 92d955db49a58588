package localtools

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// ErrPatternRequired is returned by grep_files without a pattern.
var ErrPatternRequired = errors.New("localtools: pattern is required")

var errMatchLimit = errors.New("match limit reached")

type grepFiles struct {
	resolver   Resolver
	maxMatches int
	maxBytes   int
}

func (t *grepFiles) Definition() mcp.Tool {
	return mcp.NewTool("grep_files",
		mcp.WithDescription("Search workspace files for lines matching a regular expression. Results are path:line:text."),
		mcp.WithString("pattern",
			mcp.Required(),
			mcp.Description("RE2 regular expression"),
		),
		mcp.WithString("path",
			mcp.Description("File or directory to search, relative to the workspace root (default: .)"),
		),
		mcp.WithString("include",
			mcp.Description("Glob matched against file names, e.g. *.go"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
	)
}

func (t *grepFiles) Run(ctx context.Context, args json.RawMessage) ([]byte, error) {
	var in struct {
		Pattern string `json:"pattern"`
		Path    string `json:"path"`
		Include string `json:"include"`
	}
	if err := decode(args, &in); err != nil {
		return nil, err
	}
	if in.Pattern == "" {
		return nil, ErrPatternRequired
	}
	re, err := regexp.Compile(in.Pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern: %w", err)
	}
	if in.Include != "" {
		if _, err := filepath.Match(in.Include, ""); err != nil {
			return nil, fmt.Errorf("invalid include: %w", err)
		}
	}
	if strings.TrimSpace(in.Path) == "" {
		in.Path = "."
	}
	root, err := t.resolver.Resolve(in.Path)
	if err != nil {
		return nil, err
	}

	var (
		b       strings.Builder
		matches int
	)
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && (d.Name() == ".git" || d.Name() == "node_modules") {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if in.Include != "" {
			if ok, _ := filepath.Match(in.Include, d.Name()); !ok {
				return nil
			}
		}
		return t.scan(path, re, func(line int, text string) error {
			if matches == t.maxMatches {
				return errMatchLimit
			}
			matches++
			fmt.Fprintf(&b, "%s:%d:%s\n", t.resolver.Rel(path), line, text)
			return nil
		})
	})
	switch {
	case errors.Is(err, errMatchLimit):
		fmt.Fprintf(&b, "[stopped after %d matches]\n", t.maxMatches)
	case err != nil:
		return nil, err
	}
	return []byte(b.String()), nil
}

// scan calls emit for every matching line of a text file no larger than maxBytes.
func (t *grepFiles) scan(path string, re *regexp.Regexp, emit func(line int, text string) error) error {
	info, err := os.Stat(path)
	if err != nil || info.Size() > int64(t.maxBytes) {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	head := data[:min(len(data), 512)]
	if bytes.IndexByte(head, 0) >= 0 {
		return nil
	}

	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), len(data)+1)
	for n := 1; sc.Scan(); n++ {
		if re.Match(sc.Bytes()) {
			if err := emit(n, sc.Text()); err != nil {
				return err
			}
		}
	}
	return nil
}
