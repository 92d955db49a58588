package allowlist

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonwraymond/toolflight/cache"
	"github.com/jonwraymond/toolflight/config"
)

const yamlDoc = `
default_ttl: 60s
max_ttl: 10m
tools:
  - tool: read_file
    cache: true
    scope: turn
    ttl: 5s
  - tool: mcp:${SEARCH_SERVER}.query
    cache: true
    scope: session
  - tool: git_status
    dedupe: true
  - tool: write_file
    tags: [write]
`

const jsoncDoc = `{
  // shared defaults
  "default_ttl": "60s",
  "tools": [
    {"tool": "read_file", "cache": true, "ttl": "5s"},
    {"tool": "weather", "cache": true, "scope": "session"}, /* trailing comma next */
  ],
}`

func TestParse_YAML(t *testing.T) {
	t.Setenv("SEARCH_SERVER", "search")
	a, err := Parse([]byte(yamlDoc), FormatYAML)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if a.TTLFor("read_file") != 5*time.Second {
		t.Errorf("read_file ttl = %s", a.TTLFor("read_file"))
	}
	if !a.IsCacheable("mcp:search.query") || a.ScopeFor("mcp:search.query") != cache.ScopeSession {
		t.Error("expanded MCP tool should be session-cacheable")
	}
	if a.TTLFor("mcp:search.query") != time.Minute {
		t.Errorf("default ttl not applied: %s", a.TTLFor("mcp:search.query"))
	}
	if a.IsCacheable("git_status") || !a.IsDedupeable("git_status") {
		t.Error("git_status should be dedupe-only")
	}
	if a.IsCacheable("write_file") || a.IsDedupeable("write_file") {
		t.Error("write_file should be denied")
	}
	if a.MaxTTL() != 10*time.Minute {
		t.Errorf("MaxTTL() = %s", a.MaxTTL())
	}
}

func TestParse_JSONC(t *testing.T) {
	a, err := Parse([]byte(jsoncDoc), FormatJSON)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if a.Len() != 2 || a.ScopeFor("weather") != cache.ScopeSession {
		t.Errorf("unexpected entries: %+v", a.Entries())
	}
}

func TestParse_FileOverridesOptions(t *testing.T) {
	a, err := Parse([]byte("default_ttl: 1s\ntools:\n  - tool: a\n    cache: true\n"), FormatYAML,
		WithDefaultTTL(time.Hour))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if a.TTLFor("a") != time.Second {
		t.Errorf("TTLFor = %s, want file default 1s", a.TTLFor("a"))
	}

	b, err := Parse([]byte("tools:\n  - tool: a\n    cache: true\n"), FormatYAML, WithDefaultTTL(time.Hour))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if b.TTLFor("a") != time.Hour {
		t.Errorf("TTLFor = %s, want option default 1h", b.TTLFor("a"))
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name   string
		doc    string
		format Format
		want   error
	}{
		{name: "missing env", doc: "tools:\n  - tool: ${NOT_SET_ANYWHERE}\n", format: FormatYAML, want: config.ErrMissingEnv},
		{name: "unsafe cacheable", doc: "tools:\n  - tool: rm\n    cache: true\n    tags: [delete]\n", format: FormatYAML, want: ErrUnsafeTool},
		{name: "bad scope", doc: "tools:\n  - tool: a\n    scope: forever\n", format: FormatYAML, want: cache.ErrUnknownScope},
		{name: "unknown field yaml", doc: "tools:\n  - tool: a\n    cacheable: true\n", format: FormatYAML},
		{name: "unknown field json", doc: `{"tools":[{"tool":"a","cachable":true}]}`, format: FormatJSON},
		{name: "bad ttl", doc: "tools:\n  - tool: a\n    ttl: soon\n", format: FormatYAML},
		{name: "bad format", doc: "", format: Format("toml"), want: ErrUnknownFormat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc), tt.format)
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "allowlist.jsonc")
	if err := os.WriteFile(path, []byte(jsoncDoc), 0o600); err != nil {
		t.Fatal(err)
	}
	a, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !a.IsCacheable("read_file") {
		t.Error("read_file should be cacheable")
	}

	if _, err := Load(filepath.Join(dir, "allowlist.toml")); !errors.Is(err, ErrUnknownFormat) {
		t.Errorf("Load(.toml) error = %v, want ErrUnknownFormat", err)
	}
}
