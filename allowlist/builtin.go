package allowlist

import "github.com/jonwraymond/toolflight/cache"

// Builtin tool names.
const (
	ToolReadFile                 = "read_file"
	ToolListDir                  = "list_dir"
	ToolGrepFiles                = "grep_files"
	ToolViewImage                = "view_image"
	ToolSearchQuery              = "search_query"
	ToolImageQuery               = "image_query"
	ToolWeather                  = "weather"
	ToolSports                   = "sports"
	ToolFinance                  = "finance"
	ToolTime                     = "time"
	ToolListMCPResources         = "list_mcp_resources"
	ToolListMCPResourceTemplates = "list_mcp_resource_templates"
	ToolReadMCPResource          = "read_mcp_resource"
	ToolSearchToolBM25           = "search_tool_bm25"
)

// BuiltinEntries returns the default classification: workspace reads are
// reused within a turn, lookups against external read-only services are
// reused across the session. Writes and shell execution are absent.
func BuiltinEntries() []Entry {
	turn := []string{ToolReadFile, ToolListDir, ToolGrepFiles, ToolViewImage}
	session := []string{
		ToolSearchQuery, ToolImageQuery, ToolWeather, ToolSports, ToolFinance, ToolTime,
		ToolListMCPResources, ToolListMCPResourceTemplates, ToolReadMCPResource, ToolSearchToolBM25,
	}

	entries := make([]Entry, 0, len(turn)+len(session))
	for _, name := range turn {
		entries = append(entries, Entry{Tool: name, Cache: true, Scope: cache.ScopeTurn, Tags: []string{"read"}})
	}
	for _, name := range session {
		entries = append(entries, Entry{Tool: name, Cache: true, Scope: cache.ScopeSession, Tags: []string{"read"}})
	}
	return entries
}

// Builtin returns the default allowlist.
func Builtin(opts ...Option) (*Allowlist, error) {
	return New(BuiltinEntries(), opts...)
}
