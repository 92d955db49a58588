// Package localtools implements the builtin workspace tools: read_file,
// list_dir, grep_files and write_file.
//
// Every path is resolved against a workspace root and rejected if it escapes
// it. The Registry implements toolcall.Dispatcher, and Tools returns the MCP
// definitions so the tools can be served by mcpbridge.Proxy.
package localtools
