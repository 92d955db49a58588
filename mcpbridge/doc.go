// Package mcpbridge connects the toolcall runtime to the Model Context
// Protocol.
//
// Upstream is a toolcall.Dispatcher backed by an MCP server reached over
// stdio. Proxy is an MCP server that re-exposes a Backend's tools and routes
// every call through the calling session's toolcall.Runtime, so identical
// calls are cached and coalesced before they reach the backend.
//
// Upstream tools are classified under their allowlist names, mcp:<server>.<tool>.
// A call's turn is read from the request's _meta.turn_id; calls without one
// belong to a turn that lasts for the whole session.
package mcpbridge
