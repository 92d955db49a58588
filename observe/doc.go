// Package observe provides observability primitives for tool call dispatch.
//
// It is a pure instrumentation library: tracing spans around real dispatches,
// counters for cache lookups and in-flight joins, and a structured JSON logger.
// Exporter setup is the only I/O it performs.
package observe
